// Package sql 基于 data/db 的 SQL 事件存储（SQLite / Postgres）
package sql

import (
	"context"
	"fmt"

	"esroot/data/db"
	"esroot/data/db/dialect"
	"esroot/eventing"
	"esroot/eventing/registry"
	"esroot/logging"
)

const defaultTableName = "domain_events"

// SQLEventStore 基于通用 SQL 接口的事件存储。
//
// 追加在单个事务内完成（版本检查 + 插入），流由 (aggregate_type, aggregate_id, version) 唯一索引保护。
type SQLEventStore struct {
	db        db.IDatabase
	tableName string
	dialect   dialect.Dialect
	registry  *registry.Registry
	logger    logging.Logger
}

// Option SQLEventStore 选项
type Option func(*SQLEventStore)

// WithTableName 指定事件表名，默认 domain_events
func WithTableName(name string) Option {
	return func(s *SQLEventStore) {
		if name != "" {
			s.tableName = name
		}
	}
}

// WithRegistry 加载时按注册表把 JSON 负载还原为强类型负载
func WithRegistry(r *registry.Registry) Option {
	return func(s *SQLEventStore) { s.registry = r }
}

// WithLogger 指定日志
func WithLogger(logger logging.Logger) Option {
	return func(s *SQLEventStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewSQLEventStore(database db.IDatabase, opts ...Option) *SQLEventStore {
	s := &SQLEventStore{
		db:        database,
		tableName: defaultTableName,
		dialect:   dialect.FromDatabase(database),
		logger:    logging.ComponentLogger("eventing.store.sql"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema 创建事件表与索引（幂等）
func (s *SQLEventStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.schema() {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return eventing.StoreUnavailable("ensure schema", err)
		}
	}
	return nil
}

func (s *SQLEventStore) schema() []string {
	table := s.table()
	seq := "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect.Name() == dialect.NamePostgres {
		seq = "seq BIGSERIAL PRIMARY KEY"
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s,
	id TEXT NOT NULL UNIQUE,
	type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	version BIGINT NOT NULL,
	schema_version INTEGER NOT NULL,
	timestamp BIGINT NOT NULL,
	payload TEXT NOT NULL,
	metadata TEXT NOT NULL,
	UNIQUE (aggregate_type, aggregate_id, version)
)`, table, seq),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (timestamp)",
			s.dialect.QuoteIdentifier(s.tableName+"_timestamp_idx"), table),
	}
}

func (s *SQLEventStore) table() string { return s.dialect.QuoteIdentifier(s.tableName) }

func (s *SQLEventStore) TableName() string { return s.tableName }
