package sql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"esroot/data/db"
	"esroot/eventing"
	"esroot/logging"
)

// preparedEvent 预序列化的事件行
type preparedEvent struct {
	id            string
	typ           string
	aggregateType string
	version       uint64
	schemaVersion int
	timestamp     int64
	payloadJSON   string
	metadataJSON  string
}

func (s *SQLEventStore) AppendEvents(ctx context.Context, aggregateID string, events []*eventing.Event, expectedVersion uint64) error {
	if len(events) == 0 {
		return nil
	}

	// 序列化在事务外完成，无效事件不占用连接
	prepared, err := prepareEvents(aggregateID, events, expectedVersion)
	if err != nil {
		return err
	}

	written := 0
	err = db.WithTx(ctx, s.db, func(tx db.ITransaction) error {
		n, err := s.appendInTx(ctx, tx, aggregateID, prepared, expectedVersion)
		written = n
		return err
	})
	if err != nil {
		var storeErr *eventing.EventStoreError
		var conflict *eventing.ConcurrencyError
		if errors.As(err, &storeErr) || errors.As(err, &conflict) {
			return err
		}
		return eventing.StoreUnavailable("append events", err)
	}

	s.logger.Debug(ctx, "events appended",
		logging.AggregateType(prepared[0].aggregateType),
		logging.AggregateID(aggregateID),
		logging.Int("written", written),
		logging.Int("skipped", len(prepared)-written))
	return nil
}

func (s *SQLEventStore) appendInTx(ctx context.Context, tx db.ITransaction, aggregateID string, prepared []preparedEvent, expectedVersion uint64) (int, error) {
	aggregateType := prepared[0].aggregateType

	committed, err := s.committedIDs(ctx, tx, aggregateType, aggregateID, expectedVersion, expectedVersion+uint64(len(prepared)))
	if err != nil {
		return 0, eventing.StoreUnavailable("query committed events", err)
	}
	skipped := 0
	for _, p := range prepared {
		if committed[p.version] != p.id {
			break
		}
		skipped++
	}
	pending := prepared[skipped:]
	if len(pending) == 0 {
		return 0, nil
	}

	current, err := s.currentVersion(ctx, tx, aggregateType, aggregateID)
	if err != nil {
		return 0, eventing.StoreUnavailable("query current version", err)
	}
	if want := expectedVersion + uint64(skipped); current != want {
		return 0, eventing.NewConcurrencyError(aggregateID, want, current)
	}

	placeholders := make([]string, len(pending))
	args := make([]any, 0, len(pending)*9)
	for i, p := range pending {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			p.id, p.typ, aggregateID, p.aggregateType,
			int64(p.version), p.schemaVersion, p.timestamp,
			p.payloadJSON, p.metadataJSON,
		)
	}
	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (id, type, aggregate_id, aggregate_type, version, schema_version, timestamp, payload, metadata) VALUES %s",
		s.table(), strings.Join(placeholders, ", "),
	)
	if _, err := tx.Exec(ctx, insertSQL, args...); err != nil {
		if s.dialect.IsUniqueViolation(err) {
			// 并发写入者在版本检查之后提交了同一版本
			return 0, eventing.NewConcurrencyError(aggregateID, expectedVersion+uint64(skipped), current+1)
		}
		return 0, eventing.StoreUnavailable("insert events", err)
	}
	return len(pending), nil
}

// committedIDs 返回 (from, to] 区间内已提交事件的 version -> id
func (s *SQLEventStore) committedIDs(ctx context.Context, q db.IDatabase, aggregateType, aggregateID string, from, to uint64) (map[uint64]string, error) {
	rows, err := q.Query(ctx,
		fmt.Sprintf("SELECT version, id FROM %s WHERE aggregate_type = ? AND aggregate_id = ? AND version > ? AND version <= ?", s.table()),
		aggregateType, aggregateID, int64(from), int64(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[uint64]string)
	for rows.Next() {
		var version int64
		var id string
		if err := rows.Scan(&version, &id); err != nil {
			return nil, err
		}
		ids[uint64(version)] = id
	}
	return ids, rows.Err()
}

func (s *SQLEventStore) currentVersion(ctx context.Context, q db.IDatabase, aggregateType, aggregateID string) (uint64, error) {
	var current int64
	row := q.QueryRow(ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s WHERE aggregate_type = ? AND aggregate_id = ?", s.table()),
		aggregateType, aggregateID)
	if err := row.Scan(&current); err != nil {
		return 0, err
	}
	return uint64(current), nil
}

func prepareEvents(aggregateID string, events []*eventing.Event, expectedVersion uint64) ([]preparedEvent, error) {
	if events[0] == nil {
		return nil, eventing.NewEventStoreError(eventing.ErrCodeInvalidEvent, "event is nil", nil)
	}
	aggregateType := events[0].AggregateType

	prepared := make([]preparedEvent, 0, len(events))
	for idx, evt := range events {
		if evt == nil {
			return nil, eventing.NewEventStoreError(eventing.ErrCodeInvalidEvent, "event is nil", nil)
		}
		if err := evt.Validate(); err != nil {
			return nil, err
		}
		if evt.AggregateID != aggregateID || evt.AggregateType != aggregateType {
			return nil, invalid(evt, eventing.ErrCodeInvalidEvent, "mixed aggregates in append batch", nil)
		}
		if want := expectedVersion + uint64(idx) + 1; evt.Version != want {
			return nil, invalid(evt, eventing.ErrCodeVersionSequence,
				fmt.Sprintf("expected version %d, got %d", want, evt.Version), nil)
		}

		payloadJSON, err := json.Marshal(evt.Payload)
		if err != nil {
			return nil, invalid(evt, eventing.ErrCodeInvalidEvent, "serialize payload failed", err)
		}
		metadata := evt.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadataJSON, err := json.Marshal(metadata)
		if err != nil {
			return nil, invalid(evt, eventing.ErrCodeInvalidEvent, "serialize metadata failed", err)
		}

		prepared = append(prepared, preparedEvent{
			id:            evt.ID,
			typ:           evt.Type,
			aggregateType: evt.AggregateType,
			version:       evt.Version,
			schemaVersion: evt.GetSchemaVersion(),
			timestamp:     evt.Timestamp.UnixNano(),
			payloadJSON:   string(payloadJSON),
			metadataJSON:  string(metadataJSON),
		})
	}
	return prepared, nil
}

func invalid(evt *eventing.Event, code, msg string, cause error) *eventing.EventStoreError {
	err := eventing.NewEventStoreError(code, msg, cause)
	err.EventID = evt.ID
	err.EventType = evt.Type
	return err
}
