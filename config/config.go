// Package config 加载 esroot 的 YAML 配置
package config

import (
	"bytes"
	stdErrors "errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"esroot/errors"
	"esroot/logging"
	"esroot/patterns/retry"
)

// EnvConfigPath 配置文件路径环境变量，命令行参数优先
const EnvConfigPath = "ESROOT_CONFIG"

// Config 顶层配置
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Publisher PublisherConfig `yaml:"publisher"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Retry     RetryConfig     `yaml:"retry"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // std|console|json
}

// StoreConfig 事件存储配置
type StoreConfig struct {
	Driver          string        `yaml:"driver"` // memory|sqlite|pgx
	DSN             string        `yaml:"dsn"`
	Table           string        `yaml:"table"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	CacheSize       int           `yaml:"cache_size"` // 读缓存的事件流数，0 关闭
	CacheTTL        time.Duration `yaml:"cache_ttl"`
}

// DispatchConfig 命令分发配置
type DispatchConfig struct {
	Mode string `yaml:"mode"` // sync|async
	// DedupeTTL 按命令 ID 去重的窗口，0 关闭
	DedupeTTL  time.Duration `yaml:"dedupe_ttl"`
	DedupeSize int           `yaml:"dedupe_size"`
}

// PublisherConfig 事件发布配置
type PublisherConfig struct {
	Transport string      `yaml:"transport"` // sync|async|redis|nats
	Redis     RedisConfig `yaml:"redis"`
	NATS      NATSConfig  `yaml:"nats"`
}

// RedisConfig Redis Streams 传输
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	Group    string `yaml:"group"`
}

// NATSConfig JetStream 传输
type NATSConfig struct {
	URL           string `yaml:"url"`
	Stream        string `yaml:"stream"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Durable       string `yaml:"durable"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RetryConfig 仓储与数据库连接的重试配置；MaxAttempts 为 1 表示不重试
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// DefaultDSN 默认的 SQLite 文件，相对于当前工作目录
const DefaultDSN = "esroot.db"

// Default 默认配置：SQLite 文件存储、同步分发与发布。
// memory 驱动不跨进程保留事件，只适合测试与嵌入使用。
func Default() *Config {
	return &Config{
		Log:       LogConfig{Level: "info", Format: "std"},
		Store:     StoreConfig{Driver: "sqlite", DSN: DefaultDSN, Table: "domain_events", MaxOpenConns: 1, CacheTTL: 5 * time.Minute},
		Dispatch:  DispatchConfig{Mode: "sync", DedupeSize: 10000},
		Publisher: PublisherConfig{
			Transport: "sync",
			Redis:     RedisConfig{Stream: "esroot-events", Group: "esroot"},
			NATS:      NATSConfig{Stream: "ESROOT", SubjectPrefix: "esroot.", Durable: "esroot"},
		},
		Retry: RetryConfig{MaxAttempts: 1, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second},
	}
}

// Load 解析配置文件路径（参数优先，其次 ESROOT_CONFIG）并加载；
// 两者都为空时返回默认配置。
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewErrorWithCause(errors.ErrCodeConfig, "read config file", err).
			WithContext("path", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConfig, "load "+path)
	}
	return cfg, nil
}

// Parse 在默认配置之上解析 YAML；未知字段视为错误
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !stdErrors.Is(err, io.EOF) {
		return nil, errors.NewErrorWithCause(errors.ErrCodeConfig, "parse yaml", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验取值范围
func (c *Config) Validate() error {
	if _, ok := logging.ParseLevel(c.Log.Level); !ok {
		return invalid("log.level", c.Log.Level)
	}
	if !oneOf(c.Log.Format, "std", "console", "json") {
		return invalid("log.format", c.Log.Format)
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "pgx":
		if c.Store.DSN == "" {
			return errors.NewError(errors.ErrCodeConfig, "store.dsn is required for driver "+c.Store.Driver)
		}
	default:
		return invalid("store.driver", c.Store.Driver)
	}
	if c.Store.MaxOpenConns < 0 {
		return invalid("store.max_open_conns", fmt.Sprint(c.Store.MaxOpenConns))
	}
	if c.Store.CacheSize < 0 {
		return invalid("store.cache_size", fmt.Sprint(c.Store.CacheSize))
	}

	if !oneOf(c.Dispatch.Mode, "sync", "async") {
		return invalid("dispatch.mode", c.Dispatch.Mode)
	}
	if c.Dispatch.DedupeTTL < 0 {
		return invalid("dispatch.dedupe_ttl", c.Dispatch.DedupeTTL.String())
	}

	switch c.Publisher.Transport {
	case "sync", "async":
	case "redis":
		if c.Publisher.Redis.Addr == "" {
			return errors.NewError(errors.ErrCodeConfig, "publisher.redis.addr is required")
		}
	case "nats":
		if c.Publisher.NATS.URL == "" {
			return errors.NewError(errors.ErrCodeConfig, "publisher.nats.url is required")
		}
	default:
		return invalid("publisher.transport", c.Publisher.Transport)
	}

	if c.Retry.MaxAttempts < 1 {
		return invalid("retry.max_attempts", fmt.Sprint(c.Retry.MaxAttempts))
	}
	return nil
}

// RetryPolicy 转换为 retry.Config
func (c *Config) RetryPolicy() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = c.Retry.MaxAttempts
	if c.Retry.InitialDelay > 0 {
		cfg.InitialDelay = c.Retry.InitialDelay
	}
	if c.Retry.MaxDelay > 0 {
		cfg.MaxDelay = c.Retry.MaxDelay
	}
	return cfg
}

// LogLevel 解析后的日志级别
func (c *Config) LogLevel() logging.Level {
	level, _ := logging.ParseLevel(c.Log.Level)
	return level
}

func invalid(key, value string) error {
	return errors.NewError(errors.ErrCodeConfig, fmt.Sprintf("invalid %s: %q", key, value))
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
