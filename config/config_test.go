package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esroot/errors"
	"esroot/logging"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, DefaultDSN, cfg.Store.DSN)
	assert.Equal(t, "sync", cfg.Dispatch.Mode)
	assert.Equal(t, "sync", cfg.Publisher.Transport)
	assert.Equal(t, logging.InfoLevel, cfg.LogLevel())
	assert.Equal(t, 1, cfg.RetryPolicy().MaxAttempts)
}

func TestParse(t *testing.T) {
	data := []byte(`
log:
  level: debug
  format: json
store:
  driver: sqlite
  dsn: file:events.db
  max_open_conns: 1
  cache_size: 64
dispatch:
  mode: async
  dedupe_ttl: 1m
publisher:
  transport: redis
  redis:
    addr: localhost:6379
retry:
  max_attempts: 4
  initial_delay: 20ms
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, logging.DebugLevel, cfg.LogLevel())
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "domain_events", cfg.Store.Table, "未设置的字段保留默认值")
	assert.Equal(t, 64, cfg.Store.CacheSize)
	assert.Equal(t, 5*time.Minute, cfg.Store.CacheTTL)
	assert.Equal(t, "async", cfg.Dispatch.Mode)
	assert.Equal(t, time.Minute, cfg.Dispatch.DedupeTTL)
	assert.Equal(t, "localhost:6379", cfg.Publisher.Redis.Addr)
	assert.Equal(t, "esroot-events", cfg.Publisher.Redis.Stream)

	policy := cfg.RetryPolicy()
	assert.Equal(t, 4, policy.MaxAttempts)
	assert.Equal(t, 20*time.Millisecond, policy.InitialDelay)
	assert.Equal(t, time.Second, policy.MaxDelay)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"未知字段", "store:\n  drvier: sqlite\n"},
		{"未知驱动", "store:\n  driver: oracle\n"},
		{"缺少 DSN", "store:\n  driver: pgx\n  dsn: \"\"\n"},
		{"无效日志级别", "log:\n  level: loud\n"},
		{"无效日志格式", "log:\n  format: xml\n"},
		{"无效分发模式", "dispatch:\n  mode: parallel\n"},
		{"redis 缺少地址", "publisher:\n  transport: redis\n"},
		{"nats 缺少地址", "publisher:\n  transport: nats\n"},
		{"重试次数", "retry:\n  max_attempts: 0\n"},
		{"缓存大小为负", "store:\n  cache_size: -1\n"},
		{"去重窗口为负", "dispatch:\n  dedupe_ttl: -1s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.IsErrorCode(err, errors.ErrCodeConfig), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "esroot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dispatch:\n  mode: async\n"), 0o600))

	t.Run("显式路径", func(t *testing.T) {
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "async", cfg.Dispatch.Mode)
	})

	t.Run("环境变量", func(t *testing.T) {
		t.Setenv(EnvConfigPath, path)
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "async", cfg.Dispatch.Mode)
	})

	t.Run("参数优先于环境变量", func(t *testing.T) {
		t.Setenv(EnvConfigPath, filepath.Join(dir, "missing.yaml"))
		_, err := Load(path)
		require.NoError(t, err)
	})

	t.Run("都为空时使用默认值", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "sync", cfg.Dispatch.Mode)
	})

	t.Run("文件不存在", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "missing.yaml"))
		assert.True(t, errors.IsErrorCode(err, errors.ErrCodeConfig))
	})
}
