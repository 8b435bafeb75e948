// Package middleware 提供命令分发专用的总线中间件
package middleware

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"esroot/logging"
	"esroot/messaging"
)

// IdempotencyConfig 去重配置
type IdempotencyConfig struct {
	TTL  time.Duration // 命令 ID 的记忆时长
	Size int           // 最多记住的命令 ID 数，<= 0 表示不限
}

// DefaultIdempotencyConfig 默认：1 小时、1 万条
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{TTL: time.Hour, Size: 10000}
}

// IdempotencyMiddleware 按命令 ID 去重。
//
// 窗口内已成功分发的命令 ID 再次出现时直接返回 nil，不再进入传输层。
// 同一 ID 的并发分发串行执行；失败的分发不记录，可以重试。
// 只作用于命令，事件原样放行。
type IdempotencyMiddleware struct {
	seen   *expirable.LRU[string, time.Time]
	logger logging.Logger

	mu       sync.Mutex
	inflight map[string]chan struct{}

	duplicates atomic.Int64
}

// NewIdempotencyMiddleware 创建去重中间件
func NewIdempotencyMiddleware(cfg IdempotencyConfig, logger logging.Logger) *IdempotencyMiddleware {
	if logger == nil {
		logger = logging.ComponentLogger("messaging.command.idempotency")
	}
	return &IdempotencyMiddleware{
		seen:     expirable.NewLRU[string, time.Time](cfg.Size, nil, cfg.TTL),
		logger:   logger,
		inflight: make(map[string]chan struct{}),
	}
}

func (m *IdempotencyMiddleware) Name() string { return "CommandIdempotency" }

func (m *IdempotencyMiddleware) Handle(ctx context.Context, message messaging.IMessage, next messaging.HandlerFunc) error {
	if !isCommand(message) || message.GetID() == "" {
		return next(ctx, message)
	}
	id := message.GetID()

	if err := m.acquire(ctx, id); err != nil {
		return err
	}
	defer m.release(id)

	if at, ok := m.seen.Get(id); ok {
		m.duplicates.Add(1)
		m.logger.Debug(ctx, "duplicate command dropped",
			logging.String("command_id", id),
			logging.String("first_seen", at.UTC().Format(time.RFC3339Nano)))
		return nil
	}

	if err := next(ctx, message); err != nil {
		return err
	}
	m.seen.Add(id, time.Now())
	return nil
}

// acquire 等待同一 ID 的在途分发结束后占位
func (m *IdempotencyMiddleware) acquire(ctx context.Context, id string) error {
	for {
		m.mu.Lock()
		wait, busy := m.inflight[id]
		if !busy {
			m.inflight[id] = make(chan struct{})
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *IdempotencyMiddleware) release(id string) {
	m.mu.Lock()
	done := m.inflight[id]
	delete(m.inflight, id)
	m.mu.Unlock()
	close(done)
}

// Duplicates 被丢弃的重复命令数
func (m *IdempotencyMiddleware) Duplicates() int64 { return m.duplicates.Load() }

// Remembered 当前记住的命令 ID 数
func (m *IdempotencyMiddleware) Remembered() int { return m.seen.Len() }

// Forget 忘记一个命令 ID，使其可以再次分发
func (m *IdempotencyMiddleware) Forget(id string) { m.seen.Remove(id) }

func isCommand(message messaging.IMessage) bool {
	k, ok := message.(messaging.IKinded)
	return ok && k.Kind() == messaging.KindCommand
}

var _ messaging.IMiddleware = (*IdempotencyMiddleware)(nil)
