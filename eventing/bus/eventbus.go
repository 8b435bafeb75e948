// Package bus 事件发布器：基于 messaging.MessageBus 的类型安全包装
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"esroot/eventing"
	"esroot/eventing/monitoring"
	"esroot/eventing/registry"
	"esroot/logging"
	"esroot/messaging"
	"esroot/messaging/middleware"
	"esroot/messaging/transport/memory"
	synctransport "esroot/messaging/transport/sync"
)

// ErrBusClosed 事件总线已关闭
var ErrBusClosed = errors.New("event bus is closed")

// EventBus 事件总线。
//
// 生命周期：构造 → Start → Register/Publish → Close。
// 同步传输下处理器在发布方执行，处理器错误合并后返回；
// 异步传输下由 worker 按发布顺序执行，处理器错误只记录日志。
type EventBus struct {
	bus      *messaging.MessageBus
	logger   logging.Logger
	metrics  monitoring.Metrics
	registry *registry.Registry

	mu         sync.Mutex
	registered map[IEventHandler]*handlerAdapter
	started    bool
	closed     bool
}

// Option 事件总线配置项
type Option func(*EventBus)

// WithLogger 设置日志
func WithLogger(logger logging.Logger) Option {
	return func(b *EventBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics 设置指标
func WithMetrics(metrics monitoring.Metrics) Option {
	return func(b *EventBus) {
		if metrics != nil {
			b.metrics = metrics
		}
	}
}

// WithRegistry 远程传输送达的事件按注册表解码负载
func WithRegistry(r *registry.Registry) Option {
	return func(b *EventBus) { b.registry = r }
}

// WithMiddleware 追加总线中间件（在链路追踪之后执行）
func WithMiddleware(mws ...messaging.IMiddleware) Option {
	return func(b *EventBus) {
		for _, mw := range mws {
			b.bus.Use(mw)
		}
	}
}

// NewEventBus 基于任意传输创建事件总线
func NewEventBus(transport messaging.Transport, opts ...Option) *EventBus {
	b := &EventBus{
		bus:        messaging.NewMessageBus(transport),
		logger:     logging.ComponentLogger("eventing.bus"),
		metrics:    monitoring.Default(),
		registered: make(map[IEventHandler]*handlerAdapter),
	}
	b.bus.Use(middleware.NewTracingMiddleware())
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewSyncEventBus 同步事件总线
func NewSyncEventBus(opts ...Option) *EventBus {
	return NewEventBus(synctransport.NewSyncTransport(), opts...)
}

// NewAsyncEventBus 异步事件总线：单 worker、无界 FIFO 队列
func NewAsyncEventBus(opts ...Option) *EventBus {
	return NewEventBus(memory.NewMemoryTransport(memory.WithWorkers(1)), opts...)
}

// Start 启动底层传输；异步模式下 ctx 会传给处理器
func (b *EventBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if b.started {
		return nil
	}
	if err := b.bus.Start(ctx); err != nil {
		return err
	}
	b.started = true
	return nil
}

// Close 停止接收事件；异步模式下等待已发布的事件处理完毕
func (b *EventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.bus.Close()
}

// Register 按处理器声明的事件类型注册；已注册的处理器被忽略
func (b *EventBus) Register(ctx context.Context, handlers []IEventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, h := range handlers {
		if h == nil {
			continue
		}
		if _, ok := b.registered[h]; ok {
			continue
		}
		adapter := &handlerAdapter{inner: h, registry: b.registry}
		for _, eventType := range eventTypes(h) {
			if err := b.bus.Subscribe(ctx, eventType, adapter); err != nil {
				return fmt.Errorf("register %s for %s: %w", h.Name(), eventType, err)
			}
		}
		b.registered[h] = adapter
		b.logger.Debug(ctx, "event handler registered",
			logging.String("handler", h.Name()),
			logging.Any("event_types", eventTypes(h)))
	}
	return nil
}

// Unregister 注销处理器；只影响之后的发布，未注册的处理器被忽略
func (b *EventBus) Unregister(ctx context.Context, handlers []IEventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, h := range handlers {
		if h == nil {
			continue
		}
		adapter, ok := b.registered[h]
		if !ok {
			continue
		}
		for _, eventType := range eventTypes(h) {
			if err := b.bus.Unsubscribe(ctx, eventType, adapter); err != nil {
				return fmt.Errorf("unregister %s for %s: %w", h.Name(), eventType, err)
			}
		}
		delete(b.registered, h)
		b.logger.Debug(ctx, "event handler unregistered", logging.String("handler", h.Name()))
	}
	return nil
}

// Publish 按顺序发布事件，遇到第一个错误即停止。
//
// 发布的是事件副本，链路元数据不会写回调用方的事件。
func (b *EventBus) Publish(ctx context.Context, events []*eventing.Event) error {
	for _, evt := range events {
		if evt == nil || evt.Type == "" {
			return eventing.NewEventStoreError(eventing.ErrCodeInvalidEvent, "cannot publish event without type", nil)
		}
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBusClosed
	}

	for _, evt := range events {
		err := b.bus.Publish(ctx, evt.Clone())
		b.metrics.EventPublished(evt.Type, err == nil)
		if err != nil {
			return fmt.Errorf("publish %s %s: %w", evt.Type, evt.ID, err)
		}
		b.logger.Debug(ctx, "event published",
			logging.EventType(evt.Type),
			logging.EventID(evt.ID),
			logging.AggregateID(evt.AggregateID),
			logging.Version(evt.Version))
	}
	return nil
}

// Stats 底层传输统计
func (b *EventBus) Stats() messaging.TransportStats {
	return b.bus.Transport().Stats()
}

func eventTypes(h IEventHandler) []string {
	types := h.EventTypes()
	if len(types) == 0 {
		return []string{messaging.WildcardType}
	}
	return types
}
