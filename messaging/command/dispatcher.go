package command

import (
	"context"
	"fmt"
	"sync"

	"esroot/logging"
	"esroot/messaging"
	"esroot/messaging/middleware"
	"esroot/messaging/transport/memory"
	synctransport "esroot/messaging/transport/sync"
)

// Dispatcher 命令分发器。
//
// 命令按类型路由到已注册的处理器；没有处理器的命令被静默丢弃。
// 同步模式下处理器在调用方执行，错误返回给调用方；
// 异步模式下由单个 worker 按提交顺序执行，错误只记录日志。
type Dispatcher struct {
	bus    *messaging.MessageBus
	logger logging.Logger

	mu         sync.Mutex
	registered map[ICommandHandler]*handlerAdapter
	started    bool
	closed     bool
}

// Option 分发器配置项
type Option func(*Dispatcher)

// WithLogger 设置日志
func WithLogger(logger logging.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMiddleware 追加总线中间件（在链路追踪之后执行）
func WithMiddleware(mws ...messaging.IMiddleware) Option {
	return func(d *Dispatcher) {
		for _, mw := range mws {
			d.bus.Use(mw)
		}
	}
}

// NewDispatcher 基于任意传输创建分发器
func NewDispatcher(transport messaging.Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		bus:        messaging.NewMessageBus(transport),
		logger:     logging.ComponentLogger("messaging.command.dispatcher"),
		registered: make(map[ICommandHandler]*handlerAdapter),
	}
	d.bus.Use(middleware.NewTracingMiddleware())
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewSyncDispatcher 同步分发器
func NewSyncDispatcher(opts ...Option) *Dispatcher {
	return NewDispatcher(synctransport.NewSyncTransport(), opts...)
}

// NewAsyncDispatcher 异步分发器：单 worker、无界 FIFO 队列
func NewAsyncDispatcher(opts ...Option) *Dispatcher {
	return NewDispatcher(memory.NewMemoryTransport(memory.WithWorkers(1)), opts...)
}

// Start 启动底层传输；异步模式下 ctx 会传给处理器
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return NewCommandError(ErrCodeDispatcherClosed, "dispatcher is closed", nil)
	}
	if d.started {
		return nil
	}
	if err := d.bus.Start(ctx); err != nil {
		return err
	}
	d.started = true
	return nil
}

// Close 停止接收命令；异步模式下等待已提交的命令执行完毕
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	return d.bus.Close()
}

// Register 注册处理器；已注册的处理器被忽略
func (d *Dispatcher) Register(ctx context.Context, handlers []ICommandHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, h := range handlers {
		if h == nil {
			continue
		}
		if _, ok := d.registered[h]; ok {
			continue
		}
		adapter := &handlerAdapter{inner: h}
		for _, commandType := range h.CommandTypes() {
			if err := d.bus.Subscribe(ctx, commandType, adapter); err != nil {
				return fmt.Errorf("register %s for %s: %w", h.Name(), commandType, err)
			}
		}
		d.registered[h] = adapter
		d.logger.Debug(ctx, "command handler registered",
			logging.String("handler", h.Name()),
			logging.Any("command_types", h.CommandTypes()))
	}
	return nil
}

// Unregister 注销处理器；只影响之后的分发，未注册的处理器被忽略
func (d *Dispatcher) Unregister(ctx context.Context, handlers []ICommandHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, h := range handlers {
		if h == nil {
			continue
		}
		adapter, ok := d.registered[h]
		if !ok {
			continue
		}
		for _, commandType := range h.CommandTypes() {
			if err := d.bus.Unsubscribe(ctx, commandType, adapter); err != nil {
				return fmt.Errorf("unregister %s for %s: %w", h.Name(), commandType, err)
			}
		}
		delete(d.registered, h)
		d.logger.Debug(ctx, "command handler unregistered", logging.String("handler", h.Name()))
	}
	return nil
}

// Dispatch 按顺序分发命令，遇到第一个错误即停止。
// 整批命令先全部校验，任一无效则一条都不分发。
func (d *Dispatcher) Dispatch(ctx context.Context, commands []*Command) error {
	for _, cmd := range commands {
		if err := cmd.Validate(); err != nil {
			return err
		}
	}

	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return NewCommandError(ErrCodeDispatcherClosed, "dispatcher is closed", nil)
	}

	for _, cmd := range commands {
		d.logger.Debug(ctx, "dispatching command",
			logging.CommandType(cmd.Type),
			logging.String("command_id", cmd.ID),
			logging.AggregateID(cmd.AggregateID))
		if err := d.bus.Publish(ctx, cmd); err != nil {
			return NewCommandError(ErrCodeDispatchFailed, "dispatch "+cmd.ID, err).withType(cmd.Type)
		}
	}
	return nil
}

// Stats 底层传输统计
func (d *Dispatcher) Stats() messaging.TransportStats {
	return d.bus.Transport().Stats()
}
