// Package memory 提供基于进程内邮箱的异步消息传输。
//
// 邮箱是无界 FIFO 队列：Publish 只入队，不阻塞也不因队列满而失败；
// 固定数量的 worker（默认 1 个）按入队顺序取出消息并依次执行处理器。
// 处理器错误不会回传给发布者，只记录日志。
package memory

import (
	"context"
	"sync"

	"esroot/logging"
	"esroot/messaging"
)

// MemoryTransport 内存异步传输
type MemoryTransport struct {
	handlers messaging.HandlerTable
	hmu      sync.RWMutex

	qmu     sync.Mutex
	cond    *sync.Cond
	queue   []messaging.IMessage
	running bool
	closing bool
	stop    func() bool

	workerCount int
	wg          sync.WaitGroup
	logger      logging.Logger
}

// Option 配置项
type Option func(*MemoryTransport)

// WithWorkers 设置 worker 数量；多于 1 个时不再保证处理顺序
func WithWorkers(n int) Option {
	return func(t *MemoryTransport) {
		if n > 0 {
			t.workerCount = n
		}
	}
}

// WithLogger 设置日志
func WithLogger(logger logging.Logger) Option {
	return func(t *MemoryTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewMemoryTransport 创建内存传输
func NewMemoryTransport(opts ...Option) *MemoryTransport {
	t := &MemoryTransport{
		handlers:    messaging.HandlerTable{},
		workerCount: 1,
		logger:      logging.ComponentLogger("messaging.transport.memory"),
	}
	t.cond = sync.NewCond(&t.qmu)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Publish 将消息放入邮箱
func (t *MemoryTransport) Publish(_ context.Context, message messaging.IMessage) error {
	t.qmu.Lock()
	defer t.qmu.Unlock()
	if !t.running || t.closing {
		return messaging.ErrTransportNotRunning
	}
	t.queue = append(t.queue, message)
	t.cond.Signal()
	return nil
}

// PublishAll 整批入队，批内顺序保持不变
func (t *MemoryTransport) PublishAll(_ context.Context, messages []messaging.IMessage) error {
	if len(messages) == 0 {
		return nil
	}
	t.qmu.Lock()
	defer t.qmu.Unlock()
	if !t.running || t.closing {
		return messaging.ErrTransportNotRunning
	}
	t.queue = append(t.queue, messages...)
	t.cond.Broadcast()
	return nil
}

// Subscribe 订阅处理器，支持 "*" 通配符
func (t *MemoryTransport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	t.hmu.Lock()
	defer t.hmu.Unlock()
	t.handlers.Add(messageType, handler)
	return nil
}

// Unsubscribe 取消订阅；已在分发中的消息不受影响
func (t *MemoryTransport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	t.hmu.Lock()
	defer t.hmu.Unlock()
	return t.handlers.Remove(messageType, handler)
}

// Stats 统计信息
func (t *MemoryTransport) Stats() messaging.TransportStats {
	t.hmu.RLock()
	count, types := t.handlers.Stats()
	t.hmu.RUnlock()

	t.qmu.Lock()
	defer t.qmu.Unlock()
	return messaging.TransportStats{
		Running:      t.running && !t.closing,
		HandlerCount: count,
		MessageTypes: types,
		QueueDepth:   len(t.queue),
		WorkerCount:  t.workerCount,
	}
}
