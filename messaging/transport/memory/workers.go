package memory

import (
	"context"
	"fmt"

	"esroot/logging"
	"esroot/messaging"
)

// Start 启动 worker。ctx 会传给处理器；ctx 取消后停止接收新消息，已入队消息继续处理完。
func (t *MemoryTransport) Start(ctx context.Context) error {
	t.qmu.Lock()
	defer t.qmu.Unlock()
	if t.running {
		return messaging.ErrTransportRunning
	}
	t.running = true
	t.closing = false

	for i := 0; i < t.workerCount; i++ {
		t.wg.Add(1)
		go t.worker(ctx)
	}
	t.stop = context.AfterFunc(ctx, t.beginClose)
	return nil
}

// Close 停止接收新消息，等待邮箱中的消息全部处理完毕。重复调用无副作用。
func (t *MemoryTransport) Close() error {
	_, err := t.CloseWithContext(context.Background())
	return err
}

// CloseWithContext 与 Close 相同，但 ctx 结束时放弃等待，返回尚未处理的消息
func (t *MemoryTransport) CloseWithContext(ctx context.Context) ([]messaging.IMessage, error) {
	t.qmu.Lock()
	if !t.running {
		t.qmu.Unlock()
		return nil, nil
	}
	if t.stop != nil {
		t.stop()
	}
	t.qmu.Unlock()
	t.beginClose()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.qmu.Lock()
		t.running = false
		t.qmu.Unlock()
		return nil, nil
	case <-ctx.Done():
		t.qmu.Lock()
		pending := t.queue
		t.queue = nil
		t.qmu.Unlock()
		return pending, fmt.Errorf("close memory transport: %w", ctx.Err())
	}
}

func (t *MemoryTransport) beginClose() {
	t.qmu.Lock()
	t.closing = true
	t.cond.Broadcast()
	t.qmu.Unlock()
}

func (t *MemoryTransport) next() (messaging.IMessage, bool) {
	t.qmu.Lock()
	defer t.qmu.Unlock()
	for len(t.queue) == 0 && !t.closing {
		t.cond.Wait()
	}
	if len(t.queue) == 0 {
		return nil, false
	}
	msg := t.queue[0]
	t.queue[0] = nil
	t.queue = t.queue[1:]
	return msg, true
}

func (t *MemoryTransport) worker(ctx context.Context) {
	defer t.wg.Done()
	for {
		msg, ok := t.next()
		if !ok {
			return
		}
		t.dispatch(ctx, msg)
	}
}

// dispatch 依次调用处理器；错误与 panic 只记录日志，不中断后续消息
func (t *MemoryTransport) dispatch(ctx context.Context, message messaging.IMessage) {
	t.hmu.RLock()
	handlers := t.handlers.Match(message.GetType())
	t.hmu.RUnlock()

	for _, handler := range handlers {
		t.invoke(ctx, handler, message)
	}
}

func (t *MemoryTransport) invoke(ctx context.Context, handler messaging.IMessageHandler, message messaging.IMessage) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error(ctx, "message handler panicked",
				logging.String("handler", handler.Type()),
				logging.String("message_type", message.GetType()),
				logging.String("message_id", message.GetID()),
				logging.Any("panic", r))
		}
	}()

	if err := handler.Handle(ctx, message); err != nil {
		t.logger.Warn(ctx, "message handler failed",
			logging.String("handler", handler.Type()),
			logging.String("message_type", message.GetType()),
			logging.String("message_id", message.GetID()),
			logging.Error(err))
	}
}
