// Package sync 提供同步消息传输：Publish 在调用方 goroutine 中依次执行全部匹配处理器
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"esroot/messaging"
)

// SyncTransport 同步内存传输
type SyncTransport struct {
	handlers messaging.HandlerTable
	mutex    sync.RWMutex
	running  bool
}

// NewSyncTransport 创建同步传输
func NewSyncTransport() *SyncTransport {
	return &SyncTransport{handlers: messaging.HandlerTable{}}
}

// Publish 同步执行处理器；处理器集合在分发开始时确定，所有处理器都会执行，错误合并返回
func (t *SyncTransport) Publish(ctx context.Context, message messaging.IMessage) error {
	t.mutex.RLock()
	if !t.running {
		t.mutex.RUnlock()
		return messaging.ErrTransportNotRunning
	}
	handlers := t.handlers.Match(message.GetType())
	t.mutex.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler.Handle(ctx, message); err != nil {
			errs = append(errs, fmt.Errorf("handler %s: %w", handler.Type(), err))
		}
	}
	return errors.Join(errs...)
}

// PublishAll 按顺序发布，遇错即停
func (t *SyncTransport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for _, message := range messages {
		if err := t.Publish(ctx, message); err != nil {
			return fmt.Errorf("publish message %s: %w", message.GetID(), err)
		}
	}
	return nil
}

func (t *SyncTransport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.handlers.Add(messageType, handler)
	return nil
}

func (t *SyncTransport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.handlers.Remove(messageType, handler)
}

func (t *SyncTransport) Start(context.Context) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.running {
		return messaging.ErrTransportRunning
	}
	t.running = true
	return nil
}

// Close 停止传输，重复调用无副作用
func (t *SyncTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.running = false
	return nil
}

func (t *SyncTransport) Stats() messaging.TransportStats {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	count, types := t.handlers.Stats()
	return messaging.TransportStats{
		Running:      t.running,
		HandlerCount: count,
		MessageTypes: types,
	}
}
