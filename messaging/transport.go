package messaging

import (
	"context"
	"errors"
)

// WildcardType 订阅全部消息类型
const WildcardType = "*"

var (
	ErrTransportNotRunning = errors.New("messaging: transport is not running")
	ErrTransportRunning    = errors.New("messaging: transport is already running")
	ErrHandlerNotFound     = errors.New("messaging: handler not found")
)

// Transport 消息传输接口
type Transport interface {
	Publish(ctx context.Context, message IMessage) error
	PublishAll(ctx context.Context, messages []IMessage) error
	Subscribe(messageType string, handler IMessageHandler) error
	Unsubscribe(messageType string, handler IMessageHandler) error
	Start(ctx context.Context) error
	Close() error
	Stats() TransportStats
}

// TransportStats 传输层统计信息
type TransportStats struct {
	Running      bool     `json:"running"`
	HandlerCount int      `json:"handler_count"`
	MessageTypes []string `json:"message_types"`
	QueueDepth   int      `json:"queue_depth,omitempty"`
	WorkerCount  int      `json:"worker_count,omitempty"`
}

// HandlerTable 按消息类型索引的处理器表，供各传输实现复用。非并发安全，由调用方加锁。
type HandlerTable map[string][]IMessageHandler

// Add 追加处理器
func (t HandlerTable) Add(messageType string, handler IMessageHandler) {
	t[messageType] = append(t[messageType], handler)
}

// Remove 移除首个相同的处理器
func (t HandlerTable) Remove(messageType string, handler IMessageHandler) error {
	handlers := t[messageType]
	for i, h := range handlers {
		if h == handler {
			rest := make([]IMessageHandler, 0, len(handlers)-1)
			rest = append(rest, handlers[:i]...)
			rest = append(rest, handlers[i+1:]...)
			if len(rest) == 0 {
				delete(t, messageType)
			} else {
				t[messageType] = rest
			}
			return nil
		}
	}
	return ErrHandlerNotFound
}

// Match 返回精确匹配与通配符处理器的快照（先精确，后通配）
func (t HandlerTable) Match(messageType string) []IMessageHandler {
	exact := t[messageType]
	var wildcard []IMessageHandler
	if messageType != WildcardType {
		wildcard = t[WildcardType]
	}
	if len(exact)+len(wildcard) == 0 {
		return nil
	}
	out := make([]IMessageHandler, 0, len(exact)+len(wildcard))
	out = append(out, exact...)
	return append(out, wildcard...)
}

// Stats 汇总处理器数量与消息类型
func (t HandlerTable) Stats() (count int, types []string) {
	types = make([]string, 0, len(t))
	for mt, hs := range t {
		types = append(types, mt)
		count += len(hs)
	}
	return count, types
}
