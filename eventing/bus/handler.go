package bus

import (
	"context"
	"fmt"

	"esroot/eventing"
	"esroot/eventing/registry"
	"esroot/messaging"
)

// IEventHandler 事件处理器：声明处理的事件类型（"*" 表示全部）。
//
// 注册表以 == 识别处理器，实现应为指针类型。
type IEventHandler interface {
	Name() string
	EventTypes() []string
	HandleEvent(ctx context.Context, evt *eventing.Event) error
}

// HandlerFunc 由函数构造的事件处理器
type HandlerFunc struct {
	name  string
	types []string
	fn    func(ctx context.Context, evt *eventing.Event) error
}

// NewHandlerFunc 以函数创建事件处理器；types 为空时订阅全部事件
func NewHandlerFunc(name string, types []string, fn func(ctx context.Context, evt *eventing.Event) error) *HandlerFunc {
	if len(types) == 0 {
		types = []string{messaging.WildcardType}
	}
	return &HandlerFunc{name: name, types: append([]string(nil), types...), fn: fn}
}

func (h *HandlerFunc) Name() string         { return h.name }
func (h *HandlerFunc) EventTypes() []string { return h.types }

func (h *HandlerFunc) HandleEvent(ctx context.Context, evt *eventing.Event) error {
	return h.fn(ctx, evt)
}

// handlerAdapter 把 IEventHandler 适配为 messaging.IMessageHandler。
//
// 远程传输送达的是 *messaging.Message，这里按元数据还原为事件，并按注册表解码负载；
// 事件的链路信息放入 Context，处理器发出的命令以该事件为因。
type handlerAdapter struct {
	inner    IEventHandler
	registry *registry.Registry
}

func (a *handlerAdapter) Handle(ctx context.Context, message messaging.IMessage) error {
	evt, ok := eventing.FromMessage(message)
	if !ok {
		return fmt.Errorf("handler %s: expected event, got %T", a.inner.Name(), message)
	}

	if a.registry != nil {
		if _, remote := message.(*messaging.Message); remote {
			payload, err := a.registry.Decode(evt.Type, evt.Payload)
			if err != nil {
				return fmt.Errorf("handler %s: %w", a.inner.Name(), err)
			}
			evt.Payload = payload
		}
	}

	ctx = messaging.ContextFromMetadata(ctx, evt.Metadata)
	ctx = messaging.WithCausationID(ctx, evt.ID)
	return a.inner.HandleEvent(ctx, evt)
}

func (a *handlerAdapter) Type() string { return a.inner.Name() }
