package command

import (
	"context"
	"fmt"

	"esroot/messaging"
)

// ICommandHandler 命令处理器：声明处理的命令类型。
//
// 注册表以 == 识别处理器，实现应为指针类型。
type ICommandHandler interface {
	Name() string
	CommandTypes() []string
	Handle(ctx context.Context, cmd *Command) error
}

// HandlerFunc 由函数构造的命令处理器
type HandlerFunc struct {
	name  string
	types []string
	fn    func(ctx context.Context, cmd *Command) error
}

// NewHandlerFunc 以函数创建命令处理器
func NewHandlerFunc(name string, types []string, fn func(ctx context.Context, cmd *Command) error) *HandlerFunc {
	return &HandlerFunc{name: name, types: append([]string(nil), types...), fn: fn}
}

func (h *HandlerFunc) Name() string           { return h.name }
func (h *HandlerFunc) CommandTypes() []string { return h.types }

func (h *HandlerFunc) Handle(ctx context.Context, cmd *Command) error {
	return h.fn(ctx, cmd)
}

// handlerAdapter 把 ICommandHandler 适配为 messaging.IMessageHandler，
// 并将命令的链路信息放入 Context，使处理器产生的事件沿用
type handlerAdapter struct {
	inner ICommandHandler
}

func (a *handlerAdapter) Handle(ctx context.Context, message messaging.IMessage) error {
	cmd, ok := FromMessage(message)
	if !ok {
		return fmt.Errorf("handler %s: expected command, got %T", a.inner.Name(), message)
	}

	if corr := cmd.MetadataString(messaging.KeyCorrelationID); corr != "" {
		ctx = messaging.WithCorrelationID(ctx, corr)
	} else {
		ctx = messaging.WithCorrelationID(ctx, cmd.ID)
	}
	ctx = messaging.WithCausationID(ctx, cmd.ID)

	return a.inner.Handle(ctx, cmd)
}

func (a *handlerAdapter) Type() string { return a.inner.Name() }
