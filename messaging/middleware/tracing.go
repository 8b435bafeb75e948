// Package middleware 提供消息总线中间件
package middleware

import (
	"context"

	"esroot/messaging"
)

// TracingMiddleware 注入并传播 correlation_id / causation_id
//
// 规则：
//   - command：缺失 correlation_id 时优先继承 Context，否则使用自身 ID；causation_id 同理
//   - event：缺失时从 Context 继承，仍缺失则使用自身 ID
//   - 已存在的值不覆盖
type TracingMiddleware struct{}

func NewTracingMiddleware() *TracingMiddleware { return &TracingMiddleware{} }

func (m *TracingMiddleware) Name() string { return "Tracing" }

func (m *TracingMiddleware) Handle(ctx context.Context, message messaging.IMessage, next messaging.HandlerFunc) error {
	if message == nil {
		return next(ctx, message)
	}

	md := message.GetMetadata()
	msgID := message.GetID()

	fill(md, messaging.KeyCorrelationID, messaging.CorrelationID(ctx), msgID)
	fill(md, messaging.KeyCausationID, messaging.CausationID(ctx), msgID)

	if k, ok := message.(messaging.IKinded); ok && k.Kind() == messaging.KindCommand {
		ctx = messaging.WithCorrelationID(ctx, md[messaging.KeyCorrelationID].(string))
	}
	return next(ctx, message)
}

func fill(md map[string]any, key, inherited, fallback string) {
	if v, ok := md[key].(string); ok && v != "" {
		return
	}
	if inherited != "" {
		md[key] = inherited
		return
	}
	md[key] = fallback
}
