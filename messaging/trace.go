package messaging

import "context"

// 链路追踪元数据键
const (
	KeyCorrelationID = "correlation_id"
	KeyCausationID   = "causation_id"
)

type traceKey int

const (
	correlationKey traceKey = iota
	causationKey
)

// WithCorrelationID 将 correlation id 放入 Context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey, id)
}

// WithCausationID 将 causation id 放入 Context
func WithCausationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, causationKey, id)
}

// CorrelationID 从 Context 读取 correlation id
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey).(string)
	return id
}

// CausationID 从 Context 读取 causation id
func CausationID(ctx context.Context) string {
	id, _ := ctx.Value(causationKey).(string)
	return id
}

// ContextFromMetadata 将消息元数据中的链路信息带入 Context
func ContextFromMetadata(ctx context.Context, md map[string]any) context.Context {
	if corr, _ := md[KeyCorrelationID].(string); corr != "" {
		ctx = WithCorrelationID(ctx, corr)
	}
	if caus, _ := md[KeyCausationID].(string); caus != "" {
		ctx = WithCausationID(ctx, caus)
	}
	return ctx
}
