package store

import (
	"context"
	"time"

	"esroot/eventing"
	"esroot/messaging"
)

// TracingEventStore 带追踪的事件存储装饰器。
//
// 追加前把 Context 中的 correlation_id、causation_id 写入事件元数据（已存在的键不覆盖）。
// 写入的是副本，调用方持有的事件不被修改。
//
//	ctx = messaging.WithCorrelationID(ctx, "cor-123")
//	ctx = messaging.WithCausationID(ctx, "cmd-456")
//	err := store.NewTracingEventStore(base).AppendEvents(ctx, id, events, 0)
type TracingEventStore struct {
	inner IEventStore
}

// NewTracingEventStore 创建带追踪的事件存储
func NewTracingEventStore(inner IEventStore) *TracingEventStore {
	return &TracingEventStore{inner: inner}
}

// AppendEvents 追加事件（自动注入追踪 ID）
func (s *TracingEventStore) AppendEvents(ctx context.Context, aggregateID string, events []*eventing.Event, expectedVersion uint64) error {
	correlationID := messaging.CorrelationID(ctx)
	causationID := messaging.CausationID(ctx)
	if correlationID == "" && causationID == "" {
		return s.inner.AppendEvents(ctx, aggregateID, events, expectedVersion)
	}

	traced := make([]*eventing.Event, len(events))
	for i, e := range events {
		if e == nil {
			continue
		}
		cp := e.Clone()
		if cp.Metadata == nil {
			cp.Metadata = make(map[string]any)
		}
		if _, ok := cp.Metadata[messaging.KeyCorrelationID]; !ok && correlationID != "" {
			cp.Metadata[messaging.KeyCorrelationID] = correlationID
		}
		if _, ok := cp.Metadata[messaging.KeyCausationID]; !ok && causationID != "" {
			cp.Metadata[messaging.KeyCausationID] = causationID
		}
		traced[i] = cp
	}
	return s.inner.AppendEvents(ctx, aggregateID, traced, expectedVersion)
}

func (s *TracingEventStore) LoadEvents(ctx context.Context, aggregateType, aggregateID string, afterVersion uint64) ([]eventing.Event, error) {
	return s.inner.LoadEvents(ctx, aggregateType, aggregateID, afterVersion)
}

func (s *TracingEventStore) HasAggregate(ctx context.Context, aggregateType, aggregateID string) (bool, error) {
	return AggregateExists(ctx, s.inner, aggregateType, aggregateID)
}

func (s *TracingEventStore) GetAggregateVersion(ctx context.Context, aggregateType, aggregateID string) (uint64, error) {
	return GetCurrentVersion(ctx, s.inner, aggregateType, aggregateID)
}

// StreamEvents 内层不支持全局流时返回空结果
func (s *TracingEventStore) StreamEvents(ctx context.Context, from time.Time) ([]eventing.Event, error) {
	if streamer, ok := s.inner.(IEventStreamStore); ok {
		return streamer.StreamEvents(ctx, from)
	}
	return []eventing.Event{}, nil
}

var (
	_ IEventStreamStore   = (*TracingEventStore)(nil)
	_ IAggregateInspector = (*TracingEventStore)(nil)
)
