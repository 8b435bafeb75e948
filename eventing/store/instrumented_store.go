package store

import (
	"context"
	"errors"
	"time"

	"esroot/eventing"
	"esroot/eventing/monitoring"
)

// InstrumentedEventStore 记录追加/加载耗时、追加数量与失败次数
type InstrumentedEventStore struct {
	inner   IEventStore
	metrics monitoring.Metrics
}

// NewInstrumentedEventStore metrics 为 nil 时使用 monitoring.Default()
func NewInstrumentedEventStore(inner IEventStore, metrics monitoring.Metrics) *InstrumentedEventStore {
	if metrics == nil {
		metrics = monitoring.Default()
	}
	return &InstrumentedEventStore{inner: inner, metrics: metrics}
}

func (s *InstrumentedEventStore) AppendEvents(ctx context.Context, aggregateID string, events []*eventing.Event, expectedVersion uint64) error {
	if len(events) == 0 {
		return s.inner.AppendEvents(ctx, aggregateID, events, expectedVersion)
	}
	aggregateType := ""
	if events[0] != nil {
		aggregateType = events[0].AggregateType
	}

	timer := s.metrics.StoreAppendDuration(aggregateType)
	err := s.inner.AppendEvents(ctx, aggregateID, events, expectedVersion)
	timer.ObserveDuration()

	if err != nil {
		// 并发冲突由仓储计数
		if !errors.Is(err, eventing.ErrConcurrencyConflict) {
			s.metrics.StoreError(aggregateType, "append")
		}
		return err
	}
	s.metrics.EventsAppended(aggregateType, len(events))
	return nil
}

func (s *InstrumentedEventStore) LoadEvents(ctx context.Context, aggregateType, aggregateID string, afterVersion uint64) ([]eventing.Event, error) {
	timer := s.metrics.StoreLoadDuration(aggregateType)
	events, err := s.inner.LoadEvents(ctx, aggregateType, aggregateID, afterVersion)
	timer.ObserveDuration()

	if err != nil {
		s.metrics.StoreError(aggregateType, "load")
		return nil, err
	}
	s.metrics.EventsLoaded(aggregateType, len(events))
	return events, nil
}

func (s *InstrumentedEventStore) HasAggregate(ctx context.Context, aggregateType, aggregateID string) (bool, error) {
	return AggregateExists(ctx, s.inner, aggregateType, aggregateID)
}

func (s *InstrumentedEventStore) GetAggregateVersion(ctx context.Context, aggregateType, aggregateID string) (uint64, error) {
	return GetCurrentVersion(ctx, s.inner, aggregateType, aggregateID)
}

func (s *InstrumentedEventStore) StreamEvents(ctx context.Context, from time.Time) ([]eventing.Event, error) {
	if streamer, ok := s.inner.(IEventStreamStore); ok {
		return streamer.StreamEvents(ctx, from)
	}
	return []eventing.Event{}, nil
}

var (
	_ IEventStreamStore   = (*InstrumentedEventStore)(nil)
	_ IAggregateInspector = (*InstrumentedEventStore)(nil)
)
