package store

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"esroot/eventing"
)

// AppendEvent 追加单个事件
func AppendEvent(ctx context.Context, s IEventStore, event *eventing.Event, expectedVersion uint64) error {
	if event == nil {
		return eventing.NewEventStoreError(eventing.ErrCodeInvalidEvent, "event is nil", nil)
	}
	return s.AppendEvents(ctx, event.AggregateID, []*eventing.Event{event}, expectedVersion)
}

// FindEvents 按时间顺序（版本升序）返回聚合的全部事件
func FindEvents(ctx context.Context, s IEventStore, aggregateType, aggregateID string) ([]eventing.Event, error) {
	return s.LoadEvents(ctx, aggregateType, aggregateID, 0)
}

// FindEventsReversed 返回聚合的全部事件，最新的在前
func FindEventsReversed(ctx context.Context, s IEventStore, aggregateType, aggregateID string) ([]eventing.Event, error) {
	events, err := FindEvents(ctx, s, aggregateType, aggregateID)
	if err != nil {
		return nil, err
	}
	return Reverse(events), nil
}

// Reverse 返回逆序的新切片
func Reverse(events []eventing.Event) []eventing.Event {
	out := make([]eventing.Event, len(events))
	for i, e := range events {
		out[len(events)-1-i] = e
	}
	return out
}

// AggregateExists 检查聚合是否存在，优先使用 IAggregateInspector，否则退回到 Load
func AggregateExists(ctx context.Context, s IEventStore, aggregateType, aggregateID string) (bool, error) {
	if inspector, ok := s.(IAggregateInspector); ok {
		return inspector.HasAggregate(ctx, aggregateType, aggregateID)
	}

	events, err := s.LoadEvents(ctx, aggregateType, aggregateID, 0)
	if err != nil {
		return false, err
	}
	return len(events) > 0, nil
}

// GetCurrentVersion 获取聚合当前版本，不存在时返回 (0, nil)
func GetCurrentVersion(ctx context.Context, s IEventStore, aggregateType, aggregateID string) (uint64, error) {
	if inspector, ok := s.(IAggregateInspector); ok {
		return inspector.GetAggregateVersion(ctx, aggregateType, aggregateID)
	}

	events, err := s.LoadEvents(ctx, aggregateType, aggregateID, 0)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	return events[len(events)-1].Version, nil
}

// LoadAggregates 并发加载多个聚合的事件，任一失败即取消其余加载
func LoadAggregates(ctx context.Context, s IEventStore, aggregateType string, aggregateIDs []string, concurrency int) (map[string][]eventing.Event, error) {
	if concurrency <= 0 {
		concurrency = 5
	}

	results := make(map[string][]eventing.Event, len(aggregateIDs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range aggregateIDs {
		id := id
		g.Go(func() error {
			events, err := s.LoadEvents(gctx, aggregateType, id, 0)
			if err != nil {
				return fmt.Errorf("load aggregate %s failed: %w", id, err)
			}
			mu.Lock()
			results[id] = events
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// checkBatch 校验批次：事件合法、属于同一流且版本从 expectedVersion+1 连续
func checkBatch(aggregateID string, events []*eventing.Event, expectedVersion uint64) error {
	if events[0] == nil {
		return eventing.NewEventStoreError(eventing.ErrCodeInvalidEvent, "event is nil", nil)
	}
	aggregateType := events[0].AggregateType
	for i, e := range events {
		if e == nil {
			return eventing.NewEventStoreError(eventing.ErrCodeInvalidEvent, "event is nil", nil)
		}
		if err := e.Validate(); err != nil {
			return err
		}
		if e.AggregateID != aggregateID || e.AggregateType != aggregateType {
			err := eventing.NewEventStoreError(eventing.ErrCodeInvalidEvent,
				fmt.Sprintf("event belongs to %s/%s, batch is %s/%s", e.AggregateType, e.AggregateID, aggregateType, aggregateID), nil)
			err.EventID, err.EventType = e.ID, e.Type
			return err
		}
		if want := expectedVersion + uint64(i) + 1; e.Version != want {
			err := eventing.NewEventStoreError(eventing.ErrCodeVersionSequence,
				fmt.Sprintf("expected version %d, got %d", want, e.Version), nil)
			err.EventID, err.EventType = e.ID, e.Type
			return err
		}
	}
	return nil
}
