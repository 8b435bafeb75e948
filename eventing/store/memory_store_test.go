package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esroot/eventing"
)

func newEvent(aggregateID string, version uint64, eventType string) *eventing.Event {
	e := eventing.NewEvent(eventType, map[string]any{"v": version})
	e.AggregateID = aggregateID
	e.AggregateType = "Item"
	e.Version = version
	return e
}

func TestMemoryEventStore_AppendAndLoad(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEventStore()

	e1 := newEvent("a", 1, "ItemCreated")
	e2 := newEvent("a", 2, "ItemRenamed")
	require.NoError(t, s.AppendEvents(ctx, "a", []*eventing.Event{e1, e2}, 0))
	require.NoError(t, s.AppendEvents(ctx, "b", []*eventing.Event{newEvent("b", 1, "ItemCreated")}, 0))

	events, err := s.LoadEvents(ctx, "Item", "a", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, e1.ID, events[0].ID)
	assert.Equal(t, e2.ID, events[1].ID)

	t.Run("afterVersion", func(t *testing.T) {
		events, err := s.LoadEvents(ctx, "Item", "a", 1)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, uint64(2), events[0].Version)

		events, err = s.LoadEvents(ctx, "Item", "a", 5)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("其他聚合类型不可见", func(t *testing.T) {
		events, err := s.LoadEvents(ctx, "Order", "a", 0)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("返回副本", func(t *testing.T) {
		events[0].Metadata["mutated"] = true
		again, err := s.LoadEvents(ctx, "Item", "a", 0)
		require.NoError(t, err)
		assert.NotContains(t, again[0].Metadata, "mutated")

		e1.Metadata["after-append"] = true
		again, err = s.LoadEvents(ctx, "Item", "a", 0)
		require.NoError(t, err)
		assert.NotContains(t, again[0].Metadata, "after-append")
	})
}

func TestMemoryEventStore_EmptyBatch(t *testing.T) {
	s := NewMemoryEventStore()
	assert.NoError(t, s.AppendEvents(context.Background(), "a", nil, 7))
}

func TestMemoryEventStore_ConcurrencyConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEventStore()
	require.NoError(t, s.AppendEvents(ctx, "a", []*eventing.Event{newEvent("a", 1, "ItemCreated")}, 0))

	err := s.AppendEvents(ctx, "a", []*eventing.Event{newEvent("a", 1, "ItemRenamed")}, 0)
	var conflict *eventing.ConcurrencyError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, uint64(0), conflict.ExpectedVersion)
	assert.Equal(t, uint64(1), conflict.ActualVersion)
	assert.ErrorIs(t, err, eventing.ErrConcurrencyConflict)

	version, err := s.GetAggregateVersion(ctx, "Item", "a")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
}

func TestMemoryEventStore_Validation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEventStore()

	t.Run("版本不连续", func(t *testing.T) {
		err := s.AppendEvents(ctx, "a", []*eventing.Event{newEvent("a", 1, "X"), newEvent("a", 3, "X")}, 0)
		assert.ErrorIs(t, err, eventing.ErrVersionSequence)
	})

	t.Run("混入其他聚合", func(t *testing.T) {
		err := s.AppendEvents(ctx, "a", []*eventing.Event{newEvent("a", 1, "X"), newEvent("b", 2, "X")}, 0)
		assert.ErrorIs(t, err, eventing.ErrInvalidEvent)
	})

	t.Run("缺少类型", func(t *testing.T) {
		e := newEvent("a", 1, "")
		err := s.AppendEvents(ctx, "a", []*eventing.Event{e}, 0)
		assert.ErrorIs(t, err, eventing.ErrInvalidEvent)
	})

	t.Run("nil 事件", func(t *testing.T) {
		err := s.AppendEvents(ctx, "a", []*eventing.Event{nil}, 0)
		assert.ErrorIs(t, err, eventing.ErrInvalidEvent)
	})

	t.Run("全有或全无", func(t *testing.T) {
		exists, err := s.HasAggregate(ctx, "Item", "a")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestMemoryEventStore_IdempotentRetry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEventStore()

	e1 := newEvent("a", 1, "ItemCreated")
	e2 := newEvent("a", 2, "ItemRenamed")
	require.NoError(t, s.AppendEvents(ctx, "a", []*eventing.Event{e1}, 0))

	// 重试整批：已提交的 e1 被跳过，e2 追加
	require.NoError(t, s.AppendEvents(ctx, "a", []*eventing.Event{e1, e2}, 0))
	// 完全重复
	require.NoError(t, s.AppendEvents(ctx, "a", []*eventing.Event{e1, e2}, 0))

	events, err := s.LoadEvents(ctx, "Item", "a", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, e2.ID, events[1].ID)

	t.Run("同版本不同 ID 仍是冲突", func(t *testing.T) {
		err := s.AppendEvents(ctx, "a", []*eventing.Event{newEvent("a", 2, "ItemRenamed")}, 1)
		assert.ErrorIs(t, err, eventing.ErrConcurrencyConflict)
	})
}

func TestMemoryEventStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryEventStore()

	err := s.AppendEvents(ctx, "a", []*eventing.Event{newEvent("a", 1, "X")}, 0)
	assert.ErrorIs(t, err, eventing.ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.LoadEvents(ctx, "Item", "a", 0)
	assert.ErrorIs(t, err, eventing.ErrStoreUnavailable)
}

func TestMemoryEventStore_StreamEvents(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEventStore()

	old := newEvent("a", 1, "ItemCreated")
	old.Timestamp = time.Now().Add(-time.Hour)
	require.NoError(t, s.AppendEvents(ctx, "a", []*eventing.Event{old}, 0))
	require.NoError(t, s.AppendEvents(ctx, "b", []*eventing.Event{newEvent("b", 1, "ItemCreated")}, 0))
	require.NoError(t, s.AppendEvents(ctx, "a", []*eventing.Event{newEvent("a", 2, "ItemRenamed")}, 1))

	all, err := s.StreamEvents(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "a"}, []string{all[0].AggregateID, all[1].AggregateID, all[2].AggregateID})

	recent, err := s.StreamEvents(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestMemoryEventStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEventStore()

	const writers = 8
	var wg sync.WaitGroup
	var conflicts, successes int
	var mu sync.Mutex
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.AppendEvents(ctx, "a", []*eventing.Event{newEvent("a", 1, "ItemCreated")}, 0)
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, eventing.ErrConcurrencyConflict) {
				conflicts++
			} else if err == nil {
				successes++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, writers-1, conflicts)
}

func TestHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEventStore()

	for v := uint64(1); v <= 3; v++ {
		require.NoError(t, AppendEvent(ctx, s, newEvent("a", v, fmt.Sprintf("E%d", v)), v-1))
	}
	assert.Error(t, AppendEvent(ctx, s, nil, 0))

	events, err := FindEvents(ctx, s, "Item", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"E1", "E2", "E3"}, eventTypes(events))

	reversed, err := FindEventsReversed(ctx, s, "Item", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"E3", "E2", "E1"}, eventTypes(reversed))
	assert.Equal(t, []string{"E1", "E2", "E3"}, eventTypes(events), "Reverse 不修改输入")

	exists, err := AggregateExists(ctx, s, "Item", "a")
	require.NoError(t, err)
	assert.True(t, exists)

	version, err := GetCurrentVersion(ctx, s, "Item", "missing")
	require.NoError(t, err)
	assert.Zero(t, version)

	t.Run("无 inspector 时退回 Load", func(t *testing.T) {
		plain := loadOnly{s}
		exists, err := AggregateExists(ctx, plain, "Item", "a")
		require.NoError(t, err)
		assert.True(t, exists)

		version, err := GetCurrentVersion(ctx, plain, "Item", "a")
		require.NoError(t, err)
		assert.Equal(t, uint64(3), version)
	})
}

func TestLoadAggregates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEventStore()
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		require.NoError(t, AppendEvent(ctx, s, newEvent(id, 1, "ItemCreated"), 0))
	}

	res, err := LoadAggregates(ctx, s, "Item", ids, 2)
	require.NoError(t, err)
	require.Len(t, res, 4)
	for _, id := range ids {
		require.Len(t, res[id], 1)
		assert.Equal(t, id, res[id][0].AggregateID)
	}

	boom := errors.New("disk gone")
	_, err = LoadAggregates(ctx, failingLoad{err: boom}, "Item", ids, 0)
	assert.ErrorIs(t, err, boom)
}

func eventTypes(events []eventing.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

// loadOnly 隐藏 IAggregateInspector
type loadOnly struct{ IEventStore }

type failingLoad struct {
	IEventStore
	err error
}

func (f failingLoad) LoadEvents(context.Context, string, string, uint64) ([]eventing.Event, error) {
	return nil, f.err
}
