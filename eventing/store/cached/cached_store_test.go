package cached

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esroot/eventing"
	"esroot/eventing/store"
)

// countingStore 统计底层读取次数
type countingStore struct {
	*store.MemoryEventStore
	loads int
}

func (s *countingStore) LoadEvents(ctx context.Context, aggregateType, aggregateID string, afterVersion uint64) ([]eventing.Event, error) {
	s.loads++
	return s.MemoryEventStore.LoadEvents(ctx, aggregateType, aggregateID, afterVersion)
}

// hookedStore 在第一次底层加载返回前执行 afterLoad
type hookedStore struct {
	*store.MemoryEventStore
	afterLoad func()
}

func (s *hookedStore) LoadEvents(ctx context.Context, aggregateType, aggregateID string, afterVersion uint64) ([]eventing.Event, error) {
	events, err := s.MemoryEventStore.LoadEvents(ctx, aggregateType, aggregateID, afterVersion)
	if hook := s.afterLoad; hook != nil {
		s.afterLoad = nil
		hook()
	}
	return events, err
}

func newEvent(aggregateID string, version uint64, eventType string) *eventing.Event {
	e := eventing.NewEvent(eventType, map[string]any{"v": version})
	e.AggregateID = aggregateID
	e.AggregateType = "Item"
	e.Version = version
	return e
}

func newStore(t *testing.T, cfg Config) (*EventStore, *countingStore) {
	t.Helper()
	inner := &countingStore{MemoryEventStore: store.NewMemoryEventStore()}
	ctx := context.Background()
	require.NoError(t, inner.AppendEvents(ctx, "a", []*eventing.Event{
		newEvent("a", 1, "ItemCreated"),
		newEvent("a", 2, "ItemRenamed"),
	}, 0))
	return NewEventStore(inner, cfg), inner
}

func TestEventStore_LoadCaches(t *testing.T) {
	ctx := context.Background()
	s, inner := newStore(t, DefaultConfig())

	first, err := s.LoadEvents(ctx, "Item", "a", 0)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := s.LoadEvents(ctx, "Item", "a", 0)
	require.NoError(t, err)
	assert.Equal(t, first[1].ID, second[1].ID)
	assert.Equal(t, 1, inner.loads)
	assert.Equal(t, Stats{Hits: 1, Misses: 1}, s.Stats())

	t.Run("命中时按版本截取", func(t *testing.T) {
		events, err := s.LoadEvents(ctx, "Item", "a", 1)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, uint64(2), events[0].Version)
		assert.Equal(t, 1, inner.loads)
	})

	t.Run("返回副本", func(t *testing.T) {
		second[0].Metadata["mutated"] = true
		again, err := s.LoadEvents(ctx, "Item", "a", 0)
		require.NoError(t, err)
		assert.NotContains(t, again[0].Metadata, "mutated")
	})

	t.Run("检查器走缓存", func(t *testing.T) {
		ok, err := s.HasAggregate(ctx, "Item", "a")
		require.NoError(t, err)
		assert.True(t, ok)

		v, err := s.GetAggregateVersion(ctx, "Item", "a")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), v)
	})
}

func TestEventStore_EmptyStreamNotCached(t *testing.T) {
	ctx := context.Background()
	s, inner := newStore(t, DefaultConfig())

	for i := 0; i < 2; i++ {
		events, err := s.LoadEvents(ctx, "Item", "missing", 0)
		require.NoError(t, err)
		assert.Empty(t, events)
	}
	assert.Equal(t, 2, inner.loads)
	assert.Equal(t, 0, s.Len())

	ok, err := s.HasAggregate(ctx, "Item", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEventStore_AppendInvalidates(t *testing.T) {
	ctx := context.Background()
	s, inner := newStore(t, DefaultConfig())

	_, err := s.LoadEvents(ctx, "Item", "a", 0)
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())

	require.NoError(t, s.AppendEvents(ctx, "a", []*eventing.Event{newEvent("a", 3, "ItemRenamed")}, 2))
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, int64(1), s.Stats().Invalidations)

	events, err := s.LoadEvents(ctx, "Item", "a", 0)
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Equal(t, 2, inner.loads)

	t.Run("冲突同样失效", func(t *testing.T) {
		require.Equal(t, 1, s.Len())
		err := s.AppendEvents(ctx, "a", []*eventing.Event{newEvent("a", 2, "ItemRenamed")}, 1)
		assert.ErrorIs(t, err, eventing.ErrConcurrencyConflict)
		assert.Equal(t, 0, s.Len())
	})
}

func TestEventStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s, inner := newStore(t, Config{Size: 10, TTL: 20 * time.Millisecond})

	_, err := s.LoadEvents(ctx, "Item", "a", 0)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 10*time.Millisecond)

	_, err = s.LoadEvents(ctx, "Item", "a", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.loads)
}

func TestEventStore_Eviction(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, Config{Size: 1})
	require.NoError(t, s.AppendEvents(ctx, "b", []*eventing.Event{newEvent("b", 1, "ItemCreated")}, 0))

	_, err := s.LoadEvents(ctx, "Item", "a", 0)
	require.NoError(t, err)
	_, err = s.LoadEvents(ctx, "Item", "b", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	s.Invalidate("Item", "b")
	assert.Equal(t, 0, s.Len())
}

func TestEventStore_AppendDuringLoadNotCachedStale(t *testing.T) {
	ctx := context.Background()
	inner := &hookedStore{MemoryEventStore: store.NewMemoryEventStore()}
	require.NoError(t, inner.AppendEvents(ctx, "a", []*eventing.Event{newEvent("a", 1, "ItemCreated")}, 0))
	s := NewEventStore(inner, DefaultConfig())

	inner.afterLoad = func() {
		require.NoError(t, s.AppendEvents(ctx, "a", []*eventing.Event{newEvent("a", 2, "ItemRenamed")}, 1))
	}

	first, err := s.LoadEvents(ctx, "Item", "a", 0)
	require.NoError(t, err)
	assert.Len(t, first, 1, "加载结果是追加前读到的")
	assert.Equal(t, 0, s.Len(), "与追加交错的加载不写回缓存")

	again, err := s.LoadEvents(ctx, "Item", "a", 0)
	require.NoError(t, err)
	assert.Len(t, again, 2)

	v, err := s.GetAggregateVersion(ctx, "Item", "a")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)

	t.Run("Invalidate 同样使回填失效", func(t *testing.T) {
		s.Invalidate("Item", "a")
		inner.afterLoad = func() { s.Invalidate("Item", "a") }
		_, err := s.LoadEvents(ctx, "Item", "a", 0)
		require.NoError(t, err)
		assert.Equal(t, 0, s.Len())
	})
}
