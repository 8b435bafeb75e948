package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esroot/eventing"
	"esroot/eventing/monitoring"
	"esroot/eventing/registry"
	"esroot/logging"
	"esroot/messaging"
)

type recorder struct {
	mu     sync.Mutex
	events []*eventing.Event
	ctxs   []context.Context
}

func (r *recorder) handler(name string, types ...string) *HandlerFunc {
	return NewHandlerFunc(name, types, func(ctx context.Context, evt *eventing.Event) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, evt)
		r.ctxs = append(r.ctxs, ctx)
		return nil
	})
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func newEvent(eventType string, version uint64) *eventing.Event {
	e := eventing.NewEvent(eventType, map[string]any{"version": version})
	e.AggregateID = "item-1"
	e.AggregateType = "Item"
	e.Version = version
	return e
}

func startSync(t *testing.T, opts ...Option) *EventBus {
	t.Helper()
	opts = append([]Option{WithLogger(logging.NewNoopLogger())}, opts...)
	b := NewSyncEventBus(opts...)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestEventBus_PublishRoutesByType(t *testing.T) {
	ctx := context.Background()
	b := startSync(t)

	var created, all recorder
	require.NoError(t, b.Register(ctx, []IEventHandler{
		created.handler("created", "ItemCreated"),
		all.handler("all"),
	}))

	require.NoError(t, b.Publish(ctx, []*eventing.Event{newEvent("ItemCreated", 1), newEvent("ItemRenamed", 2)}))

	assert.Equal(t, []string{"ItemCreated"}, created.types())
	assert.Equal(t, []string{"ItemCreated", "ItemRenamed"}, all.types())
}

func TestEventBus_RegisterUnregister(t *testing.T) {
	ctx := context.Background()
	b := startSync(t)

	var r recorder
	h := r.handler("h", "ItemRenamed")
	require.NoError(t, b.Register(ctx, []IEventHandler{h, h}))
	assert.Equal(t, 1, b.Stats().HandlerCount, "重复注册被忽略")

	require.NoError(t, b.Publish(ctx, []*eventing.Event{newEvent("ItemRenamed", 1)}))
	require.NoError(t, b.Unregister(ctx, []IEventHandler{h}))
	require.NoError(t, b.Unregister(ctx, []IEventHandler{h}), "未注册的处理器被忽略")
	require.NoError(t, b.Publish(ctx, []*eventing.Event{newEvent("ItemRenamed", 2)}))
	require.NoError(t, b.Register(ctx, []IEventHandler{h}))
	require.NoError(t, b.Publish(ctx, []*eventing.Event{newEvent("ItemRenamed", 3)}))

	require.Len(t, r.events, 2)
	assert.Equal(t, uint64(1), r.events[0].Version)
	assert.Equal(t, uint64(3), r.events[1].Version)
}

func TestEventBus_SyncHandlerErrorsAreReturned(t *testing.T) {
	ctx := context.Background()
	counters := monitoring.NewCounters()
	b := startSync(t, WithMetrics(counters))

	boom := errors.New("boom")
	var after recorder
	require.NoError(t, b.Register(ctx, []IEventHandler{
		NewHandlerFunc("failing", []string{"ItemCreated"}, func(context.Context, *eventing.Event) error { return boom }),
		after.handler("after", "ItemCreated"),
	}))

	err := b.Publish(ctx, []*eventing.Event{newEvent("ItemCreated", 1), newEvent("ItemCreated", 2)})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, after.events, 1, "同一事件的其他处理器仍执行，之后的事件不再发布")

	snap := counters.GetSnapshot()
	assert.Equal(t, int64(1), snap.EventsPublished)
	assert.Equal(t, int64(1), snap.PublishErrors)
}

func TestEventBus_TraceMetadata(t *testing.T) {
	ctx := messaging.WithCorrelationID(context.Background(), "cor-1")
	ctx = messaging.WithCausationID(ctx, "cmd-1")
	b := startSync(t)

	var r recorder
	require.NoError(t, b.Register(ctx, []IEventHandler{r.handler("h")}))

	evt := newEvent("ItemCreated", 1)
	require.NoError(t, b.Publish(ctx, []*eventing.Event{evt}))

	require.Len(t, r.events, 1)
	got := r.events[0]
	assert.Equal(t, "cor-1", got.Metadata[messaging.KeyCorrelationID])
	assert.Equal(t, "cmd-1", got.Metadata[messaging.KeyCausationID])
	assert.NotContains(t, evt.Metadata, messaging.KeyCorrelationID, "调用方的事件不被修改")

	assert.Equal(t, "cor-1", messaging.CorrelationID(r.ctxs[0]))
	assert.Equal(t, evt.ID, messaging.CausationID(r.ctxs[0]), "处理器上下文以事件为因")
}

func TestEventBus_PublishValidation(t *testing.T) {
	b := startSync(t)
	err := b.Publish(context.Background(), []*eventing.Event{nil})
	assert.ErrorIs(t, err, eventing.ErrInvalidEvent)
}

func TestEventBus_Lifecycle(t *testing.T) {
	ctx := context.Background()
	b := NewSyncEventBus(WithLogger(logging.NewNoopLogger()))

	err := b.Publish(ctx, []*eventing.Event{newEvent("ItemCreated", 1)})
	assert.ErrorIs(t, err, messaging.ErrTransportNotRunning, "未启动")

	require.NoError(t, b.Start(ctx))
	require.NoError(t, b.Start(ctx), "重复启动无副作用")
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(ctx, []*eventing.Event{newEvent("ItemCreated", 1)}), ErrBusClosed)
	assert.ErrorIs(t, b.Start(ctx), ErrBusClosed)
}

func TestAsyncEventBus_PreservesOrder(t *testing.T) {
	ctx := context.Background()
	b := NewAsyncEventBus(WithLogger(logging.NewNoopLogger()))
	require.NoError(t, b.Start(ctx))

	var r recorder
	require.NoError(t, b.Register(ctx, []IEventHandler{r.handler("h")}))

	for v := uint64(1); v <= 20; v++ {
		require.NoError(t, b.Publish(ctx, []*eventing.Event{newEvent("ItemRenamed", v)}))
	}
	require.NoError(t, b.Close(), "Close 等待队列处理完毕")

	require.Len(t, r.events, 20)
	for i, e := range r.events {
		assert.Equal(t, uint64(i+1), e.Version)
	}
}

func TestAsyncEventBus_HandlerErrorsAreLogged(t *testing.T) {
	ctx := context.Background()
	b := NewAsyncEventBus(WithLogger(logging.NewNoopLogger()))
	require.NoError(t, b.Start(ctx))

	done := make(chan struct{})
	require.NoError(t, b.Register(ctx, []IEventHandler{
		NewHandlerFunc("failing", nil, func(context.Context, *eventing.Event) error {
			close(done)
			return errors.New("boom")
		}),
	}))

	require.NoError(t, b.Publish(ctx, []*eventing.Event{newEvent("ItemCreated", 1)}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler not invoked")
	}
	require.NoError(t, b.Close())
}

type renamed struct {
	Name string `json:"name"`
}

func TestHandlerAdapter_RemoteMessageDecoding(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, registry.RegisterType[renamed](reg, "ItemRenamed"))

	var got *eventing.Event
	adapter := &handlerAdapter{
		inner: NewHandlerFunc("h", nil, func(_ context.Context, evt *eventing.Event) error {
			got = evt
			return nil
		}),
		registry: reg,
	}

	evt := newEvent("ItemRenamed", 4)
	evt.Payload = renamed{Name: "remote"}
	env, err := messaging.Seal(evt)
	require.NoError(t, err)
	msg, err := messaging.Open(env)
	require.NoError(t, err)

	require.NoError(t, adapter.Handle(context.Background(), msg))
	require.NotNil(t, got)
	assert.Equal(t, "item-1", got.AggregateID)
	assert.Equal(t, "Item", got.AggregateType)
	assert.Equal(t, uint64(4), got.Version)
	assert.Equal(t, &renamed{Name: "remote"}, got.Payload)
	assert.NotContains(t, got.Metadata, messaging.KeyAggregateID)
}
