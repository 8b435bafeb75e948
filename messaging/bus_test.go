package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTransport struct {
	mu          sync.Mutex
	published   []IMessage
	batch       [][]IMessage
	subscribed  map[string]int
	shouldError error
	order       *[]string
}

func newMockTransport() *mockTransport {
	return &mockTransport{subscribed: make(map[string]int)}
}

func (m *mockTransport) Publish(ctx context.Context, message IMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.order != nil {
		*m.order = append(*m.order, "transport")
	}
	m.published = append(m.published, message)
	return m.shouldError
}

func (m *mockTransport) PublishAll(ctx context.Context, messages []IMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batch = append(m.batch, messages)
	return m.shouldError
}

func (m *mockTransport) Subscribe(messageType string, handler IMessageHandler) error {
	m.subscribed[messageType]++
	return nil
}

func (m *mockTransport) Unsubscribe(messageType string, handler IMessageHandler) error {
	m.subscribed[messageType]--
	return nil
}

func (m *mockTransport) Start(ctx context.Context) error { return nil }
func (m *mockTransport) Close() error                    { return nil }
func (m *mockTransport) Stats() TransportStats           { return TransportStats{} }

type recordingMiddleware struct {
	name  string
	order *[]string
	err   error
}

func (mw recordingMiddleware) Handle(ctx context.Context, message IMessage, next HandlerFunc) error {
	*mw.order = append(*mw.order, mw.name)
	if mw.err != nil {
		return mw.err
	}
	return next(ctx, message)
}

func (mw recordingMiddleware) Name() string { return mw.name }

type noopHandler struct{ name string }

func (h *noopHandler) Handle(ctx context.Context, message IMessage) error { return nil }
func (h *noopHandler) Type() string                                       { return h.name }

func TestMessageBus_PublishWithMiddleware(t *testing.T) {
	order := make([]string, 0, 3)
	transport := newMockTransport()
	transport.order = &order

	bus := NewMessageBus(transport)
	bus.Use(recordingMiddleware{name: "mw1", order: &order})
	bus.Use(recordingMiddleware{name: "mw2", order: &order})

	msg := &Message{ID: "msg-1", Type: "ItemCreated"}
	require.NoError(t, bus.Publish(context.Background(), msg))

	assert.Equal(t, []string{"mw1", "mw2", "transport"}, order)
	require.Len(t, transport.published, 1)
	assert.Same(t, msg, transport.published[0])
}

func TestMessageBus_PublishAllKeepsOrder(t *testing.T) {
	transport := newMockTransport()
	bus := NewMessageBus(transport)

	msgs := []IMessage{
		&Message{ID: "1", Type: "A"},
		&Message{ID: "2", Type: "B"},
		&Message{ID: "3", Type: "A"},
	}
	require.NoError(t, bus.PublishAll(context.Background(), msgs))

	require.Len(t, transport.batch, 1)
	assert.Equal(t, msgs, transport.batch[0])
	assert.NoError(t, bus.PublishAll(context.Background(), nil))
	assert.Len(t, transport.batch, 1, "空批次不触达 Transport")
}

func TestMessageBus_PublishAllMiddlewareError(t *testing.T) {
	order := make([]string, 0, 1)
	transport := newMockTransport()
	mwErr := errors.New("middleware failed")

	bus := NewMessageBus(transport)
	bus.Use(recordingMiddleware{name: "mw-error", order: &order, err: mwErr})

	err := bus.PublishAll(context.Background(), []IMessage{&Message{ID: "m1", Type: "x"}})
	assert.ErrorIs(t, err, mwErr)
	assert.Empty(t, transport.batch)
}

func TestMessageBus_TransportErrorPropagates(t *testing.T) {
	transport := newMockTransport()
	transport.shouldError = ErrTransportNotRunning
	bus := NewMessageBus(transport)

	err := bus.Publish(context.Background(), &Message{ID: "m", Type: "x"})
	assert.ErrorIs(t, err, ErrTransportNotRunning)
}

func TestMessageBus_SubscribeDelegates(t *testing.T) {
	transport := newMockTransport()
	bus := NewMessageBus(transport)
	h := &noopHandler{name: "h"}

	require.NoError(t, bus.Subscribe(context.Background(), "ItemCreated", h))
	require.NoError(t, bus.Subscribe(context.Background(), "ItemCreated", h))
	require.NoError(t, bus.Unsubscribe(context.Background(), "ItemCreated", h))
	assert.Equal(t, 1, transport.subscribed["ItemCreated"])
	assert.Same(t, transport, bus.Transport())
}

func TestHandlerTable(t *testing.T) {
	table := HandlerTable{}
	a, b, all := &noopHandler{name: "a"}, &noopHandler{name: "b"}, &noopHandler{name: "all"}

	table.Add("ItemCreated", a)
	table.Add("ItemCreated", b)
	table.Add(WildcardType, all)

	assert.Equal(t, []IMessageHandler{a, b, all}, table.Match("ItemCreated"))
	assert.Equal(t, []IMessageHandler{all}, table.Match("ItemRenamed"))

	require.NoError(t, table.Remove("ItemCreated", a))
	assert.ErrorIs(t, table.Remove("ItemCreated", a), ErrHandlerNotFound)
	assert.Equal(t, []IMessageHandler{b, all}, table.Match("ItemCreated"))

	count, types := table.Stats()
	assert.Equal(t, 2, count)
	assert.ElementsMatch(t, []string{"ItemCreated", WildcardType}, types)

	require.NoError(t, table.Remove(WildcardType, all))
	assert.Nil(t, table.Match("ItemRenamed"))
}

func TestTraceContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, CorrelationID(ctx))

	ctx = WithCorrelationID(ctx, "corr-1")
	ctx = WithCausationID(ctx, "cmd-1")
	ctx = WithCausationID(ctx, "")
	assert.Equal(t, "corr-1", CorrelationID(ctx))
	assert.Equal(t, "cmd-1", CausationID(ctx))

	fromMd := ContextFromMetadata(context.Background(), map[string]any{
		KeyCorrelationID: "c",
		KeyCausationID:   42,
	})
	assert.Equal(t, "c", CorrelationID(fromMd))
	assert.Empty(t, CausationID(fromMd))
}

func TestMessage_Metadata(t *testing.T) {
	msg := &Message{ID: "1", Type: "t"}
	assert.Empty(t, msg.MetadataString("missing"))

	msg.SetMetadata("k", "v")
	msg.SetMetadata("n", 3)
	assert.Equal(t, "v", msg.MetadataString("k"))
	assert.Empty(t, msg.MetadataString("n"))

	clone := CloneMetadata(msg.Metadata)
	clone["k"] = "changed"
	assert.Equal(t, "v", msg.MetadataString("k"))
	assert.Nil(t, CloneMetadata(nil))
}
