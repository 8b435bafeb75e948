package middleware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esroot/messaging"
)

type kindedMessage struct {
	messaging.Message
	kind string
}

func (m *kindedMessage) Kind() string { return m.kind }

func run(t *testing.T, ctx context.Context, msg messaging.IMessage) context.Context {
	t.Helper()
	var seen context.Context
	err := NewTracingMiddleware().Handle(ctx, msg, func(ctx context.Context, _ messaging.IMessage) error {
		seen = ctx
		return nil
	})
	require.NoError(t, err)
	return seen
}

func TestTracing_TopLevelCommand(t *testing.T) {
	cmd := &kindedMessage{Message: messaging.Message{ID: "cmd-1", Type: "CreateItem"}, kind: messaging.KindCommand}

	ctx := run(t, context.Background(), cmd)

	assert.Equal(t, "cmd-1", cmd.MetadataString(messaging.KeyCorrelationID))
	assert.Equal(t, "cmd-1", cmd.MetadataString(messaging.KeyCausationID))
	assert.Equal(t, "cmd-1", messaging.CorrelationID(ctx))
}

func TestTracing_EventInheritsContext(t *testing.T) {
	ctx := messaging.WithCorrelationID(context.Background(), "corr-9")
	ctx = messaging.WithCausationID(ctx, "cmd-9")
	evt := &kindedMessage{Message: messaging.Message{ID: "evt-1", Type: "ItemCreated"}, kind: messaging.KindEvent}

	run(t, ctx, evt)

	assert.Equal(t, "corr-9", evt.MetadataString(messaging.KeyCorrelationID))
	assert.Equal(t, "cmd-9", evt.MetadataString(messaging.KeyCausationID))
}

func TestTracing_KeepsExistingValues(t *testing.T) {
	msg := &messaging.Message{ID: "m", Type: "x", Metadata: map[string]any{
		messaging.KeyCorrelationID: "given",
	}}

	run(t, messaging.WithCorrelationID(context.Background(), "ctx"), msg)

	assert.Equal(t, "given", msg.MetadataString(messaging.KeyCorrelationID))
	assert.Equal(t, "m", msg.MetadataString(messaging.KeyCausationID))
}
