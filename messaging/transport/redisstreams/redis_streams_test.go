package redisstreams

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esroot/logging"
	"esroot/messaging"
)

// fakeClient 内存模拟的 Stream：XAdd 追加，XReadGroup 返回未投递的记录
type fakeClient struct {
	mu        sync.Mutex
	entries   []redis.XMessage
	delivered int
	acked     []string
	groupErr  error
	closed    bool
}

func (f *fakeClient) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	// go-redis 读回的字段值均为字符串
	values := make(map[string]any)
	for k, v := range a.Values.(map[string]any) {
		values[k] = fmt.Sprint(v)
	}
	id := fmt.Sprintf("%d-0", len(f.entries)+1)
	f.entries = append(f.entries, redis.XMessage{ID: id, Values: values})

	cmd := redis.NewStringCmd(ctx)
	cmd.SetVal(id)
	return cmd
}

func (f *fakeClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	cmd := redis.NewXStreamSliceCmd(ctx)

	f.mu.Lock()
	pending := f.entries[f.delivered:]
	f.delivered = len(f.entries)
	f.mu.Unlock()

	if len(pending) == 0 {
		select {
		case <-ctx.Done():
			cmd.SetErr(ctx.Err())
		case <-time.After(5 * time.Millisecond):
			cmd.SetErr(redis.Nil)
		}
		return cmd
	}
	cmd.SetVal([]redis.XStream{{Stream: a.Streams[0], Messages: pending}})
	return cmd
}

func (f *fakeClient) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(ids)))
	return cmd
}

func (f *fakeClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if f.groupErr != nil {
		cmd.SetErr(f.groupErr)
	} else {
		cmd.SetVal("OK")
	}
	return cmd
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func (f *fakeClient) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

type collectingHandler struct {
	mu   sync.Mutex
	msgs []messaging.IMessage
	err  error
}

func (h *collectingHandler) Handle(ctx context.Context, m messaging.IMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, m)
	return h.err
}

func (h *collectingHandler) Type() string { return "collecting" }

func (h *collectingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ts := time.Unix(0, 1700000000000000000)
	msg := &messaging.Message{
		ID:        "msg-1",
		Type:      "ItemCreated",
		Timestamp: ts,
		Payload:   map[string]any{"name": "test"},
		Metadata:  map[string]any{messaging.KeyCorrelationID: "cor-123"},
	}

	values, err := encodeMessage(msg)
	require.NoError(t, err)

	decoded, err := decodeMessage(redis.XMessage{ID: "1-0", Values: values})
	require.NoError(t, err)
	assert.Equal(t, msg.ID, decoded.GetID())
	assert.Equal(t, msg.Type, decoded.GetType())
	assert.Equal(t, ts.UnixNano(), decoded.GetTimestamp().UnixNano())
	assert.Equal(t, "test", decoded.GetPayload().(map[string]any)["name"])
	assert.Equal(t, "cor-123", decoded.MetadataString(messaging.KeyCorrelationID))
}

func TestDecode_StringTimestampAndFallbackID(t *testing.T) {
	decoded, err := decodeMessage(redis.XMessage{ID: "2-0", Values: map[string]any{
		"type":      "ItemRenamed",
		"timestamp": "1700000000000000000",
		"payload":   "{}",
		"metadata":  "{}",
	}})
	require.NoError(t, err)
	assert.Equal(t, "2-0", decoded.GetID())
	assert.Equal(t, int64(1700000000000000000), decoded.GetTimestamp().UnixNano())

	_, err = decodeMessage(redis.XMessage{ID: "3-0", Values: map[string]any{"timestamp": "soon"}})
	assert.Error(t, err)
}

func TestTransport_PublishConsumeAck(t *testing.T) {
	fake := &fakeClient{}
	tr := newTransport(Config{Logger: logging.NewNoopLogger(), BlockTimeout: time.Millisecond}, fake, true)

	created, all := &collectingHandler{}, &collectingHandler{err: errors.New("ignored")}
	require.NoError(t, tr.Subscribe("ItemCreated", created))
	require.NoError(t, tr.Subscribe(messaging.WildcardType, all))
	require.NoError(t, tr.Start(context.Background()))

	ctx := context.Background()
	require.NoError(t, tr.PublishAll(ctx, []messaging.IMessage{
		&messaging.Message{ID: "a", Type: "ItemCreated", Timestamp: time.Now()},
		&messaging.Message{ID: "b", Type: "ItemRenamed", Timestamp: time.Now()},
	}))

	require.Eventually(t, func() bool { return len(fake.ackedIDs()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, created.count())
	assert.Equal(t, 2, all.count())
	assert.Equal(t, []string{"1-0", "2-0"}, fake.ackedIDs())

	require.NoError(t, tr.Close())
	assert.True(t, fake.closed)
	assert.False(t, tr.Stats().Running)
}

func TestTransport_StartGroupErrors(t *testing.T) {
	busy := &fakeClient{groupErr: errors.New("BUSYGROUP Consumer Group name already exists")}
	tr := newTransport(Config{Logger: logging.NewNoopLogger()}, busy, false)
	require.NoError(t, tr.Start(context.Background()))
	assert.ErrorIs(t, tr.Start(context.Background()), messaging.ErrTransportRunning)
	require.NoError(t, tr.Close())
	assert.False(t, busy.closed, "外部传入的客户端不由传输关闭")

	broken := &fakeClient{groupErr: errors.New("NOAUTH")}
	tr = newTransport(Config{Logger: logging.NewNoopLogger()}, broken, false)
	assert.Error(t, tr.Start(context.Background()))
}

func TestNewTransport_RequiresClientOrAddr(t *testing.T) {
	_, err := NewTransport(Config{})
	assert.Error(t, err)
}
