// Package natsjetstream 提供基于 NATS JetStream 的远程消息传输。
//
// 消息发布到 <SubjectPrefix><消息类型>，每个传输实例以一个持久化队列消费者订阅
// <SubjectPrefix>>，在本地按消息类型路由（支持 "*"）。
package natsjetstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"esroot/logging"
	"esroot/messaging"
)

// Config JetStream 传输配置
type Config struct {
	URL           string
	Conn          *nats.Conn
	Stream        string
	SubjectPrefix string
	Durable       string
	AckWait       time.Duration
	// MaxAckPending 为 1 时按发布顺序逐条处理
	MaxAckPending int
	Retention     string // workqueue|limits|interest（默认 limits）
	Replicas      int
	Logger        logging.Logger
}

// Transport 基于 JetStream 的 messaging.Transport
type Transport struct {
	cfg      Config
	logger   logging.Logger
	conn     *nats.Conn
	js       nats.JetStreamContext
	ownsConn bool
	sub      *nats.Subscription

	mu       sync.RWMutex
	handlers messaging.HandlerTable
	running  bool
	ctx      context.Context
}

// NewTransport 创建传输（连接在 Start 时建立）
func NewTransport(cfg Config) *Transport {
	if cfg.Stream == "" {
		cfg.Stream = "ESROOT"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "esroot."
	}
	if !strings.HasSuffix(cfg.SubjectPrefix, ".") {
		cfg.SubjectPrefix += "."
	}
	if cfg.Durable == "" {
		cfg.Durable = "esroot"
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.MaxAckPending <= 0 {
		cfg.MaxAckPending = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("messaging.transport.nats")
	}
	return &Transport{
		cfg:      cfg,
		logger:   cfg.Logger,
		handlers: messaging.HandlerTable{},
		ctx:      context.Background(),
	}
}

func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	t.mu.RLock()
	js, running := t.js, t.running
	t.mu.RUnlock()
	if !running || js == nil {
		return messaging.ErrTransportNotRunning
	}

	data, err := marshalMessage(message)
	if err != nil {
		return err
	}
	if _, err := js.Publish(t.subjectName(message.GetType()), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("jetstream publish %s: %w", message.GetID(), err)
	}
	return nil
}

func (t *Transport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for _, msg := range messages {
		if err := t.Publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers.Add(messageType, handler)
	return nil
}

func (t *Transport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handlers.Remove(messageType, handler)
}

// Start 建立连接、确保 Stream 存在并创建持久化消费者
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return messaging.ErrTransportRunning
	}
	if err := t.ensureConnection(); err != nil {
		return err
	}
	if err := t.ensureStream(); err != nil {
		return err
	}

	sub, err := t.js.QueueSubscribe(t.cfg.SubjectPrefix+">", t.cfg.Durable, t.handleMessage,
		nats.ManualAck(),
		nats.Durable(t.cfg.Durable),
		nats.AckWait(t.cfg.AckWait),
		nats.MaxAckPending(t.cfg.MaxAckPending))
	if err != nil {
		return fmt.Errorf("jetstream subscribe: %w", err)
	}
	t.sub = sub
	t.ctx = ctx
	t.running = true
	return nil
}

// Close 排空订阅；自建的连接一并关闭
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.running = false
	if t.sub != nil {
		_ = t.sub.Drain()
		t.sub = nil
	}
	if t.ownsConn && t.conn != nil {
		t.conn.Close()
	}
	t.conn = nil
	t.js = nil
	return nil
}

func (t *Transport) Stats() messaging.TransportStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	count, types := t.handlers.Stats()
	return messaging.TransportStats{
		Running:      t.running,
		HandlerCount: count,
		MessageTypes: types,
	}
}

func (t *Transport) ensureConnection() error {
	if t.conn != nil && t.js != nil {
		return nil
	}
	if t.cfg.Conn != nil {
		t.conn = t.cfg.Conn
	} else {
		url := t.cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}
		conn, err := nats.Connect(url, nats.Name("esroot"))
		if err != nil {
			return fmt.Errorf("connect nats %s: %w", url, err)
		}
		t.conn = conn
		t.ownsConn = true
	}
	js, err := t.conn.JetStream()
	if err != nil {
		return err
	}
	t.js = js
	return nil
}

func (t *Transport) ensureStream() error {
	_, err := t.js.StreamInfo(t.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = t.js.AddStream(streamConfig(t.cfg))
	return err
}

func streamConfig(cfg Config) *nats.StreamConfig {
	retention := nats.LimitsPolicy
	switch strings.ToLower(cfg.Retention) {
	case "workqueue":
		retention = nats.WorkQueuePolicy
	case "interest":
		retention = nats.InterestPolicy
	}
	sc := &nats.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.SubjectPrefix + ">"},
		Retention: retention,
	}
	if cfg.Replicas > 0 {
		sc.Replicas = cfg.Replicas
	}
	return sc
}

func (t *Transport) handleMessage(msg *nats.Msg) {
	t.mu.RLock()
	ctx := t.ctx
	t.mu.RUnlock()

	decoded, err := unmarshalMessage(msg.Data)
	if err != nil {
		t.logger.Warn(ctx, "decode nats message failed", logging.String("subject", msg.Subject), logging.Error(err))
	} else {
		if decoded.Type == "" {
			decoded.Type = strings.TrimPrefix(msg.Subject, t.cfg.SubjectPrefix)
		}
		t.dispatch(ctx, decoded)
	}
	if err := msg.Ack(); err != nil {
		t.logger.Debug(ctx, "nats ack failed", logging.Error(err))
	}
}

func (t *Transport) dispatch(ctx context.Context, message messaging.IMessage) {
	t.mu.RLock()
	handlers := t.handlers.Match(message.GetType())
	t.mu.RUnlock()

	for _, h := range handlers {
		if err := h.Handle(ctx, message); err != nil {
			t.logger.Warn(ctx, "message handler failed",
				logging.String("handler", h.Type()),
				logging.String("message_type", message.GetType()),
				logging.String("message_id", message.GetID()),
				logging.Error(err))
		}
	}
}

func (t *Transport) subjectName(messageType string) string {
	return t.cfg.SubjectPrefix + messageType
}

func marshalMessage(msg messaging.IMessage) ([]byte, error) {
	env, err := messaging.Seal(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func unmarshalMessage(data []byte) (*messaging.Message, error) {
	var env messaging.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return messaging.Open(env)
}
