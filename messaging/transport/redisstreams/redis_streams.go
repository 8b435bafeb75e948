// Package redisstreams 提供基于 Redis Streams 消费组的远程消息传输。
//
// 所有消息写入同一个 Stream，按消息类型在本地路由到处理器，因此支持 "*" 订阅。
package redisstreams

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"esroot/logging"
	"esroot/messaging"
)

// client 所依赖的 go-redis 命令子集（便于测试替换）
type client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	Close() error
}

// Config Redis Streams 传输配置
type Config struct {
	Client       redis.UniversalClient
	Addr         string
	Username     string
	Password     string
	DB           int
	Stream       string
	GroupName    string
	ConsumerName string
	BlockTimeout time.Duration
	ReadCount    int64
	Logger       logging.Logger

	MinReadBackoff time.Duration // 读取失败最小退避，默认 100ms
	MaxReadBackoff time.Duration // 读取失败最大退避，默认 5s
}

// Transport 基于 Redis Streams 的 messaging.Transport
type Transport struct {
	cfg       Config
	client    client
	ownClient bool
	logger    logging.Logger

	mu       sync.RWMutex
	handlers messaging.HandlerTable
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewTransport 创建传输；未提供 Client 时按 Addr 自建连接并在 Close 时关闭
func NewTransport(cfg Config) (*Transport, error) {
	if cfg.Client == nil && cfg.Addr == "" {
		return nil, errors.New("redisstreams: client or addr is required")
	}

	var cl client
	own := false
	if cfg.Client != nil {
		cl = cfg.Client
	} else {
		cl = redis.NewClient(&redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
		own = true
	}
	return newTransport(cfg, cl, own), nil
}

func newTransport(cfg Config, cl client, own bool) *Transport {
	if cfg.Stream == "" {
		cfg.Stream = "esroot:bus"
	}
	if cfg.GroupName == "" {
		cfg.GroupName = "esroot"
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "consumer-" + uuid.NewString()
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ReadCount <= 0 {
		cfg.ReadCount = 10
	}
	if cfg.MinReadBackoff <= 0 {
		cfg.MinReadBackoff = 100 * time.Millisecond
	}
	if cfg.MaxReadBackoff <= 0 {
		cfg.MaxReadBackoff = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("messaging.transport.redisstreams")
	}

	return &Transport{
		cfg:       cfg,
		client:    cl,
		ownClient: own,
		logger:    cfg.Logger,
		handlers:  messaging.HandlerTable{},
	}
}

// Publish 以 XADD 写入一条消息
func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	values, err := encodeMessage(message)
	if err != nil {
		return err
	}
	if err := t.client.XAdd(ctx, &redis.XAddArgs{Stream: t.cfg.Stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", message.GetID(), err)
	}
	return nil
}

// PublishAll 逐条写入，遇错即停
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

// Start 创建消费组并启动读取协程
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return messaging.ErrTransportRunning
	}

	if err := t.ensureGroup(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.running = true
	t.wg.Add(1)
	go t.readLoop(loopCtx)
	return nil
}

// Close 停止读取；自建的客户端一并关闭
func (t *Transport) Close() error {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.running = false
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
	if t.ownClient {
		return t.client.Close()
	}
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
		WorkerCount:  1,
	}
}

func (t *Transport) ensureGroup(ctx context.Context) error {
	err := t.client.XGroupCreateMkStream(ctx, t.cfg.Stream, t.cfg.GroupName, "0").Err()
	if err == nil || strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("create consumer group %s on %s: %w", t.cfg.GroupName, t.cfg.Stream, err)
}

func (t *Transport) readLoop(ctx context.Context) {
	defer t.wg.Done()

	args := &redis.XReadGroupArgs{
		Group:    t.cfg.GroupName,
		Consumer: t.cfg.ConsumerName,
		Streams:  []string{t.cfg.Stream, ">"},
		Count:    t.cfg.ReadCount,
		Block:    t.cfg.BlockTimeout,
	}
	backoff := t.cfg.MinReadBackoff
	for ctx.Err() == nil {
		res, err := t.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn(ctx, "xreadgroup failed", logging.Duration("backoff", backoff), logging.Error(err))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, t.cfg.MaxReadBackoff)
			continue
		}
		backoff = t.cfg.MinReadBackoff

		for _, stream := range res {
			for _, entry := range stream.Messages {
				t.consume(ctx, stream.Stream, entry)
			}
		}
	}
}

// consume 分发一条记录并确认；无法解码的记录直接确认丢弃
func (t *Transport) consume(ctx context.Context, stream string, entry redis.XMessage) {
	msg, err := decodeMessage(entry)
	if err != nil {
		t.logger.Warn(ctx, "decode redis stream entry failed", logging.String("entry_id", entry.ID), logging.Error(err))
	} else {
		t.dispatch(ctx, msg)
	}
	if err := t.client.XAck(ctx, stream, t.cfg.GroupName, entry.ID).Err(); err != nil {
		t.logger.Warn(ctx, "xack failed", logging.String("entry_id", entry.ID), logging.Error(err))
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

func encodeMessage(msg messaging.IMessage) (map[string]any, error) {
	env, err := messaging.Seal(msg)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":        env.ID,
		"type":      env.Type,
		"timestamp": env.Timestamp,
		"payload":   env.Payload,
		"metadata":  env.Metadata,
	}, nil
}

func decodeMessage(entry redis.XMessage) (*messaging.Message, error) {
	env := messaging.Envelope{}
	env.ID, _ = entry.Values["id"].(string)
	env.Type, _ = entry.Values["type"].(string)
	env.Payload, _ = entry.Values["payload"].(string)
	env.Metadata, _ = entry.Values["metadata"].(string)

	switch v := entry.Values["timestamp"].(type) {
	case int64:
		env.Timestamp = v
	case string:
		ns, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", v, err)
		}
		env.Timestamp = ns
	default:
		env.Timestamp = time.Now().UnixNano()
	}

	if env.ID == "" {
		env.ID = entry.ID
	}
	return messaging.Open(env)
}
