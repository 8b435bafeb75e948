// Package cached 为事件存储提供进程内读缓存
package cached

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"esroot/eventing"
	"esroot/eventing/store"
)

// Config 缓存配置
type Config struct {
	Size int           // 最多缓存的事件流数，<= 0 表示不限
	TTL  time.Duration // 过期时间，<= 0 表示不过期
}

// DefaultConfig 默认配置：1000 条流，5 分钟过期
func DefaultConfig() Config {
	return Config{Size: 1000, TTL: 5 * time.Minute}
}

// Stats 缓存统计
type Stats struct {
	Hits          int64
	Misses        int64
	Invalidations int64
}

type streamKey struct {
	aggregateType string
	aggregateID   string
}

// fill 一次未命中后的回填；加载期间该流被追加或失效时标记为 stale，不再写入缓存
type fill struct {
	stale bool
}

// EventStore 读缓存装饰器。
//
// 只缓存从版本 0 起完整加载的非空事件流；对一条流的任何追加（无论成败）都会使其失效，
// 与追加交错的加载结果不会写回缓存。
// 其他进程写入的事件在 TTL 内不可见，此时仓储的乐观并发检查会返回冲突并使缓存失效。
type EventStore struct {
	inner store.IEventStore
	cache *expirable.LRU[streamKey, []eventing.Event]

	mu    sync.Mutex
	fills map[streamKey][]*fill

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
}

// NewEventStore 创建缓存装饰器
func NewEventStore(inner store.IEventStore, cfg Config) *EventStore {
	return &EventStore{
		inner: inner,
		cache: expirable.NewLRU[streamKey, []eventing.Event](cfg.Size, nil, cfg.TTL),
		fills: make(map[streamKey][]*fill),
	}
}

func (s *EventStore) AppendEvents(ctx context.Context, aggregateID string, events []*eventing.Event, expectedVersion uint64) error {
	err := s.inner.AppendEvents(ctx, aggregateID, events, expectedVersion)
	if len(events) > 0 && events[0] != nil {
		s.invalidate(streamKey{aggregateType: events[0].AggregateType, aggregateID: aggregateID})
	}
	return err
}

func (s *EventStore) LoadEvents(ctx context.Context, aggregateType, aggregateID string, afterVersion uint64) ([]eventing.Event, error) {
	key := streamKey{aggregateType: aggregateType, aggregateID: aggregateID}
	if stream, ok := s.cache.Get(key); ok {
		s.hits.Add(1)
		return tail(stream, afterVersion), nil
	}
	s.misses.Add(1)

	if afterVersion > 0 {
		return s.inner.LoadEvents(ctx, aggregateType, aggregateID, afterVersion)
	}

	f := s.beginFill(key)
	events, err := s.inner.LoadEvents(ctx, aggregateType, aggregateID, 0)
	s.endFill(key, f, events, err)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *EventStore) beginFill(key streamKey) *fill {
	f := &fill{}
	s.mu.Lock()
	s.fills[key] = append(s.fills[key], f)
	s.mu.Unlock()
	return f
}

// endFill 注销回填；未被标记为 stale 的非空结果写入缓存
func (s *EventStore) endFill(key streamKey, f *fill, events []eventing.Event, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.fills[key]
	for i, p := range pending {
		if p == f {
			pending = append(pending[:i:i], pending[i+1:]...)
			break
		}
	}
	if len(pending) == 0 {
		delete(s.fills, key)
	} else {
		s.fills[key] = pending
	}

	if err == nil && !f.stale && len(events) > 0 {
		s.cache.Add(key, copyEvents(events))
	}
}

// invalidate 丢弃缓存并使进行中的回填失效
func (s *EventStore) invalidate(key streamKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.fills[key] {
		f.stale = true
	}
	if s.cache.Remove(key) {
		s.invalidations.Add(1)
	}
}

// HasAggregate 命中缓存时直接返回，否则委托
func (s *EventStore) HasAggregate(ctx context.Context, aggregateType, aggregateID string) (bool, error) {
	if _, ok := s.cache.Peek(streamKey{aggregateType: aggregateType, aggregateID: aggregateID}); ok {
		return true, nil
	}
	return store.AggregateExists(ctx, s.inner, aggregateType, aggregateID)
}

// GetAggregateVersion 命中缓存时取最后一个事件的版本，否则委托
func (s *EventStore) GetAggregateVersion(ctx context.Context, aggregateType, aggregateID string) (uint64, error) {
	if stream, ok := s.cache.Peek(streamKey{aggregateType: aggregateType, aggregateID: aggregateID}); ok {
		return stream[len(stream)-1].Version, nil
	}
	return store.GetCurrentVersion(ctx, s.inner, aggregateType, aggregateID)
}

// StreamEvents 不经缓存
func (s *EventStore) StreamEvents(ctx context.Context, from time.Time) ([]eventing.Event, error) {
	if streamer, ok := s.inner.(store.IEventStreamStore); ok {
		return streamer.StreamEvents(ctx, from)
	}
	return []eventing.Event{}, nil
}

// Invalidate 丢弃一条流的缓存
func (s *EventStore) Invalidate(aggregateType, aggregateID string) {
	s.invalidate(streamKey{aggregateType: aggregateType, aggregateID: aggregateID})
}

// Stats 命中统计
func (s *EventStore) Stats() Stats {
	return Stats{
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		Invalidations: s.invalidations.Load(),
	}
}

// Len 当前缓存的流数
func (s *EventStore) Len() int { return s.cache.Len() }

// tail 返回 afterVersion 之后事件的副本
func tail(stream []eventing.Event, afterVersion uint64) []eventing.Event {
	out := make([]eventing.Event, 0, len(stream))
	for i := range stream {
		if stream[i].Version > afterVersion {
			out = append(out, *stream[i].Clone())
		}
	}
	return out
}

func copyEvents(events []eventing.Event) []eventing.Event {
	out := make([]eventing.Event, len(events))
	for i := range events {
		out[i] = *events[i].Clone()
	}
	return out
}

var (
	_ store.IEventStore         = (*EventStore)(nil)
	_ store.IEventStreamStore   = (*EventStore)(nil)
	_ store.IAggregateInspector = (*EventStore)(nil)
)
