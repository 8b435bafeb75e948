package store

import (
	"context"
	"sync"
	"time"

	"esroot/eventing"
)

// MemoryEventStore 内存事件存储。
//
// 追加在全局写锁下进行，读取在读锁下进行，因此读取总是观察到一致快照。
type MemoryEventStore struct {
	mu      sync.RWMutex
	streams map[streamKey][]eventing.Event // 按版本升序
	log     []eventing.Event               // 全局追加顺序
}

type streamKey struct {
	aggregateType string
	aggregateID   string
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{streams: make(map[streamKey][]eventing.Event)}
}

func (m *MemoryEventStore) AppendEvents(ctx context.Context, aggregateID string, events []*eventing.Event, expectedVersion uint64) error {
	if len(events) == 0 {
		return nil
	}
	if err := checkBatch(aggregateID, events, expectedVersion); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return eventing.StoreUnavailable("append", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := streamKey{aggregateType: events[0].AggregateType, aggregateID: aggregateID}
	stream := m.streams[key]

	skipped := committedPrefix(stream, events)
	pending := events[skipped:]
	if len(pending) == 0 {
		return nil
	}

	current := uint64(len(stream))
	if want := expectedVersion + uint64(skipped); current != want {
		return eventing.NewConcurrencyError(aggregateID, want, current)
	}

	for _, e := range pending {
		cp := *e.Clone()
		stream = append(stream, cp)
		m.log = append(m.log, cp)
	}
	m.streams[key] = stream
	return nil
}

// committedPrefix 返回已按相同 ID 位于相同版本的前缀事件数
func committedPrefix(stream []eventing.Event, events []*eventing.Event) int {
	n := 0
	for _, e := range events {
		if e.Version > uint64(len(stream)) || stream[e.Version-1].ID != e.ID {
			break
		}
		n++
	}
	return n
}

func (m *MemoryEventStore) LoadEvents(ctx context.Context, aggregateType, aggregateID string, afterVersion uint64) ([]eventing.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, eventing.StoreUnavailable("load", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stream := m.streams[streamKey{aggregateType: aggregateType, aggregateID: aggregateID}]
	if afterVersion >= uint64(len(stream)) {
		return []eventing.Event{}, nil
	}
	res := make([]eventing.Event, 0, len(stream)-int(afterVersion))
	for _, e := range stream[afterVersion:] {
		res = append(res, *e.Clone())
	}
	return res, nil
}

// StreamEvents 按追加顺序返回时间戳不早于 from 的事件
func (m *MemoryEventStore) StreamEvents(ctx context.Context, from time.Time) ([]eventing.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, eventing.StoreUnavailable("stream", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	res := make([]eventing.Event, 0, len(m.log))
	for _, e := range m.log {
		if !from.IsZero() && e.Timestamp.Before(from) {
			continue
		}
		res = append(res, *e.Clone())
	}
	return res, nil
}

// HasAggregate 检查聚合是否存在
func (m *MemoryEventStore) HasAggregate(ctx context.Context, aggregateType, aggregateID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams[streamKey{aggregateType: aggregateType, aggregateID: aggregateID}]) > 0, nil
}

// GetAggregateVersion 返回聚合当前版本
func (m *MemoryEventStore) GetAggregateVersion(ctx context.Context, aggregateType, aggregateID string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.streams[streamKey{aggregateType: aggregateType, aggregateID: aggregateID}])), nil
}

var (
	_ IEventStreamStore   = (*MemoryEventStore)(nil)
	_ IAggregateInspector = (*MemoryEventStore)(nil)
)
