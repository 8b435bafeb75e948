// Package eventsourced 提供事件溯源聚合根与仓储。
//
// 聚合的当前状态只由其事件流推导：实时变更通过 ApplyChange 记录为未提交事件，
// 历史通过 LoadFromHistory 重放。仓储负责追加、发布与提交标记。
package eventsourced

import (
	"context"
	"fmt"
	"sync"

	"esroot/domain/identity"
	"esroot/errors"
	"esroot/eventing"
	"esroot/logging"
)

// 聚合错误
var (
	ErrAggregateNotFound = errors.NewError(errors.ErrCodeNotFound, "aggregate not found")
	ErrAggregateDeleted  = errors.NewError(errors.ErrCodeDeleted, "aggregate is deleted")
)

// EventHandler 单个事件类型的状态迁移函数
type EventHandler func(evt *eventing.Event)

// IAggregate 事件溯源聚合根接口
type IAggregate[ID identity.ID] interface {
	ID() ID
	AggregateType() string

	// Version 已应用的可识别事件数（重放 + 实时）
	Version() uint64
	// PersistedVersion 最后一个已持久化事件的流版本
	PersistedVersion() uint64

	ApplyChange(evt *eventing.Event) error
	LoadFromHistory(events []eventing.Event) error

	HasUncommittedChanges() bool
	UncommittedChanges() []*eventing.Event
	MarkChangesAsCommitted()

	IsDeleted() bool
}

// Aggregate 事件溯源聚合根基础实现，由具体聚合嵌入。
//
// 具体聚合在构造时通过 Handle 注册事件类型到状态迁移的映射；
// 删除墓碑事件由基础实现预先注册。
type Aggregate[ID identity.ID] struct {
	id            ID
	aggregateType string
	logger        logging.Logger

	mu        sync.RWMutex
	version   uint64
	persisted uint64
	buffer    []*eventing.Event
	handlers  map[string]EventHandler
	deleted   bool
}

// NewAggregate 创建版本为 0、缓冲为空的聚合根
func NewAggregate[ID identity.ID](id ID, aggregateType string) *Aggregate[ID] {
	a := &Aggregate[ID]{
		id:            id,
		aggregateType: aggregateType,
		logger: logging.ComponentLogger("domain.eventsourced").WithFields(
			logging.AggregateType(aggregateType),
			logging.AggregateID(id.String()),
		),
		handlers: make(map[string]EventHandler),
	}
	a.handlers[eventing.AggregateDeletedEventType] = func(*eventing.Event) {
		a.mu.Lock()
		a.deleted = true
		a.mu.Unlock()
	}
	return a
}

// Handle 注册事件类型的状态迁移；重复注册覆盖之前的处理函数
func (a *Aggregate[ID]) Handle(eventType string, fn EventHandler) {
	if fn == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[eventType] = fn
}

func (a *Aggregate[ID]) ID() ID                { return a.id }
func (a *Aggregate[ID]) AggregateType() string { return a.aggregateType }

// Logger 返回带聚合类型和 ID 字段的 Logger，供事件处理器记录回放问题
func (a *Aggregate[ID]) Logger() logging.Logger { return a.logger }

func (a *Aggregate[ID]) Version() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.version
}

func (a *Aggregate[ID]) PersistedVersion() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.persisted
}

// IsDeleted 是否已应用删除墓碑
func (a *Aggregate[ID]) IsDeleted() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.deleted
}

// ApplyChange 记录一个新事件：填充聚合标识、类型与流版本，执行状态迁移并放入未提交缓冲。
//
// 没有处理函数的事件类型不是错误：事件照常缓冲，状态与 Version 不变。
func (a *Aggregate[ID]) ApplyChange(evt *eventing.Event) error {
	if evt == nil {
		return errors.NewError(errors.ErrCodeInvalidInput, "event is nil").
			WithContext("aggregate_id", a.id.String())
	}

	a.mu.Lock()
	if a.deleted && evt.Type != eventing.AggregateDeletedEventType {
		a.mu.Unlock()
		return errors.WrapError(ErrAggregateDeleted, errors.ErrCodeDeleted,
			fmt.Sprintf("apply %s to %s %s", evt.Type, a.aggregateType, a.id))
	}
	evt.AggregateID = a.id.String()
	evt.AggregateType = a.aggregateType
	evt.Version = a.persisted + uint64(len(a.buffer)) + 1
	if evt.Metadata == nil {
		evt.Metadata = make(map[string]any)
	}
	handler, ok := a.handlers[evt.Type]
	a.mu.Unlock()

	// 处理函数在锁外执行，可以读取聚合自身
	if ok {
		handler(evt)
	} else {
		a.unhandled(evt)
	}

	a.mu.Lock()
	if ok {
		a.version++
	}
	a.buffer = append(a.buffer, evt)
	a.mu.Unlock()
	return nil
}

// LoadFromHistory 按时间顺序重放已持久化事件，不进入缓冲。
// 流版本必须严格连续，且聚合不能有未提交事件。
func (a *Aggregate[ID]) LoadFromHistory(events []eventing.Event) error {
	a.mu.RLock()
	pending := len(a.buffer)
	a.mu.RUnlock()
	if pending > 0 {
		return errors.NewError(errors.ErrCodeConflict, "cannot replay history over uncommitted changes").
			WithContext("aggregate_id", a.id.String())
	}

	for i := range events {
		evt := events[i]

		a.mu.RLock()
		next := a.persisted + 1
		deleted := a.deleted
		handler, ok := a.handlers[evt.Type]
		a.mu.RUnlock()

		if evt.Version != next {
			return errors.NewError(errors.ErrCodeInvalidInput,
				fmt.Sprintf("out-of-order history: expected version %d, got %d", next, evt.Version)).
				WithContext("aggregate_id", a.id.String())
		}
		if deleted && evt.Type != eventing.AggregateDeletedEventType {
			return errors.WrapError(ErrAggregateDeleted, errors.ErrCodeDeleted,
				fmt.Sprintf("replay %s at version %d", evt.Type, evt.Version))
		}

		if ok {
			handler(&evt)
		} else {
			a.unhandled(&evt)
		}

		a.mu.Lock()
		if ok {
			a.version++
		}
		a.persisted = evt.Version
		a.mu.Unlock()
	}
	return nil
}

func (a *Aggregate[ID]) unhandled(evt *eventing.Event) {
	a.logger.Debug(context.Background(), "no handler for event type",
		logging.EventType(evt.Type),
		logging.EventID(evt.ID),
		logging.Version(evt.Version))
}

// HasUncommittedChanges 是否有未提交事件
func (a *Aggregate[ID]) HasUncommittedChanges() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.buffer) > 0
}

// UncommittedChanges 返回未提交事件切片的副本（按应用顺序）
func (a *Aggregate[ID]) UncommittedChanges() []*eventing.Event {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*eventing.Event, len(a.buffer))
	copy(out, a.buffer)
	return out
}

// MarkChangesAsCommitted 清空缓冲并推进持久化版本，由仓储在保存成功后调用
func (a *Aggregate[ID]) MarkChangesAsCommitted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.persisted += uint64(len(a.buffer))
	a.buffer = nil
}
