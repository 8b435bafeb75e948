// Package store 事件存储接口、内存实现与装饰器
package store

import (
	"context"
	"time"

	"esroot/eventing"
)

// IEventStore 事件存储核心接口。
//
// 流以 (aggregateType, aggregateID) 标识，版本从 1 开始连续递增。
type IEventStore interface {
	// AppendEvents 追加事件到聚合的事件流。
	//
	// expectedVersion 为流当前已持久化的版本（0 表示新流），不一致时返回 *eventing.ConcurrencyError；
	// 事件版本必须为 expectedVersion+1 起连续递增。
	// 若前缀事件已按相同 ID 位于相同版本，则跳过这些事件（部分成功后的安全重试）。
	// 单次调用要么全部追加，要么全部不追加；I/O 失败返回 STORE_UNAVAILABLE。
	AppendEvents(ctx context.Context, aggregateID string, events []*eventing.Event, expectedVersion uint64) error

	// LoadEvents 按版本升序加载版本大于 afterVersion 的事件，仅包含该聚合的事件
	LoadEvents(ctx context.Context, aggregateType, aggregateID string, afterVersion uint64) ([]eventing.Event, error)
}

// IAggregateInspector 聚合检查接口（可选扩展）
type IAggregateInspector interface {
	// HasAggregate 检查聚合流是否存在
	HasAggregate(ctx context.Context, aggregateType, aggregateID string) (bool, error)

	// GetAggregateVersion 获取流当前版本，0 表示不存在
	GetAggregateVersion(ctx context.Context, aggregateType, aggregateID string) (uint64, error)
}

// IEventStreamStore 全局事件流读取接口（可选扩展）
type IEventStreamStore interface {
	IEventStore

	// StreamEvents 按追加顺序读取时间戳不早于 fromTime 的所有事件，零值表示全部
	StreamEvents(ctx context.Context, fromTime time.Time) ([]eventing.Event, error)
}
