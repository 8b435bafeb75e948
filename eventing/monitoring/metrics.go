// Package monitoring 事件存储、仓储与事件总线的监控指标
package monitoring

import "time"

// Timer 计时器，ObserveDuration 记录并返回自创建以来的耗时。
// *prometheus.Timer 直接满足该接口。
type Timer interface {
	ObserveDuration() time.Duration
}

// Metrics 事件溯源管道指标。
//
// 标签以聚合类型（或事件类型）区分，实现必须是并发安全的。
type Metrics interface {
	// 事件存储
	StoreAppendDuration(aggregateType string) Timer
	StoreLoadDuration(aggregateType string) Timer
	EventsAppended(aggregateType string, count int)
	EventsLoaded(aggregateType string, count int)
	StoreError(aggregateType, operation string)

	// 仓储
	RepoSaveDuration(aggregateType string) Timer
	RepoLoadDuration(aggregateType string) Timer
	ConcurrencyConflict(aggregateType string)

	// 事件总线
	EventPublished(eventType string, success bool)
}

type timerFunc func() time.Duration

func (f timerFunc) ObserveDuration() time.Duration { return f() }

// NewTimer 以回调形式创建计时器
func NewTimer(observe func(time.Duration)) Timer {
	start := time.Now()
	return timerFunc(func() time.Duration {
		d := time.Since(start)
		observe(d)
		return d
	})
}

type nopTimer struct{ start time.Time }

func (t nopTimer) ObserveDuration() time.Duration { return time.Since(t.start) }

func newNopTimer() Timer { return nopTimer{start: time.Now()} }

// NopMetrics 不记录任何指标
type NopMetrics struct{}

func (NopMetrics) StoreAppendDuration(string) Timer { return newNopTimer() }
func (NopMetrics) StoreLoadDuration(string) Timer   { return newNopTimer() }
func (NopMetrics) EventsAppended(string, int)       {}
func (NopMetrics) EventsLoaded(string, int)         {}
func (NopMetrics) StoreError(string, string)        {}
func (NopMetrics) RepoSaveDuration(string) Timer    { return newNopTimer() }
func (NopMetrics) RepoLoadDuration(string) Timer    { return newNopTimer() }
func (NopMetrics) ConcurrencyConflict(string)       {}
func (NopMetrics) EventPublished(string, bool)      {}

var _ Metrics = NopMetrics{}
