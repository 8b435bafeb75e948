package monitoring

import (
	"sync/atomic"
	"time"
)

// Counters 进程内原子计数实现，不区分标签，适合 CLI 输出与测试断言
type Counters struct {
	EventsSaved          int64 // 追加的事件总数
	EventsLoadedTotal    int64 // 加载的事件总数
	StoreAppendNanos     int64 // 追加总耗时（纳秒）
	StoreLoadNanos       int64 // 加载总耗时（纳秒）
	StoreErrors          int64
	RepoSaves            int64
	RepoLoads            int64
	RepoSaveNanos        int64
	RepoLoadNanos        int64
	ConcurrencyConflicts int64
	EventsPublished      int64
	PublishErrors        int64

	startTime time.Time
}

// NewCounters 创建计数器
func NewCounters() *Counters {
	return &Counters{startTime: time.Now()}
}

func (c *Counters) StoreAppendDuration(string) Timer {
	return NewTimer(func(d time.Duration) { atomic.AddInt64(&c.StoreAppendNanos, int64(d)) })
}

func (c *Counters) StoreLoadDuration(string) Timer {
	return NewTimer(func(d time.Duration) { atomic.AddInt64(&c.StoreLoadNanos, int64(d)) })
}

func (c *Counters) EventsAppended(_ string, count int) {
	atomic.AddInt64(&c.EventsSaved, int64(count))
}

func (c *Counters) EventsLoaded(_ string, count int) {
	atomic.AddInt64(&c.EventsLoadedTotal, int64(count))
}

func (c *Counters) StoreError(string, string) { atomic.AddInt64(&c.StoreErrors, 1) }

func (c *Counters) RepoSaveDuration(string) Timer {
	return NewTimer(func(d time.Duration) {
		atomic.AddInt64(&c.RepoSaves, 1)
		atomic.AddInt64(&c.RepoSaveNanos, int64(d))
	})
}

func (c *Counters) RepoLoadDuration(string) Timer {
	return NewTimer(func(d time.Duration) {
		atomic.AddInt64(&c.RepoLoads, 1)
		atomic.AddInt64(&c.RepoLoadNanos, int64(d))
	})
}

func (c *Counters) ConcurrencyConflict(string) { atomic.AddInt64(&c.ConcurrencyConflicts, 1) }

func (c *Counters) EventPublished(_ string, success bool) {
	atomic.AddInt64(&c.EventsPublished, 1)
	if !success {
		atomic.AddInt64(&c.PublishErrors, 1)
	}
}

// Snapshot 指标快照（用于读取）
type Snapshot struct {
	EventsSaved          int64
	EventsLoaded         int64
	StoreAppendDuration  time.Duration
	StoreLoadDuration    time.Duration
	StoreErrors          int64
	RepoSaves            int64
	RepoLoads            int64
	RepoSaveDuration     time.Duration
	RepoLoadDuration     time.Duration
	ConcurrencyConflicts int64
	EventsPublished      int64
	PublishErrors        int64
	Uptime               time.Duration
}

// GetSnapshot 获取当前指标快照
func (c *Counters) GetSnapshot() Snapshot {
	return Snapshot{
		EventsSaved:          atomic.LoadInt64(&c.EventsSaved),
		EventsLoaded:         atomic.LoadInt64(&c.EventsLoadedTotal),
		StoreAppendDuration:  time.Duration(atomic.LoadInt64(&c.StoreAppendNanos)),
		StoreLoadDuration:    time.Duration(atomic.LoadInt64(&c.StoreLoadNanos)),
		StoreErrors:          atomic.LoadInt64(&c.StoreErrors),
		RepoSaves:            atomic.LoadInt64(&c.RepoSaves),
		RepoLoads:            atomic.LoadInt64(&c.RepoLoads),
		RepoSaveDuration:     time.Duration(atomic.LoadInt64(&c.RepoSaveNanos)),
		RepoLoadDuration:     time.Duration(atomic.LoadInt64(&c.RepoLoadNanos)),
		ConcurrencyConflicts: atomic.LoadInt64(&c.ConcurrencyConflicts),
		EventsPublished:      atomic.LoadInt64(&c.EventsPublished),
		PublishErrors:        atomic.LoadInt64(&c.PublishErrors),
		Uptime:               time.Since(c.startTime),
	}
}

// ToMap 转换为 map 格式（便于 JSON 序列化）
func (s Snapshot) ToMap() map[string]any {
	return map[string]any{
		"uptime_seconds": s.Uptime.Seconds(),
		"event_store": map[string]any{
			"events_saved":           s.EventsSaved,
			"events_loaded":          s.EventsLoaded,
			"errors":                 s.StoreErrors,
			"avg_append_duration_ms": avgDuration(s.StoreAppendDuration, s.EventsSaved),
			"avg_load_duration_ms":   avgDuration(s.StoreLoadDuration, s.EventsLoaded),
		},
		"repository": map[string]any{
			"saves":                s.RepoSaves,
			"loads":                s.RepoLoads,
			"conflicts":            s.ConcurrencyConflicts,
			"avg_save_duration_ms": avgDuration(s.RepoSaveDuration, s.RepoSaves),
			"avg_load_duration_ms": avgDuration(s.RepoLoadDuration, s.RepoLoads),
		},
		"publisher": map[string]any{
			"published":  s.EventsPublished,
			"errors":     s.PublishErrors,
			"error_rate": errorRate(s.PublishErrors, s.EventsPublished),
		},
	}
}

func avgDuration(total time.Duration, count int64) float64 {
	if count == 0 {
		return 0
	}
	return float64(total.Milliseconds()) / float64(count)
}

func errorRate(errors, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(errors) / float64(total) * 100
}

var _ Metrics = (*Counters)(nil)
