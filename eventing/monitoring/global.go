package monitoring

import "sync/atomic"

var global atomic.Pointer[Metrics]

// Default 进程级默认指标，未设置时为 NopMetrics
func Default() Metrics {
	if m := global.Load(); m != nil {
		return *m
	}
	return NopMetrics{}
}

// SetDefault 设置进程级默认指标；nil 恢复为 NopMetrics
func SetDefault(m Metrics) {
	if m == nil {
		global.Store(nil)
		return
	}
	global.Store(&m)
}
