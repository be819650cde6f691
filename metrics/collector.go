// Package metrics 定义路由器与跨链分发器的 Prometheus 指标。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// 结果标签取值
const (
	OutcomeSuccess   = "success"
	OutcomeAborted   = "aborted"
	OutcomeTolerated = "tolerated"
	OutcomePreview   = "preview"
)

// Collector 指标集合
//
// 所有方法对 nil 接收者安全，未配置指标时调用方无需判空。
type Collector struct {
	bursts         *prometheus.CounterVec
	items          *prometheus.CounterVec
	burstDuration  *prometheus.HistogramVec
	bridgeDispatch *prometheus.CounterVec
}

// New 创建指标集合（namespace 为空时使用 lending_router）
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = "lending_router"
	}
	return &Collector{
		bursts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "burst_total",
				Help:      "Total number of burst submissions by outcome",
			},
			[]string{"outcome"},
		),
		items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "burst_items_total",
				Help:      "Total number of executed burst items by action kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		burstDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "burst_duration_seconds",
				Help:      "Duration of burst executions",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
			[]string{"mode"},
		),
		bridgeDispatch: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bridge_dispatch_total",
				Help:      "Total number of withdraw dispatches by destination",
			},
			[]string{"destination"},
		),
	}
}

// Register 注册到 registerer
func (c *Collector) Register(r prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.bursts, c.items, c.burstDuration, c.bridgeDispatch} {
		if err := r.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// ObserveBurst 记录一次批处理
func (c *Collector) ObserveBurst(outcome, mode string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.bursts.WithLabelValues(outcome).Inc()
	c.burstDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// ObserveItem 记录一个子调用
func (c *Collector) ObserveItem(kind, outcome string) {
	if c == nil {
		return
	}
	c.items.WithLabelValues(kind, outcome).Inc()
}

// ObserveDispatch 记录一次取出分发（local / remote）
func (c *Collector) ObserveDispatch(destination string) {
	if c == nil {
		return
	}
	c.bridgeDispatch.WithLabelValues(destination).Inc()
}
