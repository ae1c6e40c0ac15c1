// Package metrics provides Prometheus metrics for the grid execution engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 网格执行引擎的指标集合。
type Metrics struct {
	registry *prometheus.Registry

	OrdersPlaced    *prometheus.CounterVec
	OrdersCancelled *prometheus.CounterVec
	OrdersReplaced  *prometheus.CounterVec
	FillsTotal      *prometheus.CounterVec
	FillVolumeUSD   *prometheus.CounterVec
	OrderLatency    prometheus.Histogram
	APIErrors       *prometheus.CounterVec
	KillSwitchOn    prometheus.Gauge
	RunPnlUSD       *prometheus.GaugeVec
	RiskRejections  *prometheus.CounterVec
}

// New 创建并注册全部指标。
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_orders_placed_total",
			Help: "Orders placed at the venue",
		}, []string{"tenant", "side"}),
		OrdersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_orders_cancelled_total",
			Help: "Orders cancelled, labelled by drift reason",
		}, []string{"tenant", "reason"}),
		OrdersReplaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_orders_replaced_total",
			Help: "Order replacements after timeout or price drift",
		}, []string{"tenant", "side"}),
		FillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_fills_total",
			Help: "Fill events recorded",
		}, []string{"tenant", "side"}),
		FillVolumeUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_fill_volume_usd_total",
			Help: "Filled notional in USD",
		}, []string{"tenant", "side"}),
		OrderLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grid_order_poll_latency_seconds",
			Help:    "Latency between placement and terminal state",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		APIErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_api_errors_total",
			Help: "Transient venue errors, labelled by call type",
		}, []string{"tenant", "call"}),
		KillSwitchOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grid_kill_switch_active",
			Help: "1 while the kill switch is active",
		}),
		RunPnlUSD: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grid_run_pnl_usd",
			Help: "Realized run P&L per tenant",
		}, []string{"tenant"}),
		RiskRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_risk_rejections_total",
			Help: "Plans blocked by the risk engine",
		}, []string{"tenant"}),
	}
	reg.MustRegister(
		m.OrdersPlaced, m.OrdersCancelled, m.OrdersReplaced,
		m.FillsTotal, m.FillVolumeUSD, m.OrderLatency,
		m.APIErrors, m.KillSwitchOn, m.RunPnlUSD, m.RiskRejections,
	)
	return m
}

// Handler 返回 /metrics 的 HTTP handler。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve 在 addr 上启动指标服务器；addr 为空则不启动。
func (m *Metrics) Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
