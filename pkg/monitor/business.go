package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BusinessMetrics 定义业务监控指标
type BusinessMetrics struct {
	TransitionsTotal   *prometheus.CounterVec
	StepDuration       *prometheus.HistogramVec
	PayoutAmountTotal  *prometheus.CounterVec
	SwapAttemptsTotal  *prometheus.CounterVec
	TreasuryJobsTotal  *prometheus.CounterVec
	TreasuryQueueDepth *prometheus.GaugeVec
}

// Business 全局业务指标，进程启动即可使用；注册到默认 Registry 由 Init 完成
var Business = newBusinessMetrics()

func newBusinessMetrics() *BusinessMetrics {
	return &BusinessMetrics{
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offramp_transitions_total",
			Help: "Number of off-ramp status transitions by target status",
		}, []string{"status"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "offramp_step_duration_seconds",
			Help:    "Duration of off-ramp pipeline steps",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"step"}),
		PayoutAmountTotal: promCounterVec("offramp_payout_amount_total", "Total fiat amount paid out", "currency"),
		SwapAttemptsTotal: promCounterVec("offramp_swap_attempts_total", "Swap attempts by result", "result"),
		TreasuryJobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offramp_treasury_jobs_total",
			Help: "Treasury queue jobs by network and kind",
		}, []string{"network", "kind"}),
		TreasuryQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "offramp_treasury_queue_depth",
			Help: "Jobs waiting for the treasury signer",
		}, []string{"network"}),
	}
}

func promCounterVec(name, help, label string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{label})
}

// InitBusinessMetrics 注册业务指标
func InitBusinessMetrics() {
	prometheus.MustRegister(
		Business.TransitionsTotal,
		Business.StepDuration,
		Business.PayoutAmountTotal,
		Business.SwapAttemptsTotal,
		Business.TreasuryJobsTotal,
		Business.TreasuryQueueDepth,
	)
}
