package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RunsProcessed *prometheus.CounterVec
	StageFailures *prometheus.CounterVec
	StageSeconds  *prometheus.HistogramVec
	ActiveRuns    prometheus.Gauge
	Signals       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RunsProcessed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_report_runs_total",
			Help: "Total number of finished location report runs.",
		}, []string{"status"}),
		StageFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_stage_failures_total",
			Help: "Total number of failed pipeline stages.",
		}, []string{"stage", "reason"}),
		StageSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beacon_stage_duration_seconds",
			Help:    "Duration of pipeline stage requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		ActiveRuns: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "beacon_active_runs",
			Help: "Number of report runs currently in flight.",
		}),
		Signals: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_signals_total",
			Help: "Total number of user-facing signals emitted.",
		}, []string{"signal"}),
	}
}
