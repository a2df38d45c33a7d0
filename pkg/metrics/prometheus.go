package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	signalsTotal *prometheus.CounterVec
	trialsTotal  *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	lastPrice    *prometheus.GaugeVec
	latency      *prometheus.HistogramVec
	batchRecords *prometheus.GaugeVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		signalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trendscan_signals_total",
				Help: "Total signals generated per symbol and type",
			},
			[]string{"symbol", "signal"},
		),
		trialsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trendscan_optimizer_trials_total",
				Help: "Total optimizer trials evaluated",
			},
			[]string{"symbol", "valid"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trendscan_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trendscan_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trendscan_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		batchRecords: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trendscan_batch_records",
				Help: "Records persisted in the latest batch per storage tier",
			},
			[]string{"tier"},
		),
	}
}

// RecordSignal counts a generated signal.
func (r *Recorder) RecordSignal(symbol, signal string) {
	r.signalsTotal.WithLabelValues(symbol, signal).Inc()
}

// RecordTrial counts one optimizer trial.
func (r *Recorder) RecordTrial(symbol string, valid bool) {
	v := "true"
	if !valid {
		v = "false"
	}
	r.trialsTotal.WithLabelValues(symbol, v).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordBatch records the record count of the latest committed batch.
func (r *Recorder) RecordBatch(tier string, records int) {
	r.batchRecords.WithLabelValues(tier).Set(float64(records))
}
