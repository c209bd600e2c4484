package trainer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the training gauges exported for scraping or textfile output.
type Metrics struct {
	Epoch         prometheus.Gauge
	EpochLoss     prometheus.Gauge
	EpochAccuracy prometheus.Gauge
	Examples      prometheus.Counter
	StepLoss      prometheus.Histogram
}

// NewMetrics registers the training collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Epoch: f.NewGauge(prometheus.GaugeOpts{
			Name: "libml_train_epoch",
			Help: "Last completed training epoch",
		}),
		EpochLoss: f.NewGauge(prometheus.GaugeOpts{
			Name: "libml_train_epoch_loss",
			Help: "Mean binary cross-entropy over the last epoch",
		}),
		EpochAccuracy: f.NewGauge(prometheus.GaugeOpts{
			Name: "libml_train_epoch_accuracy",
			Help: "Fraction of examples classified correctly at threshold 0.5 during the last epoch",
		}),
		Examples: f.NewCounter(prometheus.CounterOpts{
			Name: "libml_train_examples_total",
			Help: "Number of optimizer updates applied",
		}),
		StepLoss: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "libml_train_step_loss",
			Help:    "Per-example training loss",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
}
