package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics owned by the pipeline. A nil *Metrics
// disables recording.
type Metrics struct {
	// operationsTotal counts completed operations by op and outcome
	// ("ok" or the failing stage).
	operationsTotal *prometheus.CounterVec

	// stageDurationSeconds records the wall-clock duration of each stage.
	stageDurationSeconds *prometheus.HistogramVec

	// passagesPerUpload records how many passages each upload produced.
	passagesPerUpload prometheus.Histogram
}

// NewMetrics registers the pipeline metrics against reg. Pass a fresh
// prometheus.Registry in tests to keep them hermetic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		operationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "manualrag",
			Subsystem: "pipeline",
			Name:      "operations_total",
			Help:      "Total number of pipeline operations, partitioned by operation and outcome.",
		}, []string{"op", "outcome"}),

		stageDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "manualrag",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"op", "stage"}),

		passagesPerUpload: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "manualrag",
			Subsystem: "pipeline",
			Name:      "passages_per_upload",
			Help:      "Number of passages produced per uploaded manual.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

func (m *Metrics) observeStage(op string, stage Stage, seconds float64) {
	if m == nil {
		return
	}
	m.stageDurationSeconds.WithLabelValues(op, string(stage)).Observe(seconds)
}

func (m *Metrics) observeOutcome(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(StageOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	m.operationsTotal.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) observePassages(n int) {
	if m == nil {
		return
	}
	m.passagesPerUpload.Observe(float64(n))
}
