package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels requests that produced a result.
	OutcomeSuccess = "success"
	// OutcomeError labels requests that failed upstream or while loading data.
	OutcomeError = "error"
	// OutcomeRejected labels submissions that failed validation and were never sent.
	OutcomeRejected = "rejected"
	// OutcomeNotFound labels dashboard renders with no data file.
	OutcomeNotFound = "not_found"
)

var (
	predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dqmonitor",
			Name:      "predictions_total",
			Help:      "Total number of prediction submissions, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	predictionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dqmonitor",
			Name:      "prediction_seconds",
			Help:      "Token exchange plus prediction latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
	)

	dashboardLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dqmonitor",
			Name:      "dashboard_loads_total",
			Help:      "Total number of dashboard renders, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	dashboardLoadSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dqmonitor",
			Name:      "dashboard_load_seconds",
			Help:      "Time spent loading and cleaning the order file.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	lastRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dqmonitor",
		Name:      "records",
		Help:      "Rows in the cleaned table at the last successful render.",
	})

	lastAnomalies = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dqmonitor",
		Name:      "anomalies",
		Help:      "Rows flagged as anomalies at the last successful render.",
	})
)

// Register attaches dqmonitor collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		predictionsTotal,
		predictionDurationSeconds,
		dashboardLoadsTotal,
		dashboardLoadSeconds,
		lastRecords,
		lastAnomalies,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObservePrediction records a prediction duration and outcome label.
// Rejected submissions are counted without a latency sample.
func ObservePrediction(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeError, OutcomeRejected:
	default:
		outcome = OutcomeSuccess
	}
	predictionsTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeRejected {
		return
	}
	if duration < 0 {
		duration = 0
	}
	predictionDurationSeconds.Observe(duration.Seconds())
}

// ObserveDashboardLoad records one render. records and anomalies are only
// applied on success.
func ObserveDashboardLoad(duration time.Duration, outcome string, records, anomalies int) {
	switch outcome {
	case OutcomeSuccess, OutcomeNotFound:
	default:
		outcome = OutcomeError
	}
	dashboardLoadsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	dashboardLoadSeconds.Observe(duration.Seconds())
	if outcome == OutcomeSuccess {
		lastRecords.Set(float64(records))
		lastAnomalies.Set(float64(anomalies))
	}
}
