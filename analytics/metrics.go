package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	trainingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "expirekits",
		Subsystem: "analytics",
		Name:      "trainings_total",
		Help:      "Model training runs by result.",
	}, []string{"result"})

	trainingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "expirekits",
		Subsystem: "analytics",
		Name:      "training_duration_seconds",
		Help:      "Wall-clock duration of model training runs.",
		Buckets:   prometheus.DefBuckets,
	})

	predictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "expirekits",
		Subsystem: "analytics",
		Name:      "predictions_total",
		Help:      "Prediction requests by operation.",
	}, []string{"operation"})
)
