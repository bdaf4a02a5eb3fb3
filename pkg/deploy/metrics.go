package deploy

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	shippermetrics "github.com/resumelab/shipper/pkg/metrics"
)

type Metrics struct {
	// Duration of each stage of a service's deployment, labelled by
	// service, stage and whether the stage concluded well.
	StageDuration metrics.Histogram
}

func NewMetrics() Metrics {
	return Metrics{
		StageDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: "shipper",
			Subsystem: "deploy",
			Name:      "stage_duration_seconds",
			Help:      "Duration of publish/rollout/verify stages, in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{shippermetrics.LabelService, shippermetrics.LabelStage, shippermetrics.LabelSuccess}),
	}
}

func NewNopMetrics() Metrics {
	return Metrics{
		StageDuration: discard.NewHistogram(),
	}
}
