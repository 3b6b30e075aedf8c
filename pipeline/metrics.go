package pipeline

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	buildKindLabel = "kind"
	errTypeLabel   = "error_type"
	bufferLabel    = "buffer"
	resultLabel    = "result"

	resultRecomputed = "recomputed"
	resultReused     = "reused"
)

var (
	visibleInstances = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_visible_instances",
		Help: "The number of instances visible on the last frame.",
	})

	dispatchGroups = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_dispatch_groups",
		Help: "The number of compute groups dispatched on the last frame.",
	})

	visibilityQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_visibility_queries",
		Help: "The number of frames where the visible set was recomputed or reused.",
	}, []string{
		resultLabel,
	})

	buildLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "pipeline_build_latency",
		Help: "The time to build the pipeline buffers and partition tree.",
	}, []string{
		buildKindLabel,
	})

	setupErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_setup_errors",
		Help: "The errors that occurred while building the pipeline.",
	}, []string{
		errTypeLabel,
	})

	frameErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_frame_errors",
		Help: "The errors that occurred while rendering a frame.",
	}, []string{
		errTypeLabel,
	})

	uploadedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_uploaded_bytes",
		Help: "The number of bytes uploaded to GPU buffers.",
	}, []string{
		bufferLabel,
	})
)

func instrumentFrame(visible int, groups uint32) {
	visibleInstances.Set(float64(visible))
	dispatchGroups.Set(float64(groups))
}

func instrumentVisibility(result string) {
	visibilityQueries.With(prometheus.Labels{
		resultLabel: result,
	}).Inc()
}

func instrumentBuildLatency(kind buildKind, start time.Time) {
	buildLatency.With(prometheus.Labels{
		buildKindLabel: kind.String(),
	}).Observe(time.Since(start).Seconds())
}

func instrumentSetupError(err error) {
	setupErrors.
		With(prometheus.Labels{
			errTypeLabel: errors.Type(err),
		}).
		Inc()
}

func instrumentFrameError(err error) {
	frameErrors.
		With(prometheus.Labels{
			errTypeLabel: errors.Type(err),
		}).
		Inc()
}

func instrumentUpload(buffer string, size int) {
	uploadedBytes.With(prometheus.Labels{
		bufferLabel: buffer,
	}).Add(float64(size))
}
