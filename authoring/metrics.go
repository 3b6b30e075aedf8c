package authoring

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	editLabel    = "edit"
	jobLabel     = "job"
	errTypeLabel = "error_type"

	editErase  = "erase"
	editPaint  = "paint"
	editModify = "modify"
)

var (
	editedInstances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authoring_edited_instances",
		Help: "The number of instances erased, painted or modified.",
	}, []string{
		editLabel,
	})

	jobLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "authoring_job_latency",
		Help: "The time to run an authoring job.",
	}, []string{
		jobLabel,
	})

	jobErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authoring_job_errors",
		Help: "The errors that stopped authoring jobs.",
	}, []string{
		jobLabel,
		errTypeLabel,
	})
)

func instrumentEdit(edit string, count int) {
	editedInstances.With(prometheus.Labels{
		editLabel: edit,
	}).Add(float64(count))
}

func instrumentJob(job string, start time.Time) {
	jobLatency.With(prometheus.Labels{
		jobLabel: job,
	}).Observe(time.Since(start).Seconds())
}

func instrumentJobError(job string, err error) {
	jobErrors.
		With(prometheus.Labels{
			jobLabel:     job,
			errTypeLabel: errors.Type(err),
		}).
		Inc()
}
