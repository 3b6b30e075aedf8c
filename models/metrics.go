package models

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	instanceCompactionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "instance_store_compactions_total",
		Help: "The total number of instance store compactions.",
	})

	instancesRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "instance_store_removed_total",
		Help: "The total number of instances removed from instance stores.",
	})
)

func instrumentCompaction(removed int) {
	instanceCompactionsTotal.Inc()
	instancesRemovedTotal.Add(float64(removed))
}
