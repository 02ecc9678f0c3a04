package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ccmigrate_deliveries",
	Help: "Number of delivery attempts to other pods",
}, []string{"status"})

var jobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ccmigrate_jobs_failed",
	Help: "Number of queued jobs that could not be processed",
}, []string{"queue"})
