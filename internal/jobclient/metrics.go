package jobclient

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Message kinds used as metric labels.
const (
	kindAdmin     = "admin"
	kindRunJob    = "run_job"
	kindJobUpdate = "job_update"
	kindResponse  = "response"
	kindUnknown   = "unknown"
)

var (
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "comfyclient",
			Subsystem: "client",
			Name:      "messages_total",
			Help:      "Messages handled by kind and result",
		},
		[]string{"kind", "result"},
	)

	messageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "comfyclient",
			Subsystem: "client",
			Name:      "message_duration_seconds",
			Help:      "Time spent handling a message, including forwarding",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	runResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "comfyclient",
			Subsystem: "client",
			Name:      "run_responses_total",
			Help:      "Router answers to RunJob by outcome",
		},
		[]string{"outcome"},
	)

	imagesSavedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "comfyclient",
			Subsystem: "client",
			Name:      "images_saved_total",
			Help:      "Images received through JobUpdate and stored",
		},
	)
)

func init() {
	prometheus.MustRegister(messagesTotal, messageDuration, runResponsesTotal, imagesSavedTotal)
}

func observeMessage(kind string, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	messagesTotal.WithLabelValues(kind, result).Inc()
	messageDuration.WithLabelValues(kind).Observe(d.Seconds())
}
