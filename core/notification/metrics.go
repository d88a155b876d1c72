package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_created_total",
		Help: "Number of notifications stored, by type and category.",
	}, []string{"type", "category"})

	broadcastDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notification_broadcast_duration_seconds",
		Help:    "Time taken to email one notification to every active subscriber.",
		Buckets: prometheus.DefBuckets,
	}, []string{"template"})

	broadcastSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_broadcast_skipped_total",
		Help: "Subscribers skipped because they opted out of the notification category.",
	}, []string{"category"})
)
