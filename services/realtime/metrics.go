package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_connections",
		Help: "Number of connected realtime clients.",
	})

	eventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_events_total",
		Help: "Number of realtime events delivered or relayed, by event name.",
	}, []string{"event"})

	clientsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_clients_dropped_total",
		Help: "Clients disconnected because their outbound buffer was full.",
	})
)
