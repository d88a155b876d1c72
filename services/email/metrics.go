package emailsvc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var emailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "emails_sent_total",
	Help: "Number of emails handed to a transport, by transport, template and status.",
}, []string{"transport", "template", "status"})

func recordSend(transport, template string, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	if template == "" {
		template = "plain"
	}
	emailsSent.WithLabelValues(transport, template, status).Inc()
}
