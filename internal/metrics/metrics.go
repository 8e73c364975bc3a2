package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// dispatchAttempts counts sender attempts.
	// Labels:
	// - channel: "email" or "whatsapp"
	// - outcome: ledger outcome of the attempt
	dispatchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crces",
			Subsystem: "dispatch",
			Name:      "attempts_total",
			Help:      "Dispatch attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "crces",
			Subsystem: "dispatch",
			Name:      "send_duration_seconds",
			Help:      "Latency of channel sender calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	campaignTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crces",
			Subsystem: "campaign",
			Name:      "transitions_total",
			Help:      "Campaign status transitions by target status",
		},
		[]string{"status"},
	)

	// leaseLost counts acks rejected because the job was already settled.
	leaseLost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crces",
			Subsystem: "dispatch",
			Name:      "lease_lost_total",
			Help:      "Worker acknowledgements rejected due to a lost lease",
		},
		[]string{"channel"},
	)

	// handlerFailures counts events a subscriber could not process after retries.
	handlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crces",
			Subsystem: "events",
			Name:      "handler_failures_total",
			Help:      "Events dropped by a subscriber after exhausting retries",
		},
		[]string{"handler", "topic"},
	)
)

func ObserveAttempt(channel, outcome string) {
	dispatchAttempts.WithLabelValues(channel, outcome).Inc()
}

func ObserveSend(channel string, d time.Duration) {
	sendDuration.WithLabelValues(channel).Observe(d.Seconds())
}

func CampaignTransition(status string) {
	campaignTransitions.WithLabelValues(status).Inc()
}

func LeaseLost(channel string) {
	leaseLost.WithLabelValues(channel).Inc()
}

func HandlerFailure(handler, topic string) {
	handlerFailures.WithLabelValues(handler, topic).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
