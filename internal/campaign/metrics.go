package campaign

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dispatch"

var (
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of queue entries by status",
		},
		[]string{"status"},
	)

	emailsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "emails_total",
			Help:      "Total send attempts by outcome",
		},
		[]string{"outcome"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "send_duration_seconds",
			Help:      "Time to complete one send attempt",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)

	rateLimitRefusals = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "rate_limit_refusals_total",
			Help:      "Send attempts deferred by the rate limiter",
		},
	)

	campaignsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "campaigns_finished_total",
			Help:      "Campaigns reaching a terminal status",
		},
		[]string{"status"},
	)
)

func recordSendOutcome(outcome string, duration time.Duration) {
	emailsProcessed.WithLabelValues(outcome).Inc()
	sendDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func recordRateLimitRefusal() {
	rateLimitRefusals.Inc()
}

func recordCampaignFinished(status string) {
	campaignsCompleted.WithLabelValues(status).Inc()
}

// RecordQueueStats updates queue depth metrics.
func RecordQueueStats(stats *QueueStats) {
	queueDepth.WithLabelValues("queued").Set(float64(stats.Queued))
	queueDepth.WithLabelValues("sending").Set(float64(stats.Sending))
	queueDepth.WithLabelValues("sent").Set(float64(stats.Sent))
	queueDepth.WithLabelValues("failed").Set(float64(stats.Failed))
}
