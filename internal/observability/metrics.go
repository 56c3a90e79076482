package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	SubmitResultOK          = "ok"
	SubmitResultRecoverable = "recoverable"
	SubmitResultFatal       = "fatal"
	SubmitResultLost        = "lost"
	SubmitResultCanceled    = "canceled"
)

var (
	registerOnce sync.Once

	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replica",
			Subsystem: "receive",
			Name:      "messages_total",
			Help:      "Messages read from the authority by kind.",
		},
		[]string{"client", "kind"},
	)
	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replica",
			Subsystem: "subscriber",
			Name:      "deliveries_total",
			Help:      "Transactions delivered to the subscriber, by origin.",
		},
		[]string{"client", "origin"},
	)
	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replica",
			Subsystem: "submit",
			Name:      "requests_total",
			Help:      "Submitted transactions by result.",
		},
		[]string{"client", "result"},
	)
	submitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "replica",
			Subsystem: "submit",
			Name:      "duration_seconds",
			Help:      "Time from send to acknowledgment.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"client", "result"},
	)
	clockSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "replica",
			Subsystem: "clock",
			Name:      "timestamp_seconds",
			Help:      "Logical clock value mirrored from the authority.",
		},
		[]string{"client"},
	)
	lastSequence = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "replica",
			Subsystem: "subscriber",
			Name:      "last_sequence",
			Help:      "Sequence number of the last delivered transaction.",
		},
		[]string{"client"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replica",
			Subsystem: "admin_http",
			Name:      "requests_total",
			Help:      "Admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	receiveLoopUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "replica",
			Subsystem: "receive",
			Name:      "loop_up",
			Help:      "1 while the receive loop is running.",
		},
		[]string{"client"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			messagesReceived,
			deliveries,
			submissions,
			submitDuration,
			clockSeconds,
			lastSequence,
			receiveLoopUp,
			httpRequests,
		)
	})
}

func RecordMessage(client, kind string) {
	RegisterMetrics()
	messagesReceived.WithLabelValues(client, kind).Inc()
}

func RecordDelivery(client, origin string, sequence uint64) {
	RegisterMetrics()
	deliveries.WithLabelValues(client, origin).Inc()
	lastSequence.WithLabelValues(client).Set(float64(sequence))
}

func RecordSubmit(client, result string, duration time.Duration) {
	RegisterMetrics()
	submissions.WithLabelValues(client, result).Inc()
	submitDuration.WithLabelValues(client, result).Observe(duration.Seconds())
}

func RecordClock(client string, t time.Time) {
	RegisterMetrics()
	clockSeconds.WithLabelValues(client).Set(float64(t.UnixNano()) / float64(time.Second))
}

func RecordReceiveLoop(client string, up bool) {
	RegisterMetrics()
	receiveLoopUp.WithLabelValues(client).Set(boolGauge(up))
}

func RecordHTTPRequest(method, path string, status int) {
	RegisterMetrics()
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
