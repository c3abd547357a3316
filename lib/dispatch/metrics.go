package dispatch

import (
	"time"

	"github.com/fiffu/regwatch/lib/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	channelTypeLabel = "channel_type"
	outcomeLabel     = "outcome"
)

// MetricVecs stores delivery metrics collected by the dispatcher and its
// retry queue.
type MetricVecs struct {
	notifications *prometheus.CounterVec
	latencies     *prometheus.HistogramVec
	retryDepth    prometheus.Gauge
	breakersOpen  prometheus.Gauge
}

func NewMetricVecs(reg prometheus.Registerer) MetricVecs {
	notifications := promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "regwatch_notifications_total",
			Help: "A counter for delivery attempts per channel type and outcome",
		},
		[]string{channelTypeLabel, outcomeLabel},
	)

	latencies := promauto.With(reg).NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "regwatch_dispatch_latency_ms",
			Help: "A histogram of send latencies per channel type",
			Buckets: []float64{
				1, 5, 10, 50,
				100, 250, 500,
				1000, 2500, 5000,
				10000, 30000,
			},
		},
		[]string{channelTypeLabel},
	)

	retryDepth := promauto.With(reg).NewGauge(
		prometheus.GaugeOpts{
			Name: "regwatch_retry_queue_depth",
			Help: "A gauge of notifications currently waiting in the retry queue",
		},
	)

	breakersOpen := promauto.With(reg).NewGauge(
		prometheus.GaugeOpts{
			Name: "regwatch_circuit_breakers_open",
			Help: "A gauge of channels whose circuit breaker is currently open",
		},
	)

	return MetricVecs{
		notifications: notifications,
		latencies:     latencies,
		retryDepth:    retryDepth,
		breakersOpen:  breakersOpen,
	}
}

func (mv MetricVecs) observeSend(channelType models.ChannelType, sendErr error, elapsed time.Duration) {
	outcome := "sent"
	if sendErr != nil {
		outcome = "failed"
	}
	mv.notifications.WithLabelValues(string(channelType), outcome).Inc()
	mv.latencies.WithLabelValues(string(channelType)).Observe(float64(elapsed.Milliseconds()))
}

func (mv MetricVecs) setRetryDepth(n int) {
	mv.retryDepth.Set(float64(n))
}

func (mv MetricVecs) setBreakersOpen(n int) {
	mv.breakersOpen.Set(float64(n))
}
