package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"daemon", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"daemon", "method", "path", "status"},
	)
	gatewayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botlink",
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Calls dispatched to the bot runtime.",
		},
		[]string{"action", "outcome"},
	)
	gatewayCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botlink",
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Call round-trip duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"action", "outcome"},
	)
	peerConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "botlink",
			Subsystem: "gateway",
			Name:      "peer_connections",
			Help:      "Currently live peer connections.",
		},
	)
	pendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "botlink",
			Subsystem: "gateway",
			Name:      "pending_requests",
			Help:      "Calls awaiting a correlated response.",
		},
	)
	inboundEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botlink",
			Subsystem: "gateway",
			Name:      "events_total",
			Help:      "Unsolicited peer events by post type.",
		},
		[]string{"post_type"},
	)
	droppedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botlink",
			Subsystem: "gateway",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped by reason.",
		},
		[]string{"reason"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			gatewayCalls, gatewayCallDuration,
			peerConnections, pendingRequests,
			inboundEvents, droppedFrames,
		)
	})
}

func RecordHTTPRequest(daemon, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(daemon, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(daemon, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordCall(action, outcome string, duration time.Duration) {
	RegisterMetrics()
	gatewayCalls.WithLabelValues(action, outcome).Inc()
	gatewayCallDuration.WithLabelValues(action, outcome).Observe(duration.Seconds())
}

func SetPeerConnections(n int) {
	RegisterMetrics()
	peerConnections.Set(float64(n))
}

func SetPendingRequests(n int) {
	RegisterMetrics()
	pendingRequests.Set(float64(n))
}

func RecordEvent(postType string) {
	RegisterMetrics()
	if postType == "" {
		postType = "unknown"
	}
	inboundEvents.WithLabelValues(postType).Inc()
}

func RecordDroppedFrame(reason string) {
	RegisterMetrics()
	droppedFrames.WithLabelValues(reason).Inc()
}
