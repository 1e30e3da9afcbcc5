package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests"},
		[]string{"route", "method", "status"},
	)
	ReqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request duration seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	InFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "http_in_flight_requests", Help: "In-flight HTTP requests"},
	)

	// Best-effort live broadcasts that failed to publish. Broadcast failures
	// are never surfaced to HTTP callers, so this counter is the only place
	// they become visible.
	BroadcastDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "broadcast_dropped_total", Help: "Live event broadcasts dropped"},
		[]string{"action"},
	)
	NoticesFannedOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notices_fanned_out_total", Help: "Notice rows written during fan-out"},
		[]string{"action"},
	)
)

func MustRegister() {
	prometheus.MustRegister(RequestsTotal, ReqDuration, InFlight, BroadcastDropped, NoticesFannedOut)
}
