package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	MessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Total number of messages written.",
		},
		[]string{"kind"},
	)

	StoreWriteFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_store_write_failures_total",
			Help: "Store writes that failed after retries.",
		},
		[]string{"op"},
	)

	ReadAcksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_read_acks_total",
			Help: "Read flags written for received messages.",
		},
	)

	ExpiredRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ephemeral_removed_total",
			Help: "Ephemeral messages removed by the sweeper.",
		},
	)

	SyncLostTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sync_lost_total",
			Help: "Listener failures seen by live views.",
		},
		[]string{"view"},
	)

	LiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_sessions",
			Help: "Open WebSocket sessions.",
		},
	)
)

var once sync.Once

// MustRegister registers every collector on the default registry with a
// constant service label. Later calls are no-ops.
func MustRegister(serviceName string) {
	once.Do(func() {
		reg := prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, prometheus.DefaultRegisterer)
		reg.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
			MessagesSentTotal,
			StoreWriteFailuresTotal,
			ReadAcksTotal,
			ExpiredRemovedTotal,
			SyncLostTotal,
			LiveSessions,
		)
	})
}
