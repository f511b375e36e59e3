// Package metrics defines the Prometheus collectors exported by the
// gateway multiplexer, and the HTTP handler that renders them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps every collector the multiplexer reports.
type Registry struct {
	ClientsConnected      *prometheus.GaugeVec
	ClientsIdentifiedTotal prometheus.Counter
	ProtocolViolations    *prometheus.CounterVec
	EventsBroadcast       *prometheus.CounterVec
	EventsDropped         *prometheus.CounterVec
	ReadyWaitSeconds      prometheus.Histogram
	CompressedFrames      prometheus.Counter
	PlainFrames           prometheus.Counter
	ProcessCPUPercent     prometheus.Gauge
	ProcessRSSBytes       prometheus.Gauge
}

// New registers and returns a fresh collector set.
func New() *Registry {
	return &Registry{
		ClientsConnected: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gatewaymux_clients_connected",
			Help: "Currently connected local clients, by shard.",
		}, []string{"shard"}),
		ClientsIdentifiedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatewaymux_clients_identified_total",
			Help: "Total number of clients that completed IDENTIFY successfully.",
		}),
		ProtocolViolations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatewaymux_client_protocol_violations_total",
			Help: "Client protocol violations that resulted in connection close, by reason.",
		}, []string{"reason"}),
		EventsBroadcast: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatewaymux_events_broadcast_total",
			Help: "Dispatch events published to the per-shard broadcast, by shard.",
		}, []string{"shard"}),
		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatewaymux_events_dropped_total",
			Help: "Dispatch events a lagging client subscription missed, by shard.",
		}, []string{"shard"}),
		ReadyWaitSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatewaymux_ready_wait_seconds",
			Help:    "Time a client's shard-forward task spent suspended waiting for the shard's first READY.",
			Buckets: prometheus.DefBuckets,
		}),
		CompressedFrames: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatewaymux_compressed_frames_total",
			Help: "Outbound frames written in zlib-stream mode.",
		}),
		PlainFrames: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatewaymux_plain_frames_total",
			Help: "Outbound frames written uncompressed.",
		}),
		ProcessCPUPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gatewaymux_process_cpu_percent",
			Help: "Process CPU usage percentage, sampled periodically.",
		}),
		ProcessRSSBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gatewaymux_process_rss_bytes",
			Help: "Process resident set size in bytes, sampled periodically.",
		}),
	}
}

// Handler returns the HTTP handler for GET /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
