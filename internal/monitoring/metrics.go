package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the multiplexer.
type Metrics struct {
	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter

	// Replay buffer metrics
	ChunksBuffered prometheus.Counter
	ChunksEvicted  prometheus.Counter
	ChunksReplayed prometheus.Counter

	// Resize metrics
	ResizesSent       prometheus.Counter
	ResizesSuppressed prometheus.Counter

	// Attach stream metrics
	SurfaceConnections prometheus.Gauge

	registry  *prometheus.Registry
	startTime time.Time
}

// NewMetrics creates a metrics collector with its own registry, so tests can
// construct isolated instances.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry:  reg,
		startTime: time.Now(),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "termmux_sessions_active",
			Help: "Number of live terminal sessions",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "termmux_sessions_total",
			Help: "Total number of terminal sessions created",
		}),
		ChunksBuffered: factory.NewCounter(prometheus.CounterOpts{
			Name: "termmux_chunks_buffered_total",
			Help: "Total output chunks appended to replay buffers",
		}),
		ChunksEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "termmux_chunks_evicted_total",
			Help: "Total chunks dropped by capacity eviction",
		}),
		ChunksReplayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "termmux_chunks_replayed_total",
			Help: "Total chunks written to a surface during replay",
		}),
		ResizesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "termmux_resizes_sent_total",
			Help: "Resize calls issued to the backend",
		}),
		ResizesSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "termmux_resizes_suppressed_total",
			Help: "Resize requests suppressed by deduplication",
		}),
		SurfaceConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "termmux_surface_connections",
			Help: "Number of connected rendering surfaces",
		}),
	}
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Uptime returns time since the collector was created.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
