package monitoring

import (
	"strconv"
	"time"

	"teamdesk/internal/core/domain"
	"teamdesk/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	roomsActive       prometheus.Gauge

	envelopesForwarded *prometheus.CounterVec
	envelopeFanout     prometheus.Histogram
	routingMisses      *prometheus.CounterVec
	framesRejected     *prometheus.CounterVec

	httpRequestDuration *prometheus.HistogramVec
}

var _ ports.RelayMetrics = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the relay collectors with reg. Pass
// prometheus.DefaultRegisterer to expose them on /metrics.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "teamdesk_relay_connections_active",
			Help: "Number of websocket endpoints currently connected",
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "teamdesk_relay_connections_total",
			Help: "Total number of websocket endpoints accepted",
		}),

		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "teamdesk_relay_rooms_active",
			Help: "Number of non-empty rooms, endpoint rooms included",
		}),

		envelopesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "teamdesk_relay_envelopes_forwarded_total",
			Help: "Signaling envelopes forwarded, by kind",
		}, []string{"kind"}),

		envelopeFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "teamdesk_relay_envelope_fanout",
			Help:    "Local recipients per forwarded envelope",
			Buckets: []float64{0, 1, 2, 4, 8, 16},
		}),

		routingMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "teamdesk_relay_routing_misses_total",
			Help: "Envelopes whose target had no other local member",
		}, []string{"kind"}),

		framesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "teamdesk_relay_frames_rejected_total",
			Help: "Inbound frames dropped by the relay, by reason",
		}, []string{"reason"}),

		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "teamdesk_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (p *PrometheusCollector) ConnectionOpened() {
	p.connectionsActive.Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) ConnectionClosed() {
	p.connectionsActive.Dec()
}

func (p *PrometheusCollector) EnvelopeForwarded(kind domain.SignalKind, recipients int) {
	p.envelopesForwarded.WithLabelValues(string(kind)).Inc()
	p.envelopeFanout.Observe(float64(recipients))
}

func (p *PrometheusCollector) RoutingMiss(kind domain.SignalKind) {
	p.routingMisses.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) FrameRejected(reason string) {
	p.framesRejected.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) SetActiveRooms(n int) {
	p.roomsActive.Set(float64(n))
}

func (p *PrometheusCollector) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	p.httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
