package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics captures asset lifecycle and local server counters.
type Metrics interface {
	IncInstalls(result string)
	ObserveInstallDuration(durationSeconds float64)
	IncServerStarts(result string)
	IncActivations(result string)
}

// BridgeMetrics captures request metrics for the plugin bridge.
type BridgeMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements Metrics and BridgeMetrics without emitting anything.
type Noop struct{}

func (Noop) IncInstalls(string)                             {}
func (Noop) ObserveInstallDuration(float64)                 {}
func (Noop) IncServerStarts(string)                         {}
func (Noop) IncActivations(string)                          {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	installs        *prometheus.CounterVec
	installDuration prometheus.Histogram
	serverStarts    *prometheus.CounterVec
	activations     *prometheus.CounterVec
	once            sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_installs_total",
			Help:      "Asset bundle installs by result",
		}, []string{"result"}),
		installDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "asset_install_duration_seconds",
			Help:      "Asset bundle install duration including download and extraction",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		serverStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_starts_total",
			Help:      "Local server start attempts by result",
		}, []string{"result"}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activations_total",
			Help:      "Bundle activations by result",
		}, []string{"result"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.installs, p.installDuration, p.serverStarts, p.activations)
	})
}

func (p *Prom) IncInstalls(result string) {
	p.installs.WithLabelValues(result).Inc()
}

func (p *Prom) ObserveInstallDuration(durationSeconds float64) {
	p.installDuration.Observe(durationSeconds)
}

func (p *Prom) IncServerStarts(result string) {
	p.serverStarts.WithLabelValues(result).Inc()
}

func (p *Prom) IncActivations(result string) {
	p.activations.WithLabelValues(result).Inc()
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Bridge metrics ---

type bridgeProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	once     sync.Once
}

// NewBridgeProm constructs a BridgeMetrics with counters/histograms.
func NewBridgeProm(namespace string) BridgeMetrics {
	b := &bridgeProm{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	b.once.Do(func() {
		prometheus.MustRegister(b.requests, b.latency)
	})
	return b
}

func (b *bridgeProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	b.requests.WithLabelValues(method, route, status).Inc()
	b.latency.WithLabelValues(method, route).Observe(durationSeconds)
}
