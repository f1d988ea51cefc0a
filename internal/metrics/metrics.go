package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/actuallyakshat/realtime-todos/internal/connection"
	"github.com/actuallyakshat/realtime-todos/internal/dispatch"
)

// Config configures metric registration.
type Config struct {
	// Namespace is the metrics namespace (default: "roomsync").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures metric registration.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Metrics implements the observer interfaces of the engine's packages.
type Metrics struct {
	framesReceived    *prometheus.CounterVec
	frameDecodeErrors prometheus.Counter
	reconnectAttempts prometheus.Counter
	connectionState   *prometheus.GaugeVec
	pendingWrites     prometheus.Gauge
	writesTotal       *prometheus.CounterVec
	broadcastsTotal   *prometheus.CounterVec
}

// New registers the engine metrics.
func New(opts ...Option) *Metrics {
	cfg := Config{
		Namespace: "roomsync",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	factory := promauto.With(cfg.Registry)

	m := &Metrics{
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "frames_received_total",
			Help:        "Websocket frames received by kind and dispatch outcome",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind", "outcome"}),

		frameDecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "frame_decode_errors_total",
			Help:        "Websocket frames that could not be decoded",
			ConstLabels: cfg.ConstLabels,
		}),

		reconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "reconnect_attempts_total",
			Help:        "Automatic reconnect attempts scheduled",
			ConstLabels: cfg.ConstLabels,
		}),

		connectionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "connection_state",
			Help:        "1 for the current room connection state, 0 otherwise",
			ConstLabels: cfg.ConstLabels,
		}, []string{"state"}),

		pendingWrites: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "pending_writes",
			Help:        "Coalesced writes currently in flight",
			ConstLabels: cfg.ConstLabels,
		}),

		writesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "writes_total",
			Help:        "Coalesced writes settled by channel and outcome",
			ConstLabels: cfg.ConstLabels,
		}, []string{"channel", "outcome"}),

		broadcastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "broadcasts_total",
			Help:        "Room broadcasts merged by kind and outcome",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind", "outcome"}),
	}

	m.ObserveState(connection.StateAbsent)

	return m
}

// ObserveFrame counts a dispatched frame.
func (m *Metrics) ObserveFrame(kind, outcome string) {
	if kind == "" {
		kind = "none"
	}
	m.framesReceived.WithLabelValues(kind, outcome).Inc()
	if outcome == dispatch.OutcomeDecodeError {
		m.frameDecodeErrors.Inc()
	}
}

// ObserveState sets the connection state gauge.
func (m *Metrics) ObserveState(state connection.State) {
	for _, s := range connection.States {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectionState.WithLabelValues(string(s)).Set(v)
	}
}

// ObserveReconnectAttempt counts a scheduled reconnect.
func (m *Metrics) ObserveReconnectAttempt() {
	m.reconnectAttempts.Inc()
}

// ObserveWrite counts a settled coalesced write.
func (m *Metrics) ObserveWrite(channel, outcome string) {
	m.writesTotal.WithLabelValues(channel, outcome).Inc()
}

// ObserveBroadcast counts a merged broadcast.
func (m *Metrics) ObserveBroadcast(kind, outcome string) {
	m.broadcastsTotal.WithLabelValues(kind, outcome).Inc()
}

// SetPending sets the pending writes gauge.
func (m *Metrics) SetPending(n int) {
	m.pendingWrites.Set(float64(n))
}
