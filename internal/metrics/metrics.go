package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultMetricsNamespace = "fansync"

// Config contains metrics configuration.
type Config struct {
	// Namespace is the prometheus namespace for all metrics. If empty, defaults to "fansync".
	Namespace string
	// ConstLabels are labels added to all metrics as constant labels.
	ConstLabels map[string]string
	// Registerer is the prometheus registerer to use. If nil, prometheus.DefaultRegisterer is used.
	Registerer prometheus.Registerer
}

// Registry holds all FanSync client metrics.
type Registry struct {
	config Config

	connectStageDurationSummary *prometheus.SummaryVec
	commandDurationSummary      prometheus.Summary
	commandErrorsTotal          *prometheus.CounterVec
	reconnectsTotal             prometheus.Counter
	pushesReceivedTotal         prometheus.Counter
	pushesDroppedTotal          prometheus.Counter
	tokenRefreshesTotal         prometheus.Counter
	connected                   prometheus.Gauge
}

// Exported metric handles populated by Init.
var (
	ConnectStageDurationSummary *prometheus.SummaryVec
	CommandDurationSummary      prometheus.Summary
	CommandErrorsTotal          *prometheus.CounterVec
	ReconnectsTotal             prometheus.Counter
	PushesReceivedTotal         prometheus.Counter
	PushesDroppedTotal          prometheus.Counter
	TokenRefreshesTotal         prometheus.Counter
	Connected                   prometheus.Gauge
)

// Init initializes the metrics registry with the provided configuration.
// Returns an error if metric registration fails.
func Init(cfg Config) error {
	reg, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	ConnectStageDurationSummary = reg.connectStageDurationSummary
	CommandDurationSummary = reg.commandDurationSummary
	CommandErrorsTotal = reg.commandErrorsTotal
	ReconnectsTotal = reg.reconnectsTotal
	PushesReceivedTotal = reg.pushesReceivedTotal
	PushesDroppedTotal = reg.pushesDroppedTotal
	TokenRefreshesTotal = reg.tokenRefreshesTotal
	Connected = reg.connected

	return nil
}

func newRegistry(cfg Config) (*Registry, error) {
	registerer := cfg.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	metricsNamespace := cfg.Namespace
	if metricsNamespace == "" {
		metricsNamespace = defaultMetricsNamespace
	}

	constLabels := prometheus.Labels(cfg.ConstLabels)

	m := &Registry{
		config: cfg,
	}

	m.connectStageDurationSummary = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "connect",
		Name:        "stage_duration_seconds",
		Objectives:  map[float64]float64{0.5: 0.05, 0.99: 0.001, 0.999: 0.0001},
		Help:        "Duration of connection establishment stage.",
		ConstLabels: constLabels,
	}, []string{"stage"})

	m.commandDurationSummary = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "command",
		Name:        "duration_seconds",
		Objectives:  map[float64]float64{0.5: 0.05, 0.99: 0.001, 0.999: 0.0001},
		Help:        "Duration of correlated command round trip.",
		ConstLabels: constLabels,
	})

	m.commandErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "command",
		Name:        "errors_total",
		Help:        "Command error count.",
		ConstLabels: constLabels,
	}, []string{"type"})

	m.reconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "transport",
		Name:        "reconnects_total",
		Help:        "Number of websocket reconnects.",
		ConstLabels: constLabels,
	})

	m.pushesReceivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "transport",
		Name:        "pushes_received_total",
		Help:        "Number of unsolicited state push frames received.",
		ConstLabels: constLabels,
	})

	m.pushesDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "transport",
		Name:        "pushes_dropped_total",
		Help:        "Number of push frames dropped by a saturated dispatch queue.",
		ConstLabels: constLabels,
	})

	m.tokenRefreshesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "auth",
		Name:        "token_refreshes_total",
		Help:        "Number of bearer token refreshes.",
		ConstLabels: constLabels,
	})

	m.connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "transport",
		Name:        "connected",
		Help:        "Whether the realtime connection is currently open.",
		ConstLabels: constLabels,
	})

	for _, collector := range []prometheus.Collector{
		m.connectStageDurationSummary,
		m.commandDurationSummary,
		m.commandErrorsTotal,
		m.reconnectsTotal,
		m.pushesReceivedTotal,
		m.pushesDroppedTotal,
		m.tokenRefreshesTotal,
		m.connected,
	} {
		if err := registerer.Register(collector); err != nil {
			var alreadyRegistered prometheus.AlreadyRegisteredError
			if !errors.As(err, &alreadyRegistered) {
				return nil, err
			}
		}
	}

	return m, nil
}
