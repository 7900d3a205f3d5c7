package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/indi-watchdog/internal/watchdog"
)

const namespace = "indiwatchdog"

// Restart results used as the "result" label.
const (
	resultFired      = "fired"
	resultSuppressed = "suppressed"
	resultFailed     = "failed"
)

// Metrics exports watchdog activity to Prometheus. It implements
// watchdog.Observer.
type Metrics struct {
	registry *prometheus.Registry

	ticks           prometheus.Counter
	tickDuration    prometheus.Histogram
	actions         *prometheus.CounterVec
	restarts        *prometheus.CounterVec
	sessions        *prometheus.CounterVec
	brokerConnected prometheus.Gauge
	deviceConnected *prometheus.GaugeVec
	devicePresent   *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them, together with the
// Go runtime and process collectors, on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Reconciliation sweeps completed.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent in one reconciliation sweep.",
			Buckets:   prometheus.DefBuckets,
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Corrective actions chosen per device.",
		}, []string{"device", "action"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restart_requests_total",
			Help:      "Driver restart requests by outcome.",
		}, []string{"driver", "reason", "result"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "INDI session state transitions.",
		}, []string{"state"}),
		brokerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_connected",
			Help:      "1 while the INDI server session is ready.",
		}),
		deviceConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_connected",
			Help:      "1 when the device reported CONNECT on the last sweep.",
		}, []string{"device"}),
		devicePresent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_node_present",
			Help:      "1 when the device's local node existed on the last sweep.",
		}, []string{"device"}),
	}

	m.registry.MustRegister(
		m.ticks,
		m.tickDuration,
		m.actions,
		m.restarts,
		m.sessions,
		m.brokerConnected,
		m.deviceConnected,
		m.devicePresent,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) OnSession(ev watchdog.SessionEvent) {
	m.sessions.WithLabelValues(ev.StateName).Inc()
	if ev.State == watchdog.StateConnected {
		m.brokerConnected.Set(1)
	} else {
		m.brokerConnected.Set(0)
	}
}

func (m *Metrics) OnTick(report watchdog.TickReport) {
	m.ticks.Inc()
	m.tickDuration.Observe(report.Duration.Seconds())

	for _, out := range report.Outcomes {
		m.actions.WithLabelValues(out.Device, out.Action.String()).Inc()
		m.deviceConnected.WithLabelValues(out.Device).Set(boolGauge(out.Observation.RemoteConnected))
		m.devicePresent.WithLabelValues(out.Device).Set(boolGauge(out.Observation.LocalNodeExists))
	}
}

func (m *Metrics) OnRestart(report watchdog.RestartReport) {
	result := resultSuppressed
	switch {
	case report.Fired && report.Event.Error != "":
		result = resultFailed
	case report.Fired:
		result = resultFired
	}
	m.restarts.WithLabelValues(report.Event.Driver, report.Event.Reason, result).Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
