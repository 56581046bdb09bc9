package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stackguard"

// Metrics holds the collectors of one process on a private registry
type Metrics struct {
	registry *prometheus.Registry

	rpcCalls          *prometheus.CounterVec
	reconcilePasses   prometheus.Counter
	reconcilePushes   *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
}

// New creates the collectors, including Go runtime and process metrics
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		rpcCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_calls_total",
			Help:      "Security calls routed by target and outcome.",
		}, []string{"op", "target", "outcome"}),
		reconcilePasses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_passes_total",
			Help:      "Completed reconciliation passes.",
		}),
		reconcilePushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_pushes_total",
			Help:      "State changes applied by reconciliation.",
		}, []string{"kind"}),
		reconcileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of reconciliation passes.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms .. ~16s
		}),
	}
}

// ObserveCall counts a routed call
func (m *Metrics) ObserveCall(op, target string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.rpcCalls.WithLabelValues(op, target, outcome).Inc()
}

// ReconcilePass records a finished pass
func (m *Metrics) ReconcilePass(d time.Duration) {
	m.reconcilePasses.Inc()
	m.reconcileDuration.Observe(d.Seconds())
}

// ReconcilePush counts a state change made by reconciliation
func (m *Metrics) ReconcilePush(kind string) {
	m.reconcilePushes.WithLabelValues(kind).Inc()
}

// WatchNotifications exposes the outbound queue counters
func (m *Metrics) WatchNotifications(dropped func() int64, pending func() int) {
	factory := promauto.With(m.registry)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_dropped_total",
		Help:      "Notifications dropped because the outbound queue was full.",
	}, func() float64 { return float64(dropped()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "notifications_pending",
		Help:      "Notifications waiting for delivery.",
	}, func() float64 { return float64(pending()) })
}

// WatchSecurity exposes the controller state as gauges
func (m *Metrics) WatchSecurity(armed, alarm func() bool) {
	factory := promauto.With(m.registry)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "armed",
		Help:      "1 when the local unit is armed.",
	}, func() float64 { return boolValue(armed()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "alarm",
		Help:      "1 when the local alarm is active.",
	}, func() float64 { return boolValue(alarm()) })
}

// WatchUnits exposes the number of active units
func (m *Metrics) WatchUnits(active func() int) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "units_active",
		Help:      "Units currently reachable, including the local unit.",
	}, func() float64 { return float64(active()) })
}

// WatchMQTT exposes the broker connection state
func (m *Metrics) WatchMQTT(connected func() bool) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mqtt_connected",
		Help:      "1 while the MQTT broker connection is up.",
	}, func() float64 { return boolValue(connected()) })
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
