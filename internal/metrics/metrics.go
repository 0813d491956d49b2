// Package metrics exposes run, check and transport metrics on a private
// Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"

	"github.com/khanhnv2901/seca-compliance/internal/check"
	"github.com/khanhnv2901/seca-compliance/internal/target"
)

// Namespace prefixes every metric name.
const Namespace = "seca"

// Command outcomes.
const (
	OutcomeOK             = "ok"
	OutcomeNonzero        = "nonzero_exit"
	OutcomeTransportError = "transport_error"
)

// Metrics holds the collectors. The zero value is not usable; call New.
type Metrics struct {
	registry *prometheus.Registry

	checksTotal   *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	commandsTotal *prometheus.CounterVec
	runsTotal     *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry. With withProcess set,
// Go runtime and process collectors are registered too, which is what a
// long-running server wants.
func New(withProcess bool) *Metrics {
	reg := prometheus.NewRegistry()
	if withProcess {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		checksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "checks_total",
			Help:      "Check results by category and status.",
		}, []string{"category", "status"}),
		checkDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "check_duration_seconds",
			Help:      "Time spent in check bodies.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"category"}),
		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "target_commands_total",
			Help:      "Commands executed on targets by target kind and outcome.",
		}, []string{"kind", "outcome"}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Completed runs by overall status.",
		}, []string{"overall"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "breaker_state",
			Help:      "SSH transport circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"target"}),
	}
}

// ObserveResult records one check result.
func (m *Metrics) ObserveResult(res check.Result) {
	m.checksTotal.WithLabelValues(res.Category, res.Status.String()).Inc()
	if res.Status != check.StatusSkipped {
		m.checkDuration.WithLabelValues(res.Category).Observe(res.Duration.Seconds())
	}
}

// ObserveCommand has the target.CommandObserver signature.
func (m *Metrics) ObserveCommand(kind target.Kind, _ string, out target.Output, err error, _ time.Duration) {
	outcome := OutcomeOK
	switch {
	case err != nil:
		outcome = OutcomeTransportError
	case out.ExitCode != 0:
		outcome = OutcomeNonzero
	}
	m.commandsTotal.WithLabelValues(string(kind), outcome).Inc()
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(overall check.Status) {
	m.runsTotal.WithLabelValues(overall.String()).Inc()
}

// BreakerChanged has the signature of target.SSHConfig.OnBreakerChange.
func (m *Metrics) BreakerChanged(name string, _, to gobreaker.State) {
	m.breakerState.WithLabelValues(name).Set(float64(to))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the current values for the node_exporter textfile
// collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
