package director

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives orchestration metrics. NoopRecorder is the default.
type Recorder interface {
	// ObserveTransition records a finished run-level transition and whether it completed
	ObserveTransition(runlevel string, d time.Duration, completed bool)
	// IncAction counts a finished start or stop action by result
	IncAction(action string, result string)
	// IncDiagnostic counts a diagnostic by problem
	IncDiagnostic(problem Problem)
	// SetJobs reports the number of tracked jobs
	SetJobs(n int)
	// SetTrackedProcesses reports the number of tracked processes
	SetTrackedProcesses(n int)
}

// Action results
const (
	ResultDone  = "done"
	ResultStuck = "stuck"
)

// NoopRecorder discards every metric
type NoopRecorder struct{}

func (NoopRecorder) ObserveTransition(string, time.Duration, bool) {}
func (NoopRecorder) IncAction(string, string)                      {}
func (NoopRecorder) IncDiagnostic(Problem)                         {}
func (NoopRecorder) SetJobs(int)                                   {}
func (NoopRecorder) SetTrackedProcesses(int)                       {}

// PrometheusRecorder implements Recorder with Prometheus collectors
type PrometheusRecorder struct {
	transitions *prom.HistogramVec
	actions     *prom.CounterVec
	diagnostics *prom.CounterVec
	jobs        prom.Gauge
	processes   prom.Gauge
}

// NewPrometheusRecorder creates the collectors and registers them on reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	p := &PrometheusRecorder{
		transitions: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "director",
			Name:      "transition_duration_seconds",
			Help:      "Duration of run-level transitions",
			Buckets:   prom.DefBuckets,
		}, []string{"runlevel", "outcome"}),
		actions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "director",
			Name:      "actions_total",
			Help:      "Start and stop actions by result",
		}, []string{"action", "result"}),
		diagnostics: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "director",
			Name:      "diagnostics_total",
			Help:      "Diagnostics raised by problem",
		}, []string{"problem"}),
		jobs: prom.NewGauge(prom.GaugeOpts{
			Namespace: "director",
			Name:      "jobs",
			Help:      "Providers with a tracked process tree",
		}),
		processes: prom.NewGauge(prom.GaugeOpts{
			Namespace: "director",
			Name:      "tracked_processes",
			Help:      "Processes tracked across all jobs",
		}),
	}
	reg.MustRegister(p.transitions, p.actions, p.diagnostics, p.jobs, p.processes)
	return p
}

func (p *PrometheusRecorder) ObserveTransition(runlevel string, d time.Duration, completed bool) {
	outcome := ResultDone
	if !completed {
		outcome = ResultStuck
	}
	p.transitions.WithLabelValues(runlevel, outcome).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncAction(action, result string) {
	p.actions.WithLabelValues(action, result).Inc()
}

func (p *PrometheusRecorder) IncDiagnostic(problem Problem) {
	p.diagnostics.WithLabelValues(problem.String()).Inc()
}

func (p *PrometheusRecorder) SetJobs(n int) {
	p.jobs.Set(float64(n))
}

func (p *PrometheusRecorder) SetTrackedProcesses(n int) {
	p.processes.Set(float64(n))
}

// MetricsHandler serves the metrics registered on reg
func MetricsHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
