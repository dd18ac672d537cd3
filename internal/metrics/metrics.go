package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oraclebridge"

// Recorder holds the bridge's counters on a private registry so tests and
// multiple runners do not collide on the global one.
type Recorder struct {
	registry    *prometheus.Registry
	cycles      *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	submissions *prometheus.CounterVec
	taskCount   prometheus.Gauge
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Reconciliation sweeps by result.",
		}, []string{"result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_outcomes_total",
			Help:      "Per-task outcomes by reason.",
		}, []string{"reason"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Decisions produced by the engine.",
		}, []string{"decision", "mock"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Response transactions by result.",
		}, []string{"result"}),
		taskCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latest_task_count",
			Help:      "Task count read at the start of the last sweep.",
		}),
	}
	r.registry.MustRegister(r.cycles, r.outcomes, r.decisions, r.submissions, r.taskCount)
	return r
}

// The methods below accept a nil receiver so components can run without
// metrics wired.

func (r *Recorder) Cycle(result string) {
	if r == nil {
		return
	}
	r.cycles.WithLabelValues(result).Inc()
}

func (r *Recorder) Outcome(reason string) {
	if r == nil {
		return
	}
	r.outcomes.WithLabelValues(reason).Inc()
}

func (r *Recorder) Decision(decision string, mock bool) {
	if r == nil {
		return
	}
	m := "false"
	if mock {
		m = "true"
	}
	r.decisions.WithLabelValues(decision, m).Inc()
}

func (r *Recorder) Submission(result string) {
	if r == nil {
		return
	}
	r.submissions.WithLabelValues(result).Inc()
}

func (r *Recorder) TaskCount(n uint32) {
	if r == nil {
		return
	}
	r.taskCount.Set(float64(n))
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
