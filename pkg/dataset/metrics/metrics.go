// Package metrics wraps the Prometheus instrumentation the dataset engine
// exposes: solve duration, per-group errors, and code-table loads. Grounded
// on the teacher's use of prometheus.Registerer in pkg/storage/sql (New
// accepts a Registerer and registers its collectors against it) and on
// solver.py's own time.time() instrumentation around solves and augments.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder is the narrow surface the solver/fetch/codetable packages use.
// Production code passes *Metrics; tests can pass NoOp.
type Recorder interface {
	ObserveSolve(entityType, dataset string, seconds float64)
	IncGroupError(entityType, dataset string)
	IncCodeTableLoad(fullname string)
}

// Metrics holds the registered Prometheus collectors.
type Metrics struct {
	solveDuration   *prometheus.HistogramVec
	groupErrors     *prometheus.CounterVec
	codeTableLoads  *prometheus.CounterVec
}

// New creates and registers the collectors against reg. Matches the
// teacher's pattern of taking a prometheus.Registerer and registering
// during construction rather than using the global registry; a
// registration failure is returned as the error.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		solveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dataset_engine",
			Name:      "solve_duration_seconds",
			Help:      "Time spent solving one (entity type, dataset) group.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entity_type", "dataset"}),
		groupErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dataset_engine",
			Name:      "group_errors_total",
			Help:      "Number of groups that failed to solve.",
		}, []string{"entity_type", "dataset"}),
		codeTableLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dataset_engine",
			Name:      "codetable_load_total",
			Help:      "Number of code-table lazy loads performed.",
		}, []string{"fullname"}),
	}
	for _, c := range []prometheus.Collector{m.solveDuration, m.groupErrors, m.codeTableLoads} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveSolve(entityType, dataset string, seconds float64) {
	m.solveDuration.WithLabelValues(entityType, dataset).Observe(seconds)
}

func (m *Metrics) IncGroupError(entityType, dataset string) {
	m.groupErrors.WithLabelValues(entityType, dataset).Inc()
}

func (m *Metrics) IncCodeTableLoad(fullname string) {
	m.codeTableLoads.WithLabelValues(fullname).Inc()
}

// NoOp is a Recorder that discards everything, used by tests and callers
// that don't want Prometheus wired in.
type NoOp struct{}

func (NoOp) ObserveSolve(string, string, float64) {}
func (NoOp) IncGroupError(string, string)         {}
func (NoOp) IncCodeTableLoad(string)              {}
