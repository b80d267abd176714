// Package metrics holds the prometheus collectors of the tracker core.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "tracker"

// Secondary write operations whose failures never fail the primary mutation.
const (
	OpSprintCleanup   = "sprint_cleanup"
	OpSprintRecompute = "sprint_recompute"
	OpActivity        = "activity"
	OpNotify          = "notify"
)

// Collectors groups the counters updated by the core. A nil *Collectors is
// valid and records nothing.
type Collectors struct {
	TaskMutations     *prometheus.CounterVec
	SprintRecomputes  prometheus.Counter
	SecondaryFailures *prometheus.CounterVec
	ActivityEntries   prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which tests use to read values without global state.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		TaskMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_mutations_total",
			Help:      "Committed task mutations by operation.",
		}, []string{"op"}),
		SprintRecomputes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sprint_recomputes_total",
			Help:      "Sprint aggregate recomputations written.",
		}),
		SecondaryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "secondary_failures_total",
			Help:      "Best-effort bookkeeping writes that failed.",
		}, []string{"op"}),
		ActivityEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_entries_total",
			Help:      "Activity entries appended.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.TaskMutations, c.SprintRecomputes, c.SecondaryFailures, c.ActivityEntries)
	}
	return c
}

// TaskMutation counts a committed create, update or delete.
func (c *Collectors) TaskMutation(op string) {
	if c == nil {
		return
	}
	c.TaskMutations.WithLabelValues(op).Inc()
}

// SprintRecomputed counts one counter write.
func (c *Collectors) SprintRecomputed() {
	if c == nil {
		return
	}
	c.SprintRecomputes.Inc()
}

// SecondaryFailure counts a failed best-effort write.
func (c *Collectors) SecondaryFailure(op string) {
	if c == nil {
		return
	}
	c.SecondaryFailures.WithLabelValues(op).Inc()
}

// ActivityRecorded counts an appended activity entry.
func (c *Collectors) ActivityRecorded() {
	if c == nil {
		return
	}
	c.ActivityEntries.Inc()
}
