package pipeline

import (
	"time"

	"memopipe/internal/core"
	"memopipe/internal/dag"
)

// Report is the outcome of RunPipeline.
type Report struct {
	// RunID is set when run history is enabled.
	RunID     string
	GraphHash dag.GraphHash

	// Tasks lists every task in registration order.
	Tasks []string

	// Statuses maps each task to DONE, SKIPPED, FAILED or NOT_RUN.
	Statuses       dag.ExecutionState
	Outputs        map[string]any
	Fingerprints   map[string]core.Fingerprint
	Sizes          map[string]int
	ExecutionOrder []string
	Failures       map[string]error
	Durations      map[string]time.Duration

	StartedAt  time.Time
	FinishedAt time.Time
}

func newReport(g *dag.TaskGraph, res *dag.GraphResult, started, finished time.Time) *Report {
	tasks := make([]string, 0, g.Len())
	for _, n := range g.Nodes() {
		tasks = append(tasks, n.Name)
	}
	return &Report{
		GraphHash:      res.GraphHash,
		Tasks:          tasks,
		Statuses:       res.FinalState,
		Outputs:        res.Outputs,
		Fingerprints:   res.Fingerprints,
		Sizes:          res.Sizes,
		ExecutionOrder: res.ExecutionOrder,
		Failures:       res.Failures,
		Durations:      res.Durations,
		StartedAt:      started,
		FinishedAt:     finished,
	}
}

// With returns the tasks that ended in st, in registration order.
func (r *Report) With(st dag.TaskState) []string {
	var out []string
	for _, name := range r.Tasks {
		if r.Statuses[name] == st {
			out = append(out, name)
		}
	}
	return out
}

// Failed returns the FAILED tasks in registration order.
func (r *Report) Failed() []string { return r.With(dag.TaskFailed) }

// OK reports whether every task ended DONE or SKIPPED.
func (r *Report) OK() bool {
	for _, name := range r.Tasks {
		if !dag.IsSuccessful(r.Statuses[name]) {
			return false
		}
	}
	return true
}

// Count returns how many tasks ended in st.
func (r *Report) Count(st dag.TaskState) int { return r.Statuses.Count(st) }
