package dag

import (
	"time"

	"memopipe/internal/core"
)

// GraphResult summarises one execution of a graph.
type GraphResult struct {
	GraphHash GraphHash

	// FinalState is the terminal state of each task by name.
	FinalState ExecutionState

	// ExecutionOrder lists the tasks that were dispatched to compute, in
	// dispatch order.
	ExecutionOrder []string

	// Fingerprints holds every fingerprint that was computed.
	Fingerprints map[string]core.Fingerprint

	// Outputs holds decoded outputs of DONE and SKIPPED tasks.
	Outputs map[string]any

	// Sizes holds the encoded output size of DONE and SKIPPED tasks.
	Sizes map[string]int

	// Failures holds the error for every FAILED task. Tasks failed through an
	// upstream carry an *UpstreamFailedError.
	Failures map[string]error

	// Durations holds compute wall time of executed tasks.
	Durations map[string]time.Duration
}

// Tasks returns the tasks that ended in st, in canonical order.
func (r *GraphResult) Tasks(g *TaskGraph, st TaskState) []string {
	var out []string
	for _, n := range g.nodes {
		if r.FinalState[n.Name] == st {
			out = append(out, n.Name)
		}
	}
	return out
}
