// Package history keeps a durable record of every pipeline run under
// <workspace>/.memopipe/runs/<run-id>/run.json.
package history

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"memopipe/internal/dag"
)

type Status string

const (
	// StatusSucceeded means every task ended DONE or SKIPPED.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means at least one task failed and the run completed.
	StatusFailed Status = "failed"
	// StatusHalted means the run stopped early on a store error or cancellation.
	StatusHalted Status = "halted"
)

// Failure names the first task that failed on its own (not through an
// upstream).
type Failure struct {
	Task  string `json:"task"`
	Error string `json:"error"`
}

// Run is the persisted summary of one pipeline run.
type Run struct {
	ID           string            `json:"id"`
	GraphHash    string            `json:"graph_hash"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	Status       Status            `json:"status"`
	Statuses     map[string]string `json:"statuses"`
	Executed     []string          `json:"executed"`
	FirstFailure *Failure          `json:"first_failure"`
	Error        string            `json:"error,omitempty"`
}

// NewRunID returns a time-ordered run identifier.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Begin starts a run record.
func Begin(graphHash dag.GraphHash, now time.Time) Run {
	return Run{
		ID:        NewRunID(),
		GraphHash: graphHash.String(),
		StartedAt: now.UTC(),
		Statuses:  map[string]string{},
		Executed:  []string{},
	}
}

// Finish fills r from the outcome of an execution. res may be nil when the
// executor could not produce a result.
func (r *Run) Finish(g *dag.TaskGraph, res *dag.GraphResult, runErr error, now time.Time) {
	r.FinishedAt = now.UTC()
	if res != nil {
		for name, st := range res.FinalState {
			r.Statuses[name] = string(st)
		}
		r.Executed = append(r.Executed, res.ExecutionOrder...)
		for _, name := range res.Tasks(g, dag.TaskFailed) {
			var up *dag.UpstreamFailedError
			err := res.Failures[name]
			if errors.As(err, &up) {
				continue
			}
			msg := ""
			if err != nil {
				msg = err.Error()
			}
			r.FirstFailure = &Failure{Task: name, Error: msg}
			break
		}
	}

	switch {
	case runErr != nil:
		r.Status = StatusHalted
		r.Error = runErr.Error()
	case res == nil:
		r.Status = StatusHalted
	case res.FinalState.Count(dag.TaskFailed) > 0:
		r.Status = StatusFailed
	default:
		r.Status = StatusSucceeded
	}
}

// Count returns how many tasks ended in st.
func (r Run) Count(st dag.TaskState) int {
	n := 0
	for _, v := range r.Statuses {
		if v == string(st) {
			n++
		}
	}
	return n
}

// Duration is the wall time of the run.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r Run) Validate() error {
	var errs []error
	if _, err := uuid.Parse(r.ID); err != nil {
		errs = append(errs, fmt.Errorf("id must be a uuid: %w", err))
	}
	if strings.TrimSpace(r.GraphHash) == "" {
		errs = append(errs, errors.New("graph_hash is required"))
	}
	if r.StartedAt.IsZero() {
		errs = append(errs, errors.New("started_at is required"))
	}
	if !r.FinishedAt.IsZero() && r.FinishedAt.Before(r.StartedAt) {
		errs = append(errs, errors.New("finished_at is before started_at"))
	}
	switch r.Status {
	case StatusSucceeded, StatusFailed, StatusHalted:
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if r.Statuses == nil {
		errs = append(errs, errors.New("statuses must be an object (not null)"))
	}
	if r.FirstFailure != nil && strings.TrimSpace(r.FirstFailure.Task) == "" {
		errs = append(errs, errors.New("first_failure.task is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
