package dag

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidGraph   = errors.New("invalid task graph")
	ErrUpstreamFailed = errors.New("upstream_failed")
)

// GraphError reports an internal inconsistency between the graph and an
// execution state.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

// UpstreamFailedError is recorded for a task that was never executed because
// an upstream task failed.
type UpstreamFailedError struct {
	Task     string
	Upstream string
}

func (e *UpstreamFailedError) Error() string {
	return fmt.Sprintf("task %q not executed: %s (%q)", e.Task, ErrUpstreamFailed, e.Upstream)
}

func (e *UpstreamFailedError) Unwrap() error { return ErrUpstreamFailed }
