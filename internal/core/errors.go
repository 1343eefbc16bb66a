package core

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every typed error below unwraps to exactly one of these.
var (
	ErrDuplicateTask     = errors.New("duplicate task")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrInvalidTask       = errors.New("invalid task")
	ErrCyclicDependency  = errors.New("cyclic dependency")
	ErrTaskExecution     = errors.New("task execution failed")
	ErrStoreIO           = errors.New("store i/o failed")
)

// DuplicateTaskError reports a second registration under an existing name.
type DuplicateTaskError struct {
	Name string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("%s: %q is already registered", ErrDuplicateTask, e.Name)
}

func (e *DuplicateTaskError) Unwrap() error { return ErrDuplicateTask }

// UnknownDependencyError reports a reference to a task that is not registered
// (yet). Forward references are rejected.
type UnknownDependencyError struct {
	Task       string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("%s: task %q depends on %q, which is not registered", ErrUnknownDependency, e.Task, e.Dependency)
}

func (e *UnknownDependencyError) Unwrap() error { return ErrUnknownDependency }

// InvalidTaskError reports a malformed task definition.
type InvalidTaskError struct {
	Task   string
	Reason string
}

func (e *InvalidTaskError) Error() string {
	if e.Task == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidTask, e.Reason)
	}
	return fmt.Sprintf("%s %q: %s", ErrInvalidTask, e.Task, e.Reason)
}

func (e *InvalidTaskError) Unwrap() error { return ErrInvalidTask }

// CyclicDependencyError names the members of a dependency cycle. The first
// and last element are the same task.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCyclicDependency, strings.Join(e.Cycle, " -> "))
}

func (e *CyclicDependencyError) Unwrap() error { return ErrCyclicDependency }

// TaskExecutionError wraps a failure raised by a task's computation.
type TaskExecutionError struct {
	Task string
	Err  error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %q failed: %v", e.Task, e.Err)
}

func (e *TaskExecutionError) Unwrap() []error { return []error{ErrTaskExecution, e.Err} }

// StoreIOError wraps a result store read or write failure. It halts a run.
type StoreIOError struct {
	Op   string
	Task string
	Err  error
}

func (e *StoreIOError) Error() string {
	if e.Task == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Task, e.Err)
}

func (e *StoreIOError) Unwrap() []error { return []error{ErrStoreIO, e.Err} }
