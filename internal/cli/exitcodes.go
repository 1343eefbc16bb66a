package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"memopipe/internal/core"
	"memopipe/internal/dag"
	"memopipe/internal/pipeline"
)

const (
	ExitSuccess           = 0
	ExitTasksFailed       = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// InvocationError is a usage error: bad flags, arguments or task names.
type InvocationError struct {
	Message string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{Message: fmt.Sprintf(format, args...)}
}

// ConfigError wraps failures to load memopipe.yml or the pipeline
// definition.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// TasksFailedError reports a run that completed with failed tasks.
type TasksFailedError struct {
	Failed []string
}

func (e *TasksFailedError) Error() string {
	return fmt.Sprintf("%d task(s) failed: %s", len(e.Failed), strings.Join(e.Failed, ", "))
}

// ExitCode maps an error returned by a command to a semantic exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	var cfgErr *ConfigError
	var failed *TasksFailedError
	switch {
	case errors.As(err, &invErr):
		return ExitInvalidInvocation
	case errors.Is(err, pipeline.ErrUnknownTask), errors.Is(err, pipeline.ErrNoRecord):
		return ExitInvalidInvocation
	case errors.As(err, &failed):
		return ExitTasksFailed
	case errors.Is(err, core.ErrStoreIO):
		return ExitInternalError
	case errors.As(err, &cfgErr),
		errors.Is(err, core.ErrDuplicateTask),
		errors.Is(err, core.ErrUnknownDependency),
		errors.Is(err, core.ErrInvalidTask),
		errors.Is(err, core.ErrCyclicDependency),
		errors.Is(err, dag.ErrInvalidGraph):
		return ExitConfigError
	case errors.Is(err, context.Canceled):
		return ExitInternalError
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "unknown command") || strings.HasPrefix(msg, "unknown flag") ||
		strings.HasPrefix(msg, "unknown shorthand flag") || strings.Contains(msg, "flag needs an argument") {
		return ExitInvalidInvocation
	}
	return ExitInternalError
}

// resolveWorkspace returns the absolute, cleaned workspace directory.
func resolveWorkspace(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		raw = "."
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", invalidInvocationf("workspace %q: %v", raw, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", invalidInvocationf("workspace %q does not exist", raw)
	}
	if !info.IsDir() {
		return "", invalidInvocationf("workspace %q is not a directory", raw)
	}
	return abs, nil
}

// resolveUnderWorkspace resolves p against workspace unless it is absolute.
func resolveUnderWorkspace(workspace, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", invalidInvocationf("path must not be empty")
	}
	clean := filepath.Clean(p)
	if clean == "." {
		return "", invalidInvocationf("path must not be '.'")
	}
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	return filepath.Join(workspace, clean), nil
}
