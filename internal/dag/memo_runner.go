package dag

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"memopipe/internal/codec"
	"memopipe/internal/core"
	"memopipe/internal/store"
	"memopipe/internal/trace"
)

// NodeResult is the outcome of probing or executing a single task.
type NodeResult struct {
	Fingerprint core.Fingerprint

	// Output is the decoded output. Nil on a cache miss.
	Output any
	Size   int

	FromStore bool

	// Reason is the trace reason code for the decision (hit or miss).
	Reason string
}

// TaskRunner evaluates single tasks for the Executor.
type TaskRunner interface {
	// Fingerprint computes the task fingerprint from its upstream fingerprints.
	Fingerprint(task core.Task, upstream map[string]core.Fingerprint) (core.Fingerprint, error)

	// Lookup checks whether a stored result matches fp. A miss returns a
	// non-nil result carrying the miss reason. Errors are *core.StoreIOError.
	Lookup(ctx context.Context, task core.Task, fp core.Fingerprint) (result *NodeResult, hit bool, err error)

	// Run executes the task and persists its output under fp. Compute
	// failures are *core.TaskExecutionError; persistence failures are
	// *core.StoreIOError.
	Run(ctx context.Context, task core.Task, fp core.Fingerprint, args core.Args) (*NodeResult, error)
}

// MemoRunner is the TaskRunner backed by a result store.
type MemoRunner struct {
	Store         store.Store
	Fingerprinter *core.Fingerprinter
	Logger        zerolog.Logger

	// Now stamps stored records. Defaults to time.Now.
	Now func() time.Time
}

// NewMemoRunner creates a runner over s.
func NewMemoRunner(s store.Store, logger zerolog.Logger) (*MemoRunner, error) {
	if s == nil {
		return nil, fmt.Errorf("nil result store")
	}
	return &MemoRunner{Store: s, Fingerprinter: core.NewFingerprinter(), Logger: logger, Now: time.Now}, nil
}

func (r *MemoRunner) Fingerprint(task core.Task, upstream map[string]core.Fingerprint) (core.Fingerprint, error) {
	return r.Fingerprinter.Fingerprint(task, upstream)
}

func (r *MemoRunner) Lookup(ctx context.Context, task core.Task, fp core.Fingerprint) (*NodeResult, bool, error) {
	miss := &NodeResult{Fingerprint: fp}

	rec, err := r.Store.Get(ctx, task.Name)
	if err != nil {
		if errors.Is(err, store.ErrCorruptRecord) {
			r.Logger.Warn().Err(err).Str("task", task.Name).Msg("ignoring corrupt stored record")
			miss.Reason = trace.ReasonRecordCorrupt
			return miss, false, nil
		}
		return nil, false, &core.StoreIOError{Op: "get", Task: task.Name, Err: err}
	}
	if rec == nil {
		miss.Reason = trace.ReasonNoRecord
		return miss, false, nil
	}
	if rec.Fingerprint != fp.String() {
		miss.Reason = trace.ReasonFingerprintStale
		return miss, false, nil
	}

	out, err := codec.Unmarshal(rec.Output)
	if err != nil {
		r.Logger.Warn().Err(err).Str("task", task.Name).Msg("stored output does not decode; recomputing")
		miss.Reason = trace.ReasonRecordCorrupt
		return miss, false, nil
	}
	return &NodeResult{
		Fingerprint: fp,
		Output:      out,
		Size:        len(rec.Output),
		FromStore:   true,
		Reason:      trace.ReasonFingerprintMatch,
	}, true, nil
}

func (r *MemoRunner) Run(ctx context.Context, task core.Task, fp core.Fingerprint, args core.Args) (*NodeResult, error) {
	raw, err := compute(ctx, task, args)
	if err != nil {
		return nil, &core.TaskExecutionError{Task: task.Name, Err: err}
	}

	out, encoded, err := codec.RoundTrip(raw)
	if err != nil {
		return nil, &core.TaskExecutionError{Task: task.Name, Err: fmt.Errorf("output: %w", err)}
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	rec := store.Record{Task: task.Name, Fingerprint: fp.String(), Output: encoded, StoredAt: now().UTC()}
	if err := r.Store.Put(ctx, rec); err != nil {
		return nil, &core.StoreIOError{Op: "put", Task: task.Name, Err: err}
	}

	return &NodeResult{Fingerprint: fp, Output: out, Size: len(encoded)}, nil
}

// compute invokes the task's computation, turning a panic into an error.
func compute(ctx context.Context, task core.Task, args core.Args) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return task.Compute(ctx, args)
}
