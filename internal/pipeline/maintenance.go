package pipeline

import (
	"context"
	"errors"
	"fmt"

	"memopipe/internal/core"
	"memopipe/internal/trace"
)

// ErrUnknownTask is returned for operations naming a task that is not
// registered.
var ErrUnknownTask = errors.New("unknown task")

// Invalidate deletes the stored records of the named tasks so the next run
// recomputes them. Every name is checked before anything is deleted.
//
// Invalidation is per task: downstream records stay valid, because their
// fingerprints do not change. Pass Graph().Downstream(name) as well to force
// those to recompute.
func (p *Pipeline) Invalidate(ctx context.Context, names ...string) error {
	for _, name := range names {
		if p.snap.Index(name) < 0 {
			return fmt.Errorf("%w: %q", ErrUnknownTask, name)
		}
	}
	for _, name := range names {
		if err := p.store.Delete(ctx, name); err != nil {
			return &core.StoreIOError{Op: "delete", Task: name, Err: err}
		}
		trace.SafeRecord(p.sink, trace.TraceEvent{Kind: trace.EventTaskInvalidated, TaskID: name, Reason: trace.ReasonOperator})
		p.logger.Info().Str("task", name).Msg("invalidated")
	}
	return nil
}

// Prune deletes stored records of tasks that are no longer registered and
// returns their names.
func (p *Pipeline) Prune(ctx context.Context) ([]string, error) {
	infos, err := p.store.List(ctx)
	if err != nil {
		return nil, &core.StoreIOError{Op: "list", Err: err}
	}
	var removed []string
	for _, info := range infos {
		if p.snap.Index(info.Task) >= 0 {
			continue
		}
		if err := p.store.Delete(ctx, info.Task); err != nil {
			return removed, &core.StoreIOError{Op: "delete", Task: info.Task, Err: err}
		}
		removed = append(removed, info.Task)
	}
	if len(removed) > 0 {
		p.logger.Info().Strs("tasks", removed).Msg("pruned orphaned records")
	}
	return removed, nil
}
