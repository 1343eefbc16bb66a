package dag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"memopipe/internal/core"
	"memopipe/internal/trace"
)

// Executor runs a TaskGraph through the task state machine.
//
// All state reads and writes happen under mu on the coordinating goroutine;
// only computations run outside the lock. Fingerprinting and store lookups run
// on the coordinator, so decisions are made in canonical order regardless of
// worker timing.
type Executor struct {
	Graph  *TaskGraph
	Runner TaskRunner
	Logger zerolog.Logger
	Trace  trace.Sink

	mu    sync.Mutex
	state ExecutionState
}

// NewExecutor creates an executor with all tasks PENDING.
func NewExecutor(g *TaskGraph, runner TaskRunner) (*Executor, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if runner == nil {
		return nil, fmt.Errorf("nil runner")
	}
	return &Executor{
		Graph:  g,
		Runner: runner,
		Logger: zerolog.Nop(),
		Trace:  trace.NopSink{},
		state:  NewExecutionState(g),
	}, nil
}

// run is the bookkeeping of a single execution.
type run struct {
	order     []string
	fps       map[string]core.Fingerprint
	outputs   map[string]any
	sizes     map[string]int
	failures  map[string]error
	durations map[string]time.Duration

	// halt is set by a store failure or cancellation; once set nothing new
	// is dispatched.
	halt error
}

type workItem struct {
	name   string
	task   core.Task
	fp     core.Fingerprint
	args   core.Args
	reason string
}

type workResult struct {
	item     *workItem
	result   *NodeResult
	err      error
	duration time.Duration
}

func (e *Executor) begin() *run {
	e.mu.Lock()
	e.state = NewExecutionState(e.Graph)
	e.mu.Unlock()

	n := len(e.Graph.nodes)
	return &run{
		fps:       make(map[string]core.Fingerprint, n),
		outputs:   make(map[string]any, n),
		sizes:     make(map[string]int, n),
		failures:  make(map[string]error),
		durations: make(map[string]time.Duration),
	}
}

// RunSerial evaluates tasks one at a time. The next task is always the first
// ready task in canonical order.
//
// On a store failure or cancellation the partial result is returned together
// with the error; tasks never evaluated are NOT_RUN.
func (e *Executor) RunSerial(ctx context.Context) (*GraphResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	r := e.begin()

	for {
		e.checkCancelled(ctx, r)
		if r.halt != nil {
			break
		}

		e.mu.Lock()
		ready := GetReadyTasks(e.Graph, e.state)
		if len(ready) == 0 {
			e.mu.Unlock()
			break
		}
		w, err := e.prepare(ctx, r, ready[0])
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if w == nil {
			continue
		}

		res := e.execute(ctx, w)

		e.mu.Lock()
		err = e.complete(r, res)
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	return e.finish(r)
}

// RunParallel evaluates independent tasks on up to concurrency workers.
//
// The coordinator dispatches every ready task (all dependencies DONE or
// SKIPPED) in canonical order. A failed task only blocks its dependents;
// independent branches keep going. A store failure or cancellation stops
// dispatch, lets in-flight tasks finish, and returns the partial result with
// the error.
func (e *Executor) RunParallel(ctx context.Context, concurrency int) (*GraphResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be > 0")
	}
	r := e.begin()

	workCh := make(chan *workItem, concurrency)
	doneCh := make(chan workResult, concurrency)

	var wg sync.WaitGroup
	var stopOnce sync.Once
	stopWorkers := func() {
		stopOnce.Do(func() {
			close(workCh)
			wg.Wait()
		})
	}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				doneCh <- e.execute(ctx, w)
			}
		}()
	}
	defer stopWorkers()

	inFlight := 0
	for {
		e.checkCancelled(ctx, r)

		e.mu.Lock()
		for r.halt == nil && inFlight < concurrency {
			ready := GetReadyTasks(e.Graph, e.state)
			if len(ready) == 0 {
				break
			}
			for _, name := range ready {
				if r.halt != nil || inFlight >= concurrency {
					break
				}
				w, err := e.prepare(ctx, r, name)
				if err != nil {
					e.mu.Unlock()
					return nil, err
				}
				if w == nil {
					continue
				}
				inFlight++
				workCh <- w
			}
		}
		e.mu.Unlock()

		if inFlight == 0 {
			break
		}

		select {
		case <-ctx.Done():
			e.checkCancelled(ctx, r)
			// Drain: in-flight tasks are allowed to finish.
			res := <-doneCh
			inFlight--
			e.mu.Lock()
			err := e.complete(r, res)
			e.mu.Unlock()
			if err != nil {
				return nil, err
			}
		case res := <-doneCh:
			inFlight--
			e.mu.Lock()
			err := e.complete(r, res)
			e.mu.Unlock()
			if err != nil {
				return nil, err
			}
		}
	}

	stopWorkers()
	return e.finish(r)
}

func (e *Executor) checkCancelled(ctx context.Context, r *run) {
	if r.halt != nil {
		return
	}
	if err := ctx.Err(); err != nil {
		r.halt = fmt.Errorf("run cancelled: %w", err)
		e.Logger.Warn().Err(err).Msg("run cancelled; no further tasks will be dispatched")
	}
}

// prepare fingerprints a ready task and checks the store. It returns a work item when
// the task must be computed, nil when it was settled (skipped, or failed on a
// store error). Must be called with e.mu held.
func (e *Executor) prepare(ctx context.Context, r *run, name string) (*workItem, error) {
	node := e.Graph.nodesByName[name]
	task := node.Task

	upstream := make(map[string]core.Fingerprint, len(e.Graph.incoming[node.canonicalIndex]))
	for _, dep := range task.Dependencies() {
		upstream[dep] = r.fps[dep]
	}
	fp, err := e.Runner.Fingerprint(task, upstream)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting %q: %w", name, err)
	}
	if err := Transition(e.state, name, TaskPending, TaskFingerprinted); err != nil {
		return nil, err
	}
	r.fps[name] = fp

	res, hit, err := e.Runner.Lookup(ctx, task, fp)
	if err != nil {
		if err := Transition(e.state, name, TaskFingerprinted, TaskFailed); err != nil {
			return nil, err
		}
		r.failures[name] = err
		r.halt = err
		e.Logger.Error().Err(err).Str("task", name).Msg("result store read failed; halting run")
		trace.SafeRecord(e.Trace, trace.TraceEvent{Kind: trace.EventTaskFailed, TaskID: name, Fingerprint: fp.String(), Reason: trace.ReasonStoreError})
		return nil, nil
	}
	if res == nil {
		return nil, fmt.Errorf("probing %q: nil result", name)
	}

	if hit {
		if err := Transition(e.state, name, TaskFingerprinted, TaskSkipped); err != nil {
			return nil, err
		}
		r.outputs[name] = res.Output
		r.sizes[name] = res.Size
		e.Logger.Debug().Str("task", name).Str("fingerprint", fp.Short()).Str("status", string(TaskSkipped)).Msg("fingerprint matches stored record")
		trace.SafeRecord(e.Trace, trace.TraceEvent{Kind: trace.EventTaskSkipped, TaskID: name, Fingerprint: fp.String(), Reason: res.Reason})
		return nil, nil
	}

	if err := Transition(e.state, name, TaskFingerprinted, TaskRunning); err != nil {
		return nil, err
	}
	r.order = append(r.order, name)
	e.Logger.Debug().Str("task", name).Str("fingerprint", fp.Short()).Str("reason", res.Reason).Msg("executing")

	return &workItem{name: name, task: task, fp: fp, args: e.resolveArgs(r, task), reason: res.Reason}, nil
}

// resolveArgs binds dependency outputs and literal params in declared order.
func (e *Executor) resolveArgs(r *run, task core.Task) core.Args {
	names := make([]string, 0, len(task.Inputs))
	values := make([]any, 0, len(task.Inputs))
	for _, in := range task.Inputs {
		names = append(names, in.Name)
		if in.Kind == core.InputRef {
			values = append(values, r.outputs[in.Task])
		} else {
			values = append(values, in.Value)
		}
	}
	return core.NewArgs(names, values)
}

func (e *Executor) execute(ctx context.Context, w *workItem) workResult {
	start := time.Now()
	res, err := e.Runner.Run(ctx, w.task, w.fp, w.args)
	return workResult{item: w, result: res, err: err, duration: time.Since(start)}
}

// complete commits a finished computation. Must be called with e.mu held.
func (e *Executor) complete(r *run, res workResult) error {
	name := res.item.name
	fp := res.item.fp
	r.durations[name] = res.duration

	if res.err == nil {
		if res.result == nil {
			return fmt.Errorf("executing %q: nil result", name)
		}
		if err := Transition(e.state, name, TaskRunning, TaskDone); err != nil {
			return err
		}
		r.outputs[name] = res.result.Output
		r.sizes[name] = res.result.Size
		e.Logger.Info().
			Str("task", name).
			Str("fingerprint", fp.Short()).
			Str("status", string(TaskDone)).
			Dur("duration", res.duration).
			Msg("task executed")
		trace.SafeRecord(e.Trace, trace.TraceEvent{Kind: trace.EventTaskExecuted, TaskID: name, Fingerprint: fp.String(), Reason: res.item.reason})
		return nil
	}

	r.failures[name] = res.err

	if errors.Is(res.err, core.ErrStoreIO) {
		if err := Transition(e.state, name, TaskRunning, TaskFailed); err != nil {
			return err
		}
		if r.halt == nil {
			r.halt = res.err
		}
		e.Logger.Error().Err(res.err).Str("task", name).Msg("result store write failed; halting run")
		trace.SafeRecord(e.Trace, trace.TraceEvent{Kind: trace.EventTaskFailed, TaskID: name, Fingerprint: fp.String(), Reason: trace.ReasonStoreError})
		return nil
	}

	dependents, err := FailAndPropagate(e.Graph, e.state, name)
	if err != nil {
		return err
	}
	e.Logger.Error().
		Err(res.err).
		Str("task", name).
		Str("fingerprint", fp.Short()).
		Str("status", string(TaskFailed)).
		Strs("dependents", dependents).
		Msg("task failed")
	trace.SafeRecord(e.Trace, trace.TraceEvent{Kind: trace.EventTaskFailed, TaskID: name, Fingerprint: fp.String(), Reason: trace.ReasonComputeError})
	for _, d := range dependents {
		r.failures[d] = &UpstreamFailedError{Task: d, Upstream: name}
		trace.SafeRecord(e.Trace, trace.TraceEvent{Kind: trace.EventTaskFailed, TaskID: d, Reason: trace.ReasonUpstreamFailed, CauseTaskID: name})
	}
	return nil
}

func (e *Executor) finish(r *run) (*GraphResult, error) {
	e.mu.Lock()
	if r.halt != nil {
		for _, name := range MarkNotRun(e.Graph, e.state) {
			trace.SafeRecord(e.Trace, trace.TraceEvent{Kind: trace.EventTaskNotRun, TaskID: name, Reason: trace.ReasonRunHalted})
		}
	}
	for name, st := range e.state {
		if !IsTerminal(st) {
			e.mu.Unlock()
			return nil, invalidf("no ready tasks but %q is %s", name, st)
		}
	}
	final := e.state.Clone()
	e.mu.Unlock()

	result := &GraphResult{
		GraphHash:      e.Graph.Hash(),
		FinalState:     final,
		ExecutionOrder: r.order,
		Fingerprints:   r.fps,
		Outputs:        r.outputs,
		Sizes:          r.sizes,
		Failures:       r.failures,
		Durations:      r.durations,
	}
	e.Logger.Info().
		Int("done", final.Count(TaskDone)).
		Int("skipped", final.Count(TaskSkipped)).
		Int("failed", final.Count(TaskFailed)).
		Int("not_run", final.Count(TaskNotRun)).
		Msg("run finished")
	return result, r.halt
}
