// Package pipeline is the library entry point: it ties a registry snapshot,
// the dependency graph, the scheduler and a result store together.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"memopipe/internal/core"
	"memopipe/internal/dag"
	"memopipe/internal/history"
	"memopipe/internal/store"
	"memopipe/internal/trace"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used by the scheduler and runner.
func WithLogger(l zerolog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithConcurrency runs tasks on up to n workers. n <= 0 runs serially.
func WithConcurrency(n int) Option { return func(p *Pipeline) { p.concurrency = n } }

// WithTrace sends execution events to sink.
func WithTrace(sink trace.Sink) Option { return func(p *Pipeline) { p.sink = sink } }

// WithHistory records every run in h, keeping the newest keep runs
// (keep <= 0 keeps all).
func WithHistory(h *history.Store, keep int) Option {
	return func(p *Pipeline) {
		p.history = h
		p.keep = keep
	}
}

// WithClock overrides time.Now for record timestamps and run history.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// Pipeline runs and inspects one set of registered tasks against a store.
type Pipeline struct {
	snap   *core.Snapshot
	graph  *dag.TaskGraph
	store  store.Store
	runner *dag.MemoRunner

	logger      zerolog.Logger
	concurrency int
	sink        trace.Sink
	history     *history.Store
	keep        int
	now         func() time.Time
}

// New builds the graph for snap. Graph errors (cycles, unknown
// dependencies) are returned here, before anything runs.
func New(snap *core.Snapshot, s store.Store, opts ...Option) (*Pipeline, error) {
	if snap == nil {
		return nil, errors.New("nil registry snapshot")
	}
	if s == nil {
		return nil, errors.New("nil result store")
	}
	p := &Pipeline{
		snap:   snap,
		store:  s,
		logger: zerolog.Nop(),
		sink:   trace.NopSink{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	g, err := dag.NewTaskGraph(snap)
	if err != nil {
		return nil, err
	}
	p.graph = g

	runner, err := dag.NewMemoRunner(s, p.logger)
	if err != nil {
		return nil, err
	}
	runner.Now = p.now
	p.runner = runner
	return p, nil
}

// Graph returns the dependency graph.
func (p *Pipeline) Graph() *dag.TaskGraph { return p.graph }

// Store returns the result store.
func (p *Pipeline) Store() store.Store { return p.store }

// RunPipeline executes every task, skipping those whose stored fingerprint
// still matches.
//
// Failed tasks do not make RunPipeline return an error; see
// Report.Failed. A store failure or cancellation halts the run: the partial
// report is returned together with the error.
func (p *Pipeline) RunPipeline(ctx context.Context) (*Report, error) {
	ex, err := dag.NewExecutor(p.graph, p.runner)
	if err != nil {
		return nil, err
	}
	ex.Logger = p.logger
	ex.Trace = p.sink

	started := p.now()
	var rec history.Run
	if p.history != nil {
		rec = history.Begin(p.graph.Hash(), started)
	}

	var res *dag.GraphResult
	if p.concurrency > 0 {
		res, err = ex.RunParallel(ctx, p.concurrency)
	} else {
		res, err = ex.RunSerial(ctx)
	}
	finished := p.now()

	var report *Report
	if res != nil {
		report = newReport(p.graph, res, started, finished)
	}
	if p.history != nil {
		rec.Finish(p.graph, res, err, finished)
		if report != nil {
			report.RunID = rec.ID
		}
		if herr := p.recordHistory(rec); herr != nil {
			p.logger.Warn().Err(herr).Str("run", rec.ID).Msg("could not record run history")
		}
	}
	return report, err
}

func (p *Pipeline) recordHistory(rec history.Run) error {
	if err := p.history.Save(rec); err != nil {
		return err
	}
	removed, err := p.history.Prune(p.keep)
	if err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	if len(removed) > 0 {
		p.logger.Debug().Int("removed", len(removed)).Msg("pruned run history")
	}
	return nil
}
