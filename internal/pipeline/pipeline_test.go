package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memopipe/internal/builtins"
	"memopipe/internal/core"
	"memopipe/internal/dag"
	"memopipe/internal/history"
	"memopipe/internal/store"
	"memopipe/internal/trace"
)

func registry(t *testing.T, aValue float64, extra ...core.Task) *core.Snapshot {
	t.Helper()
	reg := core.NewRegistry()
	mk := func(name, op string, inputs ...core.Input) {
		tk, err := builtins.Task(name, op, inputs...)
		require.NoError(t, err)
		require.NoError(t, reg.Register(tk))
	}
	mk("a", "const", core.Param("value", aValue))
	mk("b", "mul", core.Ref("a"), core.Param("k", 2))
	mk("c", "add", core.Ref("b"), core.Param("one", 1))
	for _, tk := range extra {
		require.NoError(t, reg.Register(tk))
	}
	return reg.Snapshot()
}

func TestRunPipeline_Memoizes(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	p, err := New(registry(t, 5), s)
	require.NoError(t, err)

	rep, err := p.RunPipeline(ctx)
	require.NoError(t, err)
	assert.True(t, rep.OK())
	assert.Equal(t, []string{"a", "b", "c"}, rep.ExecutionOrder)
	assert.Equal(t, 11.0, rep.Outputs["c"])
	assert.Equal(t, 3, rep.Count(dag.TaskDone))

	rep, err = p.RunPipeline(ctx)
	require.NoError(t, err)
	assert.Empty(t, rep.ExecutionOrder)
	assert.Equal(t, []string{"a", "b", "c"}, rep.With(dag.TaskSkipped))
	assert.Equal(t, 11.0, rep.Outputs["c"])

	p2, err := New(registry(t, 10), s, WithConcurrency(2))
	require.NoError(t, err)
	rep, err = p2.RunPipeline(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, rep.ExecutionOrder)
	assert.Equal(t, 21.0, rep.Outputs["c"])
}

func TestPlan_PredictsSkips(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	p, err := New(registry(t, 5), s)
	require.NoError(t, err)
	plan, err := p.Plan(ctx)
	require.NoError(t, err)
	require.Len(t, plan, 3)
	for _, e := range plan {
		assert.Equal(t, ActionRun, e.Action, e.Task)
		assert.Equal(t, trace.ReasonNoRecord, e.Reason)
	}

	rep, err := p.RunPipeline(ctx)
	require.NoError(t, err)

	plan, err = p.Plan(ctx)
	require.NoError(t, err)
	for _, e := range plan {
		assert.Equal(t, ActionSkip, e.Action, e.Task)
		assert.Equal(t, rep.Fingerprints[e.Task], e.Fingerprint)
	}

	changed, err := New(registry(t, 6), s)
	require.NoError(t, err)
	plan, err = changed.Plan(ctx)
	require.NoError(t, err)
	assert.Equal(t, trace.ReasonFingerprintStale, plan[0].Reason)
	assert.Equal(t, ActionRun, plan[2].Action)
}

func TestRunPipeline_FailureIsReportedNotReturned(t *testing.T) {
	boom := core.Task{Name: "d", Identity: "div@v1", Inputs: []core.Input{core.Ref("c"), core.Param("zero", 0)}}
	op, _ := builtins.Lookup("div")
	boom.Compute = op.Compute
	after := core.Task{Name: "e", Identity: "add@v1", Inputs: []core.Input{core.Ref("d")}}
	after.Compute = func(context.Context, core.Args) (any, error) { return 0, nil }

	hist, err := history.NewStore(t.TempDir())
	require.NoError(t, err)
	p, err := New(registry(t, 5, boom, after), store.NewMemoryStore(), WithHistory(hist, 10))
	require.NoError(t, err)

	rep, err := p.RunPipeline(context.Background())
	require.NoError(t, err)
	assert.False(t, rep.OK())
	assert.Equal(t, []string{"d", "e"}, rep.Failed())
	assert.True(t, errors.Is(rep.Failures["d"], core.ErrTaskExecution))
	assert.True(t, errors.Is(rep.Failures["e"], dag.ErrUpstreamFailed))
	require.NotEmpty(t, rep.RunID)

	run, err := hist.Load(rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, history.StatusFailed, run.Status)
	require.NotNil(t, run.FirstFailure)
	assert.Equal(t, "d", run.FirstFailure.Task)
	assert.Equal(t, "DONE", run.Statuses["c"])
}

func TestRunPipeline_HistoryIsPruned(t *testing.T) {
	hist, err := history.NewStore(t.TempDir())
	require.NoError(t, err)
	clock := time.Unix(1000, 0)
	p, err := New(registry(t, 5), store.NewMemoryStore(), WithHistory(hist, 2), WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	require.NoError(t, err)

	var last string
	for i := 0; i < 3; i++ {
		rep, err := p.RunPipeline(context.Background())
		require.NoError(t, err)
		last = rep.RunID
	}
	runs, err := hist.List()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, last, runs[0].ID)
	assert.Equal(t, history.StatusSucceeded, runs[0].Status)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	rec := trace.NewRecorder()
	p, err := New(registry(t, 5), store.NewMemoryStore(), WithTrace(rec))
	require.NoError(t, err)
	_, err = p.RunPipeline(ctx)
	require.NoError(t, err)

	err = p.Invalidate(ctx, "b", "nope")
	require.ErrorIs(t, err, ErrUnknownTask)
	md, err := p.Metadata(ctx)
	require.NoError(t, err)
	assert.Len(t, md, 3)

	require.NoError(t, p.Invalidate(ctx, "b"))
	assert.Equal(t, 1, rec.Counts()[trace.EventTaskInvalidated])

	rep, err := p.RunPipeline(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, rep.ExecutionOrder)
	assert.Equal(t, dag.TaskSkipped, rep.Statuses["c"])

	require.NoError(t, p.Invalidate(ctx, append([]string{"a"}, p.Graph().Downstream("a")...)...))
	rep, err = p.RunPipeline(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, rep.ExecutionOrder)
}

func TestPruneAndMetadata(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	full, err := New(registry(t, 5), s, WithClock(func() time.Time { return time.Unix(42, 0) }))
	require.NoError(t, err)
	_, err = full.RunPipeline(ctx)
	require.NoError(t, err)

	md, err := full.Metadata(ctx)
	require.NoError(t, err)
	require.Contains(t, md, "c")
	assert.Equal(t, int64(2), md["c"].Size)
	assert.True(t, md["c"].StoredAt.Equal(time.Unix(42, 0)))

	reg := core.NewRegistry()
	a, err := builtins.Task("a", "const", core.Param("value", 5))
	require.NoError(t, err)
	require.NoError(t, reg.Register(a))
	small, err := New(reg.Snapshot(), s)
	require.NoError(t, err)

	md, err = small.Metadata(ctx)
	require.NoError(t, err)
	assert.Len(t, md, 1)

	removed, err := small.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, removed)

	infos, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "a", infos[0].Task)
}

func TestInspection(t *testing.T) {
	p, err := New(registry(t, 5), store.NewMemoryStore())
	require.NoError(t, err)

	assert.Equal(t, []dag.Edge{{From: "a", To: "b"}, {From: "b", To: "c"}}, p.Visualize())

	m := p.Manifest()
	require.Len(t, m, 3)
	assert.Equal(t, "mul@v1", m["b"].Identity)
	assert.Equal(t, []string{"ref:a", "param:k=2"}, m["b"].Inputs)
	assert.Equal(t, []string{"a"}, m["b"].Dependencies)
	assert.Equal(t, []string{}, m["a"].Dependencies)
	assert.Equal(t, 2, m["c"].Depth)

	dot := p.DOT()
	assert.True(t, strings.HasPrefix(dot, "digraph memopipe {"))
	assert.Contains(t, dot, `"a" -> "b";`)
}

func TestNew_RejectsBadInput(t *testing.T) {
	_, err := New(nil, store.NewMemoryStore())
	assert.Error(t, err)
	_, err = New(core.NewRegistry().Snapshot(), nil)
	assert.Error(t, err)
}

func TestOutput(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	p, err := New(registry(t, 5), s)
	require.NoError(t, err)

	_, _, err = p.Output(ctx, "c")
	require.ErrorIs(t, err, ErrNoRecord)
	_, _, err = p.Output(ctx, "zz")
	require.ErrorIs(t, err, ErrUnknownTask)

	_, err = p.RunPipeline(ctx)
	require.NoError(t, err)
	out, current, err := p.Output(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 11.0, out)
	assert.True(t, current)

	changed, err := New(registry(t, 6), s)
	require.NoError(t, err)
	out, current, err = changed.Output(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 11.0, out)
	assert.False(t, current)
}
