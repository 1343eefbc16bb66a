package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memopipe/internal/core"
)

func TestGraphConstruction_Empty(t *testing.T) {
	g, err := NewTaskGraph(core.NewRegistry().Snapshot())
	require.NoError(t, err)
	assert.Equal(t, 0, g.Len())
	assert.Empty(t, g.TopologicalOrder())
	assert.NotEmpty(t, g.Hash())
}

func TestGraphConstruction_DependencyChain(t *testing.T) {
	g := mustGraph(t, noopTask("a"), noopTask("b", "a"), noopTask("c", "b"))

	assert.Equal(t, []string{"a", "b", "c"}, g.TopologicalOrder())
	assert.Equal(t, []Edge{{From: "a", To: "b"}, {From: "b", To: "c"}}, g.Edges())

	d, ok := g.Depth("c")
	require.True(t, ok)
	assert.Equal(t, 2, d)
	_, ok = g.Depth("zzz")
	assert.False(t, ok)
}

func TestGraphConstruction_DiamondDependency(t *testing.T) {
	// a -> b, a -> c, b -> d, c -> d
	g := mustGraph(t, noopTask("a"), noopTask("b", "a"), noopTask("c", "a"), noopTask("d", "b", "c"))

	assert.Equal(t, []string{"a", "b", "c", "d"}, g.TopologicalOrder())
	assert.Equal(t, []string{"b", "c"}, g.Upstream("d"))
	assert.Equal(t, []string{"b", "c", "d"}, g.Downstream("a"))
	assert.Equal(t, []string{"d"}, g.Downstream("b"))
	assert.Empty(t, g.Downstream("d"))
	assert.Nil(t, g.Downstream("missing"))
}

func TestTopologicalOrder_TieBreakIsRegistrationOrder(t *testing.T) {
	// z and y are both roots; z was registered first.
	g := mustGraph(t, noopTask("z"), noopTask("y"), noopTask("x", "y"), noopTask("w", "z"))
	assert.Equal(t, []string{"z", "y", "x", "w"}, g.TopologicalOrder())
}

func TestNewTaskGraphFromTasks_AllowsForwardReferences(t *testing.T) {
	g, err := NewTaskGraphFromTasks([]core.Task{noopTask("c", "b"), noopTask("b", "a"), noopTask("a")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, g.TopologicalOrder())
}

func TestNewTaskGraphFromTasks_CycleDetected(t *testing.T) {
	_, err := NewTaskGraphFromTasks([]core.Task{
		noopTask("a", "c"),
		noopTask("b", "a"),
		noopTask("c", "b"),
		noopTask("free"),
	})
	require.Error(t, err)

	var cyc *core.CyclicDependencyError
	require.ErrorAs(t, err, &cyc)
	assert.ErrorIs(t, err, core.ErrCyclicDependency)
	assert.Equal(t, []string{"a", "b", "c", "a"}, cyc.Cycle)
	assert.Contains(t, err.Error(), "a -> b -> c -> a")
}

func TestNewTaskGraphFromTasks_CycleWitnessIsDeterministic(t *testing.T) {
	tasks := []core.Task{noopTask("p", "q"), noopTask("q", "p"), noopTask("r", "s"), noopTask("s", "r")}
	var first []string
	for i := 0; i < 10; i++ {
		_, err := NewTaskGraphFromTasks(tasks)
		var cyc *core.CyclicDependencyError
		require.ErrorAs(t, err, &cyc)
		if first == nil {
			first = cyc.Cycle
			continue
		}
		assert.Equal(t, first, cyc.Cycle)
	}
}

func TestNewTaskGraphFromTasks_Rejections(t *testing.T) {
	_, err := NewTaskGraphFromTasks([]core.Task{noopTask("a"), noopTask("a")})
	assert.ErrorIs(t, err, core.ErrDuplicateTask)

	_, err = NewTaskGraphFromTasks([]core.Task{noopTask("a", "ghost")})
	var unk *core.UnknownDependencyError
	require.ErrorAs(t, err, &unk)
	assert.Equal(t, "ghost", unk.Dependency)

	_, err = NewTaskGraphFromTasks([]core.Task{{Name: "a", Identity: "x@v1"}})
	assert.ErrorIs(t, err, core.ErrInvalidTask)

	_, err = NewTaskGraphFromTasks([]core.Task{noopTask("a", "a")})
	assert.ErrorIs(t, err, core.ErrCyclicDependency)
}

func TestGraphHash_StableAndContentSensitive(t *testing.T) {
	build := func(factor any) GraphHash {
		_, compute := fn("mul@v1", func(core.Args) (any, error) { return nil, nil })
		g := mustGraph(t,
			noopTask("a"),
			task("b", "mul@v1", compute, core.Ref("a"), core.Param("factor", factor)),
		)
		return g.Hash()
	}

	assert.Equal(t, build(2), build(2))
	assert.Equal(t, build(2), build(2.0))
	assert.NotEqual(t, build(2), build(3))
}
