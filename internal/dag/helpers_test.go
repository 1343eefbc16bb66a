package dag

import (
	"context"
	"fmt"
	"testing"

	"memopipe/internal/core"
)

func fn(identity string, f func(args core.Args) (any, error)) (string, core.ComputeFunc) {
	return identity, func(_ context.Context, args core.Args) (any, error) { return f(args) }
}

func task(name string, identity string, compute core.ComputeFunc, inputs ...core.Input) core.Task {
	return core.Task{Name: name, Identity: identity, Compute: compute, Inputs: inputs}
}

// noopTask returns a task whose output is its own name.
func noopTask(name string, deps ...string) core.Task {
	inputs := make([]core.Input, 0, len(deps))
	for _, d := range deps {
		inputs = append(inputs, core.Ref(d))
	}
	return core.Task{
		Name:     name,
		Identity: "noop@v1",
		Compute:  func(context.Context, core.Args) (any, error) { return name, nil },
		Inputs:   inputs,
	}
}

func mustGraph(t *testing.T, tasks ...core.Task) *TaskGraph {
	t.Helper()
	r := core.NewRegistry()
	for _, tk := range tasks {
		if err := r.Register(tk); err != nil {
			t.Fatalf("register %q: %v", tk.Name, err)
		}
	}
	g, err := NewTaskGraph(r.Snapshot())
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	return g
}

func sumFloats(args core.Args) (float64, error) {
	total := 0.0
	for i := 0; i < args.Len(); i++ {
		f, ok := core.ToFloat(args.At(i))
		if !ok {
			return 0, fmt.Errorf("input %d is %T", i, args.At(i))
		}
		total += f
	}
	return total, nil
}
