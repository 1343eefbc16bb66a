// Package builtins is the catalog of computations a pipeline file can name.
//
// Every op has a version; the task identity is "<op>@v<version>". Bumping
// the version of an op invalidates every stored result computed by it.
package builtins

import (
	"fmt"
	"sort"

	"memopipe/internal/core"
)

// Op is a named, versioned computation.
type Op struct {
	Name    string
	Version int
	Summary string
	Compute core.ComputeFunc
}

// Identity returns the computation identity used in fingerprints.
func (o Op) Identity() string { return fmt.Sprintf("%s@v%d", o.Name, o.Version) }

var catalog = map[string]Op{}

func register(op Op) {
	if _, exists := catalog[op.Name]; exists {
		panic("builtins: duplicate op " + op.Name)
	}
	catalog[op.Name] = op
}

func init() {
	register(Op{Name: "const", Version: 1, Summary: "returns the value param", Compute: constant})
	register(Op{Name: "add", Version: 1, Summary: "sum of scalar inputs", Compute: add})
	register(Op{Name: "sub", Version: 1, Summary: "first input minus the rest", Compute: sub})
	register(Op{Name: "mul", Version: 1, Summary: "product of scalar inputs", Compute: mul})
	register(Op{Name: "div", Version: 1, Summary: "first input divided by the second", Compute: div})
	register(Op{Name: "sum", Version: 1, Summary: "sum of all numbers, lists flattened", Compute: sum})
	register(Op{Name: "mean", Version: 1, Summary: "mean of all numbers, lists flattened", Compute: mean})
	register(Op{Name: "normal_samples", Version: 1, Summary: "n seeded draws from N(mean, sd)", Compute: normalSamples})
	register(Op{Name: "summarize", Version: 1, Summary: "known parameters next to per-sample mean and sd", Compute: summarize})
	register(Op{Name: "percent_difference", Version: 1, Summary: "percent difference of sampled from known parameters", Compute: percentDifference})
	register(Op{Name: "histogram", Version: 1, Summary: "binned counts of sample lists as text", Compute: histogram})
}

// Lookup returns the op called name.
func Lookup(name string) (Op, bool) {
	op, ok := catalog[name]
	return op, ok
}

// Ops returns every op sorted by name.
func Ops() []Op {
	out := make([]Op, 0, len(catalog))
	for _, op := range catalog {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Task builds a task that runs op.
func Task(name, op string, inputs ...core.Input) (core.Task, error) {
	o, ok := Lookup(op)
	if !ok {
		return core.Task{}, &core.InvalidTaskError{Task: name, Reason: fmt.Sprintf("unknown op %q", op)}
	}
	return core.Task{Name: name, Identity: o.Identity(), Compute: o.Compute, Inputs: inputs}, nil
}
