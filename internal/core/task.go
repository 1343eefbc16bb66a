package core

import (
	"context"
	"fmt"
	"strings"

	"memopipe/internal/codec"
)

// ComputeFunc is the computation behind a task.
//
// It must be a pure function of args. The returned value must be encodable
// by package codec; downstream tasks observe it in decoded form.
type ComputeFunc func(ctx context.Context, args Args) (any, error)

// InputKind discriminates task inputs.
type InputKind string

const (
	// InputRef binds the output of an upstream task.
	InputRef InputKind = "ref"
	// InputParam binds a literal value.
	InputParam InputKind = "param"
)

// Input is one declared input of a task.
type Input struct {
	Kind InputKind

	// Name is the binding name the computation uses to look the value up.
	Name string

	// Task is the upstream task name (InputRef only).
	Task string

	// Value is the literal value (InputParam only).
	Value any

	canonical []byte
}

// Ref declares a dependency on task, bound under the task's own name.
func Ref(task string) Input { return Input{Kind: InputRef, Name: task, Task: task} }

// RefAs declares a dependency on task, bound under name.
func RefAs(name, task string) Input { return Input{Kind: InputRef, Name: name, Task: task} }

// Param declares a literal parameter.
func Param(name string, value any) Input { return Input{Kind: InputParam, Name: name, Value: value} }

// Canonical returns the canonical encoding of a literal input.
func (in Input) Canonical() ([]byte, error) {
	if in.Kind != InputParam {
		return nil, fmt.Errorf("input %q is not a literal", in.Name)
	}
	if in.canonical != nil {
		return in.canonical, nil
	}
	return codec.Marshal(in.Value)
}

// String renders the input for manifests and logs.
func (in Input) String() string {
	switch in.Kind {
	case InputRef:
		if in.Name == in.Task {
			return "ref:" + in.Task
		}
		return fmt.Sprintf("ref:%s=%s", in.Name, in.Task)
	case InputParam:
		b, err := in.Canonical()
		if err != nil {
			return fmt.Sprintf("param:%s=<invalid>", in.Name)
		}
		return fmt.Sprintf("param:%s=%s", in.Name, b)
	default:
		return fmt.Sprintf("%s:%s", in.Kind, in.Name)
	}
}

// Task is a named computation step with declared inputs.
//
// Identity stands in for "the code" when fingerprinting: change it whenever
// Compute changes behavior (for example "normalize@v2").
type Task struct {
	Name     string
	Identity string
	Compute  ComputeFunc
	Inputs   []Input
}

// Dependencies returns the upstream task names in declaration order, without duplicates.
func (t Task) Dependencies() []string {
	var out []string
	seen := make(map[string]struct{}, len(t.Inputs))
	for _, in := range t.Inputs {
		if in.Kind != InputRef {
			continue
		}
		if _, ok := seen[in.Task]; ok {
			continue
		}
		seen[in.Task] = struct{}{}
		out = append(out, in.Task)
	}
	return out
}

// Canonicalize validates t and returns an immutable copy with literal
// parameters encoded and replaced by their decoded canonical form.
//
// Dependencies are not resolved here; see Registry.Register.
func Canonicalize(t Task) (Task, error) {
	if err := validateName(t.Name); err != nil {
		return Task{}, &InvalidTaskError{Task: t.Name, Reason: err.Error()}
	}
	if strings.TrimSpace(t.Identity) == "" {
		return Task{}, &InvalidTaskError{Task: t.Name, Reason: "computation identity is required"}
	}
	if t.Compute == nil {
		return Task{}, &InvalidTaskError{Task: t.Name, Reason: "compute function is required"}
	}

	out := Task{Name: t.Name, Identity: t.Identity, Compute: t.Compute}
	out.Inputs = make([]Input, 0, len(t.Inputs))
	names := make(map[string]struct{}, len(t.Inputs))
	for i, in := range t.Inputs {
		if in.Name == "" {
			return Task{}, &InvalidTaskError{Task: t.Name, Reason: fmt.Sprintf("input %d has no binding name", i)}
		}
		if _, dup := names[in.Name]; dup {
			return Task{}, &InvalidTaskError{Task: t.Name, Reason: fmt.Sprintf("duplicate input binding %q", in.Name)}
		}
		names[in.Name] = struct{}{}

		switch in.Kind {
		case InputRef:
			if in.Task == "" {
				return Task{}, &InvalidTaskError{Task: t.Name, Reason: fmt.Sprintf("input %q references no task", in.Name)}
			}
			if in.Task == t.Name {
				return Task{}, &CyclicDependencyError{Cycle: []string{t.Name, t.Name}}
			}
			out.Inputs = append(out.Inputs, Input{Kind: InputRef, Name: in.Name, Task: in.Task})
		case InputParam:
			decoded, raw, err := codec.RoundTrip(in.Value)
			if err != nil {
				return Task{}, &InvalidTaskError{Task: t.Name, Reason: fmt.Sprintf("param %q: %v", in.Name, err)}
			}
			out.Inputs = append(out.Inputs, Input{Kind: InputParam, Name: in.Name, Value: decoded, canonical: raw})
		default:
			return Task{}, &InvalidTaskError{Task: t.Name, Reason: fmt.Sprintf("input %q has unknown kind %q", in.Name, in.Kind)}
		}
	}
	return out, nil
}

func validateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("task name is required")
	case name != strings.TrimSpace(name):
		return fmt.Errorf("task name %q has surrounding whitespace", name)
	case name == "." || name == "..":
		return fmt.Errorf("task name %q is reserved", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("task name %q contains a path separator", name)
	}
	return nil
}
