// Package pipefile loads YAML pipeline definitions.
//
//	version: 1
//	tasks:
//	  - name: a
//	    op: const
//	    params: {value: 5}
//	  - name: b
//	    op: mul
//	    inputs: [a]
//	    params: {k: 2}
//
// Tasks are registered upstream-first, ties in file order, so inputs may
// name tasks defined further down. An input is either a task name, bound
// under that name, or "binding=task". Params become literal inputs after the task inputs, sorted
// by key.
package pipefile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"memopipe/internal/builtins"
	"memopipe/internal/core"
	"memopipe/internal/dag"
)

// Version is the only supported definition format version.
const Version = 1

// File is a parsed pipeline definition.
type File struct {
	Version int       `yaml:"version"`
	Tasks   []TaskDef `yaml:"tasks"`
}

// TaskDef is one task entry.
type TaskDef struct {
	Name   string         `yaml:"name"`
	Op     string         `yaml:"op"`
	Inputs []string       `yaml:"inputs"`
	Params map[string]any `yaml:"params"`
}

// Parse decodes a definition. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("pipeline definition is empty")
		}
		return nil, fmt.Errorf("invalid pipeline yaml: %w", err)
	}
	if f.Version == 0 {
		f.Version = Version
	}
	if f.Version != Version {
		return nil, fmt.Errorf("unsupported pipeline version %d (want %d)", f.Version, Version)
	}
	if len(f.Tasks) == 0 {
		return nil, errors.New("pipeline defines no tasks")
	}
	return &f, nil
}

// Compile checks the file as one graph, then registers its tasks in
// dependency order with ties kept in file order. Tasks may therefore name
// inputs declared further down; a file already written upstream-first
// registers exactly in file order.
func (f *File) Compile() (*core.Registry, error) {
	tasks := make([]core.Task, 0, len(f.Tasks))
	for i, def := range f.Tasks {
		t, err := def.task()
		if err != nil {
			return nil, fmt.Errorf("tasks[%d]: %w", i, err)
		}
		tasks = append(tasks, t)
	}
	g, err := dag.NewTaskGraphFromTasks(tasks)
	if err != nil {
		return nil, err
	}

	reg := core.NewRegistry()
	for _, node := range g.TopologicalOrder() {
		n, _ := g.Node(node)
		if err := reg.Register(n.Task); err != nil {
			return nil, fmt.Errorf("task %q: %w", node, err)
		}
	}
	return reg, nil
}

func (d TaskDef) task() (core.Task, error) {
	if strings.TrimSpace(d.Op) == "" {
		return core.Task{}, &core.InvalidTaskError{Task: d.Name, Reason: "op is required"}
	}
	inputs := make([]core.Input, 0, len(d.Inputs)+len(d.Params))
	for _, ref := range d.Inputs {
		binding, task, ok := strings.Cut(ref, "=")
		if !ok {
			inputs = append(inputs, core.Ref(strings.TrimSpace(ref)))
			continue
		}
		inputs = append(inputs, core.RefAs(strings.TrimSpace(binding), strings.TrimSpace(task)))
	}
	keys := make([]string, 0, len(d.Params))
	for k := range d.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		inputs = append(inputs, core.Param(k, d.Params[k]))
	}
	return builtins.Task(d.Name, d.Op, inputs...)
}

// Load reads and compiles the definition at path.
func Load(path string) (*core.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("pipeline %s not found", path)
		}
		return nil, err
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	reg, err := f.Compile()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}
