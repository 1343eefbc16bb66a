package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"memopipe/internal/codec"
	"memopipe/internal/core"
	"memopipe/internal/dag"
	"memopipe/internal/store"
)

// Visualize returns the dependency edges in registration order.
func (p *Pipeline) Visualize() []dag.Edge { return p.graph.Edges() }

// DOT renders the graph in Graphviz format.
func (p *Pipeline) DOT() string {
	var b strings.Builder
	b.WriteString("digraph memopipe {\n  rankdir=LR;\n")
	for _, n := range p.graph.Nodes() {
		fmt.Fprintf(&b, "  %s [label=%s];\n", strconv.Quote(n.Name), strconv.Quote(n.Name+"\n"+n.Task.Identity))
	}
	for _, e := range p.graph.Edges() {
		fmt.Fprintf(&b, "  %s -> %s;\n", strconv.Quote(e.From), strconv.Quote(e.To))
	}
	b.WriteString("}\n")
	return b.String()
}

// ManifestEntry describes a registered task.
type ManifestEntry struct {
	Identity     string   `json:"identity"`
	Inputs       []string `json:"inputs"`
	Dependencies []string `json:"dependencies"`
	Depth        int      `json:"depth"`
}

// Manifest describes every registered task by name.
func (p *Pipeline) Manifest() map[string]ManifestEntry {
	out := make(map[string]ManifestEntry, p.snap.Len())
	for t := range p.snap.AllTasks() {
		inputs := make([]string, 0, len(t.Inputs))
		for _, in := range t.Inputs {
			inputs = append(inputs, in.String())
		}
		deps := t.Dependencies()
		if deps == nil {
			deps = []string{}
		}
		depth, _ := p.graph.Depth(t.Name)
		out[t.Name] = ManifestEntry{Identity: t.Identity, Inputs: inputs, Dependencies: deps, Depth: depth}
	}
	return out
}

// Metadata returns stored record metadata for every registered task that has
// a record.
func (p *Pipeline) Metadata(ctx context.Context) (map[string]store.RecordInfo, error) {
	infos, err := p.store.List(ctx)
	if err != nil {
		return nil, &core.StoreIOError{Op: "list", Err: err}
	}
	out := make(map[string]store.RecordInfo, len(infos))
	for _, info := range infos {
		if p.snap.Index(info.Task) < 0 {
			continue
		}
		out[info.Task] = info
	}
	return out, nil
}

// Action is what a run would do with a task.
type Action string

const (
	ActionSkip Action = "skip"
	ActionRun  Action = "run"
)

// PlanEntry is the predicted outcome for one task.
type PlanEntry struct {
	Task        string           `json:"task"`
	Fingerprint core.Fingerprint `json:"fingerprint"`
	Action      Action           `json:"action"`
	Reason      string           `json:"reason"`
}

// Plan predicts, without computing anything, which tasks a run would skip.
// Fingerprints depend only on definitions, so the prediction is exact unless
// a task fails.
func (p *Pipeline) Plan(ctx context.Context) ([]PlanEntry, error) {
	fps := make(map[string]core.Fingerprint, p.graph.Len())
	byName := make(map[string]PlanEntry, p.graph.Len())
	for _, name := range p.graph.TopologicalOrder() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node, _ := p.graph.Node(name)
		upstream := make(map[string]core.Fingerprint)
		for _, dep := range node.Task.Dependencies() {
			upstream[dep] = fps[dep]
		}
		fp, err := p.runner.Fingerprint(node.Task, upstream)
		if err != nil {
			return nil, err
		}
		fps[name] = fp

		res, hit, err := p.runner.Lookup(ctx, node.Task, fp)
		if err != nil {
			return nil, err
		}
		entry := PlanEntry{Task: name, Fingerprint: fp, Action: ActionRun, Reason: res.Reason}
		if hit {
			entry.Action = ActionSkip
		}
		byName[name] = entry
	}

	out := make([]PlanEntry, 0, len(byName))
	for _, n := range p.graph.Nodes() {
		out = append(out, byName[n.Name])
	}
	return out, nil
}

// ErrNoRecord is returned by Output for a task with nothing stored.
var ErrNoRecord = errors.New("no stored output")

// Output returns the decoded stored output of name, and whether it was
// computed under the task's current fingerprint.
func (p *Pipeline) Output(ctx context.Context, name string) (any, bool, error) {
	if p.snap.Index(name) < 0 {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	rec, err := p.store.Get(ctx, name)
	if err != nil {
		return nil, false, &core.StoreIOError{Op: "get", Task: name, Err: err}
	}
	if rec == nil {
		return nil, false, fmt.Errorf("%w for task %q", ErrNoRecord, name)
	}
	out, err := codec.Unmarshal(rec.Output)
	if err != nil {
		return nil, false, &core.StoreIOError{Op: "decode", Task: name, Err: err}
	}

	plan, err := p.Plan(ctx)
	if err != nil {
		return nil, false, err
	}
	current := false
	for _, e := range plan {
		if e.Task == name {
			current = e.Fingerprint.String() == rec.Fingerprint
			break
		}
	}
	return out, current, nil
}
