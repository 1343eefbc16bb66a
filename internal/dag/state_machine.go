package dag

import (
	"container/heap"
	"fmt"
)

// IsTerminal reports whether the state is final for this run.
func IsTerminal(s TaskState) bool {
	switch s {
	case TaskDone, TaskSkipped, TaskFailed, TaskNotRun:
		return true
	default:
		return false
	}
}

// IsSuccessful reports whether the state satisfies dependents.
func IsSuccessful(s TaskState) bool {
	return s == TaskDone || s == TaskSkipped
}

// Transition performs a validated transition for a single task.
//
// The caller supplies the expected prior state (from) to make races
// observable. state is mutated only if the transition is valid.
func Transition(state ExecutionState, taskName string, from, to TaskState) error {
	cur, ok := state[taskName]
	if !ok {
		return invalidf("unknown task in state: %q", taskName)
	}
	if cur != from {
		return invalidf("invalid transition for %q: expected %s, got %s", taskName, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return invalidf("disallowed transition for %q: %s -> %s", taskName, from, to)
	}
	state[taskName] = to
	return nil
}

func isAllowedTransition(from, to TaskState) bool {
	switch from {
	case TaskPending:
		return to == TaskFingerprinted || to == TaskFailed || to == TaskNotRun
	case TaskFingerprinted:
		return to == TaskSkipped || to == TaskRunning || to == TaskFailed || to == TaskNotRun
	case TaskRunning:
		return to == TaskDone || to == TaskFailed
	default:
		return false
	}
}

// FailAndPropagate marks taskName FAILED (from RUNNING or FINGERPRINTED) and
// marks every PENDING transitive dependent FAILED as well. It returns the
// dependents it failed, in canonical order.
//
// A dependent that is already RUNNING is an invariant violation: it could not
// have been dispatched with a failed dependency.
func FailAndPropagate(g *TaskGraph, state ExecutionState, taskName string) ([]string, error) {
	if g == nil {
		return nil, invalidf("nil graph")
	}
	node, ok := g.nodesByName[taskName]
	if !ok {
		return nil, invalidf("unknown task: %q", taskName)
	}

	cur, ok := state[taskName]
	if !ok {
		return nil, invalidf("unknown task in state: %q", taskName)
	}
	switch cur {
	case TaskRunning, TaskFingerprinted:
		state[taskName] = TaskFailed
	case TaskFailed:
	default:
		return nil, invalidf("cannot fail %q from state %s", taskName, cur)
	}

	start := node.canonicalIndex
	visited := make([]bool, len(g.nodes))
	visited[start] = true

	hq := &intMinHeap{}
	heap.Init(hq)
	for _, d := range g.outgoing[start] {
		heap.Push(hq, d)
	}

	var failed []string
	for hq.Len() > 0 {
		u := heap.Pop(hq).(int)
		if visited[u] {
			continue
		}
		visited[u] = true

		name := g.nodes[u].Name
		st, ok := state[name]
		if !ok {
			return failed, fmt.Errorf("missing state for %q", name)
		}

		switch st {
		case TaskPending:
			state[name] = TaskFailed
			failed = append(failed, name)
		case TaskRunning, TaskFingerprinted:
			return failed, invalidf("downstream task %q is %s during failure propagation", name, st)
		default:
			// Already terminal, e.g. failed through another path.
		}

		for _, v := range g.outgoing[u] {
			if !visited[v] {
				heap.Push(hq, v)
			}
		}
	}
	return failed, nil
}

// MarkNotRun moves every PENDING or FINGERPRINTED task to NOT_RUN and returns
// them in canonical order. Used when a run halts.
func MarkNotRun(g *TaskGraph, state ExecutionState) []string {
	var out []string
	for _, n := range g.nodes {
		switch state[n.Name] {
		case TaskPending, TaskFingerprinted:
			state[n.Name] = TaskNotRun
			out = append(out, n.Name)
		}
	}
	return out
}
