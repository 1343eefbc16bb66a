package dag

import (
	"container/heap"

	"memopipe/internal/core"
)

// order runs Kahn's algorithm once and keeps the result. Nodes it cannot
// place sit on or behind a cycle, and the error names one such cycle.
func (g *TaskGraph) order() error {
	order := g.kahn()
	if len(order) < len(g.nodes) {
		return &core.CyclicDependencyError{Cycle: g.cycleWitness(order)}
	}
	g.topo = order
	return nil
}

// readyQueue pops the lowest canonical index first.
type readyQueue []int

func (q readyQueue) Len() int           { return len(q) }
func (q readyQueue) Less(i, j int) bool { return q[i] < q[j] }
func (q readyQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *readyQueue) Push(x any)        { *q = append(*q, x.(int)) }
func (q *readyQueue) Pop() any {
	last := (*q)[len(*q)-1]
	*q = (*q)[:len(*q)-1]
	return last
}

func (g *TaskGraph) kahn() []int {
	remaining := append([]int(nil), g.indeg...)
	q := &readyQueue{}
	for i, d := range remaining {
		if d == 0 {
			*q = append(*q, i)
		}
	}
	heap.Init(q)

	out := make([]int, 0, len(g.nodes))
	for q.Len() > 0 {
		u := heap.Pop(q).(int)
		out = append(out, u)
		for _, v := range g.outgoing[u] {
			if remaining[v]--; remaining[v] == 0 {
				heap.Push(q, v)
			}
		}
	}
	return out
}

// cycleWitness walks the unplaced nodes depth-first in canonical order and
// returns the first cycle it closes, in dependency direction, with the
// first task repeated at the end.
func (g *TaskGraph) cycleWitness(placed []int) []string {
	blocked := make([]bool, len(g.nodes))
	for i := range blocked {
		blocked[i] = true
	}
	for _, i := range placed {
		blocked[i] = false
	}

	type frame struct{ node, next int }
	finished := make([]bool, len(g.nodes))
	onStack := make([]int, len(g.nodes)) // stack position + 1, 0 when off the stack

	for root := range g.nodes {
		if !blocked[root] || finished[root] {
			continue
		}
		stack := []frame{{node: root}}
		onStack[root] = 1
		for len(stack) > 0 {
			top := len(stack) - 1
			u := stack[top].node
			if stack[top].next == len(g.outgoing[u]) {
				finished[u] = true
				onStack[u] = 0
				stack = stack[:top]
				continue
			}
			v := g.outgoing[u][stack[top].next]
			stack[top].next++

			switch {
			case !blocked[v] || finished[v]:
			case onStack[v] > 0:
				var cycle []string
				for _, f := range stack[onStack[v]-1:] {
					cycle = append(cycle, g.nodes[f.node].Name)
				}
				return append(cycle, g.nodes[v].Name)
			default:
				stack = append(stack, frame{node: v})
				onStack[v] = len(stack)
			}
		}
	}
	return nil
}
