package dag

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"

	"memopipe/internal/core"
)

type edgeIndex struct {
	from int
	to   int
}

// TaskGraph is an immutable, validated DAG.
//
// It is safe for concurrent read access.
type TaskGraph struct {
	nodesByName map[string]*TaskNode
	nodes       []*TaskNode // canonical (registration) order

	edges []edgeIndex // sorted

	outgoing [][]int // by canonical index, sorted ascending
	incoming [][]int // by canonical index, sorted ascending
	indeg    []int   // by canonical index
	depth    []int   // by canonical index (topological depth)
	topo     []int   // Kahn order, ties by canonical index

	hash GraphHash
}

// NewTaskGraph builds the graph of a registry snapshot. Registration already
// rejected duplicates and forward references; the graph is still checked for
// cycles.
func NewTaskGraph(snap *core.Snapshot) (*TaskGraph, error) {
	if snap == nil {
		return nil, invalidf("nil snapshot")
	}
	return build(snap.Tasks())
}

// NewTaskGraphFromTasks builds a graph from raw tasks in declaration order.
//
// Unlike the registry, dependencies may point forward, so this is the path
// through which cycles can enter. It rejects:
//   - invalid task definitions
//   - duplicate task names
//   - references to unknown tasks
//   - any cycle (direct or indirect)
func NewTaskGraphFromTasks(tasks []core.Task) (*TaskGraph, error) {
	canon := make([]core.Task, 0, len(tasks))
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		ct, err := core.Canonicalize(t)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[ct.Name]; dup {
			return nil, &core.DuplicateTaskError{Name: ct.Name}
		}
		seen[ct.Name] = struct{}{}
		canon = append(canon, ct)
	}
	for _, t := range canon {
		for _, dep := range t.Dependencies() {
			if _, ok := seen[dep]; !ok {
				return nil, &core.UnknownDependencyError{Task: t.Name, Dependency: dep}
			}
		}
	}
	return build(canon)
}

func build(tasks []core.Task) (*TaskGraph, error) {
	nodesByName := make(map[string]*TaskNode, len(tasks))
	nodes := make([]*TaskNode, 0, len(tasks))
	for i, t := range tasks {
		n := &TaskNode{Name: t.Name, Task: t, canonicalIndex: i}
		nodesByName[t.Name] = n
		nodes = append(nodes, n)
	}

	var edges []edgeIndex
	for _, n := range nodes {
		for _, dep := range n.Task.Dependencies() {
			from, ok := nodesByName[dep]
			if !ok {
				return nil, &core.UnknownDependencyError{Task: n.Name, Dependency: dep}
			}
			edges = append(edges, edgeIndex{from: from.canonicalIndex, to: n.canonicalIndex})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.from != b.from {
			return a.from < b.from
		}
		return a.to < b.to
	})

	outgoing := make([][]int, len(nodes))
	incoming := make([][]int, len(nodes))
	indeg := make([]int, len(nodes))
	for _, e := range edges {
		outgoing[e.from] = append(outgoing[e.from], e.to)
		incoming[e.to] = append(incoming[e.to], e.from)
		indeg[e.to]++
	}
	for i := range incoming {
		sort.Ints(incoming[i])
	}

	g := &TaskGraph{
		nodesByName: nodesByName,
		nodes:       nodes,
		edges:       edges,
		outgoing:    outgoing,
		incoming:    incoming,
		indeg:       indeg,
	}
	if err := g.order(); err != nil {
		return nil, err
	}
	g.depth = g.computeDepth()
	g.hash = g.computeGraphHash()
	return g, nil
}

// Hash returns the stable identity for this graph.
func (g *TaskGraph) Hash() GraphHash { return g.hash }

// Len returns the number of tasks.
func (g *TaskGraph) Len() int { return len(g.nodes) }

// Node returns a node by name.
func (g *TaskGraph) Node(name string) (*TaskNode, bool) {
	n, ok := g.nodesByName[name]
	return n, ok
}

// Nodes returns the nodes in canonical order.
func (g *TaskGraph) Nodes() []*TaskNode {
	out := make([]*TaskNode, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns the dependency edges as (From, To) name pairs in canonical order.
func (g *TaskGraph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, Edge{From: g.nodes[e.from].Name, To: g.nodes[e.to].Name})
	}
	return out
}

// Upstream returns the direct dependencies of name in canonical order.
func (g *TaskGraph) Upstream(name string) []string {
	n, ok := g.nodesByName[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.incoming[n.canonicalIndex]))
	for _, p := range g.incoming[n.canonicalIndex] {
		out = append(out, g.nodes[p].Name)
	}
	return out
}

// Downstream returns every task that transitively depends on name, in
// canonical order. name itself is not included.
func (g *TaskGraph) Downstream(name string) []string {
	n, ok := g.nodesByName[name]
	if !ok {
		return nil
	}
	reach := g.reachable(n.canonicalIndex)
	out := make([]string, 0, len(reach))
	for _, idx := range reach {
		out = append(out, g.nodes[idx].Name)
	}
	return out
}

// reachable returns the canonical indices reachable from start, excluding
// start, sorted ascending.
func (g *TaskGraph) reachable(start int) []int {
	visited := make([]bool, len(g.nodes))
	visited[start] = true
	stack := append([]int(nil), g.outgoing[start]...)
	var out []int
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[u] {
			continue
		}
		visited[u] = true
		out = append(out, u)
		stack = append(stack, g.outgoing[u]...)
	}
	sort.Ints(out)
	return out
}

// Depth returns the length of the longest path from any root to name.
func (g *TaskGraph) Depth(name string) (int, bool) {
	n, ok := g.nodesByName[name]
	if !ok {
		return 0, false
	}
	return g.depth[n.canonicalIndex], true
}

func (g *TaskGraph) computeDepth() []int {
	depth := make([]int, len(g.nodes))
	for _, u := range g.topo {
		maxParent := 0
		for _, p := range g.incoming[u] {
			if cand := depth[p] + 1; cand > maxParent {
				maxParent = cand
			}
		}
		depth[u] = maxParent
	}
	return depth
}

// TopologicalOrder returns the deterministic topological order of task names:
// Kahn's algorithm with ties broken by registration order.
func (g *TaskGraph) TopologicalOrder() []string {
	names := make([]string, 0, len(g.topo))
	for _, idx := range g.topo {
		names = append(names, g.nodes[idx].Name)
	}
	return names
}

func (g *TaskGraph) computeGraphHash() GraphHash {
	h := sha256.New()

	writeInt(h, len(g.nodes))
	for _, n := range g.nodes {
		writeField(h, []byte(n.Name))
		writeField(h, []byte(n.Task.Identity))
		writeInt(h, len(n.Task.Inputs))
		for _, in := range n.Task.Inputs {
			writeField(h, []byte(in.Kind))
			writeField(h, []byte(in.Name))
			if in.Kind == core.InputRef {
				writeField(h, []byte(in.Task))
				continue
			}
			// Canonicalized at construction, so this cannot fail.
			b, _ := in.Canonical()
			writeField(h, b)
		}
	}

	writeInt(h, len(g.edges))
	for _, e := range g.edges {
		writeInt(h, e.from)
		writeInt(h, e.to)
	}

	return GraphHash(hex.EncodeToString(h.Sum(nil)))
}

func writeField(h hash.Hash, data []byte) {
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(data)))
	h.Write(prefix[:])
	h.Write(data)
}

func writeInt(h hash.Hash, v int) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	writeField(h, b[:])
}
