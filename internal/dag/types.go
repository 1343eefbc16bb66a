package dag

import "memopipe/internal/core"

// GraphHash is the deterministic identity of a TaskGraph: task identities,
// inputs and edge structure.
type GraphHash string

// String returns the hex form.
func (h GraphHash) String() string { return string(h) }

// Edge is a dependency: To consumes the output of From.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// TaskNode is an immutable node in the TaskGraph.
type TaskNode struct {
	Name           string
	Task           core.Task
	canonicalIndex int
}

// CanonicalIndex returns the node's registration index.
func (n *TaskNode) CanonicalIndex() int { return n.canonicalIndex }
