// Package dag builds the dependency graph of a task set and executes it with
// memoization.
//
// It is split into:
//   - Immutable graph definition (TaskGraph): tasks, edges from Ref inputs, stable GraphHash
//   - Mutable execution state (ExecutionState): per-task states for one run
//   - Executor: drives the state machine serially or with a bounded worker pool
//
// Canonical order is registration order. Every tie (ready queue, topological
// order, failure propagation) is broken by it.
package dag
