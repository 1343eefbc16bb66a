// Package core provides the task model for memoized pipeline execution.
//
// # Core Types
//
// Task: a named, pure computation with an explicit computation identity and
// an ordered list of inputs (upstream task references or literal params).
//
// Registry: the append-only set of declared tasks. Registration order is
// declaration order; it never implies execution order.
//
// Fingerprint: the deterministic identity of a task evaluation, derived from
// the computation identity, upstream fingerprints and literal parameters.
//
// All identity-bearing encodings are canonical: no timestamps, no pointer
// identity, no map iteration order.
package core
