// Package store persists task results: one record per task name holding the
// fingerprint the output was computed under and the encoded output.
//
// Backends:
//   - FileStore: one directory per task under a root (default)
//   - SQLiteStore: a single database file
//   - RedisStore: hashes under a key prefix, for sharing results between hosts
//   - MemoryStore: tests and throwaway runs
package store

import (
	"context"
	"errors"
	"time"
)

// ErrCorruptRecord marks a record that exists but cannot be trusted. Callers
// treat it as a miss and recompute.
var ErrCorruptRecord = errors.New("corrupt record")

// Record is a persisted task result.
type Record struct {
	Task        string
	Fingerprint string
	Output      []byte
	StoredAt    time.Time
}

// Info returns the metadata view of r.
func (r Record) Info() RecordInfo {
	return RecordInfo{Task: r.Task, Fingerprint: r.Fingerprint, StoredAt: r.StoredAt, Size: int64(len(r.Output))}
}

// RecordInfo is record metadata without the output bytes.
type RecordInfo struct {
	Task        string    `json:"task"`
	Fingerprint string    `json:"fingerprint"`
	StoredAt    time.Time `json:"stored_at"`
	Size        int64     `json:"size"`
}

// Store is a result store. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the record for task, or nil when none exists.
	Get(ctx context.Context, task string) (*Record, error)

	// Put stores rec, replacing any previous record for rec.Task.
	Put(ctx context.Context, rec Record) error

	// Delete removes the record for task. Deleting a missing record is not an error.
	Delete(ctx context.Context, task string) error

	// List returns metadata for every stored record, sorted by task name.
	List(ctx context.Context) ([]RecordInfo, error)

	Close() error
}

func copyRecord(r Record) *Record {
	out := r
	out.Output = append([]byte(nil), r.Output...)
	return &out
}

func validateRecord(r Record) error {
	if r.Task == "" {
		return errors.New("record task is required")
	}
	if r.Fingerprint == "" {
		return errors.New("record fingerprint is required")
	}
	return nil
}
