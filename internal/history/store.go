package history

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"memopipe/internal/codec"
	"memopipe/internal/fsutil"
)

// Store reads and writes run records under a workspace state directory.
type Store struct {
	root string
}

// NewStore returns a store rooted at <stateDir>/runs.
func NewStore(stateDir string) (*Store, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, errors.New("state dir is required")
	}
	return &Store{root: filepath.Join(stateDir, "runs")}, nil
}

// Root is the directory holding one subdirectory per run.
func (s *Store) Root() string { return s.root }

func (s *Store) runDir(id string) string  { return filepath.Join(s.root, id) }
func (s *Store) runPath(id string) string { return filepath.Join(s.runDir(id), "run.json") }

// Save writes run durably, replacing any previous record with the same ID.
func (s *Store) Save(run Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	if run.Executed == nil {
		run.Executed = []string{}
	}
	if err := fsutil.EnsureDir(s.runDir(run.ID), 0o755); err != nil {
		return fmt.Errorf("ensure run dir: %w", err)
	}
	data, err := codec.MarshalIndent(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.runPath(run.ID), data, 0o644); err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// Load reads a single run.
func (s *Store) Load(id string) (Run, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Run{}, fmt.Errorf("invalid run id %q", id)
	}
	data, err := os.ReadFile(s.runPath(id))
	if err != nil {
		return Run{}, err
	}
	var run Run
	if err := codec.DecodeStrict(data, &run); err != nil {
		return Run{}, err
	}
	if err := run.Validate(); err != nil {
		return Run{}, fmt.Errorf("invalid run on disk: %w", err)
	}
	return run, nil
}

// IDs returns every run ID present on disk, sorted lexicographically.
func (s *Store) IDs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// List returns all runs, newest first. A run that cannot be loaded fails the
// whole listing.
func (s *Store) List() ([]Run, error) {
	ids, err := s.IDs()
	if err != nil {
		return nil, err
	}
	runs := make([]Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.Load(id)
		if err != nil {
			return nil, fmt.Errorf("load run %s: %w", id, err)
		}
		runs = append(runs, run)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID > runs[j].ID
	})
	return runs, nil
}

// Prune keeps the newest keep runs and removes the rest. keep <= 0 keeps
// everything. It returns the removed IDs.
func (s *Store) Prune(keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	runs, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(runs) <= keep {
		return nil, nil
	}
	var removed []string
	for _, run := range runs[keep:] {
		if err := os.RemoveAll(s.runDir(run.ID)); err != nil {
			return removed, fmt.Errorf("remove run %s: %w", run.ID, err)
		}
		removed = append(removed, run.ID)
	}
	if err := fsutil.SyncDir(s.root); err != nil {
		return removed, err
	}
	return removed, nil
}
