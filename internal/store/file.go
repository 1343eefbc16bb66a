package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"memopipe/internal/codec"
	"memopipe/internal/fsutil"
)

const (
	recordFile = "record.json"
	outputFile = "output.bin"
	stagingPre = ".staging-"
)

// FileStore stores one directory per task:
//
//	{Root}/
//	  {escaped task name}/
//	    record.json  (task, fingerprint, stored_at, size, sha256 of output)
//	    output.bin   (encoded output)
//
// An entry is written into a staging directory and renamed into place, so a
// crash leaves either the previous entry, no entry, or a staging directory
// that List and Get ignore.
type FileStore struct {
	Root string
}

type fileRecord struct {
	Task         string    `json:"task"`
	Fingerprint  string    `json:"fingerprint"`
	StoredAt     time.Time `json:"stored_at"`
	Size         int64     `json:"size"`
	OutputSHA256 string    `json:"output_sha256"`
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("file store root is required")
	}
	if err := fsutil.EnsureDir(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &FileStore{Root: root}, nil
}

// entryDir maps a task name to its directory. Leading dots are escaped so an
// entry can never collide with a staging directory.
func (s *FileStore) entryDir(task string) string {
	name := url.PathEscape(task)
	if strings.HasPrefix(name, ".") {
		name = "%2E" + name[1:]
	}
	return filepath.Join(s.Root, name)
}

func (s *FileStore) Get(ctx context.Context, task string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := s.entryDir(task)
	meta, err := readFileRecord(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	output, err := os.ReadFile(filepath.Join(dir, outputFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q has metadata but no output", ErrCorruptRecord, task)
		}
		return nil, fmt.Errorf("read output: %w", err)
	}
	if meta.Task != task {
		return nil, fmt.Errorf("%w: entry for %q names task %q", ErrCorruptRecord, task, meta.Task)
	}
	if sum := sha256.Sum256(output); hex.EncodeToString(sum[:]) != meta.OutputSHA256 {
		return nil, fmt.Errorf("%w: output checksum mismatch for %q", ErrCorruptRecord, task)
	}
	return &Record{Task: meta.Task, Fingerprint: meta.Fingerprint, Output: output, StoredAt: meta.StoredAt}, nil
}

func (s *FileStore) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateRecord(rec); err != nil {
		return err
	}

	// Staging lives under Root so the final rename stays on one filesystem.
	staging, err := os.MkdirTemp(s.Root, stagingPre)
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(staging)
		}
	}()

	if err := fsutil.WriteFileAtomic(filepath.Join(staging, outputFile), rec.Output, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	sum := sha256.Sum256(rec.Output)
	meta := fileRecord{
		Task:         rec.Task,
		Fingerprint:  rec.Fingerprint,
		StoredAt:     rec.StoredAt.UTC(),
		Size:         int64(len(rec.Output)),
		OutputSHA256: hex.EncodeToString(sum[:]),
	}
	data, err := codec.MarshalIndent(meta)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(staging, recordFile), data, 0o644); err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	if err := fsutil.ReplaceDir(staging, s.entryDir(rec.Task)); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	committed = true
	return nil
}

func (s *FileStore) Delete(ctx context.Context, task string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.entryDir(task)); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]RecordInfo, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list store root: %w", err)
	}
	out := make([]RecordInfo, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		meta, err := readFileRecord(filepath.Join(s.Root, e.Name()))
		if err != nil {
			// Half-written or foreign directories are not records.
			continue
		}
		out = append(out, RecordInfo{Task: meta.Task, Fingerprint: meta.Fingerprint, StoredAt: meta.StoredAt, Size: meta.Size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Task < out[j].Task })
	return out, nil
}

func (s *FileStore) Close() error { return nil }

func readFileRecord(dir string) (fileRecord, error) {
	var meta fileRecord
	data, err := os.ReadFile(filepath.Join(dir, recordFile))
	if err != nil {
		return meta, err
	}
	if err := codec.DecodeStrict(data, &meta); err != nil {
		return meta, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if meta.Task == "" || meta.Fingerprint == "" {
		return meta, fmt.Errorf("%w: incomplete metadata in %s", ErrCorruptRecord, dir)
	}
	return meta, nil
}
