package cli

import (
	"os"
	"path/filepath"

	"memopipe/internal/fsutil"
	"memopipe/internal/trace"
)

// traceFile collects execution events and writes them as canonical JSON.
type traceFile struct {
	path     string
	recorder *trace.Recorder
}

func newTraceFile(path string) (*traceFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &traceFile{path: path, recorder: trace.NewRecorder()}, nil
}

// Finalize writes whatever was recorded, including after a halted run.
func (w *traceFile) Finalize(graphHash string) error {
	b, err := w.recorder.Trace(graphHash).CanonicalJSON()
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(w.path, b, 0o644)
}
