package trace

import (
	"errors"
	"fmt"
	"sort"

	"memopipe/internal/codec"
)

// ExecutionTrace is the canonical record of what a pipeline run decided.
//
// It captures logical transitions only: no timestamps, durations or error
// strings. Two runs over the same graph with the same store contents produce
// byte-identical canonical traces regardless of worker interleaving.
//
// The trace is observational; it never affects execution.
type ExecutionTrace struct {
	GraphHash string       `json:"graphHash"`
	Events    []TraceEvent `json:"events"`
}

// TraceEventKind is the stable discriminator for TraceEvent. The string
// values are part of the canonical bytes; do not rename.
type TraceEventKind string

const (
	EventTaskInvalidated TraceEventKind = "TaskInvalidated"
	EventTaskSkipped     TraceEventKind = "TaskSkipped"
	EventTaskExecuted    TraceEventKind = "TaskExecuted"
	EventTaskFailed      TraceEventKind = "TaskFailed"
	EventTaskNotRun      TraceEventKind = "TaskNotRun"
)

// Reason codes.
const (
	ReasonFingerprintMatch = "FingerprintMatch"
	ReasonNoRecord         = "NoRecord"
	ReasonFingerprintStale = "FingerprintChanged"
	ReasonRecordCorrupt    = "RecordCorrupt"
	ReasonComputeError     = "ComputeError"
	ReasonStoreError       = "StoreError"
	ReasonUpstreamFailed   = "UpstreamFailed"
	ReasonRunHalted        = "RunHalted"
	ReasonOperator         = "Operator"
)

// TraceEvent is a single logical transition or decision.
type TraceEvent struct {
	Kind TraceEventKind `json:"kind"`

	// TaskID is the task name.
	TaskID string `json:"taskId"`

	// Fingerprint is the task fingerprint when one was computed.
	Fingerprint string `json:"fingerprint,omitempty"`

	// Reason is a stable reason code (see the Reason constants).
	Reason string `json:"reason,omitempty"`

	// CauseTaskID records the upstream task responsible for this event.
	CauseTaskID string `json:"causeTaskId,omitempty"`
}

// Validate checks basic invariants.
func (t *ExecutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.GraphHash == "" {
		return errors.New("graphHash is required")
	}
	for i, e := range t.Events {
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.TaskID == "" {
			return fmt.Errorf("events[%d].taskId is required for kind %q", i, e.Kind)
		}
	}
	return nil
}

// Canonicalize sorts events by (taskId, kind, reason, causeTaskId, fingerprint).
func (t *ExecutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	if len(t.Events) == 0 {
		t.Events = []TraceEvent{}
		return
	}
	sort.SliceStable(t.Events, func(i, j int) bool {
		a, b := t.Events[i], t.Events[j]
		if a.TaskID != b.TaskID {
			return a.TaskID < b.TaskID
		}
		if ka, kb := kindOrder(a.Kind), kindOrder(b.Kind); ka != kb {
			return ka < kb
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		if a.CauseTaskID != b.CauseTaskID {
			return a.CauseTaskID < b.CauseTaskID
		}
		return a.Fingerprint < b.Fingerprint
	})
}

func kindOrder(k TraceEventKind) int {
	switch k {
	case EventTaskInvalidated:
		return 0
	case EventTaskSkipped:
		return 10
	case EventTaskExecuted:
		return 20
	case EventTaskFailed:
		return 30
	case EventTaskNotRun:
		return 40
	default:
		return 1000
	}
}

// CanonicalJSON returns the canonical encoding of the trace. The receiver is
// not modified.
func (t ExecutionTrace) CanonicalJSON() ([]byte, error) {
	cp := ExecutionTrace{GraphHash: t.GraphHash, Events: append([]TraceEvent(nil), t.Events...)}
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return codec.Marshal(cp)
}

// Hash returns the sha256 hex of the canonical encoding.
func (t ExecutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}
