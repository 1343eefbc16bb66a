package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
)

// FingerprintVersion is mixed into every fingerprint. Bump it when the
// encoding below changes so stale records can never match.
const FingerprintVersion = "memopipe/fp/v1"

// Fingerprint is the hex sha256 identity of one task evaluation.
type Fingerprint string

// String returns the hex form.
func (f Fingerprint) String() string { return string(f) }

// Short returns the first 12 hex characters, for display.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// Fingerprinter computes task fingerprints.
//
// The fingerprint covers:
//  1. Format version
//  2. Computation identity
//  3. For each input, in declared order: kind, binding name, and either
//     the upstream fingerprint or the canonical encoding of the literal
//
// It excludes the task name, timestamps and anything machine-specific. Every
// field is length-prefixed so adjacent fields cannot alias.
type Fingerprinter struct{}

// NewFingerprinter creates a new Fingerprinter.
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{}
}

// Fingerprint computes the fingerprint of t given the fingerprints of its
// upstream tasks. Every referenced upstream must be present in upstream.
func (f *Fingerprinter) Fingerprint(t Task, upstream map[string]Fingerprint) (Fingerprint, error) {
	h := sha256.New()

	writeField(h, []byte(FingerprintVersion))
	writeField(h, []byte(t.Identity))
	writeCount(h, len(t.Inputs))

	for _, in := range t.Inputs {
		writeField(h, []byte(in.Kind))
		writeField(h, []byte(in.Name))
		switch in.Kind {
		case InputRef:
			fp, ok := upstream[in.Task]
			if !ok || fp == "" {
				return "", fmt.Errorf("fingerprint %q: missing fingerprint for upstream %q", t.Name, in.Task)
			}
			writeField(h, []byte(fp))
		case InputParam:
			b, err := in.Canonical()
			if err != nil {
				return "", fmt.Errorf("fingerprint %q: param %q: %w", t.Name, in.Name, err)
			}
			writeField(h, b)
		default:
			return "", fmt.Errorf("fingerprint %q: unknown input kind %q", t.Name, in.Kind)
		}
	}

	return Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}

func writeField(h hash.Hash, data []byte) {
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(data)))
	_, _ = h.Write(prefix[:])
	_, _ = h.Write(data)
}

func writeCount(h hash.Hash, n int) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	writeField(h, b[:])
}
