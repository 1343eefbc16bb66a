// Package codec is the single place where task outputs and literal
// parameters are turned into bytes.
//
// Encoding is canonical: map keys are sorted, so two structurally equal
// values always produce identical bytes. Fingerprints and persisted outputs
// both depend on that property.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math/big"
	"slices"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

// literal decodes like api but keeps numbers as written.
var literal = sonic.Config{
	EscapeHTML:       true,
	SortMapKeys:      true,
	CompactMarshaler: true,
	CopyString:       true,
	ValidateString:   true,
	UseNumber:        true,
}.Froze()

// ErrInexactNumber is returned by RoundTrip for an integer that float64
// cannot hold exactly.
var ErrInexactNumber = errors.New("integer is not exactly representable as float64")

// strict rejects unknown object fields when decoding into structs.
var strict = sonic.Config{
	EscapeHTML:            true,
	SortMapKeys:           true,
	CompactMarshaler:      true,
	CopyString:            true,
	ValidateString:        true,
	DisallowUnknownFields: true,
}.Froze()

// Marshal returns the canonical encoding of v.
func Marshal(v any) ([]byte, error) {
	b, err := api.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return b, nil
}

// Unmarshal decodes canonical bytes into the generic value model
// (float64, string, bool, nil, []any, map[string]any).
func Unmarshal(data []byte) (any, error) {
	var v any
	if err := api.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}

// RoundTrip encodes v and decodes it again. The returned bytes encode the
// decoded value, so two inputs that decode alike encode alike.
//
// Values handed to downstream computations always go through RoundTrip, so
// a freshly computed output and one loaded from a store look the same.
// Integers the decoded form would round fail with ErrInexactNumber.
func RoundTrip(v any) (any, []byte, error) {
	b, err := Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	if err := checkExact(b); err != nil {
		return nil, nil, err
	}
	out, err := Unmarshal(b)
	if err != nil {
		return nil, nil, err
	}
	canon, err := Marshal(out)
	if err != nil {
		return nil, nil, err
	}
	return out, canon, nil
}

func checkExact(data []byte) error {
	var v any
	if err := literal.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	return exactNumbers(v)
}

func exactNumbers(v any) error {
	switch x := v.(type) {
	case json.Number:
		return exactInteger(string(x))
	case []any:
		for _, e := range x {
			if err := exactNumbers(e); err != nil {
				return err
			}
		}
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(x)) {
			if err := exactNumbers(x[k]); err != nil {
				return fmt.Errorf("%q: %w", k, err)
			}
		}
	}
	return nil
}

// exactInteger accepts fractional and exponent forms as they are, and an
// integer when it is the shortest form of a float64 or equals one exactly.
func exactInteger(s string) error {
	if strings.ContainsAny(s, ".eE") {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInexactNumber, s)
	}
	if strconv.FormatFloat(f, 'f', -1, 64) == s {
		return nil
	}
	want, ok := new(big.Int).SetString(s, 10)
	got, acc := new(big.Float).SetFloat64(f).Int(nil)
	if ok && acc == big.Exact && got.Cmp(want) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInexactNumber, s)
}

// MarshalIndent is Marshal with indentation and a trailing newline, for files
// meant to be read by people.
func MarshalIndent(v any) ([]byte, error) {
	b, err := api.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return append(b, '\n'), nil
}

// DecodeStrict decodes data into dst, rejecting unknown fields and trailing
// content.
func DecodeStrict(data []byte, dst any) error {
	if err := strict.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %T: %w", dst, err)
	}
	return nil
}
