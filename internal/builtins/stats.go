package builtins

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"memopipe/internal/codec"
	"memopipe/internal/core"
)

// normalSamples draws n values from N(mean, sd). The generator is seeded
// from the seed param, so the output is a pure function of the params.
func normalSamples(_ context.Context, args core.Args) (any, error) {
	n, err := intParam(args, "n", -1)
	if err != nil {
		return nil, fmt.Errorf("normal_samples: %w", err)
	}
	if n <= 0 {
		return nil, errors.New("normal_samples: param \"n\" must be > 0")
	}
	mu, err := args.FloatOr("mean", 0)
	if err != nil {
		return nil, fmt.Errorf("normal_samples: %w", err)
	}
	sd, err := args.FloatOr("sd", 1)
	if err != nil {
		return nil, fmt.Errorf("normal_samples: %w", err)
	}
	if sd < 0 {
		return nil, errors.New("normal_samples: param \"sd\" must be >= 0")
	}
	seed, err := intParam(args, "seed", 0)
	if err != nil {
		return nil, fmt.Errorf("normal_samples: %w", err)
	}

	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64()*sd + mu
	}
	return out, nil
}

// Params is a mean and standard deviation.
type Params struct {
	Mean float64 `json:"mean"`
	SD   float64 `json:"sd"`
}

// SampleStats describes one sample list.
type SampleStats struct {
	Name string  `json:"name"`
	N    int     `json:"n"`
	Mean float64 `json:"mean"`
	SD   float64 `json:"sd"`
}

// Summary sets the known distribution parameters next to the statistics of
// each sample drawn from it.
type Summary struct {
	Known   Params        `json:"known"`
	Samples []SampleStats `json:"samples"`
}

// Difference is the percent difference of one sample's statistics from the
// known parameters.
type Difference struct {
	Name        string  `json:"name"`
	N           int     `json:"n"`
	MeanPercent float64 `json:"mean_percent"`
	SDPercent   float64 `json:"sd_percent"`
}

// summarize takes the known "mean" and "sd" params; every other input is a
// sample list, reported in declaration order under its binding name.
func summarize(_ context.Context, args core.Args) (any, error) {
	known := Params{}
	var err error
	if known.Mean, err = args.Float("mean"); err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	if known.SD, err = args.Float("sd"); err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}

	s := Summary{Known: known, Samples: []SampleStats{}}
	for i, name := range args.Names() {
		if name == "mean" || name == "sd" {
			continue
		}
		xs, err := core.ToFloats(args.At(i))
		if err != nil {
			return nil, fmt.Errorf("summarize: input %q: %w", name, err)
		}
		if len(xs) == 0 {
			return nil, fmt.Errorf("summarize: input %q is empty", name)
		}
		m, sd := meanSD(xs)
		s.Samples = append(s.Samples, SampleStats{Name: name, N: len(xs), Mean: m, SD: sd})
	}
	if len(s.Samples) == 0 {
		return nil, errors.New("summarize: no sample inputs")
	}
	return s, nil
}

// percentDifference takes exactly one input: the output of summarize.
func percentDifference(_ context.Context, args core.Args) (any, error) {
	if args.Len() != 1 {
		return nil, fmt.Errorf("percent_difference: want 1 input, got %d", args.Len())
	}
	var s Summary
	if err := decodeInto(args.At(0), &s); err != nil {
		return nil, fmt.Errorf("percent_difference: input is not a summary: %w", err)
	}
	if s.Known.Mean == 0 || s.Known.SD == 0 {
		return nil, errors.New("percent_difference: known mean and sd must be non-zero")
	}
	out := make([]Difference, 0, len(s.Samples))
	for _, st := range s.Samples {
		out = append(out, Difference{
			Name:        st.Name,
			N:           st.N,
			MeanPercent: percent(st.Mean, s.Known.Mean),
			SDPercent:   percent(st.SD, s.Known.SD),
		})
	}
	return out, nil
}

// histogram renders every sample input as binned counts over a shared range.
// The optional "bins" param sets the bin count (default 10).
func histogram(_ context.Context, args core.Args) (any, error) {
	bins, err := intParam(args, "bins", 10)
	if err != nil {
		return nil, fmt.Errorf("histogram: %w", err)
	}
	if bins <= 0 {
		return nil, errors.New("histogram: param \"bins\" must be > 0")
	}

	type series struct {
		name string
		xs   []float64
	}
	var all []series
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, name := range args.Names() {
		if name == "bins" {
			continue
		}
		xs, err := core.ToFloats(args.At(i))
		if err != nil {
			return nil, fmt.Errorf("histogram: input %q: %w", name, err)
		}
		for _, x := range xs {
			lo = math.Min(lo, x)
			hi = math.Max(hi, x)
		}
		all = append(all, series{name: name, xs: xs})
	}
	if len(all) == 0 {
		return nil, errors.New("histogram: no sample inputs")
	}
	if math.IsInf(lo, 1) {
		lo, hi = 0, 0
	}
	width := (hi - lo) / float64(bins)
	if width == 0 {
		width = 1
	}

	var b strings.Builder
	for _, s := range all {
		counts := make([]int, bins)
		for _, x := range s.xs {
			idx := int((x - lo) / width)
			if idx >= bins {
				idx = bins - 1
			}
			counts[idx]++
		}
		fmt.Fprintf(&b, "%s (n=%d)\n", s.name, len(s.xs))
		for i, c := range counts {
			from := lo + float64(i)*width
			fmt.Fprintf(&b, "  [%10.4f, %10.4f) %5d %s\n", from, from+width, c, strings.Repeat("#", c))
		}
	}
	return b.String(), nil
}

// meanSD returns the mean and the sample standard deviation (n-1
// denominator; zero for fewer than two values).
func meanSD(xs []float64) (float64, float64) {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	m := total / float64(len(xs))
	if len(xs) < 2 {
		return m, 0
	}
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return m, math.Sqrt(ss / float64(len(xs)-1))
}

func percent(got, want float64) float64 {
	return 100 * (got - want) / want
}

// intParam reads a whole-number param. def < 0 makes it required.
func intParam(args core.Args, name string, def int) (int, error) {
	if _, ok := args.Value(name); !ok {
		if def < 0 {
			return 0, fmt.Errorf("missing param %q", name)
		}
		return def, nil
	}
	f, err := args.Float(name)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("param %q must be a whole number, got %v", name, f)
	}
	return int(f), nil
}

// decodeInto converts a decoded output back into a typed value.
func decodeInto(v any, dst any) error {
	b, err := codec.Marshal(v)
	if err != nil {
		return err
	}
	return codec.DecodeStrict(b, dst)
}
