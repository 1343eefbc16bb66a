package builtins

import (
	"context"
	"errors"
	"fmt"

	"memopipe/internal/core"
)

func constant(_ context.Context, args core.Args) (any, error) {
	v, ok := args.Value("value")
	if !ok {
		return nil, errors.New("const: missing param \"value\"")
	}
	return v, nil
}

// scalars returns every input as a number, in declaration order.
func scalars(op string, args core.Args) ([]float64, error) {
	if args.Len() == 0 {
		return nil, fmt.Errorf("%s: no inputs", op)
	}
	names := args.Names()
	out := make([]float64, 0, args.Len())
	for i := range names {
		f, ok := core.ToFloat(args.At(i))
		if !ok {
			return nil, fmt.Errorf("%s: input %q is %T, not a number", op, names[i], args.At(i))
		}
		out = append(out, f)
	}
	return out, nil
}

// flatten returns every number across all inputs, lists expanded.
func flatten(op string, args core.Args) ([]float64, error) {
	names := args.Names()
	var out []float64
	for i := range names {
		xs, err := core.ToFloats(args.At(i))
		if err != nil {
			return nil, fmt.Errorf("%s: input %q: %w", op, names[i], err)
		}
		out = append(out, xs...)
	}
	return out, nil
}

func add(_ context.Context, args core.Args) (any, error) {
	xs, err := scalars("add", args)
	if err != nil {
		return nil, err
	}
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total, nil
}

func sub(_ context.Context, args core.Args) (any, error) {
	xs, err := scalars("sub", args)
	if err != nil {
		return nil, err
	}
	out := xs[0]
	for _, x := range xs[1:] {
		out -= x
	}
	return out, nil
}

func mul(_ context.Context, args core.Args) (any, error) {
	xs, err := scalars("mul", args)
	if err != nil {
		return nil, err
	}
	out := 1.0
	for _, x := range xs {
		out *= x
	}
	return out, nil
}

func div(_ context.Context, args core.Args) (any, error) {
	xs, err := scalars("div", args)
	if err != nil {
		return nil, err
	}
	if len(xs) != 2 {
		return nil, fmt.Errorf("div: want 2 inputs, got %d", len(xs))
	}
	if xs[1] == 0 {
		return nil, errors.New("div: division by zero")
	}
	return xs[0] / xs[1], nil
}

func sum(_ context.Context, args core.Args) (any, error) {
	xs, err := flatten("sum", args)
	if err != nil {
		return nil, err
	}
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total, nil
}

func mean(_ context.Context, args core.Args) (any, error) {
	xs, err := flatten("mean", args)
	if err != nil {
		return nil, err
	}
	if len(xs) == 0 {
		return nil, errors.New("mean: no numbers")
	}
	m, _ := meanSD(xs)
	return m, nil
}
