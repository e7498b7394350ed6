// Package fanout runs one operation per input concurrently and collects the
// results in input order.
package fanout

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome for one input.
type Result[T any] struct {
	Value T
	Err   error
}

// Collect runs fn for every input with at most limit in flight and waits for
// all of them. One failure does not stop the others. A limit <= 0 means
// unbounded.
func Collect[In, Out any](ctx context.Context, limit int, inputs []In, fn func(ctx context.Context, i int, in In) (Out, error)) []Result[Out] {
	results := make([]Result[Out], len(inputs))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, in := range inputs {
		g.Go(func() error {
			v, err := fn(ctx, i, in)
			results[i] = Result[Out]{Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// All runs fn for every input with at most limit in flight. The first failure
// cancels the context passed to the remaining calls and is returned.
func All[In, Out any](ctx context.Context, limit int, inputs []In, fn func(ctx context.Context, i int, in In) (Out, error)) ([]Out, error) {
	out := make([]Out, len(inputs))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, in := range inputs {
		g.Go(func() error {
			v, err := fn(ctx, i, in)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
