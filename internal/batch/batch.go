// Package batch executes independent operations with a concurrency ceiling
// and inter-batch pacing, keeping I/O pressure on the underlying source
// bounded when item counts reach into the thousands.
package batch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Defaults used when an Options field is zero or negative.
const (
	DefaultConcurrency = 5
	DefaultSize        = 25
	DefaultPause       = 50 * time.Millisecond
)

// Options tunes a Run call. The zero value means defaults.
type Options struct {
	Concurrency int           // max in-flight operations
	Size        int           // items per batch
	Pause       time.Duration // delay between batches
}

func (o Options) normalized() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Size <= 0 {
		o.Size = DefaultSize
	}
	if o.Pause <= 0 {
		o.Pause = DefaultPause
	}
	return o
}

// Result holds the outcome of one item. A non-nil Err marks the item as
// missing; callers filter those out.
type Result[R any] struct {
	Value R
	Err   error
}

// Run executes fn for every item, at most opts.Concurrency at a time, in
// groups of opts.Size with opts.Pause between groups. Results come back in
// input order. A failing item records its error in the corresponding Result
// and never aborts its siblings; the only way Run stops early is ctx
// cancellation, in which case remaining items carry the context error.
func Run[T, R any](ctx context.Context, items []T, fn func(context.Context, T) (R, error), opts Options) []Result[R] {
	opts = opts.normalized()
	results := make([]Result[R], len(items))

	for lo := 0; lo < len(items); lo += opts.Size {
		hi := min(lo+opts.Size, len(items))

		if err := ctx.Err(); err != nil {
			for i := lo; i < len(items); i++ {
				results[i].Err = err
			}
			return results
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Concurrency)
		for i := lo; i < hi; i++ {
			g.Go(func() error {
				v, err := fn(gctx, items[i])
				results[i] = Result[R]{Value: v, Err: err}
				return nil // item errors stay in their slot
			})
		}
		_ = g.Wait()

		if hi < len(items) {
			select {
			case <-ctx.Done():
			case <-time.After(opts.Pause):
			}
		}
	}
	return results
}
