package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fast options so tests don't sit in inter-batch pauses.
func fastOpts() Options {
	return Options{Concurrency: 4, Size: 8, Pause: time.Millisecond}
}

func TestRunPreservesInputOrder(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	results := Run(context.Background(), items, func(_ context.Context, n int) (string, error) {
		return fmt.Sprintf("v%d", n), nil
	}, fastOpts())

	if len(results) != len(items) {
		t.Fatalf("got %d results, want %d", len(results), len(items))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("item %d: unexpected error %v", i, r.Err)
		}
		if want := fmt.Sprintf("v%d", i); r.Value != want {
			t.Errorf("results[%d] = %q, want %q", i, r.Value, want)
		}
	}
}

func TestRunIsolatesItemErrors(t *testing.T) {
	boom := errors.New("boom")
	items := []int{0, 1, 2, 3, 4}

	results := Run(context.Background(), items, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			return 0, boom
		}
		return n * 10, nil
	}, fastOpts())

	for i, r := range results {
		if i == 2 {
			if !errors.Is(r.Err, boom) {
				t.Errorf("results[2].Err = %v, want boom", r.Err)
			}
			continue
		}
		if r.Err != nil {
			t.Errorf("results[%d].Err = %v, want nil", i, r.Err)
		}
		if r.Value != i*10 {
			t.Errorf("results[%d] = %d, want %d", i, r.Value, i*10)
		}
	}
}

func TestRunRespectsConcurrencyCeiling(t *testing.T) {
	const limit = 3
	var inFlight, peak int64
	var mu sync.Mutex

	items := make([]int, 40)
	Run(context.Background(), items, func(_ context.Context, _ int) (struct{}, error) {
		n := atomic.AddInt64(&inFlight, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return struct{}{}, nil
	}, Options{Concurrency: limit, Size: 20, Pause: time.Millisecond})

	if peak > limit {
		t.Errorf("peak concurrency %d exceeds limit %d", peak, limit)
	}
}

func TestRunCancelledContextFillsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	items := make([]int, 30)
	var calls atomic.Int64
	results := Run(ctx, items, func(_ context.Context, _ int) (int, error) {
		if calls.Add(1) == 5 {
			cancel()
		}
		return 1, nil
	}, Options{Concurrency: 2, Size: 5, Pause: time.Millisecond})

	var cancelled int
	for _, r := range results {
		if errors.Is(r.Err, context.Canceled) {
			cancelled++
		}
	}
	if cancelled == 0 {
		t.Error("expected trailing items to carry the context error")
	}
	if got := calls.Load(); got > 10 {
		t.Errorf("fn ran %d times after cancellation, want at most two batches", got)
	}
}

func TestRunZeroOptionsUseDefaults(t *testing.T) {
	results := Run(context.Background(), []int{1, 2, 3}, func(_ context.Context, n int) (int, error) {
		return n, nil
	}, Options{})
	for i, r := range results {
		if r.Err != nil || r.Value != i+1 {
			t.Fatalf("results[%d] = (%d, %v)", i, r.Value, r.Err)
		}
	}
}

func TestRunEmptyInput(t *testing.T) {
	results := Run(context.Background(), nil, func(_ context.Context, n int) (int, error) {
		return n, nil
	}, Options{})
	if len(results) != 0 {
		t.Fatalf("got %d results for empty input", len(results))
	}
}
