package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_RunExecutesAllIndices(t *testing.T) {
	t.Parallel()

	p := New(4)
	defer p.Close()

	const n = 100
	var hits [n]atomic.Int32

	if err := p.Run(context.Background(), n, func(_ context.Context, i int) {
		hits[i].Add(1)
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i := range hits {
		if got := hits[i].Load(); got != 1 {
			t.Fatalf("index %d executed %d times", i, got)
		}
	}

	submitted, completed := p.Stats()
	if submitted != n || completed != n {
		t.Fatalf("stats = %d/%d, want %d/%d", submitted, completed, n, n)
	}
}

func TestWorkerPool_RunPropagatesCancellation(t *testing.T) {
	t.Parallel()

	p := New(2)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Run(ctx, 10, func(_ context.Context, _ int) {
		t.Error("task must not run under cancelled context")
	})
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestWorkerPool_SubmitAfterCloseFails(t *testing.T) {
	t.Parallel()

	p := New(1)
	p.Close()

	if err := p.Submit(context.Background(), nil, func(context.Context) {}); err != ErrPoolClosed {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestWorkerPool_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	const workers = 3
	p := New(workers)
	defer p.Close()

	var inFlight, peak atomic.Int32

	err := p.Run(context.Background(), 30, func(_ context.Context, _ int) {
		cur := inFlight.Add(1)
		for {
			prev := peak.Load()
			if cur <= prev || peak.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := peak.Load(); got > workers {
		t.Fatalf("concurrency %d exceeded worker count %d", got, workers)
	}
}

func TestWorkerPool_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	p := New(2)
	p.Close()
	p.Close()
}
