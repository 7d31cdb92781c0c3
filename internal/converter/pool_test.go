package converter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeBackend struct {
	err     error
	delay   time.Duration
	calls   atomic.Int32
	active  atomic.Int32
	peak    atomic.Int32
	release chan struct{}
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Convert(ctx context.Context, in, out string) error {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.release != nil {
		<-f.release
	}
	time.Sleep(f.delay)
	return f.err
}

func TestPoolAcquireReleaseAndClose(t *testing.T) {
	p := NewPool(&fakeBackend{}, 1)

	if err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire success, got %v", err)
	}
	if len(p.sem) != 0 {
		t.Fatalf("expected token consumed after acquire")
	}
	p.Release(nil)
	if len(p.sem) != 1 {
		t.Fatalf("expected token returned after release")
	}

	p.Close()
	p.Close()
	if err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
	if p.Stats().Enabled {
		t.Fatalf("expected stats disabled after close")
	}
}

func TestPoolAcquireContextCanceled(t *testing.T) {
	p := NewPool(&fakeBackend{}, 1)
	<-p.sem
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestPoolAcquireTimesOutWhenNoCapacity(t *testing.T) {
	p := NewPool(&fakeBackend{}, 1)
	if err := p.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	b := &fakeBackend{delay: 20 * time.Millisecond}
	p := NewPool(b, 2)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Convert(context.Background(), "in", "out")
		}()
	}
	wg.Wait()

	if got := b.peak.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent conversions, saw %d", got)
	}
	if got := p.Stats().Completed; got != 6 {
		t.Fatalf("expected 6 completed, got %d", got)
	}
}

func TestPoolUnbounded(t *testing.T) {
	b := &fakeBackend{release: make(chan struct{})}
	p := NewPool(b, 0)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Convert(context.Background(), "in", "out")
		}()
	}
	deadline := time.Now().Add(2 * time.Second)
	for b.active.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 concurrent conversions in unbounded pool")
		}
		time.Sleep(time.Millisecond)
	}
	if st := p.Stats(); st.InUse != 3 || st.Capacity != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	close(b.release)
	wg.Wait()
}

func TestPoolStatsRecordFailures(t *testing.T) {
	p := NewPool(&fakeBackend{err: errors.New("bad pdf")}, 2)

	if err := p.Convert(context.Background(), "in", "out"); err == nil {
		t.Fatalf("expected backend error")
	}
	st := p.Stats()
	if st.Backend != "fake" || st.Capacity != 2 || st.Idle != 2 || st.InUse != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.Failed != 1 || st.Completed != 0 || st.LastError == "" {
		t.Fatalf("expected failure to be recorded: %+v", st)
	}
}
