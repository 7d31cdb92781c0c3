package converter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("converter pool closed")

// Pool bounds the number of concurrent conversions run by a backend.
// A size of 0 leaves concurrency unbounded.
type Pool struct {
	backend Converter
	size    int
	sem     chan struct{}

	mu     sync.Mutex
	closed bool

	inUse     atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	lastError atomic.Value // string
}

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Backend   string `json:"backend"`
	Enabled   bool   `json:"enabled"`
	Capacity  int    `json:"capacity"`
	Idle      int    `json:"idle"`
	InUse     int    `json:"in_use"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	LastError string `json:"last_error,omitempty"`
}

// NewPool wraps backend with a concurrency limit of size.
func NewPool(backend Converter, size int) *Pool {
	p := &Pool{backend: backend, size: size}
	if size > 0 {
		p.sem = make(chan struct{}, size)
		for i := 0; i < size; i++ {
			p.sem <- struct{}{}
		}
	}
	return p
}

// Name returns the backend name.
func (p *Pool) Name() string { return p.backend.Name() }

// Acquire blocks until a conversion slot is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) error {
	if p.isClosed() {
		return ErrPoolClosed
	}
	if p.sem == nil {
		p.inUse.Add(1)
		return nil
	}
	select {
	case <-p.sem:
		if p.isClosed() {
			p.sem <- struct{}{}
			return ErrPoolClosed
		}
		p.inUse.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot taken by Acquire and records the outcome.
func (p *Pool) Release(convErr error) {
	p.inUse.Add(-1)
	if convErr != nil {
		p.failed.Add(1)
		p.lastError.Store(time.Now().UTC().Format(time.RFC3339) + " " + convErr.Error())
	} else {
		p.completed.Add(1)
	}
	if p.sem != nil {
		p.sem <- struct{}{}
	}
}

// Convert runs the backend inside a pool slot.
func (p *Pool) Convert(ctx context.Context, inputPath, outputPath string) error {
	if err := p.Acquire(ctx); err != nil {
		return err
	}
	err := p.backend.Convert(ctx, inputPath, outputPath)
	p.Release(err)
	return err
}

// Stats reports capacity and usage.
func (p *Pool) Stats() PoolStats {
	inUse := int(p.inUse.Load())
	s := PoolStats{
		Backend:   p.backend.Name(),
		Enabled:   !p.isClosed(),
		Capacity:  p.size,
		InUse:     inUse,
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
	if p.sem != nil {
		s.Idle = len(p.sem)
	}
	if v, ok := p.lastError.Load().(string); ok {
		s.LastError = v
	}
	return s
}

// Close rejects further Acquire calls. In-flight conversions finish normally.
// Close is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
