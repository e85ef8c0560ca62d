package worker

import (
	"context"
	"fmt"
	"sync"
)

// Slot is one sandbox worker. A checked-out slot stays busy from the
// first Run call through the terminal outcome, across suspend/resume
// cycles.
type Slot struct {
	id   int
	pool *Pool
}

// ID returns the slot index.
func (s *Slot) ID() int { return s.id }

// Run executes a script on this slot's backend.
func (s *Slot) Run(spec RunSpec) Outcome {
	return s.pool.backend.Run(spec)
}

// Resume continues a suspended execution on this slot.
func (s *Slot) Resume(handle ResumeHandle, llmResponse string) Outcome {
	return s.pool.backend.Resume(handle, llmResponse)
}

// Abort kills a suspended execution on this slot.
func (s *Slot) Abort(handle ResumeHandle, reason string) Outcome {
	return s.pool.backend.Abort(handle, reason)
}

// Pool owns a fixed set of sandbox worker slots over one backend.
type Pool struct {
	backend Backend

	mu   sync.Mutex
	busy map[int]bool

	idle chan *Slot
}

// NewPool creates a pool with n slots. n is clamped to at least 1.
func NewPool(backend Backend, n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{
		backend: backend,
		busy:    make(map[int]bool, n),
		idle:    make(chan *Slot, n),
	}
	for i := 0; i < n; i++ {
		p.idle <- &Slot{id: i, pool: p}
	}
	return p
}

// Acquire checks out an idle slot, blocking until one frees or ctx ends.
func (p *Pool) Acquire(ctx context.Context) (*Slot, error) {
	select {
	case slot := <-p.idle:
		p.mu.Lock()
		p.busy[slot.id] = true
		p.mu.Unlock()
		return slot, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no worker slot available: %w", ctx.Err())
	}
}

// TryAcquire checks out an idle slot without blocking. Returns nil when
// the pool is saturated.
func (p *Pool) TryAcquire() *Slot {
	select {
	case slot := <-p.idle:
		p.mu.Lock()
		p.busy[slot.id] = true
		p.mu.Unlock()
		return slot
	default:
		return nil
	}
}

// Release returns a slot to the idle set. Called only after a terminal
// outcome.
func (p *Pool) Release(slot *Slot) {
	p.mu.Lock()
	delete(p.busy, slot.id)
	p.mu.Unlock()
	p.idle <- slot
}

// Stats returns the current idle and busy slot counts.
func (p *Pool) Stats() (idle, busy int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	busy = len(p.busy)
	return cap(p.idle) - busy, busy
}

// Size returns the total slot count.
func (p *Pool) Size() int {
	return cap(p.idle)
}
