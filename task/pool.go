// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"sync"
	"sync/atomic"
)

// Blocker is told when a goroutine starts and stops waiting, so the pool
// running it can start another worker meanwhile.
type Blocker interface {
	Block()
	Unblock()
}

type blockerKey struct{}

// WithBlocker returns a context whose waits report to b.
func WithBlocker(ctx context.Context, b Blocker) context.Context {
	return context.WithValue(ctx, blockerKey{}, b)
}

// BlockerFrom returns the Blocker attached to ctx, or nil.
func BlockerFrom(ctx context.Context) Blocker {
	b, _ := ctx.Value(blockerKey{}).(Blocker)
	return b
}

// Gauge receives the live worker count whenever it changes.
type Gauge interface {
	PoolSize(int)
}

// Pool calls step in a loop on target goroutines. Workers marked blocked
// don't count toward the target.
type Pool struct {
	mu   sync.Mutex
	idle *sync.Cond // signalled when the last worker exits
	step func()

	target  int32
	running int32 // live and not blocked
	live    int32
	gauge   Gauge
}

// NewPool starts target workers running step. gauge may be nil.
func NewPool(target int, step func(), gauge Gauge) *Pool {
	p := &Pool{target: int32(target), step: step, gauge: gauge}
	p.idle = sync.NewCond(&p.mu)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < target; i++ {
		p.spawn()
	}
	return p
}

// Block marks the calling worker as waiting. If that leaves the pool short,
// a new worker is started before Block returns.
func (p *Pool) Block() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if atomic.AddInt32(&p.running, -1) < atomic.LoadInt32(&p.target) {
		p.spawn()
	}
}

// Unblock marks the calling worker as running again. The pool may now have
// a surplus, which it sheds as workers finish their current step.
func (p *Pool) Unblock() {
	atomic.AddInt32(&p.running, 1)
}

// Shutdown sets the target to zero without waiting for workers to exit.
func (p *Pool) Shutdown() {
	atomic.StoreInt32(&p.target, 0)
}

// Stats samples the live, running and target counts. They are read
// separately and may not agree with each other.
func (p *Pool) Stats() (live, running, target int) {
	return int(atomic.LoadInt32(&p.live)), int(atomic.LoadInt32(&p.running)), int(atomic.LoadInt32(&p.target))
}

// Close shuts the pool down and waits for every worker to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Shutdown()
	// exit takes p.mu before decrementing live, so the count can't drop to
	// zero between this load and the Wait.
	for atomic.LoadInt32(&p.live) > 0 {
		p.idle.Wait()
	}
}

// spawn starts a worker. The caller holds p.mu.
func (p *Pool) spawn() {
	live := atomic.AddInt32(&p.live, 1)
	if p.gauge != nil {
		p.gauge.PoolSize(int(live))
	}
	atomic.AddInt32(&p.running, 1)
	go p.work()
}

func (p *Pool) exit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	live := atomic.AddInt32(&p.live, -1)
	if p.gauge != nil {
		p.gauge.PoolSize(int(live))
	}
	if live == 0 {
		p.idle.Broadcast()
	}
}

// retire removes the caller from the running count if the pool has more
// running workers than it wants.
func (p *Pool) retire() bool {
	for {
		running := atomic.LoadInt32(&p.running)
		if running <= atomic.LoadInt32(&p.target) {
			return false
		}
		if atomic.CompareAndSwapInt32(&p.running, running, running-1) {
			return true
		}
	}
}

func (p *Pool) work() {
	defer p.exit()
	for !p.retire() {
		p.step()
	}
}
