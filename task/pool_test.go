// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// queue feeds jobs to a pool's workers the way a task runner does.
type queue struct {
	jobs chan func()
	done chan struct{}
}

func newQueue() *queue {
	return &queue{jobs: make(chan func()), done: make(chan struct{})}
}

func (q *queue) step() {
	select {
	case j := <-q.jobs:
		j()
	case <-q.done:
	}
}

func (q *queue) submit(t *testing.T, j func()) {
	t.Helper()
	select {
	case q.jobs <- j:
	case <-time.After(5 * time.Second):
		t.Fatal("no worker took the job")
	}
}

type gauge struct {
	mu    sync.Mutex
	sizes []int
}

func (g *gauge) PoolSize(n int) {
	g.mu.Lock()
	g.sizes = append(g.sizes, n)
	g.mu.Unlock()
}

func (g *gauge) last() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sizes[len(g.sizes)-1]
}

func TestPool_Runs(t *testing.T) {
	q := newQueue()
	g := &gauge{}
	p := NewPool(3, q.step, g)
	live, running, target := p.Stats()
	assert.Equal(t, 3, live)
	assert.Equal(t, 3, running)
	assert.Equal(t, 3, target)

	var n int32
	var eg errgroup.Group
	for i := 0; i < 20; i++ {
		eg.Go(func() error {
			done := make(chan struct{})
			q.submit(t, func() { atomic.AddInt32(&n, 1); close(done) })
			<-done
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	assert.Equal(t, int32(20), atomic.LoadInt32(&n))

	close(q.done)
	p.Close()
	live, _, target = p.Stats()
	assert.Zero(t, live)
	assert.Zero(t, target)
	assert.Zero(t, g.last())
}

func TestPool_BlockSpawnsWorker(t *testing.T) {
	q := newQueue()
	p := NewPool(1, q.step, nil)

	blocked := make(chan struct{})
	release := make(chan struct{})
	q.submit(t, func() {
		p.Block()
		close(blocked)
		<-release
		p.Unblock()
	})
	<-blocked

	live, running, _ := p.Stats()
	assert.Equal(t, 2, live)
	assert.Equal(t, 1, running)

	// The only configured worker is stuck; a second one takes this job.
	ran := make(chan struct{})
	q.submit(t, func() { close(ran) })
	<-ran

	close(release)
	require.Eventually(t, func() bool {
		live, _, _ := p.Stats()
		return live == 1
	}, 5*time.Second, time.Millisecond)

	close(q.done)
	p.Close()
}

func TestPool_CloseWaitsForSteps(t *testing.T) {
	q := newQueue()
	p := NewPool(2, q.step, nil)

	started := make(chan struct{})
	var finished int32
	q.submit(t, func() {
		close(started)
		time.Sleep(20 * time.Millisecond)
		atomic.StoreInt32(&finished, 1)
	})
	<-started
	p.Shutdown()
	close(q.done)
	p.Close()
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
}

func TestWithBlocker(t *testing.T) {
	assert.Nil(t, BlockerFrom(context.Background()))
	p := NewPool(0, func() {}, nil)
	ctx := WithBlocker(context.Background(), p)
	assert.Same(t, p, BlockerFrom(ctx))
	p.Close()
}
