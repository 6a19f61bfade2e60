// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/featurebasedb/objectdb/errors"
	"github.com/featurebasedb/objectdb/logger"
	"github.com/featurebasedb/objectdb/task"
)

// Task is a unit of maintenance work run in its own internal session and
// transaction.
type Task interface {
	Name() string
	Run(ctx context.Context, s *Session) *ReturnVal
}

// RunTask runs t in a new internal session and commits its transaction.
// If t fails, is interrupted or ctx ends, the transaction is aborted.
func (s *Store) RunTask(ctx context.Context, t Task) error {
	sess := s.NewInternalSession("task:" + t.Name())
	defer sess.Close()
	if _, err := sess.OpenTransaction(t.Name()); err != nil {
		return err
	}
	start := time.Now()
	rv := t.Run(ctx, sess)
	if rv.OK() && ctx.Err() != nil {
		rv = FailError(newErrInterrupted("task " + t.Name()))
	}
	if !rv.OK() {
		sess.Abort()
		if errors.Is(rv.Err(), ErrInterrupted) {
			sess.logger.Infof("interrupted after %s", time.Since(start))
		} else {
			sess.logger.Warnf("failed: %v", rv.Err())
		}
		return rv.Err()
	}
	if rv := sess.Commit(ctx); !rv.OK() {
		return errors.Wrap(rv.Err(), "committing")
	}
	sess.logger.Debugf("finished in %s", time.Since(start))
	return nil
}

type queuedTask struct {
	ctx  context.Context
	task Task
	done chan error
}

// TaskRunner runs submitted tasks on a worker pool. A worker waiting for a
// lock doesn't count against the pool size.
type TaskRunner struct {
	store  *Store
	pool   *task.Pool
	queue  chan queuedTask
	done   chan struct{}
	once   sync.Once
	logger logger.Logger
}

// NewTaskRunner returns a TaskRunner with workers workers.
func NewTaskRunner(s *Store, workers int) *TaskRunner {
	if workers < 1 {
		workers = 1
	}
	r := &TaskRunner{
		store:  s,
		queue:  make(chan queuedTask),
		done:   make(chan struct{}),
		logger: s.logger.WithPrefix("tasks: "),
	}
	r.pool = task.NewPool(workers, r.step, poolGauge{})
	return r
}

func (r *TaskRunner) step() {
	select {
	case q := <-r.queue:
		ctx := task.WithBlocker(q.ctx, r.pool)
		q.done <- r.store.RunTask(ctx, q.task)
	case <-r.done:
	}
}

// Submit queues t. The returned channel yields its result.
func (r *TaskRunner) Submit(ctx context.Context, t Task) <-chan error {
	done := make(chan error, 1)
	select {
	case r.queue <- queuedTask{ctx: ctx, task: t, done: done}:
	case <-r.done:
		done <- errors.New(ErrInterrupted, fmt.Sprintf("task runner closed before %s ran", t.Name()))
	case <-ctx.Done():
		done <- newErrInterrupted("task " + t.Name())
	}
	return done
}

// Close stops the workers once their current tasks finish.
func (r *TaskRunner) Close() {
	r.once.Do(func() {
		r.pool.Shutdown()
		close(r.done)
		r.pool.Close()
		r.logger.Debugf("closed")
	})
}

type poolGauge struct{}

func (poolGauge) PoolSize(n int) { MetricTaskWorkers.Set(float64(n)) }

// ExpirationTask deletes objects whose expiration or removal date has
// passed.
type ExpirationTask struct {
	// Now defaults to the store clock.
	Now func() time.Time
}

func (ExpirationTask) Name() string { return "expiration" }

func (t ExpirationTask) Run(ctx context.Context, s *Session) *ReturnVal {
	now := s.store.now()
	if t.Now != nil {
		now = t.Now()
	}
	expired := func(obj *Object) bool {
		for _, id := range []FieldID{ExpirationField, RemovalField} {
			if when, ok := obj.Time(id); ok && !when.After(now) {
				return true
			}
		}
		return false
	}
	out := Success()
	for _, b := range s.store.Bases() {
		if b.embedded {
			continue
		}
		objs, err := s.Query(ctx, b.id, expired)
		if err != nil {
			return FailError(err)
		}
		for _, obj := range objs {
			rv := s.DeleteObjectLocal(obj.id)
			if !rv.OK() {
				s.logger.Warnf("can't remove expired %s: %v", obj.Label(), rv.Err())
				continue
			}
			s.logger.Infof("removed expired %s", obj.Label())
			out = out.Merge(rv)
		}
	}
	return out
}
