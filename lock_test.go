// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb_test

import (
	"context"
	"testing"
	"time"

	"github.com/featurebasedb/objectdb"
	"github.com/featurebasedb/objectdb/errors"
	"github.com/featurebasedb/objectdb/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLockManager(t *testing.T) *objectdb.LockManager {
	return objectdb.NewLockManager(10*time.Millisecond, logger.NewLogfLogger(t))
}

// establishAsync starts Establish in a goroutine and returns a channel
// carrying its result.
func establishAsync(ctx context.Context, l *objectdb.Lock) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- l.Establish(ctx) }()
	return ch
}

func assertBlocked(t *testing.T, ch <-chan error) {
	t.Helper()
	select {
	case err := <-ch:
		t.Fatalf("expected lock to wait, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func assertGranted(t *testing.T, ch <-chan error) {
	t.Helper()
	select {
	case err := <-ch:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("lock was never granted")
	}
}

func TestLockManager_WriteExclusive(t *testing.T) {
	ctx := context.Background()
	lm := newLockManager(t)

	a := lm.NewLock("a", objectdb.WriteLock, 256, 257)
	require.NoError(t, a.Establish(ctx))

	b := lm.NewLock("b", objectdb.WriteLock, 257, 258)
	ch := establishAsync(ctx, b)
	assertBlocked(t, ch)

	// A writer on disjoint bases is not held up.
	c := lm.NewLock("c", objectdb.WriteLock, 300)
	require.NoError(t, c.Establish(ctx))
	c.Release()

	a.Release()
	assertGranted(t, ch)
	assert.True(t, b.IsEstablished())
	assert.True(t, lm.HoldsWriteLock("b"))
	b.Release()
	assert.False(t, lm.HoldsWriteLock("b"))
}

func TestLockManager_ReadersAndQueuedWriter(t *testing.T) {
	ctx := context.Background()
	lm := newLockManager(t)

	r1 := lm.NewLock("r1", objectdb.ReadLock, 256)
	r2 := lm.NewLock("r2", objectdb.DumpLock, 256)
	require.NoError(t, r1.Establish(ctx))
	require.NoError(t, r2.Establish(ctx))

	w := lm.NewLock("w", objectdb.WriteLock, 256)
	wch := establishAsync(ctx, w)
	assertBlocked(t, wch)

	// New readers queue behind the waiting writer.
	r3 := lm.NewLock("r3", objectdb.ReadLock, 256)
	rch := establishAsync(ctx, r3)
	assertBlocked(t, rch)

	r1.Release()
	r2.Release()
	assertGranted(t, wch)
	assertBlocked(t, rch)

	w.Release()
	assertGranted(t, rch)
	r3.Release()

	for _, st := range lm.Status() {
		assert.Equal(t, objectdb.LockStatus{Base: st.Base}, st)
	}
}

func TestLockManager_KeyConflicts(t *testing.T) {
	ctx := context.Background()
	lm := newLockManager(t)

	w := lm.NewLock("s", objectdb.WriteLock, 256)
	require.NoError(t, w.Establish(ctx))
	defer w.Release()

	err := lm.NewLock("s", objectdb.WriteLock, 999).Establish(ctx)
	assert.True(t, errors.Is(err, objectdb.ErrLockHeld), "second write lock: %v", err)

	err = lm.NewLock("s", objectdb.ReadLock, 256).Establish(ctx)
	assert.True(t, errors.Is(err, objectdb.ErrLockHeld), "read under own write: %v", err)

	// Reads of bases the write lock doesn't cover are fine.
	r := lm.NewLock("s", objectdb.ReadLock, 257)
	require.NoError(t, r.Establish(ctx))
	assert.True(t, lm.Covers("s", 257))
	r.Release()

	assert.True(t, lm.Covers("s", 256))
	assert.False(t, lm.Covers("s", 257))
	assert.False(t, lm.Covers("t", 256))
}

func TestLockManager_Abort(t *testing.T) {
	ctx := context.Background()
	lm := newLockManager(t)

	w := lm.NewLock("a", objectdb.WriteLock, 256)
	require.NoError(t, w.Establish(ctx))

	r := lm.NewLock("b", objectdb.ReadLock, 256)
	ch := establishAsync(ctx, r)
	assertBlocked(t, ch)

	r.Abort()
	select {
	case err := <-ch:
		assert.True(t, errors.Is(err, objectdb.ErrInterrupted), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("abort did not interrupt the wait")
	}
	assert.False(t, r.IsEstablished())

	// Aborting twice is harmless and the lock can't be used again.
	r.Abort()
	err := r.Establish(ctx)
	assert.True(t, errors.Is(err, objectdb.ErrInterrupted))

	w.Release()
}

func TestLockManager_ContextCancel(t *testing.T) {
	lm := newLockManager(t)
	w := lm.NewLock("a", objectdb.WriteLock, 256)
	require.NoError(t, w.Establish(context.Background()))
	defer w.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := lm.NewLock("b", objectdb.WriteLock, 256).Establish(ctx)
	assert.True(t, errors.Is(err, objectdb.ErrInterrupted), "got %v", err)

	// The abandoned writer must not keep readers out.
	r := lm.NewLock("c", objectdb.ReadLock, 256)
	ch := establishAsync(context.Background(), r)
	assertBlocked(t, ch)
	w.Release()
	assertGranted(t, ch)
	r.Release()
}

func TestLockManager_ReleaseWaitsForEstablish(t *testing.T) {
	ctx := context.Background()
	lm := newLockManager(t)

	w := lm.NewLock("a", objectdb.WriteLock, 256)
	require.NoError(t, w.Establish(ctx))

	r := lm.NewLock("b", objectdb.ReadLock, 256)
	ch := establishAsync(ctx, r)
	assertBlocked(t, ch)

	released := make(chan struct{})
	go func() {
		r.Release()
		close(released)
	}()
	select {
	case <-released:
		t.Fatal("release returned while establish was pending")
	case <-time.After(50 * time.Millisecond):
	}

	w.Release()
	assertGranted(t, ch)
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("release never returned")
	}
	assert.False(t, r.IsEstablished())
}
