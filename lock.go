// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/featurebasedb/objectdb/errors"
	"github.com/featurebasedb/objectdb/logger"
	"github.com/featurebasedb/objectdb/task"
	"github.com/featurebasedb/objectdb/tracing"
)

// LockKind is the type of a lock over a set of bases.
type LockKind int

const (
	// ReadLock allows concurrent readers and blocks writers.
	ReadLock LockKind = iota
	// DumpLock is a read lock taken for a full export.
	DumpLock
	// WriteLock is exclusive on each base it covers.
	WriteLock
)

func (k LockKind) String() string {
	return [...]string{"read", "dump", "write"}[k]
}

// DefaultLockPollInterval bounds how long a waiting lock sleeps between
// checks, so a lost wakeup only delays it.
const DefaultLockPollInterval = 500 * time.Millisecond

type lockState int

const (
	lockIdle lockState = iota
	lockEstablishing
	lockEstablished
	lockReleased
)

type baseLockState struct {
	readers        int
	dumpers        int
	writer         *Lock
	waitingWriters int
}

// LockManager coordinates read, dump and write locks over sets of object
// bases. A lock covers all of its bases or none; a caller never holds part
// of one.
//
// Waiting writers take priority: once a writer is queued on a base, new
// readers of that base wait behind it.
type LockManager struct {
	mu     sync.Mutex
	bases  map[BaseID]*baseLockState
	byKey  map[string][]*Lock
	wakeup chan struct{}

	pollInterval time.Duration
	logger       logger.Logger
}

// NewLockManager returns a LockManager. A zero pollInterval uses
// DefaultLockPollInterval.
func NewLockManager(pollInterval time.Duration, log logger.Logger) *LockManager {
	if pollInterval <= 0 {
		pollInterval = DefaultLockPollInterval
	}
	if log == nil {
		log = logger.NopLogger
	}
	return &LockManager{
		bases:        make(map[BaseID]*baseLockState),
		byKey:        make(map[string][]*Lock),
		wakeup:       make(chan struct{}),
		pollInterval: pollInterval,
		logger:       log,
	}
}

// Lock is a request for a lock over a set of bases, made on behalf of a
// key (a session). It is established once and released once.
type Lock struct {
	mgr   *LockManager
	key   string
	kind  LockKind
	bases []BaseID

	// guarded by mgr.mu
	state       lockState
	aborted     bool
	abortCh     chan struct{}
	establishCh chan struct{}
}

// NewLock returns an unestablished lock of kind over bases for key.
func (m *LockManager) NewLock(key string, kind LockKind, bases ...BaseID) *Lock {
	seen := make(map[BaseID]struct{}, len(bases))
	uniq := make([]BaseID, 0, len(bases))
	for _, b := range bases {
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		uniq = append(uniq, b)
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i] < uniq[j] })
	return &Lock{
		mgr:     m,
		key:     key,
		kind:    kind,
		bases:   uniq,
		abortCh: make(chan struct{}),
	}
}

func (m *LockManager) NewReadLock(key string, bases ...BaseID) *Lock {
	return m.NewLock(key, ReadLock, bases...)
}

func (m *LockManager) NewDumpLock(key string, bases ...BaseID) *Lock {
	return m.NewLock(key, DumpLock, bases...)
}

func (m *LockManager) NewWriteLock(key string, bases ...BaseID) *Lock {
	return m.NewLock(key, WriteLock, bases...)
}

func (l *Lock) Kind() LockKind  { return l.kind }
func (l *Lock) Key() string     { return l.key }
func (l *Lock) Bases() []BaseID { return append([]BaseID(nil), l.bases...) }

// IsEstablished reports whether the lock is currently held.
func (l *Lock) IsEstablished() bool {
	l.mgr.mu.Lock()
	defer l.mgr.mu.Unlock()
	return l.state == lockEstablished
}

// Establish blocks until the lock can be granted on every base, then holds
// it. It fails with ErrLockHeld if the key already holds a lock this one
// would deadlock against, and with ErrInterrupted if the lock is aborted or
// ctx is done while waiting.
func (l *Lock) Establish(ctx context.Context) error {
	span, ctx := tracing.StartSpanFromContext(ctx, "LockManager.Establish")
	defer span.Finish()
	span.LogKV("kind", l.kind.String(), "key", l.key)

	m := l.mgr
	m.mu.Lock()
	switch {
	case l.aborted:
		m.mu.Unlock()
		return errors.New(ErrInterrupted, "lock was aborted")
	case l.state == lockEstablished:
		m.mu.Unlock()
		return nil
	case l.state != lockIdle:
		m.mu.Unlock()
		return errors.New(ErrLockHeld, fmt.Sprintf("%s lock for %s can't be established twice", l.kind, l.key))
	}
	if err := m.checkKeyLocked(l); err != nil {
		m.mu.Unlock()
		return err
	}

	l.state = lockEstablishing
	l.establishCh = make(chan struct{})
	m.byKey[l.key] = append(m.byKey[l.key], l)
	if l.kind == WriteLock {
		for _, b := range l.bases {
			m.base(b).waitingWriters++
		}
	}
	start := time.Now()

	var err error
	blocked := false
	for {
		if l.aborted {
			err = errors.New(ErrInterrupted, "lock was aborted")
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Wrap(errors.New(ErrInterrupted, "lock wait interrupted"), ctxErr.Error())
			break
		}
		if m.availableLocked(l) {
			m.grantLocked(l)
			break
		}
		wake := m.wakeup
		m.mu.Unlock()
		if !blocked {
			blocked = true
			if b := task.BlockerFrom(ctx); b != nil {
				b.Block()
				defer b.Unblock()
			}
		}
		t := time.NewTimer(m.pollInterval)
		select {
		case <-wake:
		case <-t.C:
		case <-l.abortCh:
		case <-ctx.Done():
		}
		t.Stop()
		m.mu.Lock()
	}

	if err != nil {
		if l.kind == WriteLock {
			for _, b := range l.bases {
				m.base(b).waitingWriters--
			}
		}
		m.dropKeyLocked(l)
		l.state = lockIdle
		MetricLocksAborted.Inc()
		m.broadcastLocked()
	} else {
		MetricLocksEstablished.WithLabelValues(l.kind.String()).Inc()
		MetricLockWaitSeconds.WithLabelValues(l.kind.String()).Observe(time.Since(start).Seconds())
	}
	close(l.establishCh)
	m.mu.Unlock()
	return err
}

// Release gives the lock up. If another goroutine is establishing the lock,
// Release waits for that attempt to finish first. Releasing an unheld lock
// does nothing.
func (l *Lock) Release() {
	m := l.mgr
	m.mu.Lock()
	defer m.mu.Unlock()
	for l.state == lockEstablishing {
		ch := l.establishCh
		m.mu.Unlock()
		<-ch
		m.mu.Lock()
	}
	if l.state != lockEstablished {
		return
	}
	for _, b := range l.bases {
		st := m.base(b)
		switch l.kind {
		case ReadLock:
			st.readers--
		case DumpLock:
			st.dumpers--
		case WriteLock:
			if st.writer == l {
				st.writer = nil
			}
		}
	}
	m.dropKeyLocked(l)
	l.state = lockReleased
	m.broadcastLocked()
}

// Abort interrupts a pending Establish and releases the lock. It may be
// called more than once, and a later Establish fails.
func (l *Lock) Abort() {
	m := l.mgr
	m.mu.Lock()
	if !l.aborted {
		l.aborted = true
		close(l.abortCh)
	}
	m.mu.Unlock()
	l.Release()
}

func (m *LockManager) base(id BaseID) *baseLockState {
	st, ok := m.bases[id]
	if !ok {
		st = &baseLockState{}
		m.bases[id] = st
	}
	return st
}

// checkKeyLocked refuses a lock its key could never be granted: a second
// write lock, or a lock mixing reads and writes on the same base.
func (m *LockManager) checkKeyLocked(l *Lock) error {
	for _, held := range m.byKey[l.key] {
		if held == l {
			continue
		}
		if l.kind == WriteLock && held.kind == WriteLock {
			return errors.New(ErrLockHeld, fmt.Sprintf("%s already holds a write lock", l.key))
		}
		if (l.kind == WriteLock) != (held.kind == WriteLock) && overlaps(l.bases, held.bases) {
			return errors.New(ErrLockHeld, fmt.Sprintf("%s already holds a %s lock on bases needed for a %s lock", l.key, held.kind, l.kind))
		}
	}
	return nil
}

func (m *LockManager) availableLocked(l *Lock) bool {
	for _, b := range l.bases {
		st := m.base(b)
		if st.writer != nil {
			return false
		}
		switch l.kind {
		case ReadLock, DumpLock:
			if st.waitingWriters > 0 {
				return false
			}
		case WriteLock:
			if st.readers > 0 || st.dumpers > 0 {
				return false
			}
		}
	}
	return true
}

func (m *LockManager) grantLocked(l *Lock) {
	for _, b := range l.bases {
		st := m.base(b)
		switch l.kind {
		case ReadLock:
			st.readers++
		case DumpLock:
			st.dumpers++
		case WriteLock:
			st.waitingWriters--
			st.writer = l
		}
	}
	l.state = lockEstablished
}

func (m *LockManager) dropKeyLocked(l *Lock) {
	locks := m.byKey[l.key]
	for i, held := range locks {
		if held == l {
			locks = append(locks[:i], locks[i+1:]...)
			break
		}
	}
	if len(locks) == 0 {
		delete(m.byKey, l.key)
	} else {
		m.byKey[l.key] = locks
	}
}

// broadcastLocked wakes every waiting Establish.
func (m *LockManager) broadcastLocked() {
	close(m.wakeup)
	m.wakeup = make(chan struct{})
}

// HoldsWriteLock reports whether key holds an established write lock.
func (m *LockManager) HoldsWriteLock(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.byKey[key] {
		if l.kind == WriteLock && l.state == lockEstablished {
			return true
		}
	}
	return false
}

// Covers reports whether key holds or is establishing a lock whose bases
// include base.
func (m *LockManager) Covers(key string, base BaseID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.byKey[key] {
		for _, b := range l.bases {
			if b == base {
				return true
			}
		}
	}
	return false
}

// LockStatus describes the locks on one base.
type LockStatus struct {
	Base           BaseID `json:"base"`
	Readers        int    `json:"readers"`
	Dumpers        int    `json:"dumpers"`
	Writer         string `json:"writer,omitempty"`
	WaitingWriters int    `json:"waitingWriters"`
}

// Status returns the lock state of every base that has been locked, in base
// order.
func (m *LockManager) Status() []LockStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LockStatus, 0, len(m.bases))
	for id, st := range m.bases {
		ls := LockStatus{Base: id, Readers: st.readers, Dumpers: st.dumpers, WaitingWriters: st.waitingWriters}
		if st.writer != nil {
			ls.Writer = st.writer.key
		}
		out = append(out, ls)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Base < out[j].Base })
	return out
}

func overlaps(a, b []BaseID) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
