// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package task runs maintenance work on a pool of goroutines which grows
// while its workers are waiting on locks.
//
// A pool of N workers stops making progress if all N are queued behind the
// same write lock. Instead, a worker about to wait calls Block, and the pool
// starts a replacement if fewer than N workers are left running. When the
// wait ends the worker calls Unblock, and the pool later retires whichever
// worker next finds it has more running workers than it wants.
//
// A buffered channel used as a semaphore can't do this: the worker that just
// got its lock would have to queue for a slot again while holding the lock.
//
// Code which waits deep inside a call finds its Blocker through the context;
// see WithBlocker.
package task
