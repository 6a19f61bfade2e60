// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/featurebasedb/objectdb"
	"github.com/featurebasedb/objectdb/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// funcTask adapts a function to objectdb.Task.
type funcTask struct {
	name string
	fn   func(ctx context.Context, s *objectdb.Session) *objectdb.ReturnVal
}

func (t funcTask) Name() string { return t.name }

func (t funcTask) Run(ctx context.Context, s *objectdb.Session) *objectdb.ReturnVal {
	return t.fn(ctx, s)
}

func createHostTask(name string) funcTask {
	return funcTask{name: "create " + name, fn: func(ctx context.Context, s *objectdb.Session) *objectdb.ReturnVal {
		h, rv := s.CreateObject(hostBase)
		if !rv.OK() {
			return rv
		}
		return h.Field(hostName).SetValue(name)
	}}
}

func hostNames(s *test.Store) []string {
	var out []string
	for _, obj := range s.Base(hostBase).Objects() {
		out = append(out, obj.Label())
	}
	return out
}

func TestStore_RunTask(t *testing.T) {
	ctx := context.Background()
	s := test.MustOpenStore(t)
	mustInstallHosts(t, s)

	require.NoError(t, s.RunTask(ctx, createHostTask("from-task")))
	assert.Equal(t, []string{"from-task"}, hostNames(s))

	t.Run("Failure", func(t *testing.T) {
		err := s.RunTask(ctx, funcTask{name: "fails", fn: func(ctx context.Context, sess *objectdb.Session) *objectdb.ReturnVal {
			h, rv := sess.CreateObject(hostBase)
			test.MustOK(t, rv)
			test.MustOK(t, h.Field(hostName).SetValue("half-done"))
			return objectdb.Fail(objectdb.ErrBusinessRule, "Stop", "giving up")
		}})
		requireErrCode(t, err, objectdb.ErrBusinessRule)
		assert.Equal(t, []string{"from-task"}, hostNames(s))
		assert.True(t, s.Namespace(hostnames).TestMark("x", "half-done"))
	})

	t.Run("Cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		requireErrCode(t, s.RunTask(cctx, createHostTask("never")), objectdb.ErrInterrupted)
		assert.Equal(t, []string{"from-task"}, hostNames(s))
	})
}

func TestTaskRunner(t *testing.T) {
	s := test.MustOpenStore(t)
	mustInstallHosts(t, s)
	r := objectdb.NewTaskRunner(s.Store, 2)

	var results []<-chan error
	for i := 0; i < 5; i++ {
		results = append(results, r.Submit(context.Background(), createHostTask(fmt.Sprintf("host-%d", i))))
	}
	for _, ch := range results {
		select {
		case err := <-ch:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("task never finished")
		}
	}
	assert.Len(t, hostNames(s), 5)

	// A duplicate name fails only its own task.
	require.Error(t, <-r.Submit(context.Background(), createHostTask("host-0")))
	assert.Len(t, hostNames(s), 5)

	r.Close()
	r.Close()
	requireErrCode(t, <-r.Submit(context.Background(), createHostTask("late")), objectdb.ErrInterrupted)
}

func TestExpirationTask(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
	s := test.MustOpenStore(t)
	mustInstallHosts(t, s)

	expired := mustCreateHost(t, s, "expired")
	removed := mustCreateHost(t, s, "removed")
	future := mustCreateHost(t, s, "future")
	keep := mustCreateHost(t, s, "keep")
	s.MustRun(func(sess *objectdb.Session) {
		set := func(id objectdb.Invid, field objectdb.FieldID, when time.Time) {
			h, rv := sess.EditObject(id)
			test.MustOK(t, rv)
			test.MustOK(t, h.Field(field).SetValue(when))
		}
		set(expired, objectdb.ExpirationField, now.Add(-time.Hour))
		set(removed, objectdb.RemovalField, now)
		set(future, objectdb.ExpirationField, now.Add(time.Hour))
	})
	// Embedded objects go with their container, not on their own.
	s.MustRun(func(sess *objectdb.Session) {
		_, rv := sess.CreateEmbeddedObject(expired, hostInterfaces)
		test.MustOK(t, rv)
	})

	require.NoError(t, s.RunTask(ctx, objectdb.ExpirationTask{Now: func() time.Time { return now }}))
	assert.ElementsMatch(t, []string{"future", "keep"}, hostNames(s))
	assert.Equal(t, 0, s.Base(interfaceBase).Len())
	assert.NotNil(t, s.Base(hostBase).Object(keep.Num))

	require.NoError(t, s.RunTask(ctx, objectdb.ExpirationTask{Now: func() time.Time { return now.Add(2 * time.Hour) }}))
	assert.Equal(t, []string{"keep"}, hostNames(s))
}
