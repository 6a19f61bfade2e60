// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/featurebasedb/objectdb"
	"github.com/featurebasedb/objectdb/test"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Bootstrap(t *testing.T) {
	s := test.MustOpenStore(t)
	for _, id := range []objectdb.Invid{objectdb.SupergashOwnerGroup, objectdb.SupergashPersona, objectdb.DefaultRole} {
		assert.NotNil(t, s.Base(id.Base).Object(id.Num), "%s", id)
	}
	assert.Equal(t, "supergash", s.Base(objectdb.PersonaBase).Object(objectdb.SupergashPersona.Num).Label())
	require.NotNil(t, s.BaseByName("Role"))
	assert.Equal(t, objectdb.RoleBase, s.BaseByName("Role").ID())

	st := s.Status()
	assert.Equal(t, s.CurrentTick(), st.Tick)
	assert.Len(t, st.Bases, 4)
	assert.Contains(t, st.Namespaces, objectdb.NamespaceUsernames)
}

func TestStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	s := test.MustOpenBoltStore(t, dir)
	mustInstallHosts(t, s)
	keep := mustCreateHost(t, s, "keep")
	gone := mustCreateHost(t, s, "gone")
	s.MustCreateUser("gina", "pw")
	s.MustRun(func(sess *objectdb.Session) {
		h, rv := sess.EditObject(keep)
		test.MustOK(t, rv)
		test.MustOK(t, h.Field(hostPorts).AddElements([]interface{}{22, 443}))
		test.MustOK(t, sess.DeleteObject(gone))
	})
	tick := s.CurrentTick()
	modified := s.Base(hostBase).LastModified()
	before := dumpRecords(t, s)

	s = s.Reopen()
	defer s.Close()

	if diff := cmp.Diff(before, dumpRecords(t, s)); diff != "" {
		t.Fatalf("dump changed across reopen (-before +after):\n%s", diff)
	}

	assert.Equal(t, tick, s.CurrentTick())
	assert.Equal(t, modified, s.Base(hostBase).LastModified())
	require.NotNil(t, s.Base(interfaceBase))
	assert.True(t, s.Base(interfaceBase).Embedded())

	h := s.Base(hostBase).Object(keep.Num)
	require.NotNil(t, h)
	assert.Equal(t, "keep", h.Label())
	assert.Equal(t, []interface{}{int64(22), int64(443)}, h.Values(hostPorts))
	assert.Nil(t, s.Base(hostBase).Object(gone.Num))

	ref, ok := s.Namespace(hostnames).Lookup("", "KEEP")
	require.True(t, ok)
	assert.Equal(t, keep, ref.Object)
	_, ok = s.Namespace(hostnames).Lookup("", "gone")
	assert.False(t, ok)

	sess := s.MustLogin("gina", "pw")
	require.NoError(t, sess.SelectPersona(context.Background(), "gina-admin", "pw"))
	s.MustLogin("supergash", test.SupergashPassword)

	// New objects don't reuse numbers.
	next := mustCreateHost(t, s, "next")
	assert.Greater(t, next.Num, gone.Num)
	assert.Greater(t, s.CurrentTick(), tick)
}

// dumpRecords returns the store's full dump as supergash.
func dumpRecords(t *testing.T, s *test.Store) []objectdb.DumpRecord {
	t.Helper()
	sess, err := s.Login(context.Background(), "supergash", test.SupergashPassword)
	require.NoError(t, err)
	defer sess.Close()
	var buf bytes.Buffer
	require.NoError(t, sess.Dump(context.Background(), &buf))

	var recs []objectdb.DumpRecord
	sc := bufio.NewScanner(&buf)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var rec objectdb.DumpRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		recs = append(recs, rec)
	}
	require.NoError(t, sc.Err())
	return recs
}
