// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb_test

import (
	"testing"

	"github.com/featurebasedb/objectdb"
	"github.com/featurebasedb/objectdb/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespace(t *testing.T) {
	ref := func(num int32) objectdb.FieldRef {
		return objectdb.FieldRef{Object: objectdb.Invid{Base: 256, Num: num}, Field: 100}
	}

	t.Run("MarkCommit", func(t *testing.T) {
		ns := objectdb.NewNamespace("n", false)
		require.True(t, ns.Mark("t1", "x", ref(1)))
		assert.False(t, ns.TestMark("t2", "x"))
		assert.False(t, ns.Mark("t2", "x", ref(2)))

		got, ok := ns.Lookup("t1", "x")
		assert.True(t, ok)
		assert.Equal(t, ref(1), got)
		_, ok = ns.Lookup("", "x")
		assert.False(t, ok)

		ns.Commit("t1")
		assert.Equal(t, 0, ns.Pending("t1"))
		got, ok = ns.Lookup("", "x")
		assert.True(t, ok)
		assert.Equal(t, ref(1), got)
		assert.Equal(t, []interface{}{"x"}, ns.Values())
	})

	t.Run("Abort", func(t *testing.T) {
		ns := objectdb.NewNamespace("n", false)
		require.True(t, ns.Mark("t1", "x", ref(1)))
		ns.Commit("t1")

		require.True(t, ns.Unmark("t2", "x", ref(1)))
		require.True(t, ns.Mark("t2", "y", ref(1)))
		// Released values stay reserved until t2 ends.
		assert.False(t, ns.Mark("t3", "x", ref(3)))
		_, ok := ns.Lookup("t2", "x")
		assert.False(t, ok)

		ns.Abort("t2")
		assert.Equal(t, 0, ns.Pending("t2"))
		got, ok := ns.Lookup("", "x")
		assert.True(t, ok)
		assert.Equal(t, ref(1), got)
		_, ok = ns.Lookup("", "y")
		assert.False(t, ok)
		assert.True(t, ns.TestMark("t3", "y"))
	})

	t.Run("TestMarkOwnClaim", func(t *testing.T) {
		ns := objectdb.NewNamespace("n", true)
		require.True(t, ns.Mark("t1", "x", ref(1)))
		// Already claimed by t1: testable, but a second mark would give
		// one value to two holders.
		assert.True(t, ns.TestMark("t1", "X"))
		assert.False(t, ns.IsFree("t1", "X"))
		assert.False(t, ns.Mark("t1", "X", ref(1)))
		assert.False(t, ns.TestMark("t2", "x"))

		require.True(t, ns.Unmark("t1", "x", ref(1)))
		assert.True(t, ns.IsFree("t1", "x"))
		ns.Commit("t1")
		assert.Empty(t, ns.Values())
	})

	t.Run("CaseOnlyRename", func(t *testing.T) {
		ns := objectdb.NewNamespace("n", true)
		require.True(t, ns.Mark("t1", "web", ref(1)))
		ns.Commit("t1")

		require.True(t, ns.Unmark("t2", "web", ref(1)))
		require.True(t, ns.Mark("t2", "Web", ref(1)))
		ns.Abort("t2")
		assert.Equal(t, []interface{}{"web"}, ns.Values())

		require.True(t, ns.Unmark("t3", "web", ref(1)))
		require.True(t, ns.Mark("t3", "Web", ref(1)))
		ns.Commit("t3")
		assert.Equal(t, []interface{}{"Web"}, ns.Values())
	})

	t.Run("CaseInsensitive", func(t *testing.T) {
		ns := objectdb.NewNamespace("n", true)
		require.True(t, ns.Mark("t1", "Web", ref(1)))
		assert.False(t, ns.Mark("t2", "WEB", ref(2)))
		ns.Commit("t1")
		_, ok := ns.Lookup("", "web")
		assert.True(t, ok)

		cs := objectdb.NewNamespace("n", false)
		require.True(t, cs.Mark("t1", "Web", ref(1)))
		assert.True(t, cs.Mark("t2", "WEB", ref(2)))
	})
}

func TestNamespace_Transactions(t *testing.T) {
	s := test.MustOpenStore(t)
	mustInstallHosts(t, s)
	ns := s.Namespace(hostnames)

	t.Run("Conflict", func(t *testing.T) {
		a := mustBegin(t, s, "a")
		b := mustBegin(t, s, "b")
		ha, rv := a.CreateObject(hostBase)
		test.MustOK(t, rv)
		hb, rv := b.CreateObject(hostBase)
		test.MustOK(t, rv)

		test.MustOK(t, ha.Field(hostName).SetValue("web"))
		requireCode(t, hb.Field(hostName).SetValue("WEB"), objectdb.ErrNamespaceConflict)
		assert.False(t, hb.Field(hostName).IsDefined())

		txnA := a.Transaction().ID()
		assert.Equal(t, 1, ns.Pending(txnA))
		a.Abort()
		assert.Equal(t, 0, ns.Pending(txnA))
		test.MustOK(t, hb.Field(hostName).SetValue("WEB"))
		mustCommit(t, b)

		got, ok := ns.Lookup("", "web")
		require.True(t, ok)
		assert.Equal(t, hb.Invid(), got.Object)
	})

	t.Run("SameTransaction", func(t *testing.T) {
		sess := mustBegin(t, s, "same")
		h, rv := sess.CreateObject(hostBase)
		test.MustOK(t, rv)
		test.MustOK(t, h.Field(hostName).SetValue("db"))
		// A value can't be held by two fields, even in one object.
		requireCode(t, h.Field(hostAliases).AddElement("DB"), objectdb.ErrNamespaceConflict)
		requireCode(t, h.Field(hostAliases).AddElements([]interface{}{"db2", "db"}), objectdb.ErrNamespaceConflict)
		assert.Equal(t, 0, h.Field(hostAliases).Len())
		rv = h.Field(hostAliases).AddElementsPartial([]interface{}{"db2", "db"})
		test.MustOK(t, rv)
		assert.Equal(t, []interface{}{"db2"}, h.Field(hostAliases).Values())
		sess.Abort()

		_, ok := ns.Lookup("", "db")
		assert.False(t, ok)
		_, ok = ns.Lookup("", "db2")
		assert.False(t, ok)
	})

	t.Run("Swap", func(t *testing.T) {
		x := mustCreateHost(t, s, "x")
		y := mustCreateHost(t, s, "y")

		sess := mustBegin(t, s, "swap")
		hx, rv := sess.EditObject(x)
		test.MustOK(t, rv)
		hy, rv := sess.EditObject(y)
		test.MustOK(t, rv)
		requireCode(t, hx.Field(hostName).SetValue("y"), objectdb.ErrNamespaceConflict)
		test.MustOK(t, hx.Field(hostName).SetValue("tmp"))
		test.MustOK(t, hy.Field(hostName).SetValue("x"))
		test.MustOK(t, hx.Field(hostName).SetValue("y"))
		mustCommit(t, sess)

		got, ok := ns.Lookup("", "x")
		require.True(t, ok)
		assert.Equal(t, y, got.Object)
		got, ok = ns.Lookup("", "y")
		require.True(t, ok)
		assert.Equal(t, x, got.Object)
		_, ok = ns.Lookup("", "tmp")
		assert.False(t, ok)
	})

	t.Run("DeleteReleases", func(t *testing.T) {
		z := mustCreateHost(t, s, "z")
		sess := mustBegin(t, s, "delete")
		test.MustOK(t, sess.DeleteObject(z))
		h, rv := sess.CreateObject(hostBase)
		test.MustOK(t, rv)
		test.MustOK(t, h.Field(hostName).SetValue("z"))
		mustCommit(t, sess)

		got, ok := ns.Lookup("", "z")
		require.True(t, ok)
		assert.Equal(t, h.Invid(), got.Object)
		assert.Nil(t, s.Base(hostBase).Object(z.Num))
	})
}
