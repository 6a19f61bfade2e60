// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb_test

import (
	"context"
	"testing"

	"github.com/featurebasedb/objectdb"
	"github.com/featurebasedb/objectdb/errors"
	"github.com/featurebasedb/objectdb/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermEntry(t *testing.T) {
	p := objectdb.NewPermEntry(true, true, false, true)
	assert.Equal(t, "ve-d", p.String())
	q, err := objectdb.ParsePermEntry("dv")
	require.NoError(t, err)
	assert.Equal(t, objectdb.PermVisible|objectdb.PermDelete, q)
	assert.True(t, p.Contains(q))
	assert.Equal(t, p, p.Union(q))
	assert.Equal(t, q, p.Intersection(q))
	_, err = objectdb.ParsePermEntry("vx")
	assert.True(t, errors.Is(err, objectdb.ErrValidation))
}

func TestPermMatrix(t *testing.T) {
	a := objectdb.NewPermMatrix().Set(hostBase, objectdb.PermFull).
		SetField(hostBase, hostPorts, objectdb.PermVisible)
	b := objectdb.NewPermMatrix().Set(hostBase, objectdb.PermVisible|objectdb.PermEditable)

	u := a.Union(b)
	p, ok := u.GetField(hostBase, hostPorts)
	assert.True(t, ok)
	assert.Equal(t, objectdb.PermVisible|objectdb.PermEditable, p)
	assert.Equal(t, objectdb.PermFull, u.Get(hostBase))

	i := a.Intersection(b)
	assert.Equal(t, objectdb.PermVisible|objectdb.PermEditable, i.Get(hostBase))
	p, _ = i.GetField(hostBase, hostPorts)
	assert.Equal(t, objectdb.PermVisible, p)

	assert.True(t, b.IsSubsetOf(a.Union(b)))
	assert.False(t, a.IsSubsetOf(b))
	assert.True(t, (*objectdb.PermMatrix)(nil).IsSubsetOf(b))
	assert.True(t, a.Equal(a.Clone()))
	assert.False(t, a.Equal(b))
	assert.Equal(t, "256=vecd 256.102=v---", a.String())
}

// permFixture is a store with a host admin role held by alice's persona
// through the "ops" owner group.
type permFixture struct {
	store   *test.Store
	role    objectdb.Invid
	ops     objectdb.Invid
	persona objectdb.Invid
	alice   *objectdb.Session
}

func newPermFixture(t *testing.T) *permFixture {
	s := test.MustOpenStore(t)
	mustInstallHosts(t, s)

	owned := objectdb.NewPermMatrix().
		Set(hostBase, objectdb.PermFull).
		Set(interfaceBase, objectdb.PermFull).
		SetField(hostBase, hostPorts, objectdb.PermVisible|objectdb.PermEditable)
	unowned := objectdb.NewPermMatrix().Set(hostBase, objectdb.PermVisible)
	role := s.MustCreateRole("host admin", owned, unowned, false)
	_, persona := s.MustCreateUser("alice", "pw", role)
	ops := s.MustCreateOwnerGroup("ops", persona)

	return &permFixture{
		store:   s,
		role:    role,
		ops:     ops,
		persona: persona,
		alice:   s.MustLoginAs("alice", "pw"),
	}
}

func TestPermissions(t *testing.T) {
	ctx := context.Background()
	f := newPermFixture(t)
	s, alice := f.store, f.alice

	persona := s.Base(objectdb.PersonaBase).Object(f.persona.Num)
	require.Equal(t, []objectdb.Invid{f.ops}, persona.Invids(objectdb.PersonaOwnerGroupsField))

	foreign := mustCreateHost(t, s, "foreign")

	_, err := alice.OpenTransaction("create")
	require.NoError(t, err)
	h, rv := alice.CreateObject(hostBase)
	test.MustOK(t, rv)
	test.MustOK(t, h.Field(hostName).SetValue("mine"))
	assert.Equal(t, []objectdb.Invid{f.ops}, h.Owners())
	mustCommit(t, alice)
	mine := h.Invid()

	t.Run("Owned", func(t *testing.T) {
		obj, err := alice.ViewObject(mine)
		require.NoError(t, err)
		assert.True(t, alice.Owns(obj))
		assert.Equal(t, objectdb.PermFull, alice.GetPerm(obj))
		assert.Equal(t, objectdb.PermFull, alice.GetFieldPerm(obj, hostName))
		// Field entries narrow the object's rights but keep create.
		assert.Equal(t, objectdb.PermVisible|objectdb.PermEditable|objectdb.PermCreate, alice.GetFieldPerm(obj, hostPorts))
		assert.Equal(t, objectdb.PermVisible, alice.GetFieldPerm(obj, objectdb.CreationDateField))
		assert.Equal(t, objectdb.PermFull, alice.GetFieldPerm(obj, objectdb.OwnerListField))
		assert.Equal(t, objectdb.PermNone, alice.GetFieldPerm(obj, 999))
	})

	t.Run("Unowned", func(t *testing.T) {
		obj, err := alice.ViewObject(foreign)
		require.NoError(t, err)
		assert.False(t, alice.Owns(obj))
		assert.Equal(t, objectdb.PermVisible, alice.GetPerm(obj))

		_, err = alice.OpenTransaction("edit foreign")
		require.NoError(t, err)
		defer alice.Abort()
		_, rv := alice.EditObject(foreign)
		requireCode(t, rv, objectdb.ErrPermissionDenied)
		requireCode(t, alice.DeleteObject(foreign), objectdb.ErrPermissionDenied)
	})

	t.Run("BasePerm", func(t *testing.T) {
		assert.Equal(t, objectdb.PermFull, alice.GetBasePerm(hostBase))
		assert.Equal(t, objectdb.PermNone, alice.GetBasePerm(networkBase))

		_, err := alice.OpenTransaction("create network")
		require.NoError(t, err)
		defer alice.Abort()
		_, rv := alice.CreateObject(networkBase)
		requireCode(t, rv, objectdb.ErrPermissionDenied)
		_, rv = alice.CreateObject(interfaceBase)
		requireCode(t, rv, objectdb.ErrPermissionDenied)
	})

	t.Run("EndUser", func(t *testing.T) {
		plain := s.MustLogin("alice", "pw")
		assert.Equal(t, "alice", plain.Identity())
		_, err := plain.ViewObject(mine)
		assert.True(t, errors.Is(err, objectdb.ErrPermissionDenied))
		objs, err := plain.Query(ctx, hostBase, nil)
		require.NoError(t, err)
		assert.Empty(t, objs)

		// An end user owns their own user object.
		self := s.Base(objectdb.UserBase).Objects()[0]
		assert.True(t, plain.Owns(self))
	})

	t.Run("Supergash", func(t *testing.T) {
		root := s.MustLogin("supergash", test.SupergashPassword)
		assert.True(t, root.IsSupergash())
		obj, err := root.ViewObject(mine)
		require.NoError(t, err)
		assert.Equal(t, objectdb.PermFull, root.GetPerm(obj))
		assert.Equal(t, objectdb.PermVisible, root.GetFieldPerm(obj, objectdb.CreationDateField))
		assert.Equal(t, objectdb.PermFull, root.GetFieldPerm(obj, hostPorts))
		assert.False(t, alice.IsSupergash())
	})

	t.Run("Stale", func(t *testing.T) {
		obj := s.Base(hostBase).Object(foreign.Num)
		assert.Equal(t, objectdb.PermVisible, alice.GetPerm(obj))

		s.MustRun(func(sess *objectdb.Session) {
			r, rv := sess.EditObject(f.role)
			test.MustOK(t, rv)
			test.MustOK(t, r.Field(objectdb.RoleDefaultMatrixField).SetValue(
				objectdb.NewPermMatrix().Set(hostBase, objectdb.PermVisible|objectdb.PermEditable)))
		})
		assert.Equal(t, objectdb.PermVisible|objectdb.PermEditable, alice.GetPerm(obj))
		// Only owners may change the owner list.
		assert.Equal(t, objectdb.PermVisible, alice.GetFieldPerm(obj, objectdb.OwnerListField))
	})
}

func TestPermissions_OwnerGroups(t *testing.T) {
	f := newPermFixture(t)
	s, alice := f.store, f.alice

	// g1 and g2 own each other; neither includes alice.
	g1 := s.MustCreateOwnerGroup("g1")
	g2 := s.MustCreateOwnerGroup("g2")
	// g3 is owned by ops, so ops members own whatever g3 owns.
	g3 := s.MustCreateOwnerGroup("g3")
	cyclic := mustCreateHost(t, s, "cyclic")
	nested := mustCreateHost(t, s, "nested")

	s.MustRun(func(sess *objectdb.Session) {
		for _, p := range [][2]objectdb.Invid{{g1, g2}, {g2, g1}, {g3, f.ops}, {cyclic, g1}, {nested, g3}} {
			obj, rv := sess.EditObject(p[0])
			test.MustOK(t, rv)
			owners := obj.Field(objectdb.OwnerListField)
			for _, o := range owners.Values() {
				test.MustOK(t, owners.DeleteElement(o))
			}
			test.MustOK(t, owners.AddElement(p[1]))
		}
	})

	obj, err := alice.ViewObject(cyclic)
	require.NoError(t, err)
	assert.False(t, alice.Owns(obj))

	obj, err = alice.ViewObject(nested)
	require.NoError(t, err)
	assert.True(t, alice.Owns(obj))
	assert.Equal(t, objectdb.PermFull, alice.GetPerm(obj))
}

func TestPermissions_Delegation(t *testing.T) {
	s := test.MustOpenStore(t)
	mustInstallHosts(t, s)

	owned := objectdb.NewPermMatrix().
		Set(objectdb.RoleBase, objectdb.PermFull).
		Set(hostBase, objectdb.PermVisible|objectdb.PermEditable)
	delegator := s.MustCreateRole("delegator", owned, nil, true)
	s.MustCreateUser("bob", "pw", delegator)
	bob := s.MustLoginAs("bob", "pw")

	_, err := bob.OpenTransaction("delegate")
	require.NoError(t, err)
	defer bob.Abort()
	role, rv := bob.CreateObject(objectdb.RoleBase)
	test.MustOK(t, rv)
	matrix := role.Field(objectdb.RoleMatrixField)

	test.MustOK(t, matrix.SetValue(objectdb.NewPermMatrix().Set(hostBase, objectdb.PermVisible)))
	requireCode(t, matrix.SetValue(objectdb.NewPermMatrix().Set(hostBase, objectdb.PermFull)), objectdb.ErrPermissionDenied)
	requireCode(t, role.Field(objectdb.RoleDefaultMatrixField).SetValue(
		objectdb.NewPermMatrix().Set(hostBase, objectdb.PermVisible)), objectdb.ErrPermissionDenied)

	_, rv = bob.EditObject(objectdb.DefaultRole)
	requireCode(t, rv, objectdb.ErrPermissionDenied)
}

func TestPermissions_BuiltinRules(t *testing.T) {
	s := test.MustOpenStore(t)
	role := s.MustCreateRole("viewer", nil, nil, false)
	sess := mustBegin(t, s, "rules")

	// The default role takes no members and the supergash persona no roles.
	def, rv := sess.EditObject(objectdb.DefaultRole)
	test.MustOK(t, rv)
	requireCode(t, def.Field(objectdb.RoleMembersField).AddElement(objectdb.SupergashPersona), objectdb.ErrBusinessRule)
	root, rv := sess.EditObject(objectdb.SupergashPersona)
	test.MustOK(t, rv)
	requireCode(t, root.Field(objectdb.PersonaRolesField).AddElement(role), objectdb.ErrBusinessRule)

	for _, invid := range []objectdb.Invid{objectdb.DefaultRole, objectdb.SupergashPersona, objectdb.SupergashOwnerGroup} {
		requireCode(t, sess.DeleteObject(invid), objectdb.ErrBusinessRule)
	}

	// Names are required.
	g, rv := sess.CreateObject(objectdb.OwnerGroupBase)
	test.MustOK(t, rv)
	rv = sess.Commit(context.Background())
	requireCode(t, rv, objectdb.ErrValidation)
	assert.True(t, rv.Retry)
	test.MustOK(t, g.Field(objectdb.OwnerNameField).SetValue("named"))
	mustCommit(t, sess)
}
