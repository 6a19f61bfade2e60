// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package test holds helpers shared by the objectdb test suites.
package test

import (
	"context"
	"testing"
	"time"

	"github.com/featurebasedb/objectdb"
	"github.com/featurebasedb/objectdb/boltdb"
	"github.com/featurebasedb/objectdb/logger"
	"github.com/stretchr/testify/require"
)

// SupergashPassword is the supergash password of stores opened by
// MustOpenStore.
const SupergashPassword = "secret"

// Store is a test wrapper for objectdb.Store.
type Store struct {
	*objectdb.Store
	tb  testing.TB
	dir string
}

func storeOptions(tb testing.TB, opts []objectdb.StoreOption) []objectdb.StoreOption {
	return append([]objectdb.StoreOption{
		objectdb.OptStoreLogger(logger.NewLogfLogger(tb)),
		objectdb.OptStoreLockPollInterval(5 * time.Millisecond),
		objectdb.OptStoreSupergashPassword(SupergashPassword),
	}, opts...)
}

// MustOpenStore opens an in-memory store and closes it when the test ends.
func MustOpenStore(tb testing.TB, opts ...objectdb.StoreOption) *Store {
	tb.Helper()
	s, err := objectdb.NewStore(storeOptions(tb, opts)...)
	require.NoError(tb, err)
	require.NoError(tb, s.Open(context.Background()))
	tb.Cleanup(func() { _ = s.Close() })
	return &Store{Store: s, tb: tb}
}

// MustOpenBoltStore opens a store journaled to a bolt file in dir. The
// caller closes it.
func MustOpenBoltStore(tb testing.TB, dir string, opts ...objectdb.StoreOption) *Store {
	tb.Helper()
	j, err := boltdb.OpenJournal(dir, true, logger.NewLogfLogger(tb))
	require.NoError(tb, err)
	opts = append([]objectdb.StoreOption{objectdb.OptStoreJournal(j)}, opts...)
	s, err := objectdb.NewStore(storeOptions(tb, opts)...)
	require.NoError(tb, err)
	require.NoError(tb, s.Open(context.Background()))
	return &Store{Store: s, tb: tb, dir: dir}
}

// Reopen closes a bolt store and opens it again from its journal.
func (s *Store) Reopen(opts ...objectdb.StoreOption) *Store {
	s.tb.Helper()
	require.NotEmpty(s.tb, s.dir, "only bolt stores can be reopened")
	require.NoError(s.tb, s.Close())
	return MustOpenBoltStore(s.tb, s.dir, opts...)
}

// MustRun runs fn in an internal session's transaction and commits it.
func (s *Store) MustRun(fn func(sess *objectdb.Session)) {
	s.tb.Helper()
	sess := s.NewInternalSession(s.tb.Name())
	defer sess.Close()
	_, err := sess.OpenTransaction(s.tb.Name())
	require.NoError(s.tb, err)
	fn(sess)
	rv := sess.Commit(context.Background())
	require.True(s.tb, rv.OK(), "commit: %v", rv)
}

// MustOK fails the test unless rv reports success.
func MustOK(tb testing.TB, rv *objectdb.ReturnVal) {
	tb.Helper()
	require.True(tb, rv.OK(), "unexpected failure: %v", rv)
}

// MustCreateRole creates a role with the given matrices.
func (s *Store) MustCreateRole(name string, owned, unowned *objectdb.PermMatrix, delegatable bool) objectdb.Invid {
	s.tb.Helper()
	var id objectdb.Invid
	s.MustRun(func(sess *objectdb.Session) {
		role, rv := sess.CreateObject(objectdb.RoleBase)
		MustOK(s.tb, rv)
		MustOK(s.tb, role.Field(objectdb.RoleNameField).SetValue(name))
		if owned != nil {
			MustOK(s.tb, role.Field(objectdb.RoleMatrixField).SetValue(owned))
		}
		if unowned != nil {
			MustOK(s.tb, role.Field(objectdb.RoleDefaultMatrixField).SetValue(unowned))
		}
		MustOK(s.tb, role.Field(objectdb.RoleDelegatableField).SetValue(delegatable))
		id = role.Invid()
	})
	return id
}

// MustCreateOwnerGroup creates an owner group.
func (s *Store) MustCreateOwnerGroup(name string, members ...objectdb.Invid) objectdb.Invid {
	s.tb.Helper()
	var id objectdb.Invid
	s.MustRun(func(sess *objectdb.Session) {
		g, rv := sess.CreateObject(objectdb.OwnerGroupBase)
		MustOK(s.tb, rv)
		MustOK(s.tb, g.Field(objectdb.OwnerNameField).SetValue(name))
		for _, m := range members {
			MustOK(s.tb, g.Field(objectdb.OwnerMembersField).AddElement(m))
		}
		id = g.Invid()
	})
	return id
}

// MustCreateUser creates an end user and a persona named name+"-admin"
// holding roles. Both take password.
func (s *Store) MustCreateUser(name, password string, roles ...objectdb.Invid) (user, persona objectdb.Invid) {
	s.tb.Helper()
	s.MustRun(func(sess *objectdb.Session) {
		u, rv := sess.CreateObject(objectdb.UserBase)
		MustOK(s.tb, rv)
		MustOK(s.tb, u.Field(objectdb.UserNameField).SetValue(name))
		MustOK(s.tb, u.Field(objectdb.UserPasswordField).SetValue(password))

		p, rv := sess.CreateObject(objectdb.PersonaBase)
		MustOK(s.tb, rv)
		MustOK(s.tb, p.Field(objectdb.PersonaNameField).SetValue(name+"-admin"))
		MustOK(s.tb, p.Field(objectdb.PersonaPasswordField).SetValue(password))
		MustOK(s.tb, p.Field(objectdb.PersonaUserField).SetValue(u.Invid()))
		for _, r := range roles {
			MustOK(s.tb, p.Field(objectdb.PersonaRolesField).AddElement(r))
		}
		user, persona = u.Invid(), p.Invid()
	})
	return user, persona
}

// MustLogin logs in and closes the session when the test ends.
func (s *Store) MustLogin(name, password string) *objectdb.Session {
	s.tb.Helper()
	sess, err := s.Login(context.Background(), name, password)
	require.NoError(s.tb, err)
	s.tb.Cleanup(sess.Close)
	return sess
}

// MustLoginAs logs in as user and selects the user's persona.
func (s *Store) MustLoginAs(name, password string) *objectdb.Session {
	s.tb.Helper()
	sess := s.MustLogin(name, password)
	require.NoError(s.tb, sess.SelectPersona(context.Background(), name+"-admin", password))
	return sess
}
