// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb_test

import (
	"context"
	"testing"

	"github.com/featurebasedb/objectdb"
	"github.com/featurebasedb/objectdb/errors"
	"github.com/featurebasedb/objectdb/test"
	"github.com/stretchr/testify/require"
)

// Bases and fields of the schema installed by mustInstallHosts.
const (
	hostBase      objectdb.BaseID = 256
	interfaceBase objectdb.BaseID = 257
	networkBase   objectdb.BaseID = 258

	hostName       objectdb.FieldID = 100
	hostAliases    objectdb.FieldID = 101
	hostPorts      objectdb.FieldID = 102
	hostInterfaces objectdb.FieldID = 103
	hostNetwork    objectdb.FieldID = 104
	hostTags       objectdb.FieldID = 105

	interfaceAddress objectdb.FieldID = 100

	networkName  objectdb.FieldID = 100
	networkHosts objectdb.FieldID = 101

	hostnames = "hostnames"
)

// mustInstallHosts adds a small inventory schema: hosts with embedded
// interfaces, and networks linked symmetrically to their hosts.
func mustInstallHosts(t *testing.T, s *test.Store) {
	t.Helper()
	ctx := context.Background()
	se, err := s.BeginSchemaEdit(ctx)
	require.NoError(t, err)

	_, err = se.CreateNamespace(hostnames, true)
	require.NoError(t, err)
	_, err = se.CreateBase(&objectdb.BaseDef{
		ID:         hostBase,
		Name:       "Host",
		LabelField: hostName,
		Fields: []*objectdb.FieldDef{
			{ID: hostName, Name: "Name", Type: objectdb.FieldTypeString, Namespace: hostnames, MinLength: 1, MaxLength: 32},
			{ID: hostAliases, Name: "Aliases", Type: objectdb.FieldTypeString, Vector: true, Namespace: hostnames},
			{ID: hostPorts, Name: "Ports", Type: objectdb.FieldTypeInteger, Vector: true, Range: &objectdb.Range{Min: 1, Max: 65535}},
			{ID: hostInterfaces, Name: "Interfaces", Type: objectdb.FieldTypeInvid, Vector: true, TargetBase: interfaceBase, TargetField: objectdb.ContainerField},
			{ID: hostNetwork, Name: "Network", Type: objectdb.FieldTypeInvid, TargetBase: networkBase, TargetField: networkHosts},
			{ID: hostTags, Name: "Tags", Type: objectdb.FieldTypeString, Vector: true, MaxSize: 3},
		},
	})
	require.NoError(t, err)
	_, err = se.CreateBase(&objectdb.BaseDef{
		ID:         interfaceBase,
		Name:       "Interface",
		Embedded:   true,
		LabelField: interfaceAddress,
		Fields: []*objectdb.FieldDef{
			{ID: interfaceAddress, Name: "Address", Type: objectdb.FieldTypeString},
		},
	})
	require.NoError(t, err)
	_, err = se.CreateBase(&objectdb.BaseDef{
		ID:         networkBase,
		Name:       "Network",
		LabelField: networkName,
		Fields: []*objectdb.FieldDef{
			{ID: networkName, Name: "Name", Type: objectdb.FieldTypeString},
			{ID: networkHosts, Name: "Hosts", Type: objectdb.FieldTypeInvid, Vector: true, TargetBase: hostBase, TargetField: hostNetwork},
		},
	})
	require.NoError(t, err)
	require.NoError(t, se.Commit(ctx))
}

// mustBegin returns an internal session with an open transaction.
func mustBegin(t *testing.T, s *test.Store, label string) *objectdb.Session {
	t.Helper()
	sess := s.NewInternalSession(label)
	t.Cleanup(sess.Close)
	_, err := sess.OpenTransaction(label)
	require.NoError(t, err)
	return sess
}

// mustCreateHost creates and commits a host named name.
func mustCreateHost(t *testing.T, s *test.Store, name string) objectdb.Invid {
	t.Helper()
	var id objectdb.Invid
	s.MustRun(func(sess *objectdb.Session) {
		h, rv := sess.CreateObject(hostBase)
		test.MustOK(t, rv)
		test.MustOK(t, h.Field(hostName).SetValue(name))
		id = h.Invid()
	})
	return id
}

func mustCommit(t *testing.T, sess *objectdb.Session) {
	t.Helper()
	rv := sess.Commit(context.Background())
	require.True(t, rv.OK(), "commit: %v", rv)
}

func requireCode(t *testing.T, rv *objectdb.ReturnVal, code errors.Code) {
	t.Helper()
	require.False(t, rv.OK(), "expected %s, got success", code)
	require.Equal(t, code, rv.Code(), "result: %v", rv)
}
