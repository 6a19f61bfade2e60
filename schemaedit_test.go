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

func requireErrCode(t *testing.T, err error, code errors.Code) {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, code), "expected %s, got %v", code, err)
}

func TestSchemaEdit(t *testing.T) {
	ctx := context.Background()
	s := test.MustOpenStore(t)
	mustInstallHosts(t, s)
	host := mustCreateHost(t, s, "schema")

	begin := func(t *testing.T) *objectdb.SchemaEdit {
		t.Helper()
		se, err := s.BeginSchemaEdit(ctx)
		require.NoError(t, err)
		t.Cleanup(se.Abort)
		return se
	}

	t.Run("AddField", func(t *testing.T) {
		se := begin(t)
		fd, err := se.AddField(hostBase, &objectdb.FieldDef{Name: "Owner Email", Type: objectdb.FieldTypeString})
		require.NoError(t, err)
		assert.Equal(t, objectdb.FieldID(106), fd.ID)
		_, err = se.AddField(hostBase, &objectdb.FieldDef{Name: "Owner Email", Type: objectdb.FieldTypeString})
		requireErrCode(t, err, objectdb.ErrFieldExists)
		_, err = se.AddField(hostBase, &objectdb.FieldDef{ID: 5, Name: "Low", Type: objectdb.FieldTypeString})
		requireErrCode(t, err, objectdb.ErrSchemaEdit)
		_, err = se.AddField(hostBase, &objectdb.FieldDef{Name: "Alias2", Type: objectdb.FieldTypeString, Namespace: "nope"})
		requireErrCode(t, err, objectdb.ErrUnknownNamespace)
		// Not visible until commit.
		assert.Nil(t, s.Base(hostBase).Field(fd.ID))
		require.NoError(t, se.Commit(ctx))

		require.NotNil(t, s.Base(hostBase).FieldByName("Owner Email"))
		s.MustRun(func(sess *objectdb.Session) {
			h, rv := sess.EditObject(host)
			test.MustOK(t, rv)
			assert.Equal(t, "schema", h.Value(hostName))
			test.MustOK(t, h.Field(fd.ID).SetValue("ops@example.com"))
		})
		assert.Equal(t, "ops@example.com", s.Base(hostBase).Object(host.Num).Value(fd.ID))

		se = begin(t)
		requireErrCode(t, se.DeleteField(hostBase, fd.ID), objectdb.ErrSchemaEdit)
		requireErrCode(t, se.DeleteField(hostBase, objectdb.NotesField), objectdb.ErrSchemaEdit)
		requireErrCode(t, se.DeleteField(hostBase, 999), objectdb.ErrUnknownField)
		se.Abort()
	})

	t.Run("DeleteField", func(t *testing.T) {
		se := begin(t)
		fd, err := se.AddField(hostBase, &objectdb.FieldDef{Name: "Scratch", Type: objectdb.FieldTypeBoolean})
		require.NoError(t, err)
		require.NoError(t, se.Commit(ctx))

		se = begin(t)
		require.NoError(t, se.DeleteField(hostBase, fd.ID))
		require.NoError(t, se.Commit(ctx))
		assert.Nil(t, s.Base(hostBase).Field(fd.ID))
	})

	t.Run("Bases", func(t *testing.T) {
		se := begin(t)
		_, err := se.CreateBase(&objectdb.BaseDef{ID: 10, Name: "Low"})
		requireErrCode(t, err, objectdb.ErrSchemaEdit)
		_, err = se.CreateBase(&objectdb.BaseDef{Name: "Host"})
		requireErrCode(t, err, objectdb.ErrBaseExists)
		b, err := se.CreateBase(&objectdb.BaseDef{Name: "Rack"})
		require.NoError(t, err)
		assert.Equal(t, objectdb.BaseID(259), b.ID())

		requireErrCode(t, se.DeleteBase(hostBase), objectdb.ErrSchemaEdit)
		requireErrCode(t, se.DeleteBase(networkBase), objectdb.ErrSchemaEdit)
		requireErrCode(t, se.DeleteBase(objectdb.RoleBase), objectdb.ErrSchemaEdit)
		require.NoError(t, se.DeleteBase(b.ID()))
		requireErrCode(t, se.DeleteBase(b.ID()), objectdb.ErrUnknownBase)
		require.NoError(t, se.Commit(ctx))
		assert.Nil(t, s.BaseByName("Rack"))
	})

	t.Run("Validate", func(t *testing.T) {
		tick := s.CurrentTick()
		se := begin(t)
		_, err := se.CreateBase(&objectdb.BaseDef{
			Name: "Switch",
			Fields: []*objectdb.FieldDef{
				{ID: 100, Name: "Uplink", Type: objectdb.FieldTypeInvid, TargetBase: 400},
			},
		})
		require.NoError(t, err)
		requireErrCode(t, se.Commit(ctx), objectdb.ErrInvalidDefinition)
		se.Abort()
		assert.Nil(t, s.BaseByName("Switch"))
		assert.Equal(t, tick, s.CurrentTick())

		se = begin(t)
		_, err = se.CreateBase(&objectdb.BaseDef{
			Name: "Port",
			Fields: []*objectdb.FieldDef{
				// Points back at a field that doesn't point here.
				{ID: 100, Name: "Host", Type: objectdb.FieldTypeInvid, TargetBase: hostBase, TargetField: hostName},
			},
		})
		require.NoError(t, err)
		requireErrCode(t, se.Commit(ctx), objectdb.ErrInvalidDefinition)
	})

	t.Run("Namespaces", func(t *testing.T) {
		se := begin(t)
		_, err := se.CreateNamespace(hostnames, false)
		requireErrCode(t, err, objectdb.ErrNamespaceExists)
		_, err = se.CreateNamespace("", false)
		requireErrCode(t, err, objectdb.ErrInvalidDefinition)
		requireErrCode(t, se.DeleteNamespace(hostnames), objectdb.ErrSchemaEdit)
		requireErrCode(t, se.DeleteNamespace("missing"), objectdb.ErrUnknownNamespace)
		_, err = se.CreateNamespace("serials", false)
		require.NoError(t, err)
		require.NoError(t, se.Commit(ctx))
		require.NotNil(t, s.Namespace("serials"))
		// Committed values survive a schema edit.
		_, ok := s.Namespace(hostnames).Lookup("", "schema")
		assert.True(t, ok)

		se = begin(t)
		require.NoError(t, se.DeleteNamespace("serials"))
		require.NoError(t, se.Commit(ctx))
		assert.Nil(t, s.Namespace("serials"))
	})

	t.Run("Exclusive", func(t *testing.T) {
		sess := mustBegin(t, s, "checkout")
		_, rv := sess.EditObject(host)
		test.MustOK(t, rv)
		_, err := s.BeginSchemaEdit(ctx)
		requireErrCode(t, err, objectdb.ErrSchemaEdit)
		sess.Abort()

		se := begin(t)
		_, err = s.BeginSchemaEdit(ctx)
		requireErrCode(t, err, objectdb.ErrSchemaEdit)

		_, err = sess.OpenTransaction("during edit")
		require.NoError(t, err)
		_, rv = sess.EditObject(host)
		requireCode(t, rv, objectdb.ErrConcurrency)
		assert.True(t, rv.Retry)

		se.Abort()
		requireErrCode(t, se.Commit(ctx), objectdb.ErrSchemaEdit)
		_, rv = sess.EditObject(host)
		test.MustOK(t, rv)
	})
}
