// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package boltdb_test

import (
	"context"
	"testing"
	"time"

	"github.com/featurebasedb/objectdb"
	"github.com/featurebasedb/objectdb/boltdb"
	"github.com/featurebasedb/objectdb/errors"
	"github.com/featurebasedb/objectdb/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustOpenJournal(t *testing.T, dir string) *boltdb.Journal {
	t.Helper()
	j, err := boltdb.OpenJournal(dir, true, logger.NewLogfLogger(t))
	require.NoError(t, err)
	return j
}

func TestJournal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	j := mustOpenJournal(t, dir)

	t.Run("EmptySchema", func(t *testing.T) {
		schema, err := j.ReadSchema(ctx)
		require.NoError(t, err)
		assert.Nil(t, schema)
		last, err := j.LastTick(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), last)
	})

	t.Run("Schema", func(t *testing.T) {
		require.NoError(t, j.WriteSchema(ctx, []byte(`{"version":1}`)))
		schema, err := j.ReadSchema(ctx)
		require.NoError(t, err)
		assert.Equal(t, `{"version":1}`, string(schema))
	})

	a := objectdb.Invid{Base: 3, Num: 1}
	b := objectdb.Invid{Base: 256, Num: 7}

	t.Run("Commit", func(t *testing.T) {
		require.NoError(t, j.Commit(ctx, &objectdb.JournalRecord{
			TxnID:    "t1",
			Identity: "alice",
			Time:     time.Unix(100, 0).UTC(),
			Tick:     2,
			Puts: []objectdb.JournalObject{
				{Invid: a, Data: []byte("a1"), Delta: []byte{1}},
				{Invid: b, Data: []byte("b1")},
			},
		}))
		require.NoError(t, j.Commit(ctx, &objectdb.JournalRecord{
			TxnID:    "t2",
			Identity: "bob",
			Tick:     3,
			Puts:     []objectdb.JournalObject{{Invid: a, Data: []byte("a2")}},
			Deletes:  []objectdb.Invid{b},
		}))

		got := map[objectdb.Invid]string{}
		require.NoError(t, j.ReadObjects(ctx, func(invid objectdb.Invid, data []byte) error {
			got[invid] = string(data)
			return nil
		}))
		assert.Equal(t, map[objectdb.Invid]string{a: "a2"}, got)

		last, err := j.LastTick(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), last)
	})

	t.Run("Log", func(t *testing.T) {
		var entries []*boltdb.LogEntry
		require.NoError(t, j.ReadLog(ctx, 0, func(e *boltdb.LogEntry) error {
			entries = append(entries, e)
			return nil
		}))
		require.Len(t, entries, 2)
		assert.Equal(t, "alice", entries[0].Identity)
		assert.Equal(t, []boltdb.LogChange{{Invid: "3:1", Delta: []byte{1}}, {Invid: "256:7"}}, entries[0].Changes)
		assert.Equal(t, []string{"256:7"}, entries[1].Deletes)

		entries = nil
		require.NoError(t, j.ReadLog(ctx, 2, func(e *boltdb.LogEntry) error {
			entries = append(entries, e)
			return nil
		}))
		require.Len(t, entries, 1)
		assert.Equal(t, "t2", entries[0].TxnID)
	})

	require.NoError(t, j.Close())

	t.Run("Reopen", func(t *testing.T) {
		j := mustOpenJournal(t, dir)
		defer j.Close()
		schema, err := j.ReadSchema(ctx)
		require.NoError(t, err)
		assert.Equal(t, `{"version":1}`, string(schema))

		// Deleted objects still count.
		marks, err := j.HighWater(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[objectdb.BaseID]int32{3: 1, 256: 7}, marks)
	})
}

func TestJournalChecksum(t *testing.T) {
	ctx := context.Background()
	j := mustOpenJournal(t, t.TempDir())
	defer j.Close()

	invid := objectdb.Invid{Base: 3, Num: 1}
	require.NoError(t, j.Commit(ctx, &objectdb.JournalRecord{
		Tick: 2,
		Puts: []objectdb.JournalObject{{Invid: invid, Data: []byte("payload")}},
	}))

	// Flip a byte of the stored record behind the journal's back.
	require.NoError(t, j.DB().Update(ctx, func(tx *boltdb.Tx) error {
		b, err := tx.Bucket(boltdb.Bucket("objects"))
		if err != nil {
			return err
		}
		var keys, vals [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			keys = append(keys, append([]byte(nil), k...))
			vals = append(vals, append([]byte(nil), v...))
			return nil
		}); err != nil {
			return err
		}
		for i, k := range keys {
			vals[i][len(vals[i])-1] ^= 0xff
			if err := b.Put(k, vals[i]); err != nil {
				return err
			}
		}
		return nil
	}))

	err := j.ReadObjects(ctx, func(objectdb.Invid, []byte) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.Is(err, objectdb.ErrIntegrity))
}
