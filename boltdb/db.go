// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package boltdb contains the boltdb implementation of the object store
// journal.
package boltdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/featurebasedb/objectdb"
	"github.com/featurebasedb/objectdb/errors"
	bolt "go.etcd.io/bbolt"
)

// Bucket names a top-level bolt bucket.
type Bucket []byte

// DB is a bolt file whose buckets are created when it opens.
type DB struct {
	db   *bolt.DB
	path string
}

// OpenDB opens or creates the bolt file at path and makes sure every bucket
// in buckets exists. noSync skips fsync after each commit.
func OpenDB(path string, noSync bool, buckets ...Bucket) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", filepath.Dir(path))
	}
	// A second process holding the file makes Open block; give up quickly.
	bdb, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	bdb.NoSync = noSync

	db := &DB{db: bdb, path: path}
	err = db.Update(context.Background(), func(tx *Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "creating bucket %s", name)
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the file the database lives in.
func (db *DB) Path() string { return db.path }

// Close closes the database file.
func (db *DB) Close() error {
	if db.db == nil {
		return nil
	}
	return db.db.Close()
}

// View runs fn in a read-only transaction.
func (db *DB) View(ctx context.Context, fn func(tx *Tx) error) error {
	if err := interrupted(ctx); err != nil {
		return err
	}
	return db.db.View(func(tx *bolt.Tx) error {
		return fn(&Tx{Tx: tx, ctx: ctx})
	})
}

// Update runs fn in a read-write transaction, committing if fn returns nil.
// The context is checked once more before the commit.
func (db *DB) Update(ctx context.Context, fn func(tx *Tx) error) error {
	if err := interrupted(ctx); err != nil {
		return err
	}
	return db.db.Update(func(tx *bolt.Tx) error {
		if err := fn(&Tx{Tx: tx, ctx: ctx}); err != nil {
			return err
		}
		return interrupted(ctx)
	})
}

// Tx is a bolt transaction carrying the context it was started with.
type Tx struct {
	*bolt.Tx
	ctx context.Context
}

// Context returns the transaction's context.
func (tx *Tx) Context() context.Context { return tx.ctx }

// Bucket returns the named bucket, which OpenDB must have created.
func (tx *Tx) Bucket(name Bucket) (*bolt.Bucket, error) {
	b := tx.Tx.Bucket(name)
	if b == nil {
		return nil, errors.New(objectdb.ErrJournal, fmt.Sprintf("boltdb: bucket '%s' not found", name))
	}
	return b, nil
}

func interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.New(objectdb.ErrInterrupted, "journal access interrupted"), err.Error())
	}
	return nil
}
