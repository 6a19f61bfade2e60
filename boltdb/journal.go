// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package boltdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/featurebasedb/objectdb"
	"github.com/featurebasedb/objectdb/errors"
	"github.com/featurebasedb/objectdb/logger"
	"github.com/zeebo/blake3"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketSchema  = Bucket("schema")
	bucketObjects = Bucket("objects")
	bucketLog     = Bucket("log")
	bucketNums    = Bucket("numbers")

	schemaKey = []byte("schema")

	// JournalBuckets are the buckets a Journal needs.
	JournalBuckets = []Bucket{bucketSchema, bucketObjects, bucketLog, bucketNums}
)

// checksumSize is the length of the blake3 digest prefixed to each stored
// record.
const checksumSize = 16

// Ensure type implements interface.
var _ objectdb.Journal = (*Journal)(nil)

// Journal stores the schema, the committed objects and a log of commits in
// a bolt database. Every record carries a blake3 checksum, checked on read.
type Journal struct {
	db     *DB
	logger logger.Logger
}

// NewJournal returns a Journal over db. The buckets in JournalBuckets must
// exist.
func NewJournal(db *DB, log logger.Logger) *Journal {
	if log == nil {
		log = logger.NopLogger
	}
	return &Journal{db: db, logger: log}
}

// OpenJournal opens or creates the journal file in dir.
func OpenJournal(dir string, noSync bool, log logger.Logger) (*Journal, error) {
	db, err := OpenDB(filepath.Join(dir, "objectdb.boltdb"), noSync, JournalBuckets...)
	if err != nil {
		return nil, errors.Wrap(err, "opening journal")
	}
	return NewJournal(db, log), nil
}

// DB returns the underlying database.
func (j *Journal) DB() *DB { return j.db }

func seal(payload []byte) []byte {
	out := make([]byte, checksumSize, checksumSize+len(payload))
	checksum(payload, out)
	return append(out, payload...)
}

func unseal(record []byte) ([]byte, error) {
	if len(record) < checksumSize {
		return nil, errors.New(objectdb.ErrIntegrity, "journal record too short")
	}
	var sum [checksumSize]byte
	payload := record[checksumSize:]
	checksum(payload, sum[:])
	if !bytes.Equal(sum[:], record[:checksumSize]) {
		return nil, errors.New(objectdb.ErrIntegrity, "journal record checksum mismatch")
	}
	return payload, nil
}

func checksum(payload, out []byte) {
	hasher := blake3.New()
	_, _ = hasher.Write(payload)
	_, _ = hasher.Digest().Read(out)
}

func invidKey(invid objectdb.Invid) []byte {
	var k [6]byte
	binary.BigEndian.PutUint16(k[:2], uint16(invid.Base))
	binary.BigEndian.PutUint32(k[2:], uint32(invid.Num))
	return k[:]
}

func keyInvid(k []byte) (objectdb.Invid, error) {
	if len(k) != 6 {
		return objectdb.Invid{}, errors.New(objectdb.ErrIntegrity, fmt.Sprintf("bad object key %x", k))
	}
	return objectdb.Invid{
		Base: objectdb.BaseID(binary.BigEndian.Uint16(k[:2])),
		Num:  int32(binary.BigEndian.Uint32(k[2:])),
	}, nil
}

func tickKey(tick uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], tick)
	return k[:]
}

// ReadSchema returns the stored schema, or nil for a new journal.
func (j *Journal) ReadSchema(ctx context.Context) (schema []byte, err error) {
	err = j.db.View(ctx, func(tx *Tx) error {
		b, err := tx.Bucket(bucketSchema)
		if err != nil {
			return err
		}
		v := b.Get(schemaKey)
		if v == nil {
			return nil
		}
		payload, err := unseal(v)
		if err != nil {
			return errors.Wrap(err, "reading schema")
		}
		schema = append([]byte(nil), payload...)
		return nil
	})
	return schema, err
}

// WriteSchema replaces the stored schema.
func (j *Journal) WriteSchema(ctx context.Context, schema []byte) error {
	return j.db.Update(ctx, func(tx *Tx) error {
		b, err := tx.Bucket(bucketSchema)
		if err != nil {
			return err
		}
		return errors.Wrap(b.Put(schemaKey, seal(schema)), "putting schema")
	})
}

// ReadObjects calls fn with every stored object in invid order.
func (j *Journal) ReadObjects(ctx context.Context, fn func(invid objectdb.Invid, data []byte) error) error {
	return j.db.View(ctx, func(tx *Tx) error {
		b, err := tx.Bucket(bucketObjects)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			if err := interrupted(ctx); err != nil {
				return err
			}
			invid, err := keyInvid(k)
			if err != nil {
				return err
			}
			payload, err := unseal(v)
			if err != nil {
				return errors.Wrapf(err, "object %s", invid)
			}
			return fn(invid, payload)
		})
	})
}

// LogEntry is a commit as recorded in the log bucket.
type LogEntry struct {
	TxnID       string      `json:"txn"`
	Description string      `json:"description,omitempty"`
	Identity    string      `json:"identity"`
	Time        time.Time   `json:"time"`
	Tick        uint64      `json:"tick"`
	Changes     []LogChange `json:"changes,omitempty"`
	Deletes     []string    `json:"deletes,omitempty"`
}

// LogChange holds the field delta of one stored object.
type LogChange struct {
	Invid string `json:"invid"`
	Delta []byte `json:"delta"`
}

// Commit stores a commit's objects, removes its deletions and appends it to
// the log, all in one bolt transaction.
func (j *Journal) Commit(ctx context.Context, rec *objectdb.JournalRecord) error {
	entry := LogEntry{
		TxnID:       rec.TxnID,
		Description: rec.Description,
		Identity:    rec.Identity,
		Time:        rec.Time,
		Tick:        rec.Tick,
	}
	err := j.db.Update(ctx, func(tx *Tx) error {
		objects, err := tx.Bucket(bucketObjects)
		if err != nil {
			return err
		}
		nums, err := tx.Bucket(bucketNums)
		if err != nil {
			return err
		}
		log, err := tx.Bucket(bucketLog)
		if err != nil {
			return err
		}
		for _, put := range rec.Puts {
			if err := raiseHighWater(nums, put.Invid); err != nil {
				return err
			}
			if err := objects.Put(invidKey(put.Invid), seal(put.Data)); err != nil {
				return errors.Wrapf(err, "putting object %s", put.Invid)
			}
			entry.Changes = append(entry.Changes, LogChange{Invid: put.Invid.String(), Delta: put.Delta})
		}
		for _, del := range rec.Deletes {
			if err := objects.Delete(invidKey(del)); err != nil {
				return errors.Wrapf(err, "deleting object %s", del)
			}
			entry.Deletes = append(entry.Deletes, del.String())
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return errors.Wrap(err, "encoding log entry")
		}
		return errors.Wrap(log.Put(tickKey(rec.Tick), seal(data)), "putting log entry")
	})
	if err != nil {
		return errors.Wrapf(err, "journaling tick %d", rec.Tick)
	}
	j.logger.Debugf("journaled tick %d: %d puts, %d deletes", rec.Tick, len(rec.Puts), len(rec.Deletes))
	return nil
}

// raiseHighWater records invid's number as the highest used in its base if
// it is.
func raiseHighWater(b *bolt.Bucket, invid objectdb.Invid) error {
	var k [2]byte
	binary.BigEndian.PutUint16(k[:], uint16(invid.Base))
	if v := b.Get(k[:]); len(v) == 4 && int32(binary.BigEndian.Uint32(v)) >= invid.Num {
		return nil
	}
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], uint32(invid.Num))
	return errors.Wrapf(b.Put(k[:], v[:]), "raising high water of base %d", invid.Base)
}

// HighWater returns the highest object number committed in each base.
func (j *Journal) HighWater(ctx context.Context) (map[objectdb.BaseID]int32, error) {
	out := make(map[objectdb.BaseID]int32)
	err := j.db.View(ctx, func(tx *Tx) error {
		b, err := tx.Bucket(bucketNums)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			if len(k) != 2 || len(v) != 4 {
				return errors.New(objectdb.ErrIntegrity, fmt.Sprintf("bad object number record %x=%x", k, v))
			}
			out[objectdb.BaseID(binary.BigEndian.Uint16(k))] = int32(binary.BigEndian.Uint32(v))
			return nil
		})
	})
	return out, err
}

// ReadLog calls fn with every log entry after tick since, in tick order.
func (j *Journal) ReadLog(ctx context.Context, since uint64, fn func(*LogEntry) error) error {
	return j.db.View(ctx, func(tx *Tx) error {
		b, err := tx.Bucket(bucketLog)
		if err != nil {
			return err
		}
		c := b.Cursor()
		for k, v := c.Seek(tickKey(since + 1)); k != nil; k, v = c.Next() {
			payload, err := unseal(v)
			if err != nil {
				return errors.Wrapf(err, "log entry %d", binary.BigEndian.Uint64(k))
			}
			var entry LogEntry
			if err := json.Unmarshal(payload, &entry); err != nil {
				return errors.Wrap(err, "decoding log entry")
			}
			if err := fn(&entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// LastTick returns the tick of the newest log entry, or 0.
func (j *Journal) LastTick(ctx context.Context) (tick uint64, err error) {
	err = j.db.View(ctx, func(tx *Tx) error {
		b, err := tx.Bucket(bucketLog)
		if err != nil {
			return err
		}
		if k, _ := b.Cursor().Last(); k != nil {
			tick = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return tick, err
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
