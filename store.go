// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/featurebasedb/objectdb/errors"
	"github.com/featurebasedb/objectdb/logger"
)

// JournalObject is the encoded committed state of one object.
// Delta holds the fields changed since the previous version, for the
// commit log.
type JournalObject struct {
	Invid Invid  `json:"invid"`
	Data  []byte `json:"data"`
	Delta []byte `json:"delta,omitempty"`
}

// JournalRecord is everything one commit changed.
type JournalRecord struct {
	TxnID       string          `json:"txn"`
	Description string          `json:"description,omitempty"`
	Identity    string          `json:"identity"`
	Time        time.Time       `json:"time"`
	Tick        uint64          `json:"tick"`
	Puts        []JournalObject `json:"-"`
	Deletes     []Invid         `json:"deletes,omitempty"`
}

// Journal makes commits and schema changes durable. A commit is not
// published until Commit returns without error.
type Journal interface {
	ReadSchema(ctx context.Context) ([]byte, error)
	WriteSchema(ctx context.Context, schema []byte) error
	ReadObjects(ctx context.Context, fn func(invid Invid, data []byte) error) error
	Commit(ctx context.Context, rec *JournalRecord) error
	// LastTick returns the tick of the newest commit, or 0.
	LastTick(ctx context.Context) (uint64, error)
	// HighWater returns the highest object number ever committed in each
	// base, deleted objects included.
	HighWater(ctx context.Context) (map[BaseID]int32, error)
	Close() error
}

// Store is an object database: the schema, the committed objects, the
// namespaces and the lock manager shared by every session.
type Store struct {
	mu         sync.RWMutex
	bases      map[BaseID]*ObjectBase
	namespaces map[string]*Namespace
	hooks      map[BaseID]ObjectHook

	locks   *LockManager
	journal Journal
	logger  logger.Logger
	clock   func() time.Time

	tick uint64

	sessMu   sync.Mutex
	sessions map[string]*Session

	// editingSchema is set while a SchemaEdit is open.
	editingSchema int32

	opened            bool
	pollInterval      time.Duration
	supergashPassword string
}

// StoreOption is a functional option type for Store.
type StoreOption func(s *Store) error

// OptStoreLogger sets the logger.
func OptStoreLogger(l logger.Logger) StoreOption {
	return func(s *Store) error {
		s.logger = l
		return nil
	}
}

// OptStoreJournal sets the journal. Without one the store lives in memory.
func OptStoreJournal(j Journal) StoreOption {
	return func(s *Store) error {
		s.journal = j
		return nil
	}
}

// OptStoreLockPollInterval bounds how long lock waits sleep between checks.
func OptStoreLockPollInterval(d time.Duration) StoreOption {
	return func(s *Store) error {
		s.pollInterval = d
		return nil
	}
}

// OptStoreSupergashPassword sets the password given to the supergash
// persona when a new store is bootstrapped.
func OptStoreSupergashPassword(pw string) StoreOption {
	return func(s *Store) error {
		s.supergashPassword = pw
		return nil
	}
}

// OptStoreClock replaces time.Now for commit timestamps.
func OptStoreClock(fn func() time.Time) StoreOption {
	return func(s *Store) error {
		s.clock = fn
		return nil
	}
}

// OptStoreHook installs the customization hook for base.
func OptStoreHook(base BaseID, hook ObjectHook) StoreOption {
	return func(s *Store) error {
		if hook == nil {
			return errors.New(ErrInvalidDefinition, fmt.Sprintf("nil hook for base %d", base))
		}
		s.hooks[base] = hook
		return nil
	}
}

// NewStore returns a Store. Call Open before use.
func NewStore(opts ...StoreOption) (*Store, error) {
	s := &Store{
		bases:      make(map[BaseID]*ObjectBase),
		namespaces: make(map[string]*Namespace),
		hooks:      make(map[BaseID]ObjectHook),
		sessions:   make(map[string]*Session),
		logger:     logger.NopLogger,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, errors.Wrap(err, "applying option")
		}
	}
	s.locks = NewLockManager(s.pollInterval, s.logger.WithPrefix("locks: "))
	return s, nil
}

// schemaDoc is the persisted form of the schema.
type schemaDoc struct {
	Version    int            `json:"version"`
	Namespaces []NamespaceDef `json:"namespaces"`
	Bases      []*BaseDef     `json:"bases"`
}

// Open loads the schema and objects from the journal, bootstrapping a new
// store when the journal is empty.
func (s *Store) Open(ctx context.Context) error {
	if s.opened {
		return nil
	}
	var doc *schemaDoc
	if s.journal != nil {
		data, err := s.journal.ReadSchema(ctx)
		if err != nil {
			return errors.Wrap(err, "reading schema")
		}
		if data != nil {
			doc = &schemaDoc{}
			if err := json.Unmarshal(data, doc); err != nil {
				return errors.Wrap(err, "decoding schema")
			}
		}
	}
	fresh := doc == nil
	if fresh {
		doc = builtinSchema()
	}
	bases, namespaces, err := s.buildSchema(doc)
	if err != nil {
		return errors.Wrap(err, "building schema")
	}
	s.mu.Lock()
	s.bases = bases
	s.namespaces = namespaces
	s.mu.Unlock()

	if !fresh {
		if err := s.loadObjects(ctx); err != nil {
			return errors.Wrap(err, "loading objects")
		}
	}
	s.reindexNamespaces()
	tick := uint64(1)
	if s.journal != nil {
		last, err := s.journal.LastTick(ctx)
		if err != nil {
			return errors.Wrap(err, "reading last tick")
		}
		if last > tick {
			tick = last
		}
	}
	atomic.StoreUint64(&s.tick, tick)
	s.opened = true

	if fresh {
		if err := s.saveSchema(ctx); err != nil {
			return errors.Wrap(err, "saving schema")
		}
		if err := s.bootstrap(ctx); err != nil {
			return errors.Wrap(err, "bootstrapping")
		}
	}
	s.logger.Infof("opened store with %d bases", len(bases))
	return nil
}

func (s *Store) buildSchema(doc *schemaDoc) (map[BaseID]*ObjectBase, map[string]*Namespace, error) {
	namespaces := make(map[string]*Namespace, len(doc.Namespaces))
	for _, nd := range doc.Namespaces {
		if _, ok := namespaces[nd.Name]; ok {
			return nil, nil, errors.New(ErrNamespaceExists, fmt.Sprintf("namespace '%s' defined twice", nd.Name))
		}
		namespaces[nd.Name] = NewNamespace(nd.Name, nd.CaseInsensitive)
	}
	bases := make(map[BaseID]*ObjectBase, len(doc.Bases))
	for _, bd := range doc.Bases {
		if _, ok := bases[bd.ID]; ok {
			return nil, nil, errors.New(ErrBaseExists, fmt.Sprintf("base %d defined twice", bd.ID))
		}
		b, err := newObjectBase(bd)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "base '%s'", bd.Name)
		}
		for _, fd := range b.fields {
			if fd.Namespace != "" && namespaces[fd.Namespace] == nil {
				return nil, nil, errors.New(ErrUnknownNamespace, fmt.Sprintf("field '%s' of base '%s' uses unknown namespace '%s'", fd.Name, b.name, fd.Namespace))
			}
		}
		b.hook = s.hookFor(b.id)
		bases[bd.ID] = b
	}
	return bases, namespaces, nil
}

func (s *Store) hookFor(id BaseID) ObjectHook {
	if h, ok := s.hooks[id]; ok {
		return h
	}
	if h := builtinHook(id); h != nil {
		return h
	}
	return DefaultHook{}
}

func (s *Store) loadObjects(ctx context.Context) error {
	n := 0
	err := s.journal.ReadObjects(ctx, func(invid Invid, data []byte) error {
		base := s.base(invid.Base)
		if base == nil {
			s.logger.Errorf("skipping object %s of unknown base", invid)
			return nil
		}
		obj, err := unmarshalObject(base, data)
		if err != nil {
			return errors.Wrapf(err, "object %s", invid)
		}
		base.load(obj)
		n++
		return nil
	})
	if err != nil {
		return err
	}
	marks, err := s.journal.HighWater(ctx)
	if err != nil {
		return errors.Wrap(err, "reading object numbers")
	}
	for id, num := range marks {
		if base := s.base(id); base != nil {
			base.reserveNum(num)
		}
	}
	s.logger.Debugf("loaded %d objects", n)
	return nil
}

// reindexNamespaces rebuilds every namespace's committed values from the
// objects.
func (s *Store) reindexNamespaces() {
	for _, ns := range s.namespaceList() {
		ns.clear()
	}
	for _, base := range s.Bases() {
		for _, obj := range base.Objects() {
			for _, f := range obj.Fields() {
				if f.def.Namespace == "" {
					continue
				}
				ns := s.namespace(f.def.Namespace)
				vals := f.values
				if !f.def.Vector {
					vals = []interface{}{f.value}
				}
				for _, v := range vals {
					if !ns.reserve(v, f.Ref()) {
						s.logger.Errorf("namespace %s: value '%v' of %s is already held elsewhere", ns.name, v, obj.id)
					}
				}
			}
		}
	}
}

func (s *Store) schemaDoc() *schemaDoc {
	doc := &schemaDoc{Version: 1}
	for _, ns := range s.namespaceList() {
		doc.Namespaces = append(doc.Namespaces, ns.Def())
	}
	for _, b := range s.Bases() {
		doc.Bases = append(doc.Bases, b.Def())
	}
	return doc
}

func (s *Store) saveSchema(ctx context.Context) error {
	if s.journal == nil {
		return nil
	}
	data, err := json.Marshal(s.schemaDoc())
	if err != nil {
		return errors.Wrap(err, "encoding schema")
	}
	return s.journal.WriteSchema(ctx, data)
}

// Close aborts open transactions and closes the journal.
func (s *Store) Close() error {
	s.sessMu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessMu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
	s.opened = false
	if s.journal != nil {
		return s.journal.Close()
	}
	return nil
}

func (s *Store) now() time.Time { return s.clock().UTC() }

func (s *Store) nextTick() uint64 { return atomic.AddUint64(&s.tick, 1) }

// CurrentTick returns the store's modification counter.
func (s *Store) CurrentTick() uint64 { return atomic.LoadUint64(&s.tick) }

// Locks returns the store's lock manager.
func (s *Store) Locks() *LockManager { return s.locks }

// Logger returns the store's logger.
func (s *Store) Logger() logger.Logger { return s.logger }

func (s *Store) base(id BaseID) *ObjectBase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bases[id]
}

// Base returns base id, or nil.
func (s *Store) Base(id BaseID) *ObjectBase { return s.base(id) }

// BaseByName returns the base named name, or nil.
func (s *Store) BaseByName(name string) *ObjectBase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.bases {
		if b.name == name {
			return b
		}
	}
	return nil
}

// Bases returns every base in id order.
func (s *Store) Bases() []*ObjectBase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ObjectBase, 0, len(s.bases))
	for _, b := range s.bases {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (s *Store) baseIDs() []BaseID {
	bases := s.Bases()
	out := make([]BaseID, len(bases))
	for i, b := range bases {
		out[i] = b.id
	}
	return out
}

// committed returns the committed version of invid, or nil.
func (s *Store) committed(invid Invid) *Object {
	b := s.base(invid.Base)
	if b == nil {
		return nil
	}
	return b.Object(invid.Num)
}

func (s *Store) namespace(name string) *Namespace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.namespaces[name]
}

// Namespace returns the namespace named name, or nil.
func (s *Store) Namespace(name string) *Namespace { return s.namespace(name) }

func (s *Store) namespaceList() []*Namespace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Namespace, 0, len(s.namespaces))
	for _, ns := range s.namespaces {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (s *Store) addSession(sess *Session) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	s.sessions[sess.id] = sess
	MetricSessions.Inc()
}

func (s *Store) removeSession(sess *Session) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if _, ok := s.sessions[sess.id]; ok {
		delete(s.sessions, sess.id)
		MetricSessions.Dec()
	}
}

// BaseStatus summarizes one base.
type BaseStatus struct {
	ID           BaseID `json:"id"`
	Name         string `json:"name"`
	Objects      int    `json:"objects"`
	LastModified uint64 `json:"lastModified"`
}

// StoreStatus summarizes the store for the status endpoint.
type StoreStatus struct {
	Tick       uint64       `json:"tick"`
	Sessions   int          `json:"sessions"`
	Bases      []BaseStatus `json:"bases"`
	Locks      []LockStatus `json:"locks"`
	Namespaces []string     `json:"namespaces"`
}

// Status returns a summary of the store.
func (s *Store) Status() StoreStatus {
	st := StoreStatus{Tick: s.CurrentTick(), Locks: s.locks.Status()}
	s.sessMu.Lock()
	st.Sessions = len(s.sessions)
	s.sessMu.Unlock()
	for _, b := range s.Bases() {
		st.Bases = append(st.Bases, BaseStatus{ID: b.id, Name: b.name, Objects: b.Len(), LastModified: b.LastModified()})
	}
	for _, ns := range s.namespaceList() {
		st.Namespaces = append(st.Namespaces, ns.name)
	}
	return st
}
