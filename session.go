// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/featurebasedb/objectdb/errors"
	"github.com/featurebasedb/objectdb/logger"
	"github.com/featurebasedb/objectdb/tracing"
	"github.com/google/uuid"
)

// Session is one client's connection to the store: who it is, which
// persona it has assumed, its computed rights and its open transaction.
//
// A Session is used by one goroutine at a time.
type Session struct {
	id     string
	store  *Store
	logger logger.Logger

	mu          sync.Mutex
	username    string
	user        Invid
	persona     Invid
	personaName string
	label       string
	internal    bool
	permState   *permState

	editset *EditSet
	closed  bool
}

func newSession(s *Store, label string) *Session {
	id := uuid.New().String()
	sess := &Session{
		id:     id,
		store:  s,
		label:  label,
		logger: s.logger.WithPrefix(fmt.Sprintf("session %s: ", label)),
	}
	s.addSession(sess)
	return sess
}

// NewInternalSession returns a session with supergash rights for server
// code such as maintenance tasks.
func (s *Store) NewInternalSession(label string) *Session {
	sess := newSession(s, "internal:"+label)
	sess.internal = true
	return sess
}

// Login authenticates name as an end user, or failing that as a persona,
// and returns a new session.
func (s *Store) Login(ctx context.Context, name, password string) (*Session, error) {
	span, _ := tracing.StartSpanFromContext(ctx, "Store.Login")
	defer span.Finish()

	if !s.opened {
		return nil, errors.New(ErrStoreNotOpen, "store is not open")
	}
	bad := errors.New(ErrBadLogin, "bad username or password")
	if user := s.lookupName(NamespaceUsernames, name, UserBase); user != nil {
		if f := user.Field(UserPasswordField); f == nil || !f.MatchPassword(password) {
			return nil, bad
		}
		sess := newSession(s, user.Label())
		sess.username = user.Label()
		sess.user = user.id
		sess.logger.Infof("logged in")
		return sess, nil
	}
	if persona := s.lookupName(NamespacePersonae, name, PersonaBase); persona != nil {
		if f := persona.Field(PersonaPasswordField); f == nil || !f.MatchPassword(password) {
			return nil, bad
		}
		sess := newSession(s, persona.Label())
		sess.persona = persona.id
		sess.personaName = persona.Label()
		sess.username = persona.Label()
		if u, ok := persona.Value(PersonaUserField).(Invid); ok {
			sess.user = u
			if uo := s.committed(u); uo != nil {
				sess.username = uo.Label()
			}
		}
		sess.logger.Infof("logged in as persona")
		return sess, nil
	}
	return nil, bad
}

// lookupName returns the committed object of base holding name in
// namespace ns.
func (s *Store) lookupName(ns, name string, base BaseID) *Object {
	n := s.namespace(ns)
	if n == nil {
		return nil
	}
	ref, ok := n.Lookup("", name)
	if !ok || ref.Object.Base != base {
		return nil
	}
	return s.committed(ref.Object)
}

func (s *Session) ID() string { return s.id }

// lockKey identifies the session to the lock manager.
func (s *Session) lockKey() string { return s.id }

// Identity names the session in commit records and modifier fields.
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.internal:
		return s.label
	case s.personaName != "" && s.personaName != s.username:
		return s.username + ":" + s.personaName
	}
	return s.username
}

// Username returns the logged in user's name.
func (s *Session) Username() string { return s.username }

// Persona returns the active persona, or the zero Invid.
func (s *Session) Persona() Invid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persona
}

func (s *Session) check() error {
	if s.closed {
		return errors.New(ErrSessionClosed, "session is closed")
	}
	return nil
}

// SelectPersona switches the session to the persona named name, which must
// belong to the logged in user. An empty name returns to plain user rights.
// It is refused while a transaction is open.
func (s *Session) SelectPersona(ctx context.Context, name, password string) error {
	if err := s.check(); err != nil {
		return err
	}
	if s.editset != nil {
		return errors.New(ErrTransactionState, "can't change persona with a transaction open")
	}
	if name == "" {
		s.mu.Lock()
		s.persona, s.personaName = Invid{}, ""
		s.mu.Unlock()
		s.resetPerms()
		s.logger.Infof("dropped persona")
		return nil
	}
	persona := s.store.lookupName(NamespacePersonae, name, PersonaBase)
	if persona == nil {
		return errors.New(ErrBadLogin, fmt.Sprintf("no persona named '%s'", name))
	}
	if owner, _ := persona.Value(PersonaUserField).(Invid); owner != s.user || s.user.IsZero() {
		return errors.New(ErrPermissionDenied, fmt.Sprintf("persona '%s' does not belong to %s", name, s.username))
	}
	if f := persona.Field(PersonaPasswordField); f == nil || !f.MatchPassword(password) {
		return errors.New(ErrBadLogin, "bad persona password")
	}
	s.mu.Lock()
	s.persona, s.personaName = persona.id, persona.Label()
	s.mu.Unlock()
	s.resetPerms()
	s.logger.Infof("selected persona %s", persona.Label())
	return nil
}

// defaultOwners returns the owner groups given to objects the session
// creates.
func (s *Session) defaultOwners() []Invid {
	st := s.perms()
	if s.internal {
		return []Invid{SupergashOwnerGroup}
	}
	out := make([]Invid, 0, len(st.groups))
	for g := range st.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out
}

// OpenTransaction starts a transaction. A session has at most one open.
func (s *Session) OpenTransaction(desc string) (*EditSet, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if s.editset != nil {
		return nil, errors.New(ErrTransactionState, "a transaction is already open")
	}
	s.editset = newEditSet(s, desc)
	s.editset.logger.Debugf("opened: %s", desc)
	return s.editset, nil
}

// Transaction returns the open transaction, or nil.
func (s *Session) Transaction() *EditSet { return s.editset }

func (s *Session) txn() (*EditSet, *ReturnVal) {
	if err := s.check(); err != nil {
		return nil, FailError(err)
	}
	if s.editset == nil {
		return nil, FailError(newErrNoTransaction())
	}
	return s.editset, nil
}

// CreateObject creates an object of base in the open transaction.
func (s *Session) CreateObject(base BaseID) (*Object, *ReturnVal) {
	es, rv := s.txn()
	if rv != nil {
		return nil, rv
	}
	return es.createObject(base, false)
}

// CreateObjectLocal creates an object without permission checks.
func (s *Session) CreateObjectLocal(base BaseID) (*Object, *ReturnVal) {
	es, rv := s.txn()
	if rv != nil {
		return nil, rv
	}
	return es.createObject(base, true)
}

// CreateEmbeddedObject creates an embedded object inside container's
// field.
func (s *Session) CreateEmbeddedObject(container Invid, field FieldID) (*Object, *ReturnVal) {
	es, rv := s.txn()
	if rv != nil {
		return nil, rv
	}
	obj, rv := es.editObject(container, false)
	if !rv.OK() {
		return nil, rv
	}
	f := obj.Field(field)
	if f == nil {
		return nil, FailError(newErrUnknownField(obj.base, field))
	}
	if rv := f.checkEditable(false); rv != nil {
		return nil, rv
	}
	return es.createEmbedded(f, false)
}

// EditObject checks invid out for editing. An object is edited by one
// transaction at a time; others get ErrObjectBusy until it commits or
// aborts.
func (s *Session) EditObject(invid Invid) (*Object, *ReturnVal) {
	es, rv := s.txn()
	if rv != nil {
		return nil, rv
	}
	return es.editObject(invid, false)
}

// EditObjectLocal checks invid out without permission checks.
func (s *Session) EditObjectLocal(invid Invid) (*Object, *ReturnVal) {
	es, rv := s.txn()
	if rv != nil {
		return nil, rv
	}
	return es.editObject(invid, true)
}

// ViewObject returns the session's view of invid: its shadow if the open
// transaction has one, else the committed version.
func (s *Session) ViewObject(invid Invid) (*Object, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	obj := s.view(invid)
	if obj == nil {
		return nil, newErrNotFound(invid)
	}
	if !s.GetPerm(obj).Visible() {
		return nil, errors.New(ErrPermissionDenied, fmt.Sprintf("you don't have permission to view %s", invid))
	}
	return obj, nil
}

// DeleteObject deletes invid in the open transaction. References to it are
// unlinked and its namespace values released.
func (s *Session) DeleteObject(invid Invid) *ReturnVal {
	es, rv := s.txn()
	if rv != nil {
		return rv
	}
	return es.deleteObject(invid, false)
}

// DeleteObjectLocal deletes invid without permission checks.
func (s *Session) DeleteObjectLocal(invid Invid) *ReturnVal {
	es, rv := s.txn()
	if rv != nil {
		return rv
	}
	return es.deleteObject(invid, true)
}

func (s *Session) Checkpoint(label string) error {
	es, rv := s.txn()
	if rv != nil {
		return rv.Err()
	}
	return es.Checkpoint(label)
}

func (s *Session) Rollback(label string) error {
	es, rv := s.txn()
	if rv != nil {
		return rv.Err()
	}
	return es.Rollback(label)
}

func (s *Session) PopCheckpoint(label string) error {
	es, rv := s.txn()
	if rv != nil {
		return rv.Err()
	}
	return es.PopCheckpoint(label)
}

// Commit commits the open transaction. A failed ReturnVal with Retry set
// means the transaction is still open and may be fixed and committed again.
func (s *Session) Commit(ctx context.Context) *ReturnVal {
	es, rv := s.txn()
	if rv != nil {
		return rv
	}
	return es.commit(ctx)
}

// Abort abandons the open transaction, if any.
func (s *Session) Abort() *ReturnVal {
	if s.editset == nil {
		return nil
	}
	return s.editset.abort()
}

// Close aborts any open transaction and ends the session.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.Abort()
	s.closed = true
	s.store.removeSession(s)
	s.logger.Debugf("closed")
}

// queryCheckInterval is how many objects a scan visits between checks for
// cancellation.
const queryCheckInterval = 64

// Query returns the objects of base the session can see and pred accepts,
// under a read lock on base. A nil pred accepts everything. If ctx is
// cancelled the scan stops with ErrInterrupted and the open transaction,
// if any, is aborted.
func (s *Session) Query(ctx context.Context, base BaseID, pred func(*Object) bool) ([]*Object, error) {
	span, ctx := tracing.StartSpanFromContext(ctx, "Session.Query")
	defer span.Finish()

	if err := s.check(); err != nil {
		return nil, err
	}
	b := s.store.base(base)
	if b == nil {
		return nil, newErrUnknownBase(base)
	}
	// A lock the session already holds on base covers the scan; taking a
	// second one would be refused or wait on itself.
	if !s.store.locks.Covers(s.lockKey(), base) {
		lock := s.store.locks.NewReadLock(s.lockKey(), base)
		if err := lock.Establish(ctx); err != nil {
			return nil, s.interrupted(err)
		}
		defer lock.Release()
	}

	var out []*Object
	for i, obj := range b.Objects() {
		if i%queryCheckInterval == 0 && ctx.Err() != nil {
			return nil, s.interrupted(newErrInterrupted("query"))
		}
		if shadow := s.view(obj.id); shadow != nil && shadow != obj {
			if shadow.IsDeleting() {
				continue
			}
			obj = shadow
		}
		if !s.GetPerm(obj).Visible() {
			continue
		}
		if pred == nil || pred(obj) {
			out = append(out, obj)
		}
	}
	span.LogKV("results", len(out))
	return out, nil
}

// interrupted aborts the open transaction when err is an interruption.
func (s *Session) interrupted(err error) error {
	if errors.Is(err, ErrInterrupted) && s.editset != nil {
		s.logger.Warnf("aborting transaction: %v", err)
		s.editset.abort()
	}
	return err
}

// DumpRecord is one object in a dump.
type DumpRecord struct {
	Invid  string                 `json:"invid"`
	Base   string                 `json:"base"`
	Label  string                 `json:"label"`
	Tick   uint64                 `json:"tick"`
	Fields map[string]interface{} `json:"fields"`
}

// Dump writes every committed object as a line of JSON under a dump lock on
// every base. Only supergash sessions may dump.
func (s *Session) Dump(ctx context.Context, w io.Writer) error {
	span, ctx := tracing.StartSpanFromContext(ctx, "Session.Dump")
	defer span.Finish()

	if err := s.check(); err != nil {
		return err
	}
	if !s.IsSupergash() {
		return errors.New(ErrPermissionDenied, "only supergash may dump the store")
	}
	lock := s.store.locks.NewDumpLock(s.lockKey(), s.store.baseIDs()...)
	if err := lock.Establish(ctx); err != nil {
		return s.interrupted(err)
	}
	defer lock.Release()

	enc := json.NewEncoder(w)
	n := 0
	for _, b := range s.store.Bases() {
		for _, obj := range b.Objects() {
			if n%queryCheckInterval == 0 && ctx.Err() != nil {
				return s.interrupted(newErrInterrupted("dump"))
			}
			n++
			rec := DumpRecord{
				Invid:  obj.id.String(),
				Base:   b.name,
				Label:  obj.Label(),
				Tick:   obj.tick,
				Fields: make(map[string]interface{}),
			}
			for _, f := range obj.Fields() {
				if f.def.Type == FieldTypePassword {
					continue
				}
				if f.def.Vector {
					vals := make([]string, len(f.values))
					k := f.def.kind()
					for i, v := range f.values {
						vals[i] = k.display(v)
					}
					rec.Fields[f.def.Name] = vals
				} else {
					rec.Fields[f.def.Name] = f.Display()
				}
			}
			if err := enc.Encode(rec); err != nil {
				return errors.Wrap(err, "writing dump")
			}
		}
	}
	s.logger.Infof("dumped %d objects", n)
	return nil
}
