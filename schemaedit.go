// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/featurebasedb/objectdb/errors"
	"github.com/featurebasedb/objectdb/logger"
	"github.com/google/uuid"
)

// SchemaEdit changes the schema. It holds a write lock on every base and
// works on copies of the base and namespace tables; Commit swaps the copies
// in at once and Abort drops them.
//
// A schema edit can't begin while any transaction has objects checked out,
// and no object can be checked out while one is in progress.
type SchemaEdit struct {
	store  *Store
	lock   *Lock
	logger logger.Logger

	bases      map[BaseID]*ObjectBase
	namespaces map[string]*Namespace
	closed     bool
}

func (s *Store) schemaEditing() bool {
	return atomic.LoadInt32(&s.editingSchema) != 0
}

// BeginSchemaEdit starts a schema edit. It fails with ErrSchemaEdit if one
// is already running or a transaction has objects checked out, and with
// ErrInterrupted if ctx ends before every base can be locked.
func (s *Store) BeginSchemaEdit(ctx context.Context) (*SchemaEdit, error) {
	if !atomic.CompareAndSwapInt32(&s.editingSchema, 0, 1) {
		return nil, errors.New(ErrSchemaEdit, "a schema edit is already in progress")
	}
	for _, b := range s.Bases() {
		b.mu.RLock()
		busy := len(b.checkouts)
		b.mu.RUnlock()
		if busy > 0 {
			atomic.StoreInt32(&s.editingSchema, 0)
			return nil, errors.New(ErrSchemaEdit, fmt.Sprintf("objects of base '%s' are checked out", b.name))
		}
	}

	lock := s.locks.NewWriteLock("schema:"+uuid.New().String(), s.baseIDs()...)
	if err := lock.Establish(ctx); err != nil {
		atomic.StoreInt32(&s.editingSchema, 0)
		return nil, err
	}

	se := &SchemaEdit{
		store:      s,
		lock:       lock,
		logger:     s.logger.WithPrefix("schema edit: "),
		bases:      make(map[BaseID]*ObjectBase),
		namespaces: make(map[string]*Namespace),
	}
	for _, b := range s.Bases() {
		se.bases[b.id] = b.cloneForSchema()
	}
	for _, ns := range s.namespaceList() {
		se.namespaces[ns.name] = ns
	}
	se.logger.Infof("began")
	return se, nil
}

func (se *SchemaEdit) check() error {
	if se.closed {
		return errors.New(ErrSchemaEdit, "schema edit has ended")
	}
	return nil
}

// Base returns the edited version of base id, or nil.
func (se *SchemaEdit) Base(id BaseID) *ObjectBase { return se.bases[id] }

// CreateBase adds a base. A zero def.ID picks the next free user base id.
func (se *SchemaEdit) CreateBase(def *BaseDef) (*ObjectBase, error) {
	if err := se.check(); err != nil {
		return nil, err
	}
	def = &BaseDef{ID: def.ID, Name: def.Name, Embedded: def.Embedded, LabelField: def.LabelField, Comment: def.Comment, Fields: def.Fields}
	if def.ID == 0 {
		def.ID = FirstUserBase
		for se.bases[def.ID] != nil {
			def.ID++
		}
	} else if def.ID < FirstUserBase {
		return nil, errors.New(ErrSchemaEdit, fmt.Sprintf("base ids below %d are reserved", FirstUserBase))
	}
	if _, ok := se.bases[def.ID]; ok {
		return nil, errors.New(ErrBaseExists, fmt.Sprintf("base %d already exists", def.ID))
	}
	for _, b := range se.bases {
		if b.name == def.Name {
			return nil, errors.New(ErrBaseExists, fmt.Sprintf("base '%s' already exists", def.Name))
		}
	}
	b, err := newObjectBase(def)
	if err != nil {
		return nil, err
	}
	for _, fd := range b.fields {
		if err := se.checkNamespace(fd); err != nil {
			return nil, err
		}
	}
	b.hook = se.store.hookFor(b.id)
	se.bases[b.id] = b
	se.logger.Infof("created base %d '%s'", b.id, b.name)
	return b, nil
}

// DeleteBase removes an empty user base no field refers to.
func (se *SchemaEdit) DeleteBase(id BaseID) error {
	if err := se.check(); err != nil {
		return err
	}
	b := se.bases[id]
	if b == nil {
		return newErrUnknownBase(id)
	}
	if id < FirstUserBase {
		return errors.New(ErrSchemaEdit, fmt.Sprintf("built-in base '%s' can't be deleted", b.name))
	}
	if n := b.Len(); n > 0 {
		return errors.New(ErrSchemaEdit, fmt.Sprintf("base '%s' still has %d objects", b.name, n))
	}
	for _, other := range se.bases {
		if other.id == id {
			continue
		}
		for _, fd := range other.fields {
			if fd.Type == FieldTypeInvid && fd.TargetBase == id {
				return errors.New(ErrSchemaEdit, fmt.Sprintf("field '%s' of base '%s' refers to base '%s'", fd.Name, other.name, b.name))
			}
		}
	}
	delete(se.bases, id)
	se.logger.Infof("deleted base %d '%s'", id, b.name)
	return nil
}

// AddField adds a field to base. A zero fd.ID picks the next free user
// field id.
func (se *SchemaEdit) AddField(base BaseID, fd *FieldDef) (*FieldDef, error) {
	if err := se.check(); err != nil {
		return nil, err
	}
	b := se.bases[base]
	if b == nil {
		return nil, newErrUnknownBase(base)
	}
	fd = fd.Clone()
	if fd.BuiltIn {
		return nil, errors.New(ErrSchemaEdit, "built-in fields can't be added")
	}
	if fd.ID == 0 {
		fd.ID = FirstUserField
		for b.Field(fd.ID) != nil {
			fd.ID++
		}
	} else if fd.ID < FirstUserField {
		return nil, errors.New(ErrSchemaEdit, fmt.Sprintf("field ids below %d are reserved", FirstUserField))
	}
	if err := se.checkNamespace(fd); err != nil {
		return nil, err
	}
	if err := b.addField(fd); err != nil {
		return nil, err
	}
	se.logger.Infof("added field %d '%s' to base '%s'", fd.ID, fd.Name, b.name)
	return fd, nil
}

// DeleteField removes a user field no committed object of base sets.
func (se *SchemaEdit) DeleteField(base BaseID, field FieldID) error {
	if err := se.check(); err != nil {
		return err
	}
	b := se.bases[base]
	if b == nil {
		return newErrUnknownBase(base)
	}
	fd := b.Field(field)
	if fd == nil {
		return newErrUnknownField(b, field)
	}
	if fd.BuiltIn {
		return errors.New(ErrSchemaEdit, fmt.Sprintf("built-in field '%s' can't be deleted", fd.Name))
	}
	for _, obj := range b.Objects() {
		if f := obj.Field(field); f != nil && f.IsDefined() {
			return errors.New(ErrSchemaEdit, fmt.Sprintf("field '%s' is set in %s", fd.Name, obj.Label()))
		}
	}
	i := b.fieldIdx[field]
	b.fields = append(b.fields[:i:i], b.fields[i+1:]...)
	b.fieldIdx = make(map[FieldID]int, len(b.fields))
	for j, d := range b.fields {
		b.fieldIdx[d.ID] = j
	}
	if b.labelField == field {
		b.labelField = NoField
	}
	se.logger.Infof("deleted field %d '%s' from base '%s'", field, fd.Name, b.name)
	return nil
}

// CreateNamespace adds a namespace.
func (se *SchemaEdit) CreateNamespace(name string, caseInsensitive bool) (*Namespace, error) {
	if err := se.check(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errors.New(ErrInvalidDefinition, "namespace has no name")
	}
	if _, ok := se.namespaces[name]; ok {
		return nil, errors.New(ErrNamespaceExists, fmt.Sprintf("namespace '%s' already exists", name))
	}
	ns := NewNamespace(name, caseInsensitive)
	se.namespaces[name] = ns
	return ns, nil
}

// DeleteNamespace removes a namespace no field is bound to.
func (se *SchemaEdit) DeleteNamespace(name string) error {
	if err := se.check(); err != nil {
		return err
	}
	if _, ok := se.namespaces[name]; !ok {
		return errors.New(ErrUnknownNamespace, fmt.Sprintf("namespace '%s' does not exist", name))
	}
	for _, b := range se.bases {
		for _, fd := range b.fields {
			if fd.Namespace == name {
				return errors.New(ErrSchemaEdit, fmt.Sprintf("field '%s' of base '%s' is bound to namespace '%s'", fd.Name, b.name, name))
			}
		}
	}
	delete(se.namespaces, name)
	return nil
}

func (se *SchemaEdit) checkNamespace(fd *FieldDef) error {
	if fd.Namespace != "" && se.namespaces[fd.Namespace] == nil {
		return errors.New(ErrUnknownNamespace, fmt.Sprintf("field '%s' uses unknown namespace '%s'", fd.Name, fd.Namespace))
	}
	return nil
}

// validate checks that every reference field points at a base that exists
// and that symmetric fields point back at each other.
func (se *SchemaEdit) validate() error {
	ids := make([]BaseID, 0, len(se.bases))
	for id := range se.bases {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		b := se.bases[id]
		if b.labelField != NoField && b.Field(b.labelField) == nil {
			return errors.New(ErrInvalidDefinition, fmt.Sprintf("label field %d of base '%s' does not exist", b.labelField, b.name))
		}
		for _, fd := range b.fields {
			if fd.Type != FieldTypeInvid || fd.TargetBase == AnyBase {
				continue
			}
			target := se.bases[fd.TargetBase]
			if target == nil {
				return errors.New(ErrInvalidDefinition, fmt.Sprintf("field '%s' of base '%s' targets missing base %d", fd.Name, b.name, fd.TargetBase))
			}
			if !fd.symmetric() || fd.TargetField == ContainerField {
				continue
			}
			back := target.Field(fd.TargetField)
			if back == nil || back.Type != FieldTypeInvid || back.TargetField != fd.ID || (back.TargetBase != b.id && back.TargetBase != AnyBase) {
				return errors.New(ErrInvalidDefinition, fmt.Sprintf("field '%s' of base '%s' and field %d of base '%s' don't link to each other", fd.Name, b.name, fd.TargetField, target.name))
			}
		}
	}
	return nil
}

// Commit validates the edited schema, makes it durable and swaps it in.
func (se *SchemaEdit) Commit(ctx context.Context) error {
	if err := se.check(); err != nil {
		return err
	}
	if err := se.validate(); err != nil {
		return err
	}
	s := se.store
	for _, b := range se.bases {
		b.rebase()
	}

	s.mu.Lock()
	oldBases, oldNamespaces := s.bases, s.namespaces
	s.bases, s.namespaces = se.bases, se.namespaces
	s.mu.Unlock()

	if err := s.saveSchema(ctx); err != nil {
		s.mu.Lock()
		s.bases, s.namespaces = oldBases, oldNamespaces
		s.mu.Unlock()
		se.logger.Errorf("saving schema failed: %v", err)
		se.Abort()
		return errors.Wrap(errors.New(ErrJournal, err.Error()), "committing schema")
	}
	s.reindexNamespaces()
	s.nextTick()
	se.finish()
	se.logger.Infof("committed")
	return nil
}

// Abort drops the edit.
func (se *SchemaEdit) Abort() {
	if se.closed {
		return
	}
	se.finish()
	se.logger.Infof("aborted")
}

func (se *SchemaEdit) finish() {
	se.closed = true
	se.lock.Release()
	atomic.StoreInt32(&se.store.editingSchema, 0)
}
