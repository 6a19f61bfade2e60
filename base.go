// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/benbjohnson/immutable"
	"github.com/featurebasedb/objectdb/errors"
)

// ObjectBase is a type of object: a set of field definitions plus the
// committed objects of that type.
//
// Committed objects live in a persistent sorted map. Publishing a commit
// swaps in a new map, so a reader holding an *Object or an iterator never
// sees a partially applied transaction.
type ObjectBase struct {
	id         BaseID
	name       string
	embedded   bool
	labelField FieldID
	comment    string

	fields   []*FieldDef
	fieldIdx map[FieldID]int
	hook     ObjectHook

	mu sync.RWMutex
	// objects holds the committed state.
	objects *immutable.SortedMap[int32, *Object]
	// checkouts maps instance numbers to the transaction editing them.
	checkouts map[int32]string
	maxNum    int32
	// tick is the store tick of the last commit touching this base.
	tick uint64
}

// BaseDef describes a base for schema edits and persistence.
type BaseDef struct {
	ID         BaseID      `json:"id"`
	Name       string      `json:"name"`
	Embedded   bool        `json:"embedded,omitempty"`
	LabelField FieldID     `json:"labelField,omitempty"`
	Comment    string      `json:"comment,omitempty"`
	Fields     []*FieldDef `json:"fields"`
	MaxNum     int32       `json:"maxNum,omitempty"`
}

func newObjectBase(def *BaseDef) (*ObjectBase, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, errors.New(ErrInvalidDefinition, fmt.Sprintf("base %d has no name", def.ID))
	}
	b := &ObjectBase{
		id:         def.ID,
		name:       def.Name,
		embedded:   def.Embedded,
		labelField: def.LabelField,
		comment:    def.Comment,
		fieldIdx:   make(map[FieldID]int),
		hook:       DefaultHook{},
		objects:    immutable.NewSortedMap[int32, *Object](nil),
		checkouts:  make(map[int32]string),
		maxNum:     def.MaxNum,
	}
	for _, fd := range builtinFieldDefs(def.Embedded) {
		if err := b.addField(fd); err != nil {
			return nil, err
		}
	}
	for _, fd := range def.Fields {
		if fd.BuiltIn {
			continue
		}
		if err := b.addField(fd.Clone()); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *ObjectBase) addField(fd *FieldDef) error {
	if err := fd.Validate(); err != nil {
		return err
	}
	if _, ok := b.fieldIdx[fd.ID]; ok {
		return errors.New(ErrFieldExists, fmt.Sprintf("field %d already exists in base '%s'", fd.ID, b.name))
	}
	if b.FieldByName(fd.Name) != nil {
		return errors.New(ErrFieldExists, fmt.Sprintf("field '%s' already exists in base '%s'", fd.Name, b.name))
	}
	b.fieldIdx[fd.ID] = len(b.fields)
	b.fields = append(b.fields, fd)
	return nil
}

// builtinFieldDefs returns the fields every base carries.
func builtinFieldDefs(embedded bool) []*FieldDef {
	var defs []*FieldDef
	if embedded {
		defs = append(defs, &FieldDef{ID: ContainerField, Name: "Containing Object", Type: FieldTypeInvid, TargetBase: AnyBase, BuiltIn: true})
	} else {
		defs = append(defs, &FieldDef{ID: OwnerListField, Name: "Owner list", Type: FieldTypeInvid, Vector: true, TargetBase: OwnerGroupBase, BuiltIn: true})
	}
	return append(defs,
		&FieldDef{ID: ExpirationField, Name: "Expiration Date", Type: FieldTypeDate, BuiltIn: true},
		&FieldDef{ID: RemovalField, Name: "Removal Date", Type: FieldTypeDate, BuiltIn: true},
		&FieldDef{ID: NotesField, Name: "Notes", Type: FieldTypeString, BuiltIn: true},
		&FieldDef{ID: CreationDateField, Name: "Creation Date", Type: FieldTypeDate, BuiltIn: true},
		&FieldDef{ID: CreatorField, Name: "Creator Info", Type: FieldTypeString, BuiltIn: true},
		&FieldDef{ID: ModificationDateField, Name: "Modification Date", Type: FieldTypeDate, BuiltIn: true},
		&FieldDef{ID: ModifierField, Name: "Modifier Info", Type: FieldTypeString, BuiltIn: true},
	)
}

func (b *ObjectBase) ID() BaseID          { return b.id }
func (b *ObjectBase) Name() string        { return b.name }
func (b *ObjectBase) Embedded() bool      { return b.embedded }
func (b *ObjectBase) LabelField() FieldID { return b.labelField }
func (b *ObjectBase) Hook() ObjectHook    { return b.hook }

// Fields returns the field definitions in definition order.
func (b *ObjectBase) Fields() []*FieldDef {
	out := make([]*FieldDef, len(b.fields))
	copy(out, b.fields)
	return out
}

// Field returns the definition of field id, or nil.
func (b *ObjectBase) Field(id FieldID) *FieldDef {
	i, ok := b.fieldIdx[id]
	if !ok {
		return nil
	}
	return b.fields[i]
}

// FieldByName returns the field named name, compared case-insensitively.
func (b *ObjectBase) FieldByName(name string) *FieldDef {
	for _, fd := range b.fields {
		if strings.EqualFold(fd.Name, name) {
			return fd
		}
	}
	return nil
}

// Def returns a description of b suitable for persistence.
func (b *ObjectBase) Def() *BaseDef {
	b.mu.RLock()
	maxNum := b.maxNum
	b.mu.RUnlock()
	def := &BaseDef{
		ID:         b.id,
		Name:       b.name,
		Embedded:   b.embedded,
		LabelField: b.labelField,
		Comment:    b.comment,
		MaxNum:     maxNum,
	}
	for _, fd := range b.fields {
		if !fd.BuiltIn {
			def.Fields = append(def.Fields, fd.Clone())
		}
	}
	return def
}

// Object returns the committed object num, or nil.
func (b *ObjectBase) Object(num int32) *Object {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, _ := b.objects.Get(num)
	return obj
}

// Objects returns a snapshot of the committed objects in number order.
func (b *ObjectBase) Objects() []*Object {
	b.mu.RLock()
	m := b.objects
	b.mu.RUnlock()
	out := make([]*Object, 0, m.Len())
	itr := m.Iterator()
	for !itr.Done() {
		_, obj, _ := itr.Next()
		out = append(out, obj)
	}
	return out
}

// Len returns the number of committed objects.
func (b *ObjectBase) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.objects.Len()
}

// LastModified returns the store tick of the last commit touching b.
func (b *ObjectBase) LastModified() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tick
}

// nextNum allocates an instance number. Numbers are never reused, even when
// the transaction allocating them aborts.
func (b *ObjectBase) nextNum() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxNum++
	return b.maxNum
}

// checkout marks num as being edited by txn. An object is edited by at most
// one transaction at a time.
func (b *ObjectBase) checkout(num int32, txn string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if holder, ok := b.checkouts[num]; ok && holder != txn {
		return errors.New(ErrObjectBusy, fmt.Sprintf("object %s is being edited by another transaction", Invid{Base: b.id, Num: num}))
	}
	b.checkouts[num] = txn
	return nil
}

// checkoutObject checks out num and returns its committed version. Doing
// both under one lock means the version returned is the latest; a commit
// publishing num also drops its checkout in the same critical section.
func (b *ObjectBase) checkoutObject(num int32, txn string) (*Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects.Get(num)
	if !ok {
		return nil, newErrNotFound(Invid{Base: b.id, Num: num})
	}
	if holder, ok := b.checkouts[num]; ok && holder != txn {
		return nil, errors.New(ErrObjectBusy, fmt.Sprintf("object %s is being edited by another transaction", obj.Label()))
	}
	b.checkouts[num] = txn
	return obj, nil
}

func (b *ObjectBase) release(num int32, txn string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.checkouts[num] == txn {
		delete(b.checkouts, num)
	}
}

// checkedOut reports the transaction editing num, if any.
func (b *ObjectBase) checkedOut(num int32) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	txn, ok := b.checkouts[num]
	return txn, ok
}

// publish applies a transaction's changes to the committed state in one
// swap.
func (b *ObjectBase) publish(puts []*Object, deletes []int32, txn string, tick uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.objects
	for _, obj := range puts {
		m = m.Set(obj.id.Num, obj)
		delete(b.checkouts, obj.id.Num)
	}
	for _, num := range deletes {
		m = m.Delete(num)
		delete(b.checkouts, num)
	}
	b.objects = m
	b.tick = tick
}

// load inserts a committed object while the store opens.
func (b *ObjectBase) load(obj *Object) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects = b.objects.Set(obj.id.Num, obj)
	if obj.id.Num > b.maxNum {
		b.maxNum = obj.id.Num
	}
	if obj.tick > b.tick {
		b.tick = obj.tick
	}
}

// reserveNum keeps nextNum from handing out num or anything below it.
func (b *ObjectBase) reserveNum(num int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if num > b.maxNum {
		b.maxNum = num
	}
}

// cloneForSchema returns a copy of b sharing its committed objects, for use
// by a schema edit. The copy's objects still point at b until rebase.
func (b *ObjectBase) cloneForSchema() *ObjectBase {
	b.mu.RLock()
	defer b.mu.RUnlock()
	nb := &ObjectBase{
		id:         b.id,
		name:       b.name,
		embedded:   b.embedded,
		labelField: b.labelField,
		comment:    b.comment,
		fieldIdx:   make(map[FieldID]int, len(b.fieldIdx)),
		hook:       b.hook,
		objects:    b.objects,
		checkouts:  make(map[int32]string),
		maxNum:     b.maxNum,
		tick:       b.tick,
	}
	for _, fd := range b.fields {
		nb.fieldIdx[fd.ID] = len(nb.fields)
		nb.fields = append(nb.fields, fd.Clone())
	}
	return nb
}

// rebase rebuilds the committed objects against b's field definitions after
// a schema edit changed them.
func (b *ObjectBase) rebase() {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := immutable.NewSortedMap[int32, *Object](nil)
	itr := b.objects.Iterator()
	for !itr.Done() {
		num, obj, _ := itr.Next()
		m = m.Set(num, obj.rebase(b))
	}
	b.objects = m
}

// fieldIDs returns the ids of b's fields in ascending order.
func (b *ObjectBase) fieldIDs() []FieldID {
	out := make([]FieldID, 0, len(b.fields))
	for _, fd := range b.fields {
		out = append(out, fd.ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
