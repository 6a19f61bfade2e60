// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/featurebasedb/objectdb/errors"
)

type objectStatus uint8

const (
	statusCommitted objectStatus = iota
	statusCreating
	statusEditing
	statusDeleting
	// statusDropping marks an object created and then deleted in the same
	// transaction; it is never published.
	statusDropping
)

func (s objectStatus) String() string {
	return [...]string{"committed", "creating", "editing", "deleting", "dropping"}[s]
}

// Object is an instance of an object base.
//
// Committed objects are immutable and shared by every reader. Editing checks
// out a shadow copy owned by one transaction; the shadow replaces the
// committed object when the transaction commits.
type Object struct {
	base   *ObjectBase
	id     Invid
	fields []*Field // parallel to base.fields

	editset *EditSet
	status  objectStatus
	// tick is the store tick of the commit that published this version.
	tick uint64
}

// newShadow returns an empty shadow object for a new instance.
func newShadow(base *ObjectBase, num int32, es *EditSet) *Object {
	obj := &Object{
		base:    base,
		id:      Invid{Base: base.id, Num: num},
		editset: es,
		status:  statusCreating,
	}
	obj.fields = make([]*Field, len(base.fields))
	for i, fd := range base.fields {
		obj.fields[i] = &Field{owner: obj, def: fd}
	}
	return obj
}

// shadowCopy returns an editable copy of a committed object owned by es.
func (o *Object) shadowCopy(es *EditSet) *Object {
	obj := &Object{
		base:    o.base,
		id:      o.id,
		editset: es,
		status:  statusEditing,
		tick:    o.tick,
	}
	obj.fields = make([]*Field, len(o.base.fields))
	for i, fd := range o.base.fields {
		nf := &Field{owner: obj, def: fd}
		if i < len(o.fields) && o.fields[i] != nil {
			nf.copyValuesFrom(o.fields[i])
		}
		obj.fields[i] = nf
	}
	return obj
}

// committedCopy returns the immutable version of a shadow, with undefined
// fields dropped.
func (o *Object) committedCopy(tick uint64) *Object {
	obj := &Object{
		base: o.base,
		id:   o.id,
		tick: tick,
	}
	obj.fields = make([]*Field, len(o.base.fields))
	for i, f := range o.fields {
		if f == nil || !f.IsDefined() {
			continue
		}
		nf := &Field{owner: obj, def: f.def}
		nf.copyValuesFrom(f)
		obj.fields[i] = nf
	}
	return obj
}

// rebase returns a committed copy of o laid out for base nb. Values of
// fields nb no longer defines are dropped.
func (o *Object) rebase(nb *ObjectBase) *Object {
	obj := &Object{base: nb, id: o.id, tick: o.tick}
	obj.fields = make([]*Field, len(nb.fields))
	for i, fd := range nb.fields {
		old := o.Field(fd.ID)
		if old == nil {
			continue
		}
		nf := &Field{owner: obj, def: fd}
		nf.copyValuesFrom(old)
		obj.fields[i] = nf
	}
	return obj
}

func (o *Object) Invid() Invid      { return o.id }
func (o *Object) Base() *ObjectBase { return o.base }
func (o *Object) Hook() ObjectHook  { return o.base.hook }
func (o *Object) Tick() uint64      { return o.tick }
func (o *Object) IsCommitted() bool { return o.status == statusCommitted }
func (o *Object) IsNew() bool       { return o.status == statusCreating }
func (o *Object) IsDeleting() bool  { return o.status == statusDeleting || o.status == statusDropping }

// Session returns the session editing o, or nil for committed objects.
func (o *Object) Session() *Session {
	if o.editset == nil {
		return nil
	}
	return o.editset.session
}

// EditSet returns the transaction editing o, or nil for committed objects.
func (o *Object) EditSet() *EditSet { return o.editset }

// Field returns field id of o. It returns nil when the base has no such
// field, and also for undefined fields of committed objects.
func (o *Object) Field(id FieldID) *Field {
	i, ok := o.base.fieldIdx[id]
	if !ok || i >= len(o.fields) {
		return nil
	}
	return o.fields[i]
}

// FieldByName returns the field named name, or nil.
func (o *Object) FieldByName(name string) *Field {
	fd := o.base.FieldByName(name)
	if fd == nil {
		return nil
	}
	return o.Field(fd.ID)
}

// Fields returns the defined fields of o in definition order.
func (o *Object) Fields() []*Field {
	var out []*Field
	for _, f := range o.fields {
		if f != nil && f.IsDefined() {
			out = append(out, f)
		}
	}
	return out
}

// Value returns the value of scalar field id, or nil if it is undefined.
func (o *Object) Value(id FieldID) interface{} {
	f := o.Field(id)
	if f == nil {
		return nil
	}
	return f.Value()
}

// Values returns a copy of the values of vector field id.
func (o *Object) Values(id FieldID) []interface{} {
	f := o.Field(id)
	if f == nil {
		return nil
	}
	return f.Values()
}

// String returns the value of scalar string field id, or "".
func (o *Object) String(id FieldID) string {
	s, _ := o.Value(id).(string)
	return s
}

// Invids returns the values of invid field id, scalar or vector.
func (o *Object) Invids(id FieldID) []Invid {
	f := o.Field(id)
	if f == nil {
		return nil
	}
	if !f.def.Vector {
		if v, ok := f.value.(Invid); ok {
			return []Invid{v}
		}
		return nil
	}
	out := make([]Invid, 0, len(f.values))
	for _, v := range f.values {
		out = append(out, v.(Invid))
	}
	return out
}

// Owners returns the owner groups of a non-embedded object.
func (o *Object) Owners() []Invid { return o.Invids(OwnerListField) }

// Container returns the object containing an embedded object.
func (o *Object) Container() Invid {
	v, _ := o.Value(ContainerField).(Invid)
	return v
}

// Time returns the value of date field id.
func (o *Object) Time(id FieldID) (time.Time, bool) {
	t, ok := o.Value(id).(time.Time)
	return t, ok
}

// Label returns the object's label field, or a generated label.
func (o *Object) Label() string {
	if o.base.labelField != NoField {
		if f := o.Field(o.base.labelField); f != nil && f.IsDefined() {
			return f.Display()
		}
	}
	return fmt.Sprintf("%s[%d]", o.base.name, o.id.Num)
}

func (o *Object) markCommitted() {
	o.status = statusCommitted
	o.editset = nil
}

const objectRecordVersion = 1

// MarshalBinary encodes the defined fields of o. Each field is written as a
// length-prefixed block so records survive fields being dropped from the
// schema.
func (o *Object) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(objectRecordVersion)
	emitVarint(&buf, int64(o.id.Base))
	emitVarint(&buf, int64(o.id.Num))
	emitUvarint(&buf, o.tick)
	defined := o.Fields()
	emitUvarint(&buf, uint64(len(defined)))
	for _, f := range defined {
		emitVarint(&buf, int64(f.def.ID))
		emitBytes(&buf, f.Emit())
	}
	return buf.Bytes(), nil
}

// unmarshalObject decodes a record written by MarshalBinary into a
// committed object of base.
func unmarshalObject(base *ObjectBase, data []byte) (*Object, error) {
	r := bytes.NewReader(data)
	v, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, "reading record version")
	}
	if v != objectRecordVersion {
		return nil, errors.New(ErrIntegrity, fmt.Sprintf("unknown object record version %d", v))
	}
	b, err := binary.ReadVarint(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading base")
	}
	num, err := binary.ReadVarint(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading number")
	}
	if BaseID(b) != base.id {
		return nil, errors.New(ErrIntegrity, fmt.Sprintf("record for base %d loaded into base %d", b, base.id))
	}
	tick, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading tick")
	}
	obj := &Object{base: base, id: Invid{Base: base.id, Num: int32(num)}, tick: tick}
	obj.fields = make([]*Field, len(base.fields))
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading field count")
	}
	for i := uint64(0); i < n; i++ {
		id, err := binary.ReadVarint(r)
		if err != nil {
			return nil, errors.Wrap(err, "reading field id")
		}
		block, err := receiveBytes(r)
		if err != nil {
			return nil, errors.Wrapf(err, "reading field %d", id)
		}
		idx, ok := base.fieldIdx[FieldID(id)]
		if !ok {
			// dropped from the schema
			continue
		}
		f := &Field{owner: obj, def: base.fields[idx]}
		if err := f.Receive(block); err != nil {
			return nil, errors.Wrapf(err, "decoding field %d of %s", id, obj.id)
		}
		obj.fields[idx] = f
	}
	return obj, nil
}
