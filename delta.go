// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

import (
	"bytes"
	"encoding/binary"

	"github.com/featurebasedb/objectdb/errors"
)

const (
	deltaReplace byte = iota
	deltaVector
)

// EmitDelta encodes the change from prev to f. Vector fields encode the
// values removed and added; scalars encode the new value. A nil prev is an
// empty field.
func (f *Field) EmitDelta(prev *Field) []byte {
	var buf bytes.Buffer
	if !f.def.Vector {
		buf.WriteByte(deltaReplace)
		buf.Write(f.Emit())
		return buf.Bytes()
	}
	k := f.def.kind()
	var old []interface{}
	if prev != nil {
		old = prev.values
	}
	var dels, adds []interface{}
	for _, v := range old {
		if f.indexOfNormalized(v) < 0 {
			dels = append(dels, v)
		}
	}
	for _, v := range f.values {
		found := false
		for _, o := range old {
			if k.equal(o, v) {
				found = true
				break
			}
		}
		if !found {
			adds = append(adds, v)
		}
	}
	buf.WriteByte(deltaVector)
	emitUvarint(&buf, uint64(len(dels)))
	for _, v := range dels {
		k.emit(&buf, v)
	}
	emitUvarint(&buf, uint64(len(adds)))
	for _, v := range adds {
		k.emit(&buf, v)
	}
	return buf.Bytes()
}

// ReceiveDelta applies a delta produced by EmitDelta. Like Receive it
// bypasses every check.
func (f *Field) ReceiveDelta(data []byte) error {
	if len(data) == 0 {
		return errors.New(ErrIntegrity, "empty delta")
	}
	switch data[0] {
	case deltaReplace:
		return f.Receive(data[1:])
	case deltaVector:
	default:
		return errors.New(ErrIntegrity, "unknown delta kind")
	}
	if !f.def.Vector {
		return errors.New(ErrTypeMismatch, "vector delta for scalar field "+f.def.Name)
	}
	r := bytes.NewReader(data[1:])
	k := f.def.kind()
	read := func() ([]interface{}, error) {
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, errors.Wrap(err, "reading delta size")
		}
		if n > uint64(r.Len()) {
			return nil, errors.New(ErrIntegrity, "delta size exceeds record")
		}
		out := make([]interface{}, 0, n)
		for i := uint64(0); i < n; i++ {
			v, err := k.receive(r)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	dels, err := read()
	if err != nil {
		return err
	}
	adds, err := read()
	if err != nil {
		return err
	}
	for _, v := range dels {
		if i := f.indexOfNormalized(v); i >= 0 {
			f.values = append(f.values[:i:i], f.values[i+1:]...)
		}
	}
	for _, v := range adds {
		if f.indexOfNormalized(v) < 0 {
			f.values = append(f.values, v)
		}
	}
	return nil
}

// Delta encodes the fields of o that differ from prev. A nil prev encodes
// every defined field.
func (o *Object) Delta(prev *Object) []byte {
	var buf bytes.Buffer
	type entry struct {
		id   FieldID
		data []byte
	}
	var changed []entry
	for i, f := range o.fields {
		fd := o.base.fields[i]
		var pf *Field
		if prev != nil {
			pf = prev.Field(fd.ID)
		}
		if f == nil {
			f = &Field{owner: o, def: fd}
		}
		if fieldsEqual(f, pf) {
			continue
		}
		changed = append(changed, entry{id: fd.ID, data: f.EmitDelta(pf)})
	}
	emitUvarint(&buf, uint64(len(changed)))
	for _, e := range changed {
		emitVarint(&buf, int64(e.id))
		emitBytes(&buf, e.data)
	}
	return buf.Bytes()
}

// ApplyDelta returns a copy of o with a delta from Delta applied. Fields
// the base no longer defines are skipped.
func (o *Object) ApplyDelta(data []byte) (*Object, error) {
	out := o.committedCopy(o.tick)
	for i, fd := range out.base.fields {
		if out.fields[i] == nil {
			out.fields[i] = &Field{owner: out, def: fd}
		}
	}
	r := bytes.NewReader(data)
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading delta count")
	}
	for j := uint64(0); j < n; j++ {
		id, err := binary.ReadVarint(r)
		if err != nil {
			return nil, errors.Wrap(err, "reading field id")
		}
		block, err := receiveBytes(r)
		if err != nil {
			return nil, errors.Wrap(err, "reading field delta")
		}
		f := out.Field(FieldID(id))
		if f == nil {
			continue
		}
		if err := f.ReceiveDelta(block); err != nil {
			return nil, errors.Wrapf(err, "field %d", id)
		}
	}
	return out, nil
}

func fieldsEqual(a, b *Field) bool {
	aDef := a != nil && a.IsDefined()
	bDef := b != nil && b.IsDefined()
	if !aDef || !bDef {
		return aDef == bDef
	}
	k := a.def.kind()
	if !a.def.Vector {
		return k.equal(a.value, b.value)
	}
	if len(a.values) != len(b.values) {
		return false
	}
	for i := range a.values {
		if !k.equal(a.values[i], b.values[i]) {
			return false
		}
	}
	return true
}
