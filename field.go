// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/featurebasedb/objectdb/errors"
)

// Field is one field of one object. Scalar fields hold a single value, nil
// when undefined; vector fields hold an ordered list of distinct values.
//
// Fields of committed objects are read-only. Fields of a shadow object are
// changed only through the mutators below, which apply every change in the
// same order: editability, type and duplicate checks, validation, the
// wizard hook, namespace marking, the finalize hook and finally the new
// value. A failure at any step leaves the field, its namespace and any
// linked objects as they were.
type Field struct {
	owner  *Object
	def    *FieldDef
	value  interface{}
	values []interface{}
}

func (f *Field) Def() *FieldDef  { return f.def }
func (f *Field) ID() FieldID     { return f.def.ID }
func (f *Field) Name() string    { return f.def.Name }
func (f *Field) Type() FieldType { return f.def.Type }
func (f *Field) Owner() *Object  { return f.owner }
func (f *Field) IsVector() bool  { return f.def.Vector }
func (f *Field) Ref() FieldRef   { return FieldRef{Object: f.owner.id, Field: f.def.ID} }

// IsDefined reports whether the field holds a value.
func (f *Field) IsDefined() bool {
	if f.def.Vector {
		return len(f.values) > 0
	}
	return f.value != nil
}

// Value returns the scalar value, or nil.
func (f *Field) Value() interface{} {
	if f.value == nil {
		return nil
	}
	return f.def.kind().clone(f.value)
}

// Values returns a copy of the vector values.
func (f *Field) Values() []interface{} {
	k := f.def.kind()
	out := make([]interface{}, len(f.values))
	for i, v := range f.values {
		out[i] = k.clone(v)
	}
	return out
}

// Len returns the number of values in a vector field.
func (f *Field) Len() int { return len(f.values) }

// Element returns value i of a vector field.
func (f *Field) Element(i int) interface{} {
	if i < 0 || i >= len(f.values) {
		return nil
	}
	return f.def.kind().clone(f.values[i])
}

// IndexOf returns the position of v in a vector field, or -1.
func (f *Field) IndexOf(v interface{}) int {
	k := f.def.kind()
	nv, ok := k.normalize(v)
	if !ok {
		return -1
	}
	for i, have := range f.values {
		if k.equal(have, nv) {
			return i
		}
	}
	return -1
}

// Contains reports whether a vector field holds v.
func (f *Field) Contains(v interface{}) bool { return f.IndexOf(v) >= 0 }

// Display renders the value for people.
func (f *Field) Display() string {
	k := f.def.kind()
	if !f.def.Vector {
		if f.value == nil {
			return ""
		}
		return k.display(f.value)
	}
	parts := make([]string, len(f.values))
	for i, v := range f.values {
		parts[i] = k.display(v)
	}
	return strings.Join(parts, ", ")
}

// MatchPassword reports whether plain matches a password field.
func (f *Field) MatchPassword(plain string) bool {
	h, ok := f.value.(PasswordHash)
	return ok && matchPassword(h, plain)
}

// Emit encodes the field's value.
func (f *Field) Emit() []byte {
	var buf bytes.Buffer
	k := f.def.kind()
	if f.def.Vector {
		emitUvarint(&buf, uint64(len(f.values)))
		for _, v := range f.values {
			k.emit(&buf, v)
		}
		return buf.Bytes()
	}
	if f.value == nil {
		buf.WriteByte(0)
		return buf.Bytes()
	}
	buf.WriteByte(1)
	k.emit(&buf, f.value)
	return buf.Bytes()
}

// Receive replaces the field's value with one produced by Emit. It is for
// loading; it bypasses every check.
func (f *Field) Receive(data []byte) error {
	r := bytes.NewReader(data)
	k := f.def.kind()
	if f.def.Vector {
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return errors.Wrap(err, "reading vector size")
		}
		if n > uint64(r.Len()) {
			return errors.New(ErrIntegrity, "vector size exceeds record")
		}
		values := make([]interface{}, 0, n)
		for i := uint64(0); i < n; i++ {
			v, err := k.receive(r)
			if err != nil {
				return err
			}
			values = append(values, v)
		}
		f.values = values
		return nil
	}
	present, err := r.ReadByte()
	if err != nil {
		return errors.Wrap(err, "reading presence")
	}
	if present == 0 {
		f.value = nil
		return nil
	}
	v, err := k.receive(r)
	if err != nil {
		return err
	}
	f.value = v
	return nil
}

func (f *Field) copyValuesFrom(o *Field) {
	k := f.def.kind()
	if o.value != nil {
		f.value = k.clone(o.value)
	} else {
		f.value = nil
	}
	if len(o.values) > 0 {
		f.values = make([]interface{}, len(o.values))
		for i, v := range o.values {
			f.values[i] = k.clone(v)
		}
	} else {
		f.values = nil
	}
}

// SetValue sets a scalar field. A nil value clears it.
func (f *Field) SetValue(value interface{}) *ReturnVal {
	return f.setValue(value, false, false)
}

// SetValueLocal sets a scalar field without permission checks or wizards.
// It is meant for hooks and trusted server code.
func (f *Field) SetValueLocal(value interface{}) *ReturnVal {
	return f.setValue(value, true, true)
}

// SetElement replaces value index of a vector field.
func (f *Field) SetElement(index int, value interface{}) *ReturnVal {
	return f.setElement(index, value, false, false)
}

// SetElementLocal is SetElement without permission checks or wizards.
func (f *Field) SetElementLocal(index int, value interface{}) *ReturnVal {
	return f.setElement(index, value, true, true)
}

// AddElement appends a value to a vector field.
func (f *Field) AddElement(value interface{}) *ReturnVal {
	return f.addElement(value, false, false)
}

// AddElementLocal is AddElement without permission checks or wizards.
func (f *Field) AddElementLocal(value interface{}) *ReturnVal {
	return f.addElement(value, true, true)
}

// AddElements appends values to a vector field. Either every value is
// added or none is.
func (f *Field) AddElements(values []interface{}) *ReturnVal {
	return f.addElements(values, false, false, false)
}

// AddElementsLocal is AddElements without permission checks or wizards.
func (f *Field) AddElementsLocal(values []interface{}) *ReturnVal {
	return f.addElements(values, true, true, false)
}

// AddElementsPartial appends the acceptable subset of values and reports
// the rest in the result's dialog. It fails only if nothing is acceptable.
func (f *Field) AddElementsPartial(values []interface{}) *ReturnVal {
	return f.addElements(values, false, false, true)
}

// DeleteElement removes a value from a vector field.
func (f *Field) DeleteElement(value interface{}) *ReturnVal {
	return f.deleteElement(value, false, false)
}

// DeleteElementLocal is DeleteElement without permission checks or wizards.
func (f *Field) DeleteElementLocal(value interface{}) *ReturnVal {
	return f.deleteElement(value, true, true)
}

// DeleteElementAt removes value index from a vector field.
func (f *Field) DeleteElementAt(index int) *ReturnVal {
	if rv := f.checkVector(); rv != nil {
		return rv
	}
	if index < 0 || index >= len(f.values) {
		return f.indexOutOfRange(index)
	}
	return f.deleteElement(f.values[index], false, false)
}

// DeleteElements removes values from a vector field. Every value must be
// present; either all are removed or none is.
func (f *Field) DeleteElements(values []interface{}) *ReturnVal {
	return f.deleteElements(values, false, false)
}

// DeleteElementsLocal is DeleteElements without permission checks or
// wizards.
func (f *Field) DeleteElementsLocal(values []interface{}) *ReturnVal {
	return f.deleteElements(values, true, true)
}

// checkEditable is step one of every mutation.
func (f *Field) checkEditable(local bool) *ReturnVal {
	obj := f.owner
	es := obj.editset
	if es == nil || obj.status == statusCommitted {
		return Fail(ErrObjectNotEditable, "Not editable", "object %s is not checked out for editing", obj.Label())
	}
	if es.closed {
		return Fail(ErrTransactionState, "Transaction closed", "the transaction editing %s has ended", obj.Label())
	}
	if es.committing {
		return Fail(ErrTransactionState, "Transaction committing", "can't change field '%s' of %s while its transaction commits", f.def.Name, obj.Label())
	}
	if f.def.isMetadata() {
		return Fail(ErrPermissionDenied, "Permissions error", "field '%s' is maintained by the server", f.def.Name)
	}
	if local {
		return nil
	}
	if obj.IsDeleting() {
		return Fail(ErrObjectNotEditable, "Not editable", "object %s is being deleted", obj.Label())
	}
	if f.def.ID == ContainerField && obj.base.embedded {
		return Fail(ErrPermissionDenied, "Permissions error", "the container of %s can't be changed directly", obj.Label())
	}
	if !es.session.GetFieldPerm(obj, f.def.ID).Editable() {
		return Fail(ErrPermissionDenied, "Permissions error", "you don't have permission to change field '%s' in object %s", f.def.Name, obj.Label())
	}
	return nil
}

func (f *Field) checkVector() *ReturnVal {
	if !f.def.Vector {
		return Fail(ErrTypeMismatch, "Server error", "field '%s' is not a vector field", f.def.Name)
	}
	return nil
}

func (f *Field) checkScalar() *ReturnVal {
	if f.def.Vector {
		return Fail(ErrTypeMismatch, "Server error", "field '%s' is a vector field", f.def.Name)
	}
	return nil
}

func (f *Field) indexOutOfRange(index int) *ReturnVal {
	return Fail(ErrIndexOutOfRange, "Server error", "index %d is out of range for field '%s' with %d values", index, f.def.Name, len(f.values))
}

// prepare normalizes and validates a single value.
func (f *Field) prepare(value interface{}) (interface{}, *ReturnVal) {
	nv, ok := f.def.kind().normalize(value)
	if !ok {
		return nil, Fail(ErrTypeMismatch, "Type error", "value of type %T is not acceptable for %s field '%s'", value, f.def.Type, f.def.Name)
	}
	if err := f.def.verify(nv); err != nil {
		return nil, &ReturnVal{code: errors.CodeOf(err), err: err, Dialog: &Dialog{Title: "Invalid value", Text: err.Error()}}
	}
	return nv, nil
}

func (f *Field) indexOfNormalized(v interface{}) int {
	k := f.def.kind()
	for i, have := range f.values {
		if k.equal(have, v) {
			return i
		}
	}
	return -1
}

func (f *Field) duplicate(v interface{}) *ReturnVal {
	return Fail(ErrDuplicateValue, "Duplicate value", "field '%s' of %s already contains '%s'", f.def.Name, f.owner.Label(), f.def.kind().display(v))
}

func (f *Field) full() *ReturnVal {
	return Fail(ErrValidation, "Field full", "field '%s' can hold at most %d values", f.def.Name, f.def.MaxSize)
}

// wizard runs the wizard hook. It reports whether the mutation should
// continue.
func (f *Field) wizard(op Op, p1, p2 interface{}, noWizards bool) (*ReturnVal, bool) {
	if noWizards {
		return nil, true
	}
	rv := f.owner.base.hook.WizardHook(f, op, p1, p2)
	if rv == nil {
		return nil, true
	}
	if rv.OK() && rv.DoNormalProcessing {
		return rv, true
	}
	return rv, false
}

func (f *Field) namespace() *Namespace {
	if f.def.Namespace == "" {
		return nil
	}
	return f.owner.editset.store.namespace(f.def.Namespace)
}

func (f *Field) conflict(ns *Namespace, v interface{}) *ReturnVal {
	MetricNamespaceConflicts.Inc()
	holder := "another object"
	if ref, ok := ns.Holder(v); ok && !ref.IsZero() {
		holder = f.owner.editset.describe(ref)
	}
	return Fail(ErrNamespaceConflict, "Value in use",
		"value '%s' for field '%s' of %s is already in use by %s",
		f.def.kind().display(v), f.def.Name, f.owner.Label(), holder)
}

// change is the tail shared by every mutation: namespace marks, symmetric
// links, the finalize hook and the final assignment.
type change struct {
	marks    []interface{}
	unmarks  []interface{}
	links    []Invid
	unlinks  []Invid
	finalize func() *ReturnVal
	commit   func()
}

func (f *Field) apply(c change, local bool, wiz *ReturnVal) *ReturnVal {
	es := f.owner.editset
	ns := f.namespace()
	ref := f.Ref()

	var cp string
	if f.def.symmetric() && len(c.links)+len(c.unlinks) > 0 {
		cp = es.internalCheckpoint()
	}
	var snap nsSnapshot
	if ns != nil && cp == "" {
		snap = ns.snapshot(es.id)
	}
	undo := func() {
		if cp != "" {
			es.rollbackInternal(cp)
		} else if ns != nil {
			ns.restore(es.id, snap)
		}
	}

	if ns != nil {
		for _, v := range c.unmarks {
			if !ns.Unmark(es.id, v, ref) {
				es.logger.Warnf("namespace %s had no claim on '%v' for %s", ns.Name(), v, f.owner.Label())
			}
		}
		for _, v := range c.marks {
			if !ns.Mark(es.id, v, ref) {
				undo()
				return f.conflict(ns, v)
			}
		}
	}

	out := Success().Merge(wiz)
	for _, r := range c.unlinks {
		rv := es.unlink(f, r, local)
		if !rv.OK() {
			undo()
			return rv
		}
		out = out.Merge(rv)
	}
	for _, r := range c.links {
		rv := es.link(f, r, local)
		if !rv.OK() {
			undo()
			return rv
		}
		out = out.Merge(rv)
	}

	rv := c.finalize()
	if !rv.OK() {
		undo()
		return rv
	}
	out = out.Merge(rv)
	if cp != "" {
		es.popInternal(cp)
	}
	c.commit()
	return out
}

func (f *Field) setValue(value interface{}, local, noWizards bool) *ReturnVal {
	if rv := f.checkEditable(local); rv != nil {
		return rv
	}
	if rv := f.checkScalar(); rv != nil {
		return rv
	}
	var nv interface{}
	if value != nil {
		var rv *ReturnVal
		if nv, rv = f.prepare(value); rv != nil {
			return rv
		}
	}
	old := f.value
	k := f.def.kind()
	if old == nil && nv == nil {
		return nil
	}
	if old != nil && nv != nil && k.equal(old, nv) {
		return nil
	}

	wiz, ok := f.wizard(OpSetValue, nv, nil, noWizards)
	if !ok {
		return wiz
	}

	c := change{
		finalize: func() *ReturnVal { return f.owner.base.hook.FinalizeSetValue(f, nv) },
		commit:   func() { f.value = nv },
	}
	if old != nil {
		c.unmarks = []interface{}{old}
	}
	if nv != nil {
		c.marks = []interface{}{nv}
	}
	if f.def.symmetric() {
		if old != nil {
			c.unlinks = []Invid{old.(Invid)}
		}
		if nv != nil {
			c.links = []Invid{nv.(Invid)}
		}
	}
	return f.apply(c, local, wiz)
}

func (f *Field) setElement(index int, value interface{}, local, noWizards bool) *ReturnVal {
	if rv := f.checkEditable(local); rv != nil {
		return rv
	}
	if rv := f.checkVector(); rv != nil {
		return rv
	}
	if index < 0 || index >= len(f.values) {
		return f.indexOutOfRange(index)
	}
	if value == nil {
		return Fail(ErrTypeMismatch, "Type error", "vector field '%s' can't hold a nil value", f.def.Name)
	}
	nv, rv := f.prepare(value)
	if rv != nil {
		return rv
	}
	k := f.def.kind()
	old := f.values[index]
	if k.equal(old, nv) {
		return nil
	}
	if i := f.indexOfNormalized(nv); i >= 0 {
		return f.duplicate(nv)
	}

	wiz, ok := f.wizard(OpSetElement, index, nv, noWizards)
	if !ok {
		return wiz
	}

	c := change{
		unmarks:  []interface{}{old},
		marks:    []interface{}{nv},
		finalize: func() *ReturnVal { return f.owner.base.hook.FinalizeSetElement(f, index, nv) },
		commit:   func() { f.values[index] = nv },
	}
	if f.def.symmetric() {
		c.unlinks = []Invid{old.(Invid)}
		c.links = []Invid{nv.(Invid)}
	}
	return f.apply(c, local, wiz)
}

func (f *Field) addElement(value interface{}, local, noWizards bool) *ReturnVal {
	if rv := f.checkEditable(local); rv != nil {
		return rv
	}
	if rv := f.checkVector(); rv != nil {
		return rv
	}
	if value == nil {
		return Fail(ErrTypeMismatch, "Type error", "vector field '%s' can't hold a nil value", f.def.Name)
	}
	nv, rv := f.prepare(value)
	if rv != nil {
		return rv
	}
	if f.indexOfNormalized(nv) >= 0 {
		return f.duplicate(nv)
	}
	if f.def.MaxSize > 0 && len(f.values) >= f.def.MaxSize {
		return f.full()
	}

	wiz, ok := f.wizard(OpAddElement, nv, nil, noWizards)
	if !ok {
		return wiz
	}

	c := change{
		marks:    []interface{}{nv},
		finalize: func() *ReturnVal { return f.owner.base.hook.FinalizeAddElement(f, nv) },
		commit:   func() { f.values = append(f.values, nv) },
	}
	if f.def.symmetric() {
		c.links = []Invid{nv.(Invid)}
	}
	return f.apply(c, local, wiz)
}

func (f *Field) addElements(values []interface{}, local, noWizards, partial bool) *ReturnVal {
	if rv := f.checkEditable(local); rv != nil {
		return rv
	}
	if rv := f.checkVector(); rv != nil {
		return rv
	}
	if len(values) == 0 {
		return nil
	}

	k := f.def.kind()
	seen := make(map[string]struct{}, len(values))
	var approved []interface{}
	var rejected []string
	reject := func(v interface{}, rv *ReturnVal) *ReturnVal {
		if !partial {
			return rv
		}
		rejected = append(rejected, fmt.Sprintf("%v: %s", v, rv.text()))
		return nil
	}
	for _, v := range values {
		if v == nil {
			if rv := reject(v, Fail(ErrTypeMismatch, "Type error", "vector field '%s' can't hold a nil value", f.def.Name)); rv != nil {
				return rv
			}
			continue
		}
		nv, rv := f.prepare(v)
		if rv != nil {
			if rv := reject(v, rv); rv != nil {
				return rv
			}
			continue
		}
		if _, dup := seen[k.key(nv)]; dup || f.indexOfNormalized(nv) >= 0 {
			if rv := reject(v, f.duplicate(nv)); rv != nil {
				return rv
			}
			continue
		}
		seen[k.key(nv)] = struct{}{}
		approved = append(approved, nv)
	}

	ns := f.namespace()
	if ns != nil {
		var free []interface{}
		for _, nv := range approved {
			if ns.IsFree(f.owner.editset.id, nv) {
				free = append(free, nv)
				continue
			}
			if !partial {
				return f.conflict(ns, nv)
			}
			rejected = append(rejected, fmt.Sprintf("%s: already in use", k.display(nv)))
		}
		approved = free
	}

	if f.def.MaxSize > 0 && len(f.values)+len(approved) > f.def.MaxSize {
		return f.full()
	}
	if len(approved) == 0 {
		return Fail(ErrValidation, "No values added", "none of the values could be added to field '%s':\n%s", f.def.Name, strings.Join(rejected, "\n"))
	}

	wiz, ok := f.wizard(OpAddElements, approved, nil, noWizards)
	if !ok {
		return wiz
	}

	c := change{
		marks:    approved,
		finalize: func() *ReturnVal { return f.owner.base.hook.FinalizeAddElements(f, approved) },
		commit:   func() { f.values = append(f.values, approved...) },
	}
	if f.def.symmetric() {
		for _, nv := range approved {
			c.links = append(c.links, nv.(Invid))
		}
	}
	out := f.apply(c, local, wiz)
	if out.OK() && len(rejected) > 0 {
		out = out.Merge(&ReturnVal{success: true, Dialog: &Dialog{
			Title: "Some values were not added",
			Text:  fmt.Sprintf("%d of %d values were not added to field '%s':\n%s", len(rejected), len(values), f.def.Name, strings.Join(rejected, "\n")),
		}})
	}
	return out
}

func (f *Field) deleteElement(value interface{}, local, noWizards bool) *ReturnVal {
	if rv := f.checkEditable(local); rv != nil {
		return rv
	}
	if rv := f.checkVector(); rv != nil {
		return rv
	}
	nv, ok := f.def.kind().normalize(value)
	if !ok {
		return Fail(ErrTypeMismatch, "Type error", "value of type %T can't be in %s field '%s'", value, f.def.Type, f.def.Name)
	}
	index := f.indexOfNormalized(nv)
	if index < 0 {
		return Fail(ErrValidation, "Value not present", "field '%s' of %s does not contain '%s'", f.def.Name, f.owner.Label(), f.def.kind().display(nv))
	}
	old := f.values[index]

	wiz, proceed := f.wizard(OpDeleteElement, index, old, noWizards)
	if !proceed {
		return wiz
	}

	c := change{
		unmarks:  []interface{}{old},
		finalize: func() *ReturnVal { return f.owner.base.hook.FinalizeDeleteElement(f, index) },
		commit: func() {
			i := f.indexOfNormalized(old)
			if i >= 0 {
				f.values = append(f.values[:i:i], f.values[i+1:]...)
			}
		},
	}
	if f.def.symmetric() {
		c.unlinks = []Invid{old.(Invid)}
	}
	return f.apply(c, local, wiz)
}

func (f *Field) deleteElements(values []interface{}, local, noWizards bool) *ReturnVal {
	if rv := f.checkEditable(local); rv != nil {
		return rv
	}
	if rv := f.checkVector(); rv != nil {
		return rv
	}
	if len(values) == 0 {
		return nil
	}
	k := f.def.kind()
	remove := make(map[string]struct{}, len(values))
	var olds []interface{}
	for _, v := range values {
		nv, ok := k.normalize(v)
		if !ok {
			return Fail(ErrTypeMismatch, "Type error", "value of type %T can't be in %s field '%s'", v, f.def.Type, f.def.Name)
		}
		i := f.indexOfNormalized(nv)
		if i < 0 {
			return Fail(ErrValidation, "Value not present", "field '%s' of %s does not contain '%s'", f.def.Name, f.owner.Label(), k.display(nv))
		}
		if _, dup := remove[k.key(nv)]; dup {
			continue
		}
		remove[k.key(nv)] = struct{}{}
		olds = append(olds, f.values[i])
	}

	wiz, ok := f.wizard(OpDeleteElements, olds, nil, noWizards)
	if !ok {
		return wiz
	}

	c := change{
		unmarks:  olds,
		finalize: func() *ReturnVal { return f.owner.base.hook.FinalizeDeleteElements(f, olds) },
		commit: func() {
			kept := f.values[:0:0]
			for _, v := range f.values {
				if _, gone := remove[k.key(v)]; !gone {
					kept = append(kept, v)
				}
			}
			f.values = kept
		},
	}
	if f.def.symmetric() {
		for _, v := range olds {
			c.unlinks = append(c.unlinks, v.(Invid))
		}
	}
	return f.apply(c, local, wiz)
}

// clear empties the field as part of deleting its object.
func (f *Field) clear() *ReturnVal {
	if !f.IsDefined() {
		return nil
	}
	if f.def.Vector {
		return f.deleteElements(f.Values(), true, true)
	}
	return f.setValue(nil, true, true)
}
