// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

// Symmetric references keep a back pointer on the far object. The far side
// is changed directly, without wizards or finalize hooks, so a link never
// re-enters the mutation that made it.

// link makes remote point back at f's object through f's target field.
func (es *EditSet) link(f *Field, remote Invid, local bool) *ReturnVal {
	self := f.owner.id
	target, rv := es.editForLink(f, remote, local, true)
	if rv != nil {
		return rv
	}
	tf, rv := es.backField(f, target)
	if rv != nil {
		return rv
	}
	out := Success().AddRescanField(remote, tf.def.ID)
	if tf.def.Vector {
		if tf.indexOfNormalized(self) >= 0 {
			return out
		}
		if tf.def.MaxSize > 0 && len(tf.values) >= tf.def.MaxSize {
			return Fail(ErrValidation, "Field full", "can't link %s to %s: field '%s' can hold at most %d values",
				f.owner.Label(), target.Label(), tf.def.Name, tf.def.MaxSize)
		}
		tf.values = append(tf.values, self)
		return out
	}
	if prev, ok := tf.value.(Invid); ok && prev != self {
		// The far side pointed elsewhere; that object loses its link.
		rv := es.dissolve(prev, tf.def.TargetField, remote, local)
		if !rv.OK() {
			return rv
		}
		out = out.Merge(rv)
	}
	tf.value = self
	return out
}

// unlink removes the back pointer to f's object from remote. A remote that
// no longer exists is ignored.
func (es *EditSet) unlink(f *Field, remote Invid, local bool) *ReturnVal {
	target, rv := es.editForLink(f, remote, local, false)
	if rv != nil || target == nil {
		return rv
	}
	tf, rv := es.backField(f, target)
	if rv != nil {
		return rv
	}
	tf.removeRaw(f.owner.id)
	return Success().AddRescanField(remote, tf.def.ID)
}

// dissolve removes value from field of obj, the far end of a link being
// displaced.
func (es *EditSet) dissolve(obj Invid, field FieldID, value Invid, local bool) *ReturnVal {
	committed := es.view(obj)
	if committed == nil || field == NoField {
		return nil
	}
	shadow, rv := es.checkoutForLink(committed, field, local, false)
	if rv != nil {
		return rv
	}
	if f := shadow.Field(field); f != nil {
		f.removeRaw(value)
	}
	return Success().AddRescanField(obj, field)
}

// editForLink returns the shadow of remote for linking. For unlinking a
// missing remote yields (nil, nil).
func (es *EditSet) editForLink(f *Field, remote Invid, local, linking bool) (*Object, *ReturnVal) {
	obj := es.view(remote)
	if obj == nil {
		if !linking {
			return nil, nil
		}
		return nil, Fail(ErrNotFound, "Invalid link", "can't link field '%s' of %s to %s: no such object", f.def.Name, f.owner.Label(), remote)
	}
	if linking && obj.IsDeleting() {
		return nil, Fail(ErrValidation, "Invalid link", "can't link field '%s' of %s to %s: it is being deleted", f.def.Name, f.owner.Label(), obj.Label())
	}
	// The container pointer of an embedded object follows its container.
	trusted := local || f.def.AnonymousLink || f.def.TargetField == ContainerField
	return es.checkoutForLink(obj, f.def.TargetField, trusted, linking)
}

func (es *EditSet) checkoutForLink(obj *Object, field FieldID, trusted, linking bool) (*Object, *ReturnVal) {
	if !trusted && !es.session.GetFieldPerm(obj, field).Editable() {
		verb := "unlink from"
		if linking {
			verb = "link to"
		}
		return nil, Fail(ErrPermissionDenied, "Permissions error", "you don't have permission to %s %s", verb, obj.Label())
	}
	if obj.editset == es {
		return obj, nil
	}
	return es.checkout(obj.id)
}

func (es *EditSet) backField(f *Field, target *Object) (*Field, *ReturnVal) {
	tf := target.Field(f.def.TargetField)
	if tf == nil || tf.def.Type != FieldTypeInvid {
		es.logger.Errorf("field '%s' of base %s links back through field %d, which %s does not have",
			f.def.Name, f.owner.base.name, f.def.TargetField, target.base.name)
		return nil, Fail(ErrIntegrity, "Schema error", "object %s has no reference field %d to link back through", target.Label(), f.def.TargetField)
	}
	return tf, nil
}

// removeRaw drops v from the field without any checks.
func (f *Field) removeRaw(v Invid) {
	if !f.def.Vector {
		if cur, ok := f.value.(Invid); ok && cur == v {
			f.value = nil
		}
		return
	}
	for i, have := range f.values {
		if have.(Invid) == v {
			f.values = append(f.values[:i:i], f.values[i+1:]...)
			return
		}
	}
}
