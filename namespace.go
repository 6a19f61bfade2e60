// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

import (
	"sort"
	"strings"
	"sync"
)

// FieldRef names one field of one object.
type FieldRef struct {
	Object Invid   `json:"object"`
	Field  FieldID `json:"field"`
}

func (r FieldRef) IsZero() bool { return r.Object.IsZero() }

// nsHandle tracks one value in a namespace.
type nsHandle struct {
	// value is the committed spelling; pending is the spelling the owner
	// marked, which differs from value after a case-only rename.
	value   interface{}
	pending interface{}

	// original is set when the value is held in the committed state, by
	// persistent.
	original   bool
	persistent FieldRef

	// owner is the transaction that has the handle checked out, or "".
	owner string
	// inuse reports whether the value is held in the owner's view (or, with
	// no owner, in the committed state), by shadow when checked out.
	inuse  bool
	shadow FieldRef
}

func (h *nsHandle) holder() FieldRef {
	if h.owner != "" {
		return h.shadow
	}
	return h.persistent
}

// Namespace enforces uniqueness of values across every field bound to it.
//
// Values claimed or released by a transaction are checked out to it until
// the transaction commits or aborts, so no other transaction can take a
// value that is only provisionally free, and no transaction sees another's
// provisional claims.
type Namespace struct {
	name            string
	caseInsensitive bool

	mu      sync.Mutex
	handles map[string]*nsHandle
	byTxn   map[string]map[string]struct{}
}

// NamespaceDef describes a namespace for schema edits and persistence.
type NamespaceDef struct {
	Name            string `json:"name"`
	CaseInsensitive bool   `json:"caseInsensitive,omitempty"`
}

// NewNamespace returns an empty namespace.
func NewNamespace(name string, caseInsensitive bool) *Namespace {
	return &Namespace{
		name:            name,
		caseInsensitive: caseInsensitive,
		handles:         make(map[string]*nsHandle),
		byTxn:           make(map[string]map[string]struct{}),
	}
}

func (ns *Namespace) Name() string          { return ns.name }
func (ns *Namespace) CaseInsensitive() bool { return ns.caseInsensitive }

func (ns *Namespace) Def() NamespaceDef {
	return NamespaceDef{Name: ns.name, CaseInsensitive: ns.caseInsensitive}
}

// key maps a value to its handle key. Values of different types never
// collide because the type is part of the key.
func (ns *Namespace) key(v interface{}) string {
	var k string
	switch x := v.(type) {
	case string:
		k = "s:" + x
		if ns.caseInsensitive {
			k = "s:" + strings.ToLower(x)
		}
	case int64:
		k = "i:" + integerKind{}.key(x)
	case Invid:
		k = "o:" + x.String()
	case []byte:
		k = "b:" + string(x)
	default:
		k = "?:" + dateKind{}.key(v)
	}
	return k
}

func (ns *Namespace) track(txn, k string) {
	set, ok := ns.byTxn[txn]
	if !ok {
		set = make(map[string]struct{})
		ns.byTxn[txn] = set
	}
	set[k] = struct{}{}
}

// TestMark reports whether v is free for txn or already claimed by txn
// itself. It is false while the value is held in the committed state or
// checked out to another transaction.
func (ns *Namespace) TestMark(txn string, v interface{}) bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	h, ok := ns.handles[ns.key(v)]
	if !ok {
		return true
	}
	if h.owner != "" {
		return h.owner == txn
	}
	return !h.inuse
}

// IsFree reports whether Mark would succeed for v in txn: no field holds it
// in txn's view and no other transaction has it checked out.
func (ns *Namespace) IsFree(txn string, v interface{}) bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.canMark(txn, ns.key(v))
}

func (ns *Namespace) canMark(txn, k string) bool {
	h, ok := ns.handles[k]
	if !ok {
		return true
	}
	if h.owner != "" && h.owner != txn {
		return false
	}
	return !h.inuse
}

// Mark claims v for ref within txn. It fails if any field, ref included,
// holds the value in txn's view, or if the value is checked out to another
// transaction. Callers release a field's old value before marking its new
// one.
func (ns *Namespace) Mark(txn string, v interface{}, ref FieldRef) bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	k := ns.key(v)
	if !ns.canMark(txn, k) {
		return false
	}
	h, ok := ns.handles[k]
	if !ok {
		h = &nsHandle{value: v}
		ns.handles[k] = h
	}
	if h.owner == "" {
		h.owner = txn
		ns.track(txn, k)
	}
	h.inuse = true
	h.shadow = ref
	h.pending = v
	return true
}

// Unmark releases v within txn. The handle stays checked out to txn so no
// other transaction can claim the value before txn finishes. It fails if
// the value is checked out to another transaction.
func (ns *Namespace) Unmark(txn string, v interface{}, ref FieldRef) bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	k := ns.key(v)
	h, ok := ns.handles[k]
	if !ok {
		return false
	}
	if h.owner != "" && h.owner != txn {
		return false
	}
	if h.owner == "" {
		h.owner = txn
		ns.track(txn, k)
	}
	h.inuse = false
	h.shadow = FieldRef{}
	return true
}

// Commit makes txn's claims and releases permanent.
func (ns *Namespace) Commit(txn string) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	for k := range ns.byTxn[txn] {
		h := ns.handles[k]
		if h == nil || h.owner != txn {
			continue
		}
		if h.inuse {
			h.original = true
			h.persistent = h.shadow
			h.value = h.pending
			h.owner = ""
			h.shadow = FieldRef{}
			h.pending = nil
		} else {
			delete(ns.handles, k)
		}
	}
	delete(ns.byTxn, txn)
}

// Abort discards txn's claims and releases, restoring committed values.
func (ns *Namespace) Abort(txn string) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	for k := range ns.byTxn[txn] {
		ns.revert(txn, k)
	}
	delete(ns.byTxn, txn)
}

func (ns *Namespace) revert(txn, k string) {
	h := ns.handles[k]
	if h == nil || h.owner != txn {
		return
	}
	if h.original {
		h.owner = ""
		h.inuse = true
		h.shadow = FieldRef{}
		h.pending = nil
	} else {
		delete(ns.handles, k)
	}
}

// Lookup returns the field holding v in txn's view. Pass "" for the
// committed view.
func (ns *Namespace) Lookup(txn string, v interface{}) (FieldRef, bool) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	h, ok := ns.handles[ns.key(v)]
	if !ok {
		return FieldRef{}, false
	}
	if h.owner != "" && h.owner == txn {
		if h.inuse {
			return h.shadow, true
		}
		return FieldRef{}, false
	}
	if h.original {
		return h.persistent, true
	}
	return FieldRef{}, false
}

// Holder returns the field holding v from the point of view of whoever has
// the handle, for conflict messages.
func (ns *Namespace) Holder(v interface{}) (FieldRef, bool) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	h, ok := ns.handles[ns.key(v)]
	if !ok {
		return FieldRef{}, false
	}
	return h.holder(), true
}

// Pending returns the number of handles checked out to txn.
func (ns *Namespace) Pending(txn string) int {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return len(ns.byTxn[txn])
}

// Values returns the committed values in key order.
func (ns *Namespace) Values() []interface{} {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	keys := make([]string, 0, len(ns.handles))
	for k, h := range ns.handles {
		if h.original {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		out = append(out, ns.handles[k].value)
	}
	return out
}

// reserve records v as held by ref in the committed state while the store
// loads. It reports false if another field already holds v.
func (ns *Namespace) reserve(v interface{}, ref FieldRef) bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	k := ns.key(v)
	if h, ok := ns.handles[k]; ok && h.persistent != ref {
		return false
	}
	ns.handles[k] = &nsHandle{value: v, original: true, persistent: ref, inuse: true}
	return true
}

// clear drops every committed value. Used when a schema edit rebuilds the
// namespace bindings.
func (ns *Namespace) clear() {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.handles = make(map[string]*nsHandle)
	ns.byTxn = make(map[string]map[string]struct{})
}

// nsSnapshot is the state of the handles a transaction has checked out.
type nsSnapshot map[string]nsHandle

// snapshot captures txn's checked out handles for a checkpoint.
func (ns *Namespace) snapshot(txn string) nsSnapshot {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	snap := make(nsSnapshot, len(ns.byTxn[txn]))
	for k := range ns.byTxn[txn] {
		if h := ns.handles[k]; h != nil {
			snap[k] = *h
		}
	}
	return snap
}

// restore returns txn's handles to a snapshot. Handles checked out since the
// snapshot revert to their committed state.
func (ns *Namespace) restore(txn string, snap nsSnapshot) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	for k := range ns.byTxn[txn] {
		if saved, ok := snap[k]; ok {
			h := saved
			ns.handles[k] = &h
			continue
		}
		ns.revert(txn, k)
		delete(ns.byTxn[txn], k)
	}
}
