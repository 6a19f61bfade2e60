// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

import (
	"fmt"
	"sort"
	"strings"

	"github.com/featurebasedb/objectdb/errors"
)

// PermEntry is the set of rights held over an object or a field.
type PermEntry uint8

const (
	PermVisible PermEntry = 1 << iota
	PermEditable
	PermCreate
	PermDelete

	PermNone PermEntry = 0
	PermFull           = PermVisible | PermEditable | PermCreate | PermDelete
)

// NewPermEntry builds a PermEntry from its four flags.
func NewPermEntry(visible, editable, create, delete bool) PermEntry {
	var p PermEntry
	if visible {
		p |= PermVisible
	}
	if editable {
		p |= PermEditable
	}
	if create {
		p |= PermCreate
	}
	if delete {
		p |= PermDelete
	}
	return p
}

func (p PermEntry) Visible() bool  { return p&PermVisible != 0 }
func (p PermEntry) Editable() bool { return p&PermEditable != 0 }
func (p PermEntry) Create() bool   { return p&PermCreate != 0 }
func (p PermEntry) Delete() bool   { return p&PermDelete != 0 }

// Union returns the rights held by either entry.
func (p PermEntry) Union(o PermEntry) PermEntry { return p | o }

// Intersection returns the rights held by both entries.
func (p PermEntry) Intersection(o PermEntry) PermEntry { return p & o }

// Contains reports whether every right in o is also in p.
func (p PermEntry) Contains(o PermEntry) bool { return p&o == o }

// String renders the entry as four characters, "vecd" with '-' for each
// missing right.
func (p PermEntry) String() string {
	b := []byte("----")
	if p.Visible() {
		b[0] = 'v'
	}
	if p.Editable() {
		b[1] = 'e'
	}
	if p.Create() {
		b[2] = 'c'
	}
	if p.Delete() {
		b[3] = 'd'
	}
	return string(b)
}

// ParsePermEntry accepts the String form and any subset of "vecd" in any
// order, so "ve" and "ve--" are equivalent.
func ParsePermEntry(s string) (PermEntry, error) {
	var p PermEntry
	for _, r := range strings.ToLower(s) {
		switch r {
		case 'v':
			p |= PermVisible
		case 'e':
			p |= PermEditable
		case 'c':
			p |= PermCreate
		case 'd':
			p |= PermDelete
		case '-':
		default:
			return PermNone, errors.New(ErrValidation, fmt.Sprintf("invalid permission flag '%c' in '%s'", r, s))
		}
	}
	return p, nil
}

// baseLevel is the field slot of a matrix entry that applies to a whole base.
const baseLevel FieldID = -1

type permKey struct {
	Base  BaseID
	Field FieldID
}

// PermMatrix maps (base) and (base, field) pairs to rights. A field without
// its own entry inherits the entry of its base. The zero value is not usable;
// use NewPermMatrix. A nil *PermMatrix reads as empty.
type PermMatrix struct {
	entries map[permKey]PermEntry
}

// NewPermMatrix returns an empty matrix.
func NewPermMatrix() *PermMatrix {
	return &PermMatrix{entries: make(map[permKey]PermEntry)}
}

// Set sets the base-level entry for base.
func (m *PermMatrix) Set(base BaseID, p PermEntry) *PermMatrix {
	m.entries[permKey{base, baseLevel}] = p
	return m
}

// SetField sets the entry for a single field of base.
func (m *PermMatrix) SetField(base BaseID, field FieldID, p PermEntry) *PermMatrix {
	m.entries[permKey{base, field}] = p
	return m
}

// Get returns the base-level entry for base.
func (m *PermMatrix) Get(base BaseID) PermEntry {
	if m == nil {
		return PermNone
	}
	return m.entries[permKey{base, baseLevel}]
}

// GetField returns the entry for a field and whether the matrix carries an
// entry for that specific field.
func (m *PermMatrix) GetField(base BaseID, field FieldID) (PermEntry, bool) {
	if m == nil {
		return PermNone, false
	}
	p, ok := m.entries[permKey{base, field}]
	return p, ok
}

// effective returns the entry for k, falling back to the base-level entry for
// fields without their own.
func (m *PermMatrix) effective(k permKey) PermEntry {
	if m == nil {
		return PermNone
	}
	if p, ok := m.entries[k]; ok {
		return p
	}
	if k.Field != baseLevel {
		return m.entries[permKey{k.Base, baseLevel}]
	}
	return PermNone
}

func (m *PermMatrix) keys(o *PermMatrix) map[permKey]struct{} {
	out := make(map[permKey]struct{})
	if m != nil {
		for k := range m.entries {
			out[k] = struct{}{}
		}
	}
	if o != nil {
		for k := range o.entries {
			out[k] = struct{}{}
		}
	}
	return out
}

// Union returns a new matrix granting everything either matrix grants.
func (m *PermMatrix) Union(o *PermMatrix) *PermMatrix {
	out := NewPermMatrix()
	for k := range m.keys(o) {
		out.entries[k] = m.effective(k).Union(o.effective(k))
	}
	return out
}

// Intersection returns a new matrix granting only what both matrices grant.
func (m *PermMatrix) Intersection(o *PermMatrix) *PermMatrix {
	out := NewPermMatrix()
	for k := range m.keys(o) {
		out.entries[k] = m.effective(k).Intersection(o.effective(k))
	}
	return out
}

// IsSubsetOf reports whether o grants everything m grants.
func (m *PermMatrix) IsSubsetOf(o *PermMatrix) bool {
	if m == nil {
		return true
	}
	for k := range m.entries {
		if !o.effective(k).Contains(m.effective(k)) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of m.
func (m *PermMatrix) Clone() *PermMatrix {
	out := NewPermMatrix()
	if m != nil {
		for k, v := range m.entries {
			out.entries[k] = v
		}
	}
	return out
}

// Equal reports whether both matrices hold the same entries.
func (m *PermMatrix) Equal(o *PermMatrix) bool {
	if m.Len() != o.Len() {
		return false
	}
	if m == nil || o == nil {
		return true
	}
	for k, v := range m.entries {
		if ov, ok := o.entries[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Len returns the number of explicit entries.
func (m *PermMatrix) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// PermMatrixEntry is one explicit entry of a matrix. Field is -1 for
// base-level entries.
type PermMatrixEntry struct {
	Base  BaseID
	Field FieldID
	Perm  PermEntry
}

// Entries returns the explicit entries ordered by base, then field.
func (m *PermMatrix) Entries() []PermMatrixEntry {
	if m == nil {
		return nil
	}
	out := make([]PermMatrixEntry, 0, len(m.entries))
	for k, v := range m.entries {
		out = append(out, PermMatrixEntry{Base: k.Base, Field: k.Field, Perm: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Base != out[j].Base {
			return out[i].Base < out[j].Base
		}
		return out[i].Field < out[j].Field
	})
	return out
}

func (m *PermMatrix) String() string {
	var sb strings.Builder
	for i, e := range m.Entries() {
		if i > 0 {
			sb.WriteString(" ")
		}
		if e.Field == baseLevel {
			fmt.Fprintf(&sb, "%d=%s", e.Base, e.Perm)
		} else {
			fmt.Fprintf(&sb, "%d.%d=%s", e.Base, e.Field, e.Perm)
		}
	}
	return sb.String()
}
