// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/featurebasedb/objectdb/errors"
)

// Range bounds numeric field values, inclusive.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// FieldDef describes a field of an object base: its type, shape and the
// constraints values must satisfy.
type FieldDef struct {
	ID      FieldID   `json:"id"`
	Name    string    `json:"name"`
	Type    FieldType `json:"type"`
	Comment string    `json:"comment,omitempty"`

	// Vector fields hold an ordered, duplicate-free list of values.
	Vector  bool `json:"vector,omitempty"`
	MaxSize int  `json:"maxSize,omitempty"`

	// Namespace, if set, names the namespace values of this field are
	// unique within.
	Namespace string `json:"namespace,omitempty"`

	// Hidden fields are only visible to supergash.
	Hidden  bool `json:"hidden,omitempty"`
	BuiltIn bool `json:"builtIn,omitempty"`

	// String and bytes constraints.
	MinLength int    `json:"minLength,omitempty"`
	MaxLength int    `json:"maxLength,omitempty"`
	OKChars   string `json:"okChars,omitempty"`
	BadChars  string `json:"badChars,omitempty"`
	Pattern   string `json:"pattern,omitempty"`

	// Numeric constraint.
	Range *Range `json:"range,omitempty"`

	// Reference constraints. TargetBase must be set explicitly, AnyBase
	// allowing any. TargetField names the field on the target that points
	// back at this object; links through such a field are kept symmetric.
	TargetBase    BaseID  `json:"targetBase,omitempty"`
	TargetField   FieldID `json:"targetField,omitempty"`
	AnonymousLink bool    `json:"anonymousLink,omitempty"`

	pattern *regexp.Regexp
}

// Clone returns a copy of d.
func (d *FieldDef) Clone() *FieldDef {
	other := *d
	if d.Range != nil {
		r := *d.Range
		other.Range = &r
	}
	return &other
}

func (d *FieldDef) kind() fieldKind { return kindOf(d.Type) }

// symmetric reports whether d is a reference kept in sync with a back
// pointer on its target.
func (d *FieldDef) symmetric() bool {
	return d.Type == FieldTypeInvid && d.TargetField != NoField && d.TargetBase != AnyBase
}

// isMetadata reports whether d is one of the bookkeeping fields maintained at
// commit, which are never editable through the field API.
func (d *FieldDef) isMetadata() bool {
	switch d.ID {
	case CreationDateField, CreatorField, ModificationDateField, ModifierField:
		return true
	}
	return false
}

// Validate checks the definition for internal consistency.
func (d *FieldDef) Validate() error {
	if d.Name == "" {
		return errors.New(ErrInvalidDefinition, fmt.Sprintf("field %d has no name", d.ID))
	}
	if _, ok := fieldTypeNames[d.Type]; !ok {
		return errors.New(ErrInvalidDefinition, fmt.Sprintf("field '%s' has unknown type %d", d.Name, d.Type))
	}
	if d.Vector && !d.Type.vectorAllowed() {
		return errors.New(ErrInvalidDefinition, fmt.Sprintf("field '%s': %s fields can't be vectors", d.Name, d.Type))
	}
	if d.Namespace != "" && !d.Type.namespaceAllowed() {
		return errors.New(ErrInvalidDefinition, fmt.Sprintf("field '%s': %s fields can't be bound to a namespace", d.Name, d.Type))
	}
	if d.MaxSize < 0 || d.MinLength < 0 || d.MaxLength < 0 {
		return errors.New(ErrInvalidDefinition, fmt.Sprintf("field '%s' has a negative size limit", d.Name))
	}
	if d.MaxLength > 0 && d.MinLength > d.MaxLength {
		return errors.New(ErrInvalidDefinition, fmt.Sprintf("field '%s': minimum length exceeds maximum", d.Name))
	}
	if d.Range != nil && d.Range.Min > d.Range.Max {
		return errors.New(ErrInvalidDefinition, fmt.Sprintf("field '%s': empty range", d.Name))
	}
	if d.Type != FieldTypeInvid && d.TargetField != NoField {
		return errors.New(ErrInvalidDefinition, fmt.Sprintf("field '%s': only reference fields have a target field", d.Name))
	}
	if d.Pattern != "" {
		if _, err := d.compiled(); err != nil {
			return err
		}
	}
	return nil
}

func (d *FieldDef) compiled() (*regexp.Regexp, error) {
	if d.pattern == nil && d.Pattern != "" {
		re, err := regexp.Compile(d.Pattern)
		if err != nil {
			return nil, errors.New(ErrInvalidDefinition, fmt.Sprintf("field '%s': bad pattern: %v", d.Name, err))
		}
		d.pattern = re
	}
	return d.pattern, nil
}

// verify applies the semantic constraints to a normalized value.
func (d *FieldDef) verify(v interface{}) error {
	switch d.Type {
	case FieldTypeString:
		return d.verifyString(v.(string))
	case FieldTypeBytes:
		b := v.([]byte)
		if d.MaxLength > 0 && len(b) > d.MaxLength {
			return errors.New(ErrValidation, fmt.Sprintf("value for field '%s' is longer than %d bytes", d.Name, d.MaxLength))
		}
		if len(b) < d.MinLength {
			return errors.New(ErrValidation, fmt.Sprintf("value for field '%s' is shorter than %d bytes", d.Name, d.MinLength))
		}
	case FieldTypeInteger:
		return d.verifyRange(float64(v.(int64)))
	case FieldTypeFloat:
		return d.verifyRange(v.(float64))
	case FieldTypeInvid:
		i := v.(Invid)
		if d.TargetBase != AnyBase && i.Base != d.TargetBase {
			return errors.New(ErrValidation, fmt.Sprintf("field '%s' can't point to an object of base %d", d.Name, i.Base))
		}
	}
	return nil
}

func (d *FieldDef) verifyString(s string) error {
	n := utf8.RuneCountInString(s)
	if d.MaxLength > 0 && n > d.MaxLength {
		return errors.New(ErrValidation, fmt.Sprintf("value for field '%s' is longer than %d characters", d.Name, d.MaxLength))
	}
	if n < d.MinLength {
		return errors.New(ErrValidation, fmt.Sprintf("value for field '%s' is shorter than %d characters", d.Name, d.MinLength))
	}
	for _, r := range s {
		if d.OKChars != "" && !strings.ContainsRune(d.OKChars, r) {
			return errors.New(ErrValidation, fmt.Sprintf("character '%c' is not allowed in field '%s'", r, d.Name))
		}
		if strings.ContainsRune(d.BadChars, r) {
			return errors.New(ErrValidation, fmt.Sprintf("character '%c' is not allowed in field '%s'", r, d.Name))
		}
	}
	re, err := d.compiled()
	if err != nil {
		return err
	}
	if re != nil && !re.MatchString(s) {
		return errors.New(ErrValidation, fmt.Sprintf("value '%s' does not match the pattern for field '%s'", s, d.Name))
	}
	return nil
}

func (d *FieldDef) verifyRange(f float64) error {
	if d.Range == nil {
		return nil
	}
	if f < d.Range.Min || f > d.Range.Max {
		return errors.New(ErrValidation, fmt.Sprintf("value %v for field '%s' is out of range [%v, %v]", f, d.Name, d.Range.Min, d.Range.Max))
	}
	return nil
}
