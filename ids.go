// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/featurebasedb/objectdb/errors"
)

// BaseID identifies an object base (a type of object).
type BaseID int16

// FieldID identifies a field within an object base.
type FieldID int16

// Invid is the immutable identifier of an object: the base it belongs to and
// an instance number unique within that base. Instance numbers start at 1, so
// the zero Invid never names an object.
type Invid struct {
	Base BaseID `json:"base"`
	Num  int32  `json:"num"`
}

// IsZero reports whether i is the zero Invid.
func (i Invid) IsZero() bool { return i.Num == 0 }

func (i Invid) String() string {
	return fmt.Sprintf("%d:%d", i.Base, i.Num)
}

// ParseInvid parses the "base:num" form produced by String.
func ParseInvid(s string) (Invid, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Invid{}, errors.New(ErrValidation, fmt.Sprintf("malformed object id '%s'", s))
	}
	b, err := strconv.ParseInt(parts[0], 10, 16)
	if err != nil {
		return Invid{}, errors.Wrapf(err, "parsing base of '%s'", s)
	}
	n, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return Invid{}, errors.Wrapf(err, "parsing number of '%s'", s)
	}
	return Invid{Base: BaseID(b), Num: int32(n)}, nil
}

// Built-in object bases.
const (
	OwnerGroupBase BaseID = 0
	PersonaBase    BaseID = 1
	RoleBase       BaseID = 2
	UserBase       BaseID = 3

	// FirstUserBase is the lowest id available to bases defined in a schema
	// edit.
	FirstUserBase BaseID = 256

	// AnyBase is used as a reference field's target when the field may
	// point at objects of any base.
	AnyBase BaseID = -1
)

// Built-in fields present in every base.
const (
	OwnerListField        FieldID = 0 // non-embedded bases only
	ContainerField        FieldID = 1 // embedded bases only
	ExpirationField       FieldID = 2
	RemovalField          FieldID = 3
	NotesField            FieldID = 4
	CreationDateField     FieldID = 5
	CreatorField          FieldID = 6
	ModificationDateField FieldID = 7
	ModifierField         FieldID = 8

	// FirstUserField is the lowest id available to fields defined in a
	// schema edit.
	FirstUserField FieldID = 100

	// NoField marks a reference field without a symmetric partner. The owner
	// list is never the far side of a symmetric link, so its id doubles as
	// the marker.
	NoField FieldID = 0
)

// Fields of the built-in bases.
const (
	OwnerNameField    FieldID = 100
	OwnerMembersField FieldID = 101

	PersonaNameField        FieldID = 100
	PersonaPasswordField    FieldID = 101
	PersonaRolesField       FieldID = 102
	PersonaOwnerGroupsField FieldID = 103
	PersonaUserField        FieldID = 104

	RoleNameField          FieldID = 100
	RoleMatrixField        FieldID = 101
	RoleDefaultMatrixField FieldID = 102
	RoleDelegatableField   FieldID = 103
	RoleMembersField       FieldID = 104

	UserNameField     FieldID = 100
	UserPasswordField FieldID = 101
	UserPersonaeField FieldID = 102
)

// Objects created when a store is bootstrapped.
var (
	SupergashOwnerGroup = Invid{Base: OwnerGroupBase, Num: 1}
	SupergashPersona    = Invid{Base: PersonaBase, Num: 1}
	DefaultRole         = Invid{Base: RoleBase, Num: 1}
)

// Names of the namespaces created when a store is bootstrapped.
const (
	NamespaceOwnerGroups = "ownergroups"
	NamespacePersonae    = "personae"
	NamespaceRoles       = "roles"
	NamespaceUsernames   = "usernames"
)
