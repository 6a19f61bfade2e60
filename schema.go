// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

import (
	"context"

	"github.com/featurebasedb/objectdb/errors"
)

// builtinSchema returns the schema of a new store: the owner group,
// persona, role and user bases and their namespaces.
func builtinSchema() *schemaDoc {
	return &schemaDoc{
		Version: 1,
		Namespaces: []NamespaceDef{
			{Name: NamespaceOwnerGroups, CaseInsensitive: true},
			{Name: NamespacePersonae, CaseInsensitive: true},
			{Name: NamespaceRoles, CaseInsensitive: true},
			{Name: NamespaceUsernames, CaseInsensitive: true},
		},
		Bases: []*BaseDef{
			{
				ID:         OwnerGroupBase,
				Name:       "Owner Group",
				LabelField: OwnerNameField,
				Fields: []*FieldDef{
					{ID: OwnerNameField, Name: "Name", Type: FieldTypeString, Namespace: NamespaceOwnerGroups, MinLength: 1, MaxLength: 64},
					{ID: OwnerMembersField, Name: "Members", Type: FieldTypeInvid, Vector: true, TargetBase: PersonaBase, TargetField: PersonaOwnerGroupsField},
				},
			},
			{
				ID:         PersonaBase,
				Name:       "Admin Persona",
				LabelField: PersonaNameField,
				Fields: []*FieldDef{
					{ID: PersonaNameField, Name: "Name", Type: FieldTypeString, Namespace: NamespacePersonae, MinLength: 1, MaxLength: 64, BadChars: " \t\n:"},
					{ID: PersonaPasswordField, Name: "Password", Type: FieldTypePassword},
					{ID: PersonaRolesField, Name: "Roles", Type: FieldTypeInvid, Vector: true, TargetBase: RoleBase, TargetField: RoleMembersField},
					{ID: PersonaOwnerGroupsField, Name: "Owner Groups", Type: FieldTypeInvid, Vector: true, TargetBase: OwnerGroupBase, TargetField: OwnerMembersField},
					{ID: PersonaUserField, Name: "User", Type: FieldTypeInvid, TargetBase: UserBase, TargetField: UserPersonaeField},
				},
			},
			{
				ID:         RoleBase,
				Name:       "Role",
				LabelField: RoleNameField,
				Fields: []*FieldDef{
					{ID: RoleNameField, Name: "Name", Type: FieldTypeString, Namespace: NamespaceRoles, MinLength: 1, MaxLength: 64},
					{ID: RoleMatrixField, Name: "Owned Object Bits", Type: FieldTypePermMatrix},
					{ID: RoleDefaultMatrixField, Name: "Default Bits", Type: FieldTypePermMatrix},
					{ID: RoleDelegatableField, Name: "Delegatable", Type: FieldTypeBoolean},
					{ID: RoleMembersField, Name: "Members", Type: FieldTypeInvid, Vector: true, TargetBase: PersonaBase, TargetField: PersonaRolesField},
				},
			},
			{
				ID:         UserBase,
				Name:       "User",
				LabelField: UserNameField,
				Fields: []*FieldDef{
					{ID: UserNameField, Name: "Username", Type: FieldTypeString, Namespace: NamespaceUsernames, MinLength: 1, MaxLength: 32, BadChars: " \t\n:"},
					{ID: UserPasswordField, Name: "Password", Type: FieldTypePassword},
					{ID: UserPersonaeField, Name: "Personae", Type: FieldTypeInvid, Vector: true, TargetBase: PersonaBase, TargetField: PersonaUserField},
				},
			},
		},
	}
}

// builtinHook returns the hook of a built-in base, or nil.
func builtinHook(id BaseID) ObjectHook {
	switch id {
	case OwnerGroupBase:
		return ownerGroupHook{}
	case PersonaBase:
		return personaHook{}
	case RoleBase:
		return roleHook{}
	case UserBase:
		return userHook{}
	}
	return nil
}

// bootstrap creates the objects every store starts with: the supergash
// owner group and persona and the default role.
func (s *Store) bootstrap(ctx context.Context) error {
	sess := s.NewInternalSession("bootstrap")
	defer sess.Close()
	if _, err := sess.OpenTransaction("bootstrap"); err != nil {
		return err
	}

	group, rv := sess.CreateObjectLocal(OwnerGroupBase)
	if !rv.OK() {
		return rv.Err()
	}
	persona, rv := sess.CreateObjectLocal(PersonaBase)
	if !rv.OK() {
		return rv.Err()
	}
	role, rv := sess.CreateObjectLocal(RoleBase)
	if !rv.OK() {
		return rv.Err()
	}
	if group.id != SupergashOwnerGroup || persona.id != SupergashPersona || role.id != DefaultRole {
		sess.Abort()
		return errors.New(ErrIntegrity, "bootstrap objects were not allocated their reserved numbers")
	}

	steps := []*ReturnVal{
		group.Field(OwnerNameField).SetValueLocal("supergash"),
		persona.Field(PersonaNameField).SetValueLocal("supergash"),
		persona.Field(PersonaOwnerGroupsField).AddElementLocal(SupergashOwnerGroup),
		role.Field(RoleNameField).SetValueLocal("Default"),
		role.Field(RoleMatrixField).SetValueLocal(NewPermMatrix()),
		role.Field(RoleDefaultMatrixField).SetValueLocal(NewPermMatrix()),
	}
	if s.supergashPassword != "" {
		steps = append(steps, persona.Field(PersonaPasswordField).SetValueLocal(s.supergashPassword))
	}
	for _, rv := range steps {
		if !rv.OK() {
			sess.Abort()
			return errors.Wrap(rv.Err(), "bootstrapping")
		}
	}
	if rv := sess.Commit(ctx); !rv.OK() {
		return errors.Wrap(rv.Err(), "committing bootstrap objects")
	}
	s.logger.Infof("bootstrapped new store")
	return nil
}

// ownerGroupHook protects the supergash owner group.
type ownerGroupHook struct{ DefaultHook }

func (ownerGroupHook) FieldRequired(obj *Object, field FieldID) bool {
	return field == OwnerNameField
}

func (ownerGroupHook) CanRemove(s *Session, obj *Object) *ReturnVal {
	if obj.id == SupergashOwnerGroup {
		return Fail(ErrBusinessRule, "Can't remove", "the supergash owner group can't be removed")
	}
	return nil
}

// personaHook protects the supergash persona.
type personaHook struct{ DefaultHook }

func (personaHook) FieldRequired(obj *Object, field FieldID) bool {
	return field == PersonaNameField
}

func (personaHook) CanRemove(s *Session, obj *Object) *ReturnVal {
	if obj.id == SupergashPersona {
		return Fail(ErrBusinessRule, "Can't remove", "the supergash persona can't be removed")
	}
	return nil
}

func (personaHook) WizardHook(f *Field, op Op, param1, param2 interface{}) *ReturnVal {
	if f.def.ID == PersonaRolesField && f.owner.id == SupergashPersona {
		return Fail(ErrBusinessRule, "Can't change", "the supergash persona holds every right and takes no roles")
	}
	return nil
}

// roleHook keeps role matrices within what the editor may delegate and
// protects the default role.
type roleHook struct{ DefaultHook }

func (roleHook) FieldRequired(obj *Object, field FieldID) bool {
	return field == RoleNameField
}

func (roleHook) CanRemove(s *Session, obj *Object) *ReturnVal {
	if obj.id == DefaultRole {
		return Fail(ErrBusinessRule, "Can't remove", "the default role can't be removed")
	}
	return nil
}

func (roleHook) WizardHook(f *Field, op Op, param1, param2 interface{}) *ReturnVal {
	if f.def.ID == RoleMembersField && f.owner.id == DefaultRole {
		return Fail(ErrBusinessRule, "Can't change", "the default role applies to every user and has no members")
	}
	if f.def.ID != RoleMatrixField && f.def.ID != RoleDefaultMatrixField {
		return nil
	}
	s := f.owner.Session()
	if s == nil || s.IsSupergash() {
		return nil
	}
	m, ok := param1.(*PermMatrix)
	if !ok || m == nil {
		return nil
	}
	var limit *PermMatrix
	if f.def.ID == RoleMatrixField {
		limit = s.DelegatableOwned()
	} else {
		limit = s.DelegatableDefault()
	}
	if !m.IsSubsetOf(limit) {
		return Fail(ErrPermissionDenied, "Permissions error", "the %s of role %s can't grant rights you can't delegate", f.def.Name, f.owner.Label())
	}
	return nil
}

// userHook requires a username.
type userHook struct{ DefaultHook }

func (userHook) FieldRequired(obj *Object, field FieldID) bool {
	return field == UserNameField
}
