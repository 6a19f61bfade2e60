// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

// Op names a field mutation for wizard hooks.
type Op int

const (
	OpSetValue Op = iota
	OpSetElement
	OpAddElement
	OpAddElements
	OpDeleteElement
	OpDeleteElements
)

func (o Op) String() string {
	return [...]string{"SetValue", "SetElement", "AddElement", "AddElements", "DeleteElement", "DeleteElements"}[o]
}

// ObjectHook is the per-base customization layer. Each base has one; bases
// without custom behavior use DefaultHook. Hooks may call back into field
// mutators on the same transaction, typically through the Local variants.
//
// Finalize hooks run after a change passes every other check and before it
// is applied; the field still holds its old value while they run. A failed
// ReturnVal from any hook cancels the change.
type ObjectHook interface {
	// WizardHook is given first refusal on a mutation. Returning nil, or a
	// successful ReturnVal with DoNormalProcessing set, lets it proceed.
	// Anything else is returned to the caller as the result.
	WizardHook(f *Field, op Op, param1, param2 interface{}) *ReturnVal

	FinalizeSetValue(f *Field, value interface{}) *ReturnVal
	FinalizeSetElement(f *Field, index int, value interface{}) *ReturnVal
	FinalizeAddElement(f *Field, value interface{}) *ReturnVal
	FinalizeAddElements(f *Field, values []interface{}) *ReturnVal
	FinalizeDeleteElement(f *Field, index int) *ReturnVal
	FinalizeDeleteElements(f *Field, values []interface{}) *ReturnVal

	// CanSeeField can hide a field from a session regardless of its
	// permission matrices.
	CanSeeField(s *Session, f *Field) bool
	// FieldRequired reports whether obj may not be committed with field
	// undefined.
	FieldRequired(obj *Object, field FieldID) bool

	// PermOverride replaces the computed object permission when ok.
	PermOverride(s *Session, obj *Object) (p PermEntry, ok bool)
	// PermExpand adds to the computed object permission.
	PermExpand(s *Session, obj *Object) PermEntry
	// GrantOwnership treats the session as owning obj.
	GrantOwnership(s *Session, obj *Object) bool

	InitializeNewObject(obj *Object) *ReturnVal
	CanRemove(s *Session, obj *Object) *ReturnVal

	// PreCommitHook runs before the commit checks and may still edit.
	PreCommitHook(obj *Object) *ReturnVal
	ConsistencyCheck(obj *Object) *ReturnVal
	// CommitPhase1 may veto the commit. CommitPhase2 runs once the commit
	// is durable and visible.
	CommitPhase1(obj *Object) *ReturnVal
	CommitPhase2(obj *Object)
}

// DefaultHook permits everything. Embed it to override only some methods.
type DefaultHook struct{}

var _ ObjectHook = DefaultHook{}

func (DefaultHook) WizardHook(f *Field, op Op, param1, param2 interface{}) *ReturnVal { return nil }
func (DefaultHook) FinalizeSetValue(f *Field, value interface{}) *ReturnVal           { return nil }
func (DefaultHook) FinalizeSetElement(f *Field, index int, value interface{}) *ReturnVal {
	return nil
}
func (DefaultHook) FinalizeAddElement(f *Field, value interface{}) *ReturnVal { return nil }
func (DefaultHook) FinalizeAddElements(f *Field, values []interface{}) *ReturnVal {
	return nil
}
func (DefaultHook) FinalizeDeleteElement(f *Field, index int) *ReturnVal { return nil }
func (DefaultHook) FinalizeDeleteElements(f *Field, values []interface{}) *ReturnVal {
	return nil
}
func (DefaultHook) CanSeeField(s *Session, f *Field) bool                  { return true }
func (DefaultHook) FieldRequired(obj *Object, field FieldID) bool          { return false }
func (DefaultHook) PermOverride(s *Session, obj *Object) (PermEntry, bool) { return PermNone, false }
func (DefaultHook) PermExpand(s *Session, obj *Object) PermEntry           { return PermNone }
func (DefaultHook) GrantOwnership(s *Session, obj *Object) bool            { return false }
func (DefaultHook) InitializeNewObject(obj *Object) *ReturnVal             { return nil }
func (DefaultHook) CanRemove(s *Session, obj *Object) *ReturnVal           { return nil }
func (DefaultHook) PreCommitHook(obj *Object) *ReturnVal                   { return nil }
func (DefaultHook) ConsistencyCheck(obj *Object) *ReturnVal                { return nil }
func (DefaultHook) CommitPhase1(obj *Object) *ReturnVal                    { return nil }
func (DefaultHook) CommitPhase2(obj *Object)                               {}
