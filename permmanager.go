// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

import (
	"context"
)

// permBases are the bases whose contents decide a session's rights.
var permBases = []BaseID{OwnerGroupBase, PersonaBase, RoleBase, UserBase}

// permState is a session's computed rights. It is immutable once built;
// updatePerms swaps in a new one.
type permState struct {
	supergash bool
	// persona is the zero Invid for an end-user session.
	persona Invid
	// groups holds the owner groups the persona is a direct member of.
	groups map[Invid]struct{}

	owned        *PermMatrix
	unowned      *PermMatrix
	delegOwned   *PermMatrix
	delegUnowned *PermMatrix

	// lastCheck is the store tick read before the state was derived.
	lastCheck uint64
}

// stale reports whether any permission-bearing base changed after st was
// derived.
func (st *permState) stale(s *Store) bool {
	if st == nil {
		return true
	}
	for _, id := range permBases {
		if b := s.base(id); b != nil && b.LastModified() > st.lastCheck {
			return true
		}
	}
	return false
}

// perms returns the session's current rights, recomputing them first if the
// underlying role, persona, owner group or user objects have changed.
func (s *Session) perms() *permState {
	s.mu.Lock()
	st := s.permState
	s.mu.Unlock()
	if !st.stale(s.store) {
		return st
	}
	return s.updatePerms()
}

// updatePerms rebuilds the session's rights. The tick is read before any
// object, so a commit racing the rebuild leaves the result stale rather than
// wrong.
func (s *Session) updatePerms() *permState {
	tick := s.store.CurrentTick()

	// Hold off schema edits while reading. Bases the session already has
	// locked are covered; locking them again would be refused or wait on
	// the session itself.
	key := s.lockKey()
	var need []BaseID
	for _, b := range permBases {
		if !s.store.locks.Covers(key, b) {
			need = append(need, b)
		}
	}
	if len(need) > 0 {
		lock := s.store.locks.NewReadLock(key, need...)
		if err := lock.Establish(context.Background()); err != nil {
			s.logger.Warnf("computing permissions without a read lock: %v", err)
		} else {
			defer lock.Release()
		}
	}

	s.mu.Lock()
	persona := s.persona
	internal := s.internal
	s.mu.Unlock()

	st := &permState{
		persona:      persona,
		groups:       make(map[Invid]struct{}),
		owned:        NewPermMatrix(),
		unowned:      NewPermMatrix(),
		delegOwned:   NewPermMatrix(),
		delegUnowned: NewPermMatrix(),
		lastCheck:    tick,
	}

	roles := []Invid{DefaultRole}
	switch {
	case internal:
		st.supergash = true
	case !persona.IsZero():
		p := s.store.committed(persona)
		if p == nil {
			s.logger.Warnf("persona %s no longer exists; falling back to end-user rights", persona)
			st.persona = Invid{}
			s.mu.Lock()
			s.persona = Invid{}
			s.personaName = ""
			s.mu.Unlock()
			break
		}
		for _, g := range p.Invids(PersonaOwnerGroupsField) {
			st.groups[g] = struct{}{}
			if g == SupergashOwnerGroup {
				st.supergash = true
			}
		}
		roles = append(roles, p.Invids(PersonaRolesField)...)
	}

	if !st.supergash {
		for _, r := range roles {
			role := s.store.committed(r)
			if role == nil {
				continue
			}
			owned, _ := role.Value(RoleMatrixField).(*PermMatrix)
			unowned, _ := role.Value(RoleDefaultMatrixField).(*PermMatrix)
			// Rights over unowned objects apply to owned ones too.
			st.owned = st.owned.Union(owned).Union(unowned)
			st.unowned = st.unowned.Union(unowned)
			if delegatable, _ := role.Value(RoleDelegatableField).(bool); delegatable {
				st.delegOwned = st.delegOwned.Union(owned).Union(unowned)
				st.delegUnowned = st.delegUnowned.Union(unowned)
			}
		}
	}
	MetricPermRecomputes.Inc()

	s.mu.Lock()
	s.permState = st
	s.mu.Unlock()
	return st
}

// resetPerms forgets the session's rights, forcing a rebuild on next use.
func (s *Session) resetPerms() {
	s.mu.Lock()
	s.permState = nil
	s.mu.Unlock()
}

// IsSupergash reports whether the session has unrestricted rights.
func (s *Session) IsSupergash() bool {
	return s.perms().supergash
}

// DelegatableOwned returns the rights over owned objects this session may
// grant to a role.
func (s *Session) DelegatableOwned() *PermMatrix {
	return s.perms().delegOwned.Clone()
}

// DelegatableDefault returns the rights over unowned objects this session
// may grant to a role.
func (s *Session) DelegatableDefault() *PermMatrix {
	return s.perms().delegUnowned.Clone()
}

// view returns the version of invid this session sees: its own shadow if it
// has one checked out, else the committed object.
func (s *Session) view(invid Invid) *Object {
	if es := s.editset; es != nil && !es.closed {
		return es.view(invid)
	}
	return s.store.committed(invid)
}

// Owns reports whether the session owns obj.
func (s *Session) Owns(obj *Object) bool {
	return s.owns(s.perms(), obj, make(map[Invid]struct{}))
}

func (s *Session) owns(st *permState, obj *Object, visited map[Invid]struct{}) bool {
	if st.supergash {
		return true
	}
	if _, ok := visited[obj.id]; ok {
		return false
	}
	visited[obj.id] = struct{}{}

	if obj.base.embedded {
		container := obj.Container()
		if container.IsZero() {
			return false
		}
		if c := s.view(container); c != nil {
			return s.owns(st, c, visited)
		}
		return false
	}
	if st.persona.IsZero() && !s.user.IsZero() && obj.id == s.user {
		return true
	}
	if obj.IsNew() && obj.editset != nil && obj.editset.session == s {
		return true
	}
	groups := make(map[Invid]struct{})
	for _, g := range obj.Owners() {
		if s.memberOf(st, g, groups) {
			return true
		}
	}
	return obj.base.hook.GrantOwnership(s, obj)
}

// memberOf reports whether the persona belongs to owner group g, directly
// or through a group owning g. visited guards against owner group cycles.
func (s *Session) memberOf(st *permState, g Invid, visited map[Invid]struct{}) bool {
	if _, ok := visited[g]; ok {
		return false
	}
	visited[g] = struct{}{}
	if _, ok := st.groups[g]; ok {
		return true
	}
	group := s.view(g)
	if group == nil {
		return false
	}
	for _, owner := range group.Owners() {
		if s.memberOf(st, owner, visited) {
			return true
		}
	}
	return false
}

// GetPerm returns the session's rights over obj.
func (s *Session) GetPerm(obj *Object) PermEntry {
	p, _ := s.objectPerm(s.perms(), obj)
	return p
}

// objectPerm returns the rights over obj and the matrix they came from; a
// nil matrix means field entries don't apply.
func (s *Session) objectPerm(st *permState, obj *Object) (PermEntry, *PermMatrix) {
	if st.supergash {
		return PermFull, nil
	}
	hook := obj.base.hook
	if p, ok := hook.PermOverride(s, obj); ok {
		return p, nil
	}
	m := st.unowned
	if s.owns(st, obj, make(map[Invid]struct{})) {
		m = st.owned
	}
	return m.Get(obj.base.id).Union(hook.PermExpand(s, obj)), m
}

// GetBasePerm returns the session's rights over objects of base it owns,
// which decides whether it may create them.
func (s *Session) GetBasePerm(base BaseID) PermEntry {
	st := s.perms()
	if st.supergash {
		return PermFull
	}
	return st.owned.Get(base)
}

// GetFieldPerm returns the session's rights over field of obj. Field
// entries narrow the object's rights but keep its create bit. Bookkeeping
// fields are at most visible, whoever asks.
func (s *Session) GetFieldPerm(obj *Object, field FieldID) PermEntry {
	fd := obj.base.Field(field)
	if fd == nil {
		return PermNone
	}
	st := s.perms()
	p, m := s.objectPerm(st, obj)
	if m != nil {
		if fp, ok := m.GetField(obj.base.id, field); ok {
			p = p.Intersection(fp).Union(p & PermCreate)
		}
	}
	if !st.supergash {
		if fd.Hidden {
			return PermNone
		}
		f := obj.Field(field)
		if f != nil && !obj.base.hook.CanSeeField(s, f) {
			return PermNone
		}
	}
	switch {
	case fd.isMetadata():
		p = p.Intersection(PermVisible)
	case field == ContainerField && obj.base.embedded:
		p = p.Intersection(PermVisible)
	case field == OwnerListField && !obj.base.embedded && !s.owns(st, obj, make(map[Invid]struct{})):
		p = p.Intersection(PermVisible)
	}
	return p
}
