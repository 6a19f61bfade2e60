// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/featurebasedb/objectdb/errors"
	"github.com/featurebasedb/objectdb/logger"
	"github.com/featurebasedb/objectdb/tracing"
	"github.com/google/uuid"
)

// commitCheckpoint labels the checkpoint a commit rolls back to when vetoed.
const commitCheckpoint = "\x00commit"

// EditSet is an open transaction: the shadow objects a session has checked
// out, in the order it checked them out. Nothing it does is visible to
// other sessions until Commit publishes every shadow at once.
//
// An EditSet belongs to one session and is not safe for concurrent use.
type EditSet struct {
	id      string
	desc    string
	session *Session
	store   *Store
	logger  logger.Logger
	started time.Time

	objects     map[Invid]*Object
	order       []Invid
	checkpoints []*checkpoint
	seq         int

	committing bool
	mustAbort  bool
	closed     bool
}

func newEditSet(s *Session, desc string) *EditSet {
	id := uuid.New().String()
	return &EditSet{
		id:      id,
		desc:    desc,
		session: s,
		store:   s.store,
		logger:  s.logger.WithPrefix(fmt.Sprintf("txn %s: ", id[:8])),
		started: s.store.now(),
		objects: make(map[Invid]*Object),
	}
}

func (es *EditSet) ID() string          { return es.id }
func (es *EditSet) Description() string { return es.desc }
func (es *EditSet) Session() *Session   { return es.session }

// Objects returns the shadow objects in checkout order.
func (es *EditSet) Objects() []*Object {
	out := make([]*Object, 0, len(es.order))
	for _, invid := range es.order {
		if obj := es.objects[invid]; obj != nil {
			out = append(out, obj)
		}
	}
	return out
}

// Lookup returns the shadow of invid, or nil if this transaction has not
// checked it out.
func (es *EditSet) Lookup(invid Invid) *Object {
	return es.objects[invid]
}

func (es *EditSet) usable() error {
	if es.closed {
		return errors.New(ErrTransactionState, "transaction has ended")
	}
	return nil
}

// view returns the shadow of invid if checked out here, else the committed
// object.
func (es *EditSet) view(invid Invid) *Object {
	if obj := es.objects[invid]; obj != nil {
		return obj
	}
	return es.store.committed(invid)
}

func (es *EditSet) add(obj *Object) {
	es.objects[obj.id] = obj
	es.order = append(es.order, obj.id)
}

// checkout makes a shadow of the committed object invid.
func (es *EditSet) checkout(invid Invid) (*Object, *ReturnVal) {
	if obj := es.objects[invid]; obj != nil {
		return obj, nil
	}
	base := es.store.base(invid.Base)
	if base == nil {
		return nil, FailError(newErrUnknownBase(invid.Base))
	}
	if es.store.schemaEditing() {
		return nil, errSchemaBusy()
	}
	committed, err := base.checkoutObject(invid.Num, es.id)
	if err != nil {
		return nil, FailError(err)
	}
	// A schema edit may have begun between the check and the checkout.
	if es.store.schemaEditing() {
		base.release(invid.Num, es.id)
		return nil, errSchemaBusy()
	}
	shadow := committed.shadowCopy(es)
	es.add(shadow)
	return shadow, nil
}

// describe names the holder of a namespace value for conflict messages.
func (es *EditSet) describe(ref FieldRef) string {
	obj := es.view(ref.Object)
	if obj == nil {
		return fmt.Sprintf("object %s", ref.Object)
	}
	name := fmt.Sprintf("field %d", ref.Field)
	if fd := obj.base.Field(ref.Field); fd != nil {
		name = fmt.Sprintf("field '%s'", fd.Name)
	}
	return fmt.Sprintf("%s of %s '%s'", name, obj.base.name, obj.Label())
}

func (es *EditSet) createObject(baseID BaseID, local bool) (*Object, *ReturnVal) {
	if err := es.usable(); err != nil {
		return nil, FailError(err)
	}
	if es.committing {
		return nil, Fail(ErrTransactionState, "Transaction committing", "can't create objects while the transaction commits")
	}
	base := es.store.base(baseID)
	if base == nil {
		return nil, FailError(newErrUnknownBase(baseID))
	}
	if base.embedded && !local {
		return nil, Fail(ErrPermissionDenied, "Permissions error", "%s objects can only be created inside their container", base.name)
	}
	if !local && !es.session.GetBasePerm(baseID).Create() {
		return nil, Fail(ErrPermissionDenied, "Permissions error", "you don't have permission to create %s objects", base.name)
	}

	if es.store.schemaEditing() {
		return nil, errSchemaBusy()
	}

	cp := es.internalCheckpoint()
	num := base.nextNum()
	obj := newShadow(base, num, es)
	if err := base.checkout(num, es.id); err != nil {
		es.rollbackInternal(cp)
		return nil, FailError(err)
	}
	if es.store.schemaEditing() {
		base.release(num, es.id)
		es.rollbackInternal(cp)
		return nil, errSchemaBusy()
	}
	es.add(obj)
	if !base.embedded {
		for _, g := range es.session.defaultOwners() {
			if f := obj.Field(OwnerListField); f != nil {
				f.values = append(f.values, g)
			}
		}
	}
	rv := base.hook.InitializeNewObject(obj)
	if !rv.OK() {
		es.rollbackInternal(cp)
		return nil, rv
	}
	es.popInternal(cp)
	out := Success().Merge(rv).AddRescanObject(obj.id)
	out.Invid = obj.id
	return obj, out
}

// createEmbedded creates an object of the embedded base container points
// to, and adds it to container.
func (es *EditSet) createEmbedded(container *Field, local bool) (*Object, *ReturnVal) {
	fd := container.def
	if fd.Type != FieldTypeInvid || !fd.Vector || fd.TargetField != ContainerField {
		return nil, Fail(ErrTypeMismatch, "Schema error", "field '%s' does not hold embedded objects", fd.Name)
	}
	target := es.store.base(fd.TargetBase)
	if target == nil || !target.embedded {
		return nil, Fail(ErrTypeMismatch, "Schema error", "field '%s' does not hold embedded objects", fd.Name)
	}
	cp := es.internalCheckpoint()
	obj, rv := es.createObject(target.id, true)
	if !rv.OK() {
		es.rollbackInternal(cp)
		return nil, rv
	}
	if arv := container.addElement(obj.id, local, local); !arv.OK() {
		es.rollbackInternal(cp)
		return nil, arv
	}
	es.popInternal(cp)
	return obj, rv
}

func (es *EditSet) editObject(invid Invid, local bool) (*Object, *ReturnVal) {
	if err := es.usable(); err != nil {
		return nil, FailError(err)
	}
	if obj := es.objects[invid]; obj != nil {
		if obj.IsDeleting() {
			return nil, Fail(ErrObjectNotEditable, "Not editable", "object %s is being deleted", obj.Label())
		}
		return obj, nil
	}
	committed := es.store.committed(invid)
	if committed == nil {
		return nil, FailError(newErrNotFound(invid))
	}
	if !local && !es.session.GetPerm(committed).Editable() {
		return nil, Fail(ErrPermissionDenied, "Permissions error", "you don't have permission to edit %s", committed.Label())
	}
	return es.checkout(invid)
}

func (es *EditSet) deleteObject(invid Invid, local bool) *ReturnVal {
	if err := es.usable(); err != nil {
		return FailError(err)
	}
	if es.committing {
		return Fail(ErrTransactionState, "Transaction committing", "can't delete objects while the transaction commits")
	}
	current := es.view(invid)
	if current == nil {
		return FailError(newErrNotFound(invid))
	}
	if current.IsDeleting() {
		return nil
	}
	if !local && !es.session.GetPerm(current).Delete() {
		return Fail(ErrPermissionDenied, "Permissions error", "you don't have permission to delete %s", current.Label())
	}
	if rv := current.base.hook.CanRemove(es.session, current); !rv.OK() {
		return rv
	}

	cp := es.internalCheckpoint()
	obj, rv := es.checkout(invid)
	if rv != nil {
		es.rollbackInternal(cp)
		return rv
	}
	if obj.status == statusCreating {
		obj.status = statusDropping
	} else {
		obj.status = statusDeleting
	}

	out := Success().AddRescanObject(invid)
	if obj.base.embedded {
		if rv := es.detachFromContainer(obj); !rv.OK() {
			es.rollbackInternal(cp)
			return rv
		}
	}
	// Embedded objects go with their container.
	for _, fd := range obj.base.fields {
		if fd.Type != FieldTypeInvid || !fd.Vector || fd.TargetField != ContainerField {
			continue
		}
		if tb := es.store.base(fd.TargetBase); tb == nil || !tb.embedded {
			continue
		}
		for _, child := range obj.Invids(fd.ID) {
			if rv := es.deleteObject(child, true); !rv.OK() {
				es.rollbackInternal(cp)
				return rv
			}
			out = out.AddRescanObject(child)
		}
	}
	for _, f := range obj.fields {
		if f.def.isMetadata() {
			continue
		}
		rv := f.clear()
		if !rv.OK() {
			es.rollbackInternal(cp)
			return rv
		}
		out = out.Merge(rv)
	}
	es.popInternal(cp)
	return out
}

// detachFromContainer removes an embedded object from the container field
// holding it, which also clears its container reference.
func (es *EditSet) detachFromContainer(obj *Object) *ReturnVal {
	cinvid := obj.Container()
	if cinvid.IsZero() || es.view(cinvid) == nil || es.view(cinvid).IsDeleting() {
		return nil
	}
	container, rv := es.checkout(cinvid)
	if rv != nil {
		return rv
	}
	for _, f := range container.fields {
		fd := f.def
		if fd.Type == FieldTypeInvid && fd.Vector && fd.TargetBase == obj.base.id && fd.TargetField == ContainerField && f.Contains(obj.id) {
			return f.deleteElement(obj.id, true, true)
		}
	}
	return nil
}

// touchedBases returns the bases of every checked out object.
func (es *EditSet) touchedBases() []BaseID {
	seen := make(map[BaseID]struct{})
	var out []BaseID
	for invid := range es.objects {
		if _, ok := seen[invid.Base]; !ok {
			seen[invid.Base] = struct{}{}
			out = append(out, invid.Base)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func errSchemaBusy() *ReturnVal {
	return Fail(ErrConcurrency, "Schema edit in progress", "the schema is being edited; try again later").withRetry()
}

func containsAll(have, want []BaseID) bool {
	set := make(map[BaseID]struct{}, len(have))
	for _, b := range have {
		set[b] = struct{}{}
	}
	for _, b := range want {
		if _, ok := set[b]; !ok {
			return false
		}
	}
	return true
}

// commit runs the commit protocol: write lock, pre-commit hooks, the
// commit checks and phase one veto, then the journal write and the atomic
// publish of every shadow along with the namespace claims, then phase two.
//
// A veto rolls the transaction back to where it was when commit began. If
// the veto allows a retry the transaction stays open; otherwise it aborts.
func (es *EditSet) commit(ctx context.Context) *ReturnVal {
	span, ctx := tracing.StartSpanFromContext(ctx, "EditSet.Commit")
	defer span.Finish()

	if err := es.usable(); err != nil {
		return FailError(err)
	}
	if es.mustAbort {
		es.abort()
		return Fail(ErrIntegrity, "Transaction aborted", "the transaction was aborted after an integrity failure")
	}
	start := time.Now()

	// Pre-commit hooks may check out objects in bases the lock does not
	// cover yet; widen the lock and go again when they do.
	var lock *Lock
	preCommitted := make(map[Invid]struct{})
	es.takeCheckpoint(commitCheckpoint)
	for {
		bases := es.touchedBases()
		lock = es.store.locks.NewWriteLock(es.session.lockKey(), bases...)
		if err := lock.Establish(ctx); err != nil {
			es.rollbackInternal(commitCheckpoint)
			return FailError(err).withRetry()
		}
		for i := 0; i < len(es.order); i++ {
			obj := es.objects[es.order[i]]
			if obj == nil {
				continue
			}
			if _, done := preCommitted[obj.id]; done {
				continue
			}
			preCommitted[obj.id] = struct{}{}
			if rv := obj.base.hook.PreCommitHook(obj); !rv.OK() {
				lock.Release()
				return es.veto(rv, true)
			}
		}
		if containsAll(bases, es.touchedBases()) {
			break
		}
		lock.Release()
	}
	defer lock.Release()
	span.LogKV("objects", len(es.objects))

	es.committing = true
	if rv := es.checkObjects(); !rv.OK() {
		return es.veto(rv, !es.mustAbort)
	}
	for _, obj := range es.Objects() {
		if rv := obj.base.hook.CommitPhase1(obj); !rv.OK() {
			return es.veto(rv, rv.Retry)
		}
	}

	tick := es.store.nextTick()
	cs, err := es.prepareRecord(tick)
	if err != nil {
		es.logger.Errorf("encoding commit: %v", err)
		return es.veto(FailError(err), false)
	}
	puts, deletes, drops := cs.puts, cs.deletes, cs.drops
	if j := es.store.journal; j != nil {
		if err := j.Commit(ctx, cs.rec); err != nil {
			es.logger.Errorf("journal write failed: %v", err)
			return es.veto(FailError(errors.Wrap(errors.New(ErrJournal, err.Error()), "committing")), true)
		}
	}

	for base, objs := range puts {
		base.publish(objs, deletes[base], es.id, tick)
		delete(deletes, base)
	}
	for base, nums := range deletes {
		base.publish(nil, nums, es.id, tick)
	}
	for base, nums := range drops {
		for _, num := range nums {
			base.release(num, es.id)
		}
	}
	for _, ns := range es.store.namespaceList() {
		ns.Commit(es.id)
	}

	committed := es.Objects()
	es.finish()
	for _, obj := range committed {
		obj.base.hook.CommitPhase2(obj)
	}

	MetricTransactionsCommitted.Inc()
	MetricCommitSeconds.Observe(time.Since(start).Seconds())
	es.logger.Debugf("committed %d objects at tick %d", len(cs.rec.Puts)+len(cs.rec.Deletes), tick)
	return nil
}

// veto undoes a refused commit. With retry the transaction stays open.
func (es *EditSet) veto(rv *ReturnVal, retry bool) *ReturnVal {
	es.committing = false
	es.rollbackInternal(commitCheckpoint)
	MetricCommitVetoes.WithLabelValues(string(rv.Code())).Inc()
	if retry && !es.mustAbort {
		rv.Retry = true
		return rv
	}
	rv.Retry = false
	es.abort()
	return rv
}

// checkObjects enforces required fields, embedded containment and the
// per-base consistency checks.
func (es *EditSet) checkObjects() *ReturnVal {
	for _, obj := range es.Objects() {
		if obj.IsDeleting() {
			continue
		}
		if obj.base.embedded {
			container := obj.Container()
			if container.IsZero() || es.view(container) == nil || es.view(container).IsDeleting() {
				es.mustAbort = true
				es.logger.Errorf("embedded object %s has no container", obj.id)
				return Fail(ErrIntegrity, "Integrity error", "embedded object %s has no container", obj.Label())
			}
		}
		for _, fd := range obj.base.fields {
			if fd.BuiltIn || !obj.base.hook.FieldRequired(obj, fd.ID) {
				continue
			}
			if f := obj.Field(fd.ID); f == nil || !f.IsDefined() {
				return Fail(ErrValidation, "Missing field", "field '%s' of %s must be set", fd.Name, obj.Label())
			}
		}
		if rv := obj.base.hook.ConsistencyCheck(obj); !rv.OK() {
			return rv
		}
	}
	return nil
}

// encodeObject produces an object's journal record. Tests replace it.
var encodeObject = (*Object).MarshalBinary

// commitSet is what a commit writes to the journal and publishes to each
// base.
type commitSet struct {
	rec     *JournalRecord
	puts    map[*ObjectBase][]*Object
	deletes map[*ObjectBase][]int32
	drops   map[*ObjectBase][]int32
}

// prepareRecord stamps the bookkeeping fields and builds the journal record
// and the per-base publish sets. An object that can't be encoded fails the
// commit with ErrIntegrity.
func (es *EditSet) prepareRecord(tick uint64) (*commitSet, error) {
	now := es.store.now()
	who := es.session.Identity()
	rec := &JournalRecord{
		TxnID:       es.id,
		Description: es.desc,
		Identity:    who,
		Time:        now,
		Tick:        tick,
	}
	puts := make(map[*ObjectBase][]*Object)
	deletes := make(map[*ObjectBase][]int32)
	drops := make(map[*ObjectBase][]int32)
	for _, obj := range es.Objects() {
		switch obj.status {
		case statusDropping:
			drops[obj.base] = append(drops[obj.base], obj.id.Num)
		case statusDeleting:
			deletes[obj.base] = append(deletes[obj.base], obj.id.Num)
			rec.Deletes = append(rec.Deletes, obj.id)
		default:
			if obj.status == statusCreating {
				obj.Field(CreationDateField).value = now
				obj.Field(CreatorField).value = who
			}
			obj.Field(ModificationDateField).value = now
			obj.Field(ModifierField).value = who
			c := obj.committedCopy(tick)
			data, err := encodeObject(c)
			if err != nil {
				return nil, errors.Wrapf(errors.New(ErrIntegrity, err.Error()), "encoding %s", obj.Label())
			}
			rec.Puts = append(rec.Puts, JournalObject{Invid: obj.id, Data: data, Delta: c.Delta(obj.base.Object(obj.id.Num))})
			puts[obj.base] = append(puts[obj.base], c)
		}
	}
	return &commitSet{rec: rec, puts: puts, deletes: deletes, drops: drops}, nil
}

// abort releases every checkout and namespace claim.
func (es *EditSet) abort() *ReturnVal {
	if es.closed {
		return nil
	}
	for invid, obj := range es.objects {
		obj.base.release(invid.Num, es.id)
	}
	for _, ns := range es.store.namespaceList() {
		ns.Abort(es.id)
	}
	es.finish()
	MetricTransactionsAborted.Inc()
	es.logger.Debugf("aborted")
	return nil
}

func (es *EditSet) finish() {
	es.closed = true
	es.committing = false
	es.checkpoints = nil
	for _, obj := range es.objects {
		obj.markCommitted()
	}
	if es.session.editset == es {
		es.session.editset = nil
	}
}
