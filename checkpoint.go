// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

import (
	"fmt"

	"github.com/featurebasedb/objectdb/errors"
)

// checkpoint is a saved state of a transaction: the values of every object
// it had checked out, and its namespace claims.
type checkpoint struct {
	label      string
	objects    map[Invid]objectSnapshot
	order      []Invid
	namespaces map[string]nsSnapshot
}

type objectSnapshot struct {
	status objectStatus
	fields []fieldSnapshot
}

type fieldSnapshot struct {
	value  interface{}
	values []interface{}
}

func (es *EditSet) takeCheckpoint(label string) {
	cp := &checkpoint{
		label:      label,
		objects:    make(map[Invid]objectSnapshot, len(es.objects)),
		order:      append([]Invid(nil), es.order...),
		namespaces: make(map[string]nsSnapshot),
	}
	for invid, obj := range es.objects {
		snap := objectSnapshot{status: obj.status, fields: make([]fieldSnapshot, len(obj.fields))}
		for i, f := range obj.fields {
			var tmp Field
			tmp.def = f.def
			tmp.copyValuesFrom(f)
			snap.fields[i] = fieldSnapshot{value: tmp.value, values: tmp.values}
		}
		cp.objects[invid] = snap
	}
	for _, ns := range es.store.namespaceList() {
		cp.namespaces[ns.name] = ns.snapshot(es.id)
	}
	es.checkpoints = append(es.checkpoints, cp)
}

func (es *EditSet) findCheckpoint(label string) int {
	for i := len(es.checkpoints) - 1; i >= 0; i-- {
		if es.checkpoints[i].label == label {
			return i
		}
	}
	return -1
}

// restoreCheckpoint returns the transaction to checkpoint i and discards it
// along with every later checkpoint. Field objects are restored in place,
// so callers holding a *Field keep a valid handle.
func (es *EditSet) restoreCheckpoint(i int) {
	cp := es.checkpoints[i]
	es.checkpoints = es.checkpoints[:i]

	for invid, obj := range es.objects {
		snap, ok := cp.objects[invid]
		if !ok {
			// checked out after the checkpoint
			obj.base.release(invid.Num, es.id)
			delete(es.objects, invid)
			continue
		}
		obj.status = snap.status
		for j, f := range obj.fields {
			f.value = snap.fields[j].value
			f.values = snap.fields[j].values
		}
	}
	es.order = cp.order

	for _, ns := range es.store.namespaceList() {
		ns.restore(es.id, cp.namespaces[ns.name])
	}
}

// Checkpoint saves the transaction state under label. Checkpoints nest;
// labels need not be unique, the latest one wins.
func (es *EditSet) Checkpoint(label string) error {
	if err := es.usable(); err != nil {
		return err
	}
	es.takeCheckpoint(label)
	return nil
}

// Rollback returns the transaction to the latest checkpoint named label,
// discarding it and every checkpoint taken after it.
func (es *EditSet) Rollback(label string) error {
	if err := es.usable(); err != nil {
		return err
	}
	i := es.findCheckpoint(label)
	if i < 0 {
		return errors.New(ErrCheckpointNotFound, fmt.Sprintf("no checkpoint named '%s'", label))
	}
	es.restoreCheckpoint(i)
	return nil
}

// PopCheckpoint discards the latest checkpoint named label without rolling
// back.
func (es *EditSet) PopCheckpoint(label string) error {
	if err := es.usable(); err != nil {
		return err
	}
	i := es.findCheckpoint(label)
	if i < 0 {
		return errors.New(ErrCheckpointNotFound, fmt.Sprintf("no checkpoint named '%s'", label))
	}
	es.checkpoints = append(es.checkpoints[:i], es.checkpoints[i+1:]...)
	return nil
}

// internalCheckpoint takes a checkpoint under a label no caller can use.
func (es *EditSet) internalCheckpoint() string {
	es.seq++
	label := fmt.Sprintf("\x00internal-%d", es.seq)
	es.takeCheckpoint(label)
	return label
}

func (es *EditSet) rollbackInternal(label string) {
	if i := es.findCheckpoint(label); i >= 0 {
		es.restoreCheckpoint(i)
	}
}

func (es *EditSet) popInternal(label string) {
	if i := es.findCheckpoint(label); i >= 0 {
		es.checkpoints = append(es.checkpoints[:i], es.checkpoints[i+1:]...)
	}
}
