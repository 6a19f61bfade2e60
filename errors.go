// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

import (
	"fmt"

	"github.com/featurebasedb/objectdb/errors"
)

// Failure codes. Field mutators report these through a ReturnVal; the
// session, lock and schema APIs return them as coded errors.
const (
	ErrPermissionDenied   errors.Code = "PermissionDenied"
	ErrTypeMismatch       errors.Code = "TypeMismatch"
	ErrValidation         errors.Code = "ValidationRejected"
	ErrDuplicateValue     errors.Code = "DuplicateValue"
	ErrNamespaceConflict  errors.Code = "NamespaceConflict"
	ErrBusinessRule       errors.Code = "BusinessRuleVeto"
	ErrIndexOutOfRange    errors.Code = "IndexOutOfRange"
	ErrConcurrency        errors.Code = "ConcurrencyDenied"
	ErrIntegrity          errors.Code = "IntegrityViolation"
	ErrInterrupted        errors.Code = "Interrupted"
	ErrLockHeld           errors.Code = "LockHeld"
	ErrObjectBusy         errors.Code = "ObjectBusy"
	ErrNotFound           errors.Code = "NotFound"
	ErrTransactionState   errors.Code = "TransactionState"
	ErrSchemaEdit         errors.Code = "SchemaEdit"
	ErrBadLogin           errors.Code = "BadLogin"
	ErrJournal            errors.Code = "JournalFailure"
	ErrUnknownBase        errors.Code = "UnknownBase"
	ErrUnknownField       errors.Code = "UnknownField"
	ErrUnknownNamespace   errors.Code = "UnknownNamespace"
	ErrNamespaceExists    errors.Code = "NamespaceExists"
	ErrBaseExists         errors.Code = "BaseExists"
	ErrFieldExists        errors.Code = "FieldExists"
	ErrSessionClosed      errors.Code = "SessionClosed"
	ErrStoreNotOpen       errors.Code = "StoreNotOpen"
	ErrInvalidDefinition  errors.Code = "InvalidDefinition"
	ErrObjectNotEditable  errors.Code = "ObjectNotEditable"
	ErrCheckpointNotFound errors.Code = "CheckpointNotFound"
)

func newErrUnknownBase(id BaseID) error {
	return errors.New(ErrUnknownBase, fmt.Sprintf("object base %d does not exist", id))
}

func newErrUnknownBaseName(name string) error {
	return errors.New(ErrUnknownBase, fmt.Sprintf("object base '%s' does not exist", name))
}

func newErrUnknownField(base *ObjectBase, id FieldID) error {
	return errors.New(ErrUnknownField, fmt.Sprintf("field %d is not defined in object base '%s'", id, base.Name()))
}

func newErrNotFound(invid Invid) error {
	return errors.New(ErrNotFound, fmt.Sprintf("object %s does not exist", invid))
}

func newErrNoTransaction() error {
	return errors.New(ErrTransactionState, "no transaction is open")
}

func newErrInterrupted(what string) error {
	return errors.New(ErrInterrupted, what+" interrupted")
}
