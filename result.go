// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

import (
	"fmt"
	"sort"
	"strings"

	"github.com/featurebasedb/objectdb/errors"
)

// Dialog is a message meant for the person driving a client.
type Dialog struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Wizard is a multi-step interaction returned in place of a direct result.
// The client answers the dialog through Respond, which yields the next step
// or the final outcome.
type Wizard interface {
	Respond(answers map[string]interface{}) *ReturnVal
}

// rescan records which fields of an object a client should refresh.
type rescan struct {
	all    bool
	fields map[FieldID]struct{}
}

// ReturnVal is the outcome of a field mutation, object operation or commit.
// A nil *ReturnVal means plain success; every method is safe on nil.
type ReturnVal struct {
	success bool
	code    errors.Code
	err     error

	Dialog *Dialog

	// DoNormalProcessing, set by a wizard hook on a successful ReturnVal,
	// tells the mutator to carry on with the operation.
	DoNormalProcessing bool

	// Callback is set when the result is a wizard step.
	Callback Wizard

	// Retry marks a commit veto that left the transaction open.
	Retry bool

	// Invid is the object created by the operation, if any.
	Invid Invid

	rescans map[Invid]*rescan
}

// Success returns a successful ReturnVal, for results that need to carry
// rescan or dialog information.
func Success() *ReturnVal {
	return &ReturnVal{success: true}
}

// Continue returns a successful ReturnVal asking the mutator to proceed
// normally. Wizard hooks return it to pass rescan information along.
func Continue() *ReturnVal {
	return &ReturnVal{success: true, DoNormalProcessing: true}
}

// Fail returns a failed ReturnVal with a dialog.
func Fail(code errors.Code, title, format string, args ...interface{}) *ReturnVal {
	text := fmt.Sprintf(format, args...)
	return &ReturnVal{
		code:   code,
		err:    errors.New(code, text),
		Dialog: &Dialog{Title: title, Text: text},
	}
}

// FailError wraps err in a failed ReturnVal. The code is taken from err when
// it carries one.
func FailError(err error) *ReturnVal {
	if err == nil {
		return nil
	}
	code := errors.CodeOf(err)
	if code == "" {
		code = errors.ErrUncoded
	}
	return &ReturnVal{
		code:   code,
		err:    err,
		Dialog: &Dialog{Title: "Error", Text: err.Error()},
	}
}

// WizardStep returns a successful ReturnVal that hands control to w.
func WizardStep(w Wizard, title, text string) *ReturnVal {
	return &ReturnVal{
		success:  true,
		Callback: w,
		Dialog:   &Dialog{Title: title, Text: text},
	}
}

// OK reports whether the operation succeeded.
func (rv *ReturnVal) OK() bool { return rv == nil || rv.success }

// Code returns the failure code, or the empty Code on success.
func (rv *ReturnVal) Code() errors.Code {
	if rv.OK() {
		return ""
	}
	return rv.code
}

// Err returns nil on success and a coded error otherwise.
func (rv *ReturnVal) Err() error {
	if rv.OK() {
		return nil
	}
	if rv.err != nil {
		return rv.err
	}
	return errors.New(rv.code, rv.text())
}

// IsWizard reports whether rv is a wizard step the client must answer.
func (rv *ReturnVal) IsWizard() bool { return rv != nil && rv.Callback != nil }

func (rv *ReturnVal) text() string {
	if rv == nil || rv.Dialog == nil {
		return ""
	}
	return rv.Dialog.Text
}

// withRetry marks a failure as leaving its transaction open.
func (rv *ReturnVal) withRetry() *ReturnVal {
	if rv != nil && !rv.success {
		rv.Retry = true
	}
	return rv
}

// AddRescanField asks clients to refresh one field of invid.
func (rv *ReturnVal) AddRescanField(invid Invid, field FieldID) *ReturnVal {
	if rv == nil {
		rv = Success()
	}
	r := rv.rescanFor(invid)
	if !r.all {
		r.fields[field] = struct{}{}
	}
	return rv
}

// AddRescanObject asks clients to refresh every field of invid.
func (rv *ReturnVal) AddRescanObject(invid Invid) *ReturnVal {
	if rv == nil {
		rv = Success()
	}
	r := rv.rescanFor(invid)
	r.all = true
	r.fields = map[FieldID]struct{}{}
	return rv
}

func (rv *ReturnVal) rescanFor(invid Invid) *rescan {
	if rv.rescans == nil {
		rv.rescans = make(map[Invid]*rescan)
	}
	r, ok := rv.rescans[invid]
	if !ok {
		r = &rescan{fields: map[FieldID]struct{}{}}
		rv.rescans[invid] = r
	}
	return r
}

// Rescans returns the objects carrying rescan requests, in Invid order.
func (rv *ReturnVal) Rescans() []Invid {
	if rv == nil {
		return nil
	}
	out := make([]Invid, 0, len(rv.rescans))
	for i := range rv.rescans {
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Base != out[b].Base {
			return out[a].Base < out[b].Base
		}
		return out[a].Num < out[b].Num
	})
	return out
}

// RescanAll reports whether every field of invid should be refreshed.
func (rv *ReturnVal) RescanAll(invid Invid) bool {
	if rv == nil {
		return false
	}
	r, ok := rv.rescans[invid]
	return ok && r.all
}

// RescanFields returns the fields of invid to refresh, in id order.
func (rv *ReturnVal) RescanFields(invid Invid) []FieldID {
	if rv == nil {
		return nil
	}
	r, ok := rv.rescans[invid]
	if !ok {
		return nil
	}
	out := make([]FieldID, 0, len(r.fields))
	for f := range r.fields {
		out = append(out, f)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// Merge folds the rescan requests and dialog of other into rv and returns
// the result. Merging into nil allocates. A failed other is returned as is.
func (rv *ReturnVal) Merge(other *ReturnVal) *ReturnVal {
	if other == nil {
		return rv
	}
	if !other.OK() {
		return other
	}
	if rv == nil {
		rv = Success()
	}
	for invid, r := range other.rescans {
		if r.all {
			rv.AddRescanObject(invid)
			continue
		}
		for f := range r.fields {
			rv.AddRescanField(invid, f)
		}
	}
	if other.Dialog != nil {
		if rv.Dialog == nil {
			d := *other.Dialog
			rv.Dialog = &d
		} else {
			rv.Dialog.Text = strings.TrimSpace(rv.Dialog.Text + "\n" + other.Dialog.Text)
		}
	}
	if !other.Invid.IsZero() {
		rv.Invid = other.Invid
	}
	return rv
}

func (rv *ReturnVal) String() string {
	if rv == nil {
		return "success"
	}
	if rv.success {
		if rv.Callback != nil {
			return "wizard: " + rv.text()
		}
		return "success"
	}
	return fmt.Sprintf("%s: %s", rv.code, rv.text())
}
