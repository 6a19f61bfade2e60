// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package errors wraps pkg/errors and attaches a Code to errors, so callers
// can branch on the kind of failure (permission, namespace conflict, ...)
// without parsing messages. Codes survive wrapping and a round trip through
// JSON.
package errors

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Code names a kind of failure. Packages declare their own codes; this
// package only defines ErrUncoded.
type Code string

// ErrUncoded marks a failure nobody assigned a more specific code to.
const ErrUncoded Code = "Uncoded"

// New returns an error carrying code, with a stack trace attached.
func New(code Code, message string) error {
	return errors.WithStack(coded{Code: code, Message: message})
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...interface{}) error {
	return New(code, fmt.Sprintf(format, args...))
}

// Is reports whether any error in err's chain carries code.
func Is(err error, code Code) bool {
	return errors.Is(err, coded{Code: code})
}

// CodeOf returns the first code found in err's chain, or "" when there is
// none.
func CodeOf(err error) Code {
	var c coded
	if errors.As(err, &c) {
		return c.Code
	}
	return ""
}

func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

type coded struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	// Wrapped is the full message, including any context added by Wrap,
	// once the error has been through MarshalJSON.
	Wrapped string `json:"wrapped,omitempty"`
}

func (c coded) Error() string {
	if c.Wrapped != "" {
		return c.Wrapped
	}
	return c.Message
}

func (c coded) Is(err error) bool {
	other, ok := err.(coded)
	return ok && other.Code == c.Code
}

// MarshalJSON encodes err as a JSON object with its code, its innermost
// message, and the full wrapped message. Errors without a code encode with
// an empty code.
func MarshalJSON(err error) []byte {
	out := coded{Wrapped: err.Error()}
	var c coded
	if errors.As(err, &c) {
		out.Code, out.Message = c.Code, c.Message
	} else {
		out.Message = errors.Cause(err).Error()
	}
	b, jerr := json.Marshal(out)
	if jerr != nil {
		return []byte(fmt.Sprintf("%q", out.Error()))
	}
	return b
}

// UnmarshalJSON reads an error written by MarshalJSON. Anything else comes
// back as an uncoded error holding the raw body.
func UnmarshalJSON(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return Wrap(err, "reading error body")
	}
	var c coded
	if err := json.Unmarshal(b, &c); err != nil || (c.Message == "" && c.Wrapped == "") {
		return New(ErrUncoded, string(b))
	}
	if c.Code == "" {
		c.Code = ErrUncoded
	}
	return c
}
