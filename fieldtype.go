// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/featurebasedb/objectdb/errors"
	"golang.org/x/crypto/bcrypt"
)

// FieldType is the value type of a field.
type FieldType uint8

const (
	FieldTypeString FieldType = iota + 1
	FieldTypeInteger
	FieldTypeFloat
	FieldTypeDate
	FieldTypeBoolean
	FieldTypeInvid
	FieldTypeBytes
	FieldTypePassword
	FieldTypePermMatrix
)

var fieldTypeNames = map[FieldType]string{
	FieldTypeString:     "string",
	FieldTypeInteger:    "integer",
	FieldTypeFloat:      "float",
	FieldTypeDate:       "date",
	FieldTypeBoolean:    "boolean",
	FieldTypeInvid:      "invid",
	FieldTypeBytes:      "bytes",
	FieldTypePassword:   "password",
	FieldTypePermMatrix: "permmatrix",
}

func (t FieldType) String() string {
	if s, ok := fieldTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("fieldtype(%d)", uint8(t))
}

// ParseFieldType returns the FieldType named s.
func ParseFieldType(s string) (FieldType, error) {
	for t, name := range fieldTypeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return 0, errors.New(ErrInvalidDefinition, fmt.Sprintf("unknown field type '%s'", s))
}

func (t FieldType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *FieldType) UnmarshalText(b []byte) error {
	v, err := ParseFieldType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// vectorAllowed reports whether fields of this type may hold lists.
func (t FieldType) vectorAllowed() bool {
	switch t {
	case FieldTypeBoolean, FieldTypePassword, FieldTypePermMatrix:
		return false
	}
	return true
}

// namespaceAllowed reports whether values of this type can be bound to a
// uniqueness namespace.
func (t FieldType) namespaceAllowed() bool {
	switch t {
	case FieldTypeString, FieldTypeInteger, FieldTypeInvid, FieldTypeBytes, FieldTypeDate:
		return true
	}
	return false
}

// PasswordHash is the stored form of a password field. Setting a password
// field to a plain string hashes it.
type PasswordHash []byte

// fieldKind holds the per-type behavior of field values.
type fieldKind interface {
	// normalize converts v to the canonical Go type for the field type, or
	// reports false if v is not acceptable.
	normalize(v interface{}) (interface{}, bool)
	equal(a, b interface{}) bool
	// key returns a string unique to the value, for duplicate detection and
	// namespace handles.
	key(v interface{}) string
	clone(v interface{}) interface{}
	display(v interface{}) string
	emit(buf *bytes.Buffer, v interface{})
	receive(r *bytes.Reader) (interface{}, error)
}

func kindOf(t FieldType) fieldKind {
	switch t {
	case FieldTypeString:
		return stringKind{}
	case FieldTypeInteger:
		return integerKind{}
	case FieldTypeFloat:
		return floatKind{}
	case FieldTypeDate:
		return dateKind{}
	case FieldTypeBoolean:
		return booleanKind{}
	case FieldTypeInvid:
		return invidKind{}
	case FieldTypeBytes:
		return bytesKind{}
	case FieldTypePassword:
		return passwordKind{}
	case FieldTypePermMatrix:
		return permMatrixKind{}
	}
	panic(fmt.Sprintf("no kind for field type %d", t))
}

func emitUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func emitVarint(buf *bytes.Buffer, v int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func emitBytes(buf *bytes.Buffer, b []byte) {
	emitUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

func receiveBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading length")
	}
	if n > uint64(r.Len()) {
		return nil, errors.New(ErrIntegrity, "length exceeds record")
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, errors.Wrap(err, "reading bytes")
	}
	return b, nil
}

type stringKind struct{}

func (stringKind) normalize(v interface{}) (interface{}, bool) {
	s, ok := v.(string)
	return s, ok
}
func (stringKind) equal(a, b interface{}) bool           { return a.(string) == b.(string) }
func (stringKind) key(v interface{}) string              { return v.(string) }
func (stringKind) clone(v interface{}) interface{}       { return v }
func (stringKind) display(v interface{}) string          { return v.(string) }
func (stringKind) emit(buf *bytes.Buffer, v interface{}) { emitBytes(buf, []byte(v.(string))) }
func (stringKind) receive(r *bytes.Reader) (interface{}, error) {
	b, err := receiveBytes(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

type integerKind struct{}

func (integerKind) normalize(v interface{}) (interface{}, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int16:
		return int64(x), true
	case uint32:
		return int64(x), true
	}
	return nil, false
}
func (integerKind) equal(a, b interface{}) bool           { return a.(int64) == b.(int64) }
func (integerKind) key(v interface{}) string              { return strconv.FormatInt(v.(int64), 10) }
func (integerKind) clone(v interface{}) interface{}       { return v }
func (integerKind) display(v interface{}) string          { return strconv.FormatInt(v.(int64), 10) }
func (integerKind) emit(buf *bytes.Buffer, v interface{}) { emitVarint(buf, v.(int64)) }
func (integerKind) receive(r *bytes.Reader) (interface{}, error) {
	v, err := binary.ReadVarint(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading integer")
	}
	return v, nil
}

type floatKind struct{}

func (floatKind) normalize(v interface{}) (interface{}, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x)
	case float32:
		return float64(x), !math.IsNaN(float64(x))
	}
	return nil, false
}
func (floatKind) equal(a, b interface{}) bool     { return a.(float64) == b.(float64) }
func (floatKind) key(v interface{}) string        { return strconv.FormatFloat(v.(float64), 'g', -1, 64) }
func (floatKind) clone(v interface{}) interface{} { return v }
func (floatKind) display(v interface{}) string    { return strconv.FormatFloat(v.(float64), 'g', -1, 64) }
func (floatKind) emit(buf *bytes.Buffer, v interface{}) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v.(float64)))
	buf.Write(tmp[:])
}
func (floatKind) receive(r *bytes.Reader) (interface{}, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return nil, errors.Wrap(err, "reading float")
	}
	return math.Float64frombits(binary.BigEndian.Uint64(tmp[:])), nil
}

type dateKind struct{}

func (dateKind) normalize(v interface{}) (interface{}, bool) {
	t, ok := v.(time.Time)
	if !ok || t.IsZero() {
		return nil, false
	}
	return t.UTC(), true
}
func (dateKind) equal(a, b interface{}) bool { return a.(time.Time).Equal(b.(time.Time)) }

// Dates are stored as Unix seconds plus nanoseconds. UnixNano overflows
// outside 1678-2262.
func (dateKind) key(v interface{}) string {
	t := v.(time.Time)
	return fmt.Sprintf("%d.%09d", t.Unix(), t.Nanosecond())
}
func (dateKind) clone(v interface{}) interface{} { return v }
func (dateKind) display(v interface{}) string    { return v.(time.Time).Format(time.RFC3339) }
func (dateKind) emit(buf *bytes.Buffer, v interface{}) {
	t := v.(time.Time)
	emitVarint(buf, t.Unix())
	emitUvarint(buf, uint64(t.Nanosecond()))
}
func (dateKind) receive(r *bytes.Reader) (interface{}, error) {
	sec, err := binary.ReadVarint(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading date")
	}
	nsec, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading date")
	}
	if nsec >= uint64(time.Second) {
		return nil, errors.New(ErrIntegrity, fmt.Sprintf("date has %d nanoseconds", nsec))
	}
	return time.Unix(sec, int64(nsec)).UTC(), nil
}

type booleanKind struct{}

func (booleanKind) normalize(v interface{}) (interface{}, bool) {
	b, ok := v.(bool)
	return b, ok
}
func (booleanKind) equal(a, b interface{}) bool     { return a.(bool) == b.(bool) }
func (booleanKind) key(v interface{}) string        { return strconv.FormatBool(v.(bool)) }
func (booleanKind) clone(v interface{}) interface{} { return v }
func (booleanKind) display(v interface{}) string    { return strconv.FormatBool(v.(bool)) }
func (booleanKind) emit(buf *bytes.Buffer, v interface{}) {
	if v.(bool) {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}
func (booleanKind) receive(r *bytes.Reader) (interface{}, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, "reading boolean")
	}
	return b != 0, nil
}

type invidKind struct{}

func (invidKind) normalize(v interface{}) (interface{}, bool) {
	i, ok := v.(Invid)
	if !ok || i.IsZero() {
		return nil, false
	}
	return i, true
}
func (invidKind) equal(a, b interface{}) bool     { return a.(Invid) == b.(Invid) }
func (invidKind) key(v interface{}) string        { return v.(Invid).String() }
func (invidKind) clone(v interface{}) interface{} { return v }
func (invidKind) display(v interface{}) string    { return v.(Invid).String() }
func (invidKind) emit(buf *bytes.Buffer, v interface{}) {
	i := v.(Invid)
	emitVarint(buf, int64(i.Base))
	emitVarint(buf, int64(i.Num))
}
func (invidKind) receive(r *bytes.Reader) (interface{}, error) {
	b, err := binary.ReadVarint(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading invid base")
	}
	n, err := binary.ReadVarint(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading invid number")
	}
	return Invid{Base: BaseID(b), Num: int32(n)}, nil
}

type bytesKind struct{}

func (bytesKind) normalize(v interface{}) (interface{}, bool) {
	b, ok := v.([]byte)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}
func (bytesKind) equal(a, b interface{}) bool           { return bytes.Equal(a.([]byte), b.([]byte)) }
func (bytesKind) key(v interface{}) string              { return string(v.([]byte)) }
func (bytesKind) clone(v interface{}) interface{}       { return append([]byte(nil), v.([]byte)...) }
func (bytesKind) display(v interface{}) string          { return hex.EncodeToString(v.([]byte)) }
func (bytesKind) emit(buf *bytes.Buffer, v interface{}) { emitBytes(buf, v.([]byte)) }
func (bytesKind) receive(r *bytes.Reader) (interface{}, error) {
	return receiveBytes(r)
}

// passwordKind accepts a plaintext string, which it hashes with bcrypt, or an
// existing PasswordHash.
type passwordKind struct{}

func (passwordKind) normalize(v interface{}) (interface{}, bool) {
	switch x := v.(type) {
	case PasswordHash:
		return PasswordHash(append([]byte(nil), x...)), true
	case string:
		h, err := bcrypt.GenerateFromPassword([]byte(x), bcrypt.DefaultCost)
		if err != nil {
			return nil, false
		}
		return PasswordHash(h), true
	}
	return nil, false
}
func (passwordKind) equal(a, b interface{}) bool {
	return bytes.Equal(a.(PasswordHash), b.(PasswordHash))
}
func (passwordKind) key(v interface{}) string { return string(v.(PasswordHash)) }
func (passwordKind) clone(v interface{}) interface{} {
	return PasswordHash(append([]byte(nil), v.(PasswordHash)...))
}
func (passwordKind) display(v interface{}) string { return "********" }
func (passwordKind) emit(buf *bytes.Buffer, v interface{}) {
	emitBytes(buf, v.(PasswordHash))
}
func (passwordKind) receive(r *bytes.Reader) (interface{}, error) {
	b, err := receiveBytes(r)
	if err != nil {
		return nil, err
	}
	return PasswordHash(b), nil
}

// matchPassword reports whether plain hashes to h.
func matchPassword(h PasswordHash, plain string) bool {
	return bcrypt.CompareHashAndPassword(h, []byte(plain)) == nil
}

type permMatrixKind struct{}

func (permMatrixKind) normalize(v interface{}) (interface{}, bool) {
	m, ok := v.(*PermMatrix)
	if !ok || m == nil {
		return nil, false
	}
	return m.Clone(), true
}
func (permMatrixKind) equal(a, b interface{}) bool     { return a.(*PermMatrix).Equal(b.(*PermMatrix)) }
func (permMatrixKind) key(v interface{}) string        { return v.(*PermMatrix).String() }
func (permMatrixKind) clone(v interface{}) interface{} { return v.(*PermMatrix).Clone() }
func (permMatrixKind) display(v interface{}) string    { return v.(*PermMatrix).String() }
func (permMatrixKind) emit(buf *bytes.Buffer, v interface{}) {
	entries := v.(*PermMatrix).Entries()
	emitUvarint(buf, uint64(len(entries)))
	for _, e := range entries {
		emitVarint(buf, int64(e.Base))
		emitVarint(buf, int64(e.Field))
		buf.WriteByte(byte(e.Perm))
	}
}
func (permMatrixKind) receive(r *bytes.Reader) (interface{}, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading matrix size")
	}
	m := NewPermMatrix()
	for i := uint64(0); i < n; i++ {
		b, err := binary.ReadVarint(r)
		if err != nil {
			return nil, errors.Wrap(err, "reading matrix base")
		}
		f, err := binary.ReadVarint(r)
		if err != nil {
			return nil, errors.Wrap(err, "reading matrix field")
		}
		p, err := r.ReadByte()
		if err != nil {
			return nil, errors.Wrap(err, "reading matrix entry")
		}
		m.entries[permKey{BaseID(b), FieldID(f)}] = PermEntry(p)
	}
	return m, nil
}
