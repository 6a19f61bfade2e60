// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package authz loads role definitions from a YAML file into an object
// store.
package authz

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"sort"
	"strings"

	"github.com/featurebasedb/objectdb"
	"github.com/featurebasedb/objectdb/errors"
	"gopkg.in/yaml.v2"
)

// RoleFile is a set of roles keyed by role name.
//
//	roles:
//	  "Account Admin":
//	    delegatable: true
//	    owned:
//	      User: vecd
//	      User.Password: ve
//	    default:
//	      User: v
type RoleFile struct {
	Roles map[string]RoleSpec `yaml:"roles"`
}

// RoleSpec describes one role. Matrix keys are a base name, or a base name
// and field name joined by a dot; values are permission strings such as
// "vecd" or "v".
type RoleSpec struct {
	Delegatable bool              `yaml:"delegatable"`
	Owned       map[string]string `yaml:"owned"`
	Default     map[string]string `yaml:"default"`
}

// ReadRoleFile parses a role file. Unknown keys are an error.
func ReadRoleFile(r io.Reader) (*RoleFile, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading role file")
	}
	var f RoleFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, errors.Wrap(err, "unmarshalling role file")
	}
	return &f, nil
}

// Matrix resolves a matrix spec against the store's schema.
func Matrix(store *objectdb.Store, spec map[string]string) (*objectdb.PermMatrix, error) {
	m := objectdb.NewPermMatrix()
	keys := make([]string, 0, len(spec))
	for k := range spec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		p, err := objectdb.ParsePermEntry(spec[key])
		if err != nil {
			return nil, errors.Wrapf(err, "entry '%s'", key)
		}
		baseName, fieldName := key, ""
		if i := strings.LastIndex(key, "."); i >= 0 {
			baseName, fieldName = key[:i], key[i+1:]
		}
		base := store.BaseByName(baseName)
		if base == nil {
			return nil, errors.New(objectdb.ErrUnknownBase, fmt.Sprintf("entry '%s': no base named '%s'", key, baseName))
		}
		if fieldName == "" {
			m.Set(base.ID(), p)
			continue
		}
		fd := base.FieldByName(fieldName)
		if fd == nil {
			return nil, errors.New(objectdb.ErrUnknownField, fmt.Sprintf("entry '%s': base '%s' has no field '%s'", key, baseName, fieldName))
		}
		m.SetField(base.ID(), fd.ID, p)
	}
	return m, nil
}

// Apply creates or updates the roles in f in one transaction.
func Apply(ctx context.Context, store *objectdb.Store, f *RoleFile) error {
	sess := store.NewInternalSession("role file")
	defer sess.Close()
	if _, err := sess.OpenTransaction("apply role file"); err != nil {
		return err
	}

	names := make([]string, 0, len(f.Roles))
	for name := range f.Roles {
		names = append(names, name)
	}
	sort.Strings(names)

	ns := store.Namespace(objectdb.NamespaceRoles)
	for _, name := range names {
		spec := f.Roles[name]
		owned, err := Matrix(store, spec.Owned)
		if err != nil {
			sess.Abort()
			return errors.Wrapf(err, "role '%s' owned", name)
		}
		unowned, err := Matrix(store, spec.Default)
		if err != nil {
			sess.Abort()
			return errors.Wrapf(err, "role '%s' default", name)
		}

		var role *objectdb.Object
		var rv *objectdb.ReturnVal
		if ref, ok := ns.Lookup("", name); ok {
			role, rv = sess.EditObject(ref.Object)
		} else {
			role, rv = sess.CreateObject(objectdb.RoleBase)
			if rv.OK() {
				rv = role.Field(objectdb.RoleNameField).SetValue(name)
			}
		}
		if rv.OK() {
			rv = role.Field(objectdb.RoleMatrixField).SetValue(owned)
		}
		if rv.OK() {
			rv = role.Field(objectdb.RoleDefaultMatrixField).SetValue(unowned)
		}
		if rv.OK() {
			rv = role.Field(objectdb.RoleDelegatableField).SetValue(spec.Delegatable)
		}
		if !rv.OK() {
			sess.Abort()
			return errors.Wrapf(rv.Err(), "role '%s'", name)
		}
	}
	if rv := sess.Commit(ctx); !rv.OK() {
		return errors.Wrap(rv.Err(), "committing roles")
	}
	return nil
}
