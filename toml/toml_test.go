// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package toml_test

import (
	"testing"
	"time"

	"github.com/featurebasedb/objectdb/toml"
	"github.com/stretchr/testify/assert"
)

func TestDuration(t *testing.T) {
	var d toml.Duration
	assert.NoError(t, d.Set("250ms"))
	assert.Equal(t, 250*time.Millisecond, d.D())
	assert.Equal(t, "duration", d.Type())

	b, err := d.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "250ms", string(b))

	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
