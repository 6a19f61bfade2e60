// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"bytes"
	"context"
	"io/ioutil"
	"strings"
	"testing"

	"github.com/featurebasedb/objectdb/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigCommand_Run(t *testing.T) {
	var buf bytes.Buffer
	cm := NewConfigCommand(strings.NewReader(""), &buf, ioutil.Discard)
	require.Error(t, cm.Run(context.Background()))

	cm.Config = server.NewConfig()
	cm.Config.Bind = "localhost:12345"
	require.NoError(t, cm.Run(context.Background()))
	assert.Contains(t, buf.String(), `bind = "localhost:12345"`)
}
