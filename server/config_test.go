// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package server_test

import (
	"testing"
	"time"

	"github.com/featurebasedb/objectdb/server"
	"github.com/pelletier/go-toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	c := server.NewConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, 100*time.Millisecond, c.Lock.PollInterval.D())
	assert.Equal(t, time.Hour, c.Tasks.ExpirationInterval.D())
}

func TestConfig_TOML(t *testing.T) {
	c := server.NewConfig()
	err := toml.Unmarshal([]byte(`
data-dir = "/var/lib/objectdb"
bind = ":9999"
verbose = true

[lock]
poll-interval = "250ms"

[tasks]
workers = 4
expiration-interval = "0s"
`), c)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/objectdb", c.DataDir)
	assert.Equal(t, ":9999", c.Bind)
	assert.True(t, c.Verbose)
	assert.Equal(t, 250*time.Millisecond, c.Lock.PollInterval.D())
	assert.Equal(t, 4, c.Tasks.Workers)
	assert.Zero(t, c.Tasks.ExpirationInterval)
	require.NoError(t, c.Validate())

	out, err := toml.Marshal(*c)
	require.NoError(t, err)
	assert.Contains(t, string(out), `poll-interval = "250ms"`)
}

func TestConfig_Validate(t *testing.T) {
	for name, mod := range map[string]func(c *server.Config){
		"DataDir":  func(c *server.Config) { c.DataDir = "" },
		"Bind":     func(c *server.Config) { c.Bind = "" },
		"Poll":     func(c *server.Config) { c.Lock.PollInterval = 0 },
		"Workers":  func(c *server.Config) { c.Tasks.Workers = 0 },
		"Interval": func(c *server.Config) { c.Tasks.ExpirationInterval = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			c := server.NewConfig()
			mod(c)
			assert.Error(t, c.Validate())
		})
	}
}
