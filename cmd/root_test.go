// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/featurebasedb/objectdb/cmd"
	"github.com/featurebasedb/objectdb/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execRoot runs the root command with args and returns its combined output.
func execRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rc := cmd.NewRootCommand(strings.NewReader(""), &buf, &buf)
	rc.SetArgs(args)
	err := rc.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	out, err := execRoot(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "Available Commands:")
	for _, sub := range []string{"server", "config", "generate-config", "dump", "status"} {
		assert.Contains(t, out, sub)
	}
}

func TestServerConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "objectdb.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
data-dir = "/tmp/fromfile"
bind = "localhost:0"
verbose = true

[lock]
poll-interval = "20ms"

[tasks]
workers = 3
expiration-interval = "5m"
`), 0600))

	t.Run("Precedence", func(t *testing.T) {
		t.Setenv("OBJECTDB_BIND", "localhost:20000")
		t.Setenv("OBJECTDB_TASKS_WORKERS", "7")
		_, err := execRoot(t, "server", "--dry-run", "-c", cfgPath, "--data-dir", dir)
		require.EqualError(t, err, "dry run")

		c := cmd.Server.Config
		// flag beats env beats file
		assert.Equal(t, dir, c.DataDir)
		assert.Equal(t, "localhost:20000", c.Bind)
		assert.Equal(t, 7, c.Tasks.Workers)
		assert.True(t, c.Verbose)
		assert.Equal(t, toml.Duration(20*time.Millisecond), c.Lock.PollInterval)
		assert.Equal(t, toml.Duration(5*time.Minute), c.Tasks.ExpirationInterval)
	})

	t.Run("Defaults", func(t *testing.T) {
		_, err := execRoot(t, "server", "--dry-run")
		require.EqualError(t, err, "dry run")
		assert.Equal(t, "localhost:10110", cmd.Server.Config.Bind)
		assert.Equal(t, toml.Duration(100*time.Millisecond), cmd.Server.Config.Lock.PollInterval)
	})

	t.Run("UnknownKey", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.toml")
		require.NoError(t, os.WriteFile(bad, []byte("max-writes-per-request = 3\n"), 0600))
		_, err := execRoot(t, "server", "--dry-run", "-c", bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid option in configuration file")
	})
}

func TestConfigCommand(t *testing.T) {
	t.Setenv("OBJECTDB_DATA_DIR", "/srv/objectdb")
	out, err := execRoot(t, "config", "--tasks.workers", "9")
	require.NoError(t, err)
	assert.Contains(t, out, `data-dir = "/srv/objectdb"`)
	assert.Contains(t, out, "workers = 9")
}

func TestGenerateConfigCommand(t *testing.T) {
	out, err := execRoot(t, "generate-config")
	require.NoError(t, err)
	assert.Contains(t, out, `bind = "localhost:10110"`)
}

func TestServerCommand(t *testing.T) {
	var buf bytes.Buffer
	rc := cmd.NewRootCommand(strings.NewReader(""), &buf, &buf)
	rc.SetArgs([]string{"server", "--data-dir", t.TempDir(), "--bind", "localhost:0", "--no-sync", "--supergash-password", "pw"})
	executed := make(chan error, 1)
	go func() { executed <- rc.Execute() }()

	srv := cmd.Server
	select {
	case <-srv.Started:
	case err := <-executed:
		t.Fatalf("server exited early: %v\n%s", err, buf.String())
	case <-time.After(10 * time.Second):
		t.Fatal("server did not start")
	}

	var out bytes.Buffer
	st := cmd.NewRootCommand(strings.NewReader(""), &out, &out)
	st.SetArgs([]string{"status", "--host", srv.Addr().String()})
	require.NoError(t, st.Execute())
	assert.Contains(t, out.String(), "tick: ")

	require.NoError(t, srv.Close())
	require.NoError(t, <-executed)
}
