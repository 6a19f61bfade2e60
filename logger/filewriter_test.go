// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package logger_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/featurebasedb/objectdb/logger"
	"github.com/stretchr/testify/require"
)

// TestFileWriterReopenAppends makes sure a reopen after the file was moved
// away starts a fresh file and never truncates an existing one.
func TestFileWriterReopenAppends(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "objectdb.log")
	require.NoError(t, os.WriteFile(name, []byte("line0\n"), 0600))

	fw, err := logger.NewFileWriter(name)
	require.NoError(t, err)
	_, err = fw.Write([]byte("line1\n"))
	require.NoError(t, err)

	require.NoError(t, os.Rename(name, name+".1"))
	require.NoError(t, fw.Reopen())
	_, err = fw.Write([]byte("line2\n"))
	require.NoError(t, err)
	require.NoError(t, fw.Close())

	rotated, err := os.ReadFile(name + ".1")
	require.NoError(t, err)
	require.Equal(t, "line0\nline1\n", string(rotated))

	fresh, err := os.ReadFile(name)
	require.NoError(t, err)
	require.Equal(t, "line2\n", string(fresh))
}

func TestStandardLoggerLevels(t *testing.T) {
	var buf strings.Builder
	l := logger.NewStandardLogger(&buf)
	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.WithPrefix("store: ").Warnf("careful")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "INFO:  shown 2")
	require.Contains(t, out, "store: WARN:  careful")
}
