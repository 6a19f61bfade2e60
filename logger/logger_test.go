// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package logger_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/featurebasedb/objectdb/logger"
	"github.com/stretchr/testify/assert"
)

type logfRecorder struct {
	lines []string
}

func (r *logfRecorder) Logf(format string, v ...interface{}) {
	r.lines = append(r.lines, fmt.Sprintf(format, v...))
}

func TestLogfLogger(t *testing.T) {
	var r logfRecorder
	l := logger.NewLogfLogger(&r)
	l.Debugf("d %d", 1)
	l.WithPrefix("journal: ").Errorf("bad record %x", 0xff)
	assert.Equal(t, []string{"DEBUG: d 1", "ERROR: journal: bad record ff"}, r.lines)
}

func TestBufferLogger(t *testing.T) {
	b := logger.NewBufferLogger()
	b.Debugf("dropped")
	b.Infof("opened %s", "store")
	b.WithPrefix("session 1: ").Warnf("lock held")

	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	assert.Equal(t, []string{"INFO:  opened store", "WARN:  session 1: lock held"}, lines)
}

func TestVerboseLogger(t *testing.T) {
	var buf strings.Builder
	logger.NewVerboseLogger(&buf).Debugf("shown")
	assert.Contains(t, buf.String(), "DEBUG: shown")

	logger.NopLogger.WithPrefix("x").Errorf("nothing")
}
