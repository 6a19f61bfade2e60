// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package logger holds the leveled Logger used throughout the object store
// and the implementations handed to it by the server and by tests.
package logger

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// TimeFormat is UTC with a fixed width and microsecond resolution.
const TimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// Logger is a leveled logger. Messages below the logger's level are
// dropped.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	// WithPrefix returns a Logger writing to the same place with prefix
	// appended to this logger's prefix.
	WithPrefix(prefix string) Logger
}

// Level orders messages by importance; a logger shows every level up to
// and including its own.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) tag() string {
	return [...]string{"ERROR: ", "WARN:  ", "INFO:  ", "DEBUG: "}[l]
}

var (
	_ Logger = nopLogger{}
	_ Logger = (*standardLogger)(nil)
	_ Logger = (*LogfLogger)(nil)
	_ Logger = (*BufferLogger)(nil)
)

// NopLogger discards everything.
var NopLogger Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

func (n nopLogger) WithPrefix(string) Logger { return n }

// stamped prefixes every write with the current time.
type stamped struct {
	w io.Writer
}

func (s stamped) Write(p []byte) (int, error) {
	return fmt.Fprintf(s.w, "%s %s", time.Now().UTC().Format(TimeFormat), p)
}

type standardLogger struct {
	out    *log.Logger
	w      io.Writer
	level  Level
	prefix string
}

func newStandardLogger(w io.Writer, level Level, prefix string) *standardLogger {
	return &standardLogger{
		out:    log.New(stamped{w: w}, prefix, 0),
		w:      w,
		level:  level,
		prefix: prefix,
	}
}

// NewStandardLogger logs at LevelInfo and above to w.
func NewStandardLogger(w io.Writer) Logger {
	return newStandardLogger(w, LevelInfo, "")
}

// NewVerboseLogger logs everything, debug messages included, to w.
func NewVerboseLogger(w io.Writer) Logger {
	return newStandardLogger(w, LevelDebug, "")
}

func (s *standardLogger) logf(level Level, format string, v []interface{}) {
	if level > s.level {
		return
	}
	s.out.Printf(level.tag()+format, v...)
}

func (s *standardLogger) Debugf(format string, v ...interface{}) { s.logf(LevelDebug, format, v) }
func (s *standardLogger) Infof(format string, v ...interface{})  { s.logf(LevelInfo, format, v) }
func (s *standardLogger) Warnf(format string, v ...interface{})  { s.logf(LevelWarn, format, v) }
func (s *standardLogger) Errorf(format string, v ...interface{}) { s.logf(LevelError, format, v) }

// WithPrefix stacks prefixes, so a session logger derived from a store logger
// reads "store: session 1f2e: ...".
func (s *standardLogger) WithPrefix(prefix string) Logger {
	return newStandardLogger(s.w, s.level, s.prefix+prefix)
}

// Logfer is anything with a Logf method, such as *testing.T.
type Logfer interface {
	Logf(format string, v ...interface{})
}

// LogfLogger sends every level to a Logfer, so test output carries the
// store's log lines next to the failure.
type LogfLogger struct {
	t      Logfer
	prefix string
}

// NewLogfLogger returns a LogfLogger writing to t.
func NewLogfLogger(t Logfer) *LogfLogger {
	return &LogfLogger{t: t}
}

func (l *LogfLogger) logf(level Level, format string, v []interface{}) {
	l.t.Logf(level.tag()+l.prefix+format, v...)
}

func (l *LogfLogger) Debugf(format string, v ...interface{}) { l.logf(LevelDebug, format, v) }
func (l *LogfLogger) Infof(format string, v ...interface{})  { l.logf(LevelInfo, format, v) }
func (l *LogfLogger) Warnf(format string, v ...interface{})  { l.logf(LevelWarn, format, v) }
func (l *LogfLogger) Errorf(format string, v ...interface{}) { l.logf(LevelError, format, v) }

func (l *LogfLogger) WithPrefix(prefix string) Logger {
	return &LogfLogger{t: l.t, prefix: l.prefix + prefix}
}

// BufferLogger keeps info and above in memory, one line per message, for
// tests that assert on what was logged. Loggers derived with WithPrefix
// share the buffer.
type BufferLogger struct {
	mu     *sync.Mutex
	buf    *bytes.Buffer
	prefix string
}

// NewBufferLogger returns an empty BufferLogger.
func NewBufferLogger() *BufferLogger {
	return &BufferLogger{mu: &sync.Mutex{}, buf: &bytes.Buffer{}}
}

func (b *BufferLogger) logf(level Level, format string, v []interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fmt.Fprintf(b.buf, level.tag()+b.prefix+format+"\n", v...)
}

func (b *BufferLogger) Debugf(format string, v ...interface{}) {}
func (b *BufferLogger) Infof(format string, v ...interface{})  { b.logf(LevelInfo, format, v) }
func (b *BufferLogger) Warnf(format string, v ...interface{})  { b.logf(LevelWarn, format, v) }
func (b *BufferLogger) Errorf(format string, v ...interface{}) { b.logf(LevelError, format, v) }

func (b *BufferLogger) WithPrefix(prefix string) Logger {
	return &BufferLogger{mu: b.mu, buf: b.buf, prefix: b.prefix + prefix}
}

// String returns everything logged so far.
func (b *BufferLogger) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
