// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package server contains the `objectdb server` subcommand which runs the
// object store. The purpose of this package is to define an easily tested
// Command object which handles interpreting configuration and setting up all
// the objects the store needs.
package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/featurebasedb/objectdb"
	"github.com/featurebasedb/objectdb/authz"
	"github.com/featurebasedb/objectdb/boltdb"
	"github.com/featurebasedb/objectdb/errors"
	"github.com/featurebasedb/objectdb/logger"
	fbopentracing "github.com/featurebasedb/objectdb/tracing/opentracing"
	"github.com/opentracing/opentracing-go"
	"golang.org/x/sync/errgroup"
)

// Command represents the state of the objectdb server command.
type Command struct {
	Config *Config

	// Standard input/output
	*objectdb.CmdIO

	Store  *objectdb.Store
	Runner *objectdb.TaskRunner

	ln         net.Listener
	httpServer *http.Server
	logFile    *logger.FileWriter
	stopReopen func()

	restoreTracer func()

	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group

	// Started is closed once Start has finished.
	Started chan struct{}
	// Done is closed when Close is called.
	Done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewCommand returns a new instance of Command.
func NewCommand(stdin io.Reader, stdout, stderr io.Writer) *Command {
	return &Command{
		Config:  NewConfig(),
		CmdIO:   objectdb.NewCmdIO(stdin, stdout, stderr),
		Started: make(chan struct{}),
		Done:    make(chan struct{}),
	}
}

// Start opens the store, applies the role file and begins serving. It
// returns once the server is listening.
func (m *Command) Start() (err error) {
	defer func() {
		if err != nil {
			_ = m.Close()
		}
	}()
	if err := m.Config.Validate(); err != nil {
		return errors.Wrap(err, "validating config")
	}
	if err := m.setupLogger(); err != nil {
		return errors.Wrap(err, "setting up logger")
	}
	log := m.Logger()

	// Spans go to whatever tracer the embedding program registered with
	// opentracing; the default there is a no-op.
	m.restoreTracer = fbopentracing.Install(opentracing.GlobalTracer(), log.WithPrefix("tracing: "))

	dir, err := expandDirName(m.Config.DataDir)
	if err != nil {
		return errors.Wrap(err, "expanding data dir")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return errors.Wrap(err, "creating data dir")
	}
	journal, err := boltdb.OpenJournal(dir, m.Config.NoSync, log.WithPrefix("journal: "))
	if err != nil {
		return errors.Wrap(err, "opening journal")
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.Store, err = objectdb.NewStore(
		objectdb.OptStoreLogger(log),
		objectdb.OptStoreJournal(journal),
		objectdb.OptStoreLockPollInterval(m.Config.Lock.PollInterval.D()),
		objectdb.OptStoreSupergashPassword(m.Config.SupergashPassword),
	)
	if err != nil {
		_ = journal.Close()
		return errors.Wrap(err, "creating store")
	}
	if err := m.Store.Open(m.ctx); err != nil {
		return errors.Wrap(err, "opening store")
	}
	if err := m.applyRoleFile(); err != nil {
		return err
	}

	m.Runner = objectdb.NewTaskRunner(m.Store, m.Config.Tasks.Workers)

	m.ln, err = net.Listen("tcp", m.Config.Bind)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", m.Config.Bind)
	}
	m.httpServer = &http.Server{
		Handler:           NewHandler(m.Store, log.WithPrefix("http: ")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	m.eg, _ = errgroup.WithContext(m.ctx)
	m.eg.Go(func() error {
		if err := m.httpServer.Serve(m.ln); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "serving http")
		}
		return nil
	})
	if every := m.Config.Tasks.ExpirationInterval.D(); every > 0 {
		m.eg.Go(func() error {
			m.runExpiration(every)
			return nil
		})
	}

	log.Infof("listening on http://%s", m.ln.Addr())
	close(m.Started)
	return nil
}

// Addr returns the address the server listens on.
func (m *Command) Addr() net.Addr {
	if m.ln == nil {
		return nil
	}
	return m.ln.Addr()
}

func (m *Command) setupLogger() error {
	w := m.Stderr
	if m.Config.LogPath != "" {
		f, err := logger.NewFileWriter(m.Config.LogPath)
		if err != nil {
			return errors.Wrap(err, "opening log file")
		}
		m.logFile = f
		w = f
	}
	var l logger.Logger
	if m.Config.Verbose {
		l = logger.NewVerboseLogger(w)
	} else {
		l = logger.NewStandardLogger(w)
	}
	if m.logFile != nil {
		m.stopReopen = m.logFile.ReopenOnSignal(l, syscall.SIGHUP)
	}
	m.SetLogger(l)
	return nil
}

func (m *Command) applyRoleFile() error {
	if m.Config.RoleFile == "" {
		return nil
	}
	f, err := os.Open(m.Config.RoleFile)
	if err != nil {
		return errors.Wrap(err, "opening role file")
	}
	defer f.Close()
	roles, err := authz.ReadRoleFile(f)
	if err != nil {
		return err
	}
	if err := authz.Apply(m.ctx, m.Store, roles); err != nil {
		return errors.Wrapf(err, "applying role file %s", m.Config.RoleFile)
	}
	m.Logger().Infof("applied %d roles from %s", len(roles.Roles), m.Config.RoleFile)
	return nil
}

// runExpiration sweeps expired objects every interval until the command
// closes.
func (m *Command) runExpiration(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		}
		err := <-m.Runner.Submit(m.ctx, objectdb.ExpirationTask{})
		if err != nil && !errors.Is(err, objectdb.ErrInterrupted) {
			m.Logger().Errorf("expiration sweep: %v", err)
		}
	}
}

// Close shuts the server down: it stops serving, waits for running tasks,
// and closes the store.
func (m *Command) Close() error {
	m.closeOnce.Do(func() {
		defer close(m.Done)
		var errs []string
		keep := func(err error) {
			if err != nil {
				errs = append(errs, err.Error())
			}
		}
		if m.cancel != nil {
			m.cancel()
		}
		if m.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			keep(m.httpServer.Shutdown(ctx))
			cancel()
		} else if m.ln != nil {
			keep(m.ln.Close())
		}
		if m.Runner != nil {
			m.Runner.Close()
		}
		if m.eg != nil {
			keep(m.eg.Wait())
		}
		if m.Store != nil {
			keep(m.Store.Close())
		}
		if m.stopReopen != nil {
			m.stopReopen()
		}
		if m.restoreTracer != nil {
			m.restoreTracer()
		}
		if m.logFile != nil {
			keep(m.logFile.Close())
		}
		if len(errs) > 0 {
			m.closeErr = errors.New(errors.ErrUncoded, "closing server: "+strings.Join(errs, "; "))
		}
	})
	return m.closeErr
}

// expandDirName replaces a leading ~ with the user's home directory.
func expandDirName(path string) (string, error) {
	prefix := "~" + string(filepath.Separator)
	if len(path) > 1 && path[:2] == prefix {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
