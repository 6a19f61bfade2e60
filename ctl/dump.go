// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"io"
	"time"

	"github.com/featurebasedb/objectdb"
	"github.com/featurebasedb/objectdb/errors"
	"github.com/featurebasedb/objectdb/tracing"
)

// DumpCommand represents a command for dumping every object in a running
// server as JSON lines.
type DumpCommand struct {
	// Host is the host and port of the server to dump.
	Host string `json:"host"`

	// Username and Password log in to the server. Only supergash may dump.
	Username string `json:"username"`
	Password string `json:"password"`

	Timeout time.Duration `json:"timeout"`

	// Standard input/output.
	*objectdb.CmdIO
}

// NewDumpCommand returns a new instance of DumpCommand.
func NewDumpCommand(stdin io.Reader, stdout, stderr io.Writer) *DumpCommand {
	return &DumpCommand{
		Host:     "localhost:10110",
		Username: "supergash",
		CmdIO:    objectdb.NewCmdIO(stdin, stdout, stderr),
	}
}

// Run streams the dump to Stdout.
func (cmd *DumpCommand) Run(ctx context.Context) error {
	span, ctx := tracing.StartSpanFromContext(ctx, "DumpCommand.Run")
	defer span.Finish()

	if cmd.Password == "" {
		return errors.New(errors.ErrUncoded, "a password is required")
	}
	c := newClient(cmd.Host, cmd.Username, cmd.Password, cmd.Timeout)
	body, err := c.get(ctx, "/dump")
	if err != nil {
		return errors.Wrap(err, "dumping store")
	}
	defer body.Close()
	n, err := io.Copy(cmd.Stdout, body)
	if err != nil {
		return errors.Wrap(err, "copying dump")
	}
	cmd.Logger().Debugf("dumped %d bytes from %s", n, cmd.Host)
	return nil
}
