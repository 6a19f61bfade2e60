// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"fmt"
	"io"

	"github.com/featurebasedb/objectdb"
	"github.com/featurebasedb/objectdb/errors"
	"github.com/featurebasedb/objectdb/server"
	toml "github.com/pelletier/go-toml"
)

// ConfigCommand represents a command for printing the effective config.
type ConfigCommand struct {
	*objectdb.CmdIO
	Config *server.Config
}

// NewConfigCommand returns a new instance of ConfigCommand.
func NewConfigCommand(stdin io.Reader, stdout, stderr io.Writer) *ConfigCommand {
	return &ConfigCommand{
		CmdIO: objectdb.NewCmdIO(stdin, stdout, stderr),
	}
}

// Run prints out the config.
func (cmd *ConfigCommand) Run(_ context.Context) error {
	if cmd.Config == nil {
		return errors.New(errors.ErrUncoded, "no config to print")
	}
	buf, err := toml.Marshal(*cmd.Config)
	if err != nil {
		return errors.Wrap(err, "marshalling config")
	}
	fmt.Fprintln(cmd.Stdout, string(buf))
	return nil
}
