// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"

	"github.com/featurebasedb/objectdb/ctl"
	"github.com/featurebasedb/objectdb/server"
	"github.com/spf13/cobra"
)

// Conf is global so that tests can control and verify it.
var Conf *ctl.ConfigCommand

func newConfigCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	Conf = ctl.NewConfigCommand(stdin, stdout, stderr)
	Conf.Config = server.NewConfig()
	confCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the current configuration.",
		Long: `config prints the configuration the server would run with,
after applying flags, environment and the config file, to stdout.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Conf.Run(context.Background())
		},
	}
	serverFlagSet(Conf.Config, confCmd.Flags())
	return confCmd
}
