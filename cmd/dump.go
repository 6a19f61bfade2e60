// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"
	"time"

	"github.com/featurebasedb/objectdb/ctl"
	"github.com/spf13/cobra"
)

var dumper *ctl.DumpCommand

func newDumpCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	dumper = ctl.NewDumpCommand(stdin, stdout, stderr)
	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Dump every object in a running store.",
		Long: `dump writes every object in a running store to stdout, one JSON
record per line. Password fields are left out. Only supergash may dump.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dumper.Run(context.Background())
		},
	}
	flags := dumpCmd.Flags()
	flags.StringVarP(&dumper.Host, "host", "", dumper.Host, "Address of the server to dump.")
	flags.StringVarP(&dumper.Username, "username", "u", dumper.Username, "User to log in as.")
	flags.StringVarP(&dumper.Password, "password", "p", "", "Password to log in with.")
	flags.DurationVar(&dumper.Timeout, "timeout", 5*time.Minute, "Time limit for the whole dump.")
	return dumpCmd
}
