// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/featurebasedb/objectdb/server"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Server is global so that tests can control and verify it.
var Server *server.Command

func newServeCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	srv := server.NewCommand(stdin, stdout, stderr)
	Server = srv
	serveCmd := &cobra.Command{
		Use:   "server",
		Short: "Run ObjectDB.",
		Long: `objectdb server runs ObjectDB.

It will load the existing store from the configured
directory, or bootstrap a new one, and start serving
status, schema and dump requests on the configured
address.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Execute the program.
			if err := srv.Start(); err != nil {
				return fmt.Errorf("error running server: %v", err)
			}

			// First signal causes server to shut down gracefully.
			c := make(chan os.Signal, 2)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(c)
			select {
			case sig := <-c:
				srv.Logger().Infof("received %s; gracefully shutting down...", sig.String())

				// Second signal causes a hard shutdown.
				go func() { <-c; os.Exit(1) }()

				if err := srv.Close(); err != nil {
					return err
				}
			case <-srv.Done:
				srv.Logger().Infof("server closed externally")
			}
			return nil
		},
	}
	serverFlagSet(srv.Config, serveCmd.Flags())
	return serveCmd
}

// serverFlagSet registers a flag for every server config option. The flag
// names match the TOML keys, so setAllConfig can fill them from a config file.
func serverFlagSet(cfg *server.Config, flags *pflag.FlagSet) {
	def := server.NewConfig()
	flags.StringVarP(&cfg.DataDir, "data-dir", "d", def.DataDir, "Directory to store the journal in.")
	flags.StringVarP(&cfg.Bind, "bind", "b", def.Bind, "Address on which the status and metrics endpoints listen.")
	flags.StringVar(&cfg.LogPath, "log-path", def.LogPath, "Log file path. Empty means stderr.")
	flags.BoolVar(&cfg.Verbose, "verbose", def.Verbose, "Enable verbose logging.")
	flags.StringVar(&cfg.SupergashPassword, "supergash-password", def.SupergashPassword, "Password for supergash when bootstrapping a new store.")
	flags.StringVar(&cfg.RoleFile, "role-file", def.RoleFile, "YAML file of roles applied at startup.")
	flags.BoolVar(&cfg.NoSync, "no-sync", def.NoSync, "Skip fsync on journal commits.")
	cfg.Lock.PollInterval = def.Lock.PollInterval
	flags.Var(&cfg.Lock.PollInterval, "lock.poll-interval", "How often a waiting lock checks for cancellation.")
	flags.IntVar(&cfg.Tasks.Workers, "tasks.workers", def.Tasks.Workers, "Number of maintenance task workers.")
	cfg.Tasks.ExpirationInterval = def.Tasks.ExpirationInterval
	flags.Var(&cfg.Tasks.ExpirationInterval, "tasks.expiration-interval", "How often expired objects are removed. Zero disables the sweep.")
}
