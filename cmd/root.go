// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"io"
	"strings"

	"github.com/featurebasedb/objectdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix prefixes every environment variable the commands read.
const envPrefix = "OBJECTDB"

// NewRootCommand returns the objectdb command with all subcommands attached.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "objectdb",
		Short: "ObjectDB is a multi-user transactional object store.",
		Long: `ObjectDB is a multi-user transactional object store.

This binary contains the server itself, as well as tools
for inspecting its configuration and dumping a running store.
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setAllConfig(viper.New(), cmd.Flags()); err != nil {
				return err
			}
			// Tests use --dry-run to check flag and config handling
			// without running anything.
			if dry, _ := cmd.Flags().GetBool("dry-run"); dry && cmd.Parent() != nil {
				return errors.New(errors.ErrUncoded, "dry run")
			}
			return nil
		},
	}
	rc.PersistentFlags().Bool("dry-run", false, "stop before executing")
	_ = rc.PersistentFlags().MarkHidden("dry-run")
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")

	rc.AddCommand(newServeCmd(stdin, stdout, stderr))
	rc.AddCommand(newConfigCommand(stdin, stdout, stderr))
	rc.AddCommand(newGenerateConfigCommand(stdin, stdout, stderr))
	rc.AddCommand(newDumpCommand(stdin, stdout, stderr))
	rc.AddCommand(newStatusCommand(stdin, stdout, stderr))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// setAllConfig fills every flag in flags that was not given on the command
// line, taking the value from the environment first and then from the
// config file named by --config. Each flag points at its config field, so
// setting the flag sets the config.
//
// The environment variable for a flag is envPrefix, an underscore, and the
// upper-cased flag name with dashes and dots turned into underscores:
// lock.poll-interval is read from OBJECTDB_LOCK_POLL_INTERVAL.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return errors.Wrap(err, "binding flags")
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		if err := readConfigFile(v, path, flags); err != nil {
			return err
		}
	}

	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed {
			return
		}
		if serr := f.Value.Set(v.GetString(f.Name)); serr != nil {
			err = errors.Wrapf(serr, "setting %s", f.Name)
		}
	})
	return err
}

// readConfigFile loads a TOML config file into v. Keys that name no flag
// are rejected so typos don't pass silently.
func readConfigFile(v *viper.Viper, path string, flags *pflag.FlagSet) error {
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "reading configuration file '%s'", path)
	}
	for _, key := range v.AllKeys() {
		if flags.Lookup(key) == nil {
			return errors.New(errors.ErrUncoded, "invalid option in configuration file: "+key)
		}
	}
	return nil
}
