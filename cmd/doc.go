// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

/*
Package cmd contains all the objectdb subcommand definitions (1 per file).

Each command file has a new*Command function which builds the cobra command
around the matching ctl or server type. NewRootCommand attaches them all.
Configuration is read from flags, then OBJECTDB_* environment variables, then
the TOML file named by --config, in that priority order.
*/
package cmd
