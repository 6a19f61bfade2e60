// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package server

import (
	"fmt"
	"time"

	"github.com/featurebasedb/objectdb/errors"
	"github.com/featurebasedb/objectdb/toml"
)

// Config represents the configuration for the command.
type Config struct {
	// DataDir is the directory holding the journal.
	DataDir string `toml:"data-dir"`
	// Bind is the host:port the status and metrics endpoints listen on.
	Bind string `toml:"bind"`

	// LogPath configures where logs are written. Empty means stderr.
	LogPath string `toml:"log-path"`

	// Verbose toggles verbose logging which can be useful for debugging.
	Verbose bool `toml:"verbose"`

	// SupergashPassword is given to the supergash persona when a new store
	// is bootstrapped. It is ignored once the store exists.
	SupergashPassword string `toml:"supergash-password"`

	// RoleFile, if set, is a YAML file of roles applied at startup.
	RoleFile string `toml:"role-file"`

	// NoSync skips fsync on journal commits. Only for tests.
	NoSync bool `toml:"no-sync"`

	Lock struct {
		// PollInterval bounds how long a waiting lock sleeps before checking
		// again for cancellation.
		PollInterval toml.Duration `toml:"poll-interval"`
	} `toml:"lock"`

	Tasks struct {
		// Workers is the number of maintenance task workers.
		Workers int `toml:"workers"`
		// ExpirationInterval is how often expired objects are removed. Zero
		// disables the sweep.
		ExpirationInterval toml.Duration `toml:"expiration-interval"`
	} `toml:"tasks"`
}

// NewConfig returns an instance of Config with default options.
func NewConfig() *Config {
	c := &Config{
		DataDir: "~/.objectdb",
		Bind:    "localhost:10110",
	}
	c.Lock.PollInterval = toml.Duration(100 * time.Millisecond)
	c.Tasks.Workers = 2
	c.Tasks.ExpirationInterval = toml.Duration(time.Hour)
	return c
}

// Validate checks the configuration for values the server can't run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New(errors.ErrUncoded, "data-dir is required")
	}
	if c.Bind == "" {
		return errors.New(errors.ErrUncoded, "bind is required")
	}
	if c.Lock.PollInterval <= 0 {
		return errors.New(errors.ErrUncoded, fmt.Sprintf("lock.poll-interval must be positive, got %s", c.Lock.PollInterval))
	}
	if c.Tasks.Workers < 1 {
		return errors.New(errors.ErrUncoded, fmt.Sprintf("tasks.workers must be at least 1, got %d", c.Tasks.Workers))
	}
	if c.Tasks.ExpirationInterval < 0 {
		return errors.New(errors.ErrUncoded, "tasks.expiration-interval can't be negative")
	}
	return nil
}
