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

func newStatusCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	st := ctl.NewStatusCommand(stdin, stdout, stderr)
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.Run(context.Background())
		},
	}
	statusCmd.Flags().StringVar(&st.Host, "host", st.Host, "Address of the server.")
	statusCmd.Flags().DurationVar(&st.Timeout, "timeout", 10*time.Second, "Request timeout.")
	return statusCmd
}
