// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/featurebasedb/objectdb"
	"github.com/featurebasedb/objectdb/errors"
)

// StatusCommand prints a summary of a running server: its tick, bases and
// held locks.
type StatusCommand struct {
	Host    string        `json:"host"`
	Timeout time.Duration `json:"timeout"`

	*objectdb.CmdIO
}

// NewStatusCommand returns a new instance of StatusCommand.
func NewStatusCommand(stdin io.Reader, stdout, stderr io.Writer) *StatusCommand {
	return &StatusCommand{
		Host:  "localhost:10110",
		CmdIO: objectdb.NewCmdIO(stdin, stdout, stderr),
	}
}

// Run fetches and prints the status.
func (cmd *StatusCommand) Run(ctx context.Context) error {
	body, err := newClient(cmd.Host, "", "", cmd.Timeout).get(ctx, "/status")
	if err != nil {
		return errors.Wrap(err, "getting status")
	}
	defer body.Close()
	var st objectdb.StoreStatus
	if err := json.NewDecoder(body).Decode(&st); err != nil {
		return errors.Wrap(err, "decoding status")
	}

	fmt.Fprintf(cmd.Stdout, "tick: %d  sessions: %d\n\n", st.Tick, st.Sessions)
	w := tabwriter.NewWriter(cmd.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "BASE\tOBJECTS\tLAST MODIFIED\tREADERS\tWRITER")
	locks := make(map[objectdb.BaseID]objectdb.LockStatus, len(st.Locks))
	for _, l := range st.Locks {
		locks[l.Base] = l
	}
	for _, b := range st.Bases {
		l := locks[b.ID]
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", b.Name, b.Objects, b.LastModified, l.Readers, l.Writer)
	}
	return w.Flush()
}
