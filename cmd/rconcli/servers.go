// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func serversCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List the configured servers",
		Long:  `List the servers defined in the servers file. Passwords are never printed.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := opts.loadConfig()
			if err != nil {
				return err
			}

			names := f.Names()
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No servers configured.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tADDRESS\tTIMEOUT\tPASSWORD")
			for _, name := range names {
				t, _ := f.Target(name)

				timeout := "default"
				if t.Timeout > 0 {
					timeout = time.Duration(t.Timeout).String()
				}
				password := "unset"
				if t.Password != "" {
					password = "set"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, t.ConnConfig().Address(), timeout, password)
			}
			return w.Flush()
		},
	}

	return cmd
}
