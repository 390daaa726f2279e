// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/schultz-is/rcon-go/v2"
)

func execCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <command...>",
		Short: "Run one command and print the response",
		Long: `Connect, authenticate, run a single command, and disconnect.

Arguments are joined with spaces, so quoting the command is optional.

Examples:
  rconcli --server survival exec list
  rconcli --host 10.0.0.7 --password secret exec "say server restarting"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := opts.target()
			if err != nil {
				return err
			}

			command := strings.Join(args, " ")
			start := time.Now()
			resp, err := rcon.RunCommand(cmd.Context(), opts.connConfig(t), command)
			if err != nil {
				return fmt.Errorf("%s: %w", t.Name, err)
			}

			opts.logger.Info("command finished",
				"server", t.Name,
				"size", humanize.Bytes(uint64(len(resp))),
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			fmt.Fprintln(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	return cmd
}
