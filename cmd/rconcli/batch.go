// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/schultz-is/rcon-go/v2"
)

func batchCmd(opts *options) *cobra.Command {
	var echo bool

	cmd := &cobra.Command{
		Use:   "batch [command...]",
		Short: "Run several commands over one connection",
		Long: `Run commands one after another over a single connection.

Each argument is one command. Without arguments, commands are read from stdin,
one per line; blank lines and lines starting with # are skipped. The batch
stops at the first failing command.

Examples:
  rconcli --server survival batch "save-off" "save-all" "save-on"
  rconcli --server survival batch < maintenance.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			commands := args
			if len(commands) == 0 {
				var err error
				commands, err = readCommands(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}
			if len(commands) == 0 {
				return fmt.Errorf("no commands given")
			}

			t, err := opts.target()
			if err != nil {
				return err
			}

			start := time.Now()
			resps, err := rcon.RunCommands(cmd.Context(), opts.connConfig(t), commands...)

			out := cmd.OutOrStdout()
			var size int
			for i, resp := range resps {
				if echo {
					fmt.Fprintf(out, "> %s\n", commands[i])
				}
				fmt.Fprintln(out, resp)
				size += len(resp)
			}
			if err != nil {
				if resps != nil && len(resps) < len(commands) {
					return fmt.Errorf("%s: %q (command %d of %d): %w", t.Name, commands[len(resps)], len(resps)+1, len(commands), err)
				}
				return fmt.Errorf("%s: %w", t.Name, err)
			}

			opts.logger.Info("batch finished",
				"server", t.Name,
				"commands", len(commands),
				"size", humanize.Bytes(uint64(size)),
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&echo, "echo", "e", false, "Print each command before its response")

	return cmd
}

// readCommands reads one command per line, skipping blanks and # comments.
func readCommands(r io.Reader) ([]string, error) {
	var commands []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		commands = append(commands, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading commands: %w", err)
	}
	return commands, nil
}
