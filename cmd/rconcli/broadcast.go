// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/schultz-is/rcon-go/v2"
)

func broadcastCmd(opts *options) *cobra.Command {
	var (
		parallel int
		only     []string
	)

	cmd := &cobra.Command{
		Use:   "broadcast <command...>",
		Short: "Run one command on every configured server",
		Long: `Run the same command on every server in the servers file, each over its
own connection. Responses are printed per server in name order. A failing
server does not stop the others; all failures are reported at the end.

Examples:
  rconcli broadcast save-all
  rconcli broadcast --only survival,creative --parallel 2 "say restart in 5m"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if parallel < 1 {
				return fmt.Errorf("--parallel must be at least 1, got %d", parallel)
			}

			f, err := opts.loadConfig()
			if err != nil {
				return err
			}

			names := f.Names()
			if len(only) > 0 {
				names = append([]string(nil), only...)
				sort.Strings(names)
			}
			if len(names) == 0 {
				return errors.New("no servers configured")
			}

			command := strings.Join(args, " ")
			resps := make([]string, len(names))
			errs := make([]error, len(names))

			var (
				mu     sync.Mutex
				result *multierror.Error
			)

			var g errgroup.Group
			g.SetLimit(parallel)
			for i, name := range names {
				i, name := i, name
				g.Go(func() error {
					t, err := f.Target(name)
					if err == nil {
						resps[i], err = rcon.RunCommand(cmd.Context(), opts.connConfig(opts.override(t)), command)
					}
					if err != nil {
						errs[i] = err
						mu.Lock()
						result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
						mu.Unlock()
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, name := range names {
				if errs[i] != nil {
					fmt.Fprintf(out, "[%s] error: %s\n", name, errs[i])
					continue
				}
				fmt.Fprintf(out, "[%s] %s\n", name, resps[i])
			}

			return result.ErrorOrNil()
		},
	}

	cmd.Flags().IntVar(&parallel, "parallel", 4, "Maximum number of servers contacted at once")
	cmd.Flags().StringSliceVar(&only, "only", nil, "Comma-separated server names to limit the broadcast to")

	return cmd
}
