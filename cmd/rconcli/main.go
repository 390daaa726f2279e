// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

// Command rconcli runs RCON commands against game servers from the terminal.
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/schultz-is/rcon-go/v2"
	"github.com/schultz-is/rcon-go/v2/internal/config"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	server     string
	host       string
	port       int
	password   string
	timeout    time.Duration
	verbose    bool

	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "rconcli",
		Short: "Run RCON commands against game servers",
		Long: `rconcli sends commands to game servers over the RCON protocol.

Servers are either given directly with --host/--port/--password or looked up by
name in a TOML file (default: $XDG_CONFIG_HOME/rcon/servers.toml):

  [servers.survival]
  host = "mc.example.com"
  password = "${SURVIVAL_RCON_PASSWORD}"

Examples:
  rconcli --host localhost --password secret exec list
  rconcli --server survival exec say hello
  rconcli --server survival batch < commands.txt
  rconcli broadcast save-all`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.logger = newLogger(cmd.ErrOrStderr(), opts.verbose)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to the servers file")
	flags.StringVarP(&opts.server, "server", "s", "", "Name of a configured server")
	flags.StringVarP(&opts.host, "host", "H", "", "Server host, bypassing the servers file")
	flags.IntVarP(&opts.port, "port", "P", rcon.DefaultPort, "Server RCON port")
	flags.StringVarP(&opts.password, "password", "p", "", "RCON password (default: $RCON_PASSWORD)")
	flags.DurationVarP(&opts.timeout, "timeout", "t", 0, "Per-request timeout (default: from config or 2s)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log connection activity to stderr")

	rootCmd.AddCommand(
		execCmd(opts),
		batchCmd(opts),
		broadcastCmd(opts),
		serversCmd(opts),
		versionCmd(),
	)

	return rootCmd
}

// newLogger returns a text logger on w. Connection logs only show up with --verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the servers file. A missing default file is an empty configuration; a missing
// file named by --config is an error.
func (o *options) loadConfig() (*config.File, error) {
	path := o.configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return &config.File{}, nil
		}
		path = p
	}

	f, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && o.configPath == "" {
		return &config.File{}, nil
	}
	if err != nil {
		return nil, err
	}
	o.logger.Debug("config loaded", "path", path, "servers", len(f.Servers))
	return f, nil
}

// target resolves the single server a command talks to: --host wins, then --server, then the
// only server in the file.
func (o *options) target() (config.Target, error) {
	if o.host != "" {
		password := o.password
		if password == "" {
			password = os.Getenv("RCON_PASSWORD")
		}
		return o.override(config.Target{
			Name:     o.host,
			Host:     o.host,
			Port:     o.port,
			Password: password,
		}), nil
	}

	f, err := o.loadConfig()
	if err != nil {
		return config.Target{}, err
	}

	name := o.server
	if name == "" {
		names := f.Names()
		switch len(names) {
		case 0:
			return config.Target{}, errors.New("no server given: use --host or add one to the servers file")
		case 1:
			name = names[0]
		default:
			return config.Target{}, errors.New("more than one server configured, pick one with --server")
		}
	}

	t, err := f.Target(name)
	if err != nil {
		return config.Target{}, err
	}
	if o.password != "" {
		t.Password = o.password
	}
	return o.override(t), nil
}

// override applies the --timeout flag, which takes precedence over the servers file.
func (o *options) override(t config.Target) config.Target {
	if o.timeout > 0 {
		t.Timeout = config.Duration(o.timeout)
	}
	return t
}

// connConfig turns a target into connection settings carrying the CLI logger.
func (o *options) connConfig(t config.Target) rcon.ConnConfig {
	cfg := t.ConnConfig()
	cfg.Logger = o.logger.With("server", t.Name)
	return cfg
}
