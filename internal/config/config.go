// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

// Package config reads the named RCON servers a client can talk to from a TOML file:
//
//	[defaults]
//	timeout = "2s"
//
//	[servers.survival]
//	host = "mc.example.com"
//	port = 25575
//	password = "${SURVIVAL_RCON_PASSWORD}"
//
// Passwords are expanded against the environment so they don't have to live in the file.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/komkom/toml"

	"github.com/schultz-is/rcon-go/v2"
)

// FileName is the name of the configuration file inside the user config directory.
const FileName = "servers.toml"

// ErrUnknownServer is returned when looking up a server the file doesn't define.
var ErrUnknownServer = errors.New("config: unknown server")

// File is the parsed configuration.
type File struct {
	// Defaults apply to every server that doesn't set the field itself.
	Defaults Defaults `json:"defaults"`

	// Servers maps a server name to its connection settings.
	Servers map[string]Target `json:"servers"`
}

// Defaults are the settings shared by all servers.
type Defaults struct {
	Port       int      `json:"port,omitempty"`
	Timeout    Duration `json:"timeout,omitempty"`
	MaxPending int      `json:"max_pending,omitempty"`
}

// Target is one server.
type Target struct {
	// Name is filled in from the table name.
	Name string `json:"-"`

	Host       string   `json:"host"`
	Port       int      `json:"port,omitempty"`
	Password   string   `json:"password"`
	Timeout    Duration `json:"timeout,omitempty"`
	MaxPending int      `json:"max_pending,omitempty"`
}

// Duration is a time.Duration written as a string such as "1500ms" or "2s".
type Duration time.Duration

// UnmarshalJSON parses the duration string.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("config: duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	*d = Duration(v)
	return nil
}

// DefaultPath returns the configuration path inside the user config directory, e.g.
// ~/.config/rcon/servers.toml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "rcon", FileName), nil
}

// Load reads and parses the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes TOML from r, applies the defaults to every server, and validates the result.
func Parse(r io.Reader) (*File, error) {
	var f File
	dec := json.NewDecoder(toml.New(r))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	for name, t := range f.Servers {
		t.Name = name
		if t.Host == "" {
			return nil, fmt.Errorf("config: server %q has no host", name)
		}
		if t.Port == 0 {
			t.Port = f.Defaults.Port
		}
		if t.Timeout == 0 {
			t.Timeout = f.Defaults.Timeout
		}
		if t.MaxPending == 0 {
			t.MaxPending = f.Defaults.MaxPending
		}
		t.Password = os.ExpandEnv(t.Password)
		f.Servers[name] = t
	}
	return &f, nil
}

// Target returns the server called name.
func (f *File) Target(name string) (Target, error) {
	t, ok := f.Servers[name]
	if !ok {
		return Target{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownServer, name, strings.Join(f.Names(), ", "))
	}
	return t, nil
}

// Names returns the configured server names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Servers))
	for name := range f.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConnConfig converts the target into connection settings. Zero values fall back to the rcon
// package defaults.
func (t Target) ConnConfig() rcon.ConnConfig {
	return rcon.ConnConfig{
		Host:       t.Host,
		Port:       t.Port,
		Password:   t.Password,
		Timeout:    time.Duration(t.Timeout),
		MaxPending: t.MaxPending,
	}
}
