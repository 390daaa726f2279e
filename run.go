// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"context"

	"github.com/hashicorp/go-multierror"
)

// RunCommand connects to the server described by config, executes a single command, and ends the
// connection. Every call uses a fresh connection, so a failure affects nothing but the caller.
func RunCommand(ctx context.Context, config ConnConfig, command string) (string, error) {
	resps, err := RunCommands(ctx, config, command)
	if len(resps) == 0 {
		return "", err
	}
	return resps[0], err
}

// RunCommands connects to the server described by config, executes commands one after another
// over the same connection, and ends it. It stops at the first failing command and returns the
// responses collected up to that point. A failure to end the connection is reported alongside
// any command error.
func RunCommands(ctx context.Context, config ConnConfig, commands ...string) ([]string, error) {
	c, err := Dial(ctx, config)
	if err != nil {
		return nil, err
	}

	var result error
	resps := make([]string, 0, len(commands))
	for _, cmd := range commands {
		resp, err := c.Send(ctx, cmd)
		if err != nil {
			result = multierror.Append(result, err)
			break
		}
		resps = append(resps, resp)
	}

	select {
	case <-c.Done():
		// Already torn down; the command error says why.
	default:
		if err := c.End(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return resps, unwrapSingle(result)
}

// unwrapSingle returns the only error of a multierror as is, so callers can keep comparing it
// directly.
func unwrapSingle(err error) error {
	if merr, ok := err.(*multierror.Error); ok && len(merr.Errors) == 1 {
		return merr.Errors[0]
	}
	return err
}
