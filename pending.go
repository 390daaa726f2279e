// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"context"
	"time"
)

// pendingRequest is an issued request awaiting its response. Whoever removes it from
// Conn.pending owns settling it: the read loop on a matching response, its timer on expiry, the
// caller on context cancellation, or teardown.
type pendingRequest struct {
	id    int32
	start time.Time
	timer *time.Timer
	done  chan result
}

type result struct {
	packet Packet
	err    error
}

// register records a pending request for id and arms its timer. want is the state the connection
// must be in for the request to be accepted.
func (c *Conn) register(id int32, want State) (*pendingRequest, error) {
	pr := &pendingRequest{
		id:    id,
		start: time.Now(),
		done:  make(chan result, 1),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != want {
		if c.state == StateDisconnected {
			return nil, ErrConnectionClosed
		}
		return nil, ErrNotConnected
	}
	if want == StateAuthenticating {
		c.authID = id
	}
	c.pending[id] = pr
	pr.timer = time.AfterFunc(c.config.Timeout, func() {
		c.settle(pr, result{err: ErrTimeout})
	})
	c.metrics.requestStarted()

	return pr, nil
}

// settle completes pr with res unless another path got to it first.
func (c *Conn) settle(pr *pendingRequest, res result) bool {
	c.mu.Lock()
	if c.pending[pr.id] != pr {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, pr.id)
	c.mu.Unlock()

	c.finish(pr, res)
	return true
}

// finish delivers res to a request that has already been removed from the pending map.
func (c *Conn) finish(pr *pendingRequest, res result) {
	if pr.timer != nil {
		pr.timer.Stop()
	}
	pr.done <- res
	c.metrics.requestSettled(pr.start, res.err)
}

// await blocks until pr settles. If ctx ends first the request is settled with the context error,
// which still leaves exactly one result on pr.done.
func (c *Conn) await(ctx context.Context, pr *pendingRequest) (Packet, error) {
	select {
	case res := <-pr.done:
		return res.packet, res.err
	case <-ctx.Done():
		c.settle(pr, result{err: ctx.Err()})
		res := <-pr.done
		return res.packet, res.err
	}
}

// Pending returns the number of requests awaiting a response.
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
