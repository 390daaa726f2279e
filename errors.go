// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import "errors"

var (
	// ErrConnectionFailed wraps transport level failures while dialing the server.
	ErrConnectionFailed = errors.New("rcon: connection failed")

	// ErrAuthenticationFailed is returned when the server rejects the password, signalled by a
	// response ID of -1, or when it answers the auth request with an unexpected ID.
	ErrAuthenticationFailed = errors.New("rcon: authentication failed")

	// ErrNotConnected is returned by operations attempted outside the state they require.
	ErrNotConnected = errors.New("rcon: not connected")

	// ErrAlreadyConnected is returned by Connect on a connection that is already underway.
	ErrAlreadyConnected = errors.New("rcon: already connected")

	// ErrAlreadyClosed is returned when ending, or reconnecting, a connection that was already
	// ended.
	ErrAlreadyClosed = errors.New("rcon: already closed")

	// ErrTimeout is returned when no response with a matching ID arrives within the configured
	// timeout. The connection stays usable.
	ErrTimeout = errors.New("rcon: request timed out")

	// ErrConnectionClosed is returned for requests that were pending or queued when the
	// connection was torn down.
	ErrConnectionClosed = errors.New("rcon: connection closed")

	// ErrInvalidPacketType is returned when decoding a packet whose type isn't one of the protocol
	// values.
	ErrInvalidPacketType = errors.New("rcon: invalid packet type")

	// ErrPayloadTooLarge is returned when a packet body exceeds [MaxPayloadSize].
	ErrPayloadTooLarge = errors.New("rcon: packet too large")

	// ErrMalformedPacket is returned for packets whose size field or terminator doesn't match the
	// protocol.
	ErrMalformedPacket = errors.New("rcon: malformed packet")
)
