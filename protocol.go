// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// WrapperSize is the cumulative size of non-body bytes that contribute to calculation of the packet
// size that precedes a binary packet. Eight bytes are accounted for by the packet ID and type,
// while two bytes are accounted for by the null byte termination of the body and packet. The packet
// size itself is not included in the size calculation.
const WrapperSize = 8 + 2

// SizeFieldSize is the width of the little-endian packet size that precedes every packet.
const SizeFieldSize = 4

// MaxPayloadSize is the largest body a packet may carry. Servers split nothing and clients are
// expected to keep their commands well below it, so anything larger is refused rather than
// truncated.
const MaxPayloadSize = 4096

// MaximumPacketSize is the largest value allowed for the packet size that precedes binary packets.
const MaximumPacketSize = MaxPayloadSize + WrapperSize

// PacketType indicates the purpose of a packet. Note that [PacketTypeAuthResponse] and
// [PacketTypeExecCommand] share a wire value, so the type alone can't tell an auth response from a
// command; responses are routed by packet ID instead.
type PacketType int32

const (
	// PacketTypeAuth represents a client authorization request packet. It indicates that the body
	// will contain the server password.
	PacketTypeAuth PacketType = 3

	// PacketTypeAuthResponse represents a server authorization response packet. If authorization
	// failed, the packet ID will have a value of -1 rather than that of the matching client request
	// packet.
	PacketTypeAuthResponse PacketType = 2

	// PacketTypeExecCommand represents a client request packet that contains a command to be executed
	// by the server.
	PacketTypeExecCommand PacketType = 2

	// PacketTypeResponseValue represents a server response packet that contains the output of a
	// server command initiated by a [PacketTypeExecCommand] client request packet.
	PacketTypeResponseValue PacketType = 0
)

// Valid reports whether t is one of the wire values defined by the protocol.
func (t PacketType) Valid() bool {
	switch t {
	case PacketTypeAuth, PacketTypeExecCommand, PacketTypeResponseValue:
		return true
	}
	return false
}

func (t PacketType) String() string {
	switch t {
	case PacketTypeAuth:
		return "auth"
	case PacketTypeExecCommand:
		return "exec_command"
	case PacketTypeResponseValue:
		return "response_value"
	}
	return fmt.Sprintf("unknown(%d)", int32(t))
}

// Packet is a singular RCON protocol packet, either as a request from a client or a response from
// a server.
type Packet struct {
	// ID is chosen by the client and echoed by the server, which is how a [Conn] correlates
	// responses with requests. The only response whose ID won't match its request is a failed
	// authorization, which carries -1.
	ID int32

	// Type indicates the purpose of the packet.
	Type PacketType

	// Body contains the RCON password, the command to be executed, or the server's response to a
	// request. It may be empty.
	Body []byte
}

// Encode returns the binary form of p. It is shorthand for [Packet.MarshalBinary].
func Encode(p Packet) ([]byte, error) {
	return p.MarshalBinary()
}

// Decode parses exactly one complete binary packet from b. It is shorthand for
// [Packet.UnmarshalBinary].
func Decode(b []byte) (Packet, error) {
	var p Packet
	err := p.UnmarshalBinary(b)
	return p, err
}

// MarshalBinary encodes the receiving [Packet] into binary form and returns the result. This
// satisfies the [encoding.BinaryMarshaler] interface.
func (p Packet) MarshalBinary() ([]byte, error) {
	if len(p.Body) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: body is %d bytes", ErrPayloadTooLarge, len(p.Body))
	}
	packetSize := len(p.Body) + WrapperSize

	b := make([]byte, SizeFieldSize+packetSize)
	binary.LittleEndian.PutUint32(b[0:4], uint32(packetSize))
	binary.LittleEndian.PutUint32(b[4:8], uint32(p.ID))
	binary.LittleEndian.PutUint32(b[8:12], uint32(p.Type))
	copy(b[12:], p.Body)
	// The trailing two bytes are already zero.

	return b, nil
}

// WriteTo writes a binary representation of the packet to [io.Writer] w in a single call. This
// method satisfies the [io.WriterTo] interface.
func (p Packet) WriteTo(w io.Writer) (int64, error) {
	bs, err := p.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(bs)

	return int64(n), err
}

// UnmarshalBinary decodes the binary encoded packet b into the receiving [Packet]. b must hold
// exactly one packet. This satisfies the [encoding.BinaryUnmarshaler] interface.
func (p *Packet) UnmarshalBinary(b []byte) error {
	if len(b) < SizeFieldSize {
		return fmt.Errorf("%w: %d bytes is shorter than the size field", ErrMalformedPacket, len(b))
	}
	packetSize, err := checkPacketSize(int32(binary.LittleEndian.Uint32(b)))
	if err != nil {
		return err
	}
	if len(b) != SizeFieldSize+packetSize {
		return fmt.Errorf("%w: declared %d bytes, got %d", ErrMalformedPacket, packetSize, len(b)-SizeFieldSize)
	}
	return p.decodeFields(b[SizeFieldSize:])
}

// ReadFrom reads exactly one binary packet from r into the receiving [Packet]. No bytes past the
// end of the packet are consumed. This method satisfies the [io.ReaderFrom] interface.
func (p *Packet) ReadFrom(r io.Reader) (int64, error) {
	var sizeField [SizeFieldSize]byte
	n, err := io.ReadFull(r, sizeField[:])
	if err != nil {
		return int64(n), err
	}

	packetSize, err := checkPacketSize(int32(binary.LittleEndian.Uint32(sizeField[:])))
	if err != nil {
		return int64(n), err
	}

	rest := make([]byte, packetSize)
	m, err := io.ReadFull(r, rest)
	if err != nil {
		return int64(n + m), err
	}

	return int64(n + m), p.decodeFields(rest)
}

// decodeFields parses everything that follows the packet size.
func (p *Packet) decodeFields(b []byte) error {
	t := PacketType(binary.LittleEndian.Uint32(b[4:8]))
	if !t.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPacketType, int32(t))
	}

	// Ensure the packet is properly terminated by two zero bytes.
	end := len(b) - 2
	if b[end] != 0 || b[end+1] != 0 {
		return fmt.Errorf("%w: packet incorrectly terminated", ErrMalformedPacket)
	}

	p.ID = int32(binary.LittleEndian.Uint32(b[0:4]))
	p.Type = t
	p.Body = append([]byte(nil), b[8:end]...)

	return nil
}

// checkPacketSize validates a declared packet size against the protocol bounds.
func checkPacketSize(size int32) (int, error) {
	switch {
	case size < WrapperSize:
		return 0, fmt.Errorf("%w: packet size %d is too small", ErrMalformedPacket, size)
	case size > MaximumPacketSize:
		return 0, fmt.Errorf("%w: packet size %d", ErrPayloadTooLarge, size)
	}
	return int(size), nil
}

// EqualTo determines if the provided Packet content matches the receiving Packet content.
func (p Packet) EqualTo(p2 Packet) bool {
	switch {
	case p.ID != p2.ID:
		return false
	case p.Type != p2.Type:
		return false
	case !bytes.Equal(p.Body, p2.Body):
		return false
	}
	return true
}

// Clone returns a deep copy of the packet.
func (p Packet) Clone() Packet {
	p.Body = bytes.Clone(p.Body)
	return p
}

// String formats the packet for logs and diagnostics. Bodies longer than 64 bytes are truncated.
func (p Packet) String() string {
	body := p.Body
	suffix := ""
	if len(body) > 64 {
		body, suffix = body[:64], "..."
	}
	return fmt.Sprintf("Packet{id=%d type=%s body=%q%s}", p.ID, p.Type, body, suffix)
}
