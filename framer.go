// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"encoding/binary"
	"fmt"
)

// Framer reassembles complete binary packets from a byte stream whose chunk boundaries bear no
// relation to packet boundaries. Chunks are added with [Framer.Write] and complete packets are
// taken out with [Framer.Next]; leftover partial bytes stay buffered until more data arrives.
//
// A Framer is not safe for concurrent use.
type Framer struct {
	buf []byte
	off int
}

// Write appends p to the accumulation buffer. It never fails; the error satisfies [io.Writer].
func (f *Framer) Write(p []byte) (int, error) {
	// Compact before growing so a long-lived connection doesn't keep consumed bytes alive.
	if f.off > 0 && f.off == len(f.buf) {
		f.buf = f.buf[:0]
		f.off = 0
	} else if f.off > 0 && cap(f.buf)-len(f.buf) < len(p) {
		n := copy(f.buf, f.buf[f.off:])
		f.buf = f.buf[:n]
		f.off = 0
	}
	f.buf = append(f.buf, p...)
	return len(p), nil
}

// Next returns the bytes of the next complete packet, size field included, ready for [Decode].
// When not enough bytes are buffered yet, ok is false and the buffer is left untouched. An error
// means the stream declared an impossible packet size and can't be resynchronised.
//
// The returned slice is only valid until the next call to Write.
func (f *Framer) Next() (frame []byte, ok bool, err error) {
	pending := f.buf[f.off:]
	if len(pending) < SizeFieldSize {
		return nil, false, nil
	}

	size, err := checkPacketSize(int32(binary.LittleEndian.Uint32(pending)))
	if err != nil {
		return nil, false, fmt.Errorf("rcon: framing: %w", err)
	}

	total := SizeFieldSize + size
	if len(pending) < total {
		return nil, false, nil
	}

	f.off += total
	return pending[:total:total], true, nil
}

// Buffered returns the number of bytes received but not yet returned by Next.
func (f *Framer) Buffered() int {
	return len(f.buf) - f.off
}

// Reset discards any buffered bytes.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.off = 0
}
