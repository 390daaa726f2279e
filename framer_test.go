package rcon_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schultz-is/rcon-go/v2"
)

// drain feeds chunks through a Framer and decodes everything it emits.
func drain(t *testing.T, chunks [][]byte) []rcon.Packet {
	t.Helper()

	var (
		f   rcon.Framer
		out []rcon.Packet
	)
	for _, chunk := range chunks {
		n, err := f.Write(chunk)
		require.NoError(t, err)
		require.Equal(t, len(chunk), n)

		for {
			b, ok, err := f.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
			p, err := rcon.Decode(b)
			require.NoError(t, err)
			out = append(out, p)
		}
	}
	require.Zero(t, f.Buffered(), "partial bytes left in the framer")
	return out
}

func encodeAll(t *testing.T, ps []rcon.Packet) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, p := range ps {
		_, err := p.WriteTo(&buf)
		require.NoError(t, err)
	}
	return buf.Bytes()
}

// rechunk splits b at random points, with chunks no larger than max bytes.
func rechunk(rng *rand.Rand, b []byte, max int) [][]byte {
	var chunks [][]byte
	for len(b) > 0 {
		n := 1 + rng.Intn(max)
		if n > len(b) {
			n = len(b)
		}
		chunks = append(chunks, b[:n])
		b = b[n:]
	}
	return chunks
}

func assertSamePackets(t *testing.T, want, got []rcon.Packet) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Truef(t, want[i].EqualTo(got[i]), "packet %d differs: id %d/%d", i, want[i].ID, got[i].ID)
	}
}

func TestFramerReassemblyInvariance(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 100; round++ {
		ps := make([]rcon.Packet, 1+rng.Intn(8))
		for i := range ps {
			ps[i] = randomPacket(rng)
		}
		stream := encodeAll(t, ps)

		// Chunk sizes range from single bytes up to several packets at once.
		maxChunk := []int{1, 3, 16, 512, len(stream)}[round%5]
		got := drain(t, rechunk(rng, stream, maxChunk))
		assertSamePackets(t, ps, got)
	}
}

func TestFramerOneByteChunks(t *testing.T) {
	ps := []rcon.Packet{
		{ID: 1, Type: rcon.PacketTypeAuth, Body: []byte("abc123")},
		{ID: 1, Type: rcon.PacketTypeAuthResponse},
		{ID: 2, Type: rcon.PacketTypeResponseValue, Body: []byte("There are 2 of a max of 20 players online: Alice, Bob")},
		{ID: 3, Type: rcon.PacketTypeResponseValue},
	}
	stream := encodeAll(t, ps)

	chunks := make([][]byte, len(stream))
	for i := range stream {
		chunks[i] = stream[i : i+1]
	}
	assertSamePackets(t, ps, drain(t, chunks))
}

func TestFramerManyPacketsInOneChunk(t *testing.T) {
	ps := make([]rcon.Packet, 50)
	for i := range ps {
		ps[i] = rcon.Packet{ID: int32(i), Type: rcon.PacketTypeResponseValue, Body: bytes.Repeat([]byte{'x'}, i)}
	}
	assertSamePackets(t, ps, drain(t, [][]byte{encodeAll(t, ps)}))
}

func TestFramerNeverEmitsPartialPackets(t *testing.T) {
	p := rcon.Packet{ID: 9, Type: rcon.PacketTypeResponseValue, Body: []byte("hello")}
	b, err := p.MarshalBinary()
	require.NoError(t, err)

	var f rcon.Framer
	for i := 0; i < len(b)-1; i++ {
		_, _ = f.Write(b[i : i+1])
		frame, ok, err := f.Next()
		require.NoError(t, err)
		require.False(t, ok, "emitted after %d of %d bytes", i+1, len(b))
		require.Nil(t, frame)
	}
	require.Equal(t, len(b)-1, f.Buffered())

	_, _ = f.Write(b[len(b)-1:])
	frame, ok, err := f.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, b, frame)

	_, ok, err = f.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFramerRejectsImpossibleSizes(t *testing.T) {
	for name, prefix := range map[string][]byte{
		"negative":  {0xd6, 0xff, 0xff, 0xff},
		"too small": {0x09, 0x00, 0x00, 0x00},
		"too large": {0x0b, 0x10, 0x00, 0x00},
	} {
		t.Run(name, func(t *testing.T) {
			var f rcon.Framer
			_, _ = f.Write(prefix)
			_, ok, err := f.Next()
			require.Error(t, err)
			require.False(t, ok)
		})
	}
}

func TestFramerReset(t *testing.T) {
	var f rcon.Framer
	_, _ = f.Write([]byte{0x0a, 0x00})
	require.Equal(t, 2, f.Buffered())

	f.Reset()
	require.Zero(t, f.Buffered())

	p := rcon.Packet{ID: 4, Type: rcon.PacketTypeResponseValue}
	b, err := p.MarshalBinary()
	require.NoError(t, err)
	_, _ = f.Write(b)

	frame, ok, err := f.Next()
	require.NoError(t, err)
	require.True(t, ok)
	got, err := rcon.Decode(frame)
	require.NoError(t, err)
	require.True(t, p.EqualTo(got))
}
