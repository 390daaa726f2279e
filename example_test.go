// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/schultz-is/rcon-go/v2"
)

func ExamplePacket_WriteTo() {
	var buf bytes.Buffer

	p := rcon.Packet{
		ID:   42,
		Type: rcon.PacketTypeExecCommand,
		Body: []byte("info"),
	}
	n, err := p.WriteTo(&buf)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Wrote %d bytes: %0x\n", n, buf.Bytes())

	// Output:
	// Wrote 18 bytes: 0e0000002a00000002000000696e666f0000
}

func ExamplePacket_ReadFrom() {
	bs, err := hex.DecodeString("0e0000002a00000002000000696e666f0000")
	if err != nil {
		log.Fatal(err)
	}
	rdr := bytes.NewReader(bs)

	var p rcon.Packet
	n, err := p.ReadFrom(rdr)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Read %d bytes: %#v\n", n, p)

	// Output:
	// Read 18 bytes: rcon.Packet{ID:42, Type:2, Body:[]uint8{0x69, 0x6e, 0x66, 0x6f}}
}

func ExampleFramer() {
	bs, err := hex.DecodeString("0e0000002a00000002000000696e666f0000" + "0e0000002b00000000000000706f6e670000")
	if err != nil {
		log.Fatal(err)
	}

	// Feed the stream in awkward pieces.
	var f rcon.Framer
	for _, chunk := range [][]byte{bs[:3], bs[3:20], bs[20:]} {
		_, _ = f.Write(chunk)
		for {
			frame, ok, err := f.Next()
			if err != nil {
				log.Fatal(err)
			}
			if !ok {
				break
			}
			p, err := rcon.Decode(frame)
			if err != nil {
				log.Fatal(err)
			}
			fmt.Printf("%d %s %q\n", p.ID, p.Type, p.Body)
		}
	}

	// Output:
	// 42 exec_command "info"
	// 43 response_value "pong"
}

func ExampleDial() {
	ctx := context.Background()

	c, err := rcon.Dial(ctx, rcon.ConnConfig{
		Host:     "192.0.2.1",
		Port:     25575,
		Password: "super secret password",
	})
	if err != nil {
		log.Fatal(err)
	}

	resp, err := c.Send(ctx, "list")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(resp)

	if err := c.End(ctx); err != nil {
		log.Fatal(err)
	}
}

func ExampleRunCommands() {
	resps, err := rcon.RunCommands(context.Background(), rcon.ConnConfig{
		Host:     "192.0.2.1",
		Password: "super secret password",
	}, "save-off", "save-all flush", "save-on")
	if err != nil {
		log.Fatal(err)
	}
	for _, resp := range resps {
		fmt.Println(resp)
	}
}
