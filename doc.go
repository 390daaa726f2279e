// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

/*
Package rcon provides an asynchronous client for the RCON remote console protocol as described by
Valve Software at https://developer.valvesoftware.com/wiki/Source_RCON_Protocol and spoken by
Minecraft and Source engine servers.

The package is layered. [Packet] encodes and decodes single binary packets, [Framer] reassembles
complete packets from an arbitrarily chunked byte stream, and [Queue] bounds how many operations
run at once while starting them in FIFO order. [Conn] ties them together: it dials the server,
authenticates, hands out packet IDs, and routes every response to the request waiting on it.

Most callers only need [RunCommand] or [RunCommands], which open a connection, execute commands,
and end it again.
*/
package rcon
