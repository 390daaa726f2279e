// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

// Package rcontest runs scripted RCON servers on the loopback interface for tests.
package rcontest

import (
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/schultz-is/rcon-go/v2"
)

// Handler answers a command. Returning false leaves the request unanswered.
type Handler func(cmd string) (resp string, ok bool)

// Echo answers every command with the command text.
func Echo(cmd string) (string, bool) { return cmd, true }

// Silent never answers.
func Silent(string) (string, bool) { return "", false }

// Server is a minimal RCON server in the style of Minecraft: a single auth response per
// authorization request, carrying the request ID on success and -1 on failure.
type Server struct {
	Password string
	Handler  Handler

	ln net.Listener
	wg sync.WaitGroup

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	commands []string
	closed   bool
}

// NewServer starts a server listening on an ephemeral loopback port. It is closed when the test
// finishes.
func NewServer(t testing.TB, password string, handler Handler) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("rcontest: listen: %s", err)
	}
	if handler == nil {
		handler = Echo
	}

	s := &Server{
		Password: password,
		Handler:  handler,
		ln:       ln,
		conns:    make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.serve()

	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Config returns a connection config pointing at the server with the right password.
func (s *Server) Config() rcon.ConnConfig {
	addr := s.ln.Addr().(*net.TCPAddr)
	return rcon.ConnConfig{
		Host:     addr.IP.String(),
		Port:     addr.Port,
		Password: s.Password,
	}
}

// Addr returns the listening address as host:port.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// Commands returns every command received so far, in arrival order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Close stops the listener and drops every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	err := s.ln.Close()
	s.wg.Wait()
	return err
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = c.Close()
			return
		}
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handle(c)
	}
}

func (s *Server) handle(c net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = c.Close()
	}()

	authed := false
	for {
		var req rcon.Packet
		if _, err := req.ReadFrom(c); err != nil {
			// io.EOF once the client half-closes; anything else ends the connection too.
			return
		}

		var resp rcon.Packet
		switch {
		case req.Type == rcon.PacketTypeAuth:
			resp = rcon.Packet{ID: req.ID, Type: rcon.PacketTypeAuthResponse}
			authed = string(req.Body) == s.Password
			if !authed {
				resp.ID = -1
			}

		case !authed:
			resp = rcon.Packet{ID: -1, Type: rcon.PacketTypeAuthResponse}

		default:
			s.mu.Lock()
			s.commands = append(s.commands, string(req.Body))
			s.mu.Unlock()

			body, ok := s.Handler(string(req.Body))
			if !ok {
				continue
			}
			resp = rcon.Packet{ID: req.ID, Type: rcon.PacketTypeResponseValue, Body: []byte(body)}
		}

		if _, err := resp.WriteTo(c); err != nil {
			return
		}
	}
}
