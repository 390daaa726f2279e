// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultTimeout is the default amount of time allowed for a request and response round trip.
	DefaultTimeout = 2 * time.Second

	// DefaultMaxPending is the default number of requests allowed in flight at once. Most servers
	// process one command at a time per connection.
	DefaultMaxPending = 1

	// DefaultPort is the RCON port used when none is configured.
	DefaultPort = 25575
)

const tracerName = "github.com/schultz-is/rcon-go/v2"

// readBufferSize is the size of the chunks read from the transport.
const readBufferSize = 4096

// State is the lifecycle state of a [Conn].
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// EventKind identifies a lifecycle notification.
type EventKind int

const (
	// EventConnect is emitted once the transport is connected, before authentication.
	EventConnect EventKind = iota + 1

	// EventAuthenticated is emitted once the server accepted the password.
	EventAuthenticated

	// EventEnd is emitted exactly once when the connection is torn down, for any reason.
	EventEnd

	// EventError is emitted before EventEnd when the teardown was caused by an error.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventAuthenticated:
		return "authenticated"
	case EventEnd:
		return "end"
	case EventError:
		return "error"
	}
	return "event(" + strconv.Itoa(int(k)) + ")"
}

// Event is a lifecycle notification delivered to [ConnConfig.OnEvent].
type Event struct {
	Kind EventKind

	// Err is set for EventError.
	Err error
}

// DialFunc opens the transport for a connection. [net.Dialer.DialContext] satisfies it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ConnConfig contains settings to control [Conn] instances.
type ConnConfig struct {
	// Host and Port locate the RCON server. A zero Port means [DefaultPort].
	Host string
	Port int

	// Password is sent in the authorization request.
	Password string

	// Timeout limits each request and response round trip, authorization included, and how long
	// End waits for the server to close its side. A value of zero means [DefaultTimeout].
	Timeout time.Duration

	// MaxPending bounds the number of requests in flight. A value of zero means
	// [DefaultMaxPending]; anything above one assumes the server answers out of order safely.
	MaxPending int

	// StartingSeq is the initial value for the connection's packet ID sequence. Any value less
	// than zero will be ignored.
	StartingSeq int32

	// DialFunc opens the transport. It defaults to a [net.Dialer] and may be replaced to wrap the
	// connection in TLS, reach a unix socket, or hand in a test pipe.
	DialFunc DialFunc

	// Logger receives log entries from a connection.
	Logger *slog.Logger

	// LogOutboundAuthPackets enables debug logging of outbound authorization request packets,
	// exposing server passwords in plaintext. When false (the default) the password text and
	// packet length are scrubbed.
	//
	// WARNING: Only enable this flag if you are aware of the implications and are willing to accept
	// the risks!
	LogOutboundAuthPackets bool

	// OnEvent, when set, receives lifecycle notifications. It is called synchronously from the
	// goroutine that caused the transition and must not block.
	OnEvent func(Event)

	// Metrics receives request and packet counts. Nil disables metrics.
	Metrics *Metrics

	// Tracer creates a span per Send. It defaults to the global OpenTelemetry tracer provider.
	Tracer trace.Tracer
}

// Address returns the host:port the configuration dials.
func (cfg ConnConfig) Address() string {
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(cfg.Host, strconv.Itoa(port))
}

// Conn is an RCON connection to a single server. It authenticates on Connect, then correlates
// responses to requests by packet ID. Requests are scheduled through a [Queue] so that at most
// [ConnConfig.MaxPending] are in flight; with the default of one, commands are written in the
// order Send was called and each response settles before the next command is written.
//
// A Conn is used for exactly one physical connection. Once it has ended, for whatever reason, it
// can't be reconnected; create a new one instead. Conns are safe for concurrent use.
//
// RCON does not specify any keep alive functionality, so a server may drop a connection that
// idles for an extended period.
type Conn struct {
	config  ConnConfig
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	// seq tracks the monotonically increasing packet ID sent with each request. This will be a
	// value between zero and [math.MaxInt32] inclusive, so it never collides with the -1 of a
	// failed authorization.
	seq atomic.Int32

	queue *Queue[Packet]

	// mu guards everything below.
	mu      sync.Mutex
	state   State
	used    bool
	ended   bool
	torn    bool
	conn    net.Conn
	authID  int32
	pending map[int32]*pendingRequest
	err     error

	// writeMu keeps packet writes whole when more than one request is in flight.
	writeMu sync.Mutex

	done chan struct{}
}

// New returns a disconnected [Conn] configured by config.
func New(config ConnConfig) *Conn {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxPending <= 0 {
		config.MaxPending = DefaultMaxPending
	}
	if config.DialFunc == nil {
		config.DialFunc = (&net.Dialer{}).DialContext
	}
	if config.Tracer == nil {
		config.Tracer = otel.Tracer(tracerName)
	}

	c := &Conn{
		config:  config,
		logger:  config.Logger,
		metrics: config.Metrics,
		tracer:  config.Tracer,
		queue:   NewQueue[Packet](config.MaxPending),
		pending: make(map[int32]*pendingRequest),
		done:    make(chan struct{}),
	}
	// Nothing may be dispatched before authentication has completed.
	c.queue.Pause()
	c.seq.Store(config.StartingSeq)
	return c
}

// Dial creates a [Conn] and connects it.
func Dial(ctx context.Context, config ConnConfig) (*Conn, error) {
	c := New(config)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect opens the transport and authenticates with the configured password. A rejected password
// yields [ErrAuthenticationFailed]; the transport is destroyed and the Conn is left disconnected.
func (c *Conn) Connect(ctx context.Context) (err error) {
	c.mu.Lock()
	switch {
	case c.state != StateDisconnected:
		c.mu.Unlock()
		return ErrAlreadyConnected
	case c.used:
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.used = true
	c.state = StateConnecting
	c.mu.Unlock()

	defer func() { c.metrics.connectionAttempt(err) }()

	addr := c.config.Address()
	c.log(ctx, slog.LevelDebug, "connecting", slog.String("addr", addr))

	conn, err := c.config.DialFunc(ctx, "tcp", addr)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		c.teardown(err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateAuthenticating
	c.mu.Unlock()

	c.emit(Event{Kind: EventConnect})
	go c.readLoop(conn)

	// Authorization bypasses the queue, which stays paused until it succeeds.
	_, err = c.roundTrip(ctx, StateAuthenticating, Packet{Type: PacketTypeAuth, Body: []byte(c.config.Password)})
	if err != nil {
		c.teardown(err)
		return err
	}

	c.mu.Lock()
	if c.state != StateAuthenticating {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	c.state = StateReady
	c.queue.Resume()
	c.mu.Unlock()

	c.log(ctx, slog.LevelInfo, "authenticated", slog.String("addr", addr))
	c.emit(Event{Kind: EventAuthenticated})
	return nil
}

// Send executes command on the server and returns the response body as text.
func (c *Conn) Send(ctx context.Context, command string) (string, error) {
	resp, err := c.SendBytes(ctx, []byte(command))
	return string(resp), err
}

// SendBytes executes cmd on the server and returns the response body. It fails with
// [ErrNotConnected] unless the connection is authenticated, with [ErrTimeout] when the server
// doesn't answer in time, and with [ErrConnectionClosed] if the connection is torn down first.
func (c *Conn) SendBytes(ctx context.Context, cmd []byte) ([]byte, error) {
	if len(cmd) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: command is %d bytes", ErrPayloadTooLarge, len(cmd))
	}
	if c.State() != StateReady {
		return nil, ErrNotConnected
	}

	ctx, span := c.tracer.Start(ctx, "rcon.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("server.address", c.config.Address()),
			attribute.String("rcon.command", commandVerb(cmd)),
		),
	)
	defer span.End()

	req := Packet{Type: PacketTypeExecCommand, Body: cmd}
	f := c.queue.Enqueue(ctx, func(ctx context.Context) (Packet, error) {
		return c.roundTrip(ctx, StateReady, req)
	})
	select {
	case <-f.Done():
	case <-ctx.Done():
	case <-c.done:
		// Anything enqueued after teardown flushed the queue would never start.
		c.queue.Flush(ErrConnectionClosed)
	}
	resp, err := f.Wait(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("rcon.response_bytes", len(resp.Body)))
	return resp.Body, nil
}

// roundTrip assigns req the next packet ID, registers it as pending, writes it, and waits for the
// matching response.
func (c *Conn) roundTrip(ctx context.Context, want State, req Packet) (Packet, error) {
	if err := ctx.Err(); err != nil {
		return Packet{}, err
	}

	req.ID = c.loadAndIncrementSeq()
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("rcon.packet_id", int64(req.ID)))

	pr, err := c.register(req.ID, want)
	if err != nil {
		return Packet{}, err
	}

	if err := c.writePacket(ctx, req); err != nil {
		// A half written packet leaves the stream unusable.
		c.teardown(fmt.Errorf("rcon: write: %w", err))
	}

	return c.await(ctx, pr)
}

func (c *Conn) writePacket(ctx context.Context, p Packet) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.logPacket(ctx, "sending packet", p)
	if err := conn.SetWriteDeadline(time.Now().Add(c.config.Timeout)); err != nil {
		return err
	}
	if _, err := p.WriteTo(conn); err != nil {
		return err
	}
	c.metrics.packetSent(p.Type)
	return nil
}

// readLoop feeds transport data through a [Framer] and routes every decoded packet until the
// transport fails or closes. Framing and decoding errors are fatal.
func (c *Conn) readLoop(conn net.Conn) {
	var framer Framer
	buf := make([]byte, readBufferSize)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			_, _ = framer.Write(buf[:n])
			for {
				b, ok, ferr := framer.Next()
				if ferr != nil {
					c.teardown(ferr)
					return
				}
				if !ok {
					break
				}
				p, derr := Decode(b)
				if derr != nil {
					c.teardown(derr)
					return
				}
				c.dispatch(p)
			}
		}
		if err != nil {
			c.teardown(err)
			return
		}
	}
}

// dispatch routes a decoded packet to the request waiting on it. The packet type is advisory only:
// before authentication completes, whatever arrives answers the authorization request, and it
// succeeds only if the ID matches. After that, packets are matched by ID and unmatched ones are
// dropped.
func (c *Conn) dispatch(p Packet) {
	ctx := context.Background()
	c.logPacket(ctx, "received packet", p)
	c.metrics.packetReceived(p.Type)

	res := result{packet: p}

	c.mu.Lock()
	var pr *pendingRequest
	if c.state == StateAuthenticating {
		pr = c.pending[c.authID]
		if pr != nil && p.ID != c.authID {
			res = result{err: fmt.Errorf("%w: server answered with packet ID %d", ErrAuthenticationFailed, p.ID)}
		}
	} else {
		pr = c.pending[p.ID]
	}
	if pr != nil {
		delete(c.pending, pr.id)
	}
	c.mu.Unlock()

	if pr == nil {
		c.log(ctx, slog.LevelDebug, "dropping unmatched packet", slog.Int("id", int(p.ID)), slog.String("type", p.Type.String()))
		return
	}
	c.finish(pr, res)
}

// End pauses the queue, half-closes the transport and waits for the server to close its side. If
// that takes longer than ctx or the configured timeout allow, the transport is closed outright.
// Requests still pending when the connection goes down fail with [ErrConnectionClosed].
func (c *Conn) End(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.ended:
		c.mu.Unlock()
		return ErrAlreadyClosed
	case c.state != StateReady || c.conn == nil:
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.ended = true
	c.state = StateClosing
	c.queue.Pause()
	conn := c.conn
	c.mu.Unlock()

	c.log(ctx, slog.LevelDebug, "ending connection")

	var err error
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		err = cw.CloseWrite()
	} else {
		err = conn.Close()
	}
	if err != nil {
		c.teardown(err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	select {
	case <-c.done:
	case <-ctx.Done():
		c.log(ctx, slog.LevelDebug, "server did not close its side in time, closing transport")
		c.teardown(nil)
		<-c.done
	}
	return nil
}

// Close tears the connection down immediately without waiting for the server. It is safe to call
// at any time and more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.ended = true
	if c.state == StateReady {
		c.state = StateClosing
	}
	c.mu.Unlock()

	c.teardown(nil)
	return nil
}

// teardown moves the connection to StateDisconnected, destroys the transport, and rejects every
// pending and queued request. Only the first call has any effect.
func (c *Conn) teardown(cause error) {
	c.mu.Lock()
	if c.torn {
		c.mu.Unlock()
		return
	}
	c.torn = true

	// Whatever ends the read side after we started closing is expected, as is the server closing
	// the connection on its own.
	if c.state == StateClosing || errors.Is(cause, io.EOF) || errors.Is(cause, net.ErrClosed) {
		cause = nil
	}
	c.state = StateDisconnected
	c.err = cause
	c.queue.Pause()

	conn := c.conn
	pending := c.pending
	c.pending = make(map[int32]*pendingRequest)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	closed := ErrConnectionClosed
	if cause != nil {
		closed = fmt.Errorf("%w: %w", ErrConnectionClosed, cause)
	}
	dropped := c.queue.Flush(closed)
	for _, pr := range pending {
		c.finish(pr, result{err: closed})
	}

	ctx := context.Background()
	if cause != nil {
		c.log(ctx, slog.LevelWarn, "connection failed", slog.String("error", cause.Error()))
		c.emit(Event{Kind: EventError, Err: cause})
	}
	c.log(ctx, slog.LevelDebug, "connection ended", slog.Int("rejected", len(pending)+dropped))
	c.emit(Event{Kind: EventEnd})

	close(c.done)
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the connection has been torn down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that tore the connection down, or nil if it ended cleanly or is still up.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// RemoteAddr returns the server address once connected, nil otherwise.
func (c *Conn) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}

func (c *Conn) emit(e Event) {
	if c.config.OnEvent != nil {
		c.config.OnEvent(e)
	}
}

// loadAndIncrementSeq returns and then increments the connection's seq, wrapping around to zero
// when [math.MaxInt32] is reached.
func (c *Conn) loadAndIncrementSeq() int32 {
	var seq int32
	swapped := false
	for !swapped {
		seq = c.seq.Load()
		switch {
		case seq < 0:
			swapped = c.seq.CompareAndSwap(seq, 1)
			seq = 0

		case seq == math.MaxInt32:
			swapped = c.seq.CompareAndSwap(seq, 0)

		default:
			swapped = c.seq.CompareAndSwap(seq, seq+1)
		}
	}
	return seq
}

func (c *Conn) log(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	if c.logger == nil {
		return
	}
	c.logger.LogAttrs(ctx, level, msg, attrs...)
}

// logPacket sends a log record containing the provided log message and packet to the connection's
// logger. When the logger is nil or is not level set for debug records, this function is
// essentially a NOP. If the provided packet is an outbound authorization packet, its body and
// length are obfuscated to prevent leaking a plaintext password into logs.
func (c *Conn) logPacket(ctx context.Context, logMsg string, packet Packet) {
	if c.logger == nil || !c.logger.Handler().Enabled(ctx, slog.LevelDebug) {
		return
	}

	if packet.Type == PacketTypeAuth && !c.config.LogOutboundAuthPackets {
		packet.Body = []byte{'x', 'x', 'x', 'x', 'x'}
	}

	bs, err := packet.MarshalBinary()
	if err != nil {
		c.logger.LogAttrs(ctx, slog.LevelError, "failed to marshal packet for logging", slog.String("error", err.Error()))
		return
	}

	c.logger.LogAttrs(ctx, slog.LevelDebug, logMsg,
		slog.Int("id", int(packet.ID)),
		slog.String("packet", hex.EncodeToString(bs)),
	)
}

// commandVerb returns the first word of a command, which is safe to record without arguments that
// may carry player names or secrets.
func commandVerb(cmd []byte) string {
	fields := strings.Fields(string(cmd))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// resultLabel maps a request outcome to a metrics label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrAuthenticationFailed):
		return "auth_failed"
	case errors.Is(err, ErrConnectionFailed):
		return "connection_failed"
	case errors.Is(err, ErrConnectionClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}
