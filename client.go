package redisx

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
)

// role identifies which of a Server's three multiplexed connections a
// ClientConn is.
type role int

const (
	// RoleInteractive serves synchronous request/reply traffic.
	RoleInteractive role = iota
	// RolePipeline serves fire-and-forget batched commands; replies are
	// drained by a background listener and handed to a PipelineConsumer.
	RolePipeline
	// RoleSubscription serves PUB/SUB; messages are drained by a background
	// listener and dispatched to registered subscribers.
	RoleSubscription
)

func (r role) String() string {
	switch r {
	case RoleInteractive:
		return "interactive"
	case RolePipeline:
		return "pipeline"
	case RoleSubscription:
		return "subscription"
	default:
		return "unknown"
	}
}

// ClientConn is one of a Server's three connections. Its zero value is a
// valid, unconnected client: reset state with conn == nil and enabled ==
// false, matching the invariant enabled ⇒ conn != nil.
type ClientConn struct {
	server *Server
	role   role

	writeMu sync.Mutex
	readMu  sync.Mutex

	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer

	enabled atomic.Bool

	pendingMu sync.Mutex
	pending   int

	lastAttrMu sync.Mutex
	lastAttr   *RESP
}

func newClientConn(s *Server, r role) *ClientConn {
	return &ClientConn{server: s, role: r}
}

// IsEnabled reports whether the client is currently connected and usable.
func (c *ClientConn) IsEnabled() bool { return c.enabled.Load() }

// Lock acquires the client's write lock, serializing senders. Async
// operations in this package (SendAsync, ReadReplyAsync, ...) assume the
// caller already holds this lock.
func (c *ClientConn) Lock() { c.writeMu.Lock() }

// Unlock releases the client's write lock.
func (c *ClientConn) Unlock() { c.writeMu.Unlock() }

// LockConnected acquires the write lock only if the client is enabled,
// returning ErrNoService otherwise without blocking.
func (c *ClientConn) LockConnected() error {
	if !c.enabled.Load() {
		return newErr(ErrNoService, "ClientConn.LockConnected", nil)
	}
	c.writeMu.Lock()
	if !c.enabled.Load() {
		c.writeMu.Unlock()
		return newErr(ErrNoService, "ClientConn.LockConnected", nil)
	}
	return nil
}

func (c *ClientConn) incPending() {
	c.pendingMu.Lock()
	c.pending++
	c.pendingMu.Unlock()
}

func (c *ClientConn) decPending() {
	c.pendingMu.Lock()
	if c.pending > 0 {
		c.pending--
	}
	c.pendingMu.Unlock()
}

// Pending reports the number of requests sent but not yet read.
func (c *ClientConn) Pending() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return c.pending
}

// dial opens the TCP (optionally TLS) connection, applies socket tuning,
// and wires up buffered I/O. Caller must hold writeMu.
func (c *ClientConn) dial(host string, port int, cfg *Config) error {
	const op = "ClientConn.dial"

	addr := net.JoinHostPort(host, itoa(port))
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}

	raw, err := dialer.Dial("tcp", addr)
	if err != nil {
		return newErr(ErrNoService, op, err)
	}

	if err := tuneSocket(raw, c.role, cfg.TCPBufSize); err != nil {
		raw.Close()
		return newErr(ErrNoService, op, err)
	}

	if cfg.SocketConfigurator != nil {
		if tc, ok := raw.(*net.TCPConn); ok {
			if err := controlRawConfigurator(tc, cfg.SocketConfigurator); err != nil {
				raw.Close()
				return newErr(ErrNoService, op, err)
			}
		}
	}

	conn := net.Conn(raw)
	if cfg.TLS != nil {
		tlsCfg := cfg.TLS.Clone()
		if tlsCfg.ServerName == "" {
			tlsCfg.ServerName = host
		}
		tc := tls.Client(raw, tlsCfg)
		if err := tc.HandshakeContext(context.Background()); err != nil {
			raw.Close()
			return newErr(ErrNoService, op, err)
		}
		conn = tc
	}

	c.conn = conn
	c.br = bufio.NewReaderSize(conn, redisCmdBufSize)
	c.bw = bufio.NewWriterSize(conn, redisCmdBufSize)
	c.enabled.Store(true)
	return nil
}

// close tears down the socket. Caller must hold writeMu.
func (c *ClientConn) close() {
	c.enabled.Store(false)
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.br = nil
	c.bw = nil
}

// sendAsync writes one command. Caller must hold writeMu and the client
// must be enabled.
func (c *ClientConn) sendAsync(args [][]byte) error {
	const op = "ClientConn.sendAsync"
	if !c.enabled.Load() {
		return newErr(ErrNoService, op, nil)
	}
	c.applyWriteDeadline()
	if err := writeCommand(c.bw, args); err != nil {
		c.reportTransmitError(op, err)
		return newErr(classifyIOErr(err), op, err)
	}
	c.incPending()
	return nil
}

// readReplyAsync reads exactly one reply, transparently absorbing any
// leading attribute frames into lastAttr and dispatching any out-of-band
// push frame to the configured PushConsumer, in both cases looping to read
// the next frame rather than returning it as the command reply. Caller must
// hold readMu (for the subscription/pipeline listeners) or the write lock
// (for the synchronous interactive path, which holds only the write lock).
func (c *ClientConn) readReplyAsync() (*RESP, error) {
	const op = "ClientConn.readReplyAsync"
	if !c.enabled.Load() {
		return nil, newErr(ErrNoService, op, nil)
	}
	c.applyReadDeadline()
	for {
		r, err := readReply(c.br)
		if err != nil {
			if isTimeout(err) {
				return nil, newErr(ErrTimedOut, op, err)
			}
			c.reportTransmitError(op, err)
			return nil, newErr(classifyIOErr(err), op, err)
		}
		c.decPending()
		if r.Type == TypeAttribute {
			c.lastAttrMu.Lock()
			c.lastAttr = r
			c.lastAttrMu.Unlock()
			continue
		}
		if r.Type == TypePush {
			if cb := c.server.pushConsumer(); cb != nil {
				cb(c.server, r)
			}
			continue
		}
		return r, nil
	}
}

// ignoreReplyAsync reads and discards one reply.
func (c *ClientConn) ignoreReplyAsync() error {
	_, err := c.readReplyAsync()
	return err
}

// lastAttributes returns the most recently cached attribute frame, if any.
func (c *ClientConn) lastAttributes() *RESP {
	c.lastAttrMu.Lock()
	defer c.lastAttrMu.Unlock()
	return c.lastAttr
}

func (c *ClientConn) clearAttributes() {
	c.lastAttrMu.Lock()
	c.lastAttr = nil
	c.lastAttrMu.Unlock()
}

func (c *ClientConn) applyWriteDeadline() {
	if c.conn == nil {
		return
	}
	if d := c.server.timeout(); d > 0 {
		_ = c.conn.SetWriteDeadline(deadlineFrom(d))
	}
}

func (c *ClientConn) applyReadDeadline() {
	if c.conn == nil {
		return
	}
	if d := c.server.timeout(); d > 0 {
		_ = c.conn.SetReadDeadline(deadlineFrom(d))
	}
}

func (c *ClientConn) reportTransmitError(op string, err error) {
	c.server.reportTransmitError(c.role, op, err)
}
