package redisx

import (
	"crypto/tls"
	"time"

	"github.com/Smithsonian/redisx-sub000/logx"
	"github.com/Smithsonian/redisx-sub000/metrics"
)

// SocketConfigurator lets a caller tune a raw connection (e.g. via
// golang.org/x/sys/unix.SetsockoptInt) right after it is dialed and before
// the RESP handshake runs.
type SocketConfigurator func(fd uintptr) error

// PushConsumer receives RESP3 out-of-band push frames (type '>') that
// arrive outside of PUB/SUB's own dispatch path. Must not block and must
// not issue further I/O on the client it was called from.
type PushConsumer func(server *Server, push *RESP)

// PipelineConsumer receives every non-"+OK" reply read off a server's
// pipeline connection. See Component F: ordering is the consumer's
// responsibility, this layer does no request/reply correlation.
type PipelineConsumer func(server *Server, reply *RESP)

// TransmitErrorHandler is invoked when a send or receive fails on any of a
// server's clients. If it does not reconnect the client, the client is
// disabled and subsequent operations fail fast with ErrNoService.
type TransmitErrorHandler func(server *Server, role role, op string, err error)

// Config holds every per-server setting found in the original
// specification's Configuration block, plus the ambient logging/metrics
// wiring this module adds.
type Config struct {
	DB       int
	Username string
	Password string

	Protocol int  // 2 or 3; 3 implies a HELLO handshake
	Hello    bool // force a RESP3 HELLO handshake even when Protocol==2 is requested

	SocketTimeout  time.Duration
	ConnectTimeout time.Duration

	TCPBufSize int

	TLS *tls.Config // nil disables TLS

	SocketConfigurator SocketConfigurator
	PushConsumer       PushConsumer
	PipelineConsumer   PipelineConsumer
	TransmitError      TransmitErrorHandler

	HostnameOverride string

	Logger  logx.Logger
	Metrics *metrics.Hooks
}

// Option mutates a Config during construction.
type Option func(*Config)

// WithAuth sets the username/password used during the connection handshake.
func WithAuth(username, password string) Option {
	return func(c *Config) { c.Username, c.Password = username, password }
}

// WithDB selects the logical database index (standalone/Sentinel only;
// cluster deployments are restricted to DB 0).
func WithDB(db int) Option {
	return func(c *Config) { c.DB = db }
}

// WithProtocol selects RESP2 (2, the default) or RESP3 (3, sends HELLO 3).
func WithProtocol(version int) Option {
	return func(c *Config) { c.Protocol = version }
}

// WithHello forces a RESP3 HELLO handshake.
func WithHello() Option {
	return func(c *Config) { c.Hello = true }
}

// WithTimeouts sets the socket and connect deadlines.
func WithTimeouts(socket, connect time.Duration) Option {
	return func(c *Config) { c.SocketTimeout, c.ConnectTimeout = socket, connect }
}

// WithTLS enables TLS using cfg (may be nil-derived via tls.Config{}).
func WithTLS(cfg *tls.Config) Option {
	return func(c *Config) { c.TLS = cfg }
}

// WithSocketConfigurator installs a hook that tunes the raw fd after dial.
func WithSocketConfigurator(f SocketConfigurator) Option {
	return func(c *Config) { c.SocketConfigurator = f }
}

// WithPushConsumer installs the RESP3 push-frame consumer.
func WithPushConsumer(f PushConsumer) Option {
	return func(c *Config) { c.PushConsumer = f }
}

// WithPipelineConsumer installs the pipeline reply consumer.
func WithPipelineConsumer(f PipelineConsumer) Option {
	return func(c *Config) { c.PipelineConsumer = f }
}

// WithTransmitErrorHandler installs the send/receive error handler.
func WithTransmitErrorHandler(f TransmitErrorHandler) Option {
	return func(c *Config) { c.TransmitError = f }
}

// WithLogger attaches a logx.Logger; nil disables logging.
func WithLogger(l logx.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithMetrics attaches a metrics.Hooks; nil disables instrumentation.
func WithMetrics(h *metrics.Hooks) Option {
	return func(c *Config) { c.Metrics = h }
}

func defaultConfig() Config {
	return Config{
		Protocol:       2,
		SocketTimeout:  3 * time.Second,
		ConnectTimeout: 3 * time.Second,
		TCPBufSize:     0,
	}
}

func (c *Config) clone() Config {
	out := *c
	return out
}
