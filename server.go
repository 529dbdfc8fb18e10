package redisx

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Smithsonian/redisx-sub000/logx"
	"github.com/Smithsonian/redisx-sub000/metrics"
)

// Server is one Redis/Valkey node, multiplexing up to three independent
// connections (interactive, pipeline, subscription) that share
// configuration but never share sockets or locks.
type Server struct {
	ID   string
	Host string
	Port int

	interactive  *ClientConn
	pipeline     *ClientConn
	subscription *ClientConn

	cfgMu sync.Mutex
	cfg   Config

	helloData *RESP

	connectHooks    hookList
	disconnectHooks hookList

	subMu       sync.Mutex
	subscribers []subscriberEntry

	pipelineListenerEnabled     atomic.Bool
	subscriptionListenerEnabled atomic.Bool
	pipelineListenerGen         atomic.Uint64
	subscriptionListenerGen     atomic.Uint64

	sentinel *sentinelConfig
	cluster  *Cluster // borrowed back-reference, set by Cluster; never dereferenced without going through Cluster's own locking

	scanCountMu sync.Mutex
	scanCount   int

	scripts map[string]string // source -> sha1, for LoadScript idempotency
}

// New creates a Server for host:port with the given options applied over
// sane defaults (RESP2, 3s socket/connect timeouts).
func New(host string, port int, opts ...Option) *Server {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	s := &Server{
		ID:      fmt.Sprintf("%s:%d", host, port),
		Host:    host,
		Port:    port,
		cfg:     cfg,
		scripts: make(map[string]string),
	}
	s.interactive = newClientConn(s, RoleInteractive)
	s.pipeline = newClientConn(s, RolePipeline)
	s.subscription = newClientConn(s, RoleSubscription)
	return s
}

func (s *Server) timeout() time.Duration {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.cfg.SocketTimeout
}

func (s *Server) logger() logx.Logger {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.cfg.Logger
}

func (s *Server) metrics() *metrics.Hooks {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.cfg.Metrics
}

// SetPassword sets the auth password used on the next connect.
func (s *Server) SetPassword(password string) {
	s.cfgMu.Lock()
	s.cfg.Password = password
	s.cfgMu.Unlock()
}

// SetUser sets the auth username used on the next connect (RESP3 ACL auth).
func (s *Server) SetUser(username string) {
	s.cfgMu.Lock()
	s.cfg.Username = username
	s.cfgMu.Unlock()
}

// SelectDB sets the logical database index used on the next connect.
func (s *Server) SelectDB(db int) {
	s.cfgMu.Lock()
	s.cfg.DB = db
	s.cfgMu.Unlock()
}

// SetScanCount sets the COUNT hint used by future SCAN-family helpers.
func (s *Server) SetScanCount(n int) {
	s.scanCountMu.Lock()
	s.scanCount = n
	s.scanCountMu.Unlock()
}

// GetScanCount returns the current SCAN COUNT hint (0 means "unset").
func (s *Server) GetScanCount() int {
	s.scanCountMu.Lock()
	defer s.scanCountMu.Unlock()
	return s.scanCount
}

// AddConnectHook registers f to run after every successful connect.
// Duplicate registrations (by function identity) are elided.
func (s *Server) AddConnectHook(f func(*Server)) {
	s.cfgMu.Lock()
	s.connectHooks.add(f)
	s.cfgMu.Unlock()
}

// RemoveConnectHook removes a previously registered connect hook.
func (s *Server) RemoveConnectHook(f func(*Server)) bool {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.connectHooks.remove(f)
}

// ClearConnectHooks removes every connect hook, returning how many were removed.
func (s *Server) ClearConnectHooks() int {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.connectHooks.clear()
}

// AddDisconnectHook registers f to run after every disconnect.
func (s *Server) AddDisconnectHook(f func(*Server)) {
	s.cfgMu.Lock()
	s.disconnectHooks.add(f)
	s.cfgMu.Unlock()
}

// RemoveDisconnectHook removes a previously registered disconnect hook.
func (s *Server) RemoveDisconnectHook(f func(*Server)) bool {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.disconnectHooks.remove(f)
}

// ClearDisconnectHooks removes every disconnect hook.
func (s *Server) ClearDisconnectHooks() int {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.disconnectHooks.clear()
}

func (s *Server) runConnectHooks() {
	s.cfgMu.Lock()
	hooks := s.connectHooks.snapshot()
	s.cfgMu.Unlock()
	for _, h := range hooks {
		h(s)
	}
}

func (s *Server) runDisconnectHooks() {
	s.cfgMu.Lock()
	hooks := s.disconnectHooks.snapshot()
	s.cfgMu.Unlock()
	for _, h := range hooks {
		h(s)
	}
}

// Connect establishes the interactive and subscription clients, and
// optionally the pipeline client, handshaking each one (AUTH/HELLO,
// SELECT, CLIENT SETNAME), then runs connect hooks and starts the
// background listeners.
func (s *Server) Connect(usePipeline bool) error {
	const op = "Server.Connect"

	if s.sentinel != nil {
		if err := s.discoverSentinelMaster(); err != nil {
			return newErr(errCodeOf(err, ErrNoService), op, err)
		}
	}

	s.cfgMu.Lock()
	cfg := s.cfg.clone()
	s.cfgMu.Unlock()

	clients := []*ClientConn{s.interactive, s.subscription}
	if usePipeline {
		clients = append(clients, s.pipeline)
	}

	for _, c := range clients {
		c.Lock()
		err := s.connectOne(c, &cfg)
		c.Unlock()
		if err != nil {
			s.Disconnect()
			return newErr(errCodeOf(err, ErrNoService), op, err)
		}
	}

	logEntry(cfg.Logger, logx.INFO, op, "connected", map[string]interface{}{"server": s.ID, "pipeline": usePipeline})
	s.metrics().ObserveReconnect()

	if s.sentinel != nil {
		if err := s.ConfirmMasterRole(); err != nil {
			logEntry(cfg.Logger, logx.ERROR, op, "elected sentinel target is not master", map[string]interface{}{"server": s.ID})
		}
	}

	s.runConnectHooks()
	s.startPipelineListener()
	s.startSubscriptionListener()

	return nil
}

func (s *Server) connectOne(c *ClientConn, cfg *Config) error {
	if err := c.dial(s.Host, s.Port, cfg); err != nil {
		return err
	}
	return s.handshake(c, cfg)
}

func (s *Server) handshake(c *ClientConn, cfg *Config) error {
	const op = "Server.handshake"

	if cfg.Protocol == 3 || cfg.Hello {
		args := [][]byte{[]byte("HELLO"), []byte("3")}
		if cfg.Username != "" || cfg.Password != "" {
			args = append(args, []byte("AUTH"), []byte(cfg.Username), []byte(cfg.Password))
		}
		if err := c.sendAsync(args); err != nil {
			return err
		}
		reply, err := c.readReplyAsync()
		if err != nil {
			return err
		}
		if reply.Type == TypeError {
			return newErr(ErrRedisError, op, fmt.Errorf("%s", reply.Str))
		}
		s.helloData = reply
	} else if cfg.Password != "" {
		args := [][]byte{[]byte("AUTH")}
		if cfg.Username != "" {
			args = append(args, []byte(cfg.Username))
		}
		args = append(args, []byte(cfg.Password))
		if err := s.simpleCommand(c, args); err != nil {
			return err
		}
	}

	if cfg.DB != 0 {
		if err := s.simpleCommand(c, [][]byte{[]byte("SELECT"), []byte(itoa(cfg.DB))}); err != nil {
			return err
		}
	}

	name := fmt.Sprintf("%s:pid-%d:%s", hostnameOr(cfg.HostnameOverride), processID(), c.role)
	return s.simpleCommand(c, [][]byte{[]byte("CLIENT"), []byte("SETNAME"), []byte(name)})
}

func (s *Server) simpleCommand(c *ClientConn, args [][]byte) error {
	const op = "Server.simpleCommand"
	if err := c.sendAsync(args); err != nil {
		return err
	}
	reply, err := c.readReplyAsync()
	if err != nil {
		return err
	}
	if reply.Type == TypeError {
		return newErr(ErrRedisError, op, fmt.Errorf("%s", reply.Str))
	}
	return nil
}

// Disconnect closes every connected client and runs disconnect hooks.
func (s *Server) Disconnect() {
	s.stopPipelineListener()
	s.stopSubscriptionListener()

	for _, c := range []*ClientConn{s.interactive, s.pipeline, s.subscription} {
		c.Lock()
		c.close()
		c.Unlock()
	}

	s.runDisconnectHooks()
}

// Reconnect disconnects (if connected) and connects again.
func (s *Server) Reconnect(usePipeline bool) error {
	s.Disconnect()
	return s.Connect(usePipeline)
}

// IsConnected reports whether the interactive client is enabled.
func (s *Server) IsConnected() bool { return s.interactive.IsEnabled() }

// HasPipeline reports whether the pipeline client is enabled.
func (s *Server) HasPipeline() bool { return s.pipeline.IsEnabled() }

// GetClient returns the ClientConn backing the given role.
func (s *Server) GetClient(r role) *ClientConn {
	switch r {
	case RoleInteractive:
		return s.interactive
	case RolePipeline:
		return s.pipeline
	case RoleSubscription:
		return s.subscription
	default:
		return nil
	}
}

// Request issues cmd with args synchronously on the interactive client and
// returns its reply.
func (s *Server) Request(cmd string, args ...string) (*RESP, error) {
	all := append([]string{cmd}, args...)
	bs := make([][]byte, len(all))
	for i, a := range all {
		bs[i] = []byte(a)
	}
	return s.ArrayRequest(bs)
}

// ArrayRequest issues args synchronously on the interactive client,
// transparently following cluster MOVED/ASK redirections when this server
// belongs to a Cluster (the redirected request is itself an ArrayRequest on
// the target, so a further redirection from the target is followed too).
func (s *Server) ArrayRequest(args [][]byte) (*RESP, error) {
	const op = "Server.ArrayRequest"

	if err := s.interactive.LockConnected(); err != nil {
		return nil, newErr(ErrNoService, op, err)
	}
	defer s.interactive.Unlock()

	s.metrics().ObserveRequest(cmdName(args))

	if err := s.interactive.sendAsync(args); err != nil {
		s.metrics().ObserveError(errCodeOf(err, ErrNoService).String())
		return nil, err
	}
	reply, err := s.interactive.readReplyAsync()
	if err != nil {
		s.metrics().ObserveError(errCodeOf(err, ErrNoService).String())
		return nil, err
	}

	if s.cluster != nil && redisxClusterIsRedirected(reply) {
		return s.cluster.followRedirect(reply, args)
	}

	return reply, nil
}

// SendAsync writes a command on c. c must already be locked by the caller.
func (s *Server) SendAsync(c *ClientConn, args [][]byte) error { return c.sendAsync(args) }

// ReadReplyAsync reads one reply from c. c must already be locked by the caller.
func (s *Server) ReadReplyAsync(c *ClientConn) (*RESP, error) { return c.readReplyAsync() }

// IgnoreReplyAsync reads and discards one reply from c.
func (s *Server) IgnoreReplyAsync(c *ClientConn) error { return c.ignoreReplyAsync() }

// SkipReplyAsync tells the server to skip acknowledging the next command
// (CLIENT REPLY SKIP) and drains that acknowledgement-suppression command's
// own (suppressed) reply bookkeeping.
func (s *Server) SkipReplyAsync(c *ClientConn) error {
	if err := c.sendAsync([][]byte{[]byte("CLIENT"), []byte("REPLY"), []byte("SKIP")}); err != nil {
		return err
	}
	c.decPending()
	return nil
}

// GetAttributesAsync returns the most recent attribute frame cached for c.
func (s *Server) GetAttributesAsync(c *ClientConn) *RESP { return c.lastAttributes() }

// ClearAttributesAsync clears c's cached attribute frame.
func (s *Server) ClearAttributesAsync(c *ClientConn) { c.clearAttributes() }

// StartBlockAsync begins a MULTI/EXEC transaction block on c.
func (s *Server) StartBlockAsync(c *ClientConn) error {
	return s.queuedCommand(c, "MULTI")
}

// AbortBlockAsync discards a MULTI/EXEC transaction block on c.
func (s *Server) AbortBlockAsync(c *ClientConn) error {
	return s.queuedCommand(c, "DISCARD")
}

// ExecBlockAsync executes a MULTI/EXEC transaction block on c, skipping the
// QUEUED acknowledgements of the block's commands and returning the EXEC
// reply array.
func (s *Server) ExecBlockAsync(c *ClientConn) (*RESP, error) {
	if err := c.sendAsync([][]byte{[]byte("EXEC")}); err != nil {
		return nil, err
	}
	for {
		reply, err := c.readReplyAsync()
		if err != nil {
			return nil, err
		}
		if !isQueuedAck(reply) {
			return reply, nil
		}
	}
}

func isQueuedAck(r *RESP) bool {
	return r.Type == TypeSimpleString && string(r.Str) == "QUEUED"
}

func (s *Server) queuedCommand(c *ClientConn, cmd string) error {
	if err := c.sendAsync([][]byte{[]byte(cmd)}); err != nil {
		return err
	}
	reply, err := c.readReplyAsync()
	for err == nil && isQueuedAck(reply) {
		reply, err = c.readReplyAsync()
	}
	if err != nil {
		return err
	}
	if reply.Type == TypeError {
		return newErr(ErrRedisError, "Server.queuedCommand", fmt.Errorf("%s", reply.Str))
	}
	return nil
}

// GetTime returns the server's current time via the TIME command.
func (s *Server) GetTime() (sec int64, nsec int64, err error) {
	reply, err := s.Request("TIME")
	if err != nil {
		return 0, 0, err
	}
	if err := reply.Check(TypeArray, 2); err != nil {
		return 0, 0, err
	}
	sec = parseInt64(reply.Elems[0].Str)
	micros := parseInt64(reply.Elems[1].Str)
	return sec, micros * 1000, nil
}

// Available reports how many bytes are queued to read on c without blocking.
func (s *Server) Available(c *ClientConn) (int, error) {
	if c.conn == nil {
		return 0, newErr(ErrNoService, "Server.Available", nil)
	}
	return availableBytes(c.conn)
}

func (s *Server) reportTransmitError(r role, op string, err error) {
	logEntry(s.logger(), logx.ERROR, op, "transmit error", map[string]interface{}{"role": r.String(), "err": err})

	s.cfgMu.Lock()
	handler := s.cfg.TransmitError
	s.cfgMu.Unlock()
	if handler != nil {
		handler(s, r, op, err)
	}
}

func errCodeOf(err error, fallback Code) Code {
	var e *Error
	if asError(err, &e) {
		return e.Code
	}
	return fallback
}

func cmdName(args [][]byte) string {
	if len(args) == 0 {
		return ""
	}
	return string(args[0])
}
