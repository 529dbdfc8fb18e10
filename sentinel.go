package redisx

import (
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
)

// defaultSentinelTimeout is used for the discovery phase when no explicit
// timeout has been configured; the timeout used once the master is found
// and connected is the server's ordinary SocketTimeout.
const defaultSentinelTimeout = 500 * time.Millisecond

// HostPort is a bare host/port pair, used for Sentinel peer lists.
type HostPort struct {
	Host string
	Port int
}

type sentinelConfig struct {
	serviceName string
	servers     []HostPort
	timeout     time.Duration
}

// ValidateSentinelConfig checks a Sentinel configuration for the error
// conditions the discovery path cannot recover from: an empty service
// name, an empty server list, or a first server with no usable host.
func ValidateSentinelConfig(serviceName string, servers []HostPort) error {
	const op = "ValidateSentinelConfig"
	if serviceName == "" {
		return newErr(ErrNameInvalid, op, nil)
	}
	if len(servers) == 0 {
		return newErr(ErrSizeInvalid, op, nil)
	}
	if servers[0].Host == "" {
		return newErr(ErrGroupInvalid, op, nil)
	}
	return nil
}

// NewSentinel builds a Server whose Connect dials through Sentinel
// discovery rather than directly: it tries each peer in servers in order,
// asks SENTINEL get-master-addr-by-name, and adopts the reported master
// address. A peer that answers successfully is promoted to the front of
// the peer list, so later discoveries try it first.
func NewSentinel(serviceName string, servers []HostPort, opts ...Option) (*Server, error) {
	const op = "NewSentinel"
	if err := ValidateSentinelConfig(serviceName, servers); err != nil {
		return nil, newErr(errCodeOf(err, ErrGroupInvalid), op, err)
	}

	peers := append([]HostPort(nil), servers...)
	s := New(peers[0].Host, peers[0].Port, opts...)
	s.sentinel = &sentinelConfig{serviceName: serviceName, servers: peers, timeout: defaultSentinelTimeout}
	return s, nil
}

// SetSentinelTimeout overrides the per-peer discovery timeout; <= 0 resets
// it to the default.
func (s *Server) SetSentinelTimeout(d time.Duration) error {
	const op = "Server.SetSentinelTimeout"
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	if s.sentinel == nil {
		return newErr(ErrNoInit, op, nil)
	}
	if d <= 0 {
		d = defaultSentinelTimeout
	}
	s.sentinel.timeout = d
	return nil
}

// discoverSentinelMaster tries every Sentinel peer in order until one
// answers SENTINEL get-master-addr-by-name, adopts the reported host/port
// onto s, and promotes the responding peer to the front of the peer list.
// Every peer's failure is retained (via go-multierror) rather than
// discarded, so a caller debugging a total outage can see every dial error,
// not just the last one.
func (s *Server) discoverSentinelMaster() error {
	const op = "Server.discoverSentinelMaster"

	sc := s.sentinel
	if sc == nil {
		return newErr(ErrNoInit, op, nil)
	}

	var errs *multierror.Error

	s.cfgMu.Lock()
	baseCfg := s.cfg.clone()
	s.cfgMu.Unlock()
	baseCfg.ConnectTimeout = sc.timeout
	baseCfg.SocketTimeout = sc.timeout

	for i, peer := range sc.servers {
		probe := New(peer.Host, peer.Port)
		probe.cfgMu.Lock()
		probe.cfg = baseCfg.clone()
		probe.cfgMu.Unlock()

		probe.interactive.Lock()
		dialErr := probe.interactive.dial(probe.Host, probe.Port, &probe.cfg)
		probe.interactive.Unlock()
		if dialErr != nil {
			errs = multierror.Append(errs, dialErr)
			continue
		}

		reply, err := probe.Request("SENTINEL", "get-master-addr-by-name", sc.serviceName)
		probe.Disconnect()
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if err := reply.Check(TypeArray, 2); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}

		host := string(reply.Elems[0].Str)
		port, convErr := strconv.Atoi(string(reply.Elems[1].Str))
		if convErr != nil {
			errs = multierror.Append(errs, newErr(ErrParse, op, convErr))
			continue
		}

		rest := make([]HostPort, 0, len(sc.servers)-1)
		rest = append(rest, sc.servers[:i]...)
		rest = append(rest, sc.servers[i+1:]...)
		sc.servers = append([]HostPort{peer}, rest...)

		s.Host, s.Port = host, port
		s.ID = host + ":" + strconv.Itoa(port)
		return nil
	}

	return newErr(ErrNoService, op, errs.ErrorOrNil())
}

// ConfirmMasterRole verifies s is currently a master: it tries ROLE first
// (Redis >= 4), falling back to parsing INFO replication's "role" field.
func (s *Server) ConfirmMasterRole() error {
	const op = "Server.ConfirmMasterRole"

	reply, err := s.Request("ROLE")
	if err == nil && reply.Check(TypeArray, 0) == nil && len(reply.Elems) > 0 {
		if string(reply.Elems[0].Str) == "master" {
			return nil
		}
		return newErr(ErrRedisError, op, nil)
	}

	info, err := s.Request("INFO", "replication")
	if err != nil {
		return err
	}
	role := parseInfoField(info.Str, "role")
	if role == "master" {
		return nil
	}
	return newErr(ErrRedisError, op, nil)
}

func parseInfoField(info []byte, field string) string {
	lines := splitLines(info)
	prefix := field + ":"
	for _, line := range lines {
		if len(line) > len(prefix) && string(line[:len(prefix)]) == prefix {
			return string(line[len(prefix):])
		}
	}
	return ""
}

func splitLines(b []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, c := range b {
		if c == '\n' {
			line := b[start:i]
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			out = append(out, line)
			start = i + 1
		}
	}
	if start < len(b) {
		out = append(out, b[start:])
	}
	return out
}
