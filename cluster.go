package redisx

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"github.com/Smithsonian/redisx-sub000/logx"
	"github.com/Smithsonian/redisx-sub000/metrics"
)

// crcTable is the ZMODEM/XMODEM CRC-16 lookup table Redis Cluster uses for
// hash slot assignment.
var crcTable = [256]uint16{
	0x0000, 0x1021, 0x2042, 0x3063, 0x4084, 0x50a5, 0x60c6, 0x70e7,
	0x8108, 0x9129, 0xa14a, 0xb16b, 0xc18c, 0xd1ad, 0xe1ce, 0xf1ef,
	0x1231, 0x0210, 0x3273, 0x2252, 0x52b5, 0x4294, 0x72f7, 0x62d6,
	0x9339, 0x8318, 0xb37b, 0xa35a, 0xd3bd, 0xc39c, 0xf3ff, 0xe3de,
	0x2462, 0x3443, 0x0420, 0x1401, 0x64e6, 0x74c7, 0x44a4, 0x5485,
	0xa56a, 0xb54b, 0x8528, 0x9509, 0xe5ee, 0xf5cf, 0xc5ac, 0xd58d,
	0x3653, 0x2672, 0x1611, 0x0630, 0x76d7, 0x66f6, 0x5695, 0x46b4,
	0xb75b, 0xa77a, 0x9719, 0x8738, 0xf7df, 0xe7fe, 0xd79d, 0xc7bc,
	0x48c4, 0x58e5, 0x6886, 0x78a7, 0x0840, 0x1861, 0x2802, 0x3823,
	0xc9cc, 0xd9ed, 0xe98e, 0xf9af, 0x8948, 0x9969, 0xa90a, 0xb92b,
	0x5af5, 0x4ad4, 0x7ab7, 0x6a96, 0x1a71, 0x0a50, 0x3a33, 0x2a12,
	0xdbfd, 0xcbdc, 0xfbbf, 0xeb9e, 0x9b79, 0x8b58, 0xbb3b, 0xab1a,
	0x6ca6, 0x7c87, 0x4ce4, 0x5cc5, 0x2c22, 0x3c03, 0x0c60, 0x1c41,
	0xedae, 0xfd8f, 0xcdec, 0xddcd, 0xad2a, 0xbd0b, 0x8d68, 0x9d49,
	0x7e97, 0x6eb6, 0x5ed5, 0x4ef4, 0x3e13, 0x2e32, 0x1e51, 0x0e70,
	0xff9f, 0xefbe, 0xdfdd, 0xcffc, 0xbf1b, 0xaf3a, 0x9f59, 0x8f78,
	0x9188, 0x81a9, 0xb1ca, 0xa1eb, 0xd10c, 0xc12d, 0xf14e, 0xe16f,
	0x1080, 0x00a1, 0x30c2, 0x20e3, 0x5004, 0x4025, 0x7046, 0x6067,
	0x83b9, 0x9398, 0xa3fb, 0xb3da, 0xc33d, 0xd31c, 0xe37f, 0xf35e,
	0x02b1, 0x1290, 0x22f3, 0x32d2, 0x4235, 0x5214, 0x6277, 0x7256,
	0xb5ea, 0xa5cb, 0x95a8, 0x8589, 0xf56e, 0xe54f, 0xd52c, 0xc50d,
	0x34e2, 0x24c3, 0x14a0, 0x0481, 0x7466, 0x6447, 0x5424, 0x4405,
	0xa7db, 0xb7fa, 0x8799, 0x97b8, 0xe75f, 0xf77e, 0xc71d, 0xd73c,
	0x26d3, 0x36f2, 0x0691, 0x16b0, 0x6657, 0x7676, 0x4615, 0x5634,
	0xd94c, 0xc96d, 0xf90e, 0xe92f, 0x99c8, 0x89e9, 0xb98a, 0xa9ab,
	0x5844, 0x4865, 0x7806, 0x6827, 0x18c0, 0x08e1, 0x3882, 0x28a3,
	0xcb7d, 0xdb5c, 0xeb3f, 0xfb1e, 0x8bf9, 0x9bd8, 0xabbb, 0xbb9a,
	0x4a75, 0x5a54, 0x6a37, 0x7a16, 0x0af1, 0x1ad0, 0x2ab3, 0x3a92,
	0xfd2e, 0xed0f, 0xdd6c, 0xcd4d, 0xbdaa, 0xad8b, 0x9de8, 0x8dc9,
	0x7c26, 0x6c07, 0x5c64, 0x4c45, 0x3ca2, 0x2c83, 0x1ce0, 0x0cc1,
	0xef1f, 0xff3e, 0xcf5d, 0xdf7c, 0xaf9b, 0xbfba, 0x8fd9, 0x9ff8,
	0x6e17, 0x7e36, 0x4e55, 0x5e74, 0x2e93, 0x3eb2, 0x0ed1, 0x1ef0,
}

const hashMask = 16384 - 1

func crc16(buf []byte) uint16 {
	var crc uint16
	for _, b := range buf {
		crc = (crc << 8) ^ crcTable[((crc>>8)^uint16(b))&0xFF]
	}
	return crc
}

// HashSlot computes the Redis Cluster hash slot for key: the CRC16/XMODEM
// hash of the hashtag substring between the first '{' and the first '}'
// after it, or of the whole key if there is no such '}' or the substring
// is empty, masked to the 14-bit slot range [0, 16383].
func HashSlot(key []byte) uint16 {
	if open := indexByte(key, '{'); open >= 0 {
		if close := indexByte(key[open+1:], '}'); close > 0 {
			return crc16(key[open+1:open+1+close]) & hashMask
		}
	}
	return crc16(key) & hashMask
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

type shard struct {
	servers    []*Server // index 0 = master, rest = replicas
	start, end int
}

// Cluster routes requests across a Redis Cluster's shards by hash slot,
// following -MOVED/-ASK redirections and coalescing concurrent topology
// refreshes into a single background reconfiguration.
type Cluster struct {
	mu     sync.Mutex
	shards []*shard

	usePipeline bool

	reconfiguring   atomic.Bool
	reconfigureOnce sync.Mutex

	logger  logx.Logger
	metrics *metrics.Hooks
}

// InitCluster discovers the cluster topology from node (which need not be
// connected already) via CLUSTER SLOTS, and returns a Cluster routing
// requests across the discovered shards. Each discovered shard server
// inherits a copy of node's Config (auth, TLS, timeouts, consumers, logger,
// metrics) with DB forced to 0; node's connect/disconnect hooks are not
// copied.
func InitCluster(node *Server) (*Cluster, error) {
	const op = "InitCluster"

	wasConnected := node.IsConnected()
	if !wasConnected {
		if err := node.Connect(false); err != nil {
			return nil, newErr(ErrNoService, op, err)
		}
	}

	shards, err := discoverShards(node)
	if !wasConnected {
		node.Disconnect()
	}
	if err != nil {
		return nil, newErr(ErrNoService, op, err)
	}
	if len(shards) == 0 {
		return nil, newErr(ErrNoService, op, nil)
	}

	c := &Cluster{usePipeline: node.HasPipeline(), logger: node.logger(), metrics: node.metrics()}
	c.setShards(shards)
	return c, nil
}

// discoverShards issues CLUSTER SLOTS on node and builds the shard table.
// Unlike the C ancestor's discovery loop (which increments the wrong
// pointer when walking a shard's replica list, silently truncating every
// shard to just its master), this iterates the replica index itself so
// every replica is recorded.
func discoverShards(node *Server) ([]*shard, error) {
	const op = "discoverShards"

	reply, err := node.Request("CLUSTER", "SLOTS")
	if err != nil {
		return nil, err
	}
	if err := reply.Check(TypeArray, 0); err != nil {
		return nil, err
	}

	shards := make([]*shard, 0, len(reply.Elems))
	for _, desc := range reply.Elems {
		if len(desc.Elems) < 3 {
			return nil, newErr(ErrParse, op, nil)
		}
		sh := &shard{
			start: desc.Elems[0].N,
			end:   desc.Elems[1].N,
		}
		for _, nodeDesc := range desc.Elems[2:] {
			if len(nodeDesc.Elems) < 2 {
				continue
			}
			host := string(nodeDesc.Elems[0].Str)
			port := nodeDesc.Elems[1].N
			srv := New(host, port)
			copyServerConfig(node, srv)
			sh.servers = append(sh.servers, srv)
		}
		shards = append(shards, sh)
	}
	return shards, nil
}

func copyServerConfig(from, to *Server) {
	from.cfgMu.Lock()
	cfg := from.cfg.clone()
	from.cfgMu.Unlock()
	cfg.DB = 0 // only DB 0 is addressable in a cluster
	to.cfgMu.Lock()
	to.cfg = cfg
	to.cfgMu.Unlock()
}

func (c *Cluster) setShards(shards []*shard) {
	c.mu.Lock()
	old := c.shards
	for _, sh := range shards {
		for _, srv := range sh.servers {
			srv.cluster = c
		}
	}
	c.shards = shards
	c.mu.Unlock()

	for _, sh := range old {
		for _, srv := range sh.servers {
			srv.Disconnect()
		}
	}
}

// GetShard returns a connected server serving key's hash slot, trying the
// master first and then each replica in order.
func (c *Cluster) GetShard(key []byte) (*Server, error) {
	const op = "Cluster.GetShard"
	if len(key) == 0 {
		return nil, newErr(ErrNameInvalid, op, nil)
	}

	h := HashSlot(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sh := range c.shards {
		if int(h) < sh.start || int(h) > sh.end {
			continue
		}
		for _, srv := range sh.servers {
			if !srv.IsConnected() {
				if err := srv.Connect(c.usePipeline); err != nil {
					continue
				}
			}
			return srv, nil
		}
	}
	return nil, newErr(ErrNoService, op, nil)
}

func (c *Cluster) getShardByAddress(host string, port int, refresh bool) (*Server, error) {
	const op = "Cluster.getShardByAddress"

	c.mu.Lock()
	for _, sh := range c.shards {
		for _, srv := range sh.servers {
			if srv.Port == port && srv.Host == host {
				c.mu.Unlock()
				if !srv.IsConnected() {
					if err := srv.Connect(c.usePipeline); err != nil {
						return nil, newErr(ErrNoService, op, err)
					}
				}
				return srv, nil
			}
		}
	}
	c.mu.Unlock()

	if refresh {
		c.Refresh()
		return c.getShardByAddress(host, port, false)
	}
	return nil, newErr(ErrNoService, op, nil)
}

// Refresh triggers a background topology reload. Concurrent calls while a
// refresh is already underway are coalesced into a no-op (the in-flight
// refresh will pick up the latest topology anyway).
func (c *Cluster) Refresh() {
	c.reconfigureOnce.Lock()
	if c.reconfiguring.Load() {
		c.reconfigureOnce.Unlock()
		return
	}
	c.reconfiguring.Store(true)
	c.reconfigureOnce.Unlock()

	go c.refreshLoop()
}

func (c *Cluster) refreshLoop() {
	defer c.reconfiguring.Store(false)

	c.mu.Lock()
	shards := append([]*shard(nil), c.shards...)
	c.mu.Unlock()

	for _, sh := range shards {
		for _, srv := range sh.servers {
			newShards, err := discoverShards(srv)
			if err == nil && len(newShards) > 0 {
				c.setShards(newShards)
				c.metrics.ObserveClusterRefresh()
				return
			}
		}
	}
	logEntry(c.logger, logx.ERROR, "Cluster.refreshLoop", "cluster refresh failed on every shard", nil)
}

// ConnectAll connects every shard server, aggregating (not short-
// circuiting on) every failure encountered.
func (c *Cluster) ConnectAll() error {
	c.mu.Lock()
	shards := append([]*shard(nil), c.shards...)
	c.mu.Unlock()

	var result *multierror.Error
	for _, sh := range shards {
		for _, srv := range sh.servers {
			if err := srv.Connect(c.usePipeline); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

// DisconnectAll disconnects every shard server.
func (c *Cluster) DisconnectAll() {
	c.mu.Lock()
	shards := append([]*shard(nil), c.shards...)
	c.mu.Unlock()

	for _, sh := range shards {
		for _, srv := range sh.servers {
			srv.Disconnect()
		}
	}
}

// Destroy disconnects and drops every shard server.
func (c *Cluster) Destroy() {
	c.DisconnectAll()
	c.mu.Lock()
	c.shards = nil
	c.mu.Unlock()
}

func redisxClusterMoved(reply *RESP) bool {
	return reply != nil && reply.Type == TypeError && reply.N >= 5 && strings.HasPrefix(string(reply.Str), "MOVED")
}

func redisxClusterIsMigrating(reply *RESP) bool {
	return reply != nil && reply.Type == TypeError && reply.N >= 3 && strings.HasPrefix(string(reply.Str), "ASK")
}

func redisxClusterIsRedirected(reply *RESP) bool {
	return redisxClusterMoved(reply) || redisxClusterIsMigrating(reply)
}

// followRedirect resolves a MOVED/ASK error against the cluster's shard
// table (refreshing once if the target is unknown) and re-issues args on
// the target server, prefixing with ASKING for an ASK redirect.
func (c *Cluster) followRedirect(redirect *RESP, args [][]byte) (*RESP, error) {
	const op = "Cluster.followRedirect"

	isAsk := redisxClusterIsMigrating(redirect)
	if !isAsk && !redisxClusterMoved(redirect) {
		return nil, newErr(ErrUnexpectedResp, op, nil)
	}

	fields := strings.Fields(string(redirect.Str))
	if len(fields) < 3 {
		return nil, newErr(ErrParse, op, nil)
	}
	hostPort := fields[2]
	idx := strings.LastIndex(hostPort, ":")
	if idx < 0 {
		return nil, newErr(ErrParse, op, nil)
	}
	host := hostPort[:idx]
	port, err := strconv.Atoi(hostPort[idx+1:])
	if err != nil {
		return nil, newErr(ErrParse, op, err)
	}

	if isAsk {
		c.reconfigureOnce.Lock()
		c.reconfigureOnce.Unlock()
	} else {
		c.Refresh()
	}

	target, err := c.getShardByAddress(host, port, true)
	if err != nil {
		return nil, err
	}

	if isAsk {
		askArgs := append([][]byte{[]byte("ASKING")}, args...)
		return target.ArrayRequest(askArgs)
	}

	return target.ArrayRequest(args)
}
