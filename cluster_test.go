package redisx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashSlotKnownFixedPoint(t *testing.T) {
	// crccalc.com CRC-16/XMODEM of "123456789" is 0x31C3, the standard
	// check value for this polynomial.
	assert.Equal(t, uint16(0x31C3), crc16([]byte("123456789")))
}

func TestHashSlotHashtag(t *testing.T) {
	a := HashSlot([]byte("{user:1000}.name"))
	b := HashSlot([]byte("{user:1000}.address"))
	assert.Equal(t, a, b, "keys sharing a hashtag must hash to the same slot")

	c := HashSlot([]byte("user:1000"))
	assert.Equal(t, a, c, "hashtag contents must hash identically to the bare key")
}

func TestHashSlotEmptyHashtagFallsBackToWholeKey(t *testing.T) {
	// "{}" is an empty hashtag (no content between the braces), so it must
	// not be treated as a hashtag at all: the whole literal "{}bare" hashes,
	// not "bare" alone.
	withEmptyBraces := HashSlot([]byte("{}bare"))
	bareKey := HashSlot([]byte("bare"))
	assert.NotEqual(t, bareKey, withEmptyBraces)
	assert.Equal(t, crc16([]byte("{}bare"))&hashMask, withEmptyBraces)
}

func TestHashSlotRange(t *testing.T) {
	for _, k := range []string{"a", "foo", "{tag}rest", "another-key-12345"} {
		h := HashSlot([]byte(k))
		assert.LessOrEqual(t, int(h), 16383)
		assert.GreaterOrEqual(t, int(h), 0)
	}
}

func TestRedisxClusterMoved(t *testing.T) {
	moved := &RESP{Type: TypeError, N: len("MOVED 1234 127.0.0.1:7001"), Str: []byte("MOVED 1234 127.0.0.1:7001")}
	assert.True(t, redisxClusterMoved(moved))
	assert.False(t, redisxClusterIsMigrating(moved))
	assert.True(t, redisxClusterIsRedirected(moved))

	ask := &RESP{Type: TypeError, N: len("ASK 1234 127.0.0.1:7002"), Str: []byte("ASK 1234 127.0.0.1:7002")}
	assert.True(t, redisxClusterIsMigrating(ask))
	assert.False(t, redisxClusterMoved(ask))

	other := &RESP{Type: TypeError, N: 3, Str: []byte("ERR")}
	assert.False(t, redisxClusterIsRedirected(other))
}

// TestClusterFollowsMovedRedirect exercises the full redirect path: the
// first shard replies MOVED to a second fake node, and the Cluster
// re-issues the command there.
func TestClusterFollowsMovedRedirect(t *testing.T) {
	target := startFakeRedis(t, func(cmd []string) *RESP {
		if cmd[0] == "GET" {
			return bulkReply("found-on-target")
		}
		return &RESP{Type: TypeSimpleString, N: 2, Str: []byte("OK")}
	})

	origin := startFakeRedis(t, func(cmd []string) *RESP {
		if cmd[0] == "GET" {
			return errReply("MOVED 1234 " + target.host + ":" + itoa(target.port))
		}
		return &RESP{Type: TypeSimpleString, N: 2, Str: []byte("OK")}
	})

	node := New(origin.host, origin.port)
	c := &Cluster{usePipeline: false}
	c.setShards([]*shard{{servers: []*Server{node}, start: 0, end: 16383}})

	reply, err := node.ArrayRequest([][]byte{[]byte("GET"), []byte("somekey")})
	require.Error(t, err) // setShards wired node.cluster, but node was never connected

	// With a connected origin node and the target node present in the shard
	// table, ArrayRequest follows the MOVED reply to the target.
	node2 := New(origin.host, origin.port)
	targetNode := New(target.host, target.port)
	c.setShards([]*shard{
		{servers: []*Server{node2}, start: 0, end: 8191},
		{servers: []*Server{targetNode}, start: 8192, end: 16383},
	})
	require.NoError(t, node2.Connect(false))
	defer node2.Disconnect()
	defer targetNode.Disconnect()

	reply, err = node2.ArrayRequest([][]byte{[]byte("GET"), []byte("somekey")})
	require.NoError(t, err)
	assert.Equal(t, "found-on-target", string(reply.Str))
}
