package redisx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConnectAndPing(t *testing.T) {
	f := startFakeRedis(t, func(cmd []string) *RESP {
		switch joinCmd(cmd) {
		case "PING":
			return &RESP{Type: TypeSimpleString, N: 4, Str: []byte("PONG")}
		default:
			return &RESP{Type: TypeSimpleString, N: 2, Str: []byte("OK")}
		}
	})

	s := New(f.host, f.port, func(c *Config) { c.ConnectTimeout = time.Second; c.SocketTimeout = time.Second })
	require.NoError(t, s.Connect(false))
	defer s.Disconnect()

	require.True(t, s.IsConnected())

	reply, err := s.Request("PING")
	require.NoError(t, err)
	assert.Equal(t, "PONG", string(reply.Str))
}

func TestServerRequestSetGet(t *testing.T) {
	store := map[string]string{}
	f := startFakeRedis(t, func(cmd []string) *RESP {
		switch cmd[0] {
		case "SET":
			store[cmd[1]] = cmd[2]
			return &RESP{Type: TypeSimpleString, N: 2, Str: []byte("OK")}
		case "GET":
			v, ok := store[cmd[1]]
			if !ok {
				return &RESP{Type: TypeNull}
			}
			return bulkReply(v)
		}
		return &RESP{Type: TypeSimpleString, N: 2, Str: []byte("OK")}
	})

	s := New(f.host, f.port)
	require.NoError(t, s.Connect(false))
	defer s.Disconnect()

	_, err := s.Request("SET", "foo", "bar")
	require.NoError(t, err)

	reply, err := s.Request("GET", "foo")
	require.NoError(t, err)
	assert.Equal(t, "bar", string(reply.Str))
}

func TestServerGetTime(t *testing.T) {
	f := startFakeRedis(t, func(cmd []string) *RESP {
		if cmd[0] == "TIME" {
			return arrayReply(bulkReply("1700000000"), bulkReply("500000"))
		}
		return &RESP{Type: TypeSimpleString, N: 2, Str: []byte("OK")}
	})

	s := New(f.host, f.port)
	require.NoError(t, s.Connect(false))
	defer s.Disconnect()

	sec, nsec, err := s.GetTime()
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), sec)
	assert.Equal(t, int64(500000000), nsec)
}

func TestServerRequestNotConnected(t *testing.T) {
	s := New("127.0.0.1", 1)
	_, err := s.Request("PING")
	require.Error(t, err)
	assert.True(t, Is(err, ErrNoService))
}

func TestConnectHooksDeduped(t *testing.T) {
	f := startFakeRedis(t, nil)
	s := New(f.host, f.port)

	calls := 0
	hook := func(*Server) { calls++ }

	s.AddConnectHook(hook)
	s.AddConnectHook(hook) // duplicate, must be elided

	require.NoError(t, s.Connect(false))
	defer s.Disconnect()

	assert.Equal(t, 1, calls)
}
