package redisx

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleString(t *testing.T) {
	assert.Equal(t, "interactive", RoleInteractive.String())
	assert.Equal(t, "pipeline", RolePipeline.String())
	assert.Equal(t, "subscription", RoleSubscription.String())
}

func TestClientConnLockConnectedBeforeDial(t *testing.T) {
	s := New("127.0.0.1", 1)
	err := s.interactive.LockConnected()
	require.Error(t, err)
	assert.True(t, Is(err, ErrNoService))
}

func TestClientConnDialAndClose(t *testing.T) {
	f := startFakeRedis(t, nil)
	s := New(f.host, f.port)

	c := newClientConn(s, RoleInteractive)
	c.Lock()
	cfg := s.cfg.clone()
	err := c.dial(f.host, f.port, &cfg)
	c.Unlock()
	require.NoError(t, err)
	assert.True(t, c.IsEnabled())

	require.NoError(t, c.LockConnected())
	c.Unlock()

	c.Lock()
	c.close()
	c.Unlock()
	assert.False(t, c.IsEnabled())
}

func TestClientConnPendingCounter(t *testing.T) {
	f := startFakeRedis(t, func(cmd []string) *RESP {
		return &RESP{Type: TypeSimpleString, N: 2, Str: []byte("OK")}
	})
	s := New(f.host, f.port)
	require.NoError(t, s.Connect(false))
	defer s.Disconnect()

	c := s.interactive
	c.Lock()
	defer c.Unlock()

	assert.Equal(t, 0, c.Pending())
	require.NoError(t, c.sendAsync([][]byte{[]byte("PING")}))
	assert.Equal(t, 1, c.Pending())

	_, err := c.readReplyAsync()
	require.NoError(t, err)
	assert.Equal(t, 0, c.Pending())
}

func TestClientConnAbsorbsAttributeFrame(t *testing.T) {
	f := startFakeRedis(t, nil)
	s := New(f.host, f.port)

	c := newClientConn(s, RoleInteractive)
	c.Lock()
	cfg := s.cfg.clone()
	require.NoError(t, c.dial(f.host, f.port, &cfg))
	c.Unlock()
	defer func() {
		c.Lock()
		c.close()
		c.Unlock()
	}()

	// Feed readReplyAsync a RESP3 attribute frame followed by the actual
	// reply: the attribute must be absorbed into the cache and only the
	// reply returned.
	c.br = bufio.NewReader(strings.NewReader("|1\r\n$3\r\nttl\r\n:10\r\n+OK\r\n"))
	reply, err := c.readReplyAsync()
	require.NoError(t, err)
	assert.Equal(t, "OK", string(reply.Str))

	got := c.lastAttributes()
	require.NotNil(t, got)
	assert.Equal(t, "ttl", string(got.Pairs[0].Key.Str))
	assert.Equal(t, 10, got.Pairs[0].Value.N)

	c.clearAttributes()
	assert.Nil(t, c.lastAttributes())
}
