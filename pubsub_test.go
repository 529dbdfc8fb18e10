package redisx

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddSubscriberDedup(t *testing.T) {
	s := New("127.0.0.1", 1)

	var mu sync.Mutex
	calls := 0
	fn := func(*Server, string, string, []byte) {
		mu.Lock()
		calls++
		mu.Unlock()
	}

	s.AddSubscriber("news.", fn)
	s.AddSubscriber("news.", fn)
	require.Len(t, s.snapshotSubscribers(), 1)

	s.notifySubscribers("", "news.sports", []byte("goal"))
	assert.Equal(t, 1, calls)
}

func TestNotifySubscribersPrefixFilter(t *testing.T) {
	s := New("127.0.0.1", 1)

	var newsPayload, otherPayload []byte
	s.AddSubscriber("news.", func(_ *Server, _, channel string, payload []byte) {
		newsPayload = append([]byte(nil), payload...)
		_ = channel
	})
	s.AddSubscriber("sports.", func(_ *Server, _, _ string, payload []byte) {
		otherPayload = append([]byte(nil), payload...)
	})

	s.notifySubscribers("", "news.weather", []byte("sunny"))
	assert.Equal(t, "sunny", string(newsPayload))
	assert.Nil(t, otherPayload)
}

func TestRemoveSubscribers(t *testing.T) {
	s := New("127.0.0.1", 1)
	fn := func(*Server, string, string, []byte) {}
	other := func(*Server, string, string, []byte) {}

	s.AddSubscriber("a.", fn)
	s.AddSubscriber("b.", other)

	removed := s.RemoveSubscribers(fn)
	assert.Equal(t, 1, removed)
	require.Len(t, s.snapshotSubscribers(), 1)
	assert.Equal(t, "b.", s.snapshotSubscribers()[0].prefix)
}

func TestDispatchPushMessageShape(t *testing.T) {
	s := New("127.0.0.1", 1)

	var gotChannel, gotPattern string
	var gotPayload []byte
	s.AddSubscriber("chan:", func(_ *Server, pattern, channel string, payload []byte) {
		gotPattern, gotChannel, gotPayload = pattern, channel, payload
	})

	msg := arrayReply(bulkReply("message"), bulkReply("chan:1"), bulkReply("hello"))
	s.dispatchPush(msg)

	assert.Equal(t, "", gotPattern)
	assert.Equal(t, "chan:1", gotChannel)
	assert.Equal(t, "hello", string(gotPayload))
}

func TestDispatchPushPmessageShape(t *testing.T) {
	s := New("127.0.0.1", 1)

	var gotChannel, gotPattern string
	s.AddSubscriber("chan:", func(_ *Server, pattern, channel string, _ []byte) {
		gotPattern, gotChannel = pattern, channel
	})

	pmsg := arrayReply(bulkReply("pmessage"), bulkReply("chan:*"), bulkReply("chan:2"), bulkReply("hi"))
	s.dispatchPush(pmsg)

	assert.Equal(t, "chan:*", gotPattern)
	assert.Equal(t, "chan:2", gotChannel)
}

func TestIsGlobPattern(t *testing.T) {
	assert.True(t, isGlobPattern("chan:*"))
	assert.True(t, isGlobPattern("chan:?"))
	assert.True(t, isGlobPattern("chan:[ab]"))
	assert.False(t, isGlobPattern("chan:1"))
}
