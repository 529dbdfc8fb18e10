package redisx

import (
	"strings"

	"github.com/Smithsonian/redisx-sub000/logx"
)

// SubscriberFunc receives PUB/SUB messages for channels matching the prefix
// it was registered under. pattern is non-empty only for pattern
// subscriptions (PSUBSCRIBE). Must not block, must not mutate or retain
// payload past return (copy it if you need to keep it).
type SubscriberFunc func(server *Server, pattern, channel string, payload []byte)

type subscriberEntry struct {
	prefix string
	fn     SubscriberFunc
}

// AddSubscriber registers fn to receive messages on any channel whose name
// starts with prefix. Registering the same (prefix, fn) pair twice is a
// no-op (deduped by prefix + function identity, mirroring the connect/
// disconnect hook lists).
func (s *Server) AddSubscriber(prefix string, fn SubscriberFunc) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, e := range s.subscribers {
		if e.prefix == prefix && sameFunc(e.fn, fn) {
			return
		}
	}
	s.subscribers = append(s.subscribers, subscriberEntry{prefix: prefix, fn: fn})
}

// RemoveSubscribers removes every subscriber entry registered with fn,
// returning how many were removed.
func (s *Server) RemoveSubscribers(fn SubscriberFunc) int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	out := s.subscribers[:0]
	removed := 0
	for _, e := range s.subscribers {
		if sameFunc(e.fn, fn) {
			removed++
			continue
		}
		out = append(out, e)
	}
	s.subscribers = out
	return removed
}

// ClearSubscribers removes every subscriber, returning how many were removed.
func (s *Server) ClearSubscribers() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	n := len(s.subscribers)
	s.subscribers = nil
	return n
}

func (s *Server) snapshotSubscribers() []subscriberEntry {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	out := make([]subscriberEntry, len(s.subscribers))
	copy(out, s.subscribers)
	return out
}

// Subscribe issues SUBSCRIBE or PSUBSCRIBE (chosen by whether pattern
// contains a glob metacharacter) on the subscription client.
func (s *Server) Subscribe(pattern string) error {
	cmd := "SUBSCRIBE"
	if isGlobPattern(pattern) {
		cmd = "PSUBSCRIBE"
	}
	return s.subControlCommand(cmd, pattern)
}

// Unsubscribe issues UNSUBSCRIBE or PUNSUBSCRIBE for pattern.
func (s *Server) Unsubscribe(pattern string) error {
	cmd := "UNSUBSCRIBE"
	if isGlobPattern(pattern) {
		cmd = "PUNSUBSCRIBE"
	}
	return s.subControlCommand(cmd, pattern)
}

func (s *Server) subControlCommand(cmd, pattern string) error {
	const op = "Server.subControlCommand"
	c := s.subscription
	c.Lock()
	defer c.Unlock()
	if !c.IsEnabled() {
		return newErr(ErrNoService, op, nil)
	}
	return c.sendAsync([][]byte{[]byte(cmd), []byte(pattern)})
}

// EndSubscription unsubscribes from everything and disconnects the
// subscription client, unblocking its listener goroutine.
func (s *Server) EndSubscription() error {
	c := s.subscription
	c.Lock()
	if c.IsEnabled() {
		_ = c.sendAsync([][]byte{[]byte("UNSUBSCRIBE")})
		_ = c.sendAsync([][]byte{[]byte("PUNSUBSCRIBE")})
	}
	s.stopSubscriptionListener()
	c.close()
	c.Unlock()
	return nil
}

func isGlobPattern(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

func sameFunc(a, b SubscriberFunc) bool {
	return funcPointer(a) == funcPointer(b)
}

func (s *Server) startSubscriptionListener() {
	if !s.subscription.IsEnabled() {
		return
	}
	gen := s.subscriptionListenerGen.Add(1)
	s.subscriptionListenerEnabled.Store(true)
	go s.subscriptionListenerLoop(gen)
}

func (s *Server) stopSubscriptionListener() {
	s.subscriptionListenerEnabled.Store(false)
}

// subscriptionListenerLoop drains the subscription client, dispatching
// message/pmessage frames to matching subscribers and everything else
// (push frames, subscribe/unsubscribe acks) to the push consumer, if any.
// It exits as soon as it is superseded by a newer generation (a fresh
// EndSubscription+reconnect cycle) rather than relying on comparing thread
// identities.
func (s *Server) subscriptionListenerLoop(gen uint64) {
	const op = "Server.subscriptionListener"
	c := s.subscription

	for s.subscriptionListenerEnabled.Load() && s.subscriptionListenerGen.Load() == gen && c.IsEnabled() {
		c.readMu.Lock()
		reply, err := c.readReplyAsync()
		c.readMu.Unlock()

		if err != nil {
			if Is(err, ErrTimedOut) {
				continue
			}
			logEntry(s.logger(), logx.DEBUG, op, "listener exiting", map[string]interface{}{"err": err})
			return
		}

		s.dispatchPush(reply)
	}
}

func (s *Server) dispatchPush(reply *RESP) {
	const op = "Server.dispatchPush"

	if !reply.IsArrayLike() {
		if cb := s.pushConsumer(); cb != nil {
			cb(s, reply)
		}
		return
	}

	switch len(reply.Elems) {
	case 3:
		kind := string(reply.Elems[0].Str)
		if kind != "message" {
			break
		}
		channel := string(reply.Elems[1].Str)
		payload := reply.Elems[2].Str
		s.notifySubscribers("", channel, payload)
		s.metrics().ObservePubSubDispatch()
		return
	case 4:
		kind := string(reply.Elems[0].Str)
		if kind != "pmessage" {
			break
		}
		pattern := string(reply.Elems[1].Str)
		channel := string(reply.Elems[2].Str)
		payload := reply.Elems[3].Str
		s.notifySubscribers(pattern, channel, payload)
		s.metrics().ObservePubSubDispatch()
		return
	}

	logEntry(s.logger(), logx.DEBUG, op, "unrecognized push shape", map[string]interface{}{"n": len(reply.Elems)})
	if cb := s.pushConsumer(); cb != nil {
		cb(s, reply)
	}
}

// notifySubscribers snapshots the subscriber list under subMu, then
// invokes matching callbacks outside the lock so a subscriber callback can
// safely call AddSubscriber/RemoveSubscribers without deadlocking.
func (s *Server) notifySubscribers(pattern, channel string, payload []byte) {
	for _, e := range s.snapshotSubscribers() {
		if strings.HasPrefix(channel, e.prefix) {
			e.fn(s, pattern, channel, payload)
		}
	}
}

func (s *Server) pushConsumer() PushConsumer {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.cfg.PushConsumer
}

// Publish issues PUBLISH synchronously on the interactive client.
func (s *Server) Publish(channel string, payload []byte) error {
	_, err := s.ArrayRequest([][]byte{[]byte("PUBLISH"), []byte(channel), payload})
	return err
}

// PublishAsync issues PUBLISH on the pipeline client without waiting for
// the reply; the reply (a subscriber count) is drained by the pipeline
// listener like any other pipelined reply.
func (s *Server) PublishAsync(channel string, payload []byte) error {
	c := s.pipeline
	c.Lock()
	defer c.Unlock()
	return c.sendAsync([][]byte{[]byte("PUBLISH"), []byte(channel), payload})
}

// Notify is an alias for Publish kept for parity with the keyspace
// notification helper of the same name in the original library; it issues
// a plain PUBLISH, leaving keyspace-notification configuration (which is a
// server-side CONFIG SET, not a client concern) to the caller.
func (s *Server) Notify(channel string, payload []byte) error {
	return s.Publish(channel, payload)
}
