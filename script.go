package redisx

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
)

// LoadScript registers source as a Lua script via SCRIPT LOAD and returns
// its SHA1 digest, caching the mapping so repeated calls with the same
// source are idempotent and cheap.
func (s *Server) LoadScript(source string) (string, error) {
	const op = "Server.LoadScript"

	if sha, ok := s.cachedScript(source); ok {
		return sha, nil
	}

	reply, err := s.Request("SCRIPT", "LOAD", source)
	if err != nil {
		return "", err
	}
	if err := reply.Check(TypeBulkString, 0); err != nil {
		return "", newErr(ErrUnexpectedResp, op, err)
	}

	sha := string(reply.Str)
	s.cacheScript(source, sha)
	return sha, nil
}

func (s *Server) cachedScript(source string) (string, bool) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	sha, ok := s.scripts[source]
	return sha, ok
}

func (s *Server) cacheScript(source, sha string) {
	s.cfgMu.Lock()
	s.scripts[source] = sha
	s.cfgMu.Unlock()
}

// LocalSHA1 computes the SHA1 digest LoadScript would assign to source,
// without any network round trip, for callers that want to EVALSHA
// speculatively before confirming the script is loaded.
func LocalSHA1(source string) string {
	sum := sha1.Sum([]byte(source))
	return hex.EncodeToString(sum[:])
}

// RunScriptAsync issues EVALSHA for sha on c (which must already be
// locked), with keys and args as the script's KEYS[]/ARGV[] vectors, and
// reads the reply. On NOSCRIPT (the script was evicted or never loaded on
// this server), the caller must re-run LoadScript; this method surfaces
// the server error as-is rather than silently retrying, since only the
// caller knows the original script source to reload.
func (s *Server) RunScriptAsync(c *ClientConn, sha string, keys, args []string) (*RESP, error) {
	cmd := make([][]byte, 0, 3+len(keys)+len(args))
	cmd = append(cmd, []byte("EVALSHA"), []byte(sha), []byte(strconv.Itoa(len(keys))))
	for _, k := range keys {
		cmd = append(cmd, []byte(k))
	}
	for _, a := range args {
		cmd = append(cmd, []byte(a))
	}

	if err := c.sendAsync(cmd); err != nil {
		return nil, err
	}
	return c.readReplyAsync()
}

// MultiSet expands a key/field-value map into an HSET command and issues
// it synchronously: HSET key field1 value1 field2 value2 ... Each
// field/value pair is indexed by its own loop position (the
// straightforward, correct expansion; a historical off-by-one in an
// ancestor of this expansion skipped every other field).
func (s *Server) MultiSet(key string, fields map[string]string) error {
	args := make([][]byte, 0, 2+2*len(fields))
	args = append(args, []byte("HSET"), []byte(key))
	for field, value := range fields {
		args = append(args, []byte(field), []byte(value))
	}
	_, err := s.ArrayRequest(args)
	return err
}
