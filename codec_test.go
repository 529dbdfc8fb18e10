package redisx

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, raw string) *RESP {
	t.Helper()
	r, err := readReply(bufio.NewReader(bytes.NewBufferString(raw)))
	require.NoError(t, err)
	return r
}

func TestWriteCommand(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, writeCommandStrings(w, "SET", "foo", "bar"))
	assert.Equal(t, "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n", buf.String())
}

func TestReadSimpleString(t *testing.T) {
	r := parse(t, "+OK\r\n")
	assert.Equal(t, TypeSimpleString, r.Type)
	assert.Equal(t, "OK", string(r.Str))
}

func TestReadError(t *testing.T) {
	r := parse(t, "-ERR unknown command\r\n")
	assert.Equal(t, TypeError, r.Type)
	assert.Equal(t, "ERR unknown command", string(r.Str))
}

func TestReadInt(t *testing.T) {
	r := parse(t, ":1000\r\n")
	assert.Equal(t, TypeInt, r.Type)
	assert.Equal(t, 1000, r.N)
}

func TestReadBulkString(t *testing.T) {
	r := parse(t, "$5\r\nhello\r\n")
	assert.Equal(t, TypeBulkString, r.Type)
	assert.Equal(t, "hello", string(r.Str))
}

func TestReadNullBulkString(t *testing.T) {
	r := parse(t, "$-1\r\n")
	assert.Equal(t, TypeNull, r.Type)
}

func TestReadArray(t *testing.T) {
	r := parse(t, "*2\r\n$3\r\nfoo\r\n$3\r\nbar\r\n")
	assert.Equal(t, TypeArray, r.Type)
	require.Len(t, r.Elems, 2)
	assert.Equal(t, "foo", string(r.Elems[0].Str))
	assert.Equal(t, "bar", string(r.Elems[1].Str))
}

func TestReadNullArray(t *testing.T) {
	r := parse(t, "*-1\r\n")
	assert.Equal(t, TypeNull, r.Type)
}

func TestReadMap(t *testing.T) {
	r := parse(t, "%1\r\n$4\r\nrole\r\n$6\r\nmaster\r\n")
	assert.Equal(t, TypeMap, r.Type)
	require.Len(t, r.Pairs, 1)
	assert.Equal(t, "role", string(r.Pairs[0].Key.Str))
	assert.Equal(t, "master", string(r.Pairs[0].Value.Str))
}

func TestReadBoolean(t *testing.T) {
	r := parse(t, "#t\r\n")
	assert.Equal(t, TypeBoolean, r.Type)
	assert.Equal(t, 1, r.N)

	r = parse(t, "#f\r\n")
	assert.Equal(t, 0, r.N)
}

// Exercises the RESP3 streamed-array form: every ';' chunk (including the
// first, non-zero one) appends its elements in arrival order; a ';0' chunk
// terminates the stream without contributing elements.
func TestReadStreamedArray(t *testing.T) {
	raw := "*?\r\n;2\r\n$1\r\na\r\n$1\r\nb\r\n;1\r\n$1\r\nc\r\n;0\r\n"
	r := parse(t, raw)
	assert.Equal(t, TypeArray, r.Type)
	require.Len(t, r.Elems, 3)
	assert.Equal(t, "a", string(r.Elems[0].Str))
	assert.Equal(t, "b", string(r.Elems[1].Str))
	assert.Equal(t, "c", string(r.Elems[2].Str))
}

func TestReadStreamedMap(t *testing.T) {
	raw := "%?\r\n;1\r\n$1\r\nk\r\n$1\r\nv\r\n;0\r\n"
	r := parse(t, raw)
	assert.Equal(t, TypeMap, r.Type)
	require.Len(t, r.Pairs, 1)
	assert.Equal(t, "k", string(r.Pairs[0].Key.Str))
	assert.Equal(t, "v", string(r.Pairs[0].Value.Str))
}

func TestReadVerbatimString(t *testing.T) {
	r := parse(t, "=9\r\ntxt:hello\r\n")
	assert.Equal(t, TypeVerbatimString, r.Type)
	code, rest, err := r.SplitText()
	require.NoError(t, err)
	assert.Equal(t, "txt", code)
	assert.Equal(t, "hello", string(rest))
}

func TestReadIncompleteTransfer(t *testing.T) {
	_, err := readReply(bufio.NewReader(bytes.NewBufferString("$5\r\nhel")))
	require.Error(t, err)
	assert.True(t, Is(err, ErrIncompleteTransfer))
}
