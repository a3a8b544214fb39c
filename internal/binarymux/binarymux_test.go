package binarymux

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codehz/bedweb/internal/terminal"
)

// fakeSender records outbound frames without a real transport.
type fakeSender struct {
	sent map[ClientID][][]byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[ClientID][][]byte)}
}

func (f *fakeSender) SendBinary(client ClientID, frame []byte) {
	f.sent[client] = append(f.sent[client], append([]byte(nil), frame...))
}

// synchronousSubmit runs closures inline, standing in for the Reactor in
// tests that don't need real concurrency.
func synchronousSubmit(fn func()) { fn() }

func TestEncodeDecodeID(t *testing.T) {
	wire := encodeID(42, true)
	raw, isTerm := decodeID(wire)
	assert.Equal(t, uint32(42), raw)
	assert.True(t, isTerm)

	wire = encodeID(42, false)
	raw, isTerm = decodeID(wire)
	assert.Equal(t, uint32(42), raw)
	assert.False(t, isTerm)
}

func TestBlobRoundTrip(t *testing.T) {
	pool := terminal.New(synchronousSubmit, nil)
	sender := newFakeSender()
	mux := New(pool, sender)
	mux.OnConnect(1)

	wireID := mux.NewBlob(1, []byte("hello"))
	raw, isTerm := decodeID(wireID)
	require.False(t, isTerm)

	data, ok := mux.Blob(1, raw)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), data)
}

func TestHandleFrameBlobStoresPayload(t *testing.T) {
	pool := terminal.New(synchronousSubmit, nil)
	mux := New(pool, newFakeSender())
	mux.OnConnect(1)

	frame := make([]byte, 4+3)
	binary.BigEndian.PutUint32(frame[:4], 7) // clear high bit: blob 7
	copy(frame[4:], "abc")

	require.NoError(t, mux.HandleFrame(1, frame))
	data, ok := mux.Blob(1, 7)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), data)
}

// TestTerminalLinkLifecycle exercises the S4/S5 scenarios end to end: a
// client opens a real "cat" terminal, writes through the link, receives the
// echo framed with the terminal mask set, disconnects (orphaning the
// terminal rather than killing it), and a second client cannot write to the
// now-unlinked terminal.
func TestTerminalLinkLifecycle(t *testing.T) {
	sender := newFakeSender()
	var mux *Mux
	pool := terminal.New(synchronousSubmit, nil)
	mux = New(pool, sender)
	pool.SetCallback(mux)

	mux.OnConnect(1)
	id, err := pool.Open("cat", nil)
	require.NoError(t, err)
	require.NoError(t, mux.LinkTerminal(1, id))

	frame := make([]byte, 4+len("ping\n"))
	binary.BigEndian.PutUint32(frame[:4], uint32(id)|TerminalMask)
	copy(frame[4:], "ping\n")
	require.NoError(t, mux.HandleFrame(1, frame))

	deadline := time.Now().Add(2 * time.Second)
	for len(sender.sent[1]) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.NotEmpty(t, sender.sent[1], "expected echoed output to be delivered")
	echoed := sender.sent[1][0]
	gotID := binary.BigEndian.Uint32(echoed[:4])
	assert.Equal(t, uint32(id)|TerminalMask, gotID)
	assert.Equal(t, "ping\n", string(echoed[4:]))

	mux.OnDisconnect(1)
	assert.True(t, pool.Live(id), "orphaning must not kill the terminal")

	mux.OnConnect(2)
	assert.False(t, mux.IsLinked(2, id))
	err = mux.HandleFrame(2, frame)
	assert.Error(t, err, "an unlinked client must not be able to write to the terminal")

	require.NoError(t, pool.Close(id))
}

// TestSendBlobDeliversFrame covers the fs.pread fix: minting a blob id must
// immediately deliver the bytes as a binary frame prefixed with that id,
// not just cache them server-side for a client that has no way to ask for
// them again.
func TestSendBlobDeliversFrame(t *testing.T) {
	pool := terminal.New(synchronousSubmit, nil)
	sender := newFakeSender()
	mux := New(pool, sender)
	mux.OnConnect(1)

	wireID := mux.SendBlob(1, []byte("hello"))
	raw, isTerm := decodeID(wireID)
	require.False(t, isTerm)

	require.Len(t, sender.sent[1], 1)
	frame := sender.sent[1][0]
	assert.Equal(t, wireID, binary.BigEndian.Uint32(frame[:4]))
	assert.Equal(t, "hello", string(frame[4:]))

	data, ok := mux.Blob(1, raw)
	require.True(t, ok, "the id must still resolve like any other blob")
	assert.Equal(t, []byte("hello"), data)
}

// TestLinkTerminalReplacesPriorLink covers the spec §4.3 invariant that
// linking an already-linked terminal to a new client replaces the old link
// instead of failing.
func TestLinkTerminalReplacesPriorLink(t *testing.T) {
	pool := terminal.New(synchronousSubmit, nil)
	mux := New(pool, newFakeSender())
	pool.SetCallback(mux)
	id, err := pool.Open("cat", nil)
	require.NoError(t, err)
	defer pool.Close(id)

	mux.OnConnect(1)
	mux.OnConnect(2)
	require.NoError(t, mux.LinkTerminal(1, id))
	require.True(t, mux.IsLinked(1, id))

	require.NoError(t, mux.LinkTerminal(2, id))
	assert.False(t, mux.IsLinked(1, id), "the prior owner must be detached")
	assert.True(t, mux.IsLinked(2, id))
}

// TestOnTerminalCloseNotifiesLinkedClient covers the S4 "shell.close sends a
// zero-payload frame with the terminal-masked id" contract.
func TestOnTerminalCloseNotifiesLinkedClient(t *testing.T) {
	pool := terminal.New(synchronousSubmit, nil)
	sender := newFakeSender()
	mux := New(pool, sender)
	pool.SetCallback(mux)

	mux.OnConnect(1)
	id, err := pool.Open("cat", nil)
	require.NoError(t, err)
	require.NoError(t, mux.LinkTerminal(1, id))

	require.NoError(t, pool.Close(id))

	require.Len(t, sender.sent[1], 1)
	frame := sender.sent[1][0]
	assert.Equal(t, uint32(id)|TerminalMask, binary.BigEndian.Uint32(frame[:4]))
	assert.Empty(t, frame[4:])
}
