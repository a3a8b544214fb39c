package terminal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCallback struct {
	data  chan []byte
	close chan ID
}

func newRecordingCallback() *recordingCallback {
	return &recordingCallback{data: make(chan []byte, 16), close: make(chan ID, 4)}
}

func (r *recordingCallback) OnTerminalData(id ID, data []byte) {
	r.data <- append([]byte(nil), data...)
}

func (r *recordingCallback) OnTerminalClose(id ID) {
	r.close <- id
}

func TestOpenWriteEchoClose(t *testing.T) {
	cb := newRecordingCallback()
	pool := New(func(fn func()) { fn() }, cb)

	id, err := pool.Open("cat", nil)
	require.NoError(t, err)
	assert.True(t, pool.Live(id))

	require.NoError(t, pool.Write(id, []byte("hello\n")))

	select {
	case got := <-cb.data:
		assert.Equal(t, "hello\n", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("no echo received")
	}

	require.NoError(t, pool.Close(id))
	select {
	case closedID := <-cb.close:
		assert.Equal(t, id, closedID)
	case <-time.After(2 * time.Second):
		t.Fatal("close callback never fired")
	}
	assert.False(t, pool.Live(id))
}

func TestOperationsOnUnknownIDFail(t *testing.T) {
	pool := New(func(fn func()) { fn() }, newRecordingCallback())
	assert.Error(t, pool.Write(999, []byte("x")))
	assert.Error(t, pool.Resize(999, 10, 10))
	assert.Error(t, pool.Close(999))
}

func TestChildExitReportsClose(t *testing.T) {
	cb := newRecordingCallback()
	pool := New(func(fn func()) { fn() }, cb)

	id, err := pool.Open("true", nil)
	require.NoError(t, err)

	select {
	case closedID := <-cb.close:
		assert.Equal(t, id, closedID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected close notification after child exit")
	}
	assert.False(t, pool.Live(id))
}
