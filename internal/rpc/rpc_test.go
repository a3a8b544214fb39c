package rpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchUnknownMethod(t *testing.T) {
	d := New(func(Event) {})
	resp, ok := d.Dispatch(nil, []byte(`{"id":1,"method":"nope","params":[]}`))
	require.True(t, ok)
	require.NotNil(t, resp.Err)
	assert.Equal(t, KindProtocol, resp.Err.Kind)
}

func TestDispatchMalformedRequestIsDropped(t *testing.T) {
	d := New(func(Event) {})
	resp, ok := d.Dispatch(nil, []byte(`not json`))
	assert.False(t, ok, "malformed JSON must be dropped, not answered")
	assert.Zero(t, resp)
}

func TestDispatchSuccess(t *testing.T) {
	d := New(func(Event) {})
	d.RegisterMethod("ping", func(caller Caller, params json.RawMessage) (any, *Error) {
		return "pong", nil
	})
	resp, ok := d.Dispatch(nil, []byte(`{"id":1,"method":"ping","params":null}`))
	require.True(t, ok)
	require.Nil(t, resp.Err)
	assert.Equal(t, "pong", resp.Result)
}

func TestRegisterDuplicateMethodPanics(t *testing.T) {
	d := New(func(Event) {})
	d.RegisterMethod("dup", func(Caller, json.RawMessage) (any, *Error) { return nil, nil })
	assert.Panics(t, func() {
		d.RegisterMethod("dup", func(Caller, json.RawMessage) (any, *Error) { return nil, nil })
	})
}

func TestEmitUndeclaredTopicPanics(t *testing.T) {
	d := New(func(Event) {})
	assert.Panics(t, func() { d.Emit("not.declared", nil) })
}

func TestEmitDeclaredTopic(t *testing.T) {
	var got Event
	d := New(func(e Event) { got = e })
	d.DeclareEvent("sysinfo.cpustat")
	d.Emit("sysinfo.cpustat", map[string]int{"a": 1})
	assert.Equal(t, "sysinfo.cpustat", got.Method)
}
