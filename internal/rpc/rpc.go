// Package rpc implements the JSON-RPC-like text protocol: requests carry an
// id, method, and params and get exactly one response; events carry no id
// and may be broadcast to every subscriber of a declared topic. Modeled on
// the method-table dispatch in the original's api.cpp (register_method /
// emit), translated to Go's encoding/json and an explicit error taxonomy
// instead of C++ exceptions.
package rpc

import (
	"encoding/json"
	"fmt"
)

// Kind classifies an Error the way spec §7 enumerates the taxonomy: protocol
// errors (malformed request), system errors (a syscall failed), lookup
// errors (an id references something that doesn't exist), resource errors
// (a limit was hit), and internal-invariant errors (a bug, not caller input).
type Kind string

const (
	KindProtocol Kind = "protocol"
	KindSystem   Kind = "system"
	KindLookup   Kind = "lookup"
	KindResource Kind = "resource"
	KindInternal Kind = "internal"
)

// Error is the structured error type every Handler should return instead of
// a bare error, so Dispatch can report Kind on the wire.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

// Errorf builds an Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Request is an inbound call: {"id":..., "method":..., "params":...}.
type Request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response is an outbound reply: exactly one of Result/Err is set.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Err    *wireError      `json:"error,omitempty"`
}

// Event is an outbound, id-less broadcast message.
type Event struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

type wireError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Caller identifies the client a Handler is serving, so handlers that need
// per-client state (blobs, terminal links) can look it up.
type Caller any

// Handler answers one RPC call. params is the raw JSON params value (may be
// null); the returned value is marshaled as the result on success.
type Handler func(caller Caller, params json.RawMessage) (any, *Error)

// Dispatcher holds the method table and the set of declared event topics,
// matching api.cpp's pattern of registering every method up front at
// startup and never mutating the table again at runtime.
type Dispatcher struct {
	methods map[string]Handler
	events  map[string]struct{}
	emit    func(Event)
}

// New creates a Dispatcher. emit is called by Emit to actually deliver an
// event frame to transport — kept as an injected func so Dispatcher has no
// dependency on the transport package.
func New(emit func(Event)) *Dispatcher {
	return &Dispatcher{
		methods: make(map[string]Handler),
		events:  make(map[string]struct{}),
		emit:    emit,
	}
}

// RegisterMethod adds method to the dispatch table. Registering the same
// name twice is a programmer error and panics, matching the original's
// assumption that api.cpp's registration block is exhaustive and untouched
// after startup.
func (d *Dispatcher) RegisterMethod(name string, h Handler) {
	if _, exists := d.methods[name]; exists {
		panic(fmt.Sprintf("rpc: method %q already registered", name))
	}
	d.methods[name] = h
}

// DeclareEvent registers a topic name as a legal Emit target.
func (d *Dispatcher) DeclareEvent(name string) {
	d.events[name] = struct{}{}
}

// Emit broadcasts an event on topic. Emitting an undeclared topic panics —
// this is always a programming error caught by any test that exercises the
// telemetry path, never a condition a remote client can trigger.
func (d *Dispatcher) Emit(topic string, params any) {
	if _, ok := d.events[topic]; !ok {
		panic(fmt.Sprintf("rpc: event %q not declared", topic))
	}
	d.emit(Event{Method: topic, Params: params})
}

// Dispatch parses raw as a Request, looks up its method, and invokes the
// handler. The second return value reports whether a response should be
// sent at all: a frame that isn't valid JSON can't be correlated to any
// id, so per spec §4.4 it is logged and dropped rather than answered —
// callers should skip sending in that case (distinct from an unknown
// method, which gets a protocol-kind error Response back, or a handler
// error, which gets an error Response carrying the handler's own Kind;
// both parsed fine and are reported, not fatal). Modeled on the shouldRespond
// return FIDL stub dispatch uses to distinguish "no reply" from "reply
// with an error".
func (d *Dispatcher) Dispatch(caller Caller, raw []byte) (Response, bool) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Response{}, false
	}
	h, ok := d.methods[req.Method]
	if !ok {
		return errorResponse(req.ID, Errorf(KindProtocol, "unknown method %q", req.Method)), true
	}
	result, rpcErr := h(caller, req.Params)
	if rpcErr != nil {
		return errorResponse(req.ID, rpcErr), true
	}
	return Response{ID: req.ID, Result: result}, true
}

func errorResponse(id json.RawMessage, err *Error) Response {
	return Response{ID: id, Err: &wireError{Kind: err.Kind, Message: err.Message}}
}
