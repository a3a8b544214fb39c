// Package binarymux implements the binary frame multiplexer: it routes
// id-prefixed binary websocket frames between clients, client-owned
// blobs, and terminals, disambiguating the two by the high bit of a 4-byte
// big-endian id exactly as the original's binary_handler.cpp does with its
// `magic = 1u << 31` constant.
package binarymux

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/codehz/bedweb/internal/terminal"
)

// TerminalMask flags an id as addressing a terminal rather than a blob, the
// Go-side name for binary_handler.cpp's `magic`.
const TerminalMask uint32 = 1 << 31

// ClientID identifies a connected websocket client across the mux's tables.
type ClientID uint64

// Sender delivers an outbound binary frame to one client's websocket.
type Sender interface {
	SendBinary(client ClientID, frame []byte)
}

type client struct {
	id    ClientID
	blobs map[uint32][]byte
	// linked is the at-most-one terminal this client is currently attached
	// to, mirroring binary_handler.cpp's termset being keyed one-to-one per
	// client handler (spec §4.3 invariant: a terminal has at most one link).
	linked  terminal.ID
	hasLink bool
}

// Mux owns the blob cache, client<->terminal link table, and the orphan set
// of terminals whose owning client has disconnected. Like Pool, every method
// must only be called from the Reactor goroutine.
type Mux struct {
	pool   *terminal.Pool
	sender Sender

	clients map[ClientID]*client
	// linkOf maps a live terminal to the client currently linked to it, the
	// inverse direction of client.linked. A terminal absent from this map
	// is either closed or orphaned.
	linkOf map[terminal.ID]ClientID
	orphan map[terminal.ID]struct{}
}

// New creates a Mux bound to pool (for Write/Resize/Close passthrough) and
// sender (for delivering frames back out over the client's transport).
func New(pool *terminal.Pool, sender Sender) *Mux {
	return &Mux{
		pool:    pool,
		sender:  sender,
		clients: make(map[ClientID]*client),
		linkOf:  make(map[terminal.ID]ClientID),
		orphan:  make(map[terminal.ID]struct{}),
	}
}

func (m *Mux) clientOf(id ClientID) *client {
	c, ok := m.clients[id]
	if !ok {
		c = &client{id: id, blobs: make(map[uint32][]byte)}
		m.clients[id] = c
	}
	return c
}

// OnConnect registers a new client with an empty blob cache and no link.
func (m *Mux) OnConnect(id ClientID) {
	m.clientOf(id)
}

// OnDisconnect drops the client's blob cache and, per spec §4.3, orphans
// (does not close) any terminal it was linked to — the link table entry is
// removed but the terminal keeps running, exactly as binary_handler.cpp's
// on_close leaves the child process alone and moves its id into its orphan
// set instead of tearing it down.
func (m *Mux) OnDisconnect(id ClientID) {
	c, ok := m.clients[id]
	if !ok {
		return
	}
	if c.hasLink {
		delete(m.linkOf, c.linked)
		m.orphan[c.linked] = struct{}{}
	}
	delete(m.clients, id)
}

// encodeID packs a raw id with the terminal-mask bit set or cleared.
func encodeID(raw uint32, isTerminal bool) uint32 {
	if isTerminal {
		return raw | TerminalMask
	}
	return raw &^ TerminalMask
}

func decodeID(wire uint32) (raw uint32, isTerminal bool) {
	return wire &^ TerminalMask, wire&TerminalMask != 0
}

// HandleFrame processes one inbound binary frame from client: the first 4
// bytes (big-endian) are the target id, the rest is the payload. A clear
// high bit addresses one of the client's own blobs (the payload replaces any
// blob already stored under that id); a set high bit addresses a terminal
// link, writing the payload as terminal input.
func (m *Mux) HandleFrame(id ClientID, frame []byte) error {
	if len(frame) < 4 {
		return fmt.Errorf("binarymux: frame too short")
	}
	wire := binary.BigEndian.Uint32(frame[:4])
	payload := frame[4:]
	raw, isTerminal := decodeID(wire)

	c := m.clientOf(id)

	if !isTerminal {
		c.blobs[raw] = append([]byte(nil), payload...)
		return nil
	}

	termID := terminal.ID(raw)
	if !c.hasLink || c.linked != termID {
		return fmt.Errorf("binarymux: client not linked to terminal %d", termID)
	}
	return m.pool.Write(termID, payload)
}

// NewBlob allocates a fresh blob id for client and stores data under it,
// returning the wire-form id (always with the terminal mask clear) so the
// caller can hand it back in an RPC result for later pread/pwrite. Ids are
// minted from a uuid rather than a sequential counter, the Go-idiomatic
// substitute for gen_blob_id()'s std::random_device-seeded distribution in
// api.cpp — both exist so a disconnected client's stale blob ids can't be
// guessed or collide with a fresh session's.
func (m *Mux) NewBlob(id ClientID, data []byte) uint32 {
	c := m.clientOf(id)
	var blobID uint32
	for {
		raw := uuid.New()
		blobID = binary.BigEndian.Uint32(raw[:4]) &^ TerminalMask
		if _, exists := c.blobs[blobID]; !exists {
			break
		}
	}
	c.blobs[blobID] = data
	return encodeID(blobID, false)
}

// Blob removes and returns a client's stored blob by raw (unmasked) id, so
// each blob can be consumed exactly once.
func (m *Mux) Blob(id ClientID, blobID uint32) ([]byte, bool) {
	c, ok := m.clients[id]
	if !ok {
		return nil, false
	}
	data, ok := c.blobs[blobID]
	delete(c.blobs, blobID)
	return data, ok
}

// SendBlob mints a blob id for client, caches data under it (so the id can
// still be resolved later the same way any other blob can), and immediately
// delivers data as a binary frame prefixed with that id's wire form. This is
// the mechanism spec §4.6 requires for fs.pread: "sends the bytes as a
// binary frame prefixed with that id" — the RPC handler separately returns
// the same id in its result so the caller can correlate the frame with the
// request that produced it.
func (m *Mux) SendBlob(id ClientID, data []byte) uint32 {
	wireID := m.NewBlob(id, data)
	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame[:4], wireID)
	copy(frame[4:], data)
	m.sender.SendBinary(id, frame)
	return wireID
}

// LinkTerminal attaches client to term, enforcing the at-most-one-link
// invariant in both directions: a client can only be linked to one terminal,
// and a terminal can only be linked to one client. Per spec §4.3, linking a
// terminal that is already linked to a different client *replaces* the
// prior link rather than failing — the old owner is simply detached, and is
// otherwise unaffected (it keeps running its own possibly-different link).
// Linking implicitly un-orphans the terminal.
func (m *Mux) LinkTerminal(id ClientID, term terminal.ID) error {
	if !m.pool.Live(term) {
		return fmt.Errorf("binarymux: link: id not found")
	}
	if prevOwner, linked := m.linkOf[term]; linked && prevOwner != id {
		if prev, ok := m.clients[prevOwner]; ok && prev.hasLink && prev.linked == term {
			prev.hasLink = false
		}
	}
	c := m.clientOf(id)
	if c.hasLink && c.linked != term {
		delete(m.linkOf, c.linked)
	}
	c.linked = term
	c.hasLink = true
	m.linkOf[term] = id
	delete(m.orphan, term)
	return nil
}

// OrphanCount returns the number of terminals currently orphaned (their
// owning client disconnected, but the process is still running), for the
// terminals_orphaned metric.
func (m *Mux) OrphanCount() int {
	return len(m.orphan)
}

// CachedBlobBytes sums the size of every blob currently held across every
// client's cache, for the cached_blob_bytes metric.
func (m *Mux) CachedBlobBytes() int64 {
	var total int64
	for _, c := range m.clients {
		for _, data := range c.blobs {
			total += int64(len(data))
		}
	}
	return total
}

// IsLinked reports whether client is currently linked to term — the check
// shell.resize and shell.close use to implement their "no-op if the caller
// is not linked" contract.
func (m *Mux) IsLinked(id ClientID, term terminal.ID) bool {
	c, ok := m.clients[id]
	return ok && c.hasLink && c.linked == term
}

// UnlinkTerminal detaches client from term without closing it.
func (m *Mux) UnlinkTerminal(id ClientID, term terminal.ID) {
	c, ok := m.clients[id]
	if !ok || !c.hasLink || c.linked != term {
		return
	}
	c.hasLink = false
	delete(m.linkOf, term)
}

// OnTerminalData implements terminal.Callback: output from a terminal is
// forwarded, framed with the terminal-masked id, only to its currently
// linked client (if any) — an orphaned terminal's output is simply dropped.
func (m *Mux) OnTerminalData(term terminal.ID, data []byte) {
	owner, ok := m.linkOf[term]
	if !ok {
		return
	}
	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame[:4], encodeID(uint32(term), true))
	copy(frame[4:], data)
	m.sender.SendBinary(owner, frame)
}

// OnTerminalClose implements terminal.Callback: tears down link and orphan
// bookkeeping once a terminal is gone for good, and — per spec §4.6 ("client
// receives a zero-payload frame with id T | 1<<31") — notifies the still-
// linked client, if any, that the terminal is closed. An orphaned terminal
// has no linked owner left to notify.
func (m *Mux) OnTerminalClose(term terminal.ID) {
	owner, hadLink := m.linkOf[term]
	delete(m.linkOf, term)
	delete(m.orphan, term)
	if hadLink {
		frame := make([]byte, 4)
		binary.BigEndian.PutUint32(frame, encodeID(uint32(term), true))
		m.sender.SendBinary(owner, frame)
	}
}
