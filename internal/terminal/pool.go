// Package terminal implements the Terminal Pool: it owns PTY-backed child
// processes and their master file descriptors, and reports output and death
// back to the core through callbacks invoked on the Reactor.
//
// Grounded on github.com/creack/pty (see srgg-blecli/internal/ptyio and the
// PTY-spawning files surveyed across other_examples) rather than the
// teacher's hand-rolled forkpty/ioctl pair in pty_linux.go/pty_darwin.go:
// greenlight needs raw termios control over the *outer* terminal (its own
// stdin), which bedweb never touches, so creack/pty's StartWithSize/Setsize
// is the right-sized tool here.
package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// DefaultRows and DefaultCols match the original's 80x25 default window.
const (
	DefaultRows = 25
	DefaultCols = 80
)

// ID is an opaque handle for a live terminal. Per design note 9.1 this is a
// server-minted monotonic counter, not the raw master fd — fds get reused
// after close, which would let a stale id silently address a different
// terminal. The wire format doesn't care either way: it only ever sees the
// low 31 bits of whatever value Pool hands out.
type ID uint32

// Callback receives terminal lifecycle notifications. Implementations (the
// Binary Mux, in practice) are only ever invoked from the Reactor goroutine.
type Callback interface {
	// OnTerminalData delivers bytes read from a terminal's PTY master.
	OnTerminalData(id ID, data []byte)
	// OnTerminalClose fires once, when a terminal stops being live — either
	// the child exited or Close was called explicitly.
	OnTerminalClose(id ID)
}

type entry struct {
	id     ID
	master *os.File
	cmd    *exec.Cmd
}

// Pool owns the set of live terminals. All exported methods must only be
// called from the Reactor goroutine — Pool keeps no lock over its tables,
// relying on the single-mutator invariant described in spec §5.
type Pool struct {
	submit func(func())
	cb     Callback

	nextID  ID
	byID    map[ID]*entry
	byPID   map[int]*entry
	mu      sync.Mutex // guards nextID only; Open is its sole reader and writer
}

// New creates a Pool. submit must enqueue a closure onto the owning Reactor
// (background goroutines use it to hand read/exit events back to the single
// mutator goroutine). cb may be nil at construction time and supplied later
// via SetCallback — needed because Pool and its Callback (the Binary Mux)
// reference each other and have to be built in two steps.
func New(submit func(func()), cb Callback) *Pool {
	return &Pool{
		submit: submit,
		cb:     cb,
		byID:   make(map[ID]*entry),
		byPID:  make(map[int]*entry),
	}
}

// SetCallback assigns the lifecycle callback. Must be called before Open is
// ever invoked.
func (p *Pool) SetCallback(cb Callback) {
	p.cb = cb
}

// Open forks a child attached to a new PTY and execs program with argv.
// Returns the opaque terminal id the child was allocated. The child's
// process group is made its own session (like forkpty), and a goroutine
// blocks in cmd.Wait() to report exit — the Go-idiomatic substitute for a
// signalfd subscribed to SIGCHLD (see SPEC_FULL.md, Terminal Pool section).
func (p *Pool) Open(program string, argv []string) (ID, error) {
	cmd := exec.Command(program, argv...)
	master, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: DefaultRows, Cols: DefaultCols})
	if err != nil {
		return 0, fmt.Errorf("terminal: open %q: %w", program, err)
	}

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	e := &entry{id: id, master: master, cmd: cmd}
	p.byID[id] = e
	p.byPID[cmd.Process.Pid] = e

	go p.readLoop(e)
	go p.waitLoop(e)

	return id, nil
}

func (p *Pool) readLoop(e *entry) {
	buf := make([]byte, 32*1024)
	for {
		n, err := e.master.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.submit(func() {
				if _, live := p.byID[e.id]; live {
					p.cb.OnTerminalData(e.id, chunk)
				}
			})
		}
		if err != nil {
			// Read errors (including the slave-hangup EOF every child exit
			// produces) are treated as terminal close, per spec §4.2
			// "Read errors cause deregistration and closure" — but the
			// actual bookkeeping happens in waitLoop once the child has
			// genuinely exited, to avoid racing the SIGCHLD-equivalent path.
			return
		}
	}
}

func (p *Pool) waitLoop(e *entry) {
	_ = e.cmd.Wait()
	p.submit(func() {
		p.removeLocked(e, true)
	})
}

// Resize applies a new window size to a live terminal's PTY.
func (p *Pool) Resize(id ID, rows, cols uint16) error {
	e, ok := p.byID[id]
	if !ok {
		return fmt.Errorf("terminal: resize: id not found")
	}
	return pty.Setsize(e.master, &pty.Winsize{Rows: rows, Cols: cols})
}

// Write sends bytes to a live terminal's PTY master.
func (p *Pool) Write(id ID, data []byte) error {
	e, ok := p.byID[id]
	if !ok {
		return fmt.Errorf("terminal: write: id not found")
	}
	_, err := e.master.Write(data)
	return err
}

// Close forcibly terminates a terminal: the child is killed, the master fd
// is closed, the registry entry is dropped, and OnTerminalClose fires
// synchronously.
func (p *Pool) Close(id ID) error {
	e, ok := p.byID[id]
	if !ok {
		return fmt.Errorf("terminal: close: id not found")
	}
	if e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
	p.removeLocked(e, true)
	return nil
}

// removeLocked must run on the Reactor goroutine. It is idempotent: Close
// and the exit-detecting waitLoop race to get here first, and only the
// first one should fire OnTerminalClose / touch the maps.
func (p *Pool) removeLocked(e *entry, notify bool) {
	if _, live := p.byID[e.id]; !live {
		return
	}
	delete(p.byID, e.id)
	delete(p.byPID, e.cmd.Process.Pid)
	e.master.Close()
	if notify {
		p.cb.OnTerminalClose(e.id)
	}
}

// Live reports whether id currently names a running terminal.
func (p *Pool) Live(id ID) bool {
	_, ok := p.byID[id]
	return ok
}

// Count returns the number of live terminals, for metrics.
func (p *Pool) Count() int {
	return len(p.byID)
}
