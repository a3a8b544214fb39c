// Package transport is the server-side websocket listener: it accepts
// connections with github.com/go-chi/chi/v5 routing and nhooyr.io/websocket
// framing (the teacher's sole dependency, here run as an acceptor instead
// of the teacher's dialer in websocket.go), optionally over TLS, and hands
// every inbound frame to the core through a Reactor-submitted closure so
// dispatch always runs on the single mutator goroutine.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/codehz/bedweb/internal/binarymux"
)

// Handler is the core's view of the transport: callbacks for connection
// lifecycle and inbound frames, invoked only via the injected submit func
// so they always run on the Reactor.
type Handler interface {
	OnConnect(id binarymux.ClientID)
	OnDisconnect(id binarymux.ClientID)
	OnText(id binarymux.ClientID, data []byte)
	OnBinary(id binarymux.ClientID, data []byte)
}

type conn struct {
	id   binarymux.ClientID
	ws   *websocket.Conn
	mu   sync.Mutex // nhooyr requires writes to be serialized per-connection
}

// Server owns the HTTP listener and the table of live websocket
// connections, keyed by the same ClientID the binary mux and RPC dispatcher
// use to identify callers.
type Server struct {
	submit  func(func())
	handler Handler

	nextID  atomic.Uint64
	connsMu sync.Mutex
	conns   map[binarymux.ClientID]*conn

	router *chi.Mux
}

// New creates a Server. submit must enqueue a closure onto the owning
// Reactor; handler receives connection and frame events from there.
func New(submit func(func()), handler Handler) *Server {
	s := &Server{
		submit:  submit,
		handler: handler,
		conns:   make(map[binarymux.ClientID]*conn),
		router:  chi.NewRouter(),
	}
	s.router.Get("/ws", s.serveWS)
	s.router.Get("/healthz", s.serveHealthz)
	return s
}

// Router exposes the chi mux so the caller can mount additional routes
// (metrics, in particular) onto the same listener before calling Serve.
func (s *Server) Router() *chi.Mux { return s.router }

// Serve runs the HTTP/websocket listener on ln until ctx is cancelled. If
// tlsCfg is non-nil, connections are served over TLS, matching the
// original's optional ssl_context wrapping server_wsio in main.cpp. The
// listener is accepted as a parameter (rather than built with net.Listen
// here) so the caller can hand in a tableflip-managed listener that
// survives a graceful restart.
func (s *Server) Serve(ctx context.Context, ln net.Listener, tlsCfg *tls.Config) error {
	srv := &http.Server{Handler: s.router, TLSConfig: tlsCfg}

	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) serveHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	id := binarymux.ClientID(s.nextID.Add(1))
	c := &conn{id: id, ws: ws}

	s.connsMu.Lock()
	s.conns[id] = c
	s.connsMu.Unlock()

	s.submit(func() { s.handler.OnConnect(id) })

	s.readLoop(c)

	s.connsMu.Lock()
	delete(s.conns, id)
	s.connsMu.Unlock()
	s.submit(func() { s.handler.OnDisconnect(id) })
}

func (s *Server) readLoop(c *conn) {
	ctx := context.Background()
	for {
		msgType, data, err := c.ws.Read(ctx)
		if err != nil {
			c.ws.Close(websocket.StatusNormalClosure, "")
			return
		}
		switch msgType {
		case websocket.MessageText:
			frame := append([]byte(nil), data...)
			s.submit(func() { s.handler.OnText(c.id, frame) })
		case websocket.MessageBinary:
			frame := append([]byte(nil), data...)
			s.submit(func() { s.handler.OnBinary(c.id, frame) })
		}
	}
}

// SendText implements the text half of rpc's Sender-facing needs: write a
// JSON response or event frame to one client.
func (s *Server) SendText(id binarymux.ClientID, data []byte) {
	s.send(id, websocket.MessageText, data)
}

// SendBinary implements binarymux.Sender: deliver a framed binary payload
// (terminal output, a pread result) to one client.
func (s *Server) SendBinary(id binarymux.ClientID, frame []byte) {
	s.send(id, websocket.MessageBinary, frame)
}

func (s *Server) send(id binarymux.ClientID, msgType websocket.MessageType, data []byte) {
	s.connsMu.Lock()
	c, ok := s.conns[id]
	s.connsMu.Unlock()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.Write(ctx, msgType, data)
}
