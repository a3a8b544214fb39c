// Package server wires every other internal package into one running
// bedweb instance: the Reactor owns the event loop, transport terminates
// websocket connections, the RPC dispatcher and binary mux route frames,
// the terminal pool and sysinfo readers back the API surface, and the
// telemetry timer drives periodic broadcasts. Grounded on main.cpp's
// top-level wiring (construct epoll, construct server_wsio, call
// api::prepare, run the loop) translated into explicit Go composition.
package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/codehz/bedweb/internal/api"
	"github.com/codehz/bedweb/internal/binarymux"
	"github.com/codehz/bedweb/internal/config"
	"github.com/codehz/bedweb/internal/metrics"
	"github.com/codehz/bedweb/internal/reactor"
	"github.com/codehz/bedweb/internal/rpc"
	"github.com/codehz/bedweb/internal/telemetry"
	"github.com/codehz/bedweb/internal/terminal"
	"github.com/codehz/bedweb/internal/transport"
)

// Server is the fully wired bedweb instance.
type Server struct {
	cfg    *config.Config
	log    *logrus.Logger
	reactor *reactor.Reactor
	pool    *terminal.Pool
	mux     *binarymux.Mux
	dispatch *rpc.Dispatcher
	tp       *transport.Server
	timer    *telemetry.Timer
	metrics  *metrics.Registry

	clientsMu sync.Mutex
	clients   map[binarymux.ClientID]struct{}
}

// New constructs a Server from cfg. log is a sirupsen/logrus logger, used in
// place of the teacher's stdlib log for structured logging (see DESIGN.md).
func New(cfg *config.Config, log *logrus.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		log:     log,
		reactor: reactor.New(256),
		clients: make(map[binarymux.ClientID]struct{}),
	}

	s.dispatch = rpc.New(s.broadcastEvent)
	reg := prometheus.NewRegistry()
	s.metrics = metrics.NewRegistry(reg)

	// Pool and Mux reference each other (Pool reports through Mux as its
	// Callback; Mux writes back through Pool), so Pool is built with a nil
	// callback and wired up once Mux exists.
	s.pool = terminal.New(s.reactor.Submit, nil)
	s.tp = transport.New(s.reactor.Submit, s)
	s.mux = binarymux.New(s.pool, s.tp)
	s.pool.SetCallback(s.mux)

	api.Register(s.dispatch, s.pool, s.mux, cfg.MonitorPath)
	s.tp.Router().Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.timer = telemetry.New(s.dispatch, cfg.MonitorPath, s.reactor.Submit, s.log, func() {
		s.metrics.TelemetryTicks.Inc()
		s.updateTerminalMetrics()
	})

	return s
}

// Run starts the telemetry timer and the HTTP/websocket listener, and
// drives the Reactor loop until ctx is cancelled. ln is the listener to
// serve on — owned by the caller so it can be tableflip-managed for
// graceful restarts.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	period := time.Duration(s.cfg.QueryPeriod) * time.Second
	if err := s.timer.Start(period); err != nil {
		return err
	}
	defer s.timer.Stop()

	var tlsCfg *tls.Config
	if s.cfg.SSL != nil {
		cert, err := tls.LoadX509KeyPair(s.cfg.SSL.Cert, s.cfg.SSL.Priv)
		if err != nil {
			return fmt.Errorf("server: load tls keypair: %w", err)
		}
		tlsCfg = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.tp.Serve(ctx, ln, tlsCfg) }()

	go s.reactor.Run(ctx)

	select {
	case <-ctx.Done():
		s.reactor.Stop()
		return <-serveErr
	case err := <-serveErr:
		s.reactor.Stop()
		return err
	}
}

// OnConnect implements transport.Handler.
func (s *Server) OnConnect(id binarymux.ClientID) {
	s.clientsMu.Lock()
	s.clients[id] = struct{}{}
	s.clientsMu.Unlock()
	s.mux.OnConnect(id)
	s.metrics.ClientsConnected.Inc()
	s.log.WithField("client", id).Info("client connected")
}

// updateTerminalMetrics refreshes the gauges that depend on Pool/Mux state
// rather than a simple increment/decrement at the call site — terminal and
// blob-cache counts change from several different RPC handlers, so it's
// cheaper and harder to miss a spot by recomputing them here after every
// event that could have moved them, instead of threading the registry into
// internal/api and internal/terminal.
func (s *Server) updateTerminalMetrics() {
	s.metrics.TerminalsActive.Set(float64(s.pool.Count()))
	s.metrics.TerminalsOrphaned.Set(float64(s.mux.OrphanCount()))
	s.metrics.CachedBlobBytes.Set(float64(s.mux.CachedBlobBytes()))
}

// OnDisconnect implements transport.Handler.
func (s *Server) OnDisconnect(id binarymux.ClientID) {
	s.clientsMu.Lock()
	delete(s.clients, id)
	s.clientsMu.Unlock()
	s.mux.OnDisconnect(id)
	s.metrics.ClientsConnected.Dec()
	s.updateTerminalMetrics()
	s.log.WithField("client", id).Info("client disconnected")
}

// OnText implements transport.Handler: dispatch an RPC request and send
// back exactly one response, matching the "request gets exactly one
// response" contract in spec §4.4.
func (s *Server) OnText(id binarymux.ClientID, data []byte) {
	resp, ok := s.dispatch.Dispatch(id, data)
	if !ok {
		s.log.WithField("client", id).Warn("dropping malformed rpc frame")
		return
	}
	s.countRequest(data, resp)
	s.updateTerminalMetrics()
	out, err := json.Marshal(resp)
	if err != nil {
		s.log.WithError(err).Error("marshal rpc response")
		return
	}
	s.tp.SendText(id, out)
}

// OnBinary implements transport.Handler: route an inbound binary frame
// through the mux (blob store or terminal write).
func (s *Server) OnBinary(id binarymux.ClientID, data []byte) {
	if err := s.mux.HandleFrame(id, data); err != nil {
		s.log.WithError(err).WithField("client", id).Warn("binary frame rejected")
	}
}

func (s *Server) countRequest(reqRaw []byte, resp rpc.Response) {
	var req struct {
		Method string `json:"method"`
	}
	_ = json.Unmarshal(reqRaw, &req)
	if req.Method == "" {
		return
	}
	s.metrics.RPCRequestsTotal.WithLabelValues(req.Method).Inc()
	if resp.Err != nil {
		s.metrics.RPCErrorsTotal.WithLabelValues(req.Method, string(resp.Err.Kind)).Inc()
	}
}

// broadcastEvent sends an event frame to every currently connected client,
// the Go-idiomatic substitute for RPC::emit iterating every server_io
// client in the original.
func (s *Server) broadcastEvent(ev rpc.Event) {
	out, err := json.Marshal(ev)
	if err != nil {
		s.log.WithError(err).Error("marshal event")
		return
	}
	s.clientsMu.Lock()
	targets := make([]binarymux.ClientID, 0, len(s.clients))
	for id := range s.clients {
		targets = append(targets, id)
	}
	s.clientsMu.Unlock()
	for _, id := range targets {
		s.tp.SendText(id, out)
	}
}
