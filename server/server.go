package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/tapwire/tapwire-agent/buildinfo"
	"github.com/tapwire/tapwire-agent/nfc"
)

// mDNS service parameters for LAN discovery of the gateway
const (
	mdnsServiceType = "_tapwire._tcp"
	mdnsDomain      = "local."
)

// Config holds gateway settings.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:3500".
	Addr string

	// EnableMDNS advertises the gateway over zeroconf.
	EnableMDNS bool
}

// Server is the WebSocket gateway process: one HTTP server serving the
// WebSocket endpoint at "/", a hub fanning reader events out, and the
// command queue into the reader service.
type Server struct {
	cfg      Config
	hub      *Hub
	commands chan<- nfc.Command
	log      *zap.SugaredLogger

	httpServer *http.Server
	mdnsServer *zeroconf.Server
}

// New creates a gateway publishing through hub and pushing commands into the
// reader service queue.
func New(cfg Config, hub *Hub, commands chan<- nfc.Command, log *zap.SugaredLogger) *Server {
	return &Server{
		cfg:      cfg,
		hub:      hub,
		commands: commands,
		log:      log,
	}
}

// Start runs the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)

	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: mux,
	}

	if s.cfg.EnableMDNS {
		if err := s.startMDNS(); err != nil {
			s.log.Warnw("mDNS registration failed", "error", err)
		}
	}

	s.log.Infow("WebSocket server running", "addr", fmt.Sprintf("ws://%s/", s.cfg.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server and the mDNS advertisement.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.mdnsServer != nil {
		s.mdnsServer.Shutdown()
		s.mdnsServer = nil
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// startMDNS registers the gateway as an mDNS service for auto-discovery.
func (s *Server) startMDNS() error {
	_, portStr, err := net.SplitHostPort(s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("cannot derive mDNS port from addr %q: %w", s.cfg.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("cannot derive mDNS port from addr %q: %w", s.cfg.Addr, err)
	}

	txtRecords := []string{
		"version=" + buildinfo.Version,
		"protocol=websocket",
		"path=/",
	}

	server, err := zeroconf.Register(buildinfo.DisplayName, mdnsServiceType, mdnsDomain, port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mdnsServer = server
	s.log.Infow("mDNS service registered", "name", buildinfo.DisplayName, "port", port)
	return nil
}
