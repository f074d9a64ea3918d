package server

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/wardendns/warden/pkg/client"
	"github.com/wardendns/warden/pkg/config"
	"github.com/wardendns/warden/pkg/firewall"
	"github.com/wardendns/warden/pkg/logging"
	"github.com/wardendns/warden/pkg/telemetry"
)

// Server owns the UDP and TCP listeners and dispatches every accepted
// packet/connection to a Handler, mirroring 
// server_impl.go Server (Start/Shutdown lifecycle, one errChan feeding
// both listener goroutines) generalized from *dns.Server to raw
// net.ListenUDP/net.Listen("tcp", ...) since this module's wire format is
// pkg/wire, not github.com/miekg/dns.
type Server struct {
	cfg     config.Config
	logger  *logging.Logger
	handler *Handler
	client  *client.Client

	udpConn  *net.UDPConn
	tcpLn    net.Listener

	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New builds a Server and every pipeline component it dispatches to.
func New(cfg config.Config, logger *logging.Logger, metrics *telemetry.Metrics) (*Server, error) {
	h, cl, err := NewHandler(cfg, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("server: build handler: %w", err)
	}
	return &Server{cfg: cfg, logger: logger, handler: h, client: cl}, nil
}

// Firewall exposes the running handler's firewall so cmd/wardend's config
// watcher can reload policies without tearing down the server.
func (s *Server) Firewall() *firewall.Firewall {
	return s.handler.firewall
}

// Start binds the configured listeners and serves until ctx is canceled or
// a listener fails, then shuts down and returns.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server: already running")
	}
	s.running = true
	s.mu.Unlock()

	errCh := make(chan error, 2)

	if s.cfg.Server.UDPEnabled {
		addr, err := net.ResolveUDPAddr("udp", s.cfg.Server.UDPAddress)
		if err != nil {
			return fmt.Errorf("server: resolve udp address: %w", err)
		}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			return fmt.Errorf("server: listen udp: %w", err)
		}
		s.udpConn = conn
		s.logger.Info("udp listener started", "address", s.cfg.Server.UDPAddress)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.serveUDP(ctx, conn); err != nil {
				errCh <- fmt.Errorf("udp listener: %w", err)
			}
		}()
	}

	if s.cfg.Server.TCPEnabled {
		ln, err := net.Listen("tcp", s.cfg.Server.TCPAddress)
		if err != nil {
			return fmt.Errorf("server: listen tcp: %w", err)
		}
		s.tcpLn = ln
		s.logger.Info("tcp listener started", "address", s.cfg.Server.TCPAddress)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.serveTCP(ctx, ln); err != nil {
				errCh <- fmt.Errorf("tcp listener: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		s.logger.Info("server shutting down")
		return s.Shutdown()
	case err := <-errCh:
		s.logger.Error("listener failed", "error", err)
		_ = s.Shutdown()
		return err
	}
}

// Shutdown closes every listener, waits for the listener goroutines to
// exit, then closes the shared resolver client.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	if s.udpConn != nil {
		_ = s.udpConn.Close()
	}
	if s.tcpLn != nil {
		_ = s.tcpLn.Close()
	}
	s.wg.Wait()
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
