// Package grpc serves the gRPC health endpoint with the standard interceptor stack.
package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall "" entry.
const ServiceName = "leadflow.Pipeline"

// DefaultProbeInterval is how often readiness is re-evaluated.
const DefaultProbeInterval = 2 * time.Second

// ReadinessFunc reports whether the pipeline can take work.
type ReadinessFunc func() bool

// Server is a gRPC server exposing grpc.health.v1.Health. Health status follows
// a ReadinessFunc, typically the bus connection state.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	address    string
	ready      ReadinessFunc
	interval   time.Duration
	logger     Logger

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
	stopCh   chan struct{}
}

// NewServer creates a Server. A nil ready means always serving. With no opts
// the ServerOptions stack is installed.
func NewServer(address string, ready ReadinessFunc, logger Logger, opts ...grpc.ServerOption) *Server {
	if len(opts) == 0 {
		opts = ServerOptions(logger)
	}
	if ready == nil {
		ready = func() bool { return true }
	}
	s := &Server{
		grpcServer: grpc.NewServer(opts...),
		health:     health.NewServer(),
		address:    address,
		ready:      ready,
		interval:   DefaultProbeInterval,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.probe()
	return s
}

// SetProbeInterval changes the readiness polling interval. Call before Start.
func (s *Server) SetProbeInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

func (s *Server) probe() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.ready() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

func (s *Server) watch() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.probe()
		}
	}
}

// StartBackground listens and serves in a goroutine. The returned channel
// yields the serve error, if any, and is closed when serving ends.
func (s *Server) StartBackground() (<-chan error, error) {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	s.logger.Info("grpc_server_started", "address", lis.Addr().String())
	go s.watch()

	errCh := make(chan error, 1)
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh, nil
}

// Start serves until ctx ends, then stops gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh, err := s.StartBackground()
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		s.GracefulStop()
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.address
}

// GracefulStop marks every service NOT_SERVING and drains connections.
func (s *Server) GracefulStop() {
	if !s.markStopped() {
		return
	}
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	s.logger.Info("grpc_server_stopped")
}

// ShutdownWithTimeout is GracefulStop bounded by timeout, after which open
// connections are closed.
func (s *Server) ShutdownWithTimeout(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("grpc_graceful_shutdown_timeout", "timeout_ms", timeout.Milliseconds())
		s.grpcServer.Stop()
	}
}

func (s *Server) markStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.stopped = true
	close(s.stopCh)
	return true
}
