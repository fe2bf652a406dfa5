package serve

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	rhealth "github.com/zero-day-ai/responder/health"
)

// ServiceName is the health service name reported alongside the overall "" service.
const ServiceName = "responder"

// Config holds serve configuration.
type Config struct {
	// Address is the listen address. Default: ":50051"
	Address string

	// GracefulTimeout bounds graceful shutdown. Default: 30 seconds
	GracefulTimeout time.Duration

	// CheckInterval is how often health checks run. Default: 15 seconds
	CheckInterval time.Duration

	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	TLSCertFile string
	TLSKeyFile  string
}

// DefaultConfig returns default serve configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:         ":50051",
		GracefulTimeout: 30 * time.Second,
		CheckInterval:   15 * time.Second,
	}
}

// Server wraps a gRPC server that serves the health protocol.
type Server struct {
	grpcServer   *grpc.Server
	listener     net.Listener
	config       *Config
	healthServer *health.Server
	checker      *rhealth.Checker
	logger       *slog.Logger
}

// NewServer listens on cfg.Address and registers the health service.
// checker may be nil, in which case the server always reports SERVING.
func NewServer(cfg *Config, checker *rhealth.Checker, logger *slog.Logger) (*Server, error) {
	defaults := DefaultConfig()
	if cfg == nil {
		cfg = defaults
	}
	if cfg.Address == "" {
		cfg.Address = defaults.Address
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaults.GracefulTimeout
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaults.CheckInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Address, err)
	}

	grpcServer := grpc.NewServer(opts...)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		grpcServer:   grpcServer,
		listener:     listener,
		config:       cfg,
		healthServer: healthServer,
		checker:      checker,
		logger:       logger.With("component", "serve"),
	}, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Refresh runs the health checks once and publishes the result. Degraded
// dependencies still report SERVING.
func (s *Server) Refresh(ctx context.Context) rhealth.Report {
	if s.checker == nil {
		return rhealth.Report{Status: rhealth.Healthy("no checks configured")}
	}

	report := s.checker.Run(ctx)
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if report.IsUnhealthy() {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		s.logger.Warn("health check failed", "message", report.Message, "details", report.Details)
	}
	s.healthServer.SetServingStatus("", status)
	s.healthServer.SetServingStatus(ServiceName, status)
	return report
}

// Serve runs the server until ctx is cancelled, then stops gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.grpcServer.Serve(s.listener); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	s.logger.Info("health server listening", "address", s.listener.Addr().String())

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()
	s.Refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			s.GracefulStop()
			return nil
		case err := <-errCh:
			return err
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// GracefulStop marks the server NOT_SERVING and waits for active RPCs up to
// the configured timeout before forcing a stop.
func (s *Server) GracefulStop() {
	s.healthServer.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.GracefulTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("health server stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("graceful shutdown timeout, forcing stop")
		s.grpcServer.Stop()
	}
}
