package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/example/storefront/pkg/config"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// CheckFunc reports whether a dependency is reachable.
type CheckFunc func(ctx context.Context) error

// HealthServer exposes the standard gRPC health service. Every named check is
// published as its own service and the empty name carries the overall status.
type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	checks   map[string]CheckFunc
	interval time.Duration
	addr     string
	logger   *zap.Logger
}

func NewHealthServer(cfg *config.GRPCConfig, logger *zap.Logger, checks map[string]CheckFunc) *HealthServer {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	interval := cfg.HealthInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	s := &HealthServer{
		server:   srv,
		health:   hs,
		checks:   checks,
		interval: interval,
		addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		logger:   logger.Named("health"),
	}
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	for name := range checks {
		hs.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return s
}

// Probe runs every check once and updates the published statuses.
func (s *HealthServer) Probe(ctx context.Context) map[string]error {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]error, len(names))
	overall := healthpb.HealthCheckResponse_SERVING
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, s.interval)
		err := s.checks[name](checkCtx)
		cancel()

		results[name] = err
		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = status
			s.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
		}
		s.health.SetServingStatus(name, status)
	}
	s.health.SetServingStatus("", overall)
	return results
}

// Run listens on the configured address until ctx is done.
func (s *HealthServer) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

func (s *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	s.logger.Info("gRPC health server started", zap.String("address", lis.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(lis)
	}()

	s.Probe(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			s.server.GracefulStop()
			if err := <-errCh; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		case err := <-errCh:
			return err
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}
