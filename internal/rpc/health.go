// Package rpc serves the gRPC health protocol for load balancers and
// orchestrators.
package rpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// AdmissionService is the service name reported alongside the overall ("")
// status.
const AdmissionService = "venuegate.Admission"

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger
}

func NewHealthServer(logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	s := &HealthServer{grpc: gs, health: hs, logger: logger}
	s.SetServing(true)
	return s
}

func (s *HealthServer) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(AdmissionService, status)
}

// Watch runs check every interval until ctx is done and mirrors the result
// into the serving status.
func (s *HealthServer) Watch(ctx context.Context, interval time.Duration, check Check) {
	if check == nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		healthy := true
		for {
			cctx, cancel := context.WithTimeout(ctx, interval)
			err := check(cctx)
			cancel()

			if ok := err == nil; ok != healthy {
				healthy = ok
				s.SetServing(ok)
				if ok {
					s.logger.Info("health check recovered")
				} else {
					s.logger.Warn("health check failing", slog.Any("err", err))
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Serve blocks until the listener fails or Shutdown is called.
func (s *HealthServer) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Shutdown marks everything NOT_SERVING and stops gracefully, forcing the
// stop when ctx ends first.
func (s *HealthServer) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}
