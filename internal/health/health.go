// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package health serves the standard gRPC health protocol. The status is
// NOT_SERVING until the database is initialized and migrated.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"

	"sqlgate/cli/internal/logging"

	"github.com/pterm/pterm"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the named service reported alongside the overall ("") status.
const Service = "sqlgate"

// Server wraps a gRPC server carrying only the health service.
type Server struct {
	grpc   *grpc.Server
	health *grpchealth.Server
	logger *pterm.Logger
}

// New returns a Server reporting NOT_SERVING.
func New(logger *pterm.Logger) *Server {
	hs := grpchealth.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	s := &Server{grpc: gs, health: hs, logger: logging.OrDiscard(logger)}
	s.SetServing(false)
	return s
}

// SetServing flips both the overall and the named service status.
func (s *Server) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(Service, status)
	s.logger.Debug("health status changed", s.logger.Args("status", status.String()))
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener is Serve on an existing listener. On shutdown every service
// is marked NOT_SERVING before the server stops.
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	s.logger.Info("grpc health listening", s.logger.Args("addr", lis.Addr().String()))
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
