package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/miradorstack/mirador-incident/internal/config"
)

// ScoringHealthService is the health check name reporting whether scoring models are loaded.
const ScoringHealthService = "incident.scoring"

// Server owns the gRPC listener for the incident intelligence service together with
// its health registry.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	listener net.Listener
	grace    time.Duration
}

// NewServer listens on cfg.Address and registers the incident service, health checks
// and reflection. Extra options are appended after the metrics interceptors.
func NewServer(cfg config.ServerConfig, service IncidentIntelligenceServer, modelsLoaded bool, opts ...grpc.ServerOption) (*Server, error) {
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}

	grpc_prometheus.EnableHandlingTimeHistogram()
	gs := grpc.NewServer(append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	}, opts...)...)
	gs.RegisterService(&IncidentIntelligenceServiceDesc, service)
	grpc_prometheus.Register(gs)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	s := &Server{grpc: gs, health: hs, listener: lis, grace: cfg.GracefulTimeout}
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.SetModelsLoaded(modelsLoaded)
	return s, nil
}

// SetModelsLoaded flips the scoring health entry between SERVING and NOT_SERVING.
func (s *Server) SetModelsLoaded(loaded bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if loaded {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ScoringHealthService, status)
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	if s.grpc == nil || s.listener == nil {
		return errors.New("grpc server not initialised")
	}
	err := s.grpc.Serve(s.listener)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Shutdown marks every health entry NOT_SERVING, drains in-flight calls and forces a
// stop once ctx expires. A ctx without deadline is bounded by the configured grace.
func (s *Server) Shutdown(ctx context.Context) {
	if s.grpc == nil {
		return
	}
	if _, ok := ctx.Deadline(); !ok && s.grace > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.grace)
		defer cancel()
	}
	s.health.Shutdown()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		s.grpc.GracefulStop()
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.grpc.Stop()
		<-drained
	}
}

// Address reports the bound listener address, which differs from the configured one
// when port 0 was requested.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
