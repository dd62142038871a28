// Package grpc exposes the standard gRPC health service so orchestrators can
// check the chat server without going through HTTP.
package grpc

import (
	"net"

	apphealth "marketplace-chat/backend/pkg/health"
	"marketplace-chat/backend/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name reported alongside the overall ("") status
const ServiceName = "marketplace.chat"

// Server serves grpc.health.v1.Health backed by the application checker
type Server struct {
	srv    *grpc.Server
	health *health.Server
	log    *logger.Logger
}

// NewServer registers the health service and mirrors checker into it
func NewServer(checker *apphealth.Checker, log *logger.Logger) *Server {
	s := &Server{
		srv:    grpc.NewServer(),
		health: health.NewServer(),
		log:    log,
	}
	healthpb.RegisterHealthServer(s.srv, s.health)

	s.setServing(checker.IsSystemHealthy())
	checker.OnChange(s.setServing)
	return s
}

func (s *Server) setServing(healthy bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve blocks serving on lis
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("gRPC server listening", "addr", lis.Addr().String())
	return s.srv.Serve(lis)
}

// ListenAndServe listens on :port and serves until Stop
func (s *Server) ListenAndServe(port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Stop marks everything NOT_SERVING and drains in-flight calls
func (s *Server) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}
