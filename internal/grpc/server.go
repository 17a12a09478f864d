package grpc

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/weiawesome/alumni-chat/pkg/log"
)

// ServiceName is the health service entry for the chat API.
const ServiceName = "alumni.chat"

// Server exposes the standard gRPC health service so orchestrators can
// probe the instance.
type Server struct {
	srv    *grpc.Server
	health *health.Server
}

func NewServer(logger zerolog.Logger) *Server {
	s := grpc.NewServer(
		grpc.UnaryInterceptor(log.UnaryServerInterceptor(logger)),
		grpc.StreamInterceptor(log.StreamServerInterceptor(logger)),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &Server{srv: s, health: hs}
}

// Serve listens on lis until Stop. It blocks.
func (s *Server) Serve(lis net.Listener) error {
	return s.srv.Serve(lis)
}

// Start listens on addr in the background.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	go func() {
		l := log.L()
		l.Info().Str("address", addr).Msg("grpc health server listening")
		if err := s.srv.Serve(lis); err != nil {
			l.Error().Err(err).Msg("grpc server error")
		}
	}()
	return nil
}

// Stop reports NOT_SERVING, then drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}
