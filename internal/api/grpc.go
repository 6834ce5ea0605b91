package api

import (
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the gRPC health service name of the inference service.
const ServiceName = "aegisnet.inference"

// GRPCServer serves the standard health service with reflection enabled.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// NewGRPCServer creates a server that reports NOT_SERVING until SetServing(true).
func NewGRPCServer(logger *slog.Logger, opts ...grpc.ServerOption) *GRPCServer {
	s := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)

	g := &GRPCServer{server: s, health: hs, logger: logger.With("component", "grpc")}
	g.SetServing(false)
	return g
}

// SetServing updates the health status of the overall server and the inference service.
func (g *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
}

// Serve blocks serving lis until Stop.
func (g *GRPCServer) Serve(lis net.Listener) error {
	g.logger.Info("gRPC server starting", "addr", lis.Addr().String())
	return g.server.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (g *GRPCServer) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}
