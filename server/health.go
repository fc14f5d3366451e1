package server

import (
	"CDEvalServer/logger"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const HealthService = "cdeval.Evaluator"

// StartHealthServer serves the standard gRPC health protocol on port so
// orchestrators can health-check the evaluation node.
func StartHealthServer(port int) (*grpc.Server, *health.Server, error) {
	addr := fmt.Sprintf(":%d", port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	go func() {
		logger.Log().Info("gRPC health server listening", zap.String("addr", lis.Addr().String()))
		if err := s.Serve(lis); err != nil {
			logger.Log().Error("gRPC health server stopped", zap.Error(err))
		}
	}()
	return s, hs, nil
}
