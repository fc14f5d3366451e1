package server

import (
	"CDEvalServer/config"
	"CDEvalServer/logger"
	"CDEvalServer/monitor"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Serve runs the HTTP API, the health server, the process monitor and the
// evaluation worker until ctx is done, then shuts them down.
func Serve(ctx context.Context, cfg *config.Config, r *Runner) error {
	log := logger.Named("server")
	if cfg.Log.Mode != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	rpc, hs, err := StartHealthServer(cfg.Server.RPCPort)
	if err != nil {
		return err
	}
	defer rpc.GracefulStop()

	go monitor.StartMon(ctx)
	go r.Run(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: NewRouter(r),
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Error("HTTP server shutdown", zap.Error(shutdownErr))
	}
	log.Info("server stopped")
	return err
}
