package cmd

import (
	adhoc "CDEvalServer/Adhoc"
	"CDEvalServer/logger"
	"CDEvalServer/model"
	"CDEvalServer/server"
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagQueue     int
	flagHeartbeat time.Duration
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve evaluation jobs over HTTP with gRPC health and metrics",
		RunE:  runServe,
	}
	cmd.Flags().IntVar(&flagQueue, "queue", 8, "max queued evaluation jobs")
	cmd.Flags().DurationVar(&flagHeartbeat, "heartbeat", 5*time.Second, "registry heartbeat interval")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("serve")

	m, err := model.New(cfg)
	if err != nil {
		return err
	}
	loader, err := openDataset(cfg)
	if err != nil {
		return err
	}
	w, closeWriter, err := scalarWriter(cfg)
	if err != nil {
		return err
	}
	defer closeWriter()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if cfg.Server.UseRegServer {
		ip, err := adhoc.GetOutboundIP()
		if err != nil {
			return err
		}
		reg := adhoc.RegServerConfig{}
		reg.SetAddress(cfg.Server.RegServerHost, cfg.Server.RegServerPort)
		wg.Add(1)
		go adhoc.SendAliveMessage(ctx, &wg, reg, ip, cfg.Server.HTTPPort, cfg.Model.Device, flagHeartbeat)
	} else {
		log.Info("UseRegServer is set to false, skipping registration")
	}

	r := server.NewRunner(cfg, m, loader, w, flagQueue)
	err = server.Serve(ctx, cfg, r)
	stop()
	wg.Wait()
	log.Info("Safely exited")
	return err
}
