package cmd

import (
	"CDEvalServer/config"
	"CDEvalServer/dataset"
	iface "CDEvalServer/interface"
	"CDEvalServer/logger"
	"CDEvalServer/monitor"
	"CDEvalServer/writer"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cfgFile string

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cdeval",
		Short:         "Evaluate change-detection models on paired image datasets",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	root.AddCommand(newEvalCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newScalarsCmd())
	return root
}

// setup 读取配置并初始化日志
func setup() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Log.Mode); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

// scalarWriter fans scalars out to the log, the prometheus gauges and, when
// configured, the SQLite store. The returned func closes the store.
func scalarWriter(cfg *config.Config) (iface.Writer, func(), error) {
	w := writer.Multi{writer.NewLog(logger.Named("scalars")), monitor.ScalarWriter{}}
	if cfg.Writer.SqlitePath == "" {
		return w, func() {}, nil
	}
	store, err := writer.OpenSQLite(cfg.Writer.SqlitePath)
	if err != nil {
		return nil, nil, err
	}
	return append(w, store), func() { _ = store.Close() }, nil
}

func openDataset(cfg *config.Config) (*dataset.Dir, error) {
	d, err := dataset.NewDir(cfg.Data.Root, cfg.Data.BatchSize, cfg.Data.Workers)
	if err != nil {
		return nil, err
	}
	names := d.Names()
	logger.Named("dataset").Info("dataset opened",
		zap.String("root", d.Root),
		zap.Int("samples", len(names)),
		zap.Int("batches", d.Len()))
	logger.Named("dataset").Debug("dataset samples", zap.Strings("names", names))
	return d, nil
}
