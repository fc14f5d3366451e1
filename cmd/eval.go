package cmd

import (
	"CDEvalServer/engine"
	iface "CDEvalServer/interface"
	"CDEvalServer/logger"
	"CDEvalServer/metric"
	"CDEvalServer/model"
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	flagSaveImages bool
	flagStep       int
	flagLoss       bool
)

func newEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run one evaluation over the configured dataset",
		RunE:  runEval,
	}
	cmd.Flags().BoolVar(&flagSaveImages, "save-images", false, "write per-batch prediction strips to eval.saveImageRoot")
	cmd.Flags().IntVar(&flagStep, "step", 0, "global step the loss scalar is logged at")
	cmd.Flags().BoolVar(&flagLoss, "loss", false, "compute and log the cross-entropy loss")
	return cmd
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if flagSaveImages {
		cfg.Eval.SaveImages = true
	}
	if flagLoss {
		cfg.Eval.WithLoss = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

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

	opts := engine.Options{
		Writer:     w,
		Step:       flagStep,
		SaveImages: cfg.Eval.SaveImages,
	}
	if cfg.Eval.WithLoss {
		opts.Loss = metric.CrossEntropy
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	result, err := engine.Evaluate(ctx, m, loader, cfg, opts)
	if err != nil {
		return err
	}
	printMetrics(cmd.OutOrStdout(), cfg.Eval.Metric, result)
	return nil
}

// printMetrics writes one line per metric in configured order.
func printMetrics(out io.Writer, names []string, result iface.MetricSet) {
	for _, name := range names {
		fmt.Fprintf(out, "%-10s %.4f\n", name, result[name])
	}
}
