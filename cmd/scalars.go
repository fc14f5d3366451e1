package cmd

import (
	"CDEvalServer/engine"
	"CDEvalServer/writer"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var flagTag string

func newScalarsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scalars",
		Short: "List scalars recorded in the SQLite store",
		RunE:  runScalars,
	}
	cmd.Flags().StringVar(&flagTag, "tag", engine.LossTag, "scalar tag")
	return cmd
}

func runScalars(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	if cfg.Writer.SqlitePath == "" {
		return errors.New("writer.sqlitePath is not configured")
	}
	store, err := writer.OpenSQLite(cfg.Writer.SqlitePath)
	if err != nil {
		return err
	}
	defer store.Close()

	rows, err := store.Scalars(flagTag)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tVALUE\tRUN\tTIME")
	for _, s := range rows {
		fmt.Fprintf(tw, "%d\t%.6f\t%s\t%s\n", s.Step, s.Value, s.RunID, s.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
