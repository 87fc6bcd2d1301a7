package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"addrclean/internal/config"
	"addrclean/internal/normalizer"
	"addrclean/internal/pipeline"
	"addrclean/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	rootCmd := &cobra.Command{
		Use:           "addrclean",
		Short:         "Normalize respondent names and addresses in spreadsheets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		newCleanCmd(&cfg),
		newHeadersCmd(),
		newRunsCmd(&cfg),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCleanCmd(cfg *config.Config) *cobra.Command {
	var input, mapping, output string

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Normalize the mapped respondent columns of a sheet into a cleaned .xlsx",
		Long: `Reads the input sheet, extracts each respondent's name and address columns
as listed in the mapping file, normalizes them through Gemini in batches and writes
"<input> - Cleaned.xlsx".

Authentication uses GEMINI_API_KEY when set, otherwise Application Default Credentials.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(input) == "" || strings.TrimSpace(mapping) == "" {
				return errors.New("--input and --mapping are required")
			}
			if err := cfg.Require("GEMINI_MODEL", cfg.GeminiModel); err != nil {
				return err
			}

			logger, err := newLogger(*cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			client, err := normalizer.NewClient(cmd.Context(), *cfg, logger)
			if err != nil {
				return err
			}

			db, err := storage.Open(cfg.DBPath)
			if err != nil {
				logger.Warn("run audit disabled", zap.String("db", cfg.DBPath), zap.Error(err))
				db = nil
			} else {
				defer db.Close()
			}

			svc := pipeline.NewProcessingService(db, *cfg, client, logger)
			res, err := svc.Clean(cmd.Context(), input, mapping, output)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s %s: %d/%d records normalized in %d batches, written to %s\n",
				res.RunID, res.Status, res.Stats.RecordsNormalized, res.Stats.RecordsExtracted, res.Stats.Batches, res.OutputPath)
			for slot := 0; slot < res.Stats.Slots; slot++ {
				if skipped := res.Stats.RowsSkipped[slot]; skipped > 0 {
					fmt.Fprintf(out, "  respondent %d: %d rows without a usable name\n", slot+1, skipped)
				}
			}
			if len(res.Failures) > 0 {
				fmt.Fprintf(out, "%d batches failed:\n", len(res.Failures))
				for _, f := range res.Failures {
					fmt.Fprintf(out, "  %s\n", f)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "input sheet (.xlsx, .csv, .html, .xls exported as html, .eml)")
	cmd.Flags().StringVar(&mapping, "mapping", "", "respondent column mapping (.yaml or .json)")
	cmd.Flags().StringVar(&output, "output", "", "output .xlsx path (default \"<input> - Cleaned.xlsx\")")
	cmd.Flags().IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent normalization calls")
	cmd.Flags().IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "records per normalization call")
	cmd.Flags().BoolVar(&cfg.Debug, "debug", cfg.Debug, "log prompts and responses")

	return cmd
}

func newHeadersCmd() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "headers",
		Short: "List the column headers of a sheet for writing a mapping file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(input) == "" {
				return errors.New("--input is required")
			}
			ds, err := pipeline.LoadDataset(input)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tCOLUMN")
			for i, col := range ds.Columns {
				fmt.Fprintf(w, "%d\t%s\n", i+1, col)
			}
			fmt.Fprintf(w, "\n%d data rows\n", len(ds.Rows))
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "input sheet")
	return cmd
}

func newRunsCmd(cfg *config.Config) *cobra.Command {
	var limit int
	var failuresOf string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List audited runs, or the failed batches of one run",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := storage.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			if id := strings.TrimSpace(failuresOf); id != "" {
				return writeRunFailures(cmd.OutOrStdout(), db, id)
			}

			runs, err := db.ListRuns(limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSTARTED\tSTATUS\tNORMALIZED\tFAILED BATCHES\tINPUT")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
					r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Status,
					r.Counts["normalized"], r.Counts["extracted"], r.Counts["failedBatches"], r.InputPath)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list")
	cmd.Flags().StringVar(&failuresOf, "failures", "", "run id whose failed batches to list")
	return cmd
}

// writeRunFailures prints the run's summary line followed by its failed batches.
func writeRunFailures(out io.Writer, db *storage.DB, runID string) error {
	run, err := db.GetRun(runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}
	failures, err := db.ListBatchFailures(runID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "run %s %s started %s: %d/%d records normalized, %d failed batches, input %s\n\n",
		run.ID, run.Status, run.StartedAt.Local().Format("2006-01-02 15:04:05"),
		run.Counts["normalized"], run.Counts["extracted"], run.Counts["failedBatches"], run.InputPath)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RESPONDENT\tBATCH\tROWS\tRECORDS\tKIND\tMESSAGE")
	for _, f := range failures {
		fmt.Fprintf(w, "%d\t%d\t%d-%d\t%d\t%s\t%s\n",
			f.Slot+1, f.BatchIndex+1, f.FirstRowID+1, f.LastRowID+1, f.Records, f.Kind, f.Message)
	}
	return w.Flush()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Debug {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
