package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/placeresolve/internal/golden"
	"github.com/sells-group/placeresolve/internal/ingest"
	"github.com/sells-group/placeresolve/internal/match"
	"github.com/sells-group/placeresolve/internal/resolve"
	"github.com/sells-group/placeresolve/internal/runlog"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <file>",
	Short: "Resolve a CSV, XLSX or JSON batch into golden records",
	Long: "Reads every row of the input file, matches it against active golden records and records a link per row. " +
		"Without --apply the run reports its decisions and writes nothing.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		apply, _ := cmd.Flags().GetBool("apply")
		batchID, _ := cmd.Flags().GetString("batch-id")
		sourceName, _ := cmd.Flags().GetString("source-name")
		sourceType, _ := cmd.Flags().GetString("source-type")
		addedBy, _ := cmd.Flags().GetString("added-by")
		format, _ := cmd.Flags().GetString("format")

		rows, err := ingest.ReadFile(ctx, args[0])
		if err != nil {
			return err
		}
		if sourceName == "" {
			sourceName = filepath.Base(args[0])
		}

		env, err := initEnv(ctx, "resolve")
		if err != nil {
			return err
		}
		defer env.Close()

		resolver := resolve.New(env.Golden, match.NewMatcher(cfg.Resolver.Policy), resolve.WithMetrics(env.Metrics))
		batch := resolve.Batch{
			ID:         batchID,
			SourceName: sourceName,
			SourceType: sourceType,
			AddedBy:    addedBy,
			Rows:       rows,
		}

		report, run, err := runlog.Record(ctx, env.Runs, env.Metrics, "resolve", runlog.Mode(apply), "batch="+batchID,
			func(ctx context.Context) (*resolve.Report, error) {
				return resolver.Run(ctx, batch, resolve.Options{Apply: apply, Version: cfg.Resolver.Version})
			})
		if run != nil {
			zap.L().Info("resolve run recorded", zap.String("run_id", run.ID))
		}
		if report != nil {
			if werr := writeReport(os.Stdout, format, report, func(w *tabwriter.Writer) { formatResolveReport(w, report) }); werr != nil {
				return werr
			}
		}
		return err
	},
}

func init() {
	resolveCmd.Flags().String("batch-id", "", "ingestion batch id (re-running a batch id is idempotent)")
	resolveCmd.Flags().String("source-name", "", "source label recorded on raw records (default: file name)")
	resolveCmd.Flags().String("source-type", golden.SourceSpreadsheet, "source type: spreadsheet, scrape or manual")
	resolveCmd.Flags().String("added-by", "", "operator recorded in provenance")
	resolveCmd.Flags().Bool("apply", false, "write raw records, golden records and links")
	resolveCmd.Flags().String("format", formatTable, "output format: table, json or yaml")
	_ = resolveCmd.MarkFlagRequired("batch-id")
	rootCmd.AddCommand(resolveCmd)
}

func formatResolveReport(w *tabwriter.Writer, r *resolve.Report) {
	mode := runlog.ModeDryRun
	if r.Apply {
		mode = runlog.ModeApply
	}
	_, _ = fmt.Fprintf(w, "Batch:\t%s (%s, resolver %s)\n", r.BatchID, mode, r.ResolverVersion)
	_, _ = fmt.Fprintf(w, "Candidates:\t%d\n", r.Candidates)
	_, _ = fmt.Fprintf(w, "Total:\t%d\n", r.Total)
	_, _ = fmt.Fprintf(w, "  Matched:\t%d\n", r.Matched)
	_, _ = fmt.Fprintf(w, "  Created:\t%d\n", r.Created)
	_, _ = fmt.Fprintf(w, "  Ambiguous:\t%d\n", r.Ambiguous)
	_, _ = fmt.Fprintf(w, "  Invalid:\t%d\n", r.Invalid)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", r.Failed)
	_, _ = fmt.Fprintf(w, "  Skipped:\t%d\n", r.Skipped)

	var notable []resolve.RecordResult
	for _, rec := range r.Records {
		switch rec.Outcome {
		case resolve.OutcomeAmbiguous, resolve.OutcomeInvalid, resolve.OutcomeFailed:
			notable = append(notable, rec)
		}
	}
	if len(notable) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w)
	row(w, "ROW", "NAME", "OUTCOME", "DETAIL")
	for _, rec := range notable {
		detail := rec.Reason
		if rec.Error != "" {
			detail = rec.Error
		}
		row(w, rec.Row, truncate(rec.Name, 30), rec.Outcome, truncate(detail, 60))
	}
}
