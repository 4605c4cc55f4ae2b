package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/placeresolve/internal/golden"
	"github.com/sells-group/placeresolve/internal/project"
	"github.com/sells-group/placeresolve/internal/resilience"
	"github.com/sells-group/placeresolve/internal/runlog"
	"github.com/sells-group/placeresolve/pkg/google"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Project golden records into the serving places table",
	Long: "Inserts or updates one serving place per golden record, keyed by external place id and then slug. " +
		"With --enrich, photos, hours and phone come from the Places API. Without --apply nothing is written.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		apply, _ := cmd.Flags().GetBool("apply")
		enrich, _ := cmd.Flags().GetBool("enrich")
		slugs, _ := cmd.Flags().GetStringSlice("slug")
		batchID, _ := cmd.Flags().GetString("batch-id")
		rawStatuses, _ := cmd.Flags().GetStringSlice("status")
		includePending, _ := cmd.Flags().GetBool("include-pending")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		format, _ := cmd.Flags().GetString("format")

		statuses, err := parseGoldenStatuses(rawStatuses)
		if err != nil {
			return err
		}
		if concurrency > 0 {
			cfg.Project.Concurrency = concurrency
		}
		if enrich {
			if err := cfg.Validate("enrich"); err != nil {
				return err
			}
		}

		env, err := initEnv(ctx, "project")
		if err != nil {
			return err
		}
		defer env.Close()

		var enricher project.Enricher
		if enrich {
			client := google.NewClient(cfg.Google.Key, google.WithBaseURL(cfg.Google.BaseURL))
			guard := resilience.NewGuard("google_places", cfg.Google.Resilience)
			enricher = project.NewGoogleEnricher(client, guard, cfg.Project.CacheTTL, env.Metrics)
		}

		projector := project.New(env.Golden, env.Serving, enricher, env.Metrics)
		opts := project.Options{
			Apply:          apply,
			Slugs:          slugs,
			BatchID:        batchID,
			Enrich:         enrich,
			Statuses:       statuses,
			IncludePending: includePending,
			PageSize:       cfg.Project.PageSize,
			Concurrency:    cfg.Project.Concurrency,
		}

		report, run, err := runlog.Record(ctx, env.Runs, env.Metrics, "project", runlog.Mode(apply), projectScope(opts),
			func(ctx context.Context) (*project.Report, error) {
				return projector.Run(ctx, opts)
			})
		if run != nil {
			zap.L().Info("project run recorded", zap.String("run_id", run.ID))
		}
		if report != nil {
			if werr := writeReport(os.Stdout, format, report, func(w *tabwriter.Writer) { formatProjectReport(w, report) }); werr != nil {
				return werr
			}
		}
		return err
	},
}

func init() {
	projectCmd.Flags().Bool("apply", false, "write serving places")
	projectCmd.Flags().Bool("enrich", false, "fetch photos, hours and phone from the Places API")
	projectCmd.Flags().StringSlice("slug", nil, "restrict to these golden slugs")
	projectCmd.Flags().String("batch-id", "", "restrict to golden records linked from this batch")
	projectCmd.Flags().StringSlice("status", nil, "golden statuses to project (default VERIFIED,PUBLISHED)")
	projectCmd.Flags().Bool("include-pending", false, "also project PENDING golden records")
	projectCmd.Flags().Int("concurrency", 0, "enrichment lookups in flight (default from config)")
	projectCmd.Flags().String("format", formatTable, "output format: table, json or yaml")
	rootCmd.AddCommand(projectCmd)
}

func parseGoldenStatuses(raw []string) ([]golden.Status, error) {
	var out []golden.Status
	for _, s := range raw {
		st, err := golden.ParseStatus(strings.ToUpper(strings.TrimSpace(s)))
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func projectScope(opts project.Options) string {
	var parts []string
	if len(opts.Slugs) > 0 {
		parts = append(parts, "slugs="+strings.Join(opts.Slugs, ","))
	}
	if opts.BatchID != "" {
		parts = append(parts, "batch="+opts.BatchID)
	}
	if opts.Enrich {
		parts = append(parts, "enrich")
	}
	return strings.Join(parts, " ")
}

func formatProjectReport(w *tabwriter.Writer, r *project.Report) {
	_, _ = fmt.Fprintf(w, "Mode:\t%s\n", runlog.Mode(r.Apply))
	_, _ = fmt.Fprintf(w, "Total:\t%d\n", r.Total)
	_, _ = fmt.Fprintf(w, "  Inserted:\t%d\n", r.Inserted)
	_, _ = fmt.Fprintf(w, "  Updated:\t%d\n", r.Updated)
	_, _ = fmt.Fprintf(w, "  Converted:\t%d\n", r.Converted)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", r.Failed)
	_, _ = fmt.Fprintf(w, "Enriched:\t%d\n", r.Enriched)
	_, _ = fmt.Fprintf(w, "Enrichment failures:\t%d\n", r.EnrichFailed)

	var notable []project.RecordResult
	for _, rec := range r.Records {
		if rec.Action == project.ActionFailed || rec.EnrichError != "" {
			notable = append(notable, rec)
		}
	}
	if len(notable) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w)
	row(w, "GOLDEN", "SLUG", "ACTION", "ERROR")
	for _, rec := range notable {
		msg := rec.Error
		if msg == "" {
			msg = "enrichment: " + rec.EnrichError
		}
		row(w, truncateID(rec.GoldenID), rec.Slug, rec.Action, truncate(msg, 60))
	}
}
