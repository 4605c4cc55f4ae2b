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

	"github.com/sells-group/placeresolve/internal/dedupe"
	"github.com/sells-group/placeresolve/internal/runlog"
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Detect and merge duplicate serving places",
	Long: "Scores place pairs that share a name token or external id, groups duplicates and picks a keeper per group. " +
		"With --execute each loser is merged into its keeper in its own transaction.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		execute, _ := cmd.Flags().GetBool("execute")
		force, _ := cmd.Flags().GetBool("force")
		slugs, _ := cmd.Flags().GetStringSlice("slug")
		format, _ := cmd.Flags().GetString("format")

		env, err := initEnv(ctx, "dedupe")
		if err != nil {
			return err
		}
		defer env.Close()

		detector := dedupe.NewDetector(env.Serving, cfg.Dedupe.Policy,
			dedupe.WithPageSize(cfg.Dedupe.PageSize),
			dedupe.WithMaxBlockSize(cfg.Dedupe.MaxBlockSize),
		)
		merger := dedupe.NewMerger(detector, env.Serving, env.Metrics)
		opts := dedupe.Options{Execute: execute, Force: force, Slugs: slugs}

		scope := ""
		if len(slugs) > 0 {
			scope = "slugs=" + strings.Join(slugs, ",")
		}

		report, run, err := runlog.Record(ctx, env.Runs, env.Metrics, "dedupe", runlog.Mode(execute), scope,
			func(ctx context.Context) (*dedupe.Report, error) {
				return merger.Run(ctx, opts)
			})
		if run != nil {
			zap.L().Info("dedupe run recorded", zap.String("run_id", run.ID))
		}
		if report != nil {
			if werr := writeReport(os.Stdout, format, report, func(w *tabwriter.Writer) { formatDedupeReport(w, report) }); werr != nil {
				return werr
			}
		}
		return err
	},
}

func init() {
	dedupeCmd.Flags().Bool("execute", false, "perform merges (default: report only)")
	dedupeCmd.Flags().Bool("force", false, "merge losers referenced by published collections")
	dedupeCmd.Flags().StringSlice("slug", nil, "restrict to groups containing these slugs")
	dedupeCmd.Flags().String("format", formatTable, "output format: table, json or yaml")
	rootCmd.AddCommand(dedupeCmd)
}

func formatDedupeReport(w *tabwriter.Writer, r *dedupe.Report) {
	_, _ = fmt.Fprintf(w, "Groups:\t%d\n", len(r.Groups))
	if r.Execute {
		_, _ = fmt.Fprintf(w, "Merged:\t%d\n", r.Merged)
		_, _ = fmt.Fprintf(w, "Skipped:\t%d\n", r.Skipped)
		_, _ = fmt.Fprintf(w, "Failed:\t%d\n", r.Failed)
	}
	if len(r.Merges) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w)
	row(w, "KEEPER", "LOSER", "SLUG", "RESULT", "MOVED", "DROPPED", "REASON")
	for _, m := range r.Merges {
		row(w, m.KeeperID, m.LoserID, m.LoserSlug, m.Result,
			fmt.Sprintf("%dc/%db/%dv", m.MovedCollections, m.MovedBookmarks, m.MovedCandidates),
			fmt.Sprintf("%dc/%db", m.DroppedCollections, m.DroppedBookmarks),
			truncate(m.Reason, 50))
	}
}
