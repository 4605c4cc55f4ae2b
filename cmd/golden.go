package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/placeresolve/internal/golden"
)

var goldenCmd = &cobra.Command{
	Use:   "golden",
	Short: "Inspect and curate golden records",
}

// -- golden show --

var goldenShowCmd = &cobra.Command{
	Use:   "show <id-or-slug>",
	Short: "Show a golden record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		format, _ := cmd.Flags().GetString("format")

		env, err := initEnv(ctx, "golden")
		if err != nil {
			return err
		}
		defer env.Close()

		var g *golden.GoldenRecord
		if _, perr := uuid.Parse(args[0]); perr == nil {
			g, err = env.Golden.GetGolden(ctx, args[0])
		} else {
			g, err = env.Golden.GetGoldenBySlug(ctx, args[0])
		}
		if err != nil {
			return eris.Wrap(err, "golden show")
		}
		if g == nil {
			return eris.Errorf("golden record %q not found", args[0])
		}
		return writeReport(os.Stdout, format, g, func(w *tabwriter.Writer) { formatGolden(w, g) })
	},
}

// -- golden status --

var goldenStatusCmd = &cobra.Command{
	Use:   "status <id> <VERIFIED|PUBLISHED|ARCHIVED>",
	Short: "Move a golden record through its lifecycle",
	Long:  "PENDING -> VERIFIED -> PUBLISHED; any active record may be ARCHIVED. ARCHIVED is terminal.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		status, err := golden.ParseStatus(strings.ToUpper(args[1]))
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "golden")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Golden.UpdateStatus(ctx, args[0], status); err != nil {
			return eris.Wrap(err, "golden status")
		}
		zap.L().Info("golden status updated", zap.String("golden_id", args[0]), zap.String("status", string(status)))
		return nil
	},
}

// -- golden ambiguous --

var goldenAmbiguousCmd = &cobra.Command{
	Use:   "ambiguous",
	Short: "List resolution links awaiting manual review",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")
		version, _ := cmd.Flags().GetString("version")
		format, _ := cmd.Flags().GetString("format")

		env, err := initEnv(ctx, "golden")
		if err != nil {
			return err
		}
		defer env.Close()

		if version == "" {
			version = cfg.Resolver.Version
		}
		links, err := env.Golden.ListAmbiguous(ctx, version, limit)
		if err != nil {
			return eris.Wrap(err, "golden ambiguous")
		}
		if len(links) == 0 && format == formatTable {
			fmt.Fprintln(os.Stderr, "No ambiguous links.")
			return nil
		}
		return writeReport(os.Stdout, format, links, func(w *tabwriter.Writer) { formatAmbiguous(w, links) })
	},
}

func init() {
	goldenShowCmd.Flags().String("format", formatTable, "output format: table, json or yaml")

	goldenAmbiguousCmd.Flags().Int("limit", 100, "max number of links")
	goldenAmbiguousCmd.Flags().String("version", "", "resolver version (default from config)")
	goldenAmbiguousCmd.Flags().String("format", formatTable, "output format: table, json or yaml")

	goldenCmd.AddCommand(goldenShowCmd)
	goldenCmd.AddCommand(goldenStatusCmd)
	goldenCmd.AddCommand(goldenAmbiguousCmd)
	rootCmd.AddCommand(goldenCmd)
}

func formatGolden(w *tabwriter.Writer, g *golden.GoldenRecord) {
	_, _ = fmt.Fprintf(w, "ID:\t%s\n", g.ID)
	_, _ = fmt.Fprintf(w, "Slug:\t%s\n", g.Slug)
	_, _ = fmt.Fprintf(w, "Name:\t%s\n", g.Name)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", g.Status)
	_, _ = fmt.Fprintf(w, "Address:\t%s\n", g.Address)
	_, _ = fmt.Fprintf(w, "Neighborhood:\t%s\n", g.Neighborhood)
	_, _ = fmt.Fprintf(w, "Category:\t%s\n", g.Category)
	_, _ = fmt.Fprintf(w, "Website:\t%s\n", g.Website)
	if g.HasCoordinates() {
		_, _ = fmt.Fprintf(w, "Coordinates:\t%.6f, %.6f\n", *g.Latitude, *g.Longitude)
	}
	_, _ = fmt.Fprintf(w, "External ID:\t%s\n", g.ExternalPlaceID)
	_, _ = fmt.Fprintf(w, "Confidence:\t%.2f\n", g.Confidence)
	_, _ = fmt.Fprintf(w, "Created:\t%s\n", g.CreatedAt.Format("2006-01-02 15:04"))
}

func formatAmbiguous(w *tabwriter.Writer, links []golden.AmbiguousLink) {
	row(w, "LINK", "RAW", "BATCH", "SOURCE", "CONFIDENCE", "REASON")
	for _, l := range links {
		row(w, l.ID, l.RawRecordID, l.BatchID, truncate(l.SourceName, 30), fmt.Sprintf("%.2f", l.Confidence), truncate(l.Reason, 60))
	}
}
