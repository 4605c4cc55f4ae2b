package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/placeresolve/internal/resilience"
	"github.com/sells-group/placeresolve/internal/runlog"
	"github.com/sells-group/placeresolve/internal/venue"
)

var venuesCmd = &cobra.Command{
	Use:   "venues",
	Short: "Link restaurant groups and chefs to the places they run",
}

// -- venues match --

var venuesMatchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match an actor's venue mentions to serving places",
	Long: "Reads mentions from a JSON file or extracts them from the actor's pages, drops navigation noise and " +
		"matches the rest by URL slug and then by name. With --apply matches are stored as PENDING candidates.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		actorID, _ := cmd.Flags().GetString("actor-id")
		actorName, _ := cmd.Flags().GetString("actor-name")
		website, _ := cmd.Flags().GetString("website")
		mentionsPath, _ := cmd.Flags().GetString("mentions")
		pages, _ := cmd.Flags().GetStringSlice("page")
		apply, _ := cmd.Flags().GetBool("apply")
		format, _ := cmd.Flags().GetString("format")

		actor := venue.Actor{ID: actorID, Name: actorName, Website: website}

		env, err := initEnv(ctx, "venues")
		if err != nil {
			return err
		}
		defer env.Close()

		var mentions []venue.Mention
		if mentionsPath != "" {
			mentions, err = loadMentions(mentionsPath)
		} else {
			if len(pages) == 0 && website != "" {
				pages = []string{website}
			}
			if len(pages) == 0 {
				return eris.New("one of --mentions, --page or --website is required")
			}
			fetcher := venue.NewFetcher(&http.Client{Timeout: cfg.Venue.FetchTimeout},
				resilience.NewGuard("venue_fetch", cfg.Venue.Fetch))
			mentions, err = fetchMentions(ctx, fetcher, pages)
		}
		if err != nil {
			return err
		}

		runner := venue.NewRunner(venue.NewMatcher(env.Serving, cfg.Venue.Policy), env.Venues, env.Metrics)

		report, run, err := runlog.Record(ctx, env.Runs, env.Metrics, "venues", runlog.Mode(apply), "actor="+actorID,
			func(ctx context.Context) (*venue.Report, error) {
				return runner.Run(ctx, actor, mentions, apply)
			})
		if run != nil {
			zap.L().Info("venues run recorded", zap.String("run_id", run.ID))
		}
		if report != nil {
			if werr := writeReport(os.Stdout, format, report, func(w *tabwriter.Writer) { formatVenueReport(w, report) }); werr != nil {
				return werr
			}
		}
		return err
	},
}

// -- venues list --

var venuesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List candidate associations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		actorID, _ := cmd.Flags().GetString("actor-id")
		rawStatus, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("format")

		var status venue.Status
		if rawStatus != "" {
			st, err := venue.ParseStatus(strings.ToUpper(rawStatus))
			if err != nil {
				return err
			}
			status = st
		}

		env, err := initEnv(ctx, "venues")
		if err != nil {
			return err
		}
		defer env.Close()

		cands, err := env.Venues.ListCandidates(ctx, venue.ListFilter{ActorID: actorID, Status: status, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "venues list")
		}
		if len(cands) == 0 && format == formatTable {
			fmt.Fprintln(os.Stderr, "No candidates found.")
			return nil
		}
		return writeReport(os.Stdout, format, cands, func(w *tabwriter.Writer) { formatCandidates(w, cands) })
	},
}

// -- venues review --

var venuesReviewCmd = &cobra.Command{
	Use:   "review <candidate-id> <APPROVED|REJECTED>",
	Short: "Approve or reject a candidate association",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Errorf("invalid candidate id %q", args[0])
		}
		status, err := venue.ParseStatus(strings.ToUpper(args[1]))
		if err != nil {
			return err
		}
		if status == venue.StatusPending {
			return eris.New("review status must be APPROVED or REJECTED")
		}

		env, err := initEnv(ctx, "venues")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Venues.SetStatus(ctx, id, status); err != nil {
			return eris.Wrap(err, "venues review")
		}
		zap.L().Info("venue candidate reviewed", zap.Int64("candidate_id", id), zap.String("status", string(status)))
		return nil
	},
}

func init() {
	venuesMatchCmd.Flags().String("actor-id", "", "stable actor id (e.g. group:gjelina-group)")
	venuesMatchCmd.Flags().String("actor-name", "", "actor display name")
	venuesMatchCmd.Flags().String("website", "", "actor website; fetched when no --page or --mentions is given")
	venuesMatchCmd.Flags().String("mentions", "", "JSON file with an array of {name, url, address} mentions")
	venuesMatchCmd.Flags().StringSlice("page", nil, "pages to fetch and extract mentions from")
	venuesMatchCmd.Flags().Bool("apply", false, "store matches as PENDING candidates")
	venuesMatchCmd.Flags().String("format", formatTable, "output format: table, json or yaml")
	_ = venuesMatchCmd.MarkFlagRequired("actor-id")

	venuesListCmd.Flags().String("actor-id", "", "filter by actor id")
	venuesListCmd.Flags().String("status", "", "filter by status (PENDING, APPROVED, REJECTED)")
	venuesListCmd.Flags().Int("limit", 100, "max number of candidates")
	venuesListCmd.Flags().String("format", formatTable, "output format: table, json or yaml")

	venuesCmd.AddCommand(venuesMatchCmd)
	venuesCmd.AddCommand(venuesListCmd)
	venuesCmd.AddCommand(venuesReviewCmd)
	rootCmd.AddCommand(venuesCmd)
}

func loadMentions(path string) ([]venue.Mention, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied input path
	if err != nil {
		return nil, eris.Wrapf(err, "open mentions %s", path)
	}
	defer f.Close() //nolint:errcheck
	return decodeMentions(f)
}

func decodeMentions(r io.Reader) ([]venue.Mention, error) {
	var mentions []venue.Mention
	if err := json.NewDecoder(r).Decode(&mentions); err != nil {
		return nil, eris.Wrap(err, "decode mentions")
	}
	return mentions, nil
}

// mentionFetcher is satisfied by *venue.Fetcher.
type mentionFetcher interface {
	Fetch(ctx context.Context, pageURL string) ([]venue.Mention, error)
}

// fetchMentions extracts mentions from every page. A page that fails is
// logged and skipped; the run fails only when no page could be read.
func fetchMentions(ctx context.Context, f mentionFetcher, pages []string) ([]venue.Mention, error) {
	var (
		out     []venue.Mention
		lastErr error
		okPages int
	)
	for _, p := range pages {
		ms, err := f.Fetch(ctx, p)
		if err != nil {
			lastErr = err
			zap.L().Warn("venue page fetch failed", zap.String("page", p), zap.Error(err))
			continue
		}
		okPages++
		out = append(out, ms...)
	}
	if okPages == 0 && lastErr != nil {
		return nil, eris.Wrap(lastErr, "fetch venue pages")
	}
	return out, nil
}

func formatVenueReport(w *tabwriter.Writer, r *venue.Report) {
	_, _ = fmt.Fprintf(w, "Actor:\t%s (%s)\n", r.Actor.ID, runlog.Mode(r.Apply))
	_, _ = fmt.Fprintf(w, "Mentions:\t%d\n", r.Total)
	_, _ = fmt.Fprintf(w, "  Matched:\t%d\n", r.Matched)
	_, _ = fmt.Fprintf(w, "  Noise:\t%d\n", r.Noise)
	_, _ = fmt.Fprintf(w, "  Inconclusive:\t%d\n", r.Inconclusive)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", r.Failed)
	if r.Apply {
		_, _ = fmt.Fprintf(w, "Candidates:\t%d inserted, %d updated, %d already reviewed\n", r.Inserted, r.Updated, r.Reviewed)
	}

	var matched []venue.Result
	for _, res := range r.Results {
		if res.Outcome == venue.OutcomeMatched {
			matched = append(matched, res)
		}
	}
	if len(matched) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w)
	row(w, "MENTION", "PLACE", "CONFIDENCE", "BUCKET", "REASON")
	for _, res := range matched {
		row(w, truncate(res.Mention.Name, 30), res.PlaceSlug, fmt.Sprintf("%.2f", res.Confidence), res.Bucket, res.Reason)
	}
}

func formatCandidates(w *tabwriter.Writer, cands []venue.CandidateAssociation) {
	row(w, "ID", "ACTOR", "MENTION", "PLACE", "CONFIDENCE", "BUCKET", "STATUS")
	for _, c := range cands {
		row(w, c.ID, c.ActorID, truncate(c.MentionName, 30), c.PlaceID, fmt.Sprintf("%.2f", c.Confidence), c.Bucket, c.Status)
	}
}
