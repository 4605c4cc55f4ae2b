package dedupe

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/placeresolve/internal/metrics"
	"github.com/sells-group/placeresolve/internal/serving"
)

// Merge results.
const (
	ResultMerged  = "merged"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
	ResultPlanned = "planned"
)

// Options control a dedupe run.
type Options struct {
	// Execute performs merges. Without it the run only reports groups.
	Execute bool

	// Force merges losers that are listed in published collections.
	Force bool

	// Slugs restricts the run to groups containing one of these slugs.
	Slugs []string
}

// MergeResult is the outcome of folding one loser into its keeper.
type MergeResult struct {
	KeeperID           int64  `json:"keeper_id" yaml:"keeper_id"`
	LoserID            int64  `json:"loser_id" yaml:"loser_id"`
	LoserSlug          string `json:"loser_slug" yaml:"loser_slug"`
	Result             string `json:"result" yaml:"result"`
	MovedCollections   int    `json:"moved_collections" yaml:"moved_collections"`
	DroppedCollections int    `json:"dropped_collections" yaml:"dropped_collections"`
	MovedBookmarks     int    `json:"moved_bookmarks" yaml:"moved_bookmarks"`
	DroppedBookmarks   int    `json:"dropped_bookmarks" yaml:"dropped_bookmarks"`
	MovedCandidates    int64  `json:"moved_candidates" yaml:"moved_candidates"`
	DeletedProvenance  int64  `json:"deleted_provenance" yaml:"deleted_provenance"`
	ArchivedGolden     string `json:"archived_golden,omitempty" yaml:"archived_golden,omitempty"`
	Reason             string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Report summarizes a dedupe run.
type Report struct {
	Execute bool          `json:"execute" yaml:"execute"`
	Groups  []Group       `json:"groups" yaml:"groups"`
	Merges  []MergeResult `json:"merges" yaml:"merges"`
	Merged  int           `json:"merged" yaml:"merged"`
	Skipped int           `json:"skipped" yaml:"skipped"`
	Failed  int           `json:"failed" yaml:"failed"`
}

func (r *Report) add(m MergeResult) {
	switch m.Result {
	case ResultMerged:
		r.Merged++
	case ResultSkipped:
		r.Skipped++
	case ResultFailed:
		r.Failed++
	}
	r.Merges = append(r.Merges, m)
}

// Merger folds duplicate places into their keepers.
type Merger struct {
	detector *Detector
	store    serving.Store
	metrics  *metrics.Metrics
}

// NewMerger creates a Merger.
func NewMerger(detector *Detector, store serving.Store, m *metrics.Metrics) *Merger {
	return &Merger{detector: detector, store: store, metrics: m}
}

// Run detects duplicate groups and, when opts.Execute is set, merges every
// loser into its keeper. Each loser is merged in its own transaction; a
// failure rolls back that loser only.
func (m *Merger) Run(ctx context.Context, opts Options) (*Report, error) {
	log := zap.L().With(zap.String("phase", "dedupe"), zap.Bool("execute", opts.Execute))

	groups, err := m.detector.Detect(ctx, opts.Slugs)
	if err != nil {
		return nil, err
	}
	m.metrics.SetDuplicateGroups(len(groups))

	report := &Report{Execute: opts.Execute, Groups: groups}
	for _, g := range groups {
		for _, loser := range g.Losers {
			if ctx.Err() != nil {
				return report, eris.Wrap(ctx.Err(), "dedupe: cancelled")
			}
			res := MergeResult{KeeperID: g.Keeper.ID, LoserID: loser.ID, LoserSlug: loser.Slug}
			switch {
			case !opts.Execute:
				res.Result = ResultPlanned
				if loser.PublishedCollections > 0 && !opts.Force {
					res.Reason = serving.ErrPublishedReference.Error()
				}
			default:
				res = m.MergePair(ctx, g.Keeper.ID, loser, opts.Force)
				m.metrics.RecordMerge(res.Result)
			}
			if res.Result == ResultFailed {
				log.Warn("merge failed", zap.Int64("keeper", res.KeeperID), zap.Int64("loser", res.LoserID), zap.String("reason", res.Reason))
			}
			report.add(res)
		}
	}

	log.Info("dedupe complete",
		zap.Int("groups", len(groups)),
		zap.Int("merged", report.Merged),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// MergePair folds loser into keeper in one transaction: collection
// memberships and bookmarks move to the keeper (dropped where the keeper
// already holds them), venue candidates move, the loser's golden record is
// archived into the keeper's, loser provenance is deleted, then the loser
// row.
func (m *Merger) MergePair(ctx context.Context, keeperID int64, loser Member, force bool) MergeResult {
	res := MergeResult{KeeperID: keeperID, LoserID: loser.ID, LoserSlug: loser.Slug}

	err := m.store.Merge(ctx, func(tx serving.MergeTx) error {
		res.MovedCollections, res.DroppedCollections, res.MovedBookmarks, res.DroppedBookmarks = 0, 0, 0, 0
		res.MovedCandidates, res.ArchivedGolden = 0, ""

		loserColls, err := tx.CollectionRefs(ctx, loser.ID)
		if err != nil {
			return err
		}
		if !force {
			for _, c := range loserColls {
				if c.Published {
					return eris.Wrapf(serving.ErrPublishedReference, "collection %d", c.CollectionID)
				}
			}
		}
		keeperColls, err := tx.CollectionRefs(ctx, keeperID)
		if err != nil {
			return err
		}
		held := make(map[int64]bool, len(keeperColls))
		for _, c := range keeperColls {
			held[c.CollectionID] = true
		}
		for _, c := range loserColls {
			if held[c.CollectionID] {
				if err := tx.DeleteCollectionRef(ctx, c.CollectionID, loser.ID); err != nil {
					return err
				}
				res.DroppedCollections++
				continue
			}
			if err := tx.MoveCollectionRef(ctx, c.CollectionID, loser.ID, keeperID); err != nil {
				return err
			}
			res.MovedCollections++
		}

		loserUsers, err := tx.BookmarkUsers(ctx, loser.ID)
		if err != nil {
			return err
		}
		keeperUsers, err := tx.BookmarkUsers(ctx, keeperID)
		if err != nil {
			return err
		}
		bookmarked := make(map[string]bool, len(keeperUsers))
		for _, u := range keeperUsers {
			bookmarked[u] = true
		}
		for _, u := range loserUsers {
			if bookmarked[u] {
				if err := tx.DeleteBookmark(ctx, u, loser.ID); err != nil {
					return err
				}
				res.DroppedBookmarks++
				continue
			}
			if err := tx.MoveBookmark(ctx, u, loser.ID, keeperID); err != nil {
				return err
			}
			res.MovedBookmarks++
		}

		res.MovedCandidates, err = tx.MoveCandidateAssociations(ctx, loser.ID, keeperID)
		if err != nil {
			return err
		}
		res.ArchivedGolden, err = tx.ArchiveGolden(ctx, loser.ID, keeperID)
		if err != nil {
			return err
		}

		n, err := tx.DeleteProvenance(ctx, loser.ID)
		if err != nil {
			return err
		}
		res.DeletedProvenance = n
		return tx.DeletePlace(ctx, loser.ID)
	})

	switch {
	case err == nil:
		res.Result = ResultMerged
		zap.L().Info("merged duplicate place",
			zap.Int64("keeper", keeperID),
			zap.Int64("loser", loser.ID),
			zap.Int("moved_collections", res.MovedCollections),
			zap.Int("moved_bookmarks", res.MovedBookmarks),
			zap.String("archived_golden", res.ArchivedGolden),
		)
	case eris.Is(err, serving.ErrPublishedReference):
		res = MergeResult{KeeperID: keeperID, LoserID: loser.ID, LoserSlug: loser.Slug, Result: ResultSkipped, Reason: err.Error()}
	default:
		res = MergeResult{KeeperID: keeperID, LoserID: loser.ID, LoserSlug: loser.Slug, Result: ResultFailed, Reason: err.Error()}
	}
	return res
}
