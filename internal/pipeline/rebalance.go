package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/bubbles/internal/cluster"
	"github.com/thebtf/bubbles/internal/ledger"
	"github.com/thebtf/bubbles/pkg/models"
	"github.com/thebtf/bubbles/pkg/vectormath"
)

// Rebalance runs the split pass and then the merge pass over a post's
// active bubbles. Each pass is gated by its optional threshold; with both
// thresholds unset this is a no-op. Every split or merge commits its own
// changeset, so a failure leaves all earlier rebalances intact.
func (p *Pipeline) Rebalance(ctx context.Context, l *ledger.Ledger) error {
	cfg := p.Config()
	if cfg.SplitThreshold != nil {
		if err := p.splitPass(ctx, l, *cfg.SplitThreshold); err != nil {
			return err
		}
	}
	if cfg.MergeThreshold != nil {
		if err := p.mergePass(ctx, l, *cfg.MergeThreshold); err != nil {
			return err
		}
	}
	return nil
}

// splitPass splits every active bubble whose members have drifted too far
// from their centroid into two new bubbles linked by split_from edges.
func (p *Pipeline) splitPass(ctx context.Context, l *ledger.Ledger, threshold float64) error {
	for _, b := range l.ActiveBubbles() {
		v, ok := l.LatestVersion(b.ID)
		if !ok {
			continue
		}
		members := p.clusterMembers(l, v.CommentIDs)
		if !cluster.ShouldSplit(members, v.CentroidEmbedding.Vector, threshold) {
			continue
		}
		first, second := cluster.TwoWaySplit(members)
		if len(first) == 0 || len(second) == 0 {
			continue
		}

		now := time.Now().UTC().Format(time.RFC3339)
		cs := ledger.Changeset{DeactivateBubbles: []string{b.ID}}

		// The first child inherits the retiring bubble's lane; the second
		// takes the lowest lane free among the remaining active bubbles.
		lanes := []int{b.Lane, l.NextLane()}
		for i, group := range [][]cluster.Member{first, second} {
			child := models.Bubble{
				ID:        uuid.NewString(),
				PostID:    b.PostID,
				CreatedAt: now,
				IsActive:  true,
				Lane:      lanes[i],
			}
			version := p.buildVersion(l, child.ID, b.PostID, now, memberIDsOf(group))
			p.labelStaged(ctx, l, version, nil)

			cs.NewBubbles = append(cs.NewBubbles, child)
			cs.Versions = append(cs.Versions, *version)
			cs.Edges = append(cs.Edges, models.BubbleEdge{
				ID:            uuid.NewString(),
				PostID:        b.PostID,
				FromVersionID: v.ID,
				ToVersionID:   version.ID,
				Type:          models.EdgeSplitFrom,
				Weight:        vectormath.Cosine(version.CentroidEmbedding.Vector, v.CentroidEmbedding.Vector),
			})
		}

		if err := l.Commit(cs); err != nil {
			return fmt.Errorf("commit split of bubble %s: %w", b.ID, err)
		}
		p.metrics.BubbleCreated(ctx, b.PostID)
		p.metrics.BubbleCreated(ctx, b.PostID)
		log.Info().
			Str("post_id", b.PostID).
			Str("bubble_id", b.ID).
			Int("first", len(first)).
			Int("second", len(second)).
			Msg("Bubble split")
	}
	return nil
}

// mergePass repeatedly folds the closest pair of active bubbles into the
// earlier-created one until no centroid pair clears the merge threshold.
func (p *Pipeline) mergePass(ctx context.Context, l *ledger.Ledger, threshold float64) error {
	for {
		pair, ok := cluster.FindMergePair(p.assignmentCandidates(l), threshold)
		if !ok {
			return nil
		}

		absorberV, okA := l.LatestVersion(pair.AbsorberID)
		absorbedV, okB := l.LatestVersion(pair.AbsorbedID)
		if !okA || !okB {
			return nil
		}

		now := time.Now().UTC().Format(time.RFC3339)
		memberIDs := append(append([]string(nil), absorberV.CommentIDs...), absorbedV.CommentIDs...)

		version := p.buildVersion(l, pair.AbsorberID, absorberV.PostID, now, memberIDs)
		p.labelStaged(ctx, l, version, &absorberV)

		cs := ledger.Changeset{
			Versions:          []models.BubbleVersion{*version},
			DeactivateBubbles: []string{pair.AbsorbedID},
			Edges: []models.BubbleEdge{
				{
					ID:            uuid.NewString(),
					PostID:        absorberV.PostID,
					FromVersionID: absorberV.ID,
					ToVersionID:   version.ID,
					Type:          models.EdgeMergeFrom,
					Weight:        pair.Similarity,
				},
				{
					ID:            uuid.NewString(),
					PostID:        absorberV.PostID,
					FromVersionID: absorbedV.ID,
					ToVersionID:   version.ID,
					Type:          models.EdgeMergeFrom,
					Weight:        pair.Similarity,
				},
			},
		}

		if err := l.Commit(cs); err != nil {
			return fmt.Errorf("commit merge of bubble %s into %s: %w", pair.AbsorbedID, pair.AbsorberID, err)
		}
		log.Info().
			Str("post_id", absorberV.PostID).
			Str("absorber_id", pair.AbsorberID).
			Str("absorbed_id", pair.AbsorbedID).
			Float64("similarity", pair.Similarity).
			Msg("Bubbles merged")
	}
}

// buildVersion assembles a staged version for the given members: ingest
// order, mean centroid, content-derived centroid hash, and the covering
// time window. Labels are filled in by labelStaged.
func (p *Pipeline) buildVersion(l *ledger.Ledger, bubbleID, postID, now string, memberIDs []string) *models.BubbleVersion {
	members := p.memberComments(l, memberIDs, nil)

	ids := make([]string, len(members))
	hashes := make([]string, len(members))
	vectors := make([][]float64, len(members))
	window := models.TimeWindow{}
	for i, m := range members {
		ids[i] = m.ID
		hashes[i] = m.Embedding.Hash
		vectors[i] = m.Embedding.Vector
		if window.StartAt == "" || m.CreatedAt < window.StartAt {
			window.StartAt = m.CreatedAt
		}
		if m.CreatedAt > window.EndAt {
			window.EndAt = m.CreatedAt
		}
	}

	dim := p.embedder.Dim()
	return &models.BubbleVersion{
		ID:         uuid.NewString(),
		BubbleID:   bubbleID,
		PostID:     postID,
		CreatedAt:  now,
		Window:     window,
		CommentIDs: ids,
		CentroidEmbedding: models.Embedding{
			Vector: vectormath.Mean(vectors, dim),
			Dim:    dim,
			Model:  p.embedder.ModelName(),
			Hash:   models.CentroidHash(hashes),
		},
	}
}

// labelStaged labels a staged split or merge version in place.
func (p *Pipeline) labelStaged(ctx context.Context, l *ledger.Ledger, version *models.BubbleVersion, prev *models.BubbleVersion) {
	members := p.memberComments(l, version.CommentIDs, nil)
	outcome := p.coord.LabelVersion(ctx, members, prev)
	version.Label = outcome.Label
	version.Essence = outcome.Essence
	version.Confidence = outcome.Confidence
	version.RepresentativeCommentIDs = outcome.RepresentativeIDs
	if outcome.Fallback {
		p.metrics.ProviderFailure(ctx, "label")
	}
}

// clusterMembers resolves member ids to split-detection inputs, preserving
// the version's member order.
func (p *Pipeline) clusterMembers(l *ledger.Ledger, ids []string) []cluster.Member {
	out := make([]cluster.Member, 0, len(ids))
	for _, id := range ids {
		if c, ok := l.Comment(id); ok {
			out = append(out, cluster.Member{ID: c.ID, Vector: c.Embedding.Vector})
		}
	}
	return out
}

func memberIDsOf(members []cluster.Member) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.ID
	}
	return out
}
