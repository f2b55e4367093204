// Package pipeline runs the sequential ingest flow for one comment: embed,
// cluster, stage a new bubble version, label, vote, and commit the whole
// result to the ledger atomically. It also runs the optional split and merge
// passes over a post's active bubbles.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/bubbles/internal/cluster"
	"github.com/thebtf/bubbles/internal/coordinator"
	"github.com/thebtf/bubbles/internal/ledger"
	"github.com/thebtf/bubbles/internal/provider"
	"github.com/thebtf/bubbles/internal/telemetry"
	"github.com/thebtf/bubbles/pkg/models"
	"github.com/thebtf/bubbles/pkg/vectormath"
)

// Config holds the clustering thresholds the pipeline runs with.
// SplitThreshold and MergeThreshold are optional; when nil the corresponding
// pass is disabled.
type Config struct {
	AssignThreshold float64
	SplitThreshold  *float64
	MergeThreshold  *float64
}

// Pipeline orchestrates ingest for any post. It holds no per-post state;
// the caller passes the post's ledger and serializes calls per post.
type Pipeline struct {
	embedder provider.EmbeddingProvider
	coord    *coordinator.Coordinator
	metrics  *telemetry.Metrics

	mu  sync.RWMutex
	cfg Config
}

// New builds a pipeline. metrics may be nil.
func New(embedder provider.EmbeddingProvider, coord *coordinator.Coordinator, metrics *telemetry.Metrics, cfg Config) *Pipeline {
	return &Pipeline{embedder: embedder, coord: coord, metrics: metrics, cfg: cfg}
}

// SetConfig swaps the clustering thresholds. In-flight ingests keep the
// snapshot they started with.
func (p *Pipeline) SetConfig(cfg Config) {
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
}

// Config returns the current threshold configuration.
func (p *Pipeline) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// IngestRequest carries one incoming comment before it has an id or vector.
// CreatedAt is optional RFC3339; bulk imports use it to keep the source
// thread's timeline, live comments leave it empty.
type IngestRequest struct {
	AuthorID         string
	AuthorName       string
	Text             string
	ReplyToCommentID string
	CreatedAt        string
}

// Ingest processes one comment end to end. The embedding call happens first;
// if it fails the ledger is untouched and the error carries a ProviderError.
// Labeling and voting failures degrade (fallback label, empty vote) rather
// than aborting. The committed comment is returned with its assigned ids.
func (p *Pipeline) Ingest(ctx context.Context, l *ledger.Ledger, req IngestRequest) (models.Comment, error) {
	post := l.Post()
	cfg := p.Config()

	embedding, err := p.embedder.Embed(ctx, req.Text)
	if err != nil {
		p.metrics.ProviderFailure(ctx, "embed")
		return models.Comment{}, fmt.Errorf("ingest comment for post %s: %w", post.ID, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	createdAt := req.CreatedAt
	if createdAt == "" {
		createdAt = now
	}
	comment := models.Comment{
		ID:               uuid.NewString(),
		PostID:           post.ID,
		CreatedAt:        createdAt,
		Author:           models.Author{ID: req.AuthorID, DisplayName: req.AuthorName},
		Text:             req.Text,
		ReplyToCommentID: req.ReplyToCommentID,
		Embedding:        embedding,
	}

	candidates := p.assignmentCandidates(l)
	decision := cluster.Assign(embedding.Vector, candidates, cfg.AssignThreshold)

	cs, version, prev := p.stageVersion(l, &comment, decision, now)

	members := p.memberComments(l, version.CommentIDs, &comment)
	outcome := p.coord.LabelVersion(ctx, members, prev)
	version.Label = outcome.Label
	version.Essence = outcome.Essence
	version.Confidence = outcome.Confidence
	version.RepresentativeCommentIDs = outcome.RepresentativeIDs
	if outcome.Fallback {
		p.metrics.ProviderFailure(ctx, "label")
	}

	vote, err := p.coord.Vote(ctx, comment, post)
	if err != nil {
		log.Warn().Err(err).Str("comment_id", comment.ID).Msg("Voting failed, leaving vote empty")
		p.metrics.ProviderFailure(ctx, "vote")
	} else {
		comment.Vote = vote
	}

	comment.AssignedBubbleID = version.BubbleID
	comment.AssignedBubbleVersionID = version.ID

	cs.Comment = &comment
	cs.Versions = []models.BubbleVersion{*version}
	cs.Run = &models.PipelineRun{
		ID:             uuid.NewString(),
		PostID:         post.ID,
		CommentID:      comment.ID,
		CreatedAt:      now,
		EmbeddingModel: p.embedder.ModelName(),
		Decision: models.ClusterDecision{
			AssignedBubbleID:     version.BubbleID,
			SimilarityToAssigned: decision.Similarity,
			Threshold:            cfg.AssignThreshold,
			CreatedNewBubble:     decision.CreatedNew,
		},
		Labeler: models.RunLabeler{
			Mode:                     outcome.Mode,
			RepresentativeCommentIDs: outcome.RepresentativeIDs,
		},
	}

	if err := l.Commit(cs); err != nil {
		return models.Comment{}, fmt.Errorf("commit ingest of comment %s: %w", comment.ID, err)
	}

	p.metrics.CommentIngested(ctx, post.ID)
	if decision.CreatedNew {
		p.metrics.BubbleCreated(ctx, post.ID)
	}
	log.Debug().
		Str("post_id", post.ID).
		Str("comment_id", comment.ID).
		Str("bubble_id", version.BubbleID).
		Float64("similarity", decision.Similarity).
		Bool("created_new", decision.CreatedNew).
		Msg("Comment ingested")

	committed, _ := l.Comment(comment.ID)
	return committed, nil
}

// assignmentCandidates returns the latest centroid of every active bubble,
// in bubble creation order so assignment ties break toward the earliest.
func (p *Pipeline) assignmentCandidates(l *ledger.Ledger) []cluster.Candidate {
	active := l.ActiveBubbles()
	out := make([]cluster.Candidate, 0, len(active))
	for _, b := range active {
		v, ok := l.LatestVersion(b.ID)
		if !ok || v.CentroidEmbedding.IsZero() {
			continue
		}
		out = append(out, cluster.Candidate{
			BubbleID:    b.ID,
			Centroid:    v.CentroidEmbedding.Vector,
			MemberCount: v.MemberCount(),
		})
	}
	return out
}

// stageVersion builds the changeset skeleton for the assignment decision:
// either a fresh bubble with a single-member version, or the next version of
// an existing bubble with the comment folded into the running centroid.
func (p *Pipeline) stageVersion(l *ledger.Ledger, comment *models.Comment, decision cluster.Decision, now string) (ledger.Changeset, *models.BubbleVersion, *models.BubbleVersion) {
	var cs ledger.Changeset

	if decision.CreatedNew {
		bubble := models.Bubble{
			ID:        uuid.NewString(),
			PostID:    comment.PostID,
			CreatedAt: now,
			IsActive:  true,
			Lane:      l.NextLane(),
		}
		cs.NewBubbles = []models.Bubble{bubble}

		version := &models.BubbleVersion{
			ID:         uuid.NewString(),
			BubbleID:   bubble.ID,
			PostID:     comment.PostID,
			CreatedAt:  now,
			Window:     models.TimeWindow{StartAt: comment.CreatedAt, EndAt: comment.CreatedAt},
			CommentIDs: []string{comment.ID},
			CentroidEmbedding: models.Embedding{
				Vector: append([]float64(nil), comment.Embedding.Vector...),
				Dim:    comment.Embedding.Dim,
				Model:  comment.Embedding.Model,
				Hash:   models.CentroidHash([]string{comment.Embedding.Hash}),
			},
		}
		return cs, version, nil
	}

	prevVal, _ := l.LatestVersion(decision.BubbleID)
	prev := &prevVal

	memberIDs := append(append([]string(nil), prev.CommentIDs...), comment.ID)
	centroid := vectormath.IncrementalMean(prev.CentroidEmbedding.Vector, comment.Embedding.Vector, len(memberIDs))

	hashes := make([]string, 0, len(memberIDs))
	for _, id := range prev.CommentIDs {
		if c, ok := l.Comment(id); ok {
			hashes = append(hashes, c.Embedding.Hash)
		}
	}
	hashes = append(hashes, comment.Embedding.Hash)

	version := &models.BubbleVersion{
		ID:        uuid.NewString(),
		BubbleID:  decision.BubbleID,
		PostID:    comment.PostID,
		CreatedAt: now,
		Window: models.TimeWindow{
			StartAt: prev.Window.StartAt,
			EndAt:   laterOf(prev.Window.EndAt, comment.CreatedAt),
		},
		CommentIDs: memberIDs,
		CentroidEmbedding: models.Embedding{
			Vector: centroid,
			Dim:    comment.Embedding.Dim,
			Model:  comment.Embedding.Model,
			Hash:   models.CentroidHash(hashes),
		},
	}

	cs.Edges = []models.BubbleEdge{{
		ID:            uuid.NewString(),
		PostID:        comment.PostID,
		FromVersionID: prev.ID,
		ToVersionID:   version.ID,
		Type:          models.EdgeContinue,
		Weight:        decision.Similarity,
	}}
	return cs, version, prev
}

// memberComments resolves member ids to full comments in ingest order. The
// not-yet-committed comment is resolved from the pending value.
func (p *Pipeline) memberComments(l *ledger.Ledger, ids []string, pending *models.Comment) []models.Comment {
	out := make([]models.Comment, 0, len(ids))
	for _, id := range ids {
		if pending != nil && id == pending.ID {
			c := *pending
			c.IngestSeq = l.NextIngestSeq()
			out = append(out, c)
			continue
		}
		if c, ok := l.Comment(id); ok {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].IngestSeq < out[j].IngestSeq })
	return out
}

func laterOf(a, b string) string {
	if a > b {
		return a
	}
	return b
}
