// Package provider defines the contracts for the external services the
// ingest pipeline depends on: text embedding, bubble labeling, and stance
// voting. Each contract has a live (OpenAI-backed) and a local
// (deterministic, offline) implementation, selected by configuration.
package provider

import (
	"context"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/thebtf/bubbles/pkg/models"
)

// EmbeddingProvider turns text into a fixed-dimension vector.
// Implementations must be deterministic per (model, text) in local mode.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) (models.Embedding, error)
	EmbedBatch(ctx context.Context, texts []string) ([]models.Embedding, error)
	Dim() int
	ModelName() string
}

// LabelRequest carries a bubble version's membership to the labeler.
// Representatives is the coordinator's own deterministic selection; the
// labeler may confirm it or propose a different subset of Members.
type LabelRequest struct {
	Members         []models.Comment
	Representatives []models.Comment
}

// LabelResult is the labeler's answer. RepresentativeCommentIDs may
// reference comments outside the member set (a hallucination); the
// coordinator validates and recovers from that.
type LabelResult struct {
	Label                    string
	Essence                  string
	Confidence               float64
	RepresentativeCommentIDs []string
}

// Labeler generates a short label and essence for a group of comments.
type Labeler interface {
	Label(ctx context.Context, req LabelRequest) (LabelResult, error)
	Mode() models.ProviderMode
}

// Voter classifies a comment's stance relative to its post.
type Voter interface {
	Classify(ctx context.Context, comment models.Comment, post models.Post) (models.Vote, error)
	Mode() models.ProviderMode
}

// ProviderError signals that embedding failed. Ingest aborts atomically:
// the comment is not recorded.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider: %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// LabelingError signals that labeling failed. Non-fatal: the version is
// committed with a fallback label and reduced confidence.
type LabelingError struct {
	Op  string
	Err error
}

func (e *LabelingError) Error() string {
	return fmt.Sprintf("labeler: %s: %v", e.Op, e.Err)
}

func (e *LabelingError) Unwrap() error { return e.Err }

// VotingError signals that stance classification failed. Non-fatal: the
// comment's vote is left empty.
type VotingError struct {
	Op  string
	Err error
}

func (e *VotingError) Error() string {
	return fmt.Sprintf("voter: %s: %v", e.Op, e.Err)
}

func (e *VotingError) Unwrap() error { return e.Err }

// SizeConfidence maps a bubble's member count to a labeling confidence in
// [0, 1], saturating at ten members.
func SizeConfidence(memberCount int) float64 {
	if memberCount <= 0 {
		return 0
	}
	c := math.Log(1+float64(memberCount)) / math.Log(11)
	if c > 1 {
		return 1
	}
	return c
}

// clip caps s at max bytes, backing off so a multi-byte rune is never cut
// in half.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
