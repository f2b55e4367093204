// Package coordinator assembles the representative subset handed to the
// external labeler and voter and merges their results back, applying the
// fallback policy when a provider fails or hallucinates.
package coordinator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"

	"github.com/thebtf/bubbles/internal/provider"
	"github.com/thebtf/bubbles/pkg/models"
)

// fallbackConfidence scales down the size-based confidence when a version
// is labeled without a successful labeler call.
const fallbackConfidence = 0.5

// Config holds the coordinator's policy knobs.
type Config struct {
	MinBubbleSizeForLabel int
	MaxRepresentatives    int
	// TokenBudget caps the total token count of representative text sent to
	// the labeler. Representatives are dropped from the end to fit.
	TokenBudget int
}

// Coordinator mediates between the ledger and the external labeler/voter.
type Coordinator struct {
	labeler provider.Labeler
	voter   provider.Voter
	codec   tokenizer.Codec
	cfg     Config
}

// New creates a Coordinator.
func New(labeler provider.Labeler, voter provider.Voter, cfg Config) (*Coordinator, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("init tokenizer: %w", err)
	}
	return &Coordinator{labeler: labeler, voter: voter, codec: codec, cfg: cfg}, nil
}

// LabelOutcome is the merged labeling result for one bubble version.
type LabelOutcome struct {
	Label             string
	Essence           string
	Confidence        float64
	RepresentativeIDs []string
	Mode              models.ProviderMode
	// Fallback is set when the labeler was skipped, failed, or returned
	// representatives that had to be re-derived.
	Fallback bool
}

// LabelVersion labels a staged version's membership. members must be in
// ingest order; prev is the bubble's previous version, if any, and feeds
// the fallback label. LabelVersion never fails: labeling errors degrade to
// the fallback policy, because a missing label must not abort an ingest.
func (c *Coordinator) LabelVersion(ctx context.Context, members []models.Comment, prev *models.BubbleVersion) LabelOutcome {
	reps := c.SelectRepresentatives(members)
	repIDs := commentIDs(reps)

	// Too small to characterize: label with explicit uncertainty instead of
	// inventing a topic from one or two comments.
	if len(members) < c.cfg.MinBubbleSizeForLabel {
		outcome := LabelOutcome{
			Label:             "Uncertain",
			Essence:           "Not enough comments to characterize this group yet.",
			Confidence:        provider.SizeConfidence(len(members)) * fallbackConfidence,
			RepresentativeIDs: repIDs,
			Mode:              c.labeler.Mode(),
			Fallback:          true,
		}
		if prev != nil && prev.Label != "" {
			outcome.Label = prev.Label
			outcome.Essence = prev.Essence
		}
		return outcome
	}

	result, err := c.labeler.Label(ctx, provider.LabelRequest{
		Members:         members,
		Representatives: reps,
	})
	if err != nil {
		log.Warn().Err(err).Int("members", len(members)).Msg("Labeling failed, using fallback label")
		outcome := LabelOutcome{
			Label:             "Miscellaneous",
			Essence:           "People are discussing various topics.",
			Confidence:        provider.SizeConfidence(len(members)) * fallbackConfidence,
			RepresentativeIDs: repIDs,
			Mode:              c.labeler.Mode(),
			Fallback:          true,
		}
		if prev != nil && prev.Label != "" {
			outcome.Label = prev.Label
			outcome.Essence = prev.Essence
		}
		return outcome
	}

	outcome := LabelOutcome{
		Label:             result.Label,
		Essence:           result.Essence,
		Confidence:        result.Confidence,
		RepresentativeIDs: result.RepresentativeCommentIDs,
		Mode:              c.labeler.Mode(),
	}

	// A labeler inventing representative ids is recoverable: discard its
	// selection and keep our own deterministic one.
	if !subsetOf(result.RepresentativeCommentIDs, members) || len(result.RepresentativeCommentIDs) == 0 {
		log.Warn().
			Strs("returned", result.RepresentativeCommentIDs).
			Msg("Labeler returned non-member representative ids, re-deriving")
		outcome.RepresentativeIDs = repIDs
		outcome.Fallback = true
	}

	return outcome
}

// SelectRepresentatives picks up to MaxRepresentatives members, evenly
// spaced over the ingest-ordered member list so early and late voices are
// both covered, then drops from the end to fit the token budget. The
// selection is a deterministic function of the member list.
func (c *Coordinator) SelectRepresentatives(members []models.Comment) []models.Comment {
	if len(members) == 0 {
		return nil
	}

	var picked []models.Comment
	if len(members) <= c.cfg.MaxRepresentatives {
		picked = append(picked, members...)
	} else {
		steps := c.cfg.MaxRepresentatives
		if steps == 1 {
			picked = append(picked, members[0])
		} else {
			seen := make(map[int]bool, steps)
			for i := 0; i < steps; i++ {
				t := float64(i) / float64(steps-1)
				idx := int(t*float64(len(members)-1) + 0.5)
				if !seen[idx] {
					seen[idx] = true
					picked = append(picked, members[idx])
				}
			}
		}
	}

	return c.trimToTokenBudget(picked)
}

// trimToTokenBudget drops representatives from the end until their total
// token count fits the budget. At least one representative survives.
func (c *Coordinator) trimToTokenBudget(reps []models.Comment) []models.Comment {
	if c.cfg.TokenBudget <= 0 {
		return reps
	}

	total := 0
	for i, r := range reps {
		ids, _, err := c.codec.Encode(r.Text)
		if err != nil {
			// Unencodable text is counted approximately rather than dropped.
			total += len(r.Text) / 4
		} else {
			total += len(ids)
		}
		if total > c.cfg.TokenBudget && i > 0 {
			return reps[:i]
		}
	}
	return reps
}

// Vote classifies one comment's stance. A VotingError is returned to the
// caller but is non-fatal by contract: the vote is simply absent.
func (c *Coordinator) Vote(ctx context.Context, comment models.Comment, post models.Post) (models.Vote, error) {
	vote, err := c.voter.Classify(ctx, comment, post)
	if err != nil {
		return "", err
	}
	if !vote.Valid() {
		return "", &provider.VotingError{Op: "classify", Err: fmt.Errorf("unknown vote %q", vote)}
	}
	return vote, nil
}

// VoterMode reports how voting is backed.
func (c *Coordinator) VoterMode() models.ProviderMode { return c.voter.Mode() }

// LabelerMode reports how labeling is backed.
func (c *Coordinator) LabelerMode() models.ProviderMode { return c.labeler.Mode() }

func commentIDs(comments []models.Comment) []string {
	out := make([]string, len(comments))
	for i, c := range comments {
		out[i] = c.ID
	}
	return out
}

func subsetOf(ids []string, members []models.Comment) bool {
	memberSet := make(map[string]bool, len(members))
	for _, m := range members {
		memberSet[m.ID] = true
	}
	for _, id := range ids {
		if !memberSet[id] {
			return false
		}
	}
	return true
}
