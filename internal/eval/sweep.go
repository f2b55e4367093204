package eval

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/thebtf/bubbles/internal/cluster"
	"github.com/thebtf/bubbles/pkg/models"
	"github.com/thebtf/bubbles/pkg/vectormath"
)

// SweepResult reports the effect of one candidate assignment threshold.
// MovedComments counts comments whose replayed assignment differs from the
// replay at the current threshold; replayed bubbles are identified by the
// comment that founded them, so the comparison survives the fact that a
// replay mints no real bubble ids.
type SweepResult struct {
	Threshold     float64 `json:"threshold"`
	BubbleCount   int     `json:"bubble_count"`
	MovedComments int     `json:"moved_comments"`
}

// DefaultSweepCandidates spans the useful cosine-threshold range.
var DefaultSweepCandidates = []float64{0.40, 0.45, 0.50, 0.55, 0.60, 0.65, 0.70, 0.75, 0.80}

// Sweep replays the assignment of every comment, in ingest order, at each
// candidate threshold. It never mutates the snapshot; all replay state is
// local. Candidates are evaluated in parallel.
func Sweep(ctx context.Context, state *models.PostState, current float64, candidates []float64) ([]SweepResult, error) {
	comments := commentsInIngestOrder(state)
	baseline := replayAssignments(comments, current)

	results := make([]SweepResult, len(candidates))
	g, ctx := errgroup.WithContext(ctx)
	for i, threshold := range candidates {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			assigned := replayAssignments(comments, threshold)

			founders := make(map[string]struct{})
			moved := 0
			for j := range assigned {
				founders[assigned[j]] = struct{}{}
				if assigned[j] != baseline[j] {
					moved++
				}
			}
			results[i] = SweepResult{
				Threshold:     threshold,
				BubbleCount:   len(founders),
				MovedComments: moved,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// EvaluateWithSweep runs the full evaluation and attaches a threshold sweep
// to the threshold analysis.
func (e *Evaluator) EvaluateWithSweep(ctx context.Context, state *models.PostState, runs []models.PipelineRun, candidates []float64) (Report, error) {
	report := e.Evaluate(state, runs)
	sweep, err := Sweep(ctx, state, e.Threshold, candidates)
	if err != nil {
		return Report{}, err
	}
	report.Threshold.Sweep = sweep
	return report, nil
}

// replayBubble is the replay-local stand-in for a bubble: the founding
// comment id names it, the centroid tracks the running mean of its members.
type replayBubble struct {
	founderID string
	centroid  []float64
	size      int
}

// replayAssignments re-runs the online assignment for every comment at the
// given threshold and returns, per comment, the founder id of the replay
// bubble it landed in.
func replayAssignments(comments []*models.Comment, threshold float64) []string {
	bubbles := make([]*replayBubble, 0, 8)
	out := make([]string, len(comments))
	for i, c := range comments {
		cands := make([]cluster.Candidate, len(bubbles))
		for j, b := range bubbles {
			cands[j] = cluster.Candidate{BubbleID: b.founderID, Centroid: b.centroid, MemberCount: b.size}
		}
		decision := cluster.Assign(c.Embedding.Vector, cands, threshold)
		if decision.CreatedNew {
			bubbles = append(bubbles, &replayBubble{
				founderID: c.ID,
				centroid:  vectormath.IncrementalMean(nil, c.Embedding.Vector, 1),
				size:      1,
			})
			out[i] = c.ID
			continue
		}
		for _, b := range bubbles {
			if b.founderID == decision.BubbleID {
				b.size++
				b.centroid = vectormath.IncrementalMean(b.centroid, c.Embedding.Vector, b.size)
				break
			}
		}
		out[i] = decision.BubbleID
	}
	return out
}

func commentsInIngestOrder(state *models.PostState) []*models.Comment {
	out := make([]*models.Comment, 0, len(state.Comments))
	for i := range state.Comments {
		out = append(out, &state.Comments[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].IngestSeq < out[j].IngestSeq })
	return out
}
