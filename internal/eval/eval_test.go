package eval

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/bubbles/pkg/models"
)

// evalState builds a snapshot with two well-separated bubbles of two
// comments each, including the intermediate single-member versions.
func evalState() *models.PostState {
	emb := func(v ...float64) models.Embedding {
		return models.Embedding{Vector: v, Dim: len(v), Model: "test"}
	}
	return &models.PostState{
		Post: models.Post{ID: "p1"},
		Comments: []models.Comment{
			{ID: "c1", PostID: "p1", Text: "tabs are better", CreatedAt: "2026-08-30T10:00:00Z", IngestSeq: 0,
				Embedding: emb(1, 0), AssignedBubbleID: "b1", AssignedBubbleVersionID: "v1b"},
			{ID: "c2", PostID: "p1", Text: "tabs all the way", CreatedAt: "2026-08-30T10:00:30Z", IngestSeq: 1,
				Embedding: emb(0.9, 0.1), AssignedBubbleID: "b1", AssignedBubbleVersionID: "v1b"},
			{ID: "c3", PostID: "p1", Text: "dark mode please", CreatedAt: "2026-08-30T10:01:00Z", IngestSeq: 2,
				Embedding: emb(0, 1), AssignedBubbleID: "b2", AssignedBubbleVersionID: "v2b"},
			{ID: "c4", PostID: "p1", Text: "yes to dark mode", CreatedAt: "2026-08-30T10:01:30Z", IngestSeq: 3,
				Embedding: emb(0.1, 0.9), AssignedBubbleID: "b2", AssignedBubbleVersionID: "v2b"},
		},
		Bubbles: []models.Bubble{
			{ID: "b1", PostID: "p1", IsActive: true, Lane: 0, LatestVersionID: "v1b"},
			{ID: "b2", PostID: "p1", IsActive: true, Lane: 1, LatestVersionID: "v2b"},
		},
		BubbleVersions: []models.BubbleVersion{
			{ID: "v1a", BubbleID: "b1", PostID: "p1", CreatedAt: "2026-08-30T10:00:00Z",
				Label: "Tabs", Confidence: 0.5, CommentIDs: []string{"c1"},
				RepresentativeCommentIDs: []string{"c1"}, CentroidEmbedding: emb(1, 0)},
			{ID: "v1b", BubbleID: "b1", PostID: "p1", CreatedAt: "2026-08-30T10:00:30Z",
				Label: "Tabs", Confidence: 0.6, CommentIDs: []string{"c1", "c2"},
				RepresentativeCommentIDs: []string{"c1"}, CentroidEmbedding: emb(0.95, 0.05)},
			{ID: "v2a", BubbleID: "b2", PostID: "p1", CreatedAt: "2026-08-30T10:01:00Z",
				Label: "Dark Mode", Confidence: 0.5, CommentIDs: []string{"c3"},
				RepresentativeCommentIDs: []string{"c3"}, CentroidEmbedding: emb(0, 1)},
			{ID: "v2b", BubbleID: "b2", PostID: "p1", CreatedAt: "2026-08-30T10:01:30Z",
				Label: "Dark Mode", Confidence: 0.8, CommentIDs: []string{"c3", "c4"},
				RepresentativeCommentIDs: []string{"c3"}, CentroidEmbedding: emb(0.05, 0.95)},
		},
	}
}

func TestClusteringMetrics(t *testing.T) {
	m := ComputeMetrics(evalState()).Clustering

	assert.Equal(t, 2, m.NumBubbles)
	assert.Equal(t, 4, m.NumComments)
	assert.Equal(t, 2.0, m.AvgCommentsPerBubble)
	assert.Equal(t, 2, m.MaxCommentsPerBubble)
	assert.Equal(t, 2, m.MinCommentsPerBubble)
	assert.Equal(t, 0.0, m.BubbleSizeStd)

	// Two tightly separated groups cluster cleanly.
	assert.Greater(t, m.Cohesion, 0.9)
	assert.Less(t, m.Separation, 0.2)
	assert.Greater(t, m.SilhouetteScore, 0.5)

	// Two equal halves of four comments: one bit of entropy.
	assert.InDelta(t, 1.0, m.SizeEntropy, 1e-9)
}

func TestLabelMetrics(t *testing.T) {
	m := ComputeMetrics(evalState()).Labeling

	assert.InDelta(t, 0.7, m.AvgConfidence, 1e-9)
	assert.Equal(t, 1.0, m.LabelUniqueness)
	assert.InDelta(t, 0.5, m.RepresentativeCoverage, 1e-9)
	assert.InDelta(t, 6.5, m.AvgLabelLength, 1e-9) // "Tabs" and "Dark Mode"
}

func TestTemporalMetrics(t *testing.T) {
	m := ComputeMetrics(evalState()).Temporal

	// Two bubbles with two versions each.
	assert.InDelta(t, 0.5, m.Stability, 1e-9)
	// Each bubble spans 30 seconds of version history.
	assert.InDelta(t, 30.0, m.AvgBubbleLifetime, 1e-9)
	assert.Greater(t, m.VersionCreationRate, 0.0)
	assert.Greater(t, m.Coherence, 0.9)
}

func TestMetricsEmptyState(t *testing.T) {
	m := ComputeMetrics(&models.PostState{})
	assert.Equal(t, 0, m.Clustering.NumBubbles)
	assert.Equal(t, 0.0, m.Labeling.AvgConfidence)
	assert.Equal(t, 0.0, m.Temporal.Stability)
}

func TestEvaluateDecisions(t *testing.T) {
	ev := &Evaluator{Threshold: 0.5}
	report := ev.Evaluate(evalState(), nil)

	require.Len(t, report.Decisions, 4)
	byComment := make(map[string]DecisionAnalysis)
	for _, d := range report.Decisions {
		byComment[d.CommentID] = d
	}

	// c1 and c3 founded their bubbles; c2 and c4 joined.
	assert.True(t, byComment["c1"].CreatedNewBubble)
	assert.True(t, byComment["c3"].CreatedNewBubble)
	assert.False(t, byComment["c2"].CreatedNewBubble)
	assert.False(t, byComment["c4"].CreatedNewBubble)

	d := byComment["c2"]
	assert.Equal(t, "b1", d.AssignedBubbleID)
	assert.Greater(t, d.Similarity, 0.5)
	require.Len(t, d.Alternatives, 1)
	assert.Equal(t, "b2", d.Alternatives[0].BubbleID)
	assert.Less(t, d.Alternatives[0].Similarity, 0.5)
	assert.NotEmpty(t, d.Reasoning)
}

func TestEvaluateUsesRecordedDecisions(t *testing.T) {
	runs := []models.PipelineRun{
		{CommentID: "c2", Decision: models.ClusterDecision{
			AssignedBubbleID: "b1", SimilarityToAssigned: 0.77, CreatedNewBubble: false,
		}},
	}
	ev := &Evaluator{Threshold: 0.5}
	report := ev.Evaluate(evalState(), runs)

	for _, d := range report.Decisions {
		if d.CommentID == "c2" {
			assert.Equal(t, 0.77, d.Similarity)
		}
	}
}

func TestEvaluateBubbleAnalyses(t *testing.T) {
	ev := &Evaluator{Threshold: 0.5}
	report := ev.Evaluate(evalState(), nil)

	require.Len(t, report.BubbleAnalyses, 2)
	a := report.BubbleAnalyses[0]
	assert.Equal(t, "b1", a.BubbleID)
	assert.Equal(t, 2, a.Size)
	assert.Greater(t, a.Cohesion, 0.9)
	assert.Greater(t, a.AvgSimilarityToCentroid, 0.9)
	assert.LessOrEqual(t, a.MinSimilarity, a.MaxSimilarity)
	assert.Len(t, a.CommentTexts, 2)
	// Far-apart centroids leave nothing to merge.
	assert.Empty(t, a.PotentialMerges)
}

func TestThresholdAnalysis(t *testing.T) {
	ev := &Evaluator{Threshold: 0.5}
	ta := ev.Evaluate(evalState(), nil).Threshold

	assert.Equal(t, 0.5, ta.CurrentThreshold)
	assert.Greater(t, ta.MinIntraSimilarity, ta.MaxInterSimilarity)
	require.Len(t, ta.SuggestedThresholds, 1)
	s := ta.SuggestedThresholds[0]
	assert.Greater(t, s.Threshold, ta.MaxInterSimilarity)
	assert.Less(t, s.Threshold, ta.MinIntraSimilarity)
}

func TestSweep(t *testing.T) {
	state := evalState()
	results, err := Sweep(context.Background(), state, 0.5, []float64{0.05, 0.5, 0.999})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Permissive threshold folds everything into one bubble.
	assert.Equal(t, 1, results[0].BubbleCount)
	assert.Equal(t, 2, results[0].MovedComments)

	// The current threshold reproduces the ledger: nothing moves.
	assert.Equal(t, 2, results[1].BubbleCount)
	assert.Equal(t, 0, results[1].MovedComments)

	// Near-exact threshold isolates every comment.
	assert.Equal(t, 4, results[2].BubbleCount)
	assert.Equal(t, 2, results[2].MovedComments)
}

func TestSweepDoesNotMutateState(t *testing.T) {
	state := evalState()
	before := *state.BubblesByID()["b1"]
	_, err := Sweep(context.Background(), state, 0.5, DefaultSweepCandidates)
	require.NoError(t, err)
	assert.Equal(t, before, *state.BubblesByID()["b1"])
	assert.Len(t, state.BubbleVersions, 4)
}

// Running the evaluator twice on an unchanged snapshot must return
// identical results.
func TestEvaluateDeterministic(t *testing.T) {
	state := evalState()
	ev := &Evaluator{Threshold: 0.5}

	r1, err := ev.EvaluateWithSweep(context.Background(), state, nil, DefaultSweepCandidates)
	require.NoError(t, err)
	r2, err := ev.EvaluateWithSweep(context.Background(), state, nil, DefaultSweepCandidates)
	require.NoError(t, err)

	assert.Equal(t, r1.Decisions, r2.Decisions)
	assert.Equal(t, r1.BubbleAnalyses, r2.BubbleAnalyses)
	assert.Equal(t, r1.Threshold, r2.Threshold)
	assert.Equal(t, r1.Recommendations, r2.Recommendations)
	assert.Equal(t, r1.Metrics.Clustering, r2.Metrics.Clustering)
	assert.Equal(t, r1.Metrics.Labeling, r2.Metrics.Labeling)
	assert.Equal(t, r1.Metrics.Temporal, r2.Metrics.Temporal)
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	s := strings.Repeat("ü", 80)
	for n := 0; n <= len(s); n++ {
		got := truncate(s, n)
		assert.LessOrEqual(t, len(got), n)
		assert.True(t, utf8.ValidString(got), "truncate(%d) = %q", n, got)
	}
	assert.Equal(t, "short", truncate("short", snippetLen))
}
