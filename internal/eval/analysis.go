package eval

import (
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/thebtf/bubbles/pkg/models"
	"github.com/thebtf/bubbles/pkg/vectormath"
)

const (
	maxAlternatives     = 5
	maxPotentialMerges  = 3
	maxPotentialSplits  = 3
	lowCohesionFloor    = 0.5
	decisionCloseMargin = 0.05
	snippetLen          = 100
	decisionSnippetLen  = 200
)

// Alternative is a bubble a comment could have joined instead, ranked by
// similarity.
type Alternative struct {
	BubbleID   string  `json:"bubble_id"`
	Similarity float64 `json:"similarity"`
	Label      string  `json:"label"`
}

// DecisionAnalysis explains one clustering decision after the fact.
type DecisionAnalysis struct {
	CommentID        string        `json:"comment_id"`
	CommentText      string        `json:"comment_text"`
	AssignedBubbleID string        `json:"assigned_bubble_id"`
	Similarity       float64       `json:"similarity_score"`
	Threshold        float64       `json:"threshold"`
	CreatedNewBubble bool          `json:"created_new_bubble"`
	Alternatives     []Alternative `json:"alternative_bubbles"`
	Reasoning        string        `json:"reasoning"`
}

// MergeCandidate is another bubble close enough to be worth consolidating.
type MergeCandidate struct {
	BubbleID   string  `json:"bubble_id"`
	Similarity float64 `json:"similarity"`
	Label      string  `json:"label"`
}

// SplitCandidate is a member pair dissimilar enough to suggest the bubble
// holds more than one topic.
type SplitCandidate struct {
	CommentIDA string  `json:"comment_id_a"`
	CommentIDB string  `json:"comment_id_b"`
	Similarity float64 `json:"similarity"`
}

// BubbleAnalysis is the quality report for one active bubble.
type BubbleAnalysis struct {
	BubbleID               string           `json:"bubble_id"`
	Label                  string           `json:"label"`
	Size                   int              `json:"size"`
	Cohesion               float64          `json:"cohesion"`
	AvgSimilarityToCentroid float64         `json:"avg_similarity_to_centroid"`
	MinSimilarity          float64          `json:"min_similarity"`
	MaxSimilarity          float64          `json:"max_similarity"`
	CommentTexts           []string         `json:"comment_texts"`
	RepresentativeTexts    []string         `json:"representative_comments"`
	PotentialMerges        []MergeCandidate `json:"potential_merges"`
	PotentialSplits        []SplitCandidate `json:"potential_splits"`
	Issues                 []string         `json:"issues"`
}

// ThresholdSuggestion is a proposed assignment threshold with its rationale.
type ThresholdSuggestion struct {
	Threshold float64 `json:"threshold"`
	Reasoning string  `json:"reasoning"`
}

// ThresholdAnalysis summarizes how centroid similarities relate to the
// configured assignment threshold.
type ThresholdAnalysis struct {
	CurrentThreshold    float64               `json:"current_threshold"`
	AvgIntraSimilarity  float64               `json:"avg_intra_bubble_similarity"`
	AvgInterSimilarity  float64               `json:"avg_inter_bubble_similarity"`
	MinIntraSimilarity  float64               `json:"min_intra_bubble_similarity"`
	MaxInterSimilarity  float64               `json:"max_inter_bubble_similarity"`
	SuggestedThresholds []ThresholdSuggestion `json:"suggested_thresholds"`
	Sweep               []SweepResult         `json:"sweep"`
}

// Report is the full evaluation output for one snapshot.
type Report struct {
	Decisions       []DecisionAnalysis `json:"clustering_decisions"`
	BubbleAnalyses  []BubbleAnalysis   `json:"bubble_analyses"`
	Threshold       ThresholdAnalysis  `json:"threshold_analysis"`
	Recommendations []string           `json:"recommendations"`
	Metrics         MetricsReport      `json:"metrics"`
}

// Evaluator scores a snapshot against the assignment threshold the engine
// ran with. It holds no mutable state and is safe for concurrent use.
type Evaluator struct {
	Threshold float64
}

// Evaluate produces the full report. Pipeline runs, when available, supply
// the recorded per-comment decisions; without them the decision list is
// reconstructed from the ledger.
func (e *Evaluator) Evaluate(state *models.PostState, runs []models.PipelineRun) Report {
	comments := state.CommentsByID()
	versions := state.VersionsByID()
	latest := state.LatestVersions(false)

	decisions := e.analyzeDecisions(state, comments, versions, latest, runs)
	analyses := e.analyzeBubbles(state, comments, latest)
	threshold := e.analyzeThreshold(state, latest)

	return Report{
		Decisions:       decisions,
		BubbleAnalyses:  analyses,
		Threshold:       threshold,
		Recommendations: e.recommend(decisions, analyses, threshold),
		Metrics:         ComputeMetrics(state),
	}
}

func (e *Evaluator) analyzeDecisions(
	state *models.PostState,
	comments map[string]*models.Comment,
	versions map[string]*models.BubbleVersion,
	latest []*models.BubbleVersion,
	runs []models.PipelineRun,
) []DecisionAnalysis {
	recorded := make(map[string]*models.ClusterDecision, len(runs))
	for i := range runs {
		recorded[runs[i].CommentID] = &runs[i].Decision
	}

	decisions := make([]DecisionAnalysis, 0, len(state.Comments))
	for i := range state.Comments {
		c := &state.Comments[i]
		if c.AssignedBubbleID == "" {
			continue
		}
		assigned, ok := versions[c.AssignedBubbleVersionID]
		if !ok {
			continue
		}

		sim := vectormath.Cosine(c.Embedding.Vector, assigned.CentroidEmbedding.Vector)
		createdNew := firstMemberOf(assigned, comments) == c.ID
		if d, ok := recorded[c.ID]; ok {
			sim = d.SimilarityToAssigned
			createdNew = d.CreatedNewBubble
		}

		alts := make([]Alternative, 0, len(latest))
		for _, v := range latest {
			if v.BubbleID == c.AssignedBubbleID {
				continue
			}
			alts = append(alts, Alternative{
				BubbleID:   v.BubbleID,
				Similarity: vectormath.Cosine(c.Embedding.Vector, v.CentroidEmbedding.Vector),
				Label:      v.Label,
			})
		}
		sort.SliceStable(alts, func(i, j int) bool { return alts[i].Similarity > alts[j].Similarity })
		if len(alts) > maxAlternatives {
			alts = alts[:maxAlternatives]
		}

		decisions = append(decisions, DecisionAnalysis{
			CommentID:        c.ID,
			CommentText:      truncate(c.Text, decisionSnippetLen),
			AssignedBubbleID: c.AssignedBubbleID,
			Similarity:       sim,
			Threshold:        e.Threshold,
			CreatedNewBubble: createdNew,
			Alternatives:     alts,
			Reasoning:        e.reasoning(sim, createdNew, alts),
		})
	}
	return decisions
}

func (e *Evaluator) reasoning(sim float64, createdNew bool, alts []Alternative) string {
	if createdNew {
		if len(alts) > 0 {
			return fmt.Sprintf("Created new bubble. Best alternative was %q with similarity %.3f (below threshold %.3f)",
				alts[0].Label, alts[0].Similarity, e.Threshold)
		}
		return "Created new bubble (first comment or no suitable matches)"
	}
	margin := sim - e.Threshold
	if len(alts) > 0 {
		return fmt.Sprintf("Assigned with similarity %.3f (threshold: %.3f, margin: %.3f). Next best: %q at %.3f (margin: %.3f)",
			sim, e.Threshold, margin, alts[0].Label, alts[0].Similarity, sim-alts[0].Similarity)
	}
	return fmt.Sprintf("Assigned with similarity %.3f (threshold: %.3f, margin: %.3f)", sim, e.Threshold, margin)
}

func (e *Evaluator) analyzeBubbles(
	state *models.PostState,
	comments map[string]*models.Comment,
	latest []*models.BubbleVersion,
) []BubbleAnalysis {
	analyses := make([]BubbleAnalysis, 0, len(latest))
	for _, v := range latest {
		embs := memberVectors(v, comments)
		if len(embs) == 0 {
			continue
		}

		sims := make([]float64, len(embs))
		var avg float64
		minSim, maxSim := math.Inf(1), math.Inf(-1)
		for i, emb := range embs {
			sims[i] = vectormath.Cosine(emb, v.CentroidEmbedding.Vector)
			avg += sims[i]
			minSim = math.Min(minSim, sims[i])
			maxSim = math.Max(maxSim, sims[i])
		}
		avg /= float64(len(sims))

		var pairSum float64
		var pairs int
		for i := range embs {
			for j := i + 1; j < len(embs); j++ {
				pairSum += vectormath.Cosine(embs[i], embs[j])
				pairs++
			}
		}
		var coh float64
		if pairs > 0 {
			coh = pairSum / float64(pairs)
		}

		merges := e.potentialMerges(v, latest)
		splits := e.potentialSplits(v, comments)

		var issues []string
		if coh < lowCohesionFloor && pairs > 0 {
			issues = append(issues, fmt.Sprintf("Low cohesion (%.2f) - comments may not belong together", coh))
		}
		if minSim < e.Threshold*0.7 {
			issues = append(issues, fmt.Sprintf("Some comments have low similarity to centroid (%.2f)", minSim))
		}
		if len(merges) > 0 {
			issues = append(issues, fmt.Sprintf("Potential merge candidates found: %d", len(merges)))
		}
		if len(v.CommentIDs) == 1 {
			issues = append(issues, "Single-comment bubble - consider merging")
		}

		analyses = append(analyses, BubbleAnalysis{
			BubbleID:                v.BubbleID,
			Label:                   v.Label,
			Size:                    len(v.CommentIDs),
			Cohesion:                coh,
			AvgSimilarityToCentroid: avg,
			MinSimilarity:           minSim,
			MaxSimilarity:           maxSim,
			CommentTexts:            snippets(v.CommentIDs, comments),
			RepresentativeTexts:     snippets(v.RepresentativeCommentIDs, comments),
			PotentialMerges:         merges,
			PotentialSplits:         splits,
			Issues:                  issues,
		})
	}
	return analyses
}

func (e *Evaluator) potentialMerges(v *models.BubbleVersion, latest []*models.BubbleVersion) []MergeCandidate {
	var merges []MergeCandidate
	for _, other := range latest {
		if other.BubbleID == v.BubbleID {
			continue
		}
		sim := vectormath.Cosine(v.CentroidEmbedding.Vector, other.CentroidEmbedding.Vector)
		if sim >= e.Threshold*0.9 {
			merges = append(merges, MergeCandidate{BubbleID: other.BubbleID, Similarity: sim, Label: other.Label})
		}
	}
	sort.SliceStable(merges, func(i, j int) bool { return merges[i].Similarity > merges[j].Similarity })
	if len(merges) > maxPotentialMerges {
		merges = merges[:maxPotentialMerges]
	}
	return merges
}

func (e *Evaluator) potentialSplits(v *models.BubbleVersion, comments map[string]*models.Comment) []SplitCandidate {
	if len(v.CommentIDs) <= 2 {
		return nil
	}
	var splits []SplitCandidate
	for i := range v.CommentIDs {
		for j := i + 1; j < len(v.CommentIDs); j++ {
			a, okA := comments[v.CommentIDs[i]]
			b, okB := comments[v.CommentIDs[j]]
			if !okA || !okB {
				continue
			}
			sim := vectormath.Cosine(a.Embedding.Vector, b.Embedding.Vector)
			if sim < e.Threshold*0.7 {
				splits = append(splits, SplitCandidate{CommentIDA: a.ID, CommentIDB: b.ID, Similarity: sim})
			}
		}
	}
	if len(splits) > maxPotentialSplits {
		splits = splits[:maxPotentialSplits]
	}
	return splits
}

// analyzeThreshold compares centroid similarities within and across bubble
// lineages and proposes a threshold at the midpoint between the lowest
// intra-lineage and highest inter-lineage similarity.
func (e *Evaluator) analyzeThreshold(state *models.PostState, latest []*models.BubbleVersion) ThresholdAnalysis {
	ta := ThresholdAnalysis{CurrentThreshold: e.Threshold}

	var intra, inter []float64
	versions := state.BubbleVersions
	for i := range versions {
		for j := i + 1; j < len(versions); j++ {
			a, b := &versions[i], &versions[j]
			if len(a.CentroidEmbedding.Vector) == 0 || len(b.CentroidEmbedding.Vector) == 0 {
				continue
			}
			sim := vectormath.Cosine(a.CentroidEmbedding.Vector, b.CentroidEmbedding.Vector)
			if a.BubbleID == b.BubbleID {
				intra = append(intra, sim)
			} else {
				inter = append(inter, sim)
			}
		}
	}

	if len(intra) > 0 {
		ta.AvgIntraSimilarity = mean(intra)
		ta.MinIntraSimilarity = minOf(intra)
	}
	if len(inter) > 0 {
		ta.AvgInterSimilarity = mean(inter)
		ta.MaxInterSimilarity = maxOf(inter)
	}
	if len(intra) > 0 && len(inter) > 0 {
		suggested := (ta.MinIntraSimilarity + ta.MaxInterSimilarity) / 2.0
		ta.SuggestedThresholds = append(ta.SuggestedThresholds, ThresholdSuggestion{
			Threshold: suggested,
			Reasoning: fmt.Sprintf("Separation point between intra-lineage (%.3f) and inter-lineage (%.3f) similarities",
				ta.MinIntraSimilarity, ta.MaxInterSimilarity),
		})
	}
	return ta
}

func (e *Evaluator) recommend(decisions []DecisionAnalysis, analyses []BubbleAnalysis, ta ThresholdAnalysis) []string {
	var recs []string

	singles := 0
	lowCohesion := 0
	totalMerges := 0
	for _, a := range analyses {
		if a.Size == 1 {
			singles++
		}
		if a.Size > 1 && a.Cohesion < lowCohesionFloor {
			lowCohesion++
		}
		totalMerges += len(a.PotentialMerges)
	}

	if len(analyses) > 0 && float64(singles) > float64(len(analyses))*0.3 {
		recs = append(recs, fmt.Sprintf(
			"High number of single-comment bubbles (%d/%d). Consider lowering threshold from %.3f to encourage more merging.",
			singles, len(analyses), e.Threshold))
	}
	if lowCohesion > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d bubbles have low cohesion (<%.1f). These may contain unrelated comments and could benefit from splitting.",
			lowCohesion, lowCohesionFloor))
	}
	if totalMerges > 0 {
		recs = append(recs, fmt.Sprintf(
			"Found %d potential merge opportunities. Consider reviewing these bubbles for consolidation.", totalMerges))
	}
	if len(ta.SuggestedThresholds) > 0 {
		suggested := ta.SuggestedThresholds[0].Threshold
		if math.Abs(suggested-e.Threshold) > 0.05 {
			recs = append(recs, fmt.Sprintf(
				"Consider adjusting threshold from %.3f to %.3f for better separation between clusters.",
				e.Threshold, suggested))
		}
	}

	closeCalls := 0
	for _, d := range decisions {
		if !d.CreatedNewBubble && math.Abs(d.Similarity-d.Threshold) < decisionCloseMargin {
			closeCalls++
		}
	}
	if len(decisions) > 0 && float64(closeCalls) > float64(len(decisions))*0.2 {
		recs = append(recs, fmt.Sprintf(
			"Many decisions (%d) are close to threshold. System may be sensitive to small embedding variations.", closeCalls))
	}
	return recs
}

// firstMemberOf returns the member comment id with the lowest ingest
// sequence, the comment that founded the bubble's lineage.
func firstMemberOf(v *models.BubbleVersion, comments map[string]*models.Comment) string {
	first := ""
	firstSeq := math.MaxInt
	for _, cid := range v.CommentIDs {
		c, ok := comments[cid]
		if !ok {
			continue
		}
		if c.IngestSeq < firstSeq {
			firstSeq = c.IngestSeq
			first = cid
		}
	}
	return first
}

func snippets(ids []string, comments map[string]*models.Comment) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if c, ok := comments[id]; ok {
			out = append(out, truncate(c.Text, snippetLen))
		}
	}
	return out
}

// truncate caps s at n bytes, never cutting a multi-byte rune in half.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Min(m, x)
	}
	return m
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Max(m, x)
	}
	return m
}
