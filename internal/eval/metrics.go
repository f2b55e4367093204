// Package eval scores clustering quality over an immutable post snapshot.
// Everything here is read-only: the evaluator replays decisions and measures
// the ledger, it never writes versions or edges.
package eval

import (
	"math"
	"time"

	"github.com/thebtf/bubbles/pkg/models"
	"github.com/thebtf/bubbles/pkg/vectormath"
)

// ClusteringMetrics describes the shape and quality of the current partition.
// Cohesion is mean pairwise intra-bubble similarity (higher is better).
// Separation is mean similarity between distinct bubble centroids (lower is
// better).
type ClusteringMetrics struct {
	NumBubbles           int     `json:"num_bubbles"`
	NumComments          int     `json:"num_comments"`
	AvgCommentsPerBubble float64 `json:"avg_comments_per_bubble"`
	MaxCommentsPerBubble int     `json:"max_comments_per_bubble"`
	MinCommentsPerBubble int     `json:"min_comments_per_bubble"`
	BubbleSizeStd        float64 `json:"bubble_size_std"`
	SilhouetteScore      float64 `json:"silhouette_score"`
	Cohesion             float64 `json:"intra_bubble_cohesion"`
	Separation           float64 `json:"inter_bubble_separation"`
	SizeEntropy          float64 `json:"comment_distribution_entropy"`
}

// LabelMetrics describes label and essence quality across current bubbles.
type LabelMetrics struct {
	AvgLabelLength         float64 `json:"avg_label_length"`
	AvgEssenceLength       float64 `json:"avg_essence_length"`
	AvgConfidence          float64 `json:"avg_confidence"`
	LabelUniqueness        float64 `json:"label_uniqueness"`
	RepresentativeCoverage float64 `json:"representative_coverage"`
}

// TemporalMetrics describes how bubbles evolve over the version history.
type TemporalMetrics struct {
	// VersionCreationRate is versions per second over the observed span.
	VersionCreationRate float64 `json:"version_creation_rate"`
	// AvgBubbleLifetime is the mean seconds between a bubble's first and
	// latest version, over bubbles with more than one version.
	AvgBubbleLifetime float64 `json:"avg_bubble_lifetime"`
	// Stability is the inverse of the mean version count per bubble,
	// capped at 1. Fewer membership changes means a more stable partition.
	Stability float64 `json:"bubble_stability"`
	// Coherence measures how tightly grouped in time each bubble's member
	// comments are.
	Coherence float64 `json:"temporal_coherence"`
}

// MetricsReport bundles every metric family computed from one snapshot.
type MetricsReport struct {
	Clustering  ClusteringMetrics `json:"clustering"`
	Labeling    LabelMetrics      `json:"labeling"`
	Temporal    TemporalMetrics   `json:"temporal"`
	GeneratedAt string            `json:"generated_at"`
}

// ComputeMetrics calculates all metric families over the snapshot.
// Clustering and label metrics cover the latest version of each active
// bubble; temporal metrics cover the full version history.
func ComputeMetrics(state *models.PostState) MetricsReport {
	latest := state.LatestVersions(false)
	comments := state.CommentsByID()

	return MetricsReport{
		Clustering:  clusteringMetrics(state, latest, comments),
		Labeling:    labelMetrics(latest),
		Temporal:    temporalMetrics(state, comments),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

func clusteringMetrics(state *models.PostState, latest []*models.BubbleVersion, comments map[string]*models.Comment) ClusteringMetrics {
	m := ClusteringMetrics{NumComments: len(state.Comments)}
	if m.NumComments == 0 || len(latest) == 0 {
		return m
	}
	m.NumBubbles = len(latest)

	sizes := make([]int, len(latest))
	total := 0
	m.MinCommentsPerBubble = len(latest[0].CommentIDs)
	for i, v := range latest {
		n := len(v.CommentIDs)
		sizes[i] = n
		total += n
		if n > m.MaxCommentsPerBubble {
			m.MaxCommentsPerBubble = n
		}
		if n < m.MinCommentsPerBubble {
			m.MinCommentsPerBubble = n
		}
	}
	m.AvgCommentsPerBubble = float64(total) / float64(len(sizes))

	var variance float64
	for _, n := range sizes {
		d := float64(n) - m.AvgCommentsPerBubble
		variance += d * d
	}
	m.BubbleSizeStd = math.Sqrt(variance / float64(len(sizes)))

	m.SilhouetteScore = silhouette(latest, comments)
	m.Cohesion = cohesion(latest, comments)
	m.Separation = separation(latest)
	m.SizeEntropy = sizeEntropy(sizes, m.NumComments)
	return m
}

// silhouette is the mean silhouette coefficient over all member comments:
// for each comment, a = mean similarity to its own bubble's other members,
// b = highest mean similarity to any other bubble's members, and the
// coefficient is (a-b)/max(a,b). Requires at least two bubbles.
func silhouette(latest []*models.BubbleVersion, comments map[string]*models.Comment) float64 {
	if len(latest) < 2 {
		return 0
	}
	var sum float64
	var count int
	for _, v := range latest {
		for _, cid := range v.CommentIDs {
			c, ok := comments[cid]
			if !ok {
				continue
			}
			var a float64
			var peers int
			for _, oid := range v.CommentIDs {
				if oid == cid {
					continue
				}
				peer, ok := comments[oid]
				if !ok {
					continue
				}
				a += vectormath.Cosine(c.Embedding.Vector, peer.Embedding.Vector)
				peers++
			}
			if peers > 0 {
				a /= float64(peers)
			}

			b := math.Inf(-1)
			for _, other := range latest {
				if other.ID == v.ID || len(other.CommentIDs) == 0 {
					continue
				}
				embs := memberVectors(other, comments)
				if len(embs) == 0 {
					continue
				}
				var avg float64
				for _, emb := range embs {
					avg += vectormath.Cosine(c.Embedding.Vector, emb)
				}
				avg /= float64(len(embs))
				if avg > b {
					b = avg
				}
			}
			if math.IsInf(b, -1) {
				b = 0
			}

			if denom := math.Max(a, b); denom > 0 {
				sum += (a - b) / denom
				count++
			}
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// cohesion is the mean over bubbles of the mean pairwise member similarity.
// Bubbles with fewer than two members are skipped.
func cohesion(latest []*models.BubbleVersion, comments map[string]*models.Comment) float64 {
	var sum float64
	var count int
	for _, v := range latest {
		embs := memberVectors(v, comments)
		if len(embs) < 2 {
			continue
		}
		var pairSum float64
		var pairs int
		for i := range embs {
			for j := i + 1; j < len(embs); j++ {
				pairSum += vectormath.Cosine(embs[i], embs[j])
				pairs++
			}
		}
		sum += pairSum / float64(pairs)
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// separation is the mean cosine similarity between distinct bubble centroids.
func separation(latest []*models.BubbleVersion) float64 {
	var sum float64
	var pairs int
	for i := range latest {
		for j := i + 1; j < len(latest); j++ {
			a, b := latest[i].CentroidEmbedding.Vector, latest[j].CentroidEmbedding.Vector
			if len(a) == 0 || len(b) == 0 {
				continue
			}
			sum += vectormath.Cosine(a, b)
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return sum / float64(pairs)
}

// sizeEntropy is the Shannon entropy (base 2) of the comment distribution
// across bubbles.
func sizeEntropy(sizes []int, totalComments int) float64 {
	if totalComments == 0 {
		return 0
	}
	var entropy float64
	for _, n := range sizes {
		if n == 0 {
			continue
		}
		p := float64(n) / float64(totalComments)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func labelMetrics(latest []*models.BubbleVersion) LabelMetrics {
	var m LabelMetrics
	if len(latest) == 0 {
		return m
	}

	var labelLen, essenceLen, conf float64
	var labeled, withEssence int
	seen := make(map[string]struct{})
	var totalReps, totalMembers int
	for _, v := range latest {
		if v.Label != "" {
			labelLen += float64(len(v.Label))
			labeled++
			seen[v.Label] = struct{}{}
		}
		if v.Essence != "" {
			essenceLen += float64(len(v.Essence))
			withEssence++
		}
		conf += v.Confidence
		totalReps += len(v.RepresentativeCommentIDs)
		totalMembers += len(v.CommentIDs)
	}
	if labeled > 0 {
		m.AvgLabelLength = labelLen / float64(labeled)
		m.LabelUniqueness = float64(len(seen)) / float64(labeled)
	}
	if withEssence > 0 {
		m.AvgEssenceLength = essenceLen / float64(withEssence)
	}
	m.AvgConfidence = conf / float64(len(latest))
	if totalMembers > 0 {
		m.RepresentativeCoverage = float64(totalReps) / float64(totalMembers)
	}
	return m
}

func temporalMetrics(state *models.PostState, comments map[string]*models.Comment) TemporalMetrics {
	var m TemporalMetrics
	versions := state.BubbleVersions
	if len(versions) == 0 {
		return m
	}

	times := make([]float64, 0, len(versions))
	for i := range versions {
		if t, ok := parseTime(versions[i].CreatedAt); ok {
			times = append(times, t)
		}
	}
	if len(times) >= 2 {
		minT, maxT := times[0], times[0]
		for _, t := range times[1:] {
			minT = math.Min(minT, t)
			maxT = math.Max(maxT, t)
		}
		if span := maxT - minT; span > 0 {
			m.VersionCreationRate = float64(len(times)) / span
		}
	}

	byBubble := make(map[string][]float64)
	for i := range versions {
		if t, ok := parseTime(versions[i].CreatedAt); ok {
			byBubble[versions[i].BubbleID] = append(byBubble[versions[i].BubbleID], t)
		}
	}
	var lifetimeSum float64
	var lifetimes int
	var versionCount int
	for _, ts := range byBubble {
		versionCount += len(ts)
		if len(ts) < 2 {
			continue
		}
		minT, maxT := ts[0], ts[0]
		for _, t := range ts[1:] {
			minT = math.Min(minT, t)
			maxT = math.Max(maxT, t)
		}
		lifetimeSum += maxT - minT
		lifetimes++
	}
	if lifetimes > 0 {
		m.AvgBubbleLifetime = lifetimeSum / float64(lifetimes)
	}
	if len(byBubble) > 0 {
		avgVersions := float64(versionCount) / float64(len(byBubble))
		m.Stability = math.Min(1, 1/avgVersions)
	}

	m.Coherence = temporalCoherence(state.LatestVersions(false), comments)
	return m
}

// temporalCoherence maps the average time gap between a bubble's member
// comments through 1/(1+gap/1h), so bubbles whose members arrived within
// minutes of each other score near 1 and slow-drip bubbles decay toward 0.
func temporalCoherence(latest []*models.BubbleVersion, comments map[string]*models.Comment) float64 {
	var sum float64
	var count int
	for _, v := range latest {
		ts := make([]float64, 0, len(v.CommentIDs))
		for _, cid := range v.CommentIDs {
			c, ok := comments[cid]
			if !ok {
				continue
			}
			if t, ok := parseTime(c.CreatedAt); ok {
				ts = append(ts, t)
			}
		}
		if len(ts) < 2 {
			continue
		}
		minT, maxT := ts[0], ts[0]
		for _, t := range ts[1:] {
			minT = math.Min(minT, t)
			maxT = math.Max(maxT, t)
		}
		avgGap := (maxT - minT) / float64(len(ts)-1)
		sum += 1.0 / (1.0 + avgGap/3600.0)
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func memberVectors(v *models.BubbleVersion, comments map[string]*models.Comment) [][]float64 {
	out := make([][]float64, 0, len(v.CommentIDs))
	for _, cid := range v.CommentIDs {
		if c, ok := comments[cid]; ok {
			out = append(out, c.Embedding.Vector)
		}
	}
	return out
}

func parseTime(s string) (float64, bool) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, false
	}
	return float64(t.UnixNano()) / float64(time.Second), true
}
