package cluster

import (
	"github.com/thebtf/bubbles/pkg/vectormath"
)

// minSplitSize is the smallest membership eligible for a split pass.
// Below this, low cohesion is noise rather than two topics.
const minSplitSize = 4

// Member is one comment's contribution to a bubble, in ingest order.
type Member struct {
	ID     string
	Vector []float64
}

// ShouldSplit reports whether a bubble's members have drifted far enough
// from their centroid to warrant a two-way split: the average
// member-to-centroid similarity has fallen below splitThreshold.
func ShouldSplit(members []Member, centroid []float64, splitThreshold float64) bool {
	if len(members) < minSplitSize {
		return false
	}
	var sum float64
	for _, m := range members {
		sum += vectormath.Cosine(m.Vector, centroid)
	}
	return sum/float64(len(members)) < splitThreshold
}

// TwoWaySplit partitions members into two non-empty groups. The seeds are
// the pair of members with the lowest mutual similarity (earliest pair on
// ties); every other member joins the seed it is more similar to (first
// seed on ties). Ingest order is preserved within each group, so the
// partition is a deterministic function of the input.
func TwoWaySplit(members []Member) (first, second []Member) {
	if len(members) < 2 {
		return members, nil
	}

	seedA, seedB := 0, 1
	lowest := vectormath.Cosine(members[0].Vector, members[1].Vector)
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			if sim := vectormath.Cosine(members[i].Vector, members[j].Vector); sim < lowest {
				lowest = sim
				seedA, seedB = i, j
			}
		}
	}

	assignToFirst := make([]bool, len(members))
	assignToFirst[seedA] = true
	for i, m := range members {
		if i == seedA || i == seedB {
			continue
		}
		simA := vectormath.Cosine(m.Vector, members[seedA].Vector)
		simB := vectormath.Cosine(m.Vector, members[seedB].Vector)
		assignToFirst[i] = simA >= simB
	}

	for i, m := range members {
		if assignToFirst[i] {
			first = append(first, m)
		} else {
			second = append(second, m)
		}
	}
	return first, second
}

// MergePair identifies two candidates whose centroids have converged.
type MergePair struct {
	// AbsorberID is the earlier-created bubble; it survives the merge.
	AbsorberID string
	// AbsorbedID is the later bubble folded into the absorber.
	AbsorbedID string
	Similarity float64
}

// FindMergePair scans candidate pairs (in creation order) for the highest
// centroid similarity at or above mergeThreshold. The earlier-created
// bubble of the pair absorbs. Returns ok=false when no pair qualifies.
func FindMergePair(candidates []Candidate, mergeThreshold float64) (MergePair, bool) {
	best := MergePair{Similarity: -1}
	found := false

	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			sim := vectormath.Cosine(candidates[i].Centroid, candidates[j].Centroid)
			if sim < mergeThreshold {
				continue
			}
			if sim > best.Similarity {
				best = MergePair{
					AbsorberID: candidates[i].BubbleID,
					AbsorbedID: candidates[j].BubbleID,
					Similarity: sim,
				}
				found = true
			}
		}
	}
	return best, found
}
