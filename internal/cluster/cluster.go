// Package cluster implements the incremental assignment logic: each new
// comment vector either joins the most similar active bubble or founds a
// new one. The package is pure; it never touches ledger state, which is
// what lets the evaluation engine replay decisions at other thresholds.
package cluster

import (
	"github.com/thebtf/bubbles/pkg/vectormath"
)

// Candidate is an active bubble's latest centroid, as seen by Assign.
// Callers must pass candidates in bubble creation order: ties on
// similarity go to the earliest bubble, which keeps assignment
// deterministic and order-stable.
type Candidate struct {
	BubbleID    string
	Centroid    []float64
	MemberCount int
}

// Decision is the outcome of assigning one vector.
// When CreatedNew is set, BubbleID is empty and Similarity is 0: a new
// bubble has no meaningful similarity to itself.
type Decision struct {
	BubbleID   string
	Similarity float64
	CreatedNew bool
}

// Assign picks the candidate with the highest cosine similarity to vector.
// The threshold is inclusive: a similarity exactly equal to threshold
// assigns. Below threshold (or with no candidates) the decision is to
// create a new bubble.
func Assign(vector []float64, candidates []Candidate, threshold float64) Decision {
	bestID := ""
	bestSim := -1.0

	for _, c := range candidates {
		sim := vectormath.Cosine(vector, c.Centroid)
		if sim > bestSim {
			bestSim = sim
			bestID = c.BubbleID
		}
	}

	if bestID == "" || bestSim < threshold {
		return Decision{CreatedNew: true}
	}
	return Decision{BubbleID: bestID, Similarity: bestSim}
}
