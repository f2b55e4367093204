// Package layout derives stable rendering positions for bubble versions.
// It consumes ledger snapshots and produces (lane, t, size) hints; it does
// no rendering itself. The same snapshot always yields the same layout.
package layout

import (
	"math"

	"github.com/thebtf/bubbles/pkg/models"
)

const (
	// minSize and maxSize bound version sizes to a rendering-friendly range.
	minSize = 1.0
	maxSize = 12.0
)

// Compute assigns each version a position: t is the ingest index of its
// newest member, lane is the owning bubble's fixed lane, and size grows
// with the square root of the member count, clamped to [minSize, maxSize].
func Compute(state *models.PostState) models.LayoutHints {
	hints := models.LayoutHints{
		BubbleVersionPositions: make(map[string]models.BubblePosition, len(state.BubbleVersions)),
	}

	seqByComment := make(map[string]int, len(state.Comments))
	for _, c := range state.Comments {
		seqByComment[c.ID] = c.IngestSeq
	}
	laneByBubble := make(map[string]int, len(state.Bubbles))
	for _, b := range state.Bubbles {
		laneByBubble[b.ID] = b.Lane
	}

	for i := range state.BubbleVersions {
		v := &state.BubbleVersions[i]

		t := 0
		for _, cid := range v.CommentIDs {
			if seq, ok := seqByComment[cid]; ok && seq > t {
				t = seq
			}
		}

		size := minSize
		if n := len(v.CommentIDs); n > 0 {
			size = math.Sqrt(float64(n))
		}
		size = math.Max(minSize, math.Min(maxSize, size))

		hints.BubbleVersionPositions[v.ID] = models.BubblePosition{
			Lane: laneByBubble[v.BubbleID],
			T:    float64(t),
			Size: size,
		}
	}

	return hints
}
