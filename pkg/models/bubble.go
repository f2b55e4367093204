package models

// Bubble is a stable cluster identity. All mutable content lives in its
// versions; the bubble record itself only tracks identity, lane, and
// whether the bubble is still active (split and merge deactivate bubbles).
type Bubble struct {
	ID        string `json:"id"`
	PostID    string `json:"post_id"`
	CreatedAt string `json:"created_at"`
	IsActive  bool   `json:"is_active"`

	// Lane is assigned when the bubble first appears and never changes.
	Lane int `json:"lane"`

	LatestVersionID string `json:"latest_bubble_version_id,omitempty"`
}

// TimeWindow is the span of comment activity covered by a bubble version.
type TimeWindow struct {
	StartAt string `json:"start_at"`
	EndAt   string `json:"end_at"`
}

// BubbleVersion is an immutable, append-only snapshot of a bubble's state.
// Every membership change produces a new version; versions are never edited
// after commit. RepresentativeCommentIDs is always a subset of CommentIDs.
type BubbleVersion struct {
	ID       string `json:"id"`
	BubbleID string `json:"bubble_id"`
	PostID   string `json:"post_id"`

	CreatedAt string     `json:"created_at"`
	Window    TimeWindow `json:"window"`

	Label      string  `json:"label"`
	Essence    string  `json:"essence"`
	Confidence float64 `json:"confidence"`

	CommentIDs               []string `json:"comment_ids"`
	RepresentativeCommentIDs []string `json:"representative_comment_ids"`

	CentroidEmbedding Embedding `json:"centroid_embedding"`
}

// MemberCount returns the number of member comments.
func (v *BubbleVersion) MemberCount() int { return len(v.CommentIDs) }

// EdgeType classifies the continuity relationship between two versions.
type EdgeType string

const (
	// EdgeContinue links a version to its direct successor in the same bubble.
	EdgeContinue EdgeType = "continue"
	// EdgeSplitFrom links a pre-split version to each of the versions it split into.
	EdgeSplitFrom EdgeType = "split_from"
	// EdgeMergeFrom links each pre-merge version to the merged version.
	EdgeMergeFrom EdgeType = "merge_from"
)

// Valid reports whether t is one of the known edge types.
func (t EdgeType) Valid() bool {
	switch t {
	case EdgeContinue, EdgeSplitFrom, EdgeMergeFrom:
		return true
	}
	return false
}

// BubbleEdge is a directed continuity link between two bubble versions.
// The edges and versions together form a DAG over time per bubble lineage.
type BubbleEdge struct {
	ID            string   `json:"id"`
	PostID        string   `json:"post_id"`
	FromVersionID string   `json:"from_bubble_version_id"`
	ToVersionID   string   `json:"to_bubble_version_id"`
	Type          EdgeType `json:"type"`
	Weight        float64  `json:"weight"`
}
