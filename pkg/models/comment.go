package models

// Vote is a stance classification of a comment relative to its post.
type Vote string

const (
	VoteAgree    Vote = "agree"
	VoteDisagree Vote = "disagree"
	VotePass     Vote = "pass"
)

// Valid reports whether v is one of the known vote values.
func (v Vote) Valid() bool {
	switch v {
	case VoteAgree, VoteDisagree, VotePass:
		return true
	}
	return false
}

// Author identifies the writer of a comment.
type Author struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Comment is a single ingested comment. Immutable once created except for
// the assignment and vote fields, which are set exactly once during ingest.
type Comment struct {
	ID               string `json:"id"`
	PostID           string `json:"post_id"`
	CreatedAt        string `json:"created_at"`
	Author           Author `json:"author"`
	Text             string `json:"text"`
	ReplyToCommentID string `json:"reply_to_comment_id,omitempty"`

	Embedding Embedding `json:"embedding"`

	// IngestSeq is the zero-based position of this comment in the post's
	// ingest order. Layout time coordinates are derived from it.
	IngestSeq int `json:"ingest_seq"`

	AssignedBubbleID        string `json:"assigned_bubble_id,omitempty"`
	AssignedBubbleVersionID string `json:"assigned_bubble_version_id,omitempty"`
	Vote                    Vote   `json:"vote,omitempty"`
}
