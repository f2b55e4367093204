package models

// ProviderMode selects how an external provider is backed.
type ProviderMode string

const (
	ProviderModeLive  ProviderMode = "live"
	ProviderModeLocal ProviderMode = "local"
)

// ClusterDecision records the clustering outcome for one ingested comment.
type ClusterDecision struct {
	AssignedBubbleID     string  `json:"assigned_bubble_id"`
	SimilarityToAssigned float64 `json:"similarity_to_assigned"`
	Threshold            float64 `json:"threshold"`
	CreatedNewBubble     bool    `json:"created_new_bubble"`
}

// RunLabeler records which labeling mode served a pipeline run and the
// representative set it settled on.
type RunLabeler struct {
	Mode                     ProviderMode `json:"mode"`
	RepresentativeCommentIDs []string     `json:"representative_comment_ids"`
}

// PipelineRun is the append-only audit record for one ingested comment.
// Runs are never mutated after being recorded.
type PipelineRun struct {
	ID             string          `json:"id"`
	PostID         string          `json:"post_id"`
	CommentID      string          `json:"comment_id"`
	CreatedAt      string          `json:"created_at"`
	EmbeddingModel string          `json:"embedding_model"`
	Decision       ClusterDecision `json:"cluster_decision"`
	Labeler        RunLabeler      `json:"labeler"`
}
