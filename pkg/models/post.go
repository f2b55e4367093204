package models

// Post is the discussion thread that owns comments and bubbles.
type Post struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	Title     string `json:"title"`
	Body      string `json:"body"`
}

// PostSummary is the list-view projection of a post.
type PostSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CreatedAt    string `json:"created_at"`
	CommentCount int    `json:"comment_count"`
	BubbleCount  int    `json:"bubble_count"`
}
