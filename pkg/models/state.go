package models

// BubblePosition is a rendering hint for one bubble version: a fixed lane,
// a time coordinate derived from ingest order, and a bounded size.
type BubblePosition struct {
	Lane int     `json:"lane"`
	T    float64 `json:"t"`
	Size float64 `json:"size"`
}

// LayoutHints maps bubble version ids to their positions.
type LayoutHints struct {
	BubbleVersionPositions map[string]BubblePosition `json:"bubble_version_positions"`
}

// UIHints bundles all rendering hints attached to a post state.
type UIHints struct {
	Layout LayoutHints `json:"layout"`
}

// PostState is the serializable snapshot of everything a rendering or
// transport layer may depend on. It is produced copy-on-read: mutating a
// PostState never affects live engine state.
type PostState struct {
	Post           Post            `json:"post"`
	Comments       []Comment       `json:"comments"`
	Bubbles        []Bubble        `json:"bubbles"`
	BubbleVersions []BubbleVersion `json:"bubble_versions"`
	BubbleEdges    []BubbleEdge    `json:"bubble_edges"`
	UIHints        UIHints         `json:"ui_hints"`
}

// CommentsByID indexes the snapshot's comments.
func (s *PostState) CommentsByID() map[string]*Comment {
	m := make(map[string]*Comment, len(s.Comments))
	for i := range s.Comments {
		m[s.Comments[i].ID] = &s.Comments[i]
	}
	return m
}

// BubblesByID indexes the snapshot's bubbles.
func (s *PostState) BubblesByID() map[string]*Bubble {
	m := make(map[string]*Bubble, len(s.Bubbles))
	for i := range s.Bubbles {
		m[s.Bubbles[i].ID] = &s.Bubbles[i]
	}
	return m
}

// VersionsByID indexes the snapshot's bubble versions.
func (s *PostState) VersionsByID() map[string]*BubbleVersion {
	m := make(map[string]*BubbleVersion, len(s.BubbleVersions))
	for i := range s.BubbleVersions {
		m[s.BubbleVersions[i].ID] = &s.BubbleVersions[i]
	}
	return m
}

// LatestVersions returns the latest version of every bubble, in bubble
// creation order. Inactive bubbles are included when includeInactive is set.
func (s *PostState) LatestVersions(includeInactive bool) []*BubbleVersion {
	byID := s.VersionsByID()
	out := make([]*BubbleVersion, 0, len(s.Bubbles))
	for i := range s.Bubbles {
		b := &s.Bubbles[i]
		if !includeInactive && !b.IsActive {
			continue
		}
		if v, ok := byID[b.LatestVersionID]; ok {
			out = append(out, v)
		}
	}
	return out
}
