// Package ledger is the append-only store of a post's clustering history:
// comments, bubbles, bubble versions, continuity edges, and pipeline runs.
// Versions and edges are never edited after commit; "current" state is the
// latest version per bubble. All writes go through Commit, which validates
// the whole changeset before touching any state, so a failed commit leaves
// the ledger exactly as it was.
package ledger

import (
	"fmt"
	"sort"

	"github.com/thebtf/bubbles/pkg/models"
)

// ContractViolation is an assertion-grade failure: a commit referenced
// missing members, a representative outside the member set, or shrank a
// lineage without a split/merge edge. These are programming bugs and are
// never silently coerced.
type ContractViolation struct {
	Op     string
	Reason string
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("ledger contract violation in %s: %s", e.Op, e.Reason)
}

// Ledger holds one post's full clustering history. It is not safe for
// concurrent use; the owning store serializes access per post.
type Ledger struct {
	post models.Post

	comments     map[string]*models.Comment
	commentOrder []string

	bubbles     map[string]*models.Bubble
	bubbleOrder []string

	versions     map[string]*models.BubbleVersion
	versionOrder []string

	edges []models.BubbleEdge
	runs  []models.PipelineRun
}

// New creates an empty ledger for post.
func New(post models.Post) *Ledger {
	return &Ledger{
		post:     post,
		comments: make(map[string]*models.Comment),
		bubbles:  make(map[string]*models.Bubble),
		versions: make(map[string]*models.BubbleVersion),
	}
}

// Post returns the owning post.
func (l *Ledger) Post() models.Post { return l.post }

// Comment returns a copy of the comment with the given id.
func (l *Ledger) Comment(id string) (models.Comment, bool) {
	c, ok := l.comments[id]
	if !ok {
		return models.Comment{}, false
	}
	return *c, true
}

// Comments returns copies of all comments in ingest order.
func (l *Ledger) Comments() []models.Comment {
	out := make([]models.Comment, 0, len(l.commentOrder))
	for _, id := range l.commentOrder {
		out = append(out, *l.comments[id])
	}
	return out
}

// CommentCount returns the number of ingested comments.
func (l *Ledger) CommentCount() int { return len(l.commentOrder) }

// NextIngestSeq returns the sequence number the next comment will receive.
func (l *Ledger) NextIngestSeq() int { return len(l.commentOrder) }

// Bubble returns a copy of the bubble with the given id.
func (l *Ledger) Bubble(id string) (models.Bubble, bool) {
	b, ok := l.bubbles[id]
	if !ok {
		return models.Bubble{}, false
	}
	return *b, true
}

// BubbleCount returns the number of bubbles ever created.
func (l *Ledger) BubbleCount() int { return len(l.bubbleOrder) }

// ActiveBubbles returns copies of the active bubbles in creation order.
// Creation order is what makes assignment tie-breaking deterministic.
func (l *Ledger) ActiveBubbles() []models.Bubble {
	out := make([]models.Bubble, 0, len(l.bubbleOrder))
	for _, id := range l.bubbleOrder {
		if b := l.bubbles[id]; b.IsActive {
			out = append(out, *b)
		}
	}
	return out
}

// Version returns a copy of the version with the given id.
func (l *Ledger) Version(id string) (models.BubbleVersion, bool) {
	v, ok := l.versions[id]
	if !ok {
		return models.BubbleVersion{}, false
	}
	return copyVersion(v), true
}

// LatestVersion returns a copy of the bubble's latest version.
func (l *Ledger) LatestVersion(bubbleID string) (models.BubbleVersion, bool) {
	b, ok := l.bubbles[bubbleID]
	if !ok || b.LatestVersionID == "" {
		return models.BubbleVersion{}, false
	}
	return l.Version(b.LatestVersionID)
}

// NextLane returns the lowest lane not used by any active bubble.
func (l *Ledger) NextLane() int {
	used := make(map[int]bool)
	for _, id := range l.bubbleOrder {
		if b := l.bubbles[id]; b.IsActive {
			used[b.Lane] = true
		}
	}
	for lane := 0; ; lane++ {
		if !used[lane] {
			return lane
		}
	}
}

// Runs returns copies of all pipeline runs in order.
func (l *Ledger) Runs() []models.PipelineRun {
	out := make([]models.PipelineRun, len(l.runs))
	copy(out, l.runs)
	return out
}

// Changeset is the unit of mutation: everything one ingested comment (or
// one split/merge pass) adds to the ledger. Commit applies it atomically.
type Changeset struct {
	// Comment is the newly ingested comment, if any. Its assignment fields
	// must already point at the staged version.
	Comment *models.Comment

	// NewBubbles are bubbles created by this changeset.
	NewBubbles []models.Bubble

	// Versions are the new bubble versions, in commit order.
	Versions []models.BubbleVersion

	// Edges link the new versions to their predecessors.
	Edges []models.BubbleEdge

	// DeactivateBubbles lists bubbles retired by a split or merge.
	DeactivateBubbles []string

	// Run is the audit record for this ingest, if any.
	Run *models.PipelineRun
}

// Commit validates the changeset against the current ledger state and
// applies it. On error nothing is applied.
func (l *Ledger) Commit(cs Changeset) error {
	if err := l.validate(cs); err != nil {
		return err
	}

	if cs.Comment != nil {
		c := *cs.Comment
		c.IngestSeq = len(l.commentOrder)
		l.comments[c.ID] = &c
		l.commentOrder = append(l.commentOrder, c.ID)
	}

	for _, b := range cs.NewBubbles {
		nb := b
		l.bubbles[nb.ID] = &nb
		l.bubbleOrder = append(l.bubbleOrder, nb.ID)
	}

	for i := range cs.Versions {
		v := copyVersion(&cs.Versions[i])
		l.versions[v.ID] = &v
		l.versionOrder = append(l.versionOrder, v.ID)
		l.bubbles[v.BubbleID].LatestVersionID = v.ID
	}

	l.edges = append(l.edges, cs.Edges...)

	for _, id := range cs.DeactivateBubbles {
		l.bubbles[id].IsActive = false
	}

	if cs.Run != nil {
		l.runs = append(l.runs, *cs.Run)
	}

	return nil
}

// validate applies the ledger contracts to the whole changeset before any
// state is touched.
func (l *Ledger) validate(cs Changeset) error {
	if cs.Comment != nil {
		if cs.Comment.ID == "" {
			return &ContractViolation{Op: "commit", Reason: "comment has no id"}
		}
		if _, exists := l.comments[cs.Comment.ID]; exists {
			return &ContractViolation{Op: "commit", Reason: fmt.Sprintf("comment %s already ingested", cs.Comment.ID)}
		}
	}

	staged := make(map[string]bool, len(cs.NewBubbles))
	for _, b := range cs.NewBubbles {
		if _, exists := l.bubbles[b.ID]; exists || staged[b.ID] {
			return &ContractViolation{Op: "commit", Reason: fmt.Sprintf("bubble %s already exists", b.ID)}
		}
		staged[b.ID] = true
	}

	stagedVersions := make(map[string]*models.BubbleVersion, len(cs.Versions))
	for i := range cs.Versions {
		v := &cs.Versions[i]
		if _, exists := l.versions[v.ID]; exists || stagedVersions[v.ID] != nil {
			return &ContractViolation{Op: "commit_version", Reason: fmt.Sprintf("version %s already exists", v.ID)}
		}
		if _, ok := l.bubbles[v.BubbleID]; !ok && !staged[v.BubbleID] {
			return &ContractViolation{Op: "commit_version", Reason: fmt.Sprintf("version %s references unknown bubble %s", v.ID, v.BubbleID)}
		}

		members := make(map[string]bool, len(v.CommentIDs))
		for _, cid := range v.CommentIDs {
			if _, ok := l.comments[cid]; !ok && (cs.Comment == nil || cs.Comment.ID != cid) {
				return &ContractViolation{Op: "commit_version", Reason: fmt.Sprintf("version %s references missing comment %s", v.ID, cid)}
			}
			members[cid] = true
		}

		// Representatives must be members, always.
		for _, rid := range v.RepresentativeCommentIDs {
			if !members[rid] {
				return &ContractViolation{Op: "commit_version", Reason: fmt.Sprintf("representative %s is not a member of version %s", rid, v.ID)}
			}
		}

		// Member sets only grow along a lineage, except across split/merge.
		if prev := l.predecessor(v, cs.Edges); prev != nil {
			for _, cid := range prev.CommentIDs {
				if !members[cid] {
					return &ContractViolation{Op: "commit_version", Reason: fmt.Sprintf("version %s drops member %s without a split/merge edge", v.ID, cid)}
				}
			}
		}

		stagedVersions[v.ID] = v
	}

	for _, e := range cs.Edges {
		if !e.Type.Valid() {
			return &ContractViolation{Op: "link", Reason: fmt.Sprintf("unknown edge type %q", e.Type)}
		}
		if _, ok := l.versions[e.FromVersionID]; !ok && stagedVersions[e.FromVersionID] == nil {
			return &ContractViolation{Op: "link", Reason: fmt.Sprintf("edge references unknown source version %s", e.FromVersionID)}
		}
		if stagedVersions[e.ToVersionID] == nil {
			return &ContractViolation{Op: "link", Reason: fmt.Sprintf("edge target %s is not part of this changeset", e.ToVersionID)}
		}
	}

	return nil
}

// predecessor resolves the version whose membership constrains v: the
// bubble's current latest version, unless this changeset links v to it
// through a split_from or merge_from edge (those transitions may shrink
// membership).
func (l *Ledger) predecessor(v *models.BubbleVersion, edges []models.BubbleEdge) *models.BubbleVersion {
	b, ok := l.bubbles[v.BubbleID]
	if !ok || b.LatestVersionID == "" {
		return nil
	}
	for _, e := range edges {
		if e.ToVersionID == v.ID && e.Type != models.EdgeContinue {
			return nil
		}
	}
	return l.versions[b.LatestVersionID]
}

// Snapshot returns a deep copy of the ledger as a serializable PostState.
// Layout hints are filled in by the layout package; the snapshot itself is
// safe to read concurrently with later ingests.
func (l *Ledger) Snapshot() models.PostState {
	state := models.PostState{
		Post:           l.post,
		Comments:       l.Comments(),
		Bubbles:        make([]models.Bubble, 0, len(l.bubbleOrder)),
		BubbleVersions: make([]models.BubbleVersion, 0, len(l.versionOrder)),
		BubbleEdges:    make([]models.BubbleEdge, len(l.edges)),
	}
	for _, id := range l.bubbleOrder {
		state.Bubbles = append(state.Bubbles, *l.bubbles[id])
	}
	for _, id := range l.versionOrder {
		state.BubbleVersions = append(state.BubbleVersions, copyVersion(l.versions[id]))
	}
	copy(state.BubbleEdges, l.edges)
	return state
}

// copyVersion deep-copies a version so committed state can never be
// mutated through a caller-held slice.
func copyVersion(v *models.BubbleVersion) models.BubbleVersion {
	out := *v
	out.CommentIDs = append([]string(nil), v.CommentIDs...)
	out.RepresentativeCommentIDs = append([]string(nil), v.RepresentativeCommentIDs...)
	out.CentroidEmbedding.Vector = append([]float64(nil), v.CentroidEmbedding.Vector...)
	return out
}

// VersionsOf returns copies of all versions of one bubble in commit order.
func (l *Ledger) VersionsOf(bubbleID string) []models.BubbleVersion {
	var out []models.BubbleVersion
	for _, id := range l.versionOrder {
		if v := l.versions[id]; v.BubbleID == bubbleID {
			out = append(out, copyVersion(v))
		}
	}
	return out
}

// EdgesInto returns the edges pointing at the given version, sorted by type
// then source for stable output.
func (l *Ledger) EdgesInto(versionID string) []models.BubbleEdge {
	var out []models.BubbleEdge
	for _, e := range l.edges {
		if e.ToVersionID == versionID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].FromVersionID < out[j].FromVersionID
	})
	return out
}
