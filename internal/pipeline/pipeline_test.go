package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/bubbles/internal/coordinator"
	"github.com/thebtf/bubbles/internal/ledger"
	"github.com/thebtf/bubbles/internal/provider"
	"github.com/thebtf/bubbles/pkg/models"
)

func newTestPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	coord, err := coordinator.New(
		provider.NewLocalLabeler(),
		provider.NewLocalVoter(),
		coordinator.Config{MinBubbleSizeForLabel: 2, MaxRepresentatives: 5},
	)
	require.NoError(t, err)
	return New(provider.NewLocalEmbedder(32), coord, nil, cfg)
}

func newTestLedger() *ledger.Ledger {
	return ledger.New(models.Post{ID: "p1", Title: "Tabs or spaces?"})
}

func ingest(t *testing.T, p *Pipeline, l *ledger.Ledger, text string) models.Comment {
	t.Helper()
	c, err := p.Ingest(context.Background(), l, IngestRequest{
		AuthorID:   "a1",
		AuthorName: "Sam",
		Text:       text,
	})
	require.NoError(t, err)
	return c
}

func TestIngestFirstCommentCreatesBubble(t *testing.T) {
	p := newTestPipeline(t, Config{AssignThreshold: 0.5})
	l := newTestLedger()

	c := ingest(t, p, l, "tabs make indentation consistent")

	require.Equal(t, 1, l.BubbleCount())
	assert.Equal(t, 0, c.IngestSeq)
	assert.NotEmpty(t, c.AssignedBubbleID)
	assert.NotEmpty(t, c.AssignedBubbleVersionID)

	v, ok := l.LatestVersion(c.AssignedBubbleID)
	require.True(t, ok)
	assert.Equal(t, []string{c.ID}, v.CommentIDs)
	assert.NotEmpty(t, v.Label)
	assert.Equal(t, v.Window.StartAt, v.Window.EndAt)

	runs := l.Runs()
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Decision.CreatedNewBubble)
	// A new bubble records similarity 0, not the similarity to itself.
	assert.Equal(t, 0.0, runs[0].Decision.SimilarityToAssigned)
}

func TestIngestSimilarCommentsShareBubble(t *testing.T) {
	p := newTestPipeline(t, Config{AssignThreshold: 0.5})
	l := newTestLedger()

	c1 := ingest(t, p, l, "tabs are better for indentation")
	c2 := ingest(t, p, l, "tabs are better for indentation style")

	assert.Equal(t, 1, l.BubbleCount())
	assert.Equal(t, c1.AssignedBubbleID, c2.AssignedBubbleID)

	v, ok := l.LatestVersion(c1.AssignedBubbleID)
	require.True(t, ok)
	assert.Equal(t, []string{c1.ID, c2.ID}, v.CommentIDs)

	edges := l.EdgesInto(v.ID)
	require.Len(t, edges, 1)
	assert.Equal(t, models.EdgeContinue, edges[0].Type)
	assert.Greater(t, edges[0].Weight, 0.5)

	runs := l.Runs()
	require.Len(t, runs, 2)
	assert.False(t, runs[1].Decision.CreatedNewBubble)
}

func TestIngestDissimilarCommentsGetOwnBubbles(t *testing.T) {
	p := newTestPipeline(t, Config{AssignThreshold: 0.9})
	l := newTestLedger()

	c1 := ingest(t, p, l, "tabs indentation consistency formatting")
	c2 := ingest(t, p, l, "coffee espresso brewing temperature")

	assert.Equal(t, 2, l.BubbleCount())
	assert.NotEqual(t, c1.AssignedBubbleID, c2.AssignedBubbleID)

	b1, _ := l.Bubble(c1.AssignedBubbleID)
	b2, _ := l.Bubble(c2.AssignedBubbleID)
	assert.Equal(t, 0, b1.Lane)
	assert.Equal(t, 1, b2.Lane)
}

// fixedEmbedder returns scripted vectors keyed by exact text.
type fixedEmbedder struct {
	vectors map[string][]float64
	dim     int
}

func (e *fixedEmbedder) Dim() int          { return e.dim }
func (e *fixedEmbedder) ModelName() string { return "fixed-test" }

func (e *fixedEmbedder) Embed(_ context.Context, text string) (models.Embedding, error) {
	vec, ok := e.vectors[text]
	if !ok {
		return models.Embedding{}, &provider.ProviderError{Op: "embed", Err: fmt.Errorf("no vector scripted for %q", text)}
	}
	return models.Embedding{
		Vector: append([]float64(nil), vec...),
		Dim:    e.dim,
		Model:  "fixed-test",
		Hash:   models.ContentHash("fixed-test", text),
	}, nil
}

func (e *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]models.Embedding, error) {
	out := make([]models.Embedding, 0, len(texts))
	for _, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, emb)
	}
	return out, nil
}

// Ten comments forming five near-duplicate pairs. Each pair occupies its
// own pair of axes, so in-pair similarity is ~0.99 and cross-pair
// similarity is 0; any threshold between those bands partitions the
// comments into exactly five two-member bubbles.
func TestIngestPartitionsNearDuplicatePairs(t *testing.T) {
	const dim = 10
	vectors := make(map[string][]float64)
	var texts []string
	for i := 0; i < 5; i++ {
		a := make([]float64, dim)
		a[2*i] = 1
		b := make([]float64, dim)
		b[2*i] = 0.9
		b[2*i+1] = 0.1

		first := fmt.Sprintf("topic %d original phrasing", i+1)
		second := fmt.Sprintf("topic %d restated phrasing", i+1)
		vectors[first] = a
		vectors[second] = b
		texts = append(texts, first, second)
	}

	coord, err := coordinator.New(
		provider.NewLocalLabeler(),
		provider.NewLocalVoter(),
		coordinator.Config{MinBubbleSizeForLabel: 2, MaxRepresentatives: 5},
	)
	require.NoError(t, err)
	p := New(&fixedEmbedder{vectors: vectors, dim: dim}, coord, nil, Config{AssignThreshold: 0.5})
	l := newTestLedger()

	for _, text := range texts {
		ingest(t, p, l, text)
	}

	active := l.ActiveBubbles()
	require.Len(t, active, 5)
	for _, b := range active {
		v, ok := l.LatestVersion(b.ID)
		require.True(t, ok)
		assert.Len(t, v.CommentIDs, 2, "bubble %s", b.ID)
	}
}

func TestIngestEmbedFailureLeavesLedgerUntouched(t *testing.T) {
	p := newTestPipeline(t, Config{AssignThreshold: 0.5})
	l := newTestLedger()

	_, err := p.Ingest(context.Background(), l, IngestRequest{AuthorID: "a1", Text: ""})
	require.Error(t, err)

	var perr *provider.ProviderError
	assert.True(t, errors.As(err, &perr))
	assert.Equal(t, 0, l.CommentCount())
	assert.Equal(t, 0, l.BubbleCount())
	assert.Empty(t, l.Runs())
}

func TestIngestRecordsVote(t *testing.T) {
	p := newTestPipeline(t, Config{AssignThreshold: 0.5})
	l := newTestLedger()

	c := ingest(t, p, l, "yes absolutely agree with this")
	assert.Equal(t, models.VoteAgree, c.Vote)

	c = ingest(t, p, l, "mentioning neither stance here")
	assert.Equal(t, models.VotePass, c.Vote)
}

// Replaying the same comment sequence into a fresh ledger must reproduce
// the same clustering structure.
func TestIngestDeterministicReplay(t *testing.T) {
	texts := []string{
		"tabs are the only sane indentation",
		"spaces align code the same everywhere",
		"tabs let everyone pick their width",
		"spaces spaces spaces every time",
	}

	run := func() []int {
		p := newTestPipeline(t, Config{AssignThreshold: 0.3})
		l := newTestLedger()
		for _, text := range texts {
			ingest(t, p, l, text)
		}
		var sizes []int
		for _, b := range l.ActiveBubbles() {
			v, _ := l.LatestVersion(b.ID)
			sizes = append(sizes, len(v.CommentIDs))
		}
		return sizes
	}

	assert.Equal(t, run(), run())
}

func TestRebalanceSplitsDriftedBubble(t *testing.T) {
	split := 0.95
	p := newTestPipeline(t, Config{AssignThreshold: 0.0, SplitThreshold: &split})
	l := newTestLedger()

	// Threshold zero funnels everything into one bubble regardless of topic.
	ingest(t, p, l, "tabs indentation formatting codestyle")
	ingest(t, p, l, "tabs indentation formatting width")
	ingest(t, p, l, "espresso roast brewing temperature")
	ingest(t, p, l, "espresso roast brewing grinder")
	require.Equal(t, 1, l.BubbleCount())

	oldBubble := l.ActiveBubbles()[0]
	oldLatest, _ := l.LatestVersion(oldBubble.ID)

	require.NoError(t, p.Rebalance(context.Background(), l))

	active := l.ActiveBubbles()
	require.Len(t, active, 2)
	b, _ := l.Bubble(oldBubble.ID)
	assert.False(t, b.IsActive)

	// Both children descend from the old latest version via split_from
	// edges, and between them they hold all four comments.
	total := 0
	for _, child := range active {
		v, ok := l.LatestVersion(child.ID)
		require.True(t, ok)
		total += len(v.CommentIDs)

		edges := l.EdgesInto(v.ID)
		require.Len(t, edges, 1)
		assert.Equal(t, models.EdgeSplitFrom, edges[0].Type)
		assert.Equal(t, oldLatest.ID, edges[0].FromVersionID)
	}
	assert.Equal(t, 4, total)

	// The first child reuses the retired bubble's lane.
	assert.Equal(t, oldBubble.Lane, active[0].Lane)
}

func TestRebalanceMergesCloseBubbles(t *testing.T) {
	merge := 0.05
	p := newTestPipeline(t, Config{AssignThreshold: 0.99, MergeThreshold: &merge})
	l := newTestLedger()

	c1 := ingest(t, p, l, "performance matters deeply here")
	c2 := ingest(t, p, l, "performance improvements arrived today")
	require.Equal(t, 2, l.BubbleCount())

	require.NoError(t, p.Rebalance(context.Background(), l))

	active := l.ActiveBubbles()
	require.Len(t, active, 1)
	// The earlier bubble absorbs.
	assert.Equal(t, c1.AssignedBubbleID, active[0].ID)

	absorbed, _ := l.Bubble(c2.AssignedBubbleID)
	assert.False(t, absorbed.IsActive)

	v, ok := l.LatestVersion(active[0].ID)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{c1.ID, c2.ID}, v.CommentIDs)

	edges := l.EdgesInto(v.ID)
	require.Len(t, edges, 2)
	for _, e := range edges {
		assert.Equal(t, models.EdgeMergeFrom, e.Type)
	}
}

func TestRebalanceNoThresholdsIsNoop(t *testing.T) {
	p := newTestPipeline(t, Config{AssignThreshold: 0.9})
	l := newTestLedger()
	ingest(t, p, l, "tabs indentation consistency formatting")
	ingest(t, p, l, "coffee espresso brewing temperature")

	before := l.Snapshot()
	require.NoError(t, p.Rebalance(context.Background(), l))
	after := l.Snapshot()

	assert.Equal(t, before.Bubbles, after.Bubbles)
	assert.Equal(t, before.BubbleVersions, after.BubbleVersions)
}

func TestIngestAssignsEachCommentOnce(t *testing.T) {
	p := newTestPipeline(t, Config{AssignThreshold: 0.3})
	l := newTestLedger()

	for _, text := range []string{
		"tabs win on accessibility grounds",
		"spaces render predictably in review tools",
		"tabs win for configurable width",
	} {
		ingest(t, p, l, text)
	}

	seen := make(map[string]int)
	for _, b := range l.ActiveBubbles() {
		v, _ := l.LatestVersion(b.ID)
		for _, cid := range v.CommentIDs {
			seen[cid]++
		}
	}
	require.Len(t, seen, l.CommentCount())
	for cid, n := range seen {
		assert.Equal(t, 1, n, "comment %s appears in %d bubbles", cid, n)
	}
}
