package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/bubbles/internal/coordinator"
	"github.com/thebtf/bubbles/internal/pipeline"
	"github.com/thebtf/bubbles/internal/provider"
	"github.com/thebtf/bubbles/pkg/models"
)

type StoreSuite struct {
	suite.Suite
	store *Store
	pipe  *pipeline.Pipeline
}

func (s *StoreSuite) SetupTest() {
	coord, err := coordinator.New(
		provider.NewLocalLabeler(),
		provider.NewLocalVoter(),
		coordinator.Config{MinBubbleSizeForLabel: 2, MaxRepresentatives: 5},
	)
	require.NoError(s.T(), err)

	s.pipe = pipeline.New(provider.NewLocalEmbedder(32), coord, nil, pipeline.Config{AssignThreshold: 0.5})
	s.store = New(s.pipe)
}

func (s *StoreSuite) TestCreateAndListPosts() {
	p1 := s.store.CreatePost("Tabs or spaces?", "The eternal question.")
	p2 := s.store.CreatePost("Dark mode", "Should we ship it?")

	summaries := s.store.ListPosts()
	s.Require().Len(summaries, 2)
	s.Equal(p1.ID, summaries[0].ID)
	s.Equal(p2.ID, summaries[1].ID)
	s.Equal("Tabs or spaces?", summaries[0].Title)
	s.Equal(0, summaries[0].CommentCount)
}

func (s *StoreSuite) TestAddCommentUpdatesCounts() {
	post := s.store.CreatePost("Tabs or spaces?", "The eternal question.")

	c, err := s.store.AddComment(context.Background(), post.ID, pipeline.IngestRequest{
		AuthorID: "a1", AuthorName: "Sam", Text: "tabs every single time",
	})
	s.Require().NoError(err)
	s.Equal(post.ID, c.PostID)
	s.NotEmpty(c.AssignedBubbleID)

	summaries := s.store.ListPosts()
	s.Require().Len(summaries, 1)
	s.Equal(1, summaries[0].CommentCount)
	s.Equal(1, summaries[0].BubbleCount)
}

func (s *StoreSuite) TestUnknownPost() {
	_, err := s.store.AddComment(context.Background(), "missing", pipeline.IngestRequest{Text: "hello"})
	s.True(errors.Is(err, ErrPostNotFound))

	_, err = s.store.State("missing")
	s.True(errors.Is(err, ErrPostNotFound))

	_, err = s.store.Evaluation(context.Background(), "missing")
	s.True(errors.Is(err, ErrPostNotFound))

	_, err = s.store.Runs("missing")
	s.True(errors.Is(err, ErrPostNotFound))
}

func (s *StoreSuite) TestStateIncludesLayoutHints() {
	post := s.store.CreatePost("Tabs or spaces?", "The eternal question.")
	_, err := s.store.AddComment(context.Background(), post.ID, pipeline.IngestRequest{
		AuthorID: "a1", Text: "tabs every single time",
	})
	s.Require().NoError(err)

	state, err := s.store.State(post.ID)
	s.Require().NoError(err)
	s.Len(state.Comments, 1)
	s.Len(state.Bubbles, 1)
	s.Len(state.UIHints.Layout.BubbleVersionPositions, len(state.BubbleVersions))
}

func (s *StoreSuite) TestSnapshotIsolatedFromLaterIngest() {
	post := s.store.CreatePost("Tabs or spaces?", "The eternal question.")
	_, err := s.store.AddComment(context.Background(), post.ID, pipeline.IngestRequest{
		AuthorID: "a1", Text: "tabs every single time",
	})
	s.Require().NoError(err)

	before, err := s.store.State(post.ID)
	s.Require().NoError(err)

	_, err = s.store.AddComment(context.Background(), post.ID, pipeline.IngestRequest{
		AuthorID: "a2", Text: "spaces render the same everywhere",
	})
	s.Require().NoError(err)

	s.Len(before.Comments, 1)
}

func (s *StoreSuite) TestEvaluationAndRuns() {
	post := s.store.CreatePost("Tabs or spaces?", "The eternal question.")
	for _, text := range []string{
		"tabs every single time",
		"tabs every single day",
		"coffee espresso brewing temperature",
	} {
		_, err := s.store.AddComment(context.Background(), post.ID, pipeline.IngestRequest{AuthorID: "a1", Text: text})
		s.Require().NoError(err)
	}

	report, err := s.store.Evaluation(context.Background(), post.ID)
	s.Require().NoError(err)
	s.Len(report.Decisions, 3)
	s.NotEmpty(report.Threshold.Sweep)
	s.Equal(3, report.Metrics.Clustering.NumComments)

	runs, err := s.store.Runs(post.ID)
	s.Require().NoError(err)
	s.Len(runs, 3)
}

// A threshold reload must show up in the next evaluation report, not just
// in subsequent ingests.
func (s *StoreSuite) TestEvaluationReflectsReloadedThreshold() {
	post := s.store.CreatePost("Tabs or spaces?", "The eternal question.")
	_, err := s.store.AddComment(context.Background(), post.ID, pipeline.IngestRequest{AuthorID: "a1", Text: "tabs every single time"})
	s.Require().NoError(err)

	report, err := s.store.Evaluation(context.Background(), post.ID)
	s.Require().NoError(err)
	s.Equal(0.5, report.Threshold.CurrentThreshold)

	cfg := s.pipe.Config()
	cfg.AssignThreshold = 0.7
	s.pipe.SetConfig(cfg)

	report, err = s.store.Evaluation(context.Background(), post.ID)
	s.Require().NoError(err)
	s.Equal(0.7, report.Threshold.CurrentThreshold)
}

func (s *StoreSuite) TestImportThread() {
	text := "Tabs or spaces?\n" +
		"The team is split, settle it.\n" +
		"Upvote\n" +
		"u/indent_fan avatar\n" +
		"indent_fan\n" +
		"OP\n" +
		"2h ago\n" +
		"tabs every single time\n" +
		"Upvote\n" +
		"Downvote\n" +
		"u/space_cadet avatar\n" +
		"space_cadet\n" +
		"1h ago\n" +
		"spaces render the same everywhere\n" +
		"Upvote\n" +
		"Downvote\n"

	result := s.store.ImportThread(context.Background(), text)
	s.Equal(2, result.Imported)
	s.Equal(0, result.Skipped)
	s.Equal("Tabs or spaces?", result.Post.Title)

	state, err := s.store.State(result.Post.ID)
	s.Require().NoError(err)
	s.Require().Len(state.Comments, 2)

	// Parsed relative times survive into the ledger, oldest first.
	byAuthor := make(map[string]models.Comment)
	for _, c := range state.Comments {
		byAuthor[c.Author.ID] = c
	}
	s.Equal("indent_fan (OP)", byAuthor["indent_fan"].Author.DisplayName)
	s.Less(byAuthor["indent_fan"].CreatedAt, byAuthor["space_cadet"].CreatedAt)
}

// Posts are independent: parallel ingest into different posts must not
// interleave state.
func (s *StoreSuite) TestPostsIngestIndependently() {
	posts := make([]models.Post, 4)
	for i := range posts {
		posts[i] = s.store.CreatePost("Post", "Body")
	}

	var wg sync.WaitGroup
	for _, post := range posts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, text := range []string{
				"tabs every single time",
				"spaces render the same everywhere",
				"tabs every single day",
			} {
				_, err := s.store.AddComment(context.Background(), post.ID, pipeline.IngestRequest{AuthorID: "a1", Text: text})
				s.NoError(err)
			}
		}()
	}
	wg.Wait()

	for _, post := range posts {
		state, err := s.store.State(post.ID)
		s.Require().NoError(err)
		s.Len(state.Comments, 3)
	}
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}
