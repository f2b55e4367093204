// Package store owns all live post state. Each post's ledger is guarded by
// its own mutex: ingest for one post is strictly serialized, posts proceed
// independently. Reads hand out copy-on-read snapshots so evaluation and
// rendering never race with ingest.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/bubbles/internal/eval"
	"github.com/thebtf/bubbles/internal/layout"
	"github.com/thebtf/bubbles/internal/ledger"
	"github.com/thebtf/bubbles/internal/pipeline"
	"github.com/thebtf/bubbles/internal/threadtext"
	"github.com/thebtf/bubbles/pkg/models"
)

// ErrPostNotFound is returned for operations against an unknown post id.
var ErrPostNotFound = errors.New("post not found")

type entry struct {
	mu     sync.Mutex
	ledger *ledger.Ledger
}

// Store is the multi-post registry.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	pipe *pipeline.Pipeline
}

// New creates an empty store.
func New(pipe *pipeline.Pipeline) *Store {
	return &Store{
		entries: make(map[string]*entry),
		pipe:    pipe,
	}
}

// CreatePost registers a new post and returns it.
func (s *Store) CreatePost(title, body string) models.Post {
	post := models.Post{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Title:     title,
		Body:      body,
	}

	s.mu.Lock()
	s.entries[post.ID] = &entry{ledger: ledger.New(post)}
	s.order = append(s.order, post.ID)
	s.mu.Unlock()

	log.Info().Str("post_id", post.ID).Str("title", title).Msg("Post created")
	return post
}

// ListPosts returns summaries of all posts in creation order.
func (s *Store) ListPosts() []models.PostSummary {
	s.mu.RLock()
	ids := append([]string(nil), s.order...)
	s.mu.RUnlock()

	out := make([]models.PostSummary, 0, len(ids))
	for _, id := range ids {
		e, ok := s.lookup(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		post := e.ledger.Post()
		summary := models.PostSummary{
			ID:           post.ID,
			Title:        post.Title,
			CreatedAt:    post.CreatedAt,
			CommentCount: e.ledger.CommentCount(),
			BubbleCount:  len(e.ledger.ActiveBubbles()),
		}
		e.mu.Unlock()
		out = append(out, summary)
	}
	return out
}

// ImportResult summarizes a bulk thread import.
type ImportResult struct {
	Post     models.Post
	Imported int
	Skipped  int
}

// ImportThread parses pasted thread text, creates a post from its header,
// and ingests every parsed comment in display order. A comment whose ingest
// fails is skipped rather than aborting the rest of the import.
func (s *Store) ImportThread(ctx context.Context, text string) ImportResult {
	parsed, comments := threadtext.Parse(text, time.Now().UTC())

	post := s.CreatePost(parsed.Title, parsed.Body)
	result := ImportResult{Post: post}

	for _, c := range comments {
		_, err := s.AddComment(ctx, post.ID, pipeline.IngestRequest{
			AuthorID:   c.Author.ID,
			AuthorName: c.Author.DisplayName,
			Text:       c.Text,
			CreatedAt:  c.CreatedAt,
		})
		if err != nil {
			log.Warn().Err(err).Str("post_id", post.ID).Str("author", c.Author.ID).Msg("Skipping comment during thread import")
			result.Skipped++
			continue
		}
		result.Imported++
	}

	log.Info().
		Str("post_id", post.ID).
		Int("imported", result.Imported).
		Int("skipped", result.Skipped).
		Msg("Thread imported")
	return result
}

// AddComment runs the full ingest pipeline for one comment, then the
// split/merge passes, all under the post's lock.
func (s *Store) AddComment(ctx context.Context, postID string, req pipeline.IngestRequest) (models.Comment, error) {
	e, ok := s.lookup(postID)
	if !ok {
		return models.Comment{}, fmt.Errorf("add comment: %w", ErrPostNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	comment, err := s.pipe.Ingest(ctx, e.ledger, req)
	if err != nil {
		return models.Comment{}, err
	}
	if err := s.pipe.Rebalance(ctx, e.ledger); err != nil {
		return models.Comment{}, err
	}
	return comment, nil
}

// State returns the post's full snapshot with layout hints attached.
// Layout runs outside the post lock; it only reads the copied snapshot.
func (s *Store) State(postID string) (models.PostState, error) {
	e, ok := s.lookup(postID)
	if !ok {
		return models.PostState{}, fmt.Errorf("post state: %w", ErrPostNotFound)
	}

	e.mu.Lock()
	state := e.ledger.Snapshot()
	e.mu.Unlock()

	state.UIHints.Layout = layout.Compute(&state)
	return state, nil
}

// Evaluation scores the post's snapshot, including the threshold sweep.
// The evaluator is built per call from the pipeline's current threshold so
// a config reload is reflected immediately. The evaluation itself runs
// outside the post lock.
func (s *Store) Evaluation(ctx context.Context, postID string) (eval.Report, error) {
	e, ok := s.lookup(postID)
	if !ok {
		return eval.Report{}, fmt.Errorf("evaluate post: %w", ErrPostNotFound)
	}

	e.mu.Lock()
	state := e.ledger.Snapshot()
	runs := e.ledger.Runs()
	e.mu.Unlock()

	evaluator := &eval.Evaluator{Threshold: s.pipe.Config().AssignThreshold}
	return evaluator.EvaluateWithSweep(ctx, &state, runs, eval.DefaultSweepCandidates)
}

// Runs returns the post's pipeline audit records in order.
func (s *Store) Runs(postID string) ([]models.PipelineRun, error) {
	e, ok := s.lookup(postID)
	if !ok {
		return nil, fmt.Errorf("post runs: %w", ErrPostNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Runs(), nil
}

func (s *Store) lookup(postID string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[postID]
	return e, ok
}
