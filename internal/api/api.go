// Package api exposes the engine over HTTP: post management, comment
// ingest, state snapshots, evaluation reports, and a per-post event stream.
package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/bubbles/internal/ledger"
	"github.com/thebtf/bubbles/internal/pipeline"
	"github.com/thebtf/bubbles/internal/provider"
	"github.com/thebtf/bubbles/internal/store"
)

// Server wires the store to HTTP handlers.
type Server struct {
	store       *store.Store
	broadcaster *Broadcaster
}

// NewServer creates the HTTP surface over the given store.
func NewServer(s *store.Store) *Server {
	return &Server{store: s, broadcaster: NewBroadcaster()}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/posts", func(r chi.Router) {
		r.Post("/", s.handleCreatePost)
		r.Get("/", s.handleListPosts)
		r.Post("/import", s.handleImportThread)

		r.Route("/{postID}", func(r chi.Router) {
			r.Post("/comments", s.handleAddComment)
			r.Get("/state", s.handleState)
			r.Get("/evaluation", s.handleEvaluation)
			r.Get("/runs", s.handleRuns)
			r.Get("/events", s.handleEvents)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createPostRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Title == "" || req.Body == "" {
		writeError(w, http.StatusBadRequest, "title and body are required")
		return
	}

	post := s.store.CreatePost(req.Title, req.Body)
	writeJSON(w, http.StatusCreated, post)
}

func (s *Server) handleListPosts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ListPosts())
}

type importThreadRequest struct {
	Text string `json:"text"`
}

type importThreadResponse struct {
	PostID   string `json:"post_id"`
	Title    string `json:"title"`
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
}

// handleImportThread creates a post from pasted thread text and ingests
// its comments in one request.
func (s *Server) handleImportThread(w http.ResponseWriter, r *http.Request) {
	var req importThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	result := s.store.ImportThread(r.Context(), req.Text)
	s.broadcaster.Publish(StateEvent{Type: "state_updated", PostID: result.Post.ID})
	writeJSON(w, http.StatusCreated, importThreadResponse{
		PostID:   result.Post.ID,
		Title:    result.Post.Title,
		Imported: result.Imported,
		Skipped:  result.Skipped,
	})
}

type addCommentRequest struct {
	AuthorID         string `json:"author_id"`
	AuthorName       string `json:"author_name"`
	Text             string `json:"text"`
	ReplyToCommentID string `json:"reply_to_comment_id,omitempty"`
	// CreatedAt is optional RFC3339 for backfilled comments.
	CreatedAt string `json:"created_at,omitempty"`
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "postID")

	var req addCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	comment, err := s.store.AddComment(r.Context(), postID, pipeline.IngestRequest{
		AuthorID:         req.AuthorID,
		AuthorName:       req.AuthorName,
		Text:             req.Text,
		ReplyToCommentID: req.ReplyToCommentID,
		CreatedAt:        req.CreatedAt,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.broadcaster.Publish(StateEvent{Type: "state_updated", PostID: postID, CommentID: comment.ID})
	writeJSON(w, http.StatusCreated, comment)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.store.State(chi.URLParam(r, "postID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleEvaluation(w http.ResponseWriter, r *http.Request) {
	report, err := s.store.Evaluation(r.Context(), chi.URLParam(r, "postID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.Runs(chi.URLParam(r, "postID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.broadcaster.serveStream(w, r, chi.URLParam(r, "postID"))
}

// writeDomainError maps engine errors onto HTTP status codes: unknown post
// is 404, an upstream provider failure is 502, a ledger contract violation
// is a plain 500.
func writeDomainError(w http.ResponseWriter, err error) {
	var perr *provider.ProviderError
	var cviol *ledger.ContractViolation
	switch {
	case errors.Is(err, store.ErrPostNotFound):
		writeError(w, http.StatusNotFound, "post not found")
	case errors.As(err, &perr):
		writeError(w, http.StatusBadGateway, "embedding provider unavailable")
	case errors.As(err, &cviol):
		log.Error().Err(err).Msg("Ledger contract violation")
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		log.Error().Err(err).Msg("Unhandled request error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
