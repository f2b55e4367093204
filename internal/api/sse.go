package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// sseWriteTimeout bounds writes to a single client so one stale connection
// cannot stall a broadcast.
const sseWriteTimeout = 2 * time.Second

// StateEvent notifies stream subscribers that a post's state changed and
// should be refetched.
type StateEvent struct {
	Type      string `json:"type"`
	PostID    string `json:"post_id"`
	CommentID string `json:"comment_id,omitempty"`
}

type sseClient struct {
	id      string
	postID  string
	writer  http.ResponseWriter
	flusher http.Flusher
	done    chan struct{}
}

// Broadcaster fans post state events out to Server-Sent Events subscribers.
// Clients subscribe to a single post and only receive that post's events.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]*sseClient
	nextID  int
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[string]*sseClient)}
}

// Publish sends the event to every subscriber of its post. Dead or slow
// clients are dropped.
func (b *Broadcaster) Publish(event StateEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal state event")
		return
	}
	message := fmt.Sprintf("data: %s\n\n", payload)

	b.mu.RLock()
	targets := make([]*sseClient, 0, len(b.clients))
	for _, c := range b.clients {
		if c.postID == event.PostID {
			targets = append(targets, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range targets {
		if !b.write(c, message) {
			b.drop(c.id)
		}
	}
}

// write delivers one message under the write timeout; false means the
// client is dead.
func (b *Broadcaster) write(c *sseClient, message string) bool {
	done := make(chan bool, 1)
	go func() {
		if _, err := c.writer.Write([]byte(message)); err != nil {
			done <- false
			return
		}
		c.flusher.Flush()
		done <- true
	}()

	select {
	case ok := <-done:
		return ok
	case <-time.After(sseWriteTimeout):
		log.Warn().Str("client_id", c.id).Msg("Event stream write timed out, dropping client")
		return false
	case <-c.done:
		return true
	}
}

func (b *Broadcaster) add(postID string, w http.ResponseWriter) (*sseClient, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	b.nextID++
	c := &sseClient{
		id:      fmt.Sprintf("client-%d", b.nextID),
		postID:  postID,
		writer:  w,
		flusher: flusher,
		done:    make(chan struct{}),
	}
	b.clients[c.id] = c
	total := len(b.clients)
	b.mu.Unlock()

	log.Debug().Str("client_id", c.id).Str("post_id", postID).Int("total", total).Msg("Event stream client connected")
	return c, nil
}

func (b *Broadcaster) drop(id string) {
	b.mu.Lock()
	c, ok := b.clients[id]
	if ok {
		delete(b.clients, id)
	}
	total := len(b.clients)
	b.mu.Unlock()

	if ok {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
		log.Debug().Str("client_id", id).Int("total", total).Msg("Event stream client disconnected")
	}
}

// ClientCount returns the number of connected subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// serveStream handles one SSE subscription until the client disconnects.
func (b *Broadcaster) serveStream(w http.ResponseWriter, r *http.Request, postID string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c, err := b.add(postID, w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.drop(c.id)

	fmt.Fprintf(w, "data: {\"type\":\"connected\",\"post_id\":%q}\n\n", postID)
	c.flusher.Flush()

	select {
	case <-r.Context().Done():
	case <-c.done:
	}
}
