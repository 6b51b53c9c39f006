package testsupport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"forkful/internal/extraction"
)

// Backend is an in-process fake of the extraction API covering every endpoint
// the client calls: submission, snapshot fetch, the SSE stream, cancellation,
// recipe actions, and the video relay.
type Backend struct {
	tb  testing.TB
	srv *httptest.Server

	mu       sync.Mutex
	seq      int
	jobs     map[string]extraction.Payload
	watchers map[string][]chan extraction.Payload

	Saved     []string
	Deleted   []string
	Cooked    []string
	Favorites map[string]bool
	Uploads   map[string][]byte
	Resumed   map[string]string
}

// NewBackend starts the fake server; it shuts down with the test.
func NewBackend(tb testing.TB) *Backend {
	tb.Helper()
	b := &Backend{
		tb:        tb,
		jobs:      make(map[string]extraction.Payload),
		watchers:  make(map[string][]chan extraction.Payload),
		Favorites: make(map[string]bool),
		Uploads:   make(map[string][]byte),
		Resumed:   make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/extractions", b.handleSubmit)
	mux.HandleFunc("GET /v1/extractions/{id}", b.handleJob)
	mux.HandleFunc("DELETE /v1/extractions/{id}", b.handleCancel)
	mux.HandleFunc("POST /v1/extractions/{id}/video", b.handleUpload)
	mux.HandleFunc("POST /v1/extractions/{id}/resume", b.handleResume)
	mux.HandleFunc("POST /v1/recipes/{id}/save", b.handleSave)
	mux.HandleFunc("DELETE /v1/recipes/{id}", b.handleDelete)
	mux.HandleFunc("POST /v1/recipes/{id}/favorite", b.handleFavorite)
	mux.HandleFunc("POST /v1/recipes/{id}/cooked", b.handleCooked)

	b.srv = httptest.NewServer(mux)
	tb.Cleanup(b.srv.Close)
	return b
}

// URL returns the backend base URL for config wiring.
func (b *Backend) URL() string { return b.srv.URL }

// SetJob replaces a job payload and pushes it to any open streams.
func (b *Backend) SetJob(payload extraction.Payload) {
	b.mu.Lock()
	b.jobs[payload.ID] = payload
	watchers := append([]chan extraction.Payload(nil), b.watchers[payload.ID]...)
	b.mu.Unlock()
	for _, ch := range watchers {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Job reads the current payload of a job.
func (b *Backend) Job(id string) (extraction.Payload, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	payload, ok := b.jobs[id]
	return payload, ok
}

// ResumedPath reports the video path a resume call referenced, if any.
func (b *Backend) ResumedPath(id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Resumed[id]
}

// UploadedBytes returns the raw body of a video upload, if any.
func (b *Backend) UploadedBytes(id string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Uploads[id]
}

func (b *Backend) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceType string `json:"source_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad submit body"}`, http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	b.seq++
	id := fmt.Sprintf("job-%d", b.seq)
	payload := extraction.Payload{ID: id, Status: "submitted", SourceType: req.SourceType}
	b.jobs[id] = payload
	b.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (b *Backend) handleJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	b.mu.Lock()
	payload, ok := b.jobs[id]
	b.mu.Unlock()
	if !ok {
		http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
		return
	}

	if r.Header.Get("Accept") == "text/event-stream" {
		b.serveStream(w, r, id, payload)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (b *Backend) serveStream(w http.ResponseWriter, r *http.Request, id string, current extraction.Payload) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	updates := make(chan extraction.Payload, 16)
	b.mu.Lock()
	b.watchers[id] = append(b.watchers[id], updates)
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		remaining := b.watchers[id][:0]
		for _, ch := range b.watchers[id] {
			if ch != updates {
				remaining = append(remaining, ch)
			}
		}
		b.watchers[id] = remaining
		b.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	writeEvent(w, current)
	flusher.Flush()

	for {
		select {
		case payload := <-updates:
			writeEvent(w, payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w io.Writer, payload extraction.Payload) {
	encoded, _ := json.Marshal(payload)
	fmt.Fprintf(w, "data: %s\n\n", encoded)
}

func (b *Backend) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	b.mu.Lock()
	payload, ok := b.jobs[id]
	b.mu.Unlock()
	if !ok {
		http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
		return
	}
	payload.Status = "cancelled"
	b.SetJob(payload)
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"error":"bad upload"}`, http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.Uploads[id] = data
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"video_path": "uploads/" + id + ".video"})
}

func (b *Backend) handleResume(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		VideoPath string `json:"video_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad resume body"}`, http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.Resumed[id] = req.VideoPath
	b.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func (b *Backend) handleSave(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	b.mu.Lock()
	b.Saved = append(b.Saved, id)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{
		"recipe_id":       id,
		"collection_slug": "my-recipes",
	})
}

func (b *Backend) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	b.mu.Lock()
	b.Deleted = append(b.Deleted, id)
	b.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleFavorite(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Favorite bool `json:"favorite"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad favorite body"}`, http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.Favorites[id] = req.Favorite
	b.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleCooked(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	b.mu.Lock()
	b.Cooked = append(b.Cooked, id)
	b.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
