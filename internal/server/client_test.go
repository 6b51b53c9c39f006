package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"forkful/internal/config"
	"forkful/internal/extraction"
	"forkful/internal/logging"
	"forkful/internal/server"
)

func newClient(t *testing.T, handler http.Handler) (*server.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Server.BaseURL = srv.URL
	cfg.Server.APIToken = "secret"
	return server.NewClient(&cfg, logging.NewNop()), srv
}

func TestSubmitSendsAuthAndDecodesID(t *testing.T) {
	client, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/extractions" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("unexpected auth header %q", got)
		}
		var req server.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req.SourceType != extraction.SourceLink || req.URL != "https://example.com/pie" {
			t.Fatalf("unexpected request body %+v", req)
		}
		_ = json.NewEncoder(w).Encode(server.SubmitResponse{ID: "job-1"})
	}))

	resp, err := client.Submit(context.Background(), server.SubmitRequest{
		SourceType: extraction.SourceLink,
		URL:        "https://example.com/pie",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.ID != "job-1" {
		t.Fatalf("expected job-1, got %q", resp.ID)
	}
}

func TestSubmitRejectsMissingID(t *testing.T) {
	client, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(server.SubmitResponse{})
	}))
	if _, err := client.Submit(context.Background(), server.SubmitRequest{SourceType: extraction.SourcePaste, Text: "flour"}); err == nil {
		t.Fatal("expected error for missing job id")
	}
}

func TestJobFetchDecodesPayload(t *testing.T) {
	client, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/extractions/job-1" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(extraction.Payload{
			ID: "job-1", Status: "processing", ProgressPercentage: 40, CurrentStep: "Fetching page",
		})
	}))

	payload, err := client.Job(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if payload.Status != "processing" || payload.ProgressPercentage != 40 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestErrorResponsesSurfaceAPIError(t *testing.T) {
	client, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"already saved"}`))
	}))

	err := client.SetFavorite(context.Background(), "r1", true)
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *server.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Message != "already saved" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestSaveRecipeRoundTrip(t *testing.T) {
	client, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/recipes/r2/save" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var body map[string]bool
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if !body["is_public"] {
			t.Fatal("expected is_public true")
		}
		_ = json.NewEncoder(w).Encode(server.RecipeSaveResponse{RecipeID: "r2", CollectionSlug: "saved", IsPublic: true})
	}))

	resp, err := client.SaveRecipe(context.Background(), "r2", true)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if resp.CollectionSlug != "saved" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestUploadVideoStreamsFileWithProgress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	content := make([]byte, 4096)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	client, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/extractions/job-1/video" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if len(body) != len(content) {
			t.Fatalf("expected %d bytes uploaded, got %d", len(content), len(body))
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"video_path": "uploads/job-1.mp4"})
	}))

	var lastWritten, lastTotal int64
	videoPath, err := client.UploadVideo(context.Background(), "job-1", path, func(written, total int64) {
		lastWritten, lastTotal = written, total
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if videoPath != "uploads/job-1.mp4" {
		t.Fatalf("unexpected video path %q", videoPath)
	}
	if lastWritten != int64(len(content)) || lastTotal != int64(len(content)) {
		t.Fatalf("expected final progress %d/%d, got %d/%d", len(content), len(content), lastWritten, lastTotal)
	}
}
