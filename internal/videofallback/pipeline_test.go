package videofallback_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"forkful/internal/logging"
	"forkful/internal/videofallback"
)

type fakeBackend struct {
	uploadErr error
	resumeErr error

	uploadedJob  string
	uploadedData []byte
	remotePath   string
	resumedJob   string
	resumedPath  string
}

func (b *fakeBackend) UploadVideo(ctx context.Context, jobID, path string, progress func(written, total int64)) (string, error) {
	if b.uploadErr != nil {
		return "", b.uploadErr
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	b.uploadedJob = jobID
	b.uploadedData = data
	if progress != nil {
		progress(int64(len(data)), int64(len(data)))
	}
	b.remotePath = "uploads/" + jobID + ".video"
	return b.remotePath, nil
}

func (b *fakeBackend) ResumeExtraction(ctx context.Context, jobID, videoPath string) error {
	if b.resumeErr != nil {
		return b.resumeErr
	}
	b.resumedJob = jobID
	b.resumedPath = videoPath
	return nil
}

func stagedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		t.Fatalf("read staging dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestRunDownloadsUploadsResumesAndCleansUp(t *testing.T) {
	payload := []byte("fake video bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	dir := filepath.Join(t.TempDir(), "downloads")
	backend := &fakeBackend{}
	pipeline := videofallback.New(backend, dir, logging.NewNop())

	var stages []videofallback.Stage
	err := pipeline.Run(context.Background(), "j1", srv.URL, func(stage videofallback.Stage, percent int) {
		stages = append(stages, stage)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if backend.uploadedJob != "j1" || !bytes.Equal(backend.uploadedData, payload) {
		t.Fatalf("upload did not relay the downloaded bytes: job=%s", backend.uploadedJob)
	}
	if backend.resumedJob != "j1" || backend.resumedPath != backend.remotePath {
		t.Fatalf("resume must reference the uploaded path, got %s/%s", backend.resumedJob, backend.resumedPath)
	}
	if files := stagedFiles(t, dir); len(files) != 0 {
		t.Fatalf("staging dir should be empty after success, found %v", files)
	}

	var sawUpload bool
	for _, stage := range stages {
		if stage == videofallback.StageUpload {
			sawUpload = true
		}
	}
	if !sawUpload {
		t.Fatal("expected upload progress reports")
	}
}

func TestRunCleansUpWhenUploadFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("bytes"))
	}))
	t.Cleanup(srv.Close)

	dir := filepath.Join(t.TempDir(), "downloads")
	uploadErr := errors.New("413 payload too large")
	backend := &fakeBackend{uploadErr: uploadErr}
	pipeline := videofallback.New(backend, dir, logging.NewNop())

	err := pipeline.Run(context.Background(), "j1", srv.URL, nil)
	if !errors.Is(err, uploadErr) {
		t.Fatalf("expected upload error surfaced, got %v", err)
	}
	if backend.resumedJob != "" {
		t.Fatal("resume must not run after a failed upload")
	}
	if files := stagedFiles(t, dir); len(files) != 0 {
		t.Fatalf("staged file should be removed after failure, found %v", files)
	}
}

func TestRunRejectsBadVideoHostStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	dir := filepath.Join(t.TempDir(), "downloads")
	backend := &fakeBackend{}
	pipeline := videofallback.New(backend, dir, logging.NewNop())

	if err := pipeline.Run(context.Background(), "j1", srv.URL, nil); err == nil {
		t.Fatal("expected error for non-200 video host response")
	}
	if backend.uploadedJob != "" {
		t.Fatal("upload must not run when the download failed")
	}
}
