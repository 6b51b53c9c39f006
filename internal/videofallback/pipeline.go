package videofallback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"forkful/internal/logging"
)

// Stage identifies which half of the pipeline a progress report belongs to.
type Stage string

const (
	StageDownload Stage = "download"
	StageUpload   Stage = "upload"
)

// Backend is the server surface the pipeline needs. *server.Client satisfies
// it.
type Backend interface {
	UploadVideo(ctx context.Context, jobID, path string, progress func(written, total int64)) (string, error)
	ResumeExtraction(ctx context.Context, jobID, videoPath string) error
}

// Pipeline runs the client-side fallback for video extractions the server
// cannot fetch itself: download the video locally, relay it to the server,
// then resume the paused job. The two transfers run sequentially and the
// local copy is removed whichever way the run ends.
type Pipeline struct {
	backend     Backend
	httpClient  *http.Client
	downloadDir string
	logger      *slog.Logger
}

// New builds a pipeline that stages downloads under downloadDir.
func New(backend Backend, downloadDir string, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		backend:     backend,
		httpClient:  &http.Client{Timeout: 10 * time.Minute},
		downloadDir: downloadDir,
		logger:      logging.WithComponent(logger, "video-fallback"),
	}
}

// Run executes the full fallback for one job. progress may be nil; when set
// it receives 0-100 per stage.
func (p *Pipeline) Run(ctx context.Context, jobID, videoURL string, progress func(stage Stage, percent int)) error {
	if jobID == "" || videoURL == "" {
		return errors.New("job id and video url are required")
	}
	logger := p.logger.With(logging.String(logging.FieldJobID, jobID))

	path, err := p.download(ctx, videoURL, progress)
	if path != "" {
		defer p.cleanup(logger, path)
	}
	if err != nil {
		return fmt.Errorf("download video: %w", err)
	}
	logger.Info("video downloaded", logging.String("path", filepath.Base(path)))

	remotePath, err := p.backend.UploadVideo(ctx, jobID, path, func(written, total int64) {
		if progress != nil && total > 0 {
			progress(StageUpload, int(written*100/total))
		}
	})
	if err != nil {
		return fmt.Errorf("upload video: %w", err)
	}
	logger.Info("video relayed to server", logging.String("remote_path", remotePath))

	if err := p.backend.ResumeExtraction(ctx, jobID, remotePath); err != nil {
		return fmt.Errorf("resume extraction: %w", err)
	}
	return nil
}

// download streams the video to a uniquely named file in the staging
// directory. The path is returned even on failure so the caller can clean up
// a partial file.
func (p *Pipeline) download(ctx context.Context, videoURL string, progress func(Stage, int)) (string, error) {
	if err := os.MkdirAll(p.downloadDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure download dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("video host returned %s", resp.Status)
	}

	path := filepath.Join(p.downloadDir, uuid.NewString()+".video")
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}

	reader := io.Reader(resp.Body)
	if progress != nil && resp.ContentLength > 0 {
		reader = &progressReader{
			inner: resp.Body,
			total: resp.ContentLength,
			report: func(written, total int64) {
				progress(StageDownload, int(written*100/total))
			},
		}
	}
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		return path, err
	}
	if err := file.Close(); err != nil {
		return path, err
	}
	return path, nil
}

// cleanup removes the staged file. Missing files and removal errors are not
// the caller's problem: the job outcome does not depend on local disk
// hygiene.
func (p *Pipeline) cleanup(logger *slog.Logger, path string) {
	err := os.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return
	}
	logger.Warn("failed to remove staged video",
		logging.String("path", path), logging.Error(err))
}

type progressReader struct {
	inner   io.Reader
	total   int64
	written int64
	report  func(written, total int64)
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if n > 0 {
		r.written += int64(n)
		r.report(r.written, r.total)
	}
	return n, err
}
