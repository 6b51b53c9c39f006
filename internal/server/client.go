package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"forkful/internal/config"
	"forkful/internal/extraction"
	"forkful/internal/logging"
)

const userAgent = "Forkful-Go/0.1.0"

// Client issues request/response calls against the extraction backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a backend client from configuration.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    cfg.Server.BaseURL,
		token:      cfg.Server.APIToken,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout()},
		logger:     logging.WithComponent(logger, "server-client"),
	}
}

// SubmitRequest carries the content of one submission. Exactly one of URL or
// Text is expected depending on the source type.
type SubmitRequest struct {
	SourceType extraction.SourceType `json:"source_type"`
	URL        string                `json:"url,omitempty"`
	Text       string                `json:"text,omitempty"`
	Title      string                `json:"title,omitempty"`
}

// SubmitResponse is the server acknowledgment for a new job.
type SubmitResponse struct {
	ID       string `json:"id"`
	RecipeID string `json:"recipe_id,omitempty"`
}

// RecipeSaveResponse describes the outcome of publishing a draft.
type RecipeSaveResponse struct {
	RecipeID       string `json:"recipe_id"`
	CollectionSlug string `json:"collection_slug"`
	IsPublic       bool   `json:"is_public"`
}

// APIError is a non-2xx backend response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Submit begins an extraction job.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/extractions", req, &resp); err != nil {
		return SubmitResponse{}, fmt.Errorf("submit: %w", err)
	}
	if resp.ID == "" {
		return SubmitResponse{}, fmt.Errorf("submit: server returned no job id")
	}
	return resp, nil
}

// Job performs a one-shot snapshot fetch.
func (c *Client) Job(ctx context.Context, id string) (extraction.Payload, error) {
	var payload extraction.Payload
	if err := c.doJSON(ctx, http.MethodGet, "/v1/extractions/"+url.PathEscape(id), nil, &payload); err != nil {
		return extraction.Payload{}, fmt.Errorf("fetch job %s: %w", id, err)
	}
	return payload, nil
}

// CancelJob requests best-effort cancellation.
func (c *Client) CancelJob(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/v1/extractions/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("cancel job %s: %w", id, err)
	}
	return nil
}

// SaveRecipe publishes a draft and adds it to the user's collection.
func (c *Client) SaveRecipe(ctx context.Context, recipeID string, isPublic bool) (RecipeSaveResponse, error) {
	body := map[string]bool{"is_public": isPublic}
	var resp RecipeSaveResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/recipes/"+url.PathEscape(recipeID)+"/save", body, &resp); err != nil {
		return RecipeSaveResponse{}, fmt.Errorf("save recipe %s: %w", recipeID, err)
	}
	return resp, nil
}

// DeleteRecipe discards a draft recipe.
func (c *Client) DeleteRecipe(ctx context.Context, recipeID string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/v1/recipes/"+url.PathEscape(recipeID), nil, nil); err != nil {
		return fmt.Errorf("delete recipe %s: %w", recipeID, err)
	}
	return nil
}

// SetFavorite records the favorite flag for a recipe.
func (c *Client) SetFavorite(ctx context.Context, recipeID string, favorite bool) error {
	body := map[string]bool{"favorite": favorite}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/recipes/"+url.PathEscape(recipeID)+"/favorite", body, nil); err != nil {
		return fmt.Errorf("set favorite %s: %w", recipeID, err)
	}
	return nil
}

// MarkCooked records a cooking event for a recipe.
func (c *Client) MarkCooked(ctx context.Context, recipeID string) error {
	if err := c.doJSON(ctx, http.MethodPost, "/v1/recipes/"+url.PathEscape(recipeID)+"/cooked", nil, nil); err != nil {
		return fmt.Errorf("mark cooked %s: %w", recipeID, err)
	}
	return nil
}

// UploadVideo streams a local video file to the backend for the given job.
func (c *Client) UploadVideo(ctx context.Context, jobID, path string, progress func(written, total int64)) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open upload file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat upload file: %w", err)
	}

	var body io.Reader = file
	if progress != nil {
		body = &progressReader{reader: file, total: info.Size(), report: progress}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/extractions/"+url.PathEscape(jobID)+"/video", body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	c.setCommonHeaders(req)

	// Uploads routinely outlast the request timeout; rely on ctx instead.
	uploadClient := &http.Client{}
	resp, err := uploadClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload video: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", readAPIError(resp)
	}

	var decoded struct {
		VideoPath string `json:"video_path"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	return decoded.VideoPath, nil
}

// ResumeExtraction resumes a job after a successful fallback upload.
func (c *Client) ResumeExtraction(ctx context.Context, jobID, videoPath string) error {
	body := map[string]string{"video_path": videoPath}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/extractions/"+url.PathEscape(jobID)+"/resume", body, nil); err != nil {
		return fmt.Errorf("resume extraction %s: %w", jobID, err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setCommonHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.logger.Debug("request completed",
		logging.String("method", method),
		logging.String("path", path),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	message := strings.TrimSpace(string(body))
	var decoded struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &decoded) == nil && decoded.Error != "" {
		message = decoded.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}

type progressReader struct {
	reader  io.Reader
	total   int64
	written int64
	report  func(written, total int64)
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.written += int64(n)
		r.report(r.written, r.total)
	}
	return n, err
}
