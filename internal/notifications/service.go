package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"forkful/internal/config"
	"forkful/internal/extraction"
)

const userAgent = "Forkful-Go/0.1.0"

// Service defines the notification surface exposed to the daemon.
type Service interface {
	NotifyJobCompleted(ctx context.Context, job extraction.Job) error
	NotifyJobFailed(ctx context.Context, job extraction.Job) error
	NotifyDuplicate(ctx context.Context, job extraction.Job) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := cfg.Notifications.RequestTimeoutDuration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		events:   cfg.Notifications,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	events   config.Notifications
}

func jobLabel(job extraction.Job) string {
	source := strings.TrimSpace(string(job.SourceType))
	if source == "" {
		source = "unknown source"
	}
	return fmt.Sprintf("%s extraction %s", source, job.ID)
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, job extraction.Job) error {
	if !n.events.JobCompleted {
		return nil
	}
	data := payload{
		title:   "Forkful - Recipe Ready",
		message: fmt.Sprintf("Recipe extracted from %s", jobLabel(job)),
		tags:    []string{"forkful", "extraction", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, job extraction.Job) error {
	if !n.events.JobFailed {
		return nil
	}
	message := fmt.Sprintf("Extraction failed: %s", jobLabel(job))
	if detail := strings.TrimSpace(job.ErrorMessage); detail != "" {
		message = fmt.Sprintf("%s\n%s", message, detail)
	}
	data := payload{
		title:    "Forkful - Extraction Failed",
		message:  message,
		tags:     []string{"forkful", "extraction", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDuplicate(ctx context.Context, job extraction.Job) error {
	if !n.events.Duplicate {
		return nil
	}
	data := payload{
		title: "Forkful - Already Saved",
		message: fmt.Sprintf("You already have this recipe (%s points at %s)",
			jobLabel(job), job.ExistingRecipeID),
		tags: []string{"forkful", "extraction", "duplicate"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.events.Errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Forkful - Error",
		message:  builder.String(),
		tags:     []string{"forkful", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Forkful - Test",
		message:  "Notification system test",
		tags:     []string{"forkful", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobCompleted(context.Context, extraction.Job) error { return nil }
func (noopService) NotifyJobFailed(context.Context, extraction.Job) error    { return nil }
func (noopService) NotifyDuplicate(context.Context, extraction.Job) error    { return nil }
func (noopService) NotifyError(context.Context, error, string) error         { return nil }
func (noopService) TestNotification(context.Context) error                   { return nil }
