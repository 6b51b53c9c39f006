package ipc

import (
	"time"

	"forkful/internal/registry"
)

// Job is the wire representation of one tracked session.
type Job struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	Progress       int    `json:"progress_percentage"`
	CurrentStep    string `json:"current_step,omitempty"`
	SourceType     string `json:"source_type,omitempty"`
	RecipeID       string `json:"recipe_id,omitempty"`
	Duplicate      bool   `json:"duplicate,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	Minimized      bool   `json:"minimized"`
	TransportMode  string `json:"transport_mode"`
	Completed      bool   `json:"completed"`
	ConnectionLost string `json:"connection_lost,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// FromJobView converts a registry view to its wire form.
func FromJobView(view registry.JobView) Job {
	job := Job{
		JobID:         view.JobID,
		Status:        string(view.Job.Status),
		Progress:      view.Job.Progress,
		CurrentStep:   view.Job.CurrentStep,
		SourceType:    string(view.Job.SourceType),
		RecipeID:      view.Job.RecipePointer(),
		Duplicate:     view.Job.Duplicate,
		ErrorMessage:  view.Job.ErrorMessage,
		Minimized:     view.Minimized,
		TransportMode: string(view.TransportMode),
		Completed:     view.Completed,
		CreatedAt:     view.CreatedAt.UTC().Format(time.RFC3339),
	}
	if view.ConnectionLost != nil {
		job.ConnectionLost = view.ConnectionLost.Error()
	}
	return job
}

// SubmitRequest starts a new extraction job.
type SubmitRequest struct {
	SourceType string `json:"source_type"`
	URL        string `json:"url,omitempty"`
	Text       string `json:"text,omitempty"`
	Title      string `json:"title,omitempty"`
}

// SubmitResponse returns the tracked job id.
type SubmitResponse struct {
	JobID string `json:"job_id"`
}

// JobListRequest lists every live session.
type JobListRequest struct{}

// JobListResponse contains session summaries in creation order.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobRequest addresses one session by job id.
type JobRequest struct {
	JobID string `json:"job_id"`
}

// JobResponse carries one session summary.
type JobResponse struct {
	Job Job `json:"job"`
}

// AckResponse reports a mutation that has no payload beyond success.
type AckResponse struct {
	OK bool `json:"ok"`
}

// RecipeSaveRequest publishes the recipe a finished job produced.
type RecipeSaveRequest struct {
	JobID    string `json:"job_id"`
	IsPublic bool   `json:"is_public"`
}

// RecipeSaveResponse reports where the recipe landed.
type RecipeSaveResponse struct {
	RecipeID       string `json:"recipe_id"`
	CollectionSlug string `json:"collection_slug"`
}

// RecipeFavoriteRequest toggles a recipe's favorite flag.
type RecipeFavoriteRequest struct {
	RecipeID string `json:"recipe_id"`
	Favorite bool   `json:"favorite"`
}

// RecipeRequest addresses one recipe by id.
type RecipeRequest struct {
	RecipeID string `json:"recipe_id"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents daemon runtime information.
type StatusResponse struct {
	Running           bool   `json:"running"`
	PID               int    `json:"pid"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
	ActiveSessions    int    `json:"active_sessions"`
	MinimizedSessions int    `json:"minimized_sessions"`
	SocketPath        string `json:"socket_path"`
	CachePath         string `json:"cache_path"`
	LockPath          string `json:"lock_path"`
}

// StopRequest shuts the daemon down.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
