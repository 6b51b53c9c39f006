package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"forkful/internal/config"
	"forkful/internal/logging"
	"forkful/internal/registry"
)

// jobDTO is the HTTP representation of one tracked job session.
type jobDTO struct {
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

type statusDTO struct {
	Running           bool   `json:"running"`
	PID               int    `json:"pid"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
	ActiveSessions    int    `json:"active_sessions"`
	MinimizedSessions int    `json:"minimized_sessions"`
	SocketPath        string `json:"socket_path"`
	CachePath         string `json:"cache_path"`
	LockFilePath      string `json:"lock_path"`
}

func fromJobView(view registry.JobView) jobDTO {
	dto := jobDTO{
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
		dto.ConnectionLost = view.ConnectionLost.Error()
	}
	return dto
}

// apiServer exposes read-only daemon state over HTTP for dashboards and
// scripting. Mutations stay on the IPC socket.
type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{bind: bind, logger: logger, daemon: d}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/jobs", srv.handleJobs)
	mux.HandleFunc("/api/jobs/", srv.handleJob)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status()
	s.writeJSON(w, http.StatusOK, statusDTO{
		Running:           status.Running,
		PID:               status.PID,
		UptimeSeconds:     status.UptimeSeconds,
		ActiveSessions:    status.ActiveSessions,
		MinimizedSessions: status.MinimizedSessions,
		SocketPath:        status.SocketPath,
		CachePath:         status.CachePath,
		LockFilePath:      status.LockFilePath,
	})
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	views := s.daemon.Jobs()
	jobs := make([]jobDTO, 0, len(views))
	for _, view := range views {
		jobs = append(jobs, fromJobView(view))
	}
	s.writeJSON(w, http.StatusOK, map[string][]jobDTO{"jobs": jobs})
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if jobID == "" || strings.Contains(jobID, "/") {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	view, ok := s.daemon.Job(jobID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, fromJobView(view))
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return logging.WithComponent(s.logger, "api-server")
	}
	return logging.NewNop()
}
