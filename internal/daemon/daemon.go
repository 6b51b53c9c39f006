package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"forkful/internal/config"
	"forkful/internal/extraction"
	"forkful/internal/linkmeta"
	"forkful/internal/logging"
	"forkful/internal/notifications"
	"forkful/internal/recipecache"
	"forkful/internal/recipes"
	"forkful/internal/registry"
	"forkful/internal/server"
	"forkful/internal/syncengine"
	"forkful/internal/videofallback"
)

// videoUploadStep is the current_step value the backend reports when it
// cannot fetch a video itself and waits for the client to relay it.
const videoUploadStep = "awaiting_video_upload"

// Daemon owns the app-lifetime pieces: the backend client, the job registry,
// the read cache, and the notification service. It enforces single-instance
// execution through a file lock.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	client   *server.Client
	store    *recipecache.Store
	recipes  *recipes.Service
	registry *registry.Registry
	notifier notifications.Service
	video    *videofallback.Pipeline
	titles   *linkmeta.Resolver

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	mu        sync.Mutex
	videoURLs map[string]string
	relayed   map[string]bool

	startedAt time.Time
	running   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// SubmitOptions describes one extraction submission from a screen.
type SubmitOptions struct {
	SourceType extraction.SourceType
	URL        string
	Text       string
	Title      string
}

// Status is the daemon runtime summary exposed over IPC and HTTP.
type Status struct {
	Running           bool
	PID               int
	UptimeSeconds     int64
	ActiveSessions    int
	MinimizedSessions int
	SocketPath        string
	CachePath         string
	LockFilePath      string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	client := server.NewClient(cfg, logger)
	store, err := recipecache.Open(cfg.CachePath(), logger)
	if err != nil {
		return nil, fmt.Errorf("open read cache: %w", err)
	}

	d := &Daemon{
		cfg:       cfg,
		logger:    logging.WithComponent(logger, "daemon"),
		client:    client,
		store:     store,
		recipes:   recipes.NewService(client, store, logger),
		notifier:  notifications.NewService(cfg),
		video:     videofallback.New(client, cfg.Paths.DownloadDir, logger),
		titles:    linkmeta.NewResolver(logger),
		lockPath:  cfg.LockFilePath(),
		lock:      flock.New(cfg.LockFilePath()),
		videoURLs: make(map[string]string),
		relayed:   make(map[string]bool),
	}
	d.registry = registry.New(backendTransport{client: client}, registry.Options{
		MaxSessions: cfg.Sync.MaxSessions,
		Engine: syncengine.Options{
			PollInterval:     cfg.PollInterval(),
			FailureThreshold: cfg.Sync.StreamFailureThreshold,
			ConnectCeiling:   cfg.ConnectCeiling(),
		},
		Logger:     logger,
		OnComplete: d.handleCompletion,
	})
	return d, nil
}

// backendTransport adapts *server.Client to the sync engine's transport
// interface; the concrete StreamJob return type needs the indirection.
type backendTransport struct {
	client *server.Client
}

func (t backendTransport) Job(ctx context.Context, id string) (extraction.Payload, error) {
	return t.client.Job(ctx, id)
}

func (t backendTransport) StreamJob(ctx context.Context, id string) (syncengine.Subscription, error) {
	return t.client.StreamJob(ctx, id)
}

func (t backendTransport) CancelJob(ctx context.Context, id string) error {
	return t.client.CancelJob(ctx, id)
}

// Start acquires the single-instance lock and brings up the HTTP status API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another forkful daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	api, err := newAPIServer(d.cfg, d, d.logger)
	if err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		return err
	}
	d.api = api
	if err := d.api.start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		return err
	}

	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("forkful daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop tears down every session and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.registry.Close()
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("forkful daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Submit sends content to the backend and starts tracking the resulting job.
func (d *Daemon) Submit(ctx context.Context, opts SubmitOptions) (string, error) {
	sourceType, ok := extraction.ParseSourceType(string(opts.SourceType))
	if !ok {
		return "", fmt.Errorf("unknown source type %q", opts.SourceType)
	}

	title := strings.TrimSpace(opts.Title)
	if title == "" && sourceType == extraction.SourceLink && opts.URL != "" {
		titleCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		resolved, err := d.titles.Title(titleCtx, opts.URL)
		cancel()
		if err != nil {
			d.logger.Debug("title lookup failed", logging.Error(err))
		} else {
			title = resolved
		}
	}

	resp, err := d.client.Submit(ctx, server.SubmitRequest{
		SourceType: sourceType,
		URL:        opts.URL,
		Text:       opts.Text,
		Title:      title,
	})
	if err != nil {
		return "", err
	}

	if err := d.registry.Create(d.runCtx(), resp.ID); err != nil {
		return resp.ID, fmt.Errorf("track job %s: %w", resp.ID, err)
	}
	if sourceType == extraction.SourceVideo && opts.URL != "" {
		d.armVideoFallback(resp.ID, opts.URL)
	}

	d.logger.Info("submitted extraction",
		logging.String(logging.FieldJobID, resp.ID),
		logging.String("source_type", string(sourceType)))
	return resp.ID, nil
}

// armVideoFallback watches a video job for the backend's relay request and
// runs the upload pipeline the first time it appears.
func (d *Daemon) armVideoFallback(jobID, videoURL string) {
	d.mu.Lock()
	d.videoURLs[jobID] = videoURL
	d.mu.Unlock()

	if _, err := d.registry.Subscribe(jobID, func(job extraction.Job) {
		if job.Status != extraction.StatusProcessing || job.CurrentStep != videoUploadStep {
			return
		}
		d.mu.Lock()
		url := d.videoURLs[jobID]
		already := d.relayed[jobID]
		d.relayed[jobID] = true
		d.mu.Unlock()
		if already || url == "" {
			return
		}
		go d.runVideoFallback(jobID, url)
	}); err != nil {
		d.logger.Warn("video fallback not armed", logging.Error(err),
			logging.String(logging.FieldJobID, jobID))
	}
}

func (d *Daemon) runVideoFallback(jobID, videoURL string) {
	ctx := d.runCtx()
	logger := d.logger.With(logging.String(logging.FieldJobID, jobID))
	logger.Info("running video fallback", logging.String(logging.FieldEventType, "video_fallback_start"))
	if err := d.video.Run(ctx, jobID, videoURL, nil); err != nil {
		logger.Error("video fallback failed", logging.Error(err),
			logging.String(logging.FieldEventType, "video_fallback_failed"))
		if notifyErr := d.notifier.NotifyError(ctx, err, "video fallback"); notifyErr != nil {
			logger.Debug("notification failed", logging.Error(notifyErr))
		}
	}
}

// handleCompletion is the registry-wide terminal hook: cache fan-out plus
// push notifications.
func (d *Daemon) handleCompletion(job extraction.Job) {
	ctx, cancel := context.WithTimeout(d.runCtx(), 10*time.Second)
	defer cancel()

	d.recipes.HandleCompletion(ctx, job)

	var err error
	switch {
	case job.Status == extraction.StatusCompleted && job.Duplicate:
		err = d.notifier.NotifyDuplicate(ctx, job)
	case job.Status == extraction.StatusCompleted:
		err = d.notifier.NotifyJobCompleted(ctx, job)
	case job.Status == extraction.StatusFailed,
		job.Status == extraction.StatusNotARecipe,
		job.Status == extraction.StatusWebsiteBlocked:
		err = d.notifier.NotifyJobFailed(ctx, job)
	}
	if err != nil {
		d.logger.Debug("notification failed", logging.Error(err),
			logging.String(logging.FieldJobID, job.ID))
	}

	d.mu.Lock()
	delete(d.videoURLs, job.ID)
	delete(d.relayed, job.ID)
	d.mu.Unlock()
}

func (d *Daemon) runCtx() context.Context {
	if d.ctx != nil {
		return d.ctx
	}
	return context.Background()
}

// Jobs lists every live session.
func (d *Daemon) Jobs() []registry.JobView {
	return d.registry.List()
}

// Job returns one session view.
func (d *Daemon) Job(jobID string) (registry.JobView, bool) {
	return d.registry.Get(jobID)
}

// TrackJob attaches to an existing backend job without submitting.
func (d *Daemon) TrackJob(jobID string) error {
	return d.registry.Create(d.runCtx(), jobID)
}

// MinimizeJob marks a session minimized.
func (d *Daemon) MinimizeJob(jobID string) error {
	return d.registry.Minimize(jobID)
}

// DismissJob removes a session for good.
func (d *Daemon) DismissJob(jobID string) error {
	return d.registry.Dismiss(jobID)
}

// CancelJob requests backend cancellation while keeping the session readable.
func (d *Daemon) CancelJob(ctx context.Context, jobID string) error {
	return d.registry.Cancel(ctx, jobID)
}

// RetryJob restarts the transports after a surfaced connection error.
func (d *Daemon) RetryJob(jobID string) error {
	return d.registry.Retry(d.runCtx(), jobID)
}

// SaveRecipe publishes the recipe of a finished job.
func (d *Daemon) SaveRecipe(ctx context.Context, jobID string, isPublic bool) (server.RecipeSaveResponse, error) {
	view, ok := d.registry.Get(jobID)
	if !ok {
		return server.RecipeSaveResponse{}, fmt.Errorf("%w: %s", registry.ErrUnknownJob, jobID)
	}
	return d.recipes.SaveDraft(ctx, view.Job, isPublic)
}

// DiscardRecipe drops the draft a finished job produced, when it owns one.
func (d *Daemon) DiscardRecipe(ctx context.Context, jobID string) error {
	view, ok := d.registry.Get(jobID)
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrUnknownJob, jobID)
	}
	return d.recipes.DiscardDraft(ctx, view.Job)
}

// FavoriteRecipe toggles the favorite flag through the optimistic cache path.
func (d *Daemon) FavoriteRecipe(ctx context.Context, recipeID string, favorite bool) error {
	return d.recipes.SetFavorite(ctx, recipeID, favorite)
}

// CookedRecipe bumps the cooked counter through the optimistic cache path.
func (d *Daemon) CookedRecipe(ctx context.Context, recipeID string) error {
	return d.recipes.MarkCooked(ctx, recipeID)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	var uptime int64
	if d.running.Load() {
		uptime = int64(time.Since(d.startedAt).Seconds())
	}
	views := d.registry.List()
	minimized := 0
	for _, view := range views {
		if view.Minimized {
			minimized++
		}
	}
	return Status{
		Running:           d.running.Load(),
		PID:               os.Getpid(),
		UptimeSeconds:     uptime,
		ActiveSessions:    len(views) - minimized,
		MinimizedSessions: minimized,
		SocketPath:        d.cfg.Paths.SocketPath,
		CachePath:         d.cfg.CachePath(),
		LockFilePath:      d.lockPath,
	}
}
