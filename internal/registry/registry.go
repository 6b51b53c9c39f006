package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"forkful/internal/extraction"
	"forkful/internal/logging"
	"forkful/internal/syncengine"
)

// ErrRegistryFull is returned when the session cap is reached and no
// minimized, finished session can be evicted.
var ErrRegistryFull = errors.New("job registry is full")

// ErrUnknownJob is returned for operations on a jobId with no live session.
var ErrUnknownJob = errors.New("no session for job")

// Options configures the registry.
type Options struct {
	// MaxSessions bounds concurrently tracked jobs, minimized ones included.
	// When the cap is hit, Create evicts the oldest minimized session whose
	// job already finished; if none qualifies, Create fails.
	MaxSessions int
	Engine      syncengine.Options
	Logger      *slog.Logger

	// OnComplete is the process-wide completion hook (cache fan-out,
	// notifications). It runs after the session's own subscribers.
	OnComplete func(extraction.Job)
}

// JobView is the read-only state of one session, safe to hand to any screen.
type JobView struct {
	JobID          string
	Job            extraction.Job
	HasSnapshot    bool
	Minimized      bool
	TransportMode  syncengine.Mode
	Failures       int
	Completed      bool
	ConnectionLost error
	CreatedAt      time.Time
}

type session struct {
	jobID     string
	engine    *syncengine.Engine
	createdAt time.Time

	mu          sync.Mutex
	minimized   bool
	connErr     error
	subscribers map[string]func(extraction.Job)
}

// Registry owns every live sync session for the process lifetime. It is the
// only writer of the session map; screens attach and detach through its entry
// points while jobs keep progressing across navigation.
type Registry struct {
	transport syncengine.Transport
	opts      Options
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// New builds an empty registry.
func New(transport syncengine.Transport, opts Options) *Registry {
	if opts.MaxSessions < 1 {
		opts.MaxSessions = 16
	}
	return &Registry{
		transport: transport,
		opts:      opts,
		logger:    logging.WithComponent(opts.Logger, "job-registry"),
		sessions:  make(map[string]*session),
	}
}

// Create starts tracking a job. Idempotent per jobId: a second Create without
// an intervening Dismiss reuses the live session and opens no new transports.
func (r *Registry) Create(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errors.New("job id is required")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.New("job registry is closed")
	}
	if _, ok := r.sessions[jobID]; ok {
		r.mu.Unlock()
		return nil
	}
	var evict *session
	if len(r.sessions) >= r.opts.MaxSessions {
		evict = r.evictableLocked()
		if evict == nil {
			r.mu.Unlock()
			return fmt.Errorf("%w: %d sessions active", ErrRegistryFull, r.opts.MaxSessions)
		}
		delete(r.sessions, evict.jobID)
	}

	sess := &session{
		jobID:       jobID,
		createdAt:   time.Now(),
		subscribers: make(map[string]func(extraction.Job)),
	}
	engineOpts := r.opts.Engine
	engineOpts.Logger = r.opts.Logger
	engineOpts.OnUpdate = sess.fanout
	engineOpts.OnComplete = func(job extraction.Job) {
		sess.fanout(job)
		if r.opts.OnComplete != nil {
			r.opts.OnComplete(job)
		}
	}
	engineOpts.OnConnectionLost = func(_ string, err error) {
		sess.setConnErr(err)
	}
	sess.engine = syncengine.New(r.transport, jobID, engineOpts)
	r.sessions[jobID] = sess
	// Start before releasing the lock: a Dismiss racing this Create must find
	// an engine its Stop can actually tear down. Start only spawns the run
	// goroutine, so holding the lock here is safe.
	sess.engine.Start(ctx)
	r.mu.Unlock()

	if evict != nil {
		r.logger.Info("evicted finished minimized session",
			logging.String(logging.FieldJobID, evict.jobID),
			logging.String(logging.FieldEventType, "session_evicted"))
		evict.engine.Stop()
	}

	r.logger.Info("tracking job",
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldEventType, "session_created"))
	return nil
}

// evictableLocked returns the oldest minimized session whose job finished.
func (r *Registry) evictableLocked() *session {
	var oldest *session
	for _, sess := range r.sessions {
		if !sess.isMinimized() || !sess.engine.Completed() {
			continue
		}
		if oldest == nil || sess.createdAt.Before(oldest.createdAt) {
			oldest = sess
		}
	}
	return oldest
}

// Get returns a non-blocking view of the session state.
func (r *Registry) Get(jobID string) (JobView, bool) {
	r.mu.Lock()
	sess, ok := r.sessions[jobID]
	r.mu.Unlock()
	if !ok {
		return JobView{}, false
	}
	return sess.view(), true
}

// List returns views of every live session ordered by creation time.
func (r *Registry) List() []JobView {
	r.mu.Lock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].createdAt.Before(sessions[j].createdAt)
	})
	views := make([]JobView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, sess.view())
	}
	return views
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Minimize detaches a job from the active screen. Updates continue; a
// lightweight indicator can keep reading Get.
func (r *Registry) Minimize(jobID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[jobID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	sess.setMinimized(true)
	return nil
}

// Dismiss tears the session down and removes it. Must be called exactly once
// per acknowledged job; a concurrent Get sees either the pre- or post-dismiss
// state, never a torn one.
func (r *Registry) Dismiss(jobID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[jobID]
	if ok {
		delete(r.sessions, jobID)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}

	sess.engine.Stop()
	r.logger.Info("dismissed job",
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldEventType, "session_dismissed"))
	return nil
}

// Cancel requests job cancellation and keeps the session alive so the final
// cancelled snapshot remains readable until the user acknowledges it.
func (r *Registry) Cancel(ctx context.Context, jobID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[jobID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	return sess.engine.Cancel(ctx)
}

// Retry restarts the transports after a surfaced connection error.
func (r *Registry) Retry(ctx context.Context, jobID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[jobID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	sess.setConnErr(nil)
	sess.engine.Start(ctx)
	return nil
}

// Subscribe attaches an update callback to a live session and returns a
// handle for Unsubscribe. A screen re-entering the foreground re-subscribes
// without creating a new session.
func (r *Registry) Subscribe(jobID string, fn func(extraction.Job)) (string, error) {
	if fn == nil {
		return "", errors.New("subscriber callback is required")
	}
	r.mu.Lock()
	sess, ok := r.sessions[jobID]
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	handle := uuid.NewString()
	sess.mu.Lock()
	sess.subscribers[handle] = fn
	sess.mu.Unlock()
	return handle, nil
}

// Unsubscribe detaches a previously registered callback. Unknown handles and
// already-dismissed jobs are ignored.
func (r *Registry) Unsubscribe(jobID, handle string) {
	r.mu.Lock()
	sess, ok := r.sessions[jobID]
	r.mu.Unlock()
	if !ok {
		return
	}
	sess.mu.Lock()
	delete(sess.subscribers, handle)
	sess.mu.Unlock()
}

// Close dismisses every session. Used at daemon shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*session)
	r.closed = true
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.engine.Stop()
	}
}

func (s *session) fanout(job extraction.Job) {
	s.mu.Lock()
	handles := make([]string, 0, len(s.subscribers))
	for handle := range s.subscribers {
		handles = append(handles, handle)
	}
	sort.Strings(handles)
	callbacks := make([]func(extraction.Job), 0, len(handles))
	for _, handle := range handles {
		callbacks = append(callbacks, s.subscribers[handle])
	}
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(job)
	}
}

func (s *session) view() JobView {
	job, hasSnapshot := s.engine.Snapshot()
	s.mu.Lock()
	minimized := s.minimized
	connErr := s.connErr
	s.mu.Unlock()
	return JobView{
		JobID:          s.jobID,
		Job:            job,
		HasSnapshot:    hasSnapshot,
		Minimized:      minimized,
		TransportMode:  s.engine.Mode(),
		Failures:       s.engine.ConsecutiveFailures(),
		Completed:      s.engine.Completed(),
		ConnectionLost: connErr,
		CreatedAt:      s.createdAt,
	}
}

func (s *session) isMinimized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minimized
}

func (s *session) setMinimized(value bool) {
	s.mu.Lock()
	s.minimized = value
	s.mu.Unlock()
}

func (s *session) setConnErr(err error) {
	s.mu.Lock()
	s.connErr = err
	s.mu.Unlock()
}
