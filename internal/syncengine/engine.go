package syncengine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"forkful/internal/extraction"
	"forkful/internal/logging"
)

// Mode identifies which transport channel currently feeds the engine.
type Mode string

const (
	ModeStream Mode = "stream"
	ModePoll   Mode = "poll"
)

// defaultStreamRetryDelay spaces out reconnect attempts while still below the
// failover threshold.
const defaultStreamRetryDelay = time.Second

// Subscription is one open server-push feed for a job.
type Subscription interface {
	Events() <-chan extraction.Payload
	Err() <-chan error
	Close()
}

// Transport is the backend surface the engine needs. *server.Client satisfies
// it through a thin adapter owned by the daemon.
type Transport interface {
	Job(ctx context.Context, id string) (extraction.Payload, error)
	StreamJob(ctx context.Context, id string) (Subscription, error)
	CancelJob(ctx context.Context, id string) error
}

// Options configures one engine.
type Options struct {
	PollInterval     time.Duration
	FailureThreshold int
	ConnectCeiling   time.Duration
	StreamRetryDelay time.Duration

	// OnUpdate fires only when the effective snapshot changes, in
	// reconciliation order.
	OnUpdate func(extraction.Job)
	// OnComplete fires exactly once, on the first observation of a terminal
	// status.
	OnComplete func(extraction.Job)
	// OnConnectionLost fires when no message has succeeded for ConnectCeiling
	// and no update was ever received. This is a transport problem, not a job
	// outcome.
	OnConnectionLost func(jobID string, err error)

	Logger *slog.Logger
}

// Engine keeps one job snapshot fresh over whichever channel is healthiest:
// the event stream until it proves unreliable, then fixed-interval polling for
// the remainder of the job.
type Engine struct {
	jobID     string
	transport Transport
	opts      Options
	logger    *slog.Logger

	mu          sync.Mutex
	snapshot    *extraction.Job
	mode        Mode
	failures    int
	completed   bool
	updatesSeen bool
	running     bool
	lastErr     error
	cancelRun   context.CancelFunc
	wg          sync.WaitGroup

	// notifyMu serializes callback invocation so Cancel cannot interleave a
	// notification into the middle of the run loop's ordered delivery.
	notifyMu sync.Mutex
}

// New builds an engine for one job. Defaults mirror the config defaults so a
// zero Options is usable in tests.
func New(transport Transport, jobID string, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.FailureThreshold < 1 {
		opts.FailureThreshold = 2
	}
	if opts.ConnectCeiling <= 0 {
		opts.ConnectCeiling = 60 * time.Second
	}
	if opts.StreamRetryDelay <= 0 {
		opts.StreamRetryDelay = defaultStreamRetryDelay
	}
	return &Engine{
		jobID:     jobID,
		transport: transport,
		opts:      opts,
		logger: logging.WithComponent(opts.Logger, "sync-engine").With(
			logging.String(logging.FieldJobID, jobID)),
		mode: ModeStream,
	}
}

// Start launches the engine: one direct fetch first (covering the race where
// the job completed before any stream subscription existed), then the stream.
// Starting a running or completed engine is a no-op, which also makes Start
// serve as the manual retry after a connection loss.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running || e.completed {
		e.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancelRun = cancel
	e.running = true
	e.wg.Add(1)
	e.mu.Unlock()

	go e.run(runCtx)
}

// Stop tears down both channels and waits for the run loop to exit. The job
// itself is unaffected; Stop only abandons tracking.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancelRun
	e.cancelRun = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// Snapshot returns the current reconciled job state.
func (e *Engine) Snapshot() (extraction.Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snapshot == nil {
		return extraction.Job{}, false
	}
	return *e.snapshot, true
}

// Mode reports the active transport channel.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// ConsecutiveFailures reports the current failure counter.
func (e *Engine) ConsecutiveFailures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures
}

// Completed reports whether a terminal status has been observed.
func (e *Engine) Completed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed
}

// Cancel issues a best-effort cancel request, marks the local snapshot
// cancelled if no server terminal state arrived first, and tears down both
// channels. The in-flight cancel response itself is not awaited beyond ctx.
func (e *Engine) Cancel(ctx context.Context) error {
	err := e.transport.CancelJob(ctx, e.jobID)
	if err != nil {
		e.logger.Warn("cancel request failed; marking job cancelled locally",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_cancel_failed"))
	}

	e.mu.Lock()
	var synthetic extraction.Payload
	if e.snapshot == nil || !e.snapshot.Status.IsTerminal() {
		synthetic = extraction.Payload{
			ID:         e.jobID,
			Status:     string(extraction.StatusCancelled),
			SourceType: string(e.sourceTypeLocked()),
		}
		if e.snapshot != nil {
			synthetic.ProgressPercentage = e.snapshot.Progress
			synthetic.CurrentStep = e.snapshot.CurrentStep
		}
	}
	e.mu.Unlock()

	if synthetic.Status != "" {
		e.reconcile(synthetic)
	}
	e.Stop()
	return err
}

func (e *Engine) sourceTypeLocked() extraction.SourceType {
	if e.snapshot == nil {
		return ""
	}
	return e.snapshot.SourceType
}

func (e *Engine) run(ctx context.Context) {
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		e.wg.Done()
	}()

	started := time.Now()

	if payload, err := e.transport.Job(ctx, e.jobID); err == nil {
		e.recordSuccess(&started)
		if e.reconcile(payload) {
			return
		}
	} else if ctx.Err() != nil {
		return
	} else {
		e.logger.Debug("initial fetch failed", logging.Error(err))
		e.recordFailure(err)
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if e.connectionLost(started) {
			e.surfaceConnectionLoss()
			return
		}

		if e.Mode() == ModeStream {
			if terminal := e.consumeStream(ctx, &started); terminal {
				return
			}
			if ctx.Err() != nil {
				return
			}
			if e.connectionLost(started) {
				e.surfaceConnectionLoss()
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.opts.StreamRetryDelay):
			}
			continue
		}

		if e.poll(ctx, &started) {
			return
		}
		return
	}
}

// consumeStream opens one subscription and drains it. It returns true when a
// terminal status ended the job. While no message has ever succeeded the wait
// is bounded by the connect ceiling, so a stream that opens but stays silent
// cannot park the engine past the deadline.
func (e *Engine) consumeStream(ctx context.Context, started *time.Time) bool {
	sub, err := e.transport.StreamJob(ctx, e.jobID)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Debug("stream open failed", logging.Error(err))
			e.recordFailure(err)
		}
		return false
	}
	defer sub.Close()

	var ceiling <-chan time.Time
	if !e.hasUpdates() {
		timer := time.NewTimer(time.Until(started.Add(e.opts.ConnectCeiling)))
		defer timer.Stop()
		ceiling = timer.C
	}

	for {
		select {
		case payload, ok := <-sub.Events():
			if !ok {
				select {
				case err := <-sub.Err():
					if err != nil && ctx.Err() == nil {
						e.logger.Debug("stream ended with error", logging.Error(err))
						e.recordFailure(err)
					}
				case <-ctx.Done():
				}
				return false
			}
			e.recordSuccess(started)
			ceiling = nil
			if e.reconcile(payload) {
				return true
			}
		case <-ceiling:
			if e.connectionLost(*started) {
				return false
			}
			ceiling = nil
		case <-ctx.Done():
			return false
		}
	}
}

// poll runs the fixed-interval fallback until the job ends or ctx is
// canceled. The engine never switches back to streaming mid-job.
func (e *Engine) poll(ctx context.Context, started *time.Time) bool {
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	e.logger.Info("falling back to polling",
		logging.String(logging.FieldTransport, string(ModePoll)),
		logging.Duration("interval", e.opts.PollInterval))

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			payload, err := e.transport.Job(ctx, e.jobID)
			if err != nil {
				if ctx.Err() != nil {
					return false
				}
				e.logger.Debug("poll failed", logging.Error(err))
				e.recordFailure(err)
				if e.connectionLost(*started) {
					e.surfaceConnectionLoss()
					return false
				}
				continue
			}
			e.recordSuccess(started)
			if e.reconcile(payload) {
				return true
			}
		}
	}
}

// reconcile applies a payload through the state machine and drives the update
// and completion callbacks. It returns true once the job is terminal.
func (e *Engine) reconcile(payload extraction.Payload) bool {
	e.mu.Lock()
	next, changed := extraction.Apply(e.snapshot, payload)
	if changed {
		e.snapshot = &next
	}
	var fireComplete bool
	if changed && next.Status.IsTerminal() && !e.completed {
		e.completed = true
		fireComplete = true
	}
	terminal := e.completed
	e.mu.Unlock()

	if !changed {
		return terminal
	}

	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	if e.opts.OnUpdate != nil {
		e.opts.OnUpdate(next)
	}
	if fireComplete {
		e.logger.Info("job reached terminal state",
			logging.String("status", string(next.Status)),
			logging.String(logging.FieldEventType, "job_terminal"))
		if e.opts.OnComplete != nil {
			e.opts.OnComplete(next)
		}
	}
	return terminal
}

func (e *Engine) hasUpdates() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updatesSeen
}

func (e *Engine) recordSuccess(started *time.Time) {
	*started = time.Now()
	e.mu.Lock()
	e.failures = 0
	e.updatesSeen = true
	e.lastErr = nil
	e.mu.Unlock()
}

func (e *Engine) recordFailure(err error) {
	e.mu.Lock()
	e.failures++
	e.lastErr = err
	if e.mode == ModeStream && e.failures >= e.opts.FailureThreshold {
		e.mode = ModePoll
	}
	e.mu.Unlock()
}

// connectionLost reports whether the sustained-failure ceiling has passed with
// zero updates ever received.
func (e *Engine) connectionLost(since time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.updatesSeen && time.Since(since) > e.opts.ConnectCeiling
}

func (e *Engine) surfaceConnectionLoss() {
	e.mu.Lock()
	err := e.lastErr
	e.mu.Unlock()

	e.logger.Warn("no successful message within ceiling; surfacing connection error",
		logging.Error(err),
		logging.String(logging.FieldEventType, "connection_lost"),
		logging.String(logging.FieldErrorHint, "retry reopens the fetch and stream"))
	if e.opts.OnConnectionLost != nil {
		e.notifyMu.Lock()
		defer e.notifyMu.Unlock()
		e.opts.OnConnectionLost(e.jobID, err)
	}
}
