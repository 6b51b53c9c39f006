package registry_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"forkful/internal/extraction"
	"forkful/internal/registry"
	"forkful/internal/syncengine"
)

type fakeSub struct {
	events chan extraction.Payload
	errs   chan error
}

func (s *fakeSub) Events() <-chan extraction.Payload { return s.events }

func (s *fakeSub) Err() <-chan error { return s.errs }

func (s *fakeSub) Close() {}

type fakeTransport struct {
	mu       sync.Mutex
	payloads map[string]extraction.Payload
	subs     map[string][]*fakeSub
	fetches  int
	opens    int
	cancels  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		payloads: make(map[string]extraction.Payload),
		subs:     make(map[string][]*fakeSub),
	}
}

func (t *fakeTransport) set(p extraction.Payload) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.payloads[p.ID] = p
}

func (t *fakeTransport) Job(ctx context.Context, id string) (extraction.Payload, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fetches++
	payload, ok := t.payloads[id]
	if !ok {
		return extraction.Payload{}, errors.New("unknown job")
	}
	return payload, nil
}

func (t *fakeTransport) StreamJob(ctx context.Context, id string) (syncengine.Subscription, error) {
	sub := &fakeSub{events: make(chan extraction.Payload, 8), errs: make(chan error, 1)}
	t.mu.Lock()
	t.subs[id] = append(t.subs[id], sub)
	t.opens++
	t.mu.Unlock()
	return sub, nil
}

// activity totals every fetch and stream open, for asserting quiescence.
func (t *fakeTransport) activity() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fetches + t.opens
}

func (t *fakeTransport) CancelJob(ctx context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancels++
	return nil
}

func (t *fakeTransport) openedStreams(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs[id])
}

func (t *fakeTransport) waitForSub(tb testing.TB, id string) *fakeSub {
	tb.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		t.mu.Lock()
		if subs := t.subs[id]; len(subs) > 0 {
			sub := subs[len(subs)-1]
			t.mu.Unlock()
			return sub
		}
		t.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	tb.Fatalf("no stream opened for %s", id)
	return nil
}

func testOptions() registry.Options {
	return registry.Options{
		MaxSessions: 16,
		Engine: syncengine.Options{
			PollInterval:     10 * time.Millisecond,
			FailureThreshold: 2,
			ConnectCeiling:   time.Second,
			StreamRetryDelay: 5 * time.Millisecond,
		},
	}
}

func processing(id string, progress int) extraction.Payload {
	return extraction.Payload{ID: id, Status: "processing", ProgressPercentage: progress, SourceType: "link"}
}

func completed(id, recipeID string) extraction.Payload {
	return extraction.Payload{ID: id, Status: "completed", ProgressPercentage: 100, RecipeID: recipeID, SourceType: "link"}
}

func waitForView(t *testing.T, reg *registry.Registry, jobID string, ok func(registry.JobView) bool) registry.JobView {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if view, found := reg.Get(jobID); found && ok(view) {
			return view
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("view condition never satisfied for %s", jobID)
	return registry.JobView{}
}

func TestCreateIsIdempotent(t *testing.T) {
	transport := newFakeTransport()
	transport.set(processing("j1", 10))
	reg := registry.New(transport, testOptions())
	defer reg.Close()

	if err := reg.Create(context.Background(), "j1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	transport.waitForSub(t, "j1")
	if err := reg.Create(context.Background(), "j1"); err != nil {
		t.Fatalf("second create: %v", err)
	}

	if got := reg.Len(); got != 1 {
		t.Fatalf("expected one session, got %d", got)
	}
	if got := transport.openedStreams("j1"); got != 1 {
		t.Fatalf("second create must not reopen transports, got %d streams", got)
	}
}

func TestDismissRemovesSessionExactlyOnce(t *testing.T) {
	transport := newFakeTransport()
	transport.set(processing("j1", 10))
	reg := registry.New(transport, testOptions())
	defer reg.Close()

	if err := reg.Create(context.Background(), "j1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := reg.Dismiss("j1"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if _, found := reg.Get("j1"); found {
		t.Fatal("dismissed session must not be readable")
	}
	if err := reg.Dismiss("j1"); !errors.Is(err, registry.ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob on second dismiss, got %v", err)
	}
}

func TestMinimizeKeepsUpdatesFlowing(t *testing.T) {
	transport := newFakeTransport()
	transport.set(processing("j1", 10))
	reg := registry.New(transport, testOptions())
	defer reg.Close()

	if err := reg.Create(context.Background(), "j1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	updates := make(chan extraction.Job, 8)
	if _, err := reg.Subscribe("j1", func(job extraction.Job) { updates <- job }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := reg.Minimize("j1"); err != nil {
		t.Fatalf("minimize: %v", err)
	}

	sub := transport.waitForSub(t, "j1")
	sub.events <- processing("j1", 65)

	select {
	case job := <-updates:
		if job.Progress != 65 {
			t.Fatalf("expected progress 65 while minimized, got %d", job.Progress)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("minimized session stopped delivering updates")
	}

	view, _ := reg.Get("j1")
	if !view.Minimized {
		t.Fatal("view should report the session minimized")
	}
}

func TestCompletionReachesSubscribersAndGlobalHook(t *testing.T) {
	transport := newFakeTransport()
	transport.set(processing("j1", 10))

	global := make(chan extraction.Job, 1)
	opts := testOptions()
	opts.OnComplete = func(job extraction.Job) { global <- job }
	reg := registry.New(transport, opts)
	defer reg.Close()

	if err := reg.Create(context.Background(), "j1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	local := make(chan extraction.Job, 4)
	if _, err := reg.Subscribe("j1", func(job extraction.Job) { local <- job }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sub := transport.waitForSub(t, "j1")
	sub.events <- completed("j1", "r9")

	deadline := time.After(2 * time.Second)
waitLocal:
	for {
		select {
		case job := <-local:
			if job.Status == extraction.StatusCompleted {
				if job.RecipePointer() != "r9" {
					t.Fatalf("expected recipe pointer r9, got %q", job.RecipePointer())
				}
				break waitLocal
			}
		case <-deadline:
			t.Fatal("subscriber never saw completion")
		}
	}

	select {
	case job := <-global:
		if job.ID != "j1" {
			t.Fatalf("global hook got wrong job: %+v", job)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("global completion hook never fired")
	}

	waitForView(t, reg, "j1", func(v registry.JobView) bool { return v.Completed })
}

func TestBoundEvictsOldestFinishedMinimizedSession(t *testing.T) {
	transport := newFakeTransport()
	transport.set(completed("j1", "r1"))
	transport.set(processing("j2", 40))
	transport.set(processing("j3", 5))

	opts := testOptions()
	opts.MaxSessions = 2
	reg := registry.New(transport, opts)
	defer reg.Close()

	if err := reg.Create(context.Background(), "j1"); err != nil {
		t.Fatalf("create j1: %v", err)
	}
	waitForView(t, reg, "j1", func(v registry.JobView) bool { return v.Completed })
	if err := reg.Minimize("j1"); err != nil {
		t.Fatalf("minimize j1: %v", err)
	}
	if err := reg.Create(context.Background(), "j2"); err != nil {
		t.Fatalf("create j2: %v", err)
	}

	if err := reg.Create(context.Background(), "j3"); err != nil {
		t.Fatalf("create j3 should evict j1: %v", err)
	}
	if _, found := reg.Get("j1"); found {
		t.Fatal("j1 should have been evicted")
	}
	if got := reg.Len(); got != 2 {
		t.Fatalf("expected 2 sessions after eviction, got %d", got)
	}
}

func TestBoundRejectsWhenNothingEvictable(t *testing.T) {
	transport := newFakeTransport()
	transport.set(processing("j1", 40))
	transport.set(processing("j2", 10))

	opts := testOptions()
	opts.MaxSessions = 1
	reg := registry.New(transport, opts)
	defer reg.Close()

	if err := reg.Create(context.Background(), "j1"); err != nil {
		t.Fatalf("create j1: %v", err)
	}
	if err := reg.Create(context.Background(), "j2"); !errors.Is(err, registry.ErrRegistryFull) {
		t.Fatalf("expected ErrRegistryFull, got %v", err)
	}
}

func TestGetIsNeverTornDuringDismiss(t *testing.T) {
	transport := newFakeTransport()
	reg := registry.New(transport, testOptions())
	defer reg.Close()

	for i := 0; i < 20; i++ {
		jobID := fmt.Sprintf("job-%d", i)
		transport.set(processing(jobID, 50))
		if err := reg.Create(context.Background(), jobID); err != nil {
			t.Fatalf("create %s: %v", jobID, err)
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			for j := 0; j < 50; j++ {
				if view, ok := reg.Get(jobID); ok && view.JobID != jobID {
					t.Errorf("torn view: %+v", view)
				}
			}
		}()
		if err := reg.Dismiss(jobID); err != nil {
			t.Fatalf("dismiss %s: %v", jobID, err)
		}
		<-done
		if _, ok := reg.Get(jobID); ok {
			t.Fatalf("%s readable after dismiss", jobID)
		}
	}
}

func TestDismissRacingCreateLeavesNoRunningEngine(t *testing.T) {
	transport := newFakeTransport()
	reg := registry.New(transport, testOptions())
	defer reg.Close()

	for i := 0; i < 50; i++ {
		jobID := fmt.Sprintf("job-%d", i)
		transport.set(processing(jobID, 10))

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if err := reg.Dismiss(jobID); err == nil {
					return
				}
				time.Sleep(time.Millisecond)
			}
		}()
		if err := reg.Create(context.Background(), jobID); err != nil {
			t.Fatalf("create %s: %v", jobID, err)
		}
		<-done
	}

	// Once the last dismiss has returned every engine is stopped, so the
	// transport must go quiet; a leaked engine would still fetch or reopen.
	settled := transport.activity()
	time.Sleep(50 * time.Millisecond)
	if after := transport.activity(); after != settled {
		t.Fatalf("transport still active after dismiss: %d then %d calls", settled, after)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	transport := newFakeTransport()
	transport.set(processing("j1", 10))
	reg := registry.New(transport, testOptions())
	defer reg.Close()

	if err := reg.Create(context.Background(), "j1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	updates := make(chan extraction.Job, 8)
	handle, err := reg.Subscribe("j1", func(job extraction.Job) { updates <- job })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	reg.Unsubscribe("j1", handle)

	sub := transport.waitForSub(t, "j1")
	sub.events <- processing("j1", 90)

	select {
	case job := <-updates:
		t.Fatalf("unsubscribed callback still fired: %+v", job)
	case <-time.After(100 * time.Millisecond):
	}
}
