package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
	names  []string
}

func (s *stubLoggerProvider) GetLogger(name string) Logger {
	s.names = append(s.names, name)
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(ctx context.Context) (map[string]any, error) {
	return StaticConfigLoader{Values: l.values}.LoadRaw(ctx)
}

// recordingSleeper captures backoff waits instead of sleeping.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleeper) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

type recordingSink struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
	panic  bool
}

func (s *recordingSink) Raise(_ context.Context, alert Alert) error {
	s.mu.Lock()
	s.alerts = append(s.alerts, alert)
	s.mu.Unlock()
	if s.panic {
		panic("sink exploded")
	}
	return s.err
}

func (s *recordingSink) Alerts() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Alert(nil), s.alerts...)
}

type recordingDeadLetters struct {
	mu      sync.Mutex
	entries []DeadLetter
}

func (r *recordingDeadLetters) RecordDeadLetter(_ context.Context, entry DeadLetter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingDeadLetters) Entries() []DeadLetter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DeadLetter(nil), r.entries...)
}

type recordingHook struct {
	mu     sync.Mutex
	events []string
	last   map[string]JobEvent
}

func (h *recordingHook) record(kind string, event JobEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		h.last = map[string]JobEvent{}
	}
	h.events = append(h.events, kind)
	h.last[kind] = event
}

func (h *recordingHook) OnStart(_ context.Context, event JobEvent)   { h.record("start", event) }
func (h *recordingHook) OnSuccess(_ context.Context, event JobEvent) { h.record("success", event) }
func (h *recordingHook) OnFailure(_ context.Context, event JobEvent) { h.record("failure", event) }
func (h *recordingHook) OnRetry(_ context.Context, event JobEvent)   { h.record("retry", event) }

func (h *recordingHook) Events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func (h *recordingHook) Last(kind string) JobEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last[kind]
}

// executionLog records the order in which job actions ran.
type executionLog struct {
	mu    sync.Mutex
	order []string
}

func (l *executionLog) add(name string) {
	l.mu.Lock()
	l.order = append(l.order, name)
	l.mu.Unlock()
}

func (l *executionLog) Order() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

func (l *executionLog) Count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, item := range l.order {
		if item == name {
			count++
		}
	}
	return count
}

var errTransient = errors.New("remote unavailable")

func newTestScheduler(t *testing.T, maxWorkers int, opts ...Option) (*Scheduler, *recordingSleeper) {
	t.Helper()
	sleeper := &recordingSleeper{}
	base := []Option{WithLogger(stubLogger{}), WithSleeper(sleeper.Sleep)}
	scheduler, err := NewScheduler(context.Background(), SchedulerConfig{
		Name:             "support@example.com",
		MaxWorkers:       maxWorkers,
		EscalationSource: "test-source",
	}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	t.Cleanup(scheduler.Stop)
	return scheduler, sleeper
}

func mustJob[A any](t *testing.T, id string, name string, args A, action func(context.Context, A) error, policy RetryPolicy) *Job {
	t.Helper()
	job, err := NewJob(id, name, args, action, policy)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	return job
}

func waitIdle(t *testing.T, scheduler *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := scheduler.Wait(ctx); err != nil {
		t.Fatalf("wait for scheduler: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
