package core

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	DefaultEscalationSource = "mailflow"

	escalationReasonMaxRetry    = "QUEUE_FAIL_MAXRETRY"
	escalationReasonFatal       = "QUEUE_FAIL_FATAL"
	escalationReasonProgramming = "QUEUE_FAIL_PROGRAMMING"
)

type SchedulerConfig struct {
	Name             string `koanf:"name" mapstructure:"name" yaml:"name"`
	MaxWorkers       int    `koanf:"max_workers" mapstructure:"max_workers" yaml:"max_workers"`
	EscalationSource string `koanf:"escalation_source" mapstructure:"escalation_source" yaml:"escalation_source"`
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Name:             "default",
		MaxWorkers:       runtime.NumCPU(),
		EscalationSource: DefaultEscalationSource,
	}
}

type SchedulerStats struct {
	Name           string
	Pending        int
	Executing      int
	ActiveWorkers  int
	MaxWorkers     int
	SpawnedWorkers int
}

// Scheduler owns one FIFO queue and a bounded pool of workers. A worker is
// spawned on enqueue while fewer than MaxWorkers are active and exits as soon
// as it finds the queue empty. One mutex guards the queue, the in-flight
// index and the worker counters.
type Scheduler struct {
	config SchedulerConfig

	mu        sync.Mutex
	pending   []*Job
	executing map[string]int
	escalated map[string]struct{}
	active    int
	spawned   int
	idle      chan struct{}
	idleSet   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger          Logger
	metricsRecorder MetricsRecorder
	escalationSink  EscalationSink
	deadLetters     DeadLetterRecorder
	hooks           []JobHook
	sleep           Sleeper
	now             func() time.Time
}

// NewScheduler builds a scheduler bound to ctx. Cancelling ctx, or calling
// Stop, stops workers between job executions.
func NewScheduler(ctx context.Context, cfg SchedulerConfig, opts ...Option) (*Scheduler, error) {
	if ctx == nil {
		return nil, fmt.Errorf("core: scheduler context is required")
	}
	defaults := DefaultSchedulerConfig()
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = defaults.MaxWorkers
	}
	cfg.EscalationSource = strings.TrimSpace(cfg.EscalationSource)
	if cfg.EscalationSource == "" {
		cfg.EscalationSource = defaults.EscalationSource
	}

	builder := schedulerBuilder{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("mailflow", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("mailflow.scheduler." + cfg.Name); named != nil {
			logger = glog.Ensure(named)
		}
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.sleep == nil {
		builder.sleep = sleepContext
	}
	if builder.now == nil {
		builder.now = func() time.Time {
			return time.Now().UTC()
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	idle := make(chan struct{})
	close(idle)

	return &Scheduler{
		config:          cfg,
		executing:       map[string]int{},
		escalated:       map[string]struct{}{},
		idle:            idle,
		idleSet:         true,
		ctx:             runCtx,
		cancel:          cancel,
		logger:          logger,
		metricsRecorder: builder.metricsRecorder,
		escalationSink:  builder.escalationSink,
		deadLetters:     builder.deadLetters,
		hooks:           builder.hooks,
		sleep:           builder.sleep,
		now:             builder.now,
	}, nil
}

func (s *Scheduler) Name() string {
	return s.config.Name
}

func (s *Scheduler) MaxWorkers() int {
	return s.config.MaxWorkers
}

// Enqueue appends job to the tail of the queue and spawns a worker when a
// slot is free. After the scheduler is stopped jobs are still queued but no
// worker picks them up.
func (s *Scheduler) Enqueue(job *Job) error {
	if s == nil {
		return fmt.Errorf("core: scheduler is not configured")
	}
	if job == nil {
		return fmt.Errorf("core: job is required")
	}

	s.mu.Lock()
	s.pending = append(s.pending, job)
	depth := len(s.pending)
	spawned := s.spawnLocked()
	s.mu.Unlock()

	fields := s.jobFields(job)
	fields["queue_depth"] = depth
	fields["worker_spawned"] = spawned
	s.logWithLevel(s.ctx, "debug", "job enqueued", fields)
	s.recordCounter(s.ctx, "mailflow.jobs.enqueued", 1, s.jobTags(job))
	return nil
}

// HasJobWithID reports whether a job with id is pending or executing. The
// comparison ignores case.
func (s *Scheduler) HasJobWithID(id string) bool {
	if s == nil {
		return false
	}
	key := strings.ToLower(strings.TrimSpace(id))
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasKeyLocked(key)
}

func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	executing := 0
	for _, count := range s.executing {
		executing += count
	}
	return SchedulerStats{
		Name:           s.config.Name,
		Pending:        len(s.pending),
		Executing:      executing,
		ActiveWorkers:  s.active,
		MaxWorkers:     s.config.MaxWorkers,
		SpawnedWorkers: s.spawned,
	}
}

// Pending returns the ids of queued jobs in queue order.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.pending))
	for _, job := range s.pending {
		ids = append(ids, job.ID())
	}
	return ids
}

// Stop cancels the scheduler. In-flight actions are not interrupted.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	s.cancel()
}

func (s *Scheduler) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Wait blocks until no worker is active and nothing is executing, or ctx is
// done. Jobs left pending after Stop do not keep Wait blocked.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) spawnLocked() bool {
	if s.active >= s.config.MaxWorkers || s.ctx.Err() != nil {
		return false
	}
	if s.idleSet {
		s.idle = make(chan struct{})
		s.idleSet = false
	}
	s.active++
	s.startWorkerLocked()
	return true
}

func (s *Scheduler) startWorkerLocked() {
	s.spawned++
	s.wg.Add(1)
	go s.work(uuid.NewString())
}

func (s *Scheduler) retireWorkerLocked() {
	s.active--
	s.signalIdleLocked()
}

func (s *Scheduler) signalIdleLocked() {
	if s.idleSet || s.active > 0 || len(s.executing) > 0 {
		return
	}
	close(s.idle)
	s.idleSet = true
}

func (s *Scheduler) work(workerID string) {
	defer s.wg.Done()

	var current *Job
	defer func() {
		if recovered := recover(); recovered != nil {
			s.recoverWorker(workerID, current, recovered, debug.Stack())
		}
	}()

	for {
		job, ok := s.next()
		if !ok {
			return
		}
		current = job
		s.run(workerID, job)
		s.release(job)
		current = nil
	}
}

// next pops the head of the queue and marks it executing. When the queue is
// empty or the scheduler is stopped the worker slot is released instead.
func (s *Scheduler) next() (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 || s.ctx.Err() != nil {
		s.retireWorkerLocked()
		return nil, false
	}
	job := s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]
	s.executing[job.key()]++
	return job, true
}

func (s *Scheduler) release(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(job)
}

func (s *Scheduler) releaseLocked(job *Job) {
	key := job.key()
	if s.executing[key] <= 1 {
		delete(s.executing, key)
	} else {
		s.executing[key]--
	}
	if !s.hasKeyLocked(key) {
		delete(s.escalated, key)
	}
	s.signalIdleLocked()
}

func (s *Scheduler) hasKeyLocked(key string) bool {
	if s.executing[key] > 0 {
		return true
	}
	for _, job := range s.pending {
		if job.key() == key {
			return true
		}
	}
	return false
}

func (s *Scheduler) run(workerID string, job *Job) {
	ctx := s.ctx
	fields := s.jobFields(job)
	fields["worker_id"] = workerID

	if job.Attempts() > 0 {
		delay := job.Delay()
		fields["delay_ms"] = delay.Milliseconds()
		s.logWithLevel(ctx, "debug", "job delayed before retry", fields)
		if err := s.sleep(ctx, delay); err != nil {
			s.requeueFront(job)
			s.logWithLevel(ctx, "info", "job returned to queue on shutdown", fields)
			return
		}
	}

	attempt := job.Attempts() + 1
	fields["attempt"] = attempt
	startedAt := s.now()
	s.emit(ctx, JobHook.OnStart, s.jobEvent(job, attempt, startedAt, 0, nil))
	s.logWithLevel(ctx, "debug", "job started", fields)

	// Stop is observed between jobs only; the running action keeps its calls.
	err := job.execute(context.WithoutCancel(ctx))
	duration := s.now().Sub(startedAt)
	fields["duration_ms"] = duration.Milliseconds()
	s.recordHistogram(ctx, "mailflow.jobs.duration_ms", float64(duration.Milliseconds()), s.jobTags(job))

	if err == nil {
		s.emit(ctx, JobHook.OnSuccess, s.jobEvent(job, attempt, startedAt, duration, nil))
		s.logWithLevel(ctx, "info", "job succeeded", fields)
		s.recordCounter(ctx, "mailflow.jobs.succeeded", 1, s.jobTags(job))
		return
	}

	class := ClassifyFailure(err)
	canRetry := job.recordFailure()
	fields["attempts"] = job.Attempts()
	fields["error"] = err.Error()

	switch {
	case class == FailureProgramming:
		s.drop(ctx, job, DropReasonProgramming, err, startedAt, duration)
	case class == FailureFatal:
		s.drop(ctx, job, DropReasonFatal, err, startedAt, duration)
	case !canRetry:
		s.drop(ctx, job, DropReasonExhausted, err, startedAt, duration)
	default:
		// Once requeued the job may be picked up by another worker, so
		// nothing below reads from it.
		event := s.jobEvent(job, attempt, startedAt, duration, err)
		event.Delay = job.Delay()
		fields["next_delay_ms"] = event.Delay.Milliseconds()
		tags := s.jobTags(job)
		s.requeueBack(job)
		s.emit(ctx, JobHook.OnRetry, event)
		s.logWithLevel(ctx, "warn", "job failed, requeued", fields)
		s.recordCounter(ctx, "mailflow.jobs.retried", 1, tags)
	}
}

func (s *Scheduler) requeueBack(job *Job) {
	s.mu.Lock()
	s.pending = append(s.pending, job)
	s.mu.Unlock()
}

func (s *Scheduler) requeueFront(job *Job) {
	s.mu.Lock()
	s.pending = append([]*Job{job}, s.pending...)
	s.mu.Unlock()
}

func (s *Scheduler) drop(
	ctx context.Context,
	job *Job,
	reason DropReason,
	cause error,
	startedAt time.Time,
	duration time.Duration,
) {
	if reason == DropReasonExhausted {
		job.lastErr = exhaustedError(job, cause)
	} else {
		job.lastErr = cause
	}
	s.emit(ctx, JobHook.OnFailure, s.jobEvent(job, job.Attempts(), startedAt, duration, job.lastErr))

	escalated := s.escalate(ctx, job, reason)

	fields := s.jobFields(job)
	fields["attempts"] = job.Attempts()
	fields["reason"] = string(reason)
	fields["escalated"] = escalated
	fields["error"] = job.lastErr.Error()
	s.logWithLevel(ctx, "error", "job dropped", fields)

	tags := s.jobTags(job)
	tags["reason"] = string(reason)
	s.recordCounter(ctx, "mailflow.jobs.dropped", 1, tags)

	if s.deadLetters == nil {
		return
	}
	entry := DeadLetter{
		JobID:      job.ID(),
		Stage:      job.Name(),
		Mailbox:    s.config.Name,
		Reason:     reason,
		Attempts:   job.Attempts(),
		MaxRetries: job.MaxRetries(),
		Error:      job.lastErr.Error(),
		Escalated:  escalated,
		OccurredAt: s.now(),
	}
	if err := s.deadLetters.RecordDeadLetter(context.WithoutCancel(ctx), entry); err != nil {
		fields["dead_letter_error"] = err.Error()
		s.logWithLevel(ctx, "warn", "dead letter record failed", fields)
	}
}

// recoverWorker handles a panic that escaped job execution. The replacement
// worker is armed before anything else so the queue stays live.
func (s *Scheduler) recoverWorker(workerID string, job *Job, recovered any, stack []byte) {
	s.mu.Lock()
	rearmed := s.ctx.Err() == nil
	if rearmed {
		s.startWorkerLocked()
	} else {
		s.retireWorkerLocked()
	}
	s.mu.Unlock()

	fields := map[string]any{
		"mailbox":   s.config.Name,
		"worker_id": workerID,
		"rearmed":   rearmed,
		"panic":     fmt.Sprint(recovered),
		"stack":     string(stack),
	}

	if job != nil {
		err := ProgrammingError(job.Name(), recovered)
		job.recordFailure()
		s.drop(s.ctx, job, DropReasonProgramming, err, s.now(), 0)
		s.release(job)
		fields["job_id"] = job.ID()
		fields["stage"] = job.Name()
	}
	s.logWithLevel(s.ctx, "error", "worker panic recovered", fields)
}

// escalate raises at most one alert per workflow instance. Sink errors and
// panics are logged and swallowed.
func (s *Scheduler) escalate(ctx context.Context, job *Job, reason DropReason) (raised bool) {
	if !job.Escalate() {
		return false
	}
	fields := s.jobFields(job)

	s.mu.Lock()
	if _, seen := s.escalated[job.key()]; seen {
		s.mu.Unlock()
		s.logWithLevel(ctx, "debug", "escalation already raised for workflow", fields)
		return false
	}
	s.escalated[job.key()] = struct{}{}
	s.mu.Unlock()

	if s.escalationSink == nil {
		s.logWithLevel(ctx, "warn", "escalation requested without sink", fields)
		return false
	}

	alert := Alert{
		Alias:   job.ID(),
		Source:  s.config.EscalationSource,
		Message: EscalationMessage(job.Name(), reason),
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			fields["panic"] = fmt.Sprint(recovered)
			s.logWithLevel(ctx, "error", "escalation sink panicked", fields)
			raised = false
		}
	}()
	if err := s.escalationSink.Raise(context.WithoutCancel(ctx), alert); err != nil {
		fields["error"] = err.Error()
		s.logWithLevel(ctx, "error", "escalation sink failed", fields)
		return false
	}
	s.logWithLevel(ctx, "warn", "escalation raised", fields)
	s.recordCounter(ctx, "mailflow.escalations", 1, s.jobTags(job))
	return true
}

// EscalationMessage names the failing stage and the drop reason.
func EscalationMessage(stage string, reason DropReason) string {
	code := escalationReasonMaxRetry
	switch reason {
	case DropReasonFatal:
		code = escalationReasonFatal
	case DropReasonProgramming:
		code = escalationReasonProgramming
	}
	return fmt.Sprintf("There has been a critical failure in %s reason: %s", stageLabel(stage), code)
}

// emit fans event out to every hook. A panicking hook is logged and does
// not affect job bookkeeping.
func (s *Scheduler) emit(ctx context.Context, fn func(JobHook, context.Context, JobEvent), event JobEvent) {
	for _, hook := range s.hooks {
		s.callHook(ctx, fn, hook, event)
	}
}

func (s *Scheduler) callHook(ctx context.Context, fn func(JobHook, context.Context, JobEvent), hook JobHook, event JobEvent) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logWithLevel(ctx, "error", "job hook panicked", map[string]any{
				"mailbox": event.Mailbox,
				"job_id":  event.JobID,
				"stage":   event.Stage,
				"panic":   fmt.Sprint(recovered),
			})
		}
	}()
	fn(hook, ctx, event)
}

func (s *Scheduler) jobEvent(job *Job, attempt int, startedAt time.Time, duration time.Duration, err error) JobEvent {
	return JobEvent{
		JobID:     job.ID(),
		Stage:     job.Name(),
		Mailbox:   s.config.Name,
		Attempt:   attempt,
		Err:       err,
		StartedAt: startedAt,
		Duration:  duration,
	}
}

func (s *Scheduler) jobFields(job *Job) map[string]any {
	return map[string]any{
		"mailbox": s.config.Name,
		"job_id":  job.ID(),
		"stage":   job.Name(),
	}
}

func (s *Scheduler) jobTags(job *Job) map[string]string {
	return map[string]string{
		"mailbox": s.config.Name,
		"stage":   job.Name(),
	}
}
