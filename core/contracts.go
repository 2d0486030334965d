package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// Alert is the payload handed to an EscalationSink. Alias carries the job id
// so downstream alerting can collapse repeats for one workflow instance.
type Alert struct {
	Alias   string
	Source  string
	Message string
}

type EscalationSink interface {
	Raise(ctx context.Context, alert Alert) error
}

type EscalationSinkFunc func(ctx context.Context, alert Alert) error

func (f EscalationSinkFunc) Raise(ctx context.Context, alert Alert) error {
	return f(ctx, alert)
}

type DropReason string

const (
	DropReasonExhausted   DropReason = "exhausted"
	DropReasonFatal       DropReason = "fatal"
	DropReasonProgramming DropReason = "programming"
)

// DeadLetter describes a job the scheduler gave up on.
type DeadLetter struct {
	JobID      string
	Stage      string
	Mailbox    string
	Reason     DropReason
	Attempts   int
	MaxRetries int
	Error      string
	Escalated  bool
	OccurredAt time.Time
}

type DeadLetterRecorder interface {
	RecordDeadLetter(ctx context.Context, entry DeadLetter) error
}

// JobEvent is emitted to hooks at every job state transition.
type JobEvent struct {
	JobID     string
	Stage     string
	Mailbox   string
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobHook interface {
	OnStart(ctx context.Context, event JobEvent)
	OnSuccess(ctx context.Context, event JobEvent)
	OnFailure(ctx context.Context, event JobEvent)
	OnRetry(ctx context.Context, event JobEvent)
}

// Enqueuer is the narrow view of a scheduler that workflow stages need.
type Enqueuer interface {
	Enqueue(job *Job) error
	HasJobWithID(id string) bool
}
