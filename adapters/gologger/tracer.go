package gologger

import (
	"context"

	job "github.com/goliatone/go-job"

	"github.com/goliatone/go-mailflow/core"
)

// JobTracer logs every scheduler transition through a go-job logger.
type JobTracer struct {
	logger job.Logger
}

func NewJobTracer(logger job.Logger) *JobTracer {
	return &JobTracer{logger: logger}
}

func (t *JobTracer) trace(msg string, event core.JobEvent) {
	if t == nil || t.logger == nil {
		return
	}
	args := []any{
		"job_id", event.JobID,
		"stage", event.Stage,
		"mailbox", event.Mailbox,
		"attempt", event.Attempt,
	}
	if event.Delay > 0 {
		args = append(args, "delay", event.Delay.String())
	}
	if event.Duration > 0 {
		args = append(args, "duration", event.Duration.String())
	}
	if event.Err != nil {
		args = append(args, "error", event.Err.Error())
	}
	t.logger.Info(msg, args...)
}

func (t *JobTracer) OnStart(_ context.Context, event core.JobEvent)   { t.trace("job started", event) }
func (t *JobTracer) OnSuccess(_ context.Context, event core.JobEvent) { t.trace("job succeeded", event) }
func (t *JobTracer) OnFailure(_ context.Context, event core.JobEvent) { t.trace("job failed", event) }
func (t *JobTracer) OnRetry(_ context.Context, event core.JobEvent)   { t.trace("job retry scheduled", event) }

var _ core.JobHook = (*JobTracer)(nil)
