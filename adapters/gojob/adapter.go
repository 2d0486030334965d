package gojob

import (
	"context"
	"fmt"
	"strings"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-mailflow/core"
)

const (
	ScriptPathPrefix  = "mailflow.stage."
	ParamMailbox      = "mailbox"
	ParamStage        = "stage"
	ParamReason       = "reason"
	ParamAttempts     = "attempts"
	ParamError        = "error"
	DeadLetterJobType = "mailflow.deadletter"
)

// ToExecutionMessage describes a mailflow job in go-job terms. The job id
// doubles as the idempotency key.
func ToExecutionMessage(event core.JobEvent) *job.ExecutionMessage {
	stage := strings.TrimSpace(event.Stage)
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(event.JobID),
		ScriptPath:     ScriptPathPrefix + stage,
		Parameters:     map[string]any{ParamMailbox: strings.TrimSpace(event.Mailbox), ParamStage: stage},
		IdempotencyKey: strings.TrimSpace(event.JobID),
	}
}

// FromWorkerEvent maps a go-job worker event back to a mailflow job event.
// Stage and mailbox come from the message parameters, falling back to the
// script path for the stage.
func FromWorkerEvent(event worker.Event) core.JobEvent {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	out := core.JobEvent{
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
	if message == nil {
		return out
	}
	out.JobID = strings.TrimSpace(message.JobID)
	out.Stage = paramString(message.Parameters, ParamStage)
	if out.Stage == "" {
		out.Stage = strings.TrimPrefix(strings.TrimSpace(message.ScriptPath), ScriptPathPrefix)
	}
	out.Mailbox = paramString(message.Parameters, ParamMailbox)
	return out
}

func toWorkerEvent(event core.JobEvent) worker.Event {
	return worker.Event{
		Message:   ToExecutionMessage(event),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
}

// HookBridge feeds scheduler transitions to go-job worker hooks.
type HookBridge struct {
	hooks []worker.Hook
}

func NewHookBridge(hooks ...worker.Hook) *HookBridge {
	bridge := &HookBridge{}
	for _, hook := range hooks {
		if hook != nil {
			bridge.hooks = append(bridge.hooks, hook)
		}
	}
	return bridge
}

func (b *HookBridge) OnStart(ctx context.Context, event core.JobEvent) {
	if b == nil {
		return
	}
	evt := toWorkerEvent(event)
	for _, hook := range b.hooks {
		hook.OnStart(ctx, evt)
	}
}

func (b *HookBridge) OnSuccess(ctx context.Context, event core.JobEvent) {
	if b == nil {
		return
	}
	evt := toWorkerEvent(event)
	for _, hook := range b.hooks {
		hook.OnSuccess(ctx, evt)
	}
}

func (b *HookBridge) OnFailure(ctx context.Context, event core.JobEvent) {
	if b == nil {
		return
	}
	evt := toWorkerEvent(event)
	for _, hook := range b.hooks {
		hook.OnFailure(ctx, evt)
	}
}

func (b *HookBridge) OnRetry(ctx context.Context, event core.JobEvent) {
	if b == nil {
		return
	}
	evt := toWorkerEvent(event)
	for _, hook := range b.hooks {
		hook.OnRetry(ctx, evt)
	}
}

// WorkerHookAdapter lets a mailflow JobHook observe a go-job worker.
type WorkerHookAdapter struct {
	hook core.JobHook
}

func NewWorkerHookAdapter(hook core.JobHook) *WorkerHookAdapter {
	return &WorkerHookAdapter{hook: hook}
}

func (a *WorkerHookAdapter) OnStart(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnStart(ctx, FromWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnSuccess(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnSuccess(ctx, FromWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnFailure(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnFailure(ctx, FromWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnRetry(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnRetry(ctx, FromWorkerEvent(event))
}

// DeadLetterForwarder hands dead letters to a go-job queue, e.g. for a
// replay worker running elsewhere.
type DeadLetterForwarder struct {
	enqueuer queue.Enqueuer
}

func NewDeadLetterForwarder(enqueuer queue.Enqueuer) *DeadLetterForwarder {
	return &DeadLetterForwarder{enqueuer: enqueuer}
}

func (f *DeadLetterForwarder) RecordDeadLetter(ctx context.Context, entry core.DeadLetter) error {
	if f == nil || f.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	jobID := strings.TrimSpace(entry.JobID)
	if jobID == "" {
		return fmt.Errorf("gojob: dead letter job id is required")
	}
	stage := strings.TrimSpace(entry.Stage)
	return f.enqueuer.Enqueue(ctx, &job.ExecutionMessage{
		JobID:      DeadLetterJobType,
		ScriptPath: ScriptPathPrefix + stage,
		Parameters: map[string]any{
			"job_id":      jobID,
			ParamMailbox:  strings.TrimSpace(entry.Mailbox),
			ParamStage:    stage,
			ParamReason:   string(entry.Reason),
			ParamAttempts: entry.Attempts,
			ParamError:    entry.Error,
		},
		IdempotencyKey: jobID + ":" + stage,
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	})
}

func paramString(params map[string]any, key string) string {
	if len(params) == 0 {
		return ""
	}
	value, ok := params[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

var (
	_ core.JobHook            = (*HookBridge)(nil)
	_ worker.Hook             = (*WorkerHookAdapter)(nil)
	_ core.DeadLetterRecorder = (*DeadLetterForwarder)(nil)
)
