package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultMaxRetries = 5
	DefaultRetryDelay = time.Minute
)

// RetryPolicy bounds how often a job is executed and how long the worker
// waits before each retry.
type RetryPolicy struct {
	MaxRetries int           `koanf:"max_retries" mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay time.Duration `koanf:"retry_delay" mapstructure:"retry_delay" yaml:"retry_delay"`
	Escalate   bool          `koanf:"escalate" mapstructure:"escalate" yaml:"escalate"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
	}
}

// Normalize clamps MaxRetries to at least one execution and drops negative
// delays. A policy of 0 or 1 therefore means a single attempt.
func (p RetryPolicy) Normalize() RetryPolicy {
	out := p
	if out.MaxRetries < 1 {
		out.MaxRetries = 1
	}
	if out.RetryDelay < 0 {
		out.RetryDelay = 0
	}
	return out
}

func (p RetryPolicy) WithEscalation(escalate bool) RetryPolicy {
	p.Escalate = escalate
	return p
}

// Job is one retryable unit of work. All jobs of a workflow instance share
// the same id. A job is owned by at most one worker at a time, so attempt
// bookkeeping needs no locking of its own.
type Job struct {
	id       string
	name     string
	args     any
	run      func(ctx context.Context) error
	policy   RetryPolicy
	attempts int
	lastErr  error
}

// NewJob binds action to args. The same args value is handed to every
// execution of the job, including retries.
func NewJob[A any](id string, name string, args A, action func(ctx context.Context, args A) error, policy RetryPolicy) (*Job, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("core: job id is required")
	}
	if action == nil {
		return nil, fmt.Errorf("core: job action is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "job"
	}
	return &Job{
		id:     id,
		name:   name,
		args:   args,
		policy: policy.Normalize(),
		run: func(ctx context.Context) error {
			return action(ctx, args)
		},
	}, nil
}

func (j *Job) ID() string { return j.id }

func (j *Job) Name() string { return j.name }

func (j *Job) Arguments() any { return j.args }

func (j *Job) Policy() RetryPolicy { return j.policy }

func (j *Job) MaxRetries() int { return j.policy.MaxRetries }

func (j *Job) RetryDelay() time.Duration { return j.policy.RetryDelay }

func (j *Job) Escalate() bool { return j.policy.Escalate }

func (j *Job) Attempts() int { return j.attempts }

func (j *Job) LastError() error { return j.lastErr }

// Delay is the wait honored before the next execution of a failed job.
func (j *Job) Delay() time.Duration {
	return LinearBackoff(j.policy.RetryDelay, j.attempts)
}

func (j *Job) execute(ctx context.Context) error {
	return j.run(ctx)
}

// recordFailure counts a failed execution and reports whether another
// attempt is allowed.
func (j *Job) recordFailure() bool {
	j.attempts++
	return j.attempts < j.policy.MaxRetries
}

func (j *Job) key() string {
	return strings.ToLower(j.id)
}
