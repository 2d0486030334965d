package core

import (
	"context"
	"time"
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type schedulerBuilder struct {
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	escalationSink  EscalationSink
	deadLetters     DeadLetterRecorder
	hooks           []JobHook
	sleep           Sleeper
	now             func() time.Time
}

type Option func(*schedulerBuilder)

func WithLogger(logger Logger) Option {
	return func(b *schedulerBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *schedulerBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *schedulerBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithEscalationSink(sink EscalationSink) Option {
	return func(b *schedulerBuilder) {
		b.escalationSink = sink
	}
}

func WithDeadLetterRecorder(recorder DeadLetterRecorder) Option {
	return func(b *schedulerBuilder) {
		b.deadLetters = recorder
	}
}

// WithHooks appends transition hooks. Nil hooks are ignored.
func WithHooks(hooks ...JobHook) Option {
	return func(b *schedulerBuilder) {
		for _, hook := range hooks {
			if hook != nil {
				b.hooks = append(b.hooks, hook)
			}
		}
	}
}

// WithSleeper replaces the backoff wait. Tests use it to observe delays
// without waiting on the wall clock.
func WithSleeper(sleep Sleeper) Option {
	return func(b *schedulerBuilder) {
		b.sleep = sleep
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *schedulerBuilder) {
		b.now = now
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
