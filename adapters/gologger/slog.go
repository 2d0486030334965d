package gologger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

const levelTrace = slog.Level(-8)

// ParseLevel accepts trace, debug, info, warn and error. Anything else is
// info.
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "trace":
		return levelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SlogLogger writes glog calls to a slog handler. Context passed through
// WithContext is forwarded to the handler on every record.
type SlogLogger struct {
	logger *slog.Logger
	ctx    context.Context
}

func NewSlogLogger(handler slog.Handler) *SlogLogger {
	if handler == nil {
		handler = slog.NewTextHandler(io.Discard, nil)
	}
	return &SlogLogger{logger: slog.New(handler), ctx: context.Background()}
}

func (l *SlogLogger) log(level slog.Level, msg string, args ...any) {
	l.logger.Log(l.ctx, level, msg, args...)
}

func (l *SlogLogger) Trace(msg string, args ...any) { l.log(levelTrace, msg, args...) }
func (l *SlogLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *SlogLogger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// Fatal logs at error level and exits.
func (l *SlogLogger) Fatal(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
	os.Exit(1)
}

func (l *SlogLogger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		return l
	}
	return &SlogLogger{logger: l.logger, ctx: ctx}
}

// SlogProvider hands out SlogLoggers tagged with a "logger" attribute.
type SlogProvider struct {
	handler slog.Handler
}

func NewSlogProvider(handler slog.Handler) *SlogProvider {
	return &SlogProvider{handler: handler}
}

// NewTextProvider is the console provider used by the CLI.
func NewTextProvider(w io.Writer, level string) *SlogProvider {
	return NewSlogProvider(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

func (p *SlogProvider) GetLogger(name string) glog.Logger {
	if p == nil || p.handler == nil {
		return glog.Nop()
	}
	logger := NewSlogLogger(p.handler)
	if name = strings.TrimSpace(name); name != "" {
		logger.logger = logger.logger.With("logger", name)
	}
	return logger
}

var (
	_ glog.Logger         = (*SlogLogger)(nil)
	_ glog.LoggerProvider = (*SlogProvider)(nil)
)
