package gologger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-mailflow/core"
)

func TestResolveDeterministicFallback(t *testing.T) {
	loggerOnly := &capturingLogger{id: "logger"}
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{logger: providerLogger}

	var resolvedProvider glog.LoggerProvider
	_, resolved := Resolve("mailflow", provider, loggerOnly)
	got := resolved.(*capturingLogger)
	if got.id != "provider" {
		t.Fatalf("expected provider logger precedence, got %q", got.id)
	}

	resolvedProvider, resolved = Resolve("mailflow", nil, loggerOnly)
	got = resolved.(*capturingLogger)
	if got.id != "logger" {
		t.Fatalf("expected direct logger when provider is nil, got %q", got.id)
	}
	if resolvedProvider == nil {
		t.Fatalf("expected provider wrapper from logger")
	}

	_, resolved = Resolve("mailflow", nil, nil)
	if resolved == nil {
		t.Fatalf("expected nop logger fallback")
	}
}

func TestJobTracerLogsThroughGoJobBridge(t *testing.T) {
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{logger: providerLogger}

	_, _, jobProvider, jobLogger := ResolveForJob("mailflow", provider, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job bridges")
	}

	tracer := NewJobTracer(jobLogger)
	tracer.OnRetry(context.Background(), core.JobEvent{
		JobID:   "job-1",
		Stage:   "CreateTicket",
		Mailbox: "support",
		Attempt: 2,
		Delay:   time.Minute,
		Err:     errors.New("timeout"),
	})

	captured := providerLogger.lastInfo
	if captured.msg != "job retry scheduled" {
		t.Fatalf("expected bridged message, got %q", captured.msg)
	}
	if captured.args[0] != "job_id" || captured.args[1] != "job-1" {
		t.Fatalf("expected job id first, got %#v", captured.args)
	}
	if !containsPair(captured.args, "delay", "1m0s") || !containsPair(captured.args, "error", "timeout") {
		t.Fatalf("expected delay and error args, got %#v", captured.args)
	}

	var nilTracer *JobTracer
	nilTracer.OnStart(context.Background(), core.JobEvent{})
}

func TestSlogProviderWritesNamedRecords(t *testing.T) {
	var buf bytes.Buffer
	provider := NewTextProvider(&buf, "debug")

	logger := provider.GetLogger("mailflow.inbound.support")
	logger.Debug("mailbox polled", "listed", 2)
	logger.Trace("hidden")
	logger.WithContext(context.Background()).Warn("slow poll")

	out := buf.String()
	if !strings.Contains(out, "logger=mailflow.inbound.support") {
		t.Fatalf("expected logger name attribute, got %q", out)
	}
	if !strings.Contains(out, "listed=2") || !strings.Contains(out, "slow poll") {
		t.Fatalf("expected debug and warn records, got %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected trace to be filtered at debug level")
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel(" WARN ") != ParseLevel("warning") {
		t.Fatalf("expected warn aliases to match")
	}
	if ParseLevel("bogus") != ParseLevel("info") {
		t.Fatalf("expected unknown levels to default to info")
	}
	if ParseLevel("trace") >= ParseLevel("debug") {
		t.Fatalf("expected trace below debug")
	}
	if (*SlogProvider)(nil).GetLogger("x") == nil {
		t.Fatalf("expected nop logger from nil provider")
	}
}

func containsPair(args []any, key string, value any) bool {
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == key && args[i+1] == value {
			return true
		}
	}
	return false
}

var (
	_ glog.Logger         = (*capturingLogger)(nil)
	_ glog.LoggerProvider = (*capturingProvider)(nil)
)

type capturingProvider struct {
	logger *capturingLogger
}

func (p *capturingProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type infoCall struct {
	msg  string
	args []any
}

type capturingLogger struct {
	id       string
	lastInfo infoCall
}

func (l *capturingLogger) Trace(string, ...any) {}
func (l *capturingLogger) Debug(string, ...any) {}
func (l *capturingLogger) Warn(string, ...any)  {}
func (l *capturingLogger) Error(string, ...any) {}
func (l *capturingLogger) Fatal(string, ...any) {}

func (l *capturingLogger) Info(msg string, args ...any) {
	l.lastInfo = infoCall{
		msg:  msg,
		args: append([]any(nil), args...),
	}
}

func (l *capturingLogger) WithContext(context.Context) glog.Logger {
	return l
}
