package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/spf13/cobra"

	mailflow "github.com/goliatone/go-mailflow"
	"github.com/goliatone/go-mailflow/adapters/gojob"
	"github.com/goliatone/go-mailflow/adapters/gologger"
	"github.com/goliatone/go-mailflow/metrics"
)

type runFlags struct {
	provider  string
	fixture   string
	mailbox   string
	traceJobs bool
	spool     string
}

func NewRunCmd(flags *globalFlags) *cobra.Command {
	opts := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll every enabled mailbox until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMailflow(cmd, flags, opts)
		},
	}
	cmd.Flags().StringVar(&opts.provider, "provider", "devkit", "provider backend for mailbox and ticketing clients")
	cmd.Flags().StringVar(&opts.fixture, "fixture", "", "YAML fixture used to seed the devkit provider")
	cmd.Flags().StringVar(&opts.mailbox, "mailbox", "", "mailbox that receives fixture messages (default: first)")
	cmd.Flags().BoolVar(&opts.traceJobs, "trace-jobs", false, "log every job transition")
	cmd.Flags().StringVar(&opts.spool, "dead-letter-spool", "", "append dropped jobs as go-job messages to this file")
	return cmd
}

func runMailflow(cmd *cobra.Command, flags *globalFlags, opts *runFlags) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx, flags)
	if err != nil {
		return err
	}
	fixture, err := loadFixture(opts.fixture)
	if err != nil {
		return err
	}
	providers, err := newProviderRegistry(newDevkitBackend(fixture, opts.mailbox))
	if err != nil {
		return err
	}
	factory, err := providers.Factory(opts.provider)
	if err != nil {
		return err
	}

	logs := loggerProvider(cmd, flags)
	logger := logs.GetLogger("mailflow.cli")
	stats := metrics.NewRegistry()
	meterProvider, reader, otelRecorder := metrics.NewMeterProvider()
	defer func() {
		if err := meterProvider.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("meter provider shutdown failed", "error", err)
		}
	}()
	options := []mailflow.Option{
		mailflow.WithLoggerProvider(logs),
		mailflow.WithMetricsRecorder(metrics.NewFanout(stats, otelRecorder)),
		mailflow.WithEscalationSink(logEscalations(logger)),
	}
	if opts.traceJobs {
		_, _, _, jobLogger := gologger.ResolveForJob("mailflow.jobs", logs, nil)
		options = append(options, mailflow.WithJobHooks(gologger.NewJobTracer(jobLogger)))
	}
	var recorders recorderChain
	if cfg.DeadLetters.Enabled {
		journal, cached, err := openJournal(ctx, cfg.DeadLetters)
		if err != nil {
			return err
		}
		defer journal.Close()
		recorders = append(recorders, cached)
	}
	if opts.spool != "" {
		file, err := os.OpenFile(opts.spool, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("cli: open dead letter spool: %w", err)
		}
		defer file.Close()
		recorders = append(recorders, gojob.NewDeadLetterForwarder(gojob.NewSpoolEnqueuer(file)))
	}
	if len(recorders) > 0 {
		options = append(options, mailflow.WithDeadLetterRecorder(recorders))
	}

	rt, err := mailflow.NewRuntime(ctx, cfg, factory, options...)
	if err != nil {
		return err
	}
	for _, mailbox := range rt.Mailboxes() {
		stats.Watch(mailbox.Scheduler)
	}
	if cfg.Metrics.Address != "" {
		stop := serveMetrics(cfg.Metrics.Address, stats, metrics.NewOTelHandler(reader), logger)
		defer stop()
	}

	logger.Info("mailflow starting", "service", cfg.ServiceName, "mailboxes", len(rt.Mailboxes()), "provider", opts.provider)
	return rt.Run(ctx)
}

// serveMetrics exposes the registry on /metrics and the OTel reader on
// /metrics/otel.
func serveMetrics(addr string, registry, otelHandler http.Handler, logger glog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry)
	mux.Handle("/metrics/otel", otelHandler)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "address", addr, "error", err)
		}
	}()
	logger.Info("metrics server listening", "address", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
