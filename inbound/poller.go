package inbound

import (
	"context"
	"strings"
	"time"

	gocmd "github.com/goliatone/go-command"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-mailflow/command"
	"github.com/goliatone/go-mailflow/core"
	"github.com/goliatone/go-mailflow/workflow"
)

type Folders struct {
	Incoming  *workflow.Folder
	Processed *workflow.Folder
	Failed    *workflow.Folder
}

// SetupFolders resolves the configured folders, creating any that are
// missing.
func SetupFolders(ctx context.Context, mailbox workflow.Mailbox, cfg core.FolderConfig) (Folders, error) {
	if mailbox == nil {
		return Folders{}, inboundBadInput("inbound: mailbox client is required", nil)
	}
	resolve := func(name string) (*workflow.Folder, error) {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, inboundBadInput("inbound: folder name is required", nil)
		}
		folder, err := mailbox.ResolveFolder(ctx, name)
		if err != nil {
			return nil, inboundRemote(err, "inbound: resolve folder failed", map[string]any{"folder": name})
		}
		if folder == nil {
			return nil, inboundRemote(nil, "inbound: folder could not be created", map[string]any{"folder": name})
		}
		return folder, nil
	}

	var out Folders
	var err error
	if out.Incoming, err = resolve(cfg.Incoming); err != nil {
		return Folders{}, err
	}
	if out.Processed, err = resolve(cfg.Processed); err != nil {
		return Folders{}, err
	}
	if out.Failed, err = resolve(cfg.Failed); err != nil {
		return Folders{}, err
	}
	return out, nil
}

// Ingestor accepts one message. *command.IngestCommand satisfies it.
type Ingestor interface {
	Execute(ctx context.Context, msg command.IngestMessage) error
}

type PollResult struct {
	Listed  int
	Started int
	Skipped int
	Failed  int
}

type Option func(*Poller)

func WithLogger(logger core.Logger) Option {
	return func(p *Poller) {
		p.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(p *Poller) {
		p.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(p *Poller) {
		if recorder != nil {
			p.metrics = recorder
		}
	}
}

func WithSleeper(sleep core.Sleeper) Option {
	return func(p *Poller) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

type Poller struct {
	mailbox workflow.Mailbox
	ingest  Ingestor
	config  core.MailboxConfig
	folders Folders

	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	sleep          core.Sleeper
}

func NewPoller(mailbox workflow.Mailbox, ingest Ingestor, cfg core.MailboxConfig, folders Folders, opts ...Option) (*Poller, error) {
	if mailbox == nil {
		return nil, inboundBadInput("inbound: mailbox client is required", nil)
	}
	if ingest == nil {
		return nil, inboundBadInput("inbound: ingestor is required", nil)
	}
	if folders.Incoming == nil {
		return nil, inboundBadInput("inbound: incoming folder is required", map[string]any{"mailbox": cfg.Name})
	}
	if cfg.Processing.CheckDelay <= 0 {
		cfg.Processing.CheckDelay = core.DefaultCheckDelay
	}
	p := &Poller{
		mailbox: mailbox,
		ingest:  ingest,
		config:  cfg,
		folders: folders,
		metrics: core.NopMetricsRecorder{},
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	provider, logger := glog.Resolve("mailflow", p.loggerProvider, p.logger)
	p.logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("mailflow.inbound." + cfg.Name); named != nil {
			p.logger = glog.Ensure(named)
		}
	}
	return p, nil
}

func (p *Poller) Folders() Folders {
	return p.folders
}

// Run polls until ctx is cancelled. Poll errors are logged and the loop
// continues after the check delay.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("mailbox polling started",
		"mailbox", p.config.Name,
		"folder", p.folders.Incoming.Name,
		"check_delay", p.config.Processing.CheckDelay.String(),
	)
	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("mailbox poll failed", "mailbox", p.config.Name, "error", err)
		}
		if err := p.sleep(ctx, p.config.Processing.CheckDelay); err != nil {
			p.logger.Info("mailbox polling stopped", "mailbox", p.config.Name)
			return nil
		}
	}
}

// PollOnce lists the incoming folder and ingests each message. A failure to
// ingest one message does not stop the others.
func (p *Poller) PollOnce(ctx context.Context) (PollResult, error) {
	result := PollResult{}
	if !workflow.ValidAddress(p.config.Address) {
		return result, inboundBadInput("inbound: mailbox address is not valid", map[string]any{
			"mailbox": p.config.Name,
			"address": p.config.Address,
		})
	}
	started := time.Now()
	messages, err := p.mailbox.ListMessages(ctx, p.folders.Incoming, p.config.Processing.UnreadOnly)
	if err != nil {
		return result, inboundRemote(err, "inbound: list messages failed", map[string]any{"mailbox": p.config.Name})
	}
	result.Listed = len(messages)

	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		collector := gocmd.NewResult[command.IngestResult]()
		ingestCtx := gocmd.ContextWithResult(ctx, collector)
		if err := p.ingest.Execute(ingestCtx, command.IngestMessage{Mailbox: p.config.Name, Message: msg}); err != nil {
			result.Failed++
			p.logger.Warn("message ingest failed",
				"mailbox", p.config.Name,
				"message_id", msg.ID,
				"error", err,
			)
			continue
		}
		if outcome, ok := collector.Load(); ok && outcome.Started {
			result.Started++
		} else {
			result.Skipped++
		}
	}

	tags := map[string]string{"mailbox": p.config.Name}
	p.metrics.IncCounter(ctx, "mailflow.poll.messages", int64(result.Listed), tags)
	p.metrics.IncCounter(ctx, "mailflow.poll.started", int64(result.Started), tags)
	p.metrics.ObserveHistogram(ctx, "mailflow.poll.duration_ms", float64(time.Since(started).Milliseconds()), tags)
	p.logger.Debug("mailbox polled",
		"mailbox", p.config.Name,
		"listed", result.Listed,
		"started", result.Started,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
