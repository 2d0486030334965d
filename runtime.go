package mailflow

import (
	"context"
	"fmt"

	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-mailflow/command"
	"github.com/goliatone/go-mailflow/core"
	"github.com/goliatone/go-mailflow/inbound"
	"github.com/goliatone/go-mailflow/workflow"
)

type Option func(*runtimeOptions)

type runtimeOptions struct {
	logger           core.Logger
	loggerProvider   core.LoggerProvider
	escalationSink   core.EscalationSink
	deadLetters      core.DeadLetterRecorder
	metrics          core.MetricsRecorder
	hooks            []core.JobHook
	attachmentFilter workflow.AttachmentFilter
	retrySleeper     core.Sleeper
	pollSleeper      core.Sleeper
}

func WithLogger(logger core.Logger) Option {
	return func(o *runtimeOptions) {
		o.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(o *runtimeOptions) {
		o.loggerProvider = provider
	}
}

func WithEscalationSink(sink core.EscalationSink) Option {
	return func(o *runtimeOptions) {
		o.escalationSink = sink
	}
}

func WithDeadLetterRecorder(recorder core.DeadLetterRecorder) Option {
	return func(o *runtimeOptions) {
		o.deadLetters = recorder
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(o *runtimeOptions) {
		o.metrics = recorder
	}
}

func WithJobHooks(hooks ...core.JobHook) Option {
	return func(o *runtimeOptions) {
		o.hooks = append(o.hooks, hooks...)
	}
}

func WithAttachmentFilter(filter workflow.AttachmentFilter) Option {
	return func(o *runtimeOptions) {
		o.attachmentFilter = filter
	}
}

// WithRetrySleeper replaces the wait between job attempts.
func WithRetrySleeper(sleep core.Sleeper) Option {
	return func(o *runtimeOptions) {
		o.retrySleeper = sleep
	}
}

// WithPollSleeper replaces the wait between mailbox polls.
func WithPollSleeper(sleep core.Sleeper) Option {
	return func(o *runtimeOptions) {
		o.pollSleeper = sleep
	}
}

// MailboxRuntime is the assembled pipeline for one mailbox.
type MailboxRuntime struct {
	Config    core.MailboxConfig
	Folders   inbound.Folders
	Scheduler *core.Scheduler
	Flow      *workflow.Flow
	Ingest    *command.IngestCommand
	Poller    *inbound.Poller
}

type Runtime struct {
	config    Config
	mailboxes []*MailboxRuntime
	logger    core.Logger
}

// NewRuntime assembles one pipeline per enabled mailbox. Folders are
// resolved up front, so a mailbox whose folders cannot be set up fails the
// whole runtime.
func NewRuntime(ctx context.Context, cfg Config, providers ProviderFactory, opts ...Option) (*Runtime, error) {
	if providers == nil {
		return nil, core.BadInputError("mailflow: provider factory is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Normalized()
	options := runtimeOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	provider, logger := glog.Resolve("mailflow", options.loggerProvider, options.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("mailflow.runtime"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	rt := &Runtime{config: cfg, logger: logger}
	for _, mailboxCfg := range cfg.Mailboxes {
		if !mailboxCfg.Processing.Enabled {
			logger.Info("mailbox processing disabled", "mailbox", mailboxCfg.Name)
			continue
		}
		mailbox, err := buildMailbox(ctx, mailboxCfg, providers, options)
		if err != nil {
			rt.Stop()
			return nil, err
		}
		rt.mailboxes = append(rt.mailboxes, mailbox)
	}
	return rt, nil
}

func buildMailbox(ctx context.Context, cfg core.MailboxConfig, providers ProviderFactory, options runtimeOptions) (*MailboxRuntime, error) {
	clients, err := providers(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("mailflow: providers for mailbox %q: %w", cfg.Name, err)
	}
	if clients.Mailbox == nil || clients.Ticketing == nil {
		return nil, core.BadInputError("mailflow: mailbox and ticketing clients are required", map[string]any{"mailbox": cfg.Name})
	}

	folders, err := inbound.SetupFolders(ctx, clients.Mailbox, cfg.Folders)
	if err != nil {
		return nil, err
	}

	schedulerOpts := []core.Option{
		core.WithLogger(options.logger),
		core.WithLoggerProvider(options.loggerProvider),
		core.WithHooks(options.hooks...),
	}
	if options.metrics != nil {
		schedulerOpts = append(schedulerOpts, core.WithMetricsRecorder(options.metrics))
	}
	if options.escalationSink != nil {
		schedulerOpts = append(schedulerOpts, core.WithEscalationSink(options.escalationSink))
	}
	if options.deadLetters != nil {
		schedulerOpts = append(schedulerOpts, core.WithDeadLetterRecorder(options.deadLetters))
	}
	if options.retrySleeper != nil {
		schedulerOpts = append(schedulerOpts, core.WithSleeper(options.retrySleeper))
	}
	scheduler, err := core.NewScheduler(ctx, cfg.SchedulerConfig(), schedulerOpts...)
	if err != nil {
		return nil, err
	}

	flowOpts := []workflow.Option{
		workflow.WithLogger(options.logger),
		workflow.WithLoggerProvider(options.loggerProvider),
	}
	if options.attachmentFilter != nil {
		flowOpts = append(flowOpts, workflow.WithAttachmentFilter(options.attachmentFilter))
	}
	flow, err := workflow.NewFlow(scheduler, clients.Ticketing, clients.Mailbox, workflow.FlowConfigFrom(cfg, folders.Processed), flowOpts...)
	if err != nil {
		scheduler.Stop()
		return nil, err
	}

	ingest := command.NewIngestCommand(scheduler, flow)
	pollerOpts := []inbound.Option{
		inbound.WithLogger(options.logger),
		inbound.WithLoggerProvider(options.loggerProvider),
		inbound.WithMetricsRecorder(options.metrics),
		inbound.WithSleeper(options.pollSleeper),
	}
	poller, err := inbound.NewPoller(clients.Mailbox, ingest, cfg, folders, pollerOpts...)
	if err != nil {
		scheduler.Stop()
		return nil, err
	}

	return &MailboxRuntime{
		Config:    cfg,
		Folders:   folders,
		Scheduler: scheduler,
		Flow:      flow,
		Ingest:    ingest,
		Poller:    poller,
	}, nil
}

func (r *Runtime) Config() Config {
	if r == nil {
		return Config{}
	}
	return r.config
}

func (r *Runtime) Mailboxes() []*MailboxRuntime {
	if r == nil {
		return nil
	}
	return append([]*MailboxRuntime(nil), r.mailboxes...)
}

// Mailbox returns the pipeline for name, or nil.
func (r *Runtime) Mailbox(name string) *MailboxRuntime {
	if r == nil {
		return nil
	}
	for _, mailbox := range r.mailboxes {
		if mailbox.Config.Name == name {
			return mailbox
		}
	}
	return nil
}

// Run polls every mailbox until ctx is cancelled, then stops the schedulers
// and waits for in-flight jobs.
func (r *Runtime) Run(ctx context.Context) error {
	if r == nil {
		return core.InternalError("mailflow: runtime is nil", nil)
	}
	if len(r.mailboxes) == 0 {
		return core.BadInputError("mailflow: no enabled mailboxes", nil)
	}
	group, groupCtx := errgroup.WithContext(ctx)
	for _, mailbox := range r.mailboxes {
		group.Go(func() error {
			return mailbox.Poller.Run(groupCtx)
		})
	}
	err := group.Wait()
	r.Stop()
	if waitErr := r.Wait(context.WithoutCancel(ctx)); waitErr != nil && err == nil {
		err = waitErr
	}
	r.logger.Info("mailflow runtime stopped", "mailboxes", len(r.mailboxes))
	return err
}

// PollOnce polls every mailbox a single time.
func (r *Runtime) PollOnce(ctx context.Context) (map[string]inbound.PollResult, error) {
	results := map[string]inbound.PollResult{}
	if r == nil {
		return results, core.InternalError("mailflow: runtime is nil", nil)
	}
	for _, mailbox := range r.mailboxes {
		result, err := mailbox.Poller.PollOnce(ctx)
		if err != nil {
			return results, err
		}
		results[mailbox.Config.Name] = result
	}
	return results, nil
}

// Wait blocks until every scheduler is idle or ctx is done.
func (r *Runtime) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	for _, mailbox := range r.mailboxes {
		if err := mailbox.Scheduler.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) Stop() {
	if r == nil {
		return
	}
	for _, mailbox := range r.mailboxes {
		mailbox.Scheduler.Stop()
	}
}

// Stats reports every scheduler in mailbox order.
func (r *Runtime) Stats() []core.SchedulerStats {
	if r == nil {
		return nil
	}
	out := make([]core.SchedulerStats, 0, len(r.mailboxes))
	for _, mailbox := range r.mailboxes {
		out = append(out, mailbox.Scheduler.Stats())
	}
	return out
}
