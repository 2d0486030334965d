package workflow

import (
	"context"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-mailflow/core"
)

// FlowConfig carries the per-mailbox settings every stage reads.
type FlowConfig struct {
	Mailbox         string
	Defaults        core.WorkflowDefaults
	Retry           core.RetryPolicy
	AttachmentRetry core.RetryPolicy
	ProcessedFolder *Folder
}

func FlowConfigFrom(mailbox core.MailboxConfig, processed *Folder) FlowConfig {
	return FlowConfig{
		Mailbox:         mailbox.Name,
		Defaults:        mailbox.Defaults,
		Retry:           mailbox.Queue.Retry,
		AttachmentRetry: mailbox.Queue.AttachmentRetry,
		ProcessedFolder: processed,
	}
}

type Option func(*Flow)

func WithLogger(logger core.Logger) Option {
	return func(f *Flow) {
		f.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(f *Flow) {
		f.loggerProvider = provider
	}
}

func WithAttachmentFilter(filter AttachmentFilter) Option {
	return func(f *Flow) {
		if filter != nil {
			f.filter = filter
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(f *Flow) {
		if now != nil {
			f.now = now
		}
	}
}

// Flow turns a received message into a chain of scheduler jobs. Each stage
// does one remote call and names its successors; the flow builds and
// enqueues the successor jobs under the same instance id.
type Flow struct {
	scheduler core.Enqueuer
	ticketing Ticketing
	mailbox   Mailbox
	config    FlowConfig

	filter         AttachmentFilter
	logger         core.Logger
	loggerProvider core.LoggerProvider
	now            func() time.Time
}

func NewFlow(scheduler core.Enqueuer, ticketing Ticketing, mailbox Mailbox, cfg FlowConfig, opts ...Option) (*Flow, error) {
	if scheduler == nil {
		return nil, core.BadInputError("workflow: scheduler is required", nil)
	}
	if ticketing == nil {
		return nil, core.BadInputError("workflow: ticketing client is required", nil)
	}
	if mailbox == nil {
		return nil, core.BadInputError("workflow: mailbox client is required", nil)
	}
	if cfg.ProcessedFolder == nil {
		return nil, core.BadInputError("workflow: processed folder is required", map[string]any{"mailbox": cfg.Mailbox})
	}
	cfg.Mailbox = strings.TrimSpace(cfg.Mailbox)
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.RetryDelay == 0 {
		cfg.Retry = core.DefaultRetryPolicy().WithEscalation(cfg.Retry.Escalate)
	}
	if cfg.AttachmentRetry.MaxRetries == 0 && cfg.AttachmentRetry.RetryDelay == 0 {
		cfg.AttachmentRetry = core.RetryPolicy{
			MaxRetries: core.DefaultAttachmentRetries,
			RetryDelay: core.DefaultAttachmentDelay,
		}
	}

	flow := &Flow{
		scheduler: scheduler,
		ticketing: ticketing,
		mailbox:   mailbox,
		config:    cfg,
		filter:    NewAttachmentFilter(cfg.Defaults.Attachment),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(flow)
		}
	}

	provider, logger := glog.Resolve("mailflow", flow.loggerProvider, flow.logger)
	flow.logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("mailflow.workflow." + cfg.Mailbox); named != nil {
			flow.logger = glog.Ensure(named)
		}
	}
	return flow, nil
}

func (f *Flow) Config() FlowConfig {
	return f.config
}

// Start enqueues the first stage for msg and returns the instance id.
// Callers are expected to check the scheduler for an existing instance
// first.
func (f *Flow) Start(ctx context.Context, msg Message) (string, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
	if strings.TrimSpace(msg.ID) == "" {
		return "", core.BadInputError("workflow: message id is required", map[string]any{"mailbox": f.config.Mailbox})
	}
	id := MessageID(msg.ID)
	subject, internal := ClassifySubject(msg.Subject)
	received := msg
	received.Subject = subject

	env := NewEnvelope(id, f.config.Mailbox, &received, internal)
	if err := f.enqueue(Transition{Step: StepFindTicketByNumber, Envelope: env}); err != nil {
		return "", err
	}
	f.logger.Info("workflow started",
		"job_id", id,
		"mailbox", f.config.Mailbox,
		"internal", internal,
	)
	return id, nil
}

// PolicyFor returns the retry policy jobs for step are created with.
func (f *Flow) PolicyFor(step Step) core.RetryPolicy {
	base := f.config.Retry
	if step == StepCreateAttachment {
		base = f.config.AttachmentRetry
	}
	return base.WithEscalation(base.Escalate || step.Escalates()).Normalize()
}

// Execute runs a single stage against env without touching the scheduler.
func (f *Flow) Execute(ctx context.Context, step Step, env *Envelope) ([]Transition, error) {
	switch step {
	case StepFindTicketByNumber:
		return f.findTicketByNumber(ctx, env)
	case StepFindResourceByEmail:
		return f.findResourceByEmail(ctx, env)
	case StepCreateTicketNote:
		return f.createTicketNote(ctx, env)
	case StepFindContactByEmail:
		return f.findContactByEmail(ctx, env)
	case StepFindAccountByID:
		return f.findAccountByID(ctx, env)
	case StepFindAccountByDomain:
		return f.findAccountByDomain(ctx, env)
	case StepFindAccountByName:
		return f.findAccountByName(ctx, env)
	case StepCreateTicket:
		return f.createTicket(ctx, env)
	case StepMoveMessageToFolder:
		return f.moveMessageToFolder(ctx, env)
	case StepMarkMessageAs:
		return f.markMessageAs(ctx, env)
	case StepGetMessageAttachments:
		return f.getMessageAttachments(ctx, env)
	case StepCreateAttachment:
		return f.createAttachment(ctx, env)
	default:
		panic(core.ProgrammingError(step.String(), "unknown workflow step"))
	}
}

func (f *Flow) enqueue(next Transition) error {
	job, err := core.NewJob(next.Envelope.ID, next.Step.String(), next.Envelope, f.action(next.Step), f.PolicyFor(next.Step))
	if err != nil {
		return err
	}
	return f.scheduler.Enqueue(job)
}

func (f *Flow) action(step Step) func(context.Context, *Envelope) error {
	return func(ctx context.Context, env *Envelope) error {
		transitions, err := f.Execute(ctx, step, env)
		if err != nil {
			return err
		}
		for _, next := range transitions {
			if err := f.enqueue(next); err != nil {
				if len(transitions) > 1 {
					f.logger.Error("enqueue fan-out stage failed",
						"job_id", env.ID,
						"stage", next.Step.String(),
						"error", err,
					)
					continue
				}
				return err
			}
		}
		if len(transitions) == 0 {
			f.logger.Info("workflow finished", "job_id", env.ID, "mailbox", env.Mailbox, "stage", step.String())
		}
		return nil
	}
}

func (f *Flow) trace(step Step, env *Envelope, message string, args ...any) {
	fields := append([]any{"job_id", env.ID, "mailbox", env.Mailbox, "stage", step.String()}, args...)
	f.logger.Debug(message, fields...)
}
