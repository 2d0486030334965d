package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultCheckDelay        = 30 * time.Second
	DefaultAttachmentRetries = 3
	DefaultAttachmentDelay   = 5 * time.Minute
)

type ProcessingConfig struct {
	Enabled    bool          `koanf:"enabled" mapstructure:"enabled" yaml:"enabled"`
	CheckDelay time.Duration `koanf:"check_delay" mapstructure:"check_delay" yaml:"check_delay"`
	UnreadOnly bool          `koanf:"unread_only" mapstructure:"unread_only" yaml:"unread_only"`
}

type FolderConfig struct {
	Incoming  string `koanf:"incoming" mapstructure:"incoming" yaml:"incoming"`
	Processed string `koanf:"processed" mapstructure:"processed" yaml:"processed"`
	Failed    string `koanf:"failed" mapstructure:"failed" yaml:"failed"`
}

type QueueConfig struct {
	MaxWorkers       int         `koanf:"max_workers" mapstructure:"max_workers" yaml:"max_workers"`
	EscalationSource string      `koanf:"escalation_source" mapstructure:"escalation_source" yaml:"escalation_source"`
	Retry            RetryPolicy `koanf:"retry" mapstructure:"retry" yaml:"retry"`
	AttachmentRetry  RetryPolicy `koanf:"attachment_retry" mapstructure:"attachment_retry" yaml:"attachment_retry"`
}

type TicketDefaults struct {
	Account       string        `koanf:"account" mapstructure:"account" yaml:"account"`
	Status        string        `koanf:"status" mapstructure:"status" yaml:"status"`
	Priority      string        `koanf:"priority" mapstructure:"priority" yaml:"priority"`
	Queue         string        `koanf:"queue" mapstructure:"queue" yaml:"queue"`
	Source        string        `koanf:"source" mapstructure:"source" yaml:"source"`
	WorkType      string        `koanf:"work_type" mapstructure:"work_type" yaml:"work_type"`
	DueDateOffset time.Duration `koanf:"due_date_offset" mapstructure:"due_date_offset" yaml:"due_date_offset"`
}

type NoteDefaults struct {
	Type            string `koanf:"type" mapstructure:"type" yaml:"type"`
	Publish         string `koanf:"publish" mapstructure:"publish" yaml:"publish"`
	InternalPublish string `koanf:"internal_publish" mapstructure:"internal_publish" yaml:"internal_publish"`
}

type AttachmentDefaults struct {
	Publish            string `koanf:"publish" mapstructure:"publish" yaml:"publish"`
	InternalPublish    string `koanf:"internal_publish" mapstructure:"internal_publish" yaml:"internal_publish"`
	ResizeLargeImages  bool   `koanf:"resize_large_images" mapstructure:"resize_large_images" yaml:"resize_large_images"`
	CompressLargeItems bool   `koanf:"compress_large_items" mapstructure:"compress_large_items" yaml:"compress_large_items"`
	MinImageWidth      int    `koanf:"min_image_width" mapstructure:"min_image_width" yaml:"min_image_width"`
	MinImageHeight     int    `koanf:"min_image_height" mapstructure:"min_image_height" yaml:"min_image_height"`
}

type WorkflowDefaults struct {
	Ticket     TicketDefaults     `koanf:"ticket" mapstructure:"ticket" yaml:"ticket"`
	Note       NoteDefaults       `koanf:"note" mapstructure:"note" yaml:"note"`
	Attachment AttachmentDefaults `koanf:"attachment" mapstructure:"attachment" yaml:"attachment"`
}

// MailboxConfig configures one polled mailbox. Every mailbox gets its own
// scheduler.
type MailboxConfig struct {
	Name       string           `koanf:"name" mapstructure:"name" yaml:"name"`
	Address    string           `koanf:"address" mapstructure:"address" yaml:"address"`
	Processing ProcessingConfig `koanf:"processing" mapstructure:"processing" yaml:"processing"`
	Folders    FolderConfig     `koanf:"folders" mapstructure:"folders" yaml:"folders"`
	Queue      QueueConfig      `koanf:"queue" mapstructure:"queue" yaml:"queue"`
	Defaults   WorkflowDefaults `koanf:"defaults" mapstructure:"defaults" yaml:"defaults"`
}

type DeadLetterConfig struct {
	Enabled bool   `koanf:"enabled" mapstructure:"enabled" yaml:"enabled"`
	Driver  string `koanf:"driver" mapstructure:"driver" yaml:"driver"`
	DSN     string `koanf:"dsn" mapstructure:"dsn" yaml:"dsn"`
	Debug   bool   `koanf:"debug" mapstructure:"debug" yaml:"debug"`
}

type MetricsConfig struct {
	Address string `koanf:"address" mapstructure:"address" yaml:"address"`
}

type Config struct {
	ServiceName string           `koanf:"service_name" mapstructure:"service_name" yaml:"service_name"`
	Mailboxes   []MailboxConfig  `koanf:"mailboxes" mapstructure:"mailboxes" yaml:"mailboxes"`
	DeadLetters DeadLetterConfig `koanf:"dead_letters" mapstructure:"dead_letters" yaml:"dead_letters"`
	Metrics     MetricsConfig    `koanf:"metrics" mapstructure:"metrics" yaml:"metrics"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "mailflow",
		DeadLetters: DeadLetterConfig{
			Driver: "sqlite3",
			DSN:    "file:mailflow.db?cache=shared&_foreign_keys=on",
		},
	}
}

func DefaultMailboxConfig() MailboxConfig {
	return MailboxConfig{
		Processing: ProcessingConfig{
			Enabled:    true,
			CheckDelay: DefaultCheckDelay,
			UnreadOnly: true,
		},
		Folders: FolderConfig{
			Incoming:  "Inbox",
			Processed: "Processed",
			Failed:    "Failed",
		},
		Queue: QueueConfig{
			EscalationSource: DefaultEscalationSource,
			Retry:            DefaultRetryPolicy(),
			AttachmentRetry: RetryPolicy{
				MaxRetries: DefaultAttachmentRetries,
				RetryDelay: DefaultAttachmentDelay,
			},
		},
		Defaults: WorkflowDefaults{
			Ticket: TicketDefaults{
				Account:       "0",
				DueDateOffset: 72 * time.Hour,
			},
			Note: NoteDefaults{
				Publish:         "All Autotask Users",
				InternalPublish: "Internal Project Team",
			},
			Attachment: AttachmentDefaults{
				Publish:         "All Autotask Users",
				InternalPublish: "Internal Users Only",
				MinImageWidth:   64,
				MinImageHeight:  64,
			},
		},
	}
}

// Normalized fills zero values of every mailbox from DefaultMailboxConfig.
// Boolean flags are taken as configured.
func (c Config) Normalized() Config {
	out := c
	out.ServiceName = strings.TrimSpace(out.ServiceName)
	out.Mailboxes = make([]MailboxConfig, 0, len(c.Mailboxes))
	for idx, mailbox := range c.Mailboxes {
		out.Mailboxes = append(out.Mailboxes, mailbox.normalized(idx))
	}
	out.DeadLetters.Driver = strings.ToLower(strings.TrimSpace(out.DeadLetters.Driver))
	return out
}

func (m MailboxConfig) normalized(idx int) MailboxConfig {
	defaults := DefaultMailboxConfig()
	out := m
	out.Address = strings.TrimSpace(out.Address)
	out.Name = strings.TrimSpace(out.Name)
	if out.Name == "" {
		out.Name = out.Address
	}
	if out.Name == "" {
		out.Name = fmt.Sprintf("mailbox-%d", idx+1)
	}
	if out.Processing.CheckDelay <= 0 {
		out.Processing.CheckDelay = defaults.Processing.CheckDelay
	}
	if strings.TrimSpace(out.Folders.Incoming) == "" {
		out.Folders.Incoming = defaults.Folders.Incoming
	}
	if strings.TrimSpace(out.Folders.Processed) == "" {
		out.Folders.Processed = defaults.Folders.Processed
	}
	if strings.TrimSpace(out.Folders.Failed) == "" {
		out.Folders.Failed = defaults.Folders.Failed
	}
	if strings.TrimSpace(out.Queue.EscalationSource) == "" {
		out.Queue.EscalationSource = defaults.Queue.EscalationSource
	}
	if out.Queue.Retry.MaxRetries <= 0 {
		out.Queue.Retry.MaxRetries = defaults.Queue.Retry.MaxRetries
	}
	if out.Queue.Retry.RetryDelay <= 0 {
		out.Queue.Retry.RetryDelay = defaults.Queue.Retry.RetryDelay
	}
	if out.Queue.AttachmentRetry.MaxRetries <= 0 {
		out.Queue.AttachmentRetry.MaxRetries = defaults.Queue.AttachmentRetry.MaxRetries
	}
	if out.Queue.AttachmentRetry.RetryDelay <= 0 {
		out.Queue.AttachmentRetry.RetryDelay = defaults.Queue.AttachmentRetry.RetryDelay
	}
	ticket := &out.Defaults.Ticket
	if strings.TrimSpace(ticket.Account) == "" {
		ticket.Account = defaults.Defaults.Ticket.Account
	}
	if ticket.DueDateOffset <= 0 {
		ticket.DueDateOffset = defaults.Defaults.Ticket.DueDateOffset
	}
	note := &out.Defaults.Note
	if strings.TrimSpace(note.Publish) == "" {
		note.Publish = defaults.Defaults.Note.Publish
	}
	if strings.TrimSpace(note.InternalPublish) == "" {
		note.InternalPublish = defaults.Defaults.Note.InternalPublish
	}
	attachment := &out.Defaults.Attachment
	if strings.TrimSpace(attachment.Publish) == "" {
		attachment.Publish = defaults.Defaults.Attachment.Publish
	}
	if strings.TrimSpace(attachment.InternalPublish) == "" {
		attachment.InternalPublish = defaults.Defaults.Attachment.InternalPublish
	}
	if attachment.MinImageWidth <= 0 {
		attachment.MinImageWidth = defaults.Defaults.Attachment.MinImageWidth
	}
	if attachment.MinImageHeight <= 0 {
		attachment.MinImageHeight = defaults.Defaults.Attachment.MinImageHeight
	}
	return out
}

// SchedulerConfig derives the scheduler settings for one mailbox.
func (m MailboxConfig) SchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Name:             m.Name,
		MaxWorkers:       m.Queue.MaxWorkers,
		EscalationSource: m.Queue.EscalationSource,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	normalized := c.Normalized()
	seen := map[string]struct{}{}
	for idx, mailbox := range normalized.Mailboxes {
		if mailbox.Address == "" {
			return fmt.Errorf("core: mailboxes[%d].address is required", idx)
		}
		if !strings.Contains(mailbox.Address, "@") {
			return fmt.Errorf("core: mailboxes[%d].address %q is invalid", idx, mailbox.Address)
		}
		key := strings.ToLower(mailbox.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("core: mailboxes[%d].name %q is duplicated", idx, mailbox.Name)
		}
		seen[key] = struct{}{}
		if mailbox.Queue.MaxWorkers < 0 {
			return fmt.Errorf("core: mailboxes[%d].queue.max_workers must not be negative", idx)
		}
	}
	if c.DeadLetters.Enabled {
		switch normalized.DeadLetters.Driver {
		case "sqlite3", "sqlite", "postgres":
		default:
			return fmt.Errorf("core: dead_letters.driver %q is invalid", c.DeadLetters.Driver)
		}
		if strings.TrimSpace(c.DeadLetters.DSN) == "" {
			return fmt.Errorf("core: dead_letters.dsn is required")
		}
	}
	return nil
}
