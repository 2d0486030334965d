package command

import (
	"strings"

	"github.com/goliatone/go-mailflow/workflow"
)

const TypeIngestMessage = "mailflow.command.message.ingest"

// IngestMessage asks for a received mail message to enter the workflow.
type IngestMessage struct {
	Mailbox string
	Message workflow.Message
}

func (IngestMessage) Type() string { return TypeIngestMessage }

func (m IngestMessage) Validate() error {
	if strings.TrimSpace(m.Message.ID) == "" {
		return commandValidationError("message.id", "message id is required")
	}
	if strings.TrimSpace(m.Message.Sender.Email) == "" {
		return commandValidationError("message.sender", "sender address is required")
	}
	return nil
}

// IngestResult is stored in the go-command result collector when one is
// attached to the context.
type IngestResult struct {
	JobID   string
	Started bool
}
