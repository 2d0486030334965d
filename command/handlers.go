package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-mailflow/core"
	"github.com/goliatone/go-mailflow/workflow"
)

type FlowStarter interface {
	Start(ctx context.Context, msg workflow.Message) (string, error)
}

// IngestCommand starts a workflow for a message unless an instance for the
// same message is still pending or executing.
type IngestCommand struct {
	scheduler core.Enqueuer
	flow      FlowStarter
}

func NewIngestCommand(scheduler core.Enqueuer, flow FlowStarter) *IngestCommand {
	return &IngestCommand{scheduler: scheduler, flow: flow}
}

func (c *IngestCommand) Execute(ctx context.Context, msg IngestMessage) error {
	if c == nil || c.scheduler == nil || c.flow == nil {
		return commandDependencyError("command: ingest requires a scheduler and a flow")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	id := workflow.MessageID(msg.Message.ID)
	if c.scheduler.HasJobWithID(id) {
		storeResult(ctx, IngestResult{JobID: id})
		return nil
	}
	started, err := c.flow.Start(ctx, msg.Message)
	if err != nil {
		return err
	}
	storeResult(ctx, IngestResult{JobID: started, Started: true})
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
