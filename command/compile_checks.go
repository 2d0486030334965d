package command

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-mailflow/workflow"
)

var (
	_ gocmd.Commander[IngestMessage] = (*IngestCommand)(nil)
	_ FlowStarter                    = (*workflow.Flow)(nil)
)
