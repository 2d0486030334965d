package sqlstore

import "github.com/goliatone/go-mailflow/core"

var (
	_ core.DeadLetterRecorder = (*DeadLetterStore)(nil)
	_ core.DeadLetterRecorder = (*CachedDeadLetterSummary)(nil)
	_ DeadLetterJournal       = (*DeadLetterStore)(nil)
	_ DeadLetterJournal       = (*CachedDeadLetterSummary)(nil)
	_ DeadLetterPruner        = (*DeadLetterStore)(nil)
	_ DeadLetterPruner        = (*CachedDeadLetterSummary)(nil)
)
