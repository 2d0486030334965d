package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type deadLetterRecord struct {
	bun.BaseModel `bun:"table:mailflow_dead_letters,alias:mdl"`

	ID         string    `bun:"id,pk"`
	JobID      string    `bun:"job_id,notnull"`
	Stage      string    `bun:"stage,notnull"`
	Mailbox    string    `bun:"mailbox,notnull"`
	Reason     string    `bun:"reason,notnull"`
	Attempts   int       `bun:"attempts,notnull"`
	MaxRetries int       `bun:"max_retries,notnull"`
	Error      string    `bun:"error,notnull"`
	Escalated  bool      `bun:"escalated,notnull"`
	OccurredAt time.Time `bun:"occurred_at,nullzero,notnull,default:current_timestamp"`
}

type reasonCountRow struct {
	Reason    string `bun:"reason"`
	Total     int    `bun:"total"`
	Escalated int    `bun:"escalated"`
}
