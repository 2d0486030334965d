package gojob

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// SpoolRecord is one line written by SpoolEnqueuer.
type SpoolRecord struct {
	JobID          string         `json:"job_id"`
	ScriptPath     string         `json:"script_path"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	DedupPolicy    string         `json:"dedup_policy,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
}

// SpoolEnqueuer is a queue.Enqueuer that appends each message as a JSON
// line, for a replay worker that drains the file later. Messages whose
// idempotency key was already written by this enqueuer are dropped.
type SpoolEnqueuer struct {
	mu   sync.Mutex
	w    io.Writer
	seen map[string]struct{}
}

func NewSpoolEnqueuer(w io.Writer) *SpoolEnqueuer {
	return &SpoolEnqueuer{w: w, seen: map[string]struct{}{}}
}

func (s *SpoolEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	if s == nil || s.w == nil {
		return fmt.Errorf("gojob: spool writer is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	line, err := json.Marshal(SpoolRecord{
		JobID:          msg.JobID,
		ScriptPath:     msg.ScriptPath,
		IdempotencyKey: msg.IdempotencyKey,
		DedupPolicy:    string(msg.DedupPolicy),
		Parameters:     msg.Parameters,
	})
	if err != nil {
		return fmt.Errorf("gojob: encode spool record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if key := msg.IdempotencyKey; key != "" {
		if _, ok := s.seen[key]; ok {
			return nil
		}
		s.seen[key] = struct{}{}
	}
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("gojob: write spool record: %w", err)
	}
	return nil
}

var _ queue.Enqueuer = (*SpoolEnqueuer)(nil)
