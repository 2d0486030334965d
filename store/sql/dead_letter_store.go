package sqlstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-mailflow/core"
)

const defaultDeadLetterPageSize = 25

type DeadLetterFilter struct {
	Mailbox string
	JobID   string
	Reason  core.DropReason
	Since   *time.Time
	Page    int
	PerPage int
}

// DeadLetterEntry is a journaled dead letter with its row id.
type DeadLetterEntry struct {
	ID string
	core.DeadLetter
}

type DeadLetterPage struct {
	Items   []DeadLetterEntry
	Page    int
	PerPage int
	Total   int
	HasNext bool
}

type ReasonCount struct {
	Reason    core.DropReason
	Total     int
	Escalated int
}

type DeadLetterSummary struct {
	Mailbox   string
	Total     int
	Escalated int
	Reasons   []ReasonCount
}

// Count returns the number of dead letters dropped for reason.
func (s DeadLetterSummary) Count(reason core.DropReason) int {
	for _, item := range s.Reasons {
		if item.Reason == reason {
			return item.Total
		}
	}
	return 0
}

type DeadLetterStore struct {
	db   *bun.DB
	repo repository.Repository[*deadLetterRecord]
	now  func() time.Time
}

func NewDeadLetterStore(db *bun.DB) (*DeadLetterStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deadLetterRecord](db, deadLetterHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid dead letter repository wiring: %w", err)
		}
	}
	return &DeadLetterStore{db: db, repo: repo, now: time.Now}, nil
}

func (s *DeadLetterStore) RecordDeadLetter(ctx context.Context, entry core.DeadLetter) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	jobID := strings.TrimSpace(entry.JobID)
	if jobID == "" {
		return fmt.Errorf("sqlstore: dead letter job id is required")
	}
	occurredAt := entry.OccurredAt.UTC()
	if occurredAt.IsZero() {
		occurredAt = s.now().UTC()
	}
	record := &deadLetterRecord{
		ID:         uuid.NewString(),
		JobID:      jobID,
		Stage:      strings.TrimSpace(entry.Stage),
		Mailbox:    strings.TrimSpace(entry.Mailbox),
		Reason:     strings.TrimSpace(string(entry.Reason)),
		Attempts:   entry.Attempts,
		MaxRetries: entry.MaxRetries,
		Error:      entry.Error,
		Escalated:  entry.Escalated,
		OccurredAt: occurredAt,
	}
	if record.Reason == "" {
		record.Reason = string(core.DropReasonExhausted)
	}
	_, err := s.repo.Create(ctx, record)
	return err
}

func (s *DeadLetterStore) List(ctx context.Context, filter DeadLetterFilter) (DeadLetterPage, error) {
	if s == nil || s.repo == nil {
		return DeadLetterPage{}, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = defaultDeadLetterPageSize
	}
	offset := (page - 1) * perPage

	selectors := []repository.SelectCriteria{
		repository.OrderBy("occurred_at DESC"),
		repository.SelectPaginate(perPage, offset),
	}
	if mailbox := strings.TrimSpace(filter.Mailbox); mailbox != "" {
		selectors = append(selectors, repository.SelectBy("mailbox", "=", mailbox))
	}
	if jobID := strings.TrimSpace(filter.JobID); jobID != "" {
		selectors = append(selectors, repository.SelectBy("job_id", "=", jobID))
	}
	if reason := strings.TrimSpace(string(filter.Reason)); reason != "" {
		selectors = append(selectors, repository.SelectBy("reason", "=", reason))
	}
	if filter.Since != nil {
		selectors = append(selectors, repository.SelectByTimetz("occurred_at", ">=", filter.Since.UTC()))
	}

	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return DeadLetterPage{}, err
	}
	items := make([]DeadLetterEntry, 0, len(records))
	for _, record := range records {
		items = append(items, deadLetterRecordToDomain(record))
	}
	return DeadLetterPage{
		Items:   items,
		Page:    page,
		PerPage: perPage,
		Total:   total,
		HasNext: offset+len(items) < total,
	}, nil
}

// Prune deletes dead letters that occurred before now minus olderThan.
func (s *DeadLetterStore) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := s.now().UTC().Add(-olderThan)
	res, err := s.db.NewDelete().
		Model((*deadLetterRecord)(nil)).
		Where("occurred_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

// Summary counts dead letters per drop reason. An empty mailbox covers the
// whole journal.
func (s *DeadLetterStore) Summary(ctx context.Context, mailbox string) (DeadLetterSummary, error) {
	if s == nil || s.db == nil {
		return DeadLetterSummary{}, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	mailbox = strings.TrimSpace(mailbox)
	query := s.db.NewSelect().
		Model((*deadLetterRecord)(nil)).
		Column("reason").
		ColumnExpr("COUNT(*) AS total").
		ColumnExpr("SUM(CASE WHEN escalated THEN 1 ELSE 0 END) AS escalated").
		Group("reason")
	if mailbox != "" {
		query = query.Where("mailbox = ?", mailbox)
	}
	var rows []reasonCountRow
	if err := query.Scan(ctx, &rows); err != nil {
		return DeadLetterSummary{}, err
	}

	summary := DeadLetterSummary{Mailbox: mailbox, Reasons: make([]ReasonCount, 0, len(rows))}
	for _, row := range rows {
		summary.Total += row.Total
		summary.Escalated += row.Escalated
		summary.Reasons = append(summary.Reasons, ReasonCount{
			Reason:    core.DropReason(row.Reason),
			Total:     row.Total,
			Escalated: row.Escalated,
		})
	}
	sort.Slice(summary.Reasons, func(i, j int) bool {
		return summary.Reasons[i].Reason < summary.Reasons[j].Reason
	})
	return summary, nil
}

func deadLetterRecordToDomain(record *deadLetterRecord) DeadLetterEntry {
	if record == nil {
		return DeadLetterEntry{}
	}
	return DeadLetterEntry{
		ID: record.ID,
		DeadLetter: core.DeadLetter{
			JobID:      record.JobID,
			Stage:      record.Stage,
			Mailbox:    record.Mailbox,
			Reason:     core.DropReason(record.Reason),
			Attempts:   record.Attempts,
			MaxRetries: record.MaxRetries,
			Error:      record.Error,
			Escalated:  record.Escalated,
			OccurredAt: record.OccurredAt.UTC(),
		},
	}
}
