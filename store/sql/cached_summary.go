package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-mailflow/core"
)

const deadLetterSummaryCacheKeyPrefix = "go-mailflow::dead_letter_summary::v1"

// DeadLetterJournal records dead letters and reports per-mailbox summaries.
type DeadLetterJournal interface {
	core.DeadLetterRecorder
	Summary(ctx context.Context, mailbox string) (DeadLetterSummary, error)
}

// DeadLetterPruner removes journal entries older than a window.
type DeadLetterPruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}

// CachedDeadLetterSummary serves Summary reads from the repository cache and
// invalidates the mailbox entry whenever a dead letter is recorded. Prune
// touches every mailbox, so it drops every key this instance has served.
type CachedDeadLetterSummary struct {
	base  DeadLetterJournal
	cache repositorycache.CacheService

	mu   sync.Mutex
	keys map[string]struct{}
}

func NewCachedDeadLetterSummary(
	base DeadLetterJournal,
	cacheService repositorycache.CacheService,
) (*CachedDeadLetterSummary, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base dead letter journal is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: dead letter cache service is required")
	}
	return &CachedDeadLetterSummary{
		base:  base,
		cache: cacheService,
		keys:  map[string]struct{}{},
	}, nil
}

// DeadLetterSummaryCacheKey returns go-mailflow::dead_letter_summary::v1::<mailbox>
// with the trimmed, lowercased mailbox URL-path escaped. The whole journal
// uses "*".
func DeadLetterSummaryCacheKey(mailbox string) string {
	segment := strings.ToLower(strings.TrimSpace(mailbox))
	if segment == "" {
		segment = "*"
	} else {
		segment = url.PathEscape(segment)
	}
	return deadLetterSummaryCacheKeyPrefix + "::" + segment
}

func (s *CachedDeadLetterSummary) Summary(ctx context.Context, mailbox string) (DeadLetterSummary, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return DeadLetterSummary{}, fmt.Errorf("sqlstore: cached dead letter summary is not configured")
	}
	mailbox = strings.TrimSpace(mailbox)
	key := DeadLetterSummaryCacheKey(mailbox)
	s.trackKey(key)
	summary, err := repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) (DeadLetterSummary, error) {
		fetched, fetchErr := s.base.Summary(ctx, mailbox)
		if fetchErr != nil {
			return DeadLetterSummary{}, fetchErr
		}
		return cloneSummary(fetched), nil
	})
	if err != nil {
		return DeadLetterSummary{}, err
	}
	return cloneSummary(summary), nil
}

func (s *CachedDeadLetterSummary) RecordDeadLetter(ctx context.Context, entry core.DeadLetter) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached dead letter summary is not configured")
	}
	if err := s.base.RecordDeadLetter(ctx, entry); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, DeadLetterSummaryCacheKey(entry.Mailbox)); err != nil {
		return err
	}
	return s.cache.Delete(ctx, DeadLetterSummaryCacheKey(""))
}

// Prune forwards to the base journal and invalidates every cached summary.
func (s *CachedDeadLetterSummary) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return 0, fmt.Errorf("sqlstore: cached dead letter summary is not configured")
	}
	pruner, ok := s.base.(DeadLetterPruner)
	if !ok {
		return 0, fmt.Errorf("sqlstore: base dead letter journal does not support prune")
	}
	removed, err := pruner.Prune(ctx, olderThan)
	if err != nil {
		return removed, err
	}
	s.mu.Lock()
	keys := make([]string, 0, len(s.keys)+1)
	for key := range s.keys {
		keys = append(keys, key)
	}
	s.mu.Unlock()
	keys = append(keys, DeadLetterSummaryCacheKey(""))
	for _, key := range keys {
		if err := s.cache.Delete(ctx, key); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (s *CachedDeadLetterSummary) trackKey(key string) {
	s.mu.Lock()
	if s.keys == nil {
		s.keys = map[string]struct{}{}
	}
	s.keys[key] = struct{}{}
	s.mu.Unlock()
}

func cloneSummary(summary DeadLetterSummary) DeadLetterSummary {
	cloned := summary
	cloned.Reasons = append([]ReasonCount(nil), summary.Reasons...)
	return cloned
}
