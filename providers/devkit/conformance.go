package devkit

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-mailflow/workflow"
)

// ValidateTicketingConformance checks that lookups for unknown records report
// absence as (nil, nil) instead of an error. probe should be an address and
// ticket number that do not exist in the target system.
func ValidateTicketingConformance(ctx context.Context, ticketing workflow.Ticketing, probeEmail string, probeNumber string) error {
	if ticketing == nil {
		return fmt.Errorf("devkit: ticketing client is required")
	}
	ticket, err := ticketing.FindTicketByNumber(ctx, probeNumber)
	if err != nil {
		return fmt.Errorf("devkit: unknown ticket lookup should not fail: %w", err)
	}
	if ticket != nil {
		return fmt.Errorf("devkit: probe ticket %q unexpectedly exists", probeNumber)
	}
	contact, err := ticketing.FindContactByEmail(ctx, probeEmail)
	if err != nil {
		return fmt.Errorf("devkit: unknown contact lookup should not fail: %w", err)
	}
	if contact != nil {
		return fmt.Errorf("devkit: probe contact %q unexpectedly exists", probeEmail)
	}
	resource, err := ticketing.FindResourceByEmail(ctx, probeEmail)
	if err != nil {
		return fmt.Errorf("devkit: unknown resource lookup should not fail: %w", err)
	}
	if resource != nil {
		return fmt.Errorf("devkit: probe resource %q unexpectedly exists", probeEmail)
	}
	return nil
}

// ValidateMailboxConformance checks that folder resolution is find-or-create
// and stable across calls.
func ValidateMailboxConformance(ctx context.Context, mailbox workflow.Mailbox, folderName string) error {
	if mailbox == nil {
		return fmt.Errorf("devkit: mailbox client is required")
	}
	first, err := mailbox.ResolveFolder(ctx, folderName)
	if err != nil {
		return err
	}
	if first == nil || strings.TrimSpace(first.ID) == "" {
		return fmt.Errorf("devkit: resolved folder must carry an id")
	}
	second, err := mailbox.ResolveFolder(ctx, folderName)
	if err != nil {
		return err
	}
	if second == nil || second.ID != first.ID {
		return fmt.Errorf("devkit: folder %q resolved to different ids", folderName)
	}
	if _, err := mailbox.ListMessages(ctx, first, true); err != nil {
		return fmt.Errorf("devkit: list messages: %w", err)
	}
	return nil
}
