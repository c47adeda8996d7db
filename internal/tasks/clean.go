package tasks

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/hexlattice/oddslens/internal/gamma"
	"github.com/hexlattice/oddslens/internal/storage"
)

// StatusSource looks up the current upstream lifecycle flags of one event.
// The Gamma client satisfies it.
type StatusSource interface {
	FetchEventStatus(ctx context.Context, eventID string) (gamma.EventStatus, error)
}

// CleanReport summarizes one clean run.
type CleanReport struct {
	Checked int
	Updated int
	Deleted int
	Missing int
	Failed  int
}

// Clean re-checks every stored event against the upstream API, refreshes
// stale lifecycle flags, and deletes events that are no longer tradeable
// (inactive, closed, or archived). Events missing upstream are left in
// place; a transient API gap must not destroy data. Lookup failures are
// counted and skipped.
func Clean(ctx context.Context, store *storage.Storage, source StatusSource) (CleanReport, error) {
	events, err := store.ListEvents(false)
	if err != nil {
		return CleanReport{}, fmt.Errorf("failed to list events: %w", err)
	}

	var report CleanReport
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		status, err := source.FetchEventStatus(ctx, ev.ID)
		if err != nil {
			log.Warn().Err(err).Str("event_id", ev.ID).Msg("status lookup failed")
			report.Failed++
			continue
		}
		if !status.Found {
			log.Debug().Str("event_id", ev.ID).Msg("event missing upstream, keeping")
			report.Missing++
			continue
		}

		if status.Active != ev.Active || status.Closed != ev.Closed || status.Archived != ev.Archived {
			if err := store.UpdateEventFlags(ev.ID, status.Active, status.Closed, status.Archived); err != nil {
				log.Warn().Err(err).Str("event_id", ev.ID).Msg("failed to update flags")
				report.Failed++
				continue
			}
			report.Updated++
		}

		if !status.Active || status.Closed || status.Archived {
			if err := store.DeleteEvent(ev.ID); err != nil {
				log.Warn().Err(err).Str("event_id", ev.ID).Msg("failed to delete event")
				report.Failed++
				continue
			}
			log.Info().Str("event_id", ev.ID).Str("title", ev.Title).
				Bool("active", status.Active).Bool("closed", status.Closed).
				Bool("archived", status.Archived).Msg("deleted stale event")
			report.Deleted++
		}
	}

	log.Info().Int("checked", report.Checked).Int("updated", report.Updated).
		Int("deleted", report.Deleted).Int("missing", report.Missing).
		Int("failed", report.Failed).Msg("clean completed")
	return report, nil
}
