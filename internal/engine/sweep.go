package engine

import (
	"context"
	"time"

	"taskline/internal/events"
	"taskline/internal/repo"
)

// Sweep marks every pending or in-progress domain of an overdue task as
// delayed. It is idempotent: already-delayed, submitted and in-R&D domains
// are never touched, so repeated sweeps converge. Returns the number of
// domains flipped.
func (e Engine) Sweep(ctx context.Context, actorID string) (int64, error) {
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n, err := e.Repo.SweepDelayed(ctx, tx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if err := e.Events.Append(ctx, tx, "sweep.completed", "", "sweep", "", actorID, events.EventPayload{
			"delayed": n,
		}); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// StatusTotals returns per-status domain counts, optionally restricted to
// domains the given developer is assigned to. Delay detection runs first so
// the totals never report a stale pending count for an overdue task.
func (e Engine) StatusTotals(ctx context.Context, developerID, actorID string) (map[string]int, error) {
	if _, err := e.Sweep(ctx, actorID); err != nil {
		return nil, err
	}
	return e.Repo.CountDomainsByStatus(ctx, developerID)
}

// DeveloperSummaries returns one row per developer with their domain count
// broken down by status, after a delay sweep.
func (e Engine) DeveloperSummaries(ctx context.Context, actorID string) ([]repo.DeveloperSummary, error) {
	if _, err := e.Sweep(ctx, actorID); err != nil {
		return nil, err
	}
	return e.Repo.DeveloperSummaries(ctx)
}
