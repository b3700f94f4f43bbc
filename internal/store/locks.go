package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ClaimCheck attempts to take the row-level advisory lock on a check
// (spec §4.7 item 1). SQLite has no cross-connection advisory lock
// primitive, so this is emulated with a compare-and-set UPDATE: the
// claim succeeds only if the row is currently unlocked or its lock is
// older than staleAfter, mirroring the optimistic RowsAffected()==1
// idiom the rest of this package uses for concurrent writers.
//
// A true result means the caller now owns the check until it calls
// ReleaseCheck or the lock goes stale.
func (s *Store) ClaimCheck(ctx context.Context, id uuid.UUID, staleAfter time.Duration, now time.Time) (bool, error) {
	var claimed bool
	err := withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE checks SET locked_by = ?, locked_at = ?
			WHERE id = ? AND (
				locked_by = '' OR locked_at IS NULL OR locked_at <= ?
			)`,
			s.workerID, formatTime(now), id.String(), formatTime(now.Add(-staleAfter)),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		claimed = n == 1
		return nil
	})
	return claimed, err
}

// ReleaseCheck clears the advisory lock, but only if this worker still
// holds it — a worker that lost its claim to a stale-lock reclaim must
// not clear the new owner's lock out from under it.
func (s *Store) ReleaseCheck(ctx context.Context, id uuid.UUID) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE checks SET locked_by = '', locked_at = NULL
			WHERE id = ? AND locked_by = ?`,
			id.String(), s.workerID,
		)
		return err
	})
}
