package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/opus-domini/pulsecheck/internal/model"
)

// InsertFlip records a status transition (spec §3, §4.3) and returns its
// row id. The dispatcher later marks it processed once every channel has
// been notified.
func (s *Store) InsertFlip(ctx context.Context, f model.Flip) (int64, error) {
	var id int64
	err := withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO flips (check_id, created_at, old_status, new_status, reason)
			VALUES (?, ?, ?, ?, ?)`,
			f.CheckID.String(), formatTime(f.Created), string(f.OldStatus), string(f.NewStatus), string(f.Reason),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// UnprocessedFlips returns flips awaiting dispatch, oldest first, across
// all checks — the dispatcher's work queue (spec §4.6).
func (s *Store) UnprocessedFlips(ctx context.Context, limit int) ([]model.Flip, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, check_id, created_at, processed_at, old_status, new_status, reason
		FROM flips WHERE processed_at IS NULL ORDER BY created_at LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanFlips(rows)
}

// MarkFlipProcessed records that every channel subscribed to a flip's
// check has been notified (or the dispatcher gave up per spec §7).
func (s *Store) MarkFlipProcessed(ctx context.Context, flipID int64, at time.Time) error {
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE flips SET processed_at = ? WHERE id = ?`, formatTime(at), flipID)
		if err != nil {
			return err
		}
		return checkRowsAffected(res)
	})
}

// FlipsForCheck returns a check's flip history, newest first.
func (s *Store) FlipsForCheck(ctx context.Context, checkID uuid.UUID, limit int) ([]model.Flip, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, check_id, created_at, processed_at, old_status, new_status, reason
		FROM flips WHERE check_id = ? ORDER BY created_at DESC LIMIT ?`, checkID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanFlips(rows)
}

// LastNagOrDownFlip returns the most recent flip for checkID whose
// new_status is "down", regardless of whether its reason is the original
// "timeout"/"fail" or a repeat "nag" (spec §4.4). Callers use this to
// decide whether enough time has passed to send another nag.
//
// This must filter by new_status, not by scanning notification history:
// an earlier draft of the nag loop walked "was a notification already
// sent for this flip" and used that as the nag anchor, which made every
// nag immediately re-qualify itself as its own anchor and fired on every
// tick. Anchoring on the flip table's reason/new_status columns instead
// avoids that self-reference.
func (s *Store) LastNagOrDownFlip(ctx context.Context, checkID uuid.UUID) (model.Flip, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, check_id, created_at, processed_at, old_status, new_status, reason
		FROM flips WHERE check_id = ? AND new_status = 'down'
		ORDER BY created_at DESC LIMIT 1`, checkID.String())
	return scanFlip(row)
}

// PruneFlipsOlderThan deletes processed flips created before cutoff,
// bounding history growth (spec §4.7).
func (s *Store) PruneFlipsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var affected int64
	err := withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM flips WHERE processed_at IS NOT NULL AND created_at < ?`, formatTime(cutoff))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

func scanFlip(row rowScanner) (model.Flip, error) {
	var f model.Flip
	var checkIDStr, createdAt, oldStatus, newStatus, reason string
	var processedAt sql.NullString

	if err := row.Scan(&f.ID, &checkIDStr, &createdAt, &processedAt, &oldStatus, &newStatus, &reason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Flip{}, ErrNotFound
		}
		return model.Flip{}, err
	}

	id, err := uuid.Parse(checkIDStr)
	if err != nil {
		return model.Flip{}, err
	}
	f.CheckID = id
	f.OldStatus = model.CheckStatus(oldStatus)
	f.NewStatus = model.CheckStatus(newStatus)
	f.Reason = model.FlipReason(reason)
	if f.Created, err = parseTime(createdAt); err != nil {
		return model.Flip{}, err
	}
	if f.Processed, err = parseNullTime(processedAt); err != nil {
		return model.Flip{}, err
	}
	return f, nil
}

func scanFlips(rows *sql.Rows) ([]model.Flip, error) {
	var out []model.Flip
	for rows.Next() {
		f, err := scanFlip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
