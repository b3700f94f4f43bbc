package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/opus-domini/pulsecheck/internal/model"
)

// InsertPing records one ping event (spec §3, §6). If runID is non-empty
// and a ping with the same (check_id, run_id) has already been recorded,
// InsertPing is a no-op and returns the original ping's row id with
// duplicate=true, implementing the ?rid= idempotency token (spec §4.8).
func (s *Store) InsertPing(ctx context.Context, p model.Ping) (id int64, duplicate bool, err error) {
	err = withRetry(ctx, func() error {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return txErr
		}
		defer func() { _ = tx.Rollback() }()

		if p.RunID != "" {
			var existing int64
			scanErr := tx.QueryRowContext(ctx,
				`SELECT ping_id FROM ping_idempotency WHERE check_id = ? AND run_id = ?`,
				p.CheckID.String(), p.RunID,
			).Scan(&existing)
			switch {
			case scanErr == nil:
				id, duplicate = existing, true
				return tx.Commit()
			case !errors.Is(scanErr, sql.ErrNoRows):
				return scanErr
			}
		}

		var exitStatus any
		if p.ExitStatus != nil {
			exitStatus = *p.ExitStatus
		}
		res, insertErr := tx.ExecContext(ctx, `
			INSERT INTO pings (
				check_id, n, kind, created_at, scheme, remote_addr, user_agent,
				method, exit_status, run_id, body, object_size, offloaded
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.CheckID.String(), p.N, string(p.Kind), formatTime(p.CreatedAt), p.Scheme, p.RemoteAddr, p.UserAgent,
			p.Method, exitStatus, p.RunID, p.Body, p.ObjectSize, boolToInt(p.Offloaded),
		)
		if insertErr != nil {
			return insertErr
		}
		newID, insertErr := res.LastInsertId()
		if insertErr != nil {
			return insertErr
		}

		if p.RunID != "" {
			if _, insertErr := tx.ExecContext(ctx,
				`INSERT INTO ping_idempotency (check_id, run_id, ping_id) VALUES (?, ?, ?)`,
				p.CheckID.String(), p.RunID, newID,
			); insertErr != nil {
				return insertErr
			}
		}

		id = newID
		return tx.Commit()
	})
	return id, duplicate, err
}

// ListPingsForCheck returns the most recent pings for a check, newest
// first, bounded by limit.
func (s *Store) ListPingsForCheck(ctx context.Context, checkID uuid.UUID, limit int) ([]model.Ping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, check_id, n, kind, created_at, scheme, remote_addr, user_agent,
		       method, exit_status, run_id, body, object_size, offloaded
		FROM pings WHERE check_id = ? ORDER BY n DESC LIMIT ?`, checkID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Ping
	for rows.Next() {
		var p model.Ping
		var checkIDStr, kind, createdAt string
		var exitStatus sql.NullInt64
		var offloaded int
		if err := rows.Scan(
			&p.ID, &checkIDStr, &p.N, &kind, &createdAt, &p.Scheme, &p.RemoteAddr, &p.UserAgent,
			&p.Method, &exitStatus, &p.RunID, &p.Body, &p.ObjectSize, &offloaded,
		); err != nil {
			return nil, err
		}
		parsedID, err := uuid.Parse(checkIDStr)
		if err != nil {
			return nil, err
		}
		p.CheckID = parsedID
		p.Kind = model.PingKind(kind)
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if exitStatus.Valid {
			v := int(exitStatus.Int64)
			p.ExitStatus = &v
		}
		p.Offloaded = offloaded != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// NextPingSequence returns the next n value for a check's ping stream
// (spec §3 n_pings cursor), i.e. the current n_pings + 1.
func (s *Store) NextPingSequence(ctx context.Context, checkID uuid.UUID) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT n_pings FROM checks WHERE id = ?`, checkID.String()).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return n + 1, err
}

// PruneOldPings deletes ping rows for checkID beyond the most recent
// keep rows, bounding storage growth the way spec §4.7 requires for a
// long-lived check.
func (s *Store) PruneOldPings(ctx context.Context, checkID uuid.UUID, keep int) (int64, error) {
	var affected int64
	err := withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM pings WHERE check_id = ? AND id NOT IN (
				SELECT id FROM pings WHERE check_id = ? ORDER BY n DESC LIMIT ?
			)`, checkID.String(), checkID.String(), keep)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}
