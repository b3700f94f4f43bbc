package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opus-domini/pulsecheck/internal/model"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

const checkColumns = `
	id, code, name, project_id,
	schedule_kind, timeout_seconds, schedule, timezone, grace_seconds,
	status, last_ping, last_start, alert_after, n_pings, last_duration_seconds, manual_resume,
	filter_subject_regex, filter_body_regex, filter_success_keywords, filter_start_keywords,
	filter_failure_keywords, filter_allowed_methods,
	locked_by, locked_at, created_at
`

// CreateCheck inserts a new check (spec §3).
func (s *Store) CreateCheck(ctx context.Context, c model.Check) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO checks (
				id, code, name, project_id,
				schedule_kind, timeout_seconds, schedule, timezone, grace_seconds,
				status, n_pings, manual_resume,
				filter_subject_regex, filter_body_regex, filter_success_keywords,
				filter_start_keywords, filter_failure_keywords, filter_allowed_methods,
				created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID.String(), c.Code, c.Name, c.ProjectID,
			string(c.ScheduleKind), c.Timeout.Seconds(), c.Schedule, c.Timezone, c.Grace.Seconds(),
			string(c.Status), c.NPings, boolToInt(c.ManualResume),
			c.Filter.SubjectRegex, c.Filter.BodyRegex, joinCSV(c.Filter.SuccessKeywords),
			joinCSV(c.Filter.StartKeywords), joinCSV(c.Filter.FailureKeywords), joinCSV(c.Filter.AllowedMethods),
			formatTime(c.CreatedAt),
		)
		return err
	})
}

// GetCheck fetches a check by ID.
func (s *Store) GetCheck(ctx context.Context, id uuid.UUID) (model.Check, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+checkColumns+` FROM checks WHERE id = ?`, id.String())
	return scanCheck(row)
}

// GetCheckByCode fetches a check by its ping URL slug.
func (s *Store) GetCheckByCode(ctx context.Context, code string) (model.Check, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+checkColumns+` FROM checks WHERE code = ?`, code)
	return scanCheck(row)
}

// ListChecks returns every check, ordered by creation time.
func (s *Store) ListChecks(ctx context.Context) ([]model.Check, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+checkColumns+` FROM checks ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanChecks(rows)
}

// ListChecksForProject returns the checks belonging to a single project.
func (s *Store) ListChecksForProject(ctx context.Context, projectID string) ([]model.Check, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+checkColumns+` FROM checks WHERE project_id = ? ORDER BY created_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanChecks(rows)
}

// ListChecksDueForEvaluation returns non-paused checks whose cached
// alert_after deadline has passed, i.e. candidates the alerting loop
// (spec §4.3) must re-resolve on this tick. Paused checks and checks
// with no deadline (alert_after IS NULL, e.g. never pinged) are excluded;
// no other sweep revisits them.
func (s *Store) ListChecksDueForEvaluation(ctx context.Context, now time.Time) ([]model.Check, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+checkColumns+` FROM checks
		WHERE status != 'paused' AND alert_after IS NOT NULL AND alert_after <= ?
		ORDER BY alert_after`, formatTime(now))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanChecks(rows)
}

// ListChecksByStatus returns every check cached at the given status,
// e.g. status=down for the nag sub-loop (spec §4.4 step 1).
func (s *Store) ListChecksByStatus(ctx context.Context, status model.CheckStatus) ([]model.Check, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+checkColumns+` FROM checks WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanChecks(rows)
}

// UpdateCheckState persists the fields the ping-ingestion writer and the
// alerting loop mutate after resolving a check's status (spec §4.2,
// §4.8): status, the ping cursors, the cached alert deadline and the
// ping counters. It never touches schedule configuration.
func (s *Store) UpdateCheckState(ctx context.Context, c model.Check) error {
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE checks SET
				status = ?, last_ping = ?, last_start = ?, alert_after = ?,
				n_pings = ?, last_duration_seconds = ?, manual_resume = ?
			WHERE id = ?`,
			string(c.Status), formatNullTime(c.LastPing), formatNullTime(c.LastStart), formatNullTime(c.AlertAfter),
			c.NPings, c.LastDuration.Seconds(), boolToInt(c.ManualResume),
			c.ID.String(),
		)
		if err != nil {
			return err
		}
		return checkRowsAffected(res)
	})
}

// PauseCheck marks a check paused and clears any cached alert deadline,
// since paused checks are never resolved.
func (s *Store) PauseCheck(ctx context.Context, id uuid.UUID) error {
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE checks SET status = 'paused', alert_after = NULL WHERE id = ?`, id.String())
		if err != nil {
			return err
		}
		return checkRowsAffected(res)
	})
}

// ResumeCheck un-pauses a check. Per spec §4.2 this does not by itself
// compute a new deadline; the next ping or alerting sweep does that.
func (s *Store) ResumeCheck(ctx context.Context, id uuid.UUID, manualResume bool) error {
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE checks SET status = 'new', manual_resume = ? WHERE id = ?`,
			boolToInt(manualResume), id.String())
		if err != nil {
			return err
		}
		return checkRowsAffected(res)
	})
}

// ResumeFromDown is the operator-initiated resume of a manual_resume
// check that has been held at status=down by successful pings (spec
// §8 scenario 3): it sets status=up and records a flip (down→up,
// reason=recovered) in the same transaction. It is a no-op — returning
// ErrNotFound — if the check is not currently down, since a flip must
// never record old=status equal to new=status outside the nag case.
func (s *Store) ResumeFromDown(ctx context.Context, id uuid.UUID, now time.Time) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			`UPDATE checks SET status = 'up' WHERE id = ? AND status = 'down'`, id.String())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO flips (check_id, created_at, old_status, new_status, reason)
			VALUES (?, ?, ?, ?, ?)`,
			id.String(), formatTime(now), string(model.StatusDown), string(model.StatusUp), string(model.ReasonRecovered),
		); err != nil {
			return err
		}

		return tx.Commit()
	})
}

// DeleteCheck removes a check and, via ON DELETE CASCADE, its pings,
// flips, notifications and channel associations.
func (s *Store) DeleteCheck(ctx context.Context, id uuid.UUID) error {
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM checks WHERE id = ?`, id.String())
		if err != nil {
			return err
		}
		return checkRowsAffected(res)
	})
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheck(row rowScanner) (model.Check, error) {
	var c model.Check
	var id string
	var scheduleKind, status string
	var lastPing, lastStart, alertAfter, lockedAt sql.NullString
	var lockedBy sql.NullString
	var timeoutSeconds, graceSeconds, lastDurationSeconds float64
	var manualResume int
	var subjectRe, bodyRe, successKw, startKw, failKw, methods string
	var createdAt string

	if err := row.Scan(
		&id, &c.Code, &c.Name, &c.ProjectID,
		&scheduleKind, &timeoutSeconds, &c.Schedule, &c.Timezone, &graceSeconds,
		&status, &lastPing, &lastStart, &alertAfter, &c.NPings, &lastDurationSeconds, &manualResume,
		&subjectRe, &bodyRe, &successKw, &startKw, &failKw, &methods,
		&lockedBy, &lockedAt, &createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Check{}, ErrNotFound
		}
		return model.Check{}, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return model.Check{}, fmt.Errorf("parse check id %q: %w", id, err)
	}
	c.ID = parsed
	c.ScheduleKind = model.ScheduleKind(scheduleKind)
	c.Timeout = time.Duration(timeoutSeconds * float64(time.Second))
	c.Grace = time.Duration(graceSeconds * float64(time.Second))
	c.Status = model.CheckStatus(status)
	c.LastDuration = time.Duration(lastDurationSeconds * float64(time.Second))
	c.ManualResume = manualResume != 0
	c.Filter = model.FilterPolicy{
		SubjectRegex:    subjectRe,
		BodyRegex:       bodyRe,
		SuccessKeywords: splitCSV(successKw),
		StartKeywords:   splitCSV(startKw),
		FailureKeywords: splitCSV(failKw),
		AllowedMethods:  splitCSV(methods),
	}
	c.LockedBy = lockedBy.String

	if c.LastPing, err = parseNullTime(lastPing); err != nil {
		return model.Check{}, err
	}
	if c.LastStart, err = parseNullTime(lastStart); err != nil {
		return model.Check{}, err
	}
	if c.AlertAfter, err = parseNullTime(alertAfter); err != nil {
		return model.Check{}, err
	}
	if c.LockedAt, err = parseNullTime(lockedAt); err != nil {
		return model.Check{}, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Check{}, err
	}
	return c, nil
}

func scanChecks(rows *sql.Rows) ([]model.Check, error) {
	var out []model.Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
