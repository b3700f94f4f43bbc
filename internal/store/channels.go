package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/opus-domini/pulsecheck/internal/model"
)

const channelColumns = `
	id, kind, value, last_notify, last_notify_duration_seconds,
	last_error, disabled, email_verified, created_at
`

// CreateChannel inserts a new notification target (spec §3).
func (s *Store) CreateChannel(ctx context.Context, ch model.Channel) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO channels (id, kind, value, disabled, email_verified, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			ch.ID.String(), ch.Kind, ch.Value, boolToInt(ch.Disabled), boolToInt(ch.EmailVerified), formatTime(ch.CreatedAt),
		)
		return err
	})
}

// GetChannel fetches a channel by ID.
func (s *Store) GetChannel(ctx context.Context, id uuid.UUID) (model.Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = ?`, id.String())
	return scanChannel(row)
}

// ChannelsForCheck returns the channels subscribed to a check, ordered by
// last_notify_duration ascending (spec §4.6: fastest-to-notify channels
// first, so a slow channel never blocks faster ones from being tried
// within a dispatch deadline).
func (s *Store) ChannelsForCheck(ctx context.Context, checkID uuid.UUID) ([]model.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.kind, c.value, c.last_notify, c.last_notify_duration_seconds,
		       c.last_error, c.disabled, c.email_verified, c.created_at
		FROM channels c
		JOIN check_channels cc ON cc.channel_id = c.id
		WHERE cc.check_id = ? AND c.disabled = 0
		ORDER BY c.last_notify_duration_seconds ASC`, checkID.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// SubscribeChannel attaches a channel to a check.
func (s *Store) SubscribeChannel(ctx context.Context, checkID, channelID uuid.UUID) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO check_channels (check_id, channel_id) VALUES (?, ?)`,
			checkID.String(), channelID.String(),
		)
		return err
	})
}

// UnsubscribeChannel detaches a channel from a check.
func (s *Store) UnsubscribeChannel(ctx context.Context, checkID, channelID uuid.UUID) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM check_channels WHERE check_id = ? AND channel_id = ?`,
			checkID.String(), channelID.String(),
		)
		return err
	})
}

// RecordDeliveryResult updates a channel's last_notify timestamp,
// last dispatch duration and last error after a delivery attempt
// (spec §4.6), feeding the ordering ChannelsForCheck relies on.
func (s *Store) RecordDeliveryResult(ctx context.Context, channelID uuid.UUID, at time.Time, duration time.Duration, deliveryErr string) error {
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE channels SET last_notify = ?, last_notify_duration_seconds = ?, last_error = ?
			WHERE id = ?`,
			formatTime(at), duration.Seconds(), deliveryErr, channelID.String(),
		)
		if err != nil {
			return err
		}
		return checkRowsAffected(res)
	})
}

// SetChannelDisabled flips a channel's disabled flag (spec §4.6: a
// channel is auto-disabled after a permanent transport error).
func (s *Store) SetChannelDisabled(ctx context.Context, channelID uuid.UUID, disabled bool) error {
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE channels SET disabled = ? WHERE id = ?`, boolToInt(disabled), channelID.String())
		if err != nil {
			return err
		}
		return checkRowsAffected(res)
	})
}

func scanChannel(row rowScanner) (model.Channel, error) {
	var ch model.Channel
	var id, kind, value string
	var lastNotify sql.NullString
	var lastNotifyDuration float64
	var lastError string
	var disabled, emailVerified int
	var createdAt string

	if err := row.Scan(&id, &kind, &value, &lastNotify, &lastNotifyDuration, &lastError, &disabled, &emailVerified, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Channel{}, ErrNotFound
		}
		return model.Channel{}, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return model.Channel{}, err
	}
	ch.ID = parsed
	ch.Kind = kind
	ch.Value = value
	ch.LastNotifyDuration = time.Duration(lastNotifyDuration * float64(time.Second))
	ch.LastError = lastError
	ch.Disabled = disabled != 0
	ch.EmailVerified = emailVerified != 0

	if ch.LastNotify, err = parseNullTime(lastNotify); err != nil {
		return model.Channel{}, err
	}
	if ch.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Channel{}, err
	}
	return ch, nil
}
