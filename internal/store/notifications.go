package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/opus-domini/pulsecheck/internal/model"
)

// InsertNotification records one delivery attempt (spec §3, §4.6).
func (s *Store) InsertNotification(ctx context.Context, n model.Notification) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO notifications (id, check_id, channel_id, check_status, created_at, error)
			VALUES (?, ?, ?, ?, ?, ?)`,
			n.ID.String(), n.CheckID.String(), n.ChannelID.String(), string(n.CheckStatus), formatTime(n.Created), n.Error,
		)
		return err
	})
}

// NotificationsForCheck returns a check's notification history, newest
// first.
func (s *Store) NotificationsForCheck(ctx context.Context, checkID uuid.UUID, limit int) ([]model.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, check_id, channel_id, check_status, created_at, error
		FROM notifications WHERE check_id = ? ORDER BY created_at DESC LIMIT ?`, checkID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		var id, checkIDStr, channelIDStr, status, createdAt string
		if err := rows.Scan(&id, &checkIDStr, &channelIDStr, &status, &createdAt, &n.Error); err != nil {
			return nil, err
		}
		var parseErr error
		if n.ID, parseErr = uuid.Parse(id); parseErr != nil {
			return nil, parseErr
		}
		if n.CheckID, parseErr = uuid.Parse(checkIDStr); parseErr != nil {
			return nil, parseErr
		}
		if n.ChannelID, parseErr = uuid.Parse(channelIDStr); parseErr != nil {
			return nil, parseErr
		}
		n.CheckStatus = model.CheckStatus(status)
		if n.Created, parseErr = parseTime(createdAt); parseErr != nil {
			return nil, parseErr
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
