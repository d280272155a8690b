package store

import (
	"context"
	"time"

	"github.com/fbarrella/reson8/models"
)

// CreateMessage persists a message. ChannelID existence is checked by
// the caller (service.Message) before this is reached, per spec.md
// §4.7 — the store does not re-derive that rule.
func (s *Store) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, channel_id, user_id, content) VALUES (?, ?, ?, ?)`,
		msg.ID, msg.ChannelID, msg.UserID, msg.Content,
	)
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// ListMessagesBefore fetches up to limit messages older than before (or
// the most recent limit if before is nil), newest first — the service
// layer is responsible for reversing into the chronological-ascending
// order spec.md §4.7 requires clients to receive.
func (s *Store) ListMessagesBefore(ctx context.Context, channelID int64, before *time.Time, limit int) ([]models.Message, error) {
	var rows interface {
		Close() error
		Next() bool
		Scan(dest ...any) error
		Err() error
	}
	var err error

	if before != nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, channel_id, user_id, content, created_at FROM messages
			 WHERE channel_id = ? AND created_at < ? ORDER BY created_at DESC LIMIT ?`,
			channelID, *before, limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, channel_id, user_id, content, created_at FROM messages
			 WHERE channel_id = ? ORDER BY created_at DESC LIMIT ?`,
			channelID, limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.UserID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
