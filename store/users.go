package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fbarrella/reson8/models"
)

// UpsertUser is the "first JOIN_SERVER upserts the record" rule of
// spec.md §3: the row is created on first contact and its nickname is
// refreshed on every subsequent join, but username and credential are
// left untouched once set, mirroring the teacher's pattern of a single
// write path for both create and update.
func (s *Store) UpsertUser(ctx context.Context, user models.User) error {
	query := `INSERT INTO users (id, username, nickname, credential) VALUES (?, ?, ?, ?)`
	if s.selfContained {
		query += ` ON CONFLICT(id) DO UPDATE SET nickname = excluded.nickname`
	} else {
		query += ` ON DUPLICATE KEY UPDATE nickname = VALUES(nickname)`
	}

	_, err := s.db.ExecContext(ctx, query, user.ID, user.Username, user.Nickname, user.Credential)
	return err
}

func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	var user models.User
	row := s.db.QueryRowContext(ctx, `SELECT id, username, nickname, credential, created_at FROM users WHERE id = ?`, id)
	err := row.Scan(&user.ID, &user.Username, &user.Nickname, &user.Credential, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	return user, err
}
