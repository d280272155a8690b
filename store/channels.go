package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fbarrella/reson8/models"
)

// ErrCycle is returned when a channel update would make the parent
// graph cyclic, the invariant spec.md §3 requires implementers to
// enforce.
var ErrCycle = errors.New("store: channel update would create a cycle")

// CreateChannel inserts ch, auto-computing position as
// max(siblings.position) + 1 (spec.md §3), or 0 when it has no
// siblings. Any Position the caller set on ch is overwritten.
func (s *Store) CreateChannel(ctx context.Context, ch models.Channel) (models.Channel, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Channel{}, err
	}
	defer tx.Rollback()

	var maxPosition sql.NullInt64
	var row *sql.Row
	if ch.ParentID != nil {
		row = tx.QueryRowContext(ctx, `SELECT MAX(position) FROM channels WHERE server_id = ? AND parent_id = ?`, ch.ServerID, *ch.ParentID)
	} else {
		row = tx.QueryRowContext(ctx, `SELECT MAX(position) FROM channels WHERE server_id = ? AND parent_id IS NULL`, ch.ServerID)
	}
	if err := row.Scan(&maxPosition); err != nil {
		return models.Channel{}, err
	}

	if maxPosition.Valid {
		ch.Position = int(maxPosition.Int64) + 1
	} else {
		ch.Position = 0
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO channels (id, server_id, name, type, parent_id, position, max_users) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.ServerID, ch.Name, ch.Type, ch.ParentID, ch.Position, ch.MaxUsers,
	)
	if err != nil {
		return models.Channel{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Channel{}, err
	}
	return ch, nil
}

func (s *Store) GetChannel(ctx context.Context, id int64) (models.Channel, error) {
	ch, err := scanChannel(s.db.QueryRowContext(ctx, `SELECT id, server_id, name, type, parent_id, position, max_users, created_at FROM channels WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Channel{}, ErrNotFound
	}
	return ch, err
}

func scanChannel(row *sql.Row) (models.Channel, error) {
	var ch models.Channel
	err := row.Scan(&ch.ID, &ch.ServerID, &ch.Name, &ch.Type, &ch.ParentID, &ch.Position, &ch.MaxUsers, &ch.CreatedAt)
	return ch, err
}

// ListChannels returns every channel row for serverId, unordered — the
// Channel Tree Builder is responsible for sorting and nesting.
func (s *Store) ListChannels(ctx context.Context, serverID int64) ([]models.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, server_id, name, type, parent_id, position, max_users, created_at FROM channels WHERE server_id = ?`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Channel
	for rows.Next() {
		var ch models.Channel
		if err := rows.Scan(&ch.ID, &ch.ServerID, &ch.Name, &ch.Type, &ch.ParentID, &ch.Position, &ch.MaxUsers, &ch.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// UpdateChannel overwrites the channel's name, type, parentId, position
// and maxUsers with ch's values, and rejects the change outright if the
// new parentId would create a cycle.
func (s *Store) UpdateChannel(ctx context.Context, ch models.Channel) error {
	if ch.ParentID != nil {
		cyclic, err := s.isDescendant(ctx, *ch.ParentID, ch.ID)
		if err != nil {
			return err
		}
		if cyclic || *ch.ParentID == ch.ID {
			return ErrCycle
		}
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE channels SET name = ?, type = ?, parent_id = ?, position = ?, max_users = ? WHERE id = ?`,
		ch.Name, ch.Type, ch.ParentID, ch.Position, ch.MaxUsers, ch.ID,
	)
	return err
}

// isDescendant reports whether startID is found while walking up from
// candidateID through its ancestors — i.e. whether candidateID is startID
// or one of its descendants, so re-parenting startID under candidateID
// would close a loop.
func (s *Store) isDescendant(ctx context.Context, candidateID int64, startID int64) (bool, error) {
	current := candidateID
	for {
		if current == startID {
			return true, nil
		}
		var parentID sql.NullInt64
		err := s.db.QueryRowContext(ctx, `SELECT parent_id FROM channels WHERE id = ?`, current).Scan(&parentID)
		if errors.Is(err, sql.ErrNoRows) || !parentID.Valid {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		current = parentID.Int64
	}
}

// DeleteChannel removes the channel. Child messages cascade via the
// foreign key; children's parentId is cleared so they surface as roots
// instead of being dropped (spec.md §3).
func (s *Store) DeleteChannel(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE channels SET parent_id = NULL WHERE parent_id = ?`, id); err != nil {
		return fmt.Errorf("store: orphaning children of channel %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}
