package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/fbarrella/reson8/models"
)

// CreateRole inserts a new role. Callers assign ID via snowflake before
// calling, matching the id-supplied-by-caller pattern CreateChannel uses
// for channels created via the same event-driven path.
func (s *Store) CreateRole(ctx context.Context, role models.Role) (models.Role, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO roles (id, server_id, name, permissions, power_level, color) VALUES (?, ?, ?, ?, ?, ?)`,
		role.ID, role.ServerID, role.Name, role.Permissions, role.PowerLevel, role.Color,
	)
	if err != nil {
		return models.Role{}, err
	}
	return role, nil
}

func (s *Store) GetRole(ctx context.Context, id int64) (models.Role, error) {
	var role models.Role
	row := s.db.QueryRowContext(ctx, `SELECT id, server_id, name, permissions, power_level, color, created_at FROM roles WHERE id = ?`, id)
	err := row.Scan(&role.ID, &role.ServerID, &role.Name, &role.Permissions, &role.PowerLevel, &role.Color, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Role{}, ErrNotFound
	}
	return role, err
}

// ListRoles returns every role for serverID ordered by powerLevel
// descending, the GET_ROLES ordering spec.md §4.9 requires.
func (s *Store) ListRoles(ctx context.Context, serverID int64) ([]models.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, server_id, name, permissions, power_level, color, created_at FROM roles WHERE server_id = ? ORDER BY power_level DESC`,
		serverID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Role
	for rows.Next() {
		var role models.Role
		if err := rows.Scan(&role.ID, &role.ServerID, &role.Name, &role.Permissions, &role.PowerLevel, &role.Color, &role.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// GetRoleByName looks up a role by its (serverId, name) pair — used to
// locate well-known roles such as the default "@everyone" membership
// role without persisting its id anywhere outside the database.
func (s *Store) GetRoleByName(ctx context.Context, serverID int64, name string) (models.Role, error) {
	var role models.Role
	row := s.db.QueryRowContext(ctx,
		`SELECT id, server_id, name, permissions, power_level, color, created_at FROM roles WHERE server_id = ? AND name = ?`,
		serverID, name,
	)
	err := row.Scan(&role.ID, &role.ServerID, &role.Name, &role.Permissions, &role.PowerLevel, &role.Color, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Role{}, ErrNotFound
	}
	return role, err
}

func (s *Store) UpdateRole(ctx context.Context, role models.Role) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE roles SET name = ?, permissions = ?, power_level = ?, color = ? WHERE id = ?`,
		role.Name, role.Permissions, role.PowerLevel, role.Color, role.ID,
	)
	return err
}

func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = ?`, id)
	return err
}

// AssignRole upserts a role binding idempotently, per spec.md §4.9's
// "idempotently" requirement for ASSIGN_ROLE's add action.
func (s *Store) AssignRole(ctx context.Context, userID string, roleID int64) error {
	query := `INSERT INTO role_assignments (user_id, role_id) VALUES (?, ?)`
	if s.selfContained {
		query += ` ON CONFLICT(user_id, role_id) DO NOTHING`
	} else {
		query += ` ON DUPLICATE KEY UPDATE user_id = user_id`
	}
	_, err := s.db.ExecContext(ctx, query, userID, roleID)
	return err
}

// RemoveRoleAssignment deletes a binding idempotently: removing a
// nonexistent binding is not an error, per the same ASSIGN_ROLE
// idempotency requirement applied to the remove action.
func (s *Store) RemoveRoleAssignment(ctx context.Context, userID string, roleID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM role_assignments WHERE user_id = ? AND role_id = ?`, userID, roleID)
	return err
}

// RolesForUser lists every role bound to userID on serverID — the input
// the Permission Evaluator ORs together into an effective mask.
func (s *Store) RolesForUser(ctx context.Context, userID string, serverID int64) ([]models.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.server_id, r.name, r.permissions, r.power_level, r.color, r.created_at
		 FROM roles r JOIN role_assignments ra ON ra.role_id = r.id
		 WHERE ra.user_id = ? AND r.server_id = ?`,
		userID, serverID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Role
	for rows.Next() {
		var role models.Role
		if err := rows.Scan(&role.ID, &role.ServerID, &role.Name, &role.Permissions, &role.PowerLevel, &role.Color, &role.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// UsersWithRoles implements GET_ALL_USERS: every user holding at least
// one role on serverID, each with its roles attached, sorted by
// nickname ascending (spec.md §4.9).
func (s *Store) UsersWithRoles(ctx context.Context, serverID int64) ([]models.UserWithRoles, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT u.id, u.username, u.nickname, u.credential, u.created_at
		 FROM users u JOIN role_assignments ra ON ra.user_id = u.id
		 JOIN roles r ON r.id = ra.role_id
		 WHERE r.server_id = ?`,
		serverID,
	)
	if err != nil {
		return nil, err
	}

	var users []models.UserWithRoles
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Nickname, &u.Credential, &u.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		users = append(users, models.UserWithRoles{User: u})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range users {
		roles, err := s.RolesForUser(ctx, users[i].ID, serverID)
		if err != nil {
			return nil, err
		}
		users[i].Roles = roles
	}

	sort.Slice(users, func(i, j int) bool { return users[i].Nickname < users[j].Nickname })
	return users, nil
}
