package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fbarrella/reson8/models"
)

var ErrNotFound = errors.New("store: not found")

// SeedServer idempotently ensures the single configured server record
// exists. Reson8 deployments typically host exactly one server
// (spec.md §3), created at startup from the serverName, serverAddress
// and maxClients config values.
func (s *Store) SeedServer(ctx context.Context, server models.Server) error {
	query := `INSERT INTO servers (id, name, address, max_clients) VALUES (?, ?, ?, ?)`
	if s.selfContained {
		query += ` ON CONFLICT(id) DO UPDATE SET name = excluded.name, address = excluded.address, max_clients = excluded.max_clients`
	} else {
		query += ` ON DUPLICATE KEY UPDATE name = VALUES(name), address = VALUES(address), max_clients = VALUES(max_clients)`
	}

	_, err := s.db.ExecContext(ctx, query, server.ID, server.Name, server.Address, server.MaxClients)
	return err
}

func (s *Store) GetServer(ctx context.Context, id int64) (models.Server, error) {
	var server models.Server
	row := s.db.QueryRowContext(ctx, `SELECT id, name, address, max_clients, created_at FROM servers WHERE id = ?`, id)
	err := row.Scan(&server.ID, &server.Name, &server.Address, &server.MaxClients, &server.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Server{}, ErrNotFound
	}
	return server, err
}
