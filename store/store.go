// Package store implements the Durable Store of spec.md §4: the
// authoritative record of servers, channels, users, roles, role
// assignments, and messages. It is grounded on the teacher's
// internal/database package — the same sqlite-or-mysql dual mode keyed
// off a SelfContained flag, the same pragma tuning for the embedded
// path, the same FOREIGN KEY ... ON DELETE CASCADE schema style —
// generalized from the teacher's social-network tables to Reson8's
// entities.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
	"go.uber.org/zap"

	"github.com/fbarrella/reson8/config"
)

// Store wraps *sql.DB with the dialect-aware SQL this package's entity
// files need (sqlite vs. mysql differ in upsert syntax).
type Store struct {
	db            *sql.DB
	selfContained bool
	sugar         *zap.SugaredLogger
}

func setPragmaValues(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return err
	}
	if _, err := db.Exec("PRAGMA synchronous = normal"); err != nil {
		return err
	}
	return nil
}

// Setup opens the configured backend and migrates the schema.
func Setup(cfg config.Config, sugar *zap.SugaredLogger) (*Store, error) {
	var db *sql.DB
	var err error

	if cfg.SelfContained {
		sugar.Infof("store: opening sqlite database at %s", cfg.StoreURL)
		db, err = sql.Open("sqlite", cfg.StoreURL)
		if err != nil {
			return nil, err
		}
		// sqlite serializes writers; more than one open connection just
		// produces spurious SQLITE_BUSY errors.
		db.SetMaxOpenConns(1)

		if err := setPragmaValues(db); err != nil {
			return nil, err
		}
	} else {
		sugar.Infof("store: opening mysql database at %s", cfg.StoreURL)
		db, err = sql.Open("mysql", cfg.StoreURL)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(10)
	}

	s := &Store{db: db, selfContained: cfg.SelfContained, sugar: sugar}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("store: migrating schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS servers (
			id BIGINT UNSIGNED PRIMARY KEY,
			name VARCHAR(64) NOT NULL,
			address VARCHAR(255) NOT NULL,
			max_clients INT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(64) PRIMARY KEY,
			username VARCHAR(32) NOT NULL,
			nickname VARCHAR(32) NOT NULL,
			credential TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS channels (
			id BIGINT UNSIGNED PRIMARY KEY,
			server_id BIGINT UNSIGNED NOT NULL,
			name VARCHAR(64) NOT NULL,
			type VARCHAR(8) NOT NULL,
			parent_id BIGINT UNSIGNED,
			position INT NOT NULL,
			max_users INT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (server_id) REFERENCES servers(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS roles (
			id BIGINT UNSIGNED PRIMARY KEY,
			server_id BIGINT UNSIGNED NOT NULL,
			name VARCHAR(64) NOT NULL,
			permissions BIGINT UNSIGNED NOT NULL,
			power_level INT NOT NULL,
			color VARCHAR(16),
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (server_id) REFERENCES servers(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS role_assignments (
			user_id VARCHAR(64) NOT NULL,
			role_id BIGINT UNSIGNED NOT NULL,
			PRIMARY KEY (user_id, role_id),
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (role_id) REFERENCES roles(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGINT UNSIGNED PRIMARY KEY,
			channel_id BIGINT UNSIGNED NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (channel_id) REFERENCES channels(id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
