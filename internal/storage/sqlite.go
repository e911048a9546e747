package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	// The CLI and the server may hold the catalog open at the same time.
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS model_versions (
		id TEXT PRIMARY KEY,
		algorithm TEXT NOT NULL,
		scheme TEXT NOT NULL,
		metadata TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_model_versions_created_at ON model_versions(created_at);

	CREATE TABLE IF NOT EXISTS promotions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		version_id TEXT NOT NULL,
		promoted_at TIMESTAMP NOT NULL,
		FOREIGN KEY (version_id) REFERENCES model_versions(id)
	);

	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

// InsertVersion adds a catalog row. Inserting an existing id is an error.
func (s *SQLiteStorage) InsertVersion(ctx context.Context, rec *VersionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO model_versions (id, algorithm, scheme, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Algorithm, rec.Scheme, rec.Metadata, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert version %s: %w", rec.ID, err)
	}
	return nil
}

// GetVersion returns the catalog row for id or ErrNotFound.
func (s *SQLiteStorage) GetVersion(ctx context.Context, id string) (*VersionRecord, error) {
	var rec VersionRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, algorithm, scheme, metadata, created_at
		 FROM model_versions WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Algorithm, &rec.Scheme, &rec.Metadata, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version %s: %w", id, err)
	}
	return &rec, nil
}

// ListVersions returns all catalog rows, oldest first.
func (s *SQLiteStorage) ListVersions(ctx context.Context) ([]*VersionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, algorithm, scheme, metadata, created_at
		 FROM model_versions ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var out []*VersionRecord
	for rows.Next() {
		var rec VersionRecord
		if err := rows.Scan(&rec.ID, &rec.Algorithm, &rec.Scheme, &rec.Metadata, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// RecordPromotion appends to the promotion history.
func (s *SQLiteStorage) RecordPromotion(ctx context.Context, p Promotion) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO promotions (version_id, promoted_at) VALUES (?, ?)`,
		p.VersionID, p.PromotedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record promotion: %w", err)
	}
	return nil
}

// LastPromotion returns the most recent promotion or ErrNotFound.
func (s *SQLiteStorage) LastPromotion(ctx context.Context) (*Promotion, error) {
	var p Promotion
	err := s.db.QueryRowContext(ctx,
		`SELECT version_id, promoted_at FROM promotions ORDER BY seq DESC LIMIT 1`,
	).Scan(&p.VersionID, &p.PromotedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read promotions: %w", err)
	}
	return &p, nil
}

// PutUser creates or replaces a user.
func (s *SQLiteStorage) PutUser(ctx context.Context, u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, role, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET password_hash = excluded.password_hash, role = excluded.role`,
		u.Username, u.PasswordHash, u.Role, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put user %s: %w", u.Username, err)
	}
	return nil
}

// CreateUserIfMissing inserts u unless the username exists, reporting whether it was created.
func (s *SQLiteStorage) CreateUserIfMissing(ctx context.Context, u *User) (bool, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (username, password_hash, role, created_at) VALUES (?, ?, ?, ?)`,
		u.Username, u.PasswordHash, u.Role, u.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create user %s: %w", u.Username, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// GetUser returns the user or ErrNotFound.
func (s *SQLiteStorage) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT username, password_hash, role, created_at FROM users WHERE username = ?`, username,
	).Scan(&u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", username, err)
	}
	return &u, nil
}

// CountUsers returns the number of users.
func (s *SQLiteStorage) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
