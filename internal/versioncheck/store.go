package versioncheck

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store keeps the last version seen per repository.
type Store interface {
	// Get returns ErrNoVersion when nothing is recorded for repository.
	Get(ctx context.Context, repository string) (Version, error)
	Save(ctx context.Context, repository string, v Version) error
}

// SQLiteStore implements Store on the release_versions table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Get loads the stored version for repository.
func (s *SQLiteStore) Get(ctx context.Context, repository string) (Version, error) {
	var v Version
	err := s.db.QueryRowContext(ctx,
		`SELECT major, minor, revision FROM release_versions WHERE repository = ?`,
		repository,
	).Scan(&v.Major, &v.Minor, &v.Revision)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Version{}, ErrNoVersion
		}
		return Version{}, fmt.Errorf("querying release version: %w", err)
	}
	return v, nil
}

// Save records v as the latest version of repository.
func (s *SQLiteStore) Save(ctx context.Context, repository string, v Version) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO release_versions (repository, major, minor, revision, checked_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (repository) DO UPDATE SET
			major = excluded.major,
			minor = excluded.minor,
			revision = excluded.revision,
			checked_at = excluded.checked_at`,
		repository, v.Major, v.Minor, v.Revision, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving release version: %w", err)
	}
	return nil
}
