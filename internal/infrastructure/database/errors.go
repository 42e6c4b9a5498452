package database

import "errors"

var (
	// ErrEmptyPath is returned by Open when no database path is configured.
	ErrEmptyPath = errors.New("database path is empty")

	// ErrMissingDownSQL is returned by MigrateDown when the newest applied
	// migration has no .down.sql file.
	ErrMissingDownSQL = errors.New("migration has no down SQL")

	// ErrUnknownMigration is returned when an applied version has no file.
	ErrUnknownMigration = errors.New("applied migration not found in source")
)
