package versioncheck

import "errors"

var (
	// ErrInvalidTag is returned when a release tag is not vMAJOR.MINOR.REVISION.
	ErrInvalidTag = errors.New("versioncheck: invalid release tag")

	// ErrNoVersion is returned by a Store with nothing recorded yet.
	ErrNoVersion = errors.New("versioncheck: no stored version")
)
