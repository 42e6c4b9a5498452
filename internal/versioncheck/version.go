package versioncheck

import (
	"fmt"
	"regexp"
	"strconv"
)

var tagPattern = regexp.MustCompile(`^v(\d+)\.(\d+)\.(\d+)$`)

// Version is a parsed firmware release number.
type Version struct {
	Major    int
	Minor    int
	Revision int
}

// ParseTag parses a release tag such as "v14.2.0".
func ParseTag(tag string) (Version, error) {
	m := tagPattern.FindStringSubmatch(tag)
	if m == nil {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidTag, tag)
	}

	var parts [3]int
	for i := range parts {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q: %w", ErrInvalidTag, tag, err)
		}
		parts[i] = n
	}
	return Version{Major: parts[0], Minor: parts[1], Revision: parts[2]}, nil
}

// NewerThan reports whether v is strictly greater than other.
func (v Version) NewerThan(other Version) bool {
	if v.Major != other.Major {
		return v.Major > other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor > other.Minor
	}
	return v.Revision > other.Revision
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Revision)
}
