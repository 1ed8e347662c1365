package module

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is a major.minor.patch module version.
type Version struct {
	Major uint32
	Minor uint32
	Patch uint32
}

// ParseVersion parses s as "major.minor.patch". A leading "v" is accepted.
// Pre-release and build suffixes are rejected.
func ParseVersion(s string) (Version, error) {
	norm := s
	if !strings.HasPrefix(norm, "v") {
		norm = "v" + norm
	}
	if !semver.IsValid(norm) || semver.Canonical(norm) != norm || semver.Prerelease(norm) != "" {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	parts := strings.Split(norm[1:], ".")
	var nums [3]uint32
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q: %w", ErrInvalidVersion, s, err)
		}
		nums[i] = uint32(n)
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// String returns the version as "major.minor.patch".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or +1 as v is older than, equal to or newer than o.
func (v Version) Compare(o Version) int {
	return semver.Compare("v"+v.String(), "v"+o.String())
}

// AtLeast reports whether v is o or newer.
func (v Version) AtLeast(o Version) bool {
	return v.Compare(o) >= 0
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
