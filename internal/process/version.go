package process

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// MinVersion is the oldest ExifTool the protocol works with. 12.10 added
// ${status} substitution in -echo; 12.15 fixed its value under -stay_open.
var MinVersion = Version{Major: 12, Minor: 15}

// Version is an ExifTool version number. ExifTool versions are decimal
// numbers ("12.76"), so Minor is compared as written, not as a fraction.
type Version struct {
	Major int
	Minor int
	Raw   string
}

// ParseVersion parses the output of "exiftool -ver".
func ParseVersion(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	// Pre-release builds print e.g. "12.77 [Beta]" on some platforms.
	if i := strings.IndexAny(raw, " \t"); i >= 0 {
		raw = raw[:i]
	}
	major, minor, found := strings.Cut(raw, ".")
	if !found {
		minor = "0"
	}
	majorN, err := strconv.Atoi(major)
	if err != nil {
		return Version{}, fmt.Errorf("parse version %q: %w", s, err)
	}
	minorN, err := strconv.Atoi(minor)
	if err != nil {
		return Version{}, fmt.Errorf("parse version %q: %w", s, err)
	}
	// "12.1" and "12.10" are different releases; normalize to two digits.
	if len(minor) == 1 {
		minorN *= 10
	}
	return Version{Major: majorN, Minor: minorN, Raw: raw}, nil
}

// AtLeast reports whether v >= other.
func (v Version) AtLeast(other Version) bool {
	if v.Major != other.Major {
		return v.Major > other.Major
	}
	return v.Minor >= other.Minor
}

func (v Version) String() string {
	if v.Raw != "" {
		return v.Raw
	}
	return fmt.Sprintf("%d.%02d", v.Major, v.Minor)
}

// ProbeVersion runs "<binary> -ver" outside of stay-open mode.
func ProbeVersion(ctx context.Context, binary string) (Version, error) {
	out, err := exec.CommandContext(ctx, binary, "-ver").Output()
	if err != nil {
		return Version{}, fmt.Errorf("%s -ver failed: %w", binary, err)
	}
	return ParseVersion(string(out))
}
