package engine

import "fmt"

// Version is an engine release version (calendar-versioned upstream).
type Version struct {
	Major int
	Minor int
	Patch int
}

// MinVersion is the oldest engine release exposing the scatter API the
// distributed tensor handle depends on.
var MinVersion = Version{Major: 23, Minor: 12, Patch: 0}

// String formats the version in the engine's zero-padded style.
func (v Version) String() string {
	return fmt.Sprintf("%d.%02d.%02d", v.Major, v.Minor, v.Patch)
}

// AtLeast reports whether v >= o.
func (v Version) AtLeast(o Version) bool {
	if v.Major != o.Major {
		return v.Major > o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor > o.Minor
	}
	return v.Patch >= o.Patch
}
