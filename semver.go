package renpack

import (
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the version of renpack. Meant to be
// overridden at build time.
var Version = "0.0.0"

// SemVer returns the semantic version of renpack as built.
func SemVer() string {
	if v := "v" + strings.TrimPrefix(Version, "v"); semver.IsValid(v) {
		return v
	}

	return "v0.0.0"
}
