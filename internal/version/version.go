// Package version exposes the procflow release version, embedded at build
// time from the VERSION file next to this package.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var raw string

// Get returns the procflow version with surrounding whitespace trimmed.
func Get() string {
	return strings.TrimSpace(raw)
}
