// Package model contains domain models passed between layers.
package model

import (
	"regexp"
	"strings"
	"time"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Identity is a registered participant keyed by wallet address. Handle links
// the identity to its external contribution account and may be empty.
type Identity struct {
	Address string `json:"wallet"`
	Handle  string `json:"handle"`
}

// Scorable reports whether the identity carries both an address and a handle.
func (i Identity) Scorable() bool {
	return strings.TrimSpace(i.Address) != "" && strings.TrimSpace(i.Handle) != ""
}

// ContributionSnapshot is a telemetry observation for one identity. It is
// recomputed on every fetch and never persisted.
type ContributionSnapshot struct {
	Identity             Identity
	RawContributionCount int
	ObservedAt           time.Time
}

// ValidAddress reports whether s is a 0x-prefixed 20-byte hex address.
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// NormalizeAddress lower-cases an address so that lookups are case-insensitive.
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
