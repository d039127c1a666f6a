// Package permission decides which backend tool-use requests can be
// answered without a consumer round-trip.
package permission

import "github.com/bmatcuk/doublestar/v4"

// Permission modes a session can run under.
const (
	ModeDefault = "default"
	ModeAsk     = "ask"
	ModeBypass  = "bypassPermissions"
)

// AutoAllowed reports whether a tool-use request is pre-approved by the
// session's permission mode or its tool allowlist. Patterns use doublestar
// globs, so "mcp__github__*" or "Read" both work.
func AutoAllowed(mode string, allowedTools []string, toolName string) bool {
	if mode == ModeBypass {
		return true
	}
	if mode == ModeAsk {
		// Ask mode sends everything to the consumers, allowlist or not.
		return false
	}
	for _, pattern := range allowedTools {
		if ok, err := doublestar.Match(pattern, toolName); err == nil && ok {
			return true
		}
	}
	return false
}
