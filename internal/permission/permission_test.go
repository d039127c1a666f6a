package permission

import "testing"

func TestBypassModeAllowsEverything(t *testing.T) {
	if !AutoAllowed(ModeBypass, nil, "Bash") {
		t.Error("bypassPermissions must auto-allow")
	}
}

func TestAskModeIgnoresAllowlist(t *testing.T) {
	if AutoAllowed(ModeAsk, []string{"*"}, "Read") {
		t.Error("ask mode must never auto-allow")
	}
}

func TestAllowlistGlobs(t *testing.T) {
	allowed := []string{"Read", "mcp__github__*", "Glob"}

	cases := map[string]bool{
		"Read":                  true,
		"Glob":                  true,
		"mcp__github__get_file": true,
		"Bash":                  false,
		"mcp__jira__create":     false,
		"ReadFile":              false,
	}
	for tool, want := range cases {
		if got := AutoAllowed(ModeDefault, allowed, tool); got != want {
			t.Errorf("AutoAllowed(%q) = %v, want %v", tool, got, want)
		}
	}
}

func TestEmptyAllowlist(t *testing.T) {
	if AutoAllowed(ModeDefault, nil, "Read") {
		t.Error("nothing is auto-allowed without an allowlist")
	}
}
