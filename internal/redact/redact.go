// Package redact masks credential material in text before it is stored or
// logged.
package redact

import (
	"regexp"
)

const mask = "[REDACTED]"

// patterns match common credential shapes. Order matters: multi-line PEM
// blocks are collapsed before the line-oriented patterns run.
var patterns = []*regexp.Regexp{
	// PEM private key blocks
	regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`),
	// Anthropic-style API keys
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{8,}`),
	// Google-style API keys
	regexp.MustCompile(`AIza[0-9A-Za-z_-]{30,}`),
	// GitHub tokens
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`),
	// Bearer tokens in headers
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]{8,}=*`),
}

// assignment catches FOO_API_KEY=..., SECRET=..., TOKEN=... style lines,
// keeping the variable name visible.
var assignment = regexp.MustCompile(`(?i)([A-Z0-9_]*(?:API_?KEY|SECRET|TOKEN|PASSWORD)[A-Z0-9_]*\s*[=:]\s*)\S+`)

// String masks credentials in s. Idempotent: String(String(s)) == String(s).
func String(s string) string {
	for _, p := range patterns {
		s = p.ReplaceAllString(s, mask)
	}
	s = assignment.ReplaceAllString(s, "${1}"+mask)
	return s
}

// Bytes masks credentials in raw line data.
func Bytes(b []byte) []byte {
	return []byte(String(string(b)))
}
