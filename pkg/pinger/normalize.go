package pinger

import "strings"

// Normalize turns raw user input into a well-formed absolute URL: trims
// whitespace, prepends https:// when no scheme is present and appends a
// trailing slash. Idempotent, no other rewriting.
func Normalize(raw string) string {
	normalized := strings.TrimSpace(raw)

	if !strings.HasPrefix(normalized, "http://") && !strings.HasPrefix(normalized, "https://") {
		normalized = "https://" + normalized
	}

	if !strings.HasSuffix(normalized, "/") {
		normalized += "/"
	}

	return normalized
}
