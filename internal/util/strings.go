// Package util provides small helpers shared across the token cache
// packages, chiefly safe truncation of secrets for logging.
package util

// SafeTruncate truncates s to maxLen bytes without panicking. Token and
// assertion values must never be logged whole; callers log a short prefix
// produced by this function instead.
//
// A negative maxLen is treated as 0 and returns an empty string.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
