// Package util holds small environment parsing helpers for the entrypoint.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// BoolEnv reads a boolean from the environment. Accepted spellings are
// true/1/yes/on and false/0/no/off, case-insensitive; unset or unrecognized
// values yield the fallback.
func BoolEnv(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch raw {
	case "":
		return fallback
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("unrecognized boolean in environment, keeping fallback", "key", key, "value", raw, "fallback", fallback)
	return fallback
}
