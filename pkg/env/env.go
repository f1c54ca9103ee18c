package env

import (
	"os"
	"strings"
)

// First returns the first non-blank variable among keys, or fallback. The
// LIBRARY_ prefixed name goes first so it wins over a generic one.
func First(fallback string, keys ...string) string {
	for _, key := range keys {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val
		}
	}
	return fallback
}
