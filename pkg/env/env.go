package env

import (
	"os"
	"strconv"
	"strings"
)

// Prefix namespaces the service's own variables.
const Prefix = "RXD_"

// Get returns RXD_<key> when set, else <key>, else fallback. Used for the few
// knobs read before config.Load (log format and colour).
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(Prefix + key)); val != "" {
		return val
	}
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// Bool is Get parsed with strconv.ParseBool; unparsable values yield fallback.
func Bool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(Get(key, ""))
	if err != nil {
		return fallback
	}
	return b
}
