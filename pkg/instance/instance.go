package instance

import (
	"os"

	"github.com/rxdispatch/rxdispatch-backend/pkg/env"
)

const fallbackID = "rxd-local"

// ID names this process in logs and cron lock owners: RXD_INSTANCE_ID, then
// the hostname.
func ID() string {
	if id := env.Get("INSTANCE_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
