package util

import (
	"io"
	"log/slog"
)

// SafeCloseFunc returns a deferred-close helper that logs close failures
// instead of discarding them.
func SafeCloseFunc(c io.Closer, name string) func() {
	return func() {
		if err := c.Close(); err != nil {
			slog.Warn("close failed", "resource", name, "error", err)
		}
	}
}
