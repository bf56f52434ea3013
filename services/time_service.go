package services

import "time"

// FormatTimestamp renders t in UTC as RFC3339 with sub-second precision, so
// mirrored items sort lexically in insertion order.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
