package models

import "time"

const (
	// DefaultSyncInterval is the period of the background sync tick.
	DefaultSyncInterval = 120 * time.Second

	// DefaultProbeInterval is how often the connectivity probe checks the remote.
	DefaultProbeInterval = 15 * time.Second

	// DefaultProbeTimeout bounds a single connectivity probe.
	DefaultProbeTimeout = 5 * time.Second

	// DefaultRemoteTimeout is the transport timeout for API calls.
	DefaultRemoteTimeout = 10 * time.Second

	// TimestampLayout is fixed-width so lexical order of stored timestamps equals time order.
	TimestampLayout = "2006-01-02T15:04:05.000000000Z"
)

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}
