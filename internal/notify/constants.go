package notify

import "time"

// AppName is the application name used in notifications.
const AppName = "ZuidWest FM Level Monitor"

// Webhook delivery retry settings.
const (
	maxRetries       = 3
	initialRetryWait = 1000 * time.Millisecond
	maxRetryWait     = 8000 * time.Millisecond
	requestTimeout   = 10000 * time.Millisecond
)

// timestampUTC returns the current UTC time in RFC3339 format.
func timestampUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
