package util

import "log/slog"

// LogNotifyResult runs a delivery and logs the outcome under channel.
// attrs are extra slog key/value pairs such as the event and source.
func LogNotifyResult(fn func() error, channel string, attrs ...any) {
	attrs = append([]any{"channel", channel}, attrs...)
	if err := fn(); err != nil {
		slog.Error("notification failed", append(attrs, "error", err)...)
		return
	}
	slog.Info("notification sent", attrs...)
}
