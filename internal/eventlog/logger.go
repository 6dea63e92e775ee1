// Package eventlog records monitor lifecycle events in a JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-levelmon/internal/types"
	"github.com/oszuidwest/zwfm-levelmon/internal/util"
)

// EventType represents the type of event.
type EventType string

// Lifecycle event types mirror types.LifecycleEventType.
const (
	MonitorStarted    = EventType(types.MonitorStarted)
	MonitorStopped    = EventType(types.MonitorStopped)
	MonitorFailed     = EventType(types.MonitorFailed)
	DeviceUnavailable = EventType(types.DeviceUnavailable)
)

// Archive event types.
const (
	ArchiveCompleted EventType = "archive_completed"
	ArchiveFailed    EventType = "archive_failed"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	Source    string    `json:"source,omitempty"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// MonitorDetails contains sampler-specific event details.
type MonitorDetails struct {
	SessionID string `json:"session_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ArchiveDetails contains archive upload details.
type ArchiveDetails struct {
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key,omitempty"`
	Bytes  int64  `json:"bytes,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Logger writes events to a JSON lines file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, util.WrapError("create log directory", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, util.WrapError("open log file", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// OnLifecycle implements monitor.Observer.
func (l *Logger) OnLifecycle(ev types.LifecycleEvent) {
	err := l.Log(&Event{
		Timestamp: ev.Time,
		Type:      EventType(ev.Type),
		Source:    string(ev.Source),
		Details: &MonitorDetails{
			SessionID: ev.SessionID,
			DeviceID:  ev.DeviceID,
			Error:     ev.ErrorMessage(),
		},
	})
	if err != nil {
		slog.Error("failed to write event log", "type", ev.Type, "source", ev.Source, "error", err)
	}
}

// LogArchive logs the outcome of an archive upload.
func (l *Logger) LogArchive(details *ArchiveDetails) error {
	eventType := ArchiveCompleted
	if details.Error != "" {
		eventType = ArchiveFailed
	}
	return l.Log(&Event{Type: eventType, Details: details})
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll       TypeFilter = ""
	FilterLifecycle TypeFilter = "lifecycle"
	FilterFailure   TypeFilter = "failure"
)

// IsValidFilter reports whether f is a known filter.
func IsValidFilter(f TypeFilter) bool {
	return f == FilterAll || f == FilterLifecycle || f == FilterFailure
}

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast reads events from the log file with pagination support.
// Events are returned newest first. The bool reports whether older
// matching events remain past the returned page.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}
	offset = max(offset, 0)

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	matched := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !matches(event.Type, filter) {
			continue
		}

		matched++
		if matched <= offset {
			continue
		}
		if len(events) == n {
			return events, true, nil
		}
		events = append(events, event)
	}

	return events, false, nil
}

func matches(t EventType, filter TypeFilter) bool {
	switch filter {
	case FilterLifecycle:
		return IsLifecycleEvent(t)
	case FilterFailure:
		return IsFailureEvent(t)
	default:
		return true
	}
}

// IsLifecycleEvent returns true if the event type is a monitor lifecycle event.
func IsLifecycleEvent(t EventType) bool {
	return t == MonitorStarted || t == MonitorStopped || t == MonitorFailed || t == DeviceUnavailable
}

// IsFailureEvent returns true if the event type reports a failure.
func IsFailureEvent(t EventType) bool {
	return t == MonitorFailed || t == DeviceUnavailable || t == ArchiveFailed
}
