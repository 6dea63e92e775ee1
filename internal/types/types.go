// Package types provides shared type definitions used across the level monitor.
package types

import (
	"time"
)

// Source identifies a logical audio endpoint category.
type Source string

const (
	// SourceMicrophone is the microphone (input) endpoint.
	SourceMicrophone Source = "microphone"
	// SourceSystem is the system output endpoint, sampled via loopback.
	SourceSystem Source = "system"
)

// Sources lists every monitorable source in a stable order.
var Sources = []Source{SourceMicrophone, SourceSystem}

// IsValid reports whether s names a known source.
func (s Source) IsValid() bool {
	return s == SourceMicrophone || s == SourceSystem
}

// Scope selectors accepted by the command surface in addition to a single source.
const (
	// ScopeBoth starts every source.
	ScopeBoth = "both"
	// ScopeAll stops every source.
	ScopeAll = "all"
)

// MonitorState represents the lifecycle state of a sampler.
type MonitorState string

const (
	// StateStopped indicates no sampling loop is active.
	StateStopped MonitorState = "stopped"
	// StateRunning indicates the sampling loop is active.
	StateRunning MonitorState = "running"
)

const (
	// StatusInterval is how often full status is pushed to WebSocket clients.
	StatusInterval = 3000 * time.Millisecond
	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout = 30000 * time.Millisecond
)

// LevelSnapshot is the JSON form of a single level measurement.
type LevelSnapshot struct {
	Timestamp string  `json:"timestamp"` // RFC3339Nano sample time
	RMS       float64 `json:"rms"`       // Linear RMS estimate in [0,1]
	DB        float64 `json:"db"`        // RMS in dBFS, floored for the wire
	Peak      float64 `json:"peak"`      // Linear peak in [0,1]
}

// WSLevelMessage is pushed to clients for every delivered sample.
type WSLevelMessage struct {
	Type   string `json:"type"`   // "level"
	Source Source `json:"source"` // Source that produced the sample
	LevelSnapshot
}

// MonitorStatus reports the runtime state of one source.
type MonitorStatus struct {
	State     MonitorState   `json:"state"`                // Current sampler state
	Running   bool           `json:"running"`              // Convenience flag mirroring State
	SessionID string         `json:"session_id,omitempty"` // Identifier of the live sampler instance
	DeviceID  string         `json:"device_id,omitempty"`  // Device the sampler is bound to
	Uptime    string         `json:"uptime,omitzero"`      // Time since start
	Callbacks int            `json:"callbacks"`            // Registered observer count
	HeldPeak  float64        `json:"held_peak"`            // Peak-hold value in [0,1]
	Level     *LevelSnapshot `json:"level,omitempty"`      // Most recent sample, absent before the first
}

// DeviceInfo describes an audio endpoint reported by the device backend.
type DeviceInfo struct {
	ID         string `json:"id"`                   // Backend-specific device identifier
	Name       string `json:"name"`                 // Device display name
	Channels   int    `json:"channels,omitzero"`    // Native channel count when known
	SampleRate int    `json:"sample_rate,omitzero"` // Native sample rate in Hz when known
	IsDefault  bool   `json:"is_default,omitempty"` // Whether the OS marks it as default
	Loopback   bool   `json:"loopback,omitempty"`   // Capture endpoint that mirrors an output
}

// DeviceList is the point-in-time enumeration of input and output endpoints.
type DeviceList struct {
	Input  []DeviceInfo `json:"input_devices"`  // Capture endpoints
	Output []DeviceInfo `json:"output_devices"` // Playback endpoints
	System []DeviceInfo `json:"system_devices"` // Endpoints valid for system_device
}

// LifecycleEventType identifies a monitor lifecycle transition.
type LifecycleEventType string

// Lifecycle event types.
const (
	MonitorStarted    LifecycleEventType = "monitor_started"
	MonitorStopped    LifecycleEventType = "monitor_stopped"
	MonitorFailed     LifecycleEventType = "monitor_failed"
	DeviceUnavailable LifecycleEventType = "device_unavailable"
)

// LifecycleEvent describes a sampler state change for observers.
type LifecycleEvent struct {
	Type      LifecycleEventType
	Source    Source
	SessionID string
	DeviceID  string
	Err       error
	Time      time.Time
}

// ErrorMessage returns the error text or an empty string.
func (e *LifecycleEvent) ErrorMessage() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// WSStatusResponse is sent to clients with the state of every source.
type WSStatusResponse struct {
	Type     string                   `json:"type"`     // "status"
	Monitors map[Source]MonitorStatus `json:"monitors"` // Per-source status
	Settings WSSettings               `json:"settings"` // Current settings
	Version  VersionInfo              `json:"version"`  // Version information
}

// WSSettings contains the settings sub-object in status responses.
type WSSettings struct {
	MicrophoneDevice string `json:"microphone_device"` // Selected capture device
	SystemDevice     string `json:"system_device"`     // Selected loopback/output device
	Platform         string `json:"platform"`          // Operating system platform
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
