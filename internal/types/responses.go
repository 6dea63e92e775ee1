package types

// MonitoringResponse is the result of a start or stop request.
type MonitoringResponse struct {
	Success bool   `json:"success"` // Whether every requested source reached the requested state
	Message string `json:"message"` // Human-readable outcome
}

// WSConfigResponse is sent in response to config/get.
type WSConfigResponse struct {
	Type   string `json:"type"` // "config"
	Config any    `json:"config"`
}

// WSCommandResult is the standard response for command execution.
type WSCommandResult struct {
	Type    string           `json:"type"`              // "<command>_result"
	Success bool             `json:"success"`           // true if command succeeded
	Message string           `json:"message,omitempty"` // Outcome message for monitoring commands
	Error   *ValidationError `json:"error,omitempty"`   // Validation errors if failed
	Data    any              `json:"data,omitempty"`    // Optional response data
}
