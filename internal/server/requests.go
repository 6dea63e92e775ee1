package server

// Request types for WebSocket commands with validation tags.
// These types define the expected input for each command and use
// go-playground/validator struct tags for automatic validation.

// --- Monitoring ---

// MonitoringStartRequest is the request body for monitoring/start.
type MonitoringStartRequest struct {
	Source string `json:"source" validate:"required,oneof=microphone system both"`
}

// MonitoringStopRequest is the request body for monitoring/stop.
type MonitoringStopRequest struct {
	Source string `json:"source" validate:"required,oneof=microphone system all"`
}

// --- Audio settings ---

// AudioUpdateRequest is the request body for audio/update.
// A nil field leaves that device unchanged. An empty string selects the OS default.
type AudioUpdateRequest struct {
	MicrophoneDevice *string `json:"microphone_device" validate:"omitempty,max=512"`
	SystemDevice     *string `json:"system_device" validate:"omitempty,max=512"`
}

// AutostartUpdateRequest is the request body for audio/autostart.
type AutostartUpdateRequest struct {
	Sources []string `json:"sources" validate:"max=2,dive,oneof=microphone system"`
}

// --- Event log ---

// EventsViewRequest is the request body for events/view.
type EventsViewRequest struct {
	Filter string `json:"filter" validate:"omitempty,oneof=lifecycle failure"`
	Limit  int    `json:"limit" validate:"omitempty,gte=1,lte=500"`
	Offset int    `json:"offset" validate:"gte=0"`
}

// --- Notification settings ---

// ZabbixUpdateRequest is the request body for notifications/zabbix/update.
type ZabbixUpdateRequest struct {
	Server *string `json:"server" validate:"omitempty,max=253"`
	Port   *int    `json:"port" validate:"omitempty,min=1,max=65535"`
	Host   *string `json:"host" validate:"omitempty,max=128"`
	Key    *string `json:"key" validate:"omitempty,max=255"`
}

// EmailUpdateRequest is the request body for notifications/email/update.
// Omitted fields keep their value, so a masked secret need not be resent.
type EmailUpdateRequest struct {
	TenantID     *string `json:"tenant_id" validate:"omitempty,max=100"`
	ClientID     *string `json:"client_id" validate:"omitempty,max=100"`
	ClientSecret *string `json:"client_secret" validate:"omitempty,max=500"`
	FromAddress  *string `json:"from_address" validate:"omitempty,max=254"`
	Recipients   *string `json:"recipients" validate:"omitempty,max=1000"`
}

// WebhookUpdateRequest is the request body for notifications/webhook/update.
type WebhookUpdateRequest struct {
	URL string `json:"url" validate:"omitempty,max=2048,http_url"`
}
