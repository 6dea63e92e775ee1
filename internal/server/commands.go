package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/oszuidwest/zwfm-levelmon/internal/config"
	"github.com/oszuidwest/zwfm-levelmon/internal/eventlog"
	"github.com/oszuidwest/zwfm-levelmon/internal/monitor"
	"github.com/oszuidwest/zwfm-levelmon/internal/notify"
)

// DefaultEventPage is the events/view page size when no limit is given.
const DefaultEventPage = 50

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg      *config.Config
	manager  *monitor.Manager
	archiver *eventlog.Archiver
	webhook  *notify.WebhookNotifier
	zabbix   *notify.ZabbixNotifier
	email    *notify.GraphMailNotifier
}

// NewCommandHandler creates a new command handler. archiver and the notifiers may be nil.
func NewCommandHandler(cfg *config.Config, manager *monitor.Manager, archiver *eventlog.Archiver, webhook *notify.WebhookNotifier, zabbix *notify.ZabbixNotifier, email *notify.GraphMailNotifier) *CommandHandler {
	return &CommandHandler{
		cfg:      cfg,
		manager:  manager,
		archiver: archiver,
		webhook:  webhook,
		zabbix:   zabbix,
		email:    email,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "monitoring/start", "audio/update")
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "monitoring":
		h.handleMonitoring(action, cmd, send)
	case "devices":
		h.handleDevices(action, cmd, send)
	case "events":
		h.handleEvents(action, cmd, send)
	case "audio":
		h.handleAudio(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send)
	case "config":
		h.handleConfig(action, send)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

// --- Namespace handlers ---

// handleMonitoring routes monitoring/* commands
func (h *CommandHandler) handleMonitoring(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "start":
		var req MonitoringStartRequest
		if DecodeAndValidate(cmd, send, &req) {
			SendMonitoringResult(send, cmd.Type, StartMonitoring(h.manager, req.Source))
		}
	case "stop":
		var req MonitoringStopRequest
		if DecodeAndValidate(cmd, send, &req) {
			SendMonitoringResult(send, cmd.Type, StopMonitoring(h.manager, req.Source))
		}
	case "status":
		SendSuccess(send, cmd.Type, h.manager.Status(nil))
	default:
		slog.Warn("unknown monitoring action", "action", action)
	}
}

// handleDevices routes devices/* commands
func (h *CommandHandler) handleDevices(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "list":
		HandleActionAsync(cmd, send, func() (any, error) {
			return h.manager.ListDevices()
		})
	default:
		slog.Warn("unknown devices action", "action", action)
	}
}

// handleEvents routes events/* commands
func (h *CommandHandler) handleEvents(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "view":
		h.handleEventsView(cmd, send)
	case "archive":
		h.handleEventsArchive(cmd, send)
	default:
		slog.Warn("unknown events action", "action", action)
	}
}

// handleAudio routes audio/* commands
func (h *CommandHandler) handleAudio(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleAudioUpdate(cmd, send)
	case "autostart":
		h.handleAutostartUpdate(cmd, send)
	default:
		slog.Warn("unknown audio action", "action", action)
	}
}

// handleNotifications routes notifications/*/* commands
func (h *CommandHandler) handleNotifications(action, subaction string, cmd WSCommand, send chan<- any) {
	switch action {
	case "webhook":
		switch subaction {
		case "update":
			h.handleWebhookUpdate(cmd, send)
		case "test":
			h.handleWebhookTest(cmd, send)
		default:
			slog.Warn("unknown webhook action", "subaction", subaction)
		}
	case "zabbix":
		switch subaction {
		case "update":
			h.handleZabbixUpdate(cmd, send)
		case "test":
			h.handleZabbixTest(cmd, send)
		default:
			slog.Warn("unknown zabbix action", "subaction", subaction)
		}
	case "email":
		switch subaction {
		case "update":
			h.handleEmailUpdate(cmd, send)
		case "test":
			h.handleEmailTest(cmd, send)
		default:
			slog.Warn("unknown email action", "subaction", subaction)
		}
	default:
		slog.Warn("unknown notifications action", "action", action)
	}
}

// handleConfig routes config/* commands
func (h *CommandHandler) handleConfig(action string, send chan<- any) {
	switch action {
	case "get":
		h.handleConfigGet(send)
	default:
		slog.Warn("unknown config action", "action", action)
	}
}

// --- Event log handlers ---

// handleEventsView reads a page of the event log.
func (h *CommandHandler) handleEventsView(cmd WSCommand, send chan<- any) {
	var req EventsViewRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}
	limit := req.Limit
	if limit == 0 {
		limit = DefaultEventPage
	}
	path := h.cfg.Snapshot().EventLogPath

	HandleActionAsync(cmd, send, func() (any, error) {
		events, hasMore, err := eventlog.ReadLast(path, limit, req.Offset, eventlog.TypeFilter(req.Filter))
		if err != nil {
			return nil, err
		}
		return map[string]any{"events": events, "has_more": hasMore}, nil
	})
}

// handleEventsArchive uploads the event log to archive storage.
func (h *CommandHandler) handleEventsArchive(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func() (any, error) {
		if h.archiver == nil {
			return nil, eventlog.ErrArchiveNotConfigured
		}
		key, err := h.archiver.Archive(context.Background())
		if err != nil {
			return nil, err
		}
		return map[string]string{"key": key}, nil
	})
}
