package server

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/oszuidwest/zwfm-levelmon/internal/audio"
	"github.com/oszuidwest/zwfm-levelmon/internal/notify"
	"github.com/oszuidwest/zwfm-levelmon/internal/types"
)

// --- Audio handlers ---

// handleAudioUpdate processes an audio/update command.
func (h *CommandHandler) handleAudioUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *AudioUpdateRequest) error {
		snap := h.cfg.Snapshot()
		mic, sys := snap.MicrophoneDevice, snap.SystemDevice
		if req.MicrophoneDevice != nil {
			mic = *req.MicrophoneDevice
		}
		if req.SystemDevice != nil {
			sys = *req.SystemDevice
		}
		if mic == snap.MicrophoneDevice && sys == snap.SystemDevice {
			return nil // No change requested
		}
		if err := h.checkDevices(mic, sys); err != nil {
			return err
		}

		slog.Info("audio/update: changing audio devices", "microphone", mic, "system", sys)
		if err := h.cfg.SetAudioDevices(mic, sys); err != nil {
			return err
		}

		// Restart running sources so they pick up the new device
		var changed []types.Source
		if mic != snap.MicrophoneDevice {
			changed = append(changed, types.SourceMicrophone)
		}
		if sys != snap.SystemDevice {
			changed = append(changed, types.SourceSystem)
		}
		go h.restartSources(changed)

		return nil
	})
}

// checkDevices verifies that non-empty device IDs are currently present.
func (h *CommandHandler) checkDevices(mic, sys string) error {
	if mic == "" && sys == "" {
		return nil
	}
	list, err := h.manager.ListDevices()
	if mic != "" {
		if _, ok := audio.FindDevice(list.Input, mic); !ok {
			return fmt.Errorf("unknown microphone device %q: %w", mic, errors.Join(audio.ErrDeviceUnavailable, err))
		}
	}
	if sys != "" {
		if _, ok := audio.FindDevice(list.System, sys); !ok {
			return fmt.Errorf("unknown system device %q: %w", sys, errors.Join(audio.ErrDeviceUnavailable, err))
		}
	}
	return nil
}

// restartSources stops and starts every running source in sources.
func (h *CommandHandler) restartSources(sources []types.Source) {
	for _, src := range sources {
		if !h.manager.IsRunning(src) {
			continue
		}
		if err := h.manager.Stop(src); err != nil {
			slog.Error("audio/update: stop failed", "source", src, "error", err)
			continue
		}
		if err := h.manager.Start(src, nil); err != nil {
			slog.Error("audio/update: restart failed", "source", src, "error", err)
		}
	}
}

// handleAutostartUpdate processes an audio/autostart command.
func (h *CommandHandler) handleAutostartUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *AutostartUpdateRequest) error {
		sources := make([]types.Source, 0, len(req.Sources))
		for _, s := range req.Sources {
			sources = append(sources, types.Source(s))
		}
		return h.cfg.SetAutostart(sources)
	})
}

// --- Notification handlers ---

// handleWebhookUpdate processes a notifications/webhook/update command.
func (h *CommandHandler) handleWebhookUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *WebhookUpdateRequest) error {
		return h.cfg.SetWebhookURL(req.URL)
	})
}

// handleWebhookTest processes a notifications/webhook/test command.
func (h *CommandHandler) handleWebhookTest(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func() (any, error) {
		if h.webhook == nil {
			return nil, notify.ErrWebhookNotConfigured
		}
		return nil, h.webhook.SendTest()
	})
}

// handleZabbixUpdate processes a notifications/zabbix/update command.
// Omitted fields keep their current value.
func (h *CommandHandler) handleZabbixUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *ZabbixUpdateRequest) error {
		snap := h.cfg.Snapshot()
		server, port, host, key := snap.ZabbixServer, snap.ZabbixPort, snap.ZabbixHost, snap.ZabbixKey
		if req.Server != nil {
			server = *req.Server
		}
		if req.Port != nil {
			port = *req.Port
		}
		if req.Host != nil {
			host = *req.Host
		}
		if req.Key != nil {
			key = *req.Key
		}
		return h.cfg.SetZabbixConfig(server, port, host, key)
	})
}

// handleZabbixTest processes a notifications/zabbix/test command.
func (h *CommandHandler) handleZabbixTest(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func() (any, error) {
		if h.zabbix == nil {
			return nil, notify.ErrZabbixNotConfigured
		}
		return nil, h.zabbix.SendTest()
	})
}

// handleEmailUpdate processes a notifications/email/update command.
// Omitted fields keep their current value.
func (h *CommandHandler) handleEmailUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *EmailUpdateRequest) error {
		snap := h.cfg.Snapshot()
		fields := []struct {
			dst *string
			src *string
		}{
			{&snap.GraphTenantID, req.TenantID},
			{&snap.GraphClientID, req.ClientID},
			{&snap.GraphClientSecret, req.ClientSecret},
			{&snap.GraphFromAddress, req.FromAddress},
			{&snap.GraphRecipients, req.Recipients},
		}
		for _, f := range fields {
			if f.src != nil {
				*f.dst = *f.src
			}
		}
		return h.cfg.SetGraphConfig(snap.GraphTenantID, snap.GraphClientID, snap.GraphClientSecret,
			snap.GraphFromAddress, snap.GraphRecipients)
	})
}

// handleEmailTest processes a notifications/email/test command.
func (h *CommandHandler) handleEmailTest(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func() (any, error) {
		if h.email == nil {
			return nil, notify.ErrEmailNotConfigured
		}
		return nil, h.email.SendTest()
	})
}

// --- Config handlers ---

// handleConfigGet sends the current configuration with secrets masked.
func (h *CommandHandler) handleConfigGet(send chan<- any) {
	snap := h.cfg.Snapshot()
	trySend(send, "config/get", types.WSConfigResponse{
		Type:   "config",
		Config: snap.Public(),
	})
}
