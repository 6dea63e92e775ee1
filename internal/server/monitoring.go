package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oszuidwest/zwfm-levelmon/internal/monitor"
	"github.com/oszuidwest/zwfm-levelmon/internal/types"
)

// sourceLabel returns the display name used in monitoring messages.
func sourceLabel(src types.Source) string {
	if src == types.SourceSystem {
		return "System audio"
	}
	return "Microphone"
}

// StartMonitoring starts the sources selected by selector ("microphone",
// "system" or "both"). Levels reach clients through the manager's sink, so no
// callback is registered here.
func StartMonitoring(m *monitor.Manager, selector string) types.MonitoringResponse {
	switch selector {
	case string(types.SourceMicrophone), string(types.SourceSystem):
		src := types.Source(selector)
		if err := m.Start(src, nil); err != nil {
			return types.MonitoringResponse{Message: err.Error()}
		}
		return types.MonitoringResponse{Success: true, Message: sourceLabel(src) + " monitoring started"}

	case types.ScopeBoth:
		results := m.StartAll(nil, nil)
		var failed []string
		var errs []error
		for _, src := range types.Sources {
			if err := results[src]; err != nil {
				failed = append(failed, strings.ToLower(sourceLabel(src)))
				errs = append(errs, err)
			}
		}
		switch len(failed) {
		case 0:
			return types.MonitoringResponse{Success: true, Message: "Both microphone and system monitoring started"}
		case len(types.Sources):
			return types.MonitoringResponse{Message: errors.Join(errs...).Error()}
		default:
			// One source is live, so the request succeeded. The message names the other.
			return types.MonitoringResponse{
				Success: true,
				Message: fmt.Sprintf("Monitoring partially started, %s failed: %v", failed[0], errs[0]),
			}
		}

	default:
		return types.MonitoringResponse{Message: "Invalid monitor_type: " + selector}
	}
}

// StopMonitoring stops the sources selected by selector ("microphone",
// "system" or "all").
func StopMonitoring(m *monitor.Manager, selector string) types.MonitoringResponse {
	switch selector {
	case string(types.SourceMicrophone), string(types.SourceSystem):
		src := types.Source(selector)
		if err := m.Stop(src); err != nil {
			return types.MonitoringResponse{Message: err.Error()}
		}
		return types.MonitoringResponse{Success: true, Message: sourceLabel(src) + " monitoring stopped"}

	case types.ScopeAll:
		m.StopAll()
		return types.MonitoringResponse{Success: true, Message: "All audio monitoring stopped"}

	default:
		return types.MonitoringResponse{Message: "Invalid monitor_type: " + selector}
	}
}
