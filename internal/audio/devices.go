package audio

import (
	"errors"
	"strings"

	"github.com/oszuidwest/zwfm-levelmon/internal/types"
	"github.com/oszuidwest/zwfm-levelmon/internal/util"
)

// ListDevices returns a point-in-time enumeration of input, output and
// loopback endpoints. A failure on one side still returns the others.
func ListDevices(b Backend) (types.DeviceList, error) {
	var errs []error

	inputs, err := b.InputDevices()
	if err != nil {
		errs = append(errs, util.WrapError("list input devices", err))
	}
	outputs, err := b.OutputDevices()
	if err != nil {
		errs = append(errs, util.WrapError("list output devices", err))
	}

	system, err := b.LoopbackDevices()
	if err != nil {
		errs = append(errs, util.WrapError("list loopback devices", err))
	}

	list := types.DeviceList{Input: inputs, Output: outputs, System: system}
	for _, l := range []*[]types.DeviceInfo{&list.Input, &list.Output, &list.System} {
		if *l == nil {
			*l = []types.DeviceInfo{}
		}
	}
	return list, errors.Join(errs...)
}

// FindDevice returns the device with the given ID.
func FindDevice(devices []types.DeviceInfo, id string) (types.DeviceInfo, bool) {
	for _, d := range devices {
		if d.ID == id {
			return d, true
		}
	}
	return types.DeviceInfo{}, false
}

// isMonitorName reports whether a capture endpoint name marks it as a mirror
// of an output endpoint on platforms without native loopback.
func isMonitorName(name string, hints []string) bool {
	lower := strings.ToLower(name)
	for _, h := range hints {
		if strings.Contains(lower, strings.ToLower(h)) {
			return true
		}
	}
	return false
}
