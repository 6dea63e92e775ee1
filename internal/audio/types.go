package audio

import (
	"errors"

	"github.com/oszuidwest/zwfm-levelmon/internal/types"
)

// MeterKind selects which side of the audio graph a meter observes.
type MeterKind int

const (
	// MeterCapture reads an input endpoint such as a microphone.
	MeterCapture MeterKind = iota
	// MeterLoopback reads what an output endpoint is playing.
	MeterLoopback
)

// String returns the kind name used in logs.
func (k MeterKind) String() string {
	switch k {
	case MeterCapture:
		return "capture"
	case MeterLoopback:
		return "loopback"
	default:
		return "unknown"
	}
}

// Sentinel errors for device operations.
var (
	// ErrDeviceUnavailable means a device could not be enumerated or acquired.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrDeviceRemoved means an acquired device stopped delivering audio for good.
	ErrDeviceRemoved = errors.New("audio device removed")
	// ErrMeterReleased is returned by reads on a released meter.
	ErrMeterReleased = errors.New("meter released")
)

// Meter is an acquired device handle that reports the level since the previous read.
// A Meter is owned by exactly one sampler and is not safe for concurrent reads.
type Meter interface {
	// ReadPeak returns the peak amplitude in [0,1].
	ReadPeak() (float64, error)
	// Release frees the underlying device. It is safe to call more than once.
	Release() error
}

// RMSMeter is implemented by meters that can also report a true RMS value.
type RMSMeter interface {
	Meter
	// ReadLevel returns the peak and RMS amplitudes in [0,1].
	ReadLevel() (peak, rms float64, err error)
}

// Backend enumerates endpoints and acquires meters on them.
type Backend interface {
	InputDevices() ([]types.DeviceInfo, error)
	OutputDevices() ([]types.DeviceInfo, error)
	// LoopbackDevices lists the endpoints a MeterLoopback can open. These are
	// playback devices with native loopback and monitor sources otherwise.
	LoopbackDevices() ([]types.DeviceInfo, error)
	// AcquireMeter opens deviceID (or the default device when empty) for metering.
	AcquireMeter(kind MeterKind, deviceID string) (Meter, error)
}
