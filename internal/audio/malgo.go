package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/oszuidwest/zwfm-levelmon/internal/types"
	"github.com/oszuidwest/zwfm-levelmon/internal/util"
)

// Capture format used by every meter. Channels are folded into one level.
const (
	meterSampleRate = 48000
	meterChannels   = 2
	meterPeriodMs   = 10
)

// stallTimeout is how long a capture meter may go without data before reads fail.
// Loopback meters are exempt because WASAPI delivers nothing while output is idle.
const stallTimeout = 2000 * time.Millisecond

// errNoData is a transient read failure for a capture device that went quiet.
var errNoData = errors.New("no audio data received")

// platformConfig describes how the current OS exposes capture and loopback.
type platformConfig struct {
	Backends       []malgo.Backend
	NativeLoopback bool
	MonitorHints   []string
}

// MalgoBackend is the miniaudio-backed device API.
type MalgoBackend struct {
	mu       sync.Mutex
	ctx      *malgo.AllocatedContext
	platform platformConfig
}

// NewMalgoBackend initializes a miniaudio context with the platform's preferred backends.
func NewMalgoBackend() (*MalgoBackend, error) {
	platform := getPlatformConfig()
	ctx, err := malgo.InitContext(platform.Backends, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, util.WrapError("initialize audio context", err)
	}
	return &MalgoBackend{ctx: ctx, platform: platform}, nil
}

// Close releases the miniaudio context.
func (b *MalgoBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	return err
}

// InputDevices lists capture endpoints. Monitor sources are flagged as loopback.
func (b *MalgoBackend) InputDevices() ([]types.DeviceInfo, error) {
	return b.devices(malgo.Capture)
}

// OutputDevices lists playback endpoints.
func (b *MalgoBackend) OutputDevices() ([]types.DeviceInfo, error) {
	return b.devices(malgo.Playback)
}

// LoopbackDevices lists the IDs AcquireMeter accepts for MeterLoopback.
func (b *MalgoBackend) LoopbackDevices() ([]types.DeviceInfo, error) {
	if b.platform.NativeLoopback {
		return b.devices(malgo.Playback)
	}
	inputs, err := b.devices(malgo.Capture)
	if err != nil {
		return nil, err
	}
	monitors := inputs[:0]
	for _, d := range inputs {
		if d.Loopback {
			monitors = append(monitors, d)
		}
	}
	return monitors, nil
}

func (b *MalgoBackend) devices(kind malgo.DeviceType) ([]types.DeviceInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil, ErrDeviceUnavailable
	}

	infos, err := b.ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	devices := make([]types.DeviceInfo, 0, len(infos))
	for i := range infos {
		devices = append(devices, b.describe(kind, &infos[i]))
	}
	return devices, nil
}

// describe converts a miniaudio device info, querying native formats when the
// backend supports it.
func (b *MalgoBackend) describe(kind malgo.DeviceType, info *malgo.DeviceInfo) types.DeviceInfo {
	d := types.DeviceInfo{
		ID:        info.ID.String(),
		Name:      info.Name(),
		IsDefault: info.IsDefault != 0,
	}
	if kind == malgo.Capture && !b.platform.NativeLoopback {
		d.Loopback = isMonitorName(d.Name, b.platform.MonitorHints)
	}

	detail, err := b.ctx.DeviceInfo(kind, info.ID, malgo.Shared)
	if err != nil {
		slog.Debug("device details unavailable", "device", d.Name, "error", err)
		return d
	}
	if detail.FormatCount > 0 {
		d.Channels = int(detail.Formats[0].Channels)
		d.SampleRate = int(detail.Formats[0].SampleRate)
	}
	return d
}

// lookup finds a device by ID. An empty ID selects the backend default (nil).
func (b *MalgoBackend) lookup(kind malgo.DeviceType, id string, match func(*malgo.DeviceInfo) bool) (*malgo.DeviceInfo, error) {
	if id == "" && match == nil {
		return nil, nil
	}

	infos, err := b.ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	for i := range infos {
		info := infos[i]
		if id != "" && info.ID.String() == id {
			return &info, nil
		}
		if id == "" && match(&info) {
			return &info, nil
		}
	}
	if id == "" {
		return nil, fmt.Errorf("%w: no loopback source found", ErrDeviceUnavailable)
	}
	return nil, fmt.Errorf("%w: device %q not found", ErrDeviceUnavailable, id)
}

// AcquireMeter opens a device and starts accumulating level data from it.
func (b *MalgoBackend) AcquireMeter(kind MeterKind, deviceID string) (Meter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil, ErrDeviceUnavailable
	}

	var (
		cfg  malgo.DeviceConfig
		info *malgo.DeviceInfo
		err  error
	)

	switch {
	case kind == MeterCapture:
		cfg = malgo.DefaultDeviceConfig(malgo.Capture)
		info, err = b.lookup(malgo.Capture, deviceID, nil)
	case b.platform.NativeLoopback:
		// Loopback takes a playback device ID in the capture slot.
		cfg = malgo.DefaultDeviceConfig(malgo.Loopback)
		info, err = b.lookup(malgo.Playback, deviceID, nil)
	default:
		cfg = malgo.DefaultDeviceConfig(malgo.Capture)
		info, err = b.lookup(malgo.Capture, deviceID, func(i *malgo.DeviceInfo) bool {
			return isMonitorName(i.Name(), b.platform.MonitorHints)
		})
	}
	if err != nil {
		return nil, err
	}

	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = meterChannels
	cfg.SampleRate = meterSampleRate
	cfg.PeriodSizeInMilliseconds = meterPeriodMs
	if info != nil {
		cfg.Capture.DeviceID = info.ID.Pointer()
	}

	m := &malgoMeter{
		kind:     kind,
		info:     info,
		lastData: time.Now(),
	}
	device, err := malgo.InitDevice(b.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: m.onData,
		Stop: m.onStop,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, m.label(), err)
	}
	m.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("%w: start %s: %w", ErrDeviceUnavailable, m.label(), err)
	}

	slog.Info("audio meter acquired", "kind", kind, "device", m.label())
	return m, nil
}

// malgoMeter accumulates PCM delivered by miniaudio between reads.
type malgoMeter struct {
	kind   MeterKind
	info   *malgo.DeviceInfo // keeps the device ID memory alive
	device *malgo.Device

	mu        sync.Mutex
	window    Window
	lastData  time.Time
	removed   bool
	releasing bool
	released  bool
}

func (m *malgoMeter) label() string {
	if m.info == nil {
		return "default " + m.kind.String() + " device"
	}
	return m.info.Name()
}

func (m *malgoMeter) onData(_, input []byte, _ uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ProcessSamples(input, &m.window)
	m.lastData = time.Now()
}

// onStop fires when miniaudio stops the device. Unless we asked for it, the
// device went away underneath us.
func (m *malgoMeter) onStop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.releasing {
		m.removed = true
	}
}

// ReadPeak returns the peak since the previous read.
func (m *malgoMeter) ReadPeak() (float64, error) {
	peak, _, err := m.ReadLevel()
	return peak, err
}

// ReadLevel returns peak and true RMS since the previous read.
func (m *malgoMeter) ReadLevel() (peak, rms float64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.released:
		return 0, 0, ErrMeterReleased
	case m.removed:
		return 0, 0, fmt.Errorf("%w: %s", ErrDeviceRemoved, m.label())
	case m.kind == MeterCapture && time.Since(m.lastData) > stallTimeout:
		return 0, 0, errNoData
	}

	peak, rms = m.window.Linear()
	m.window.Reset()
	return peak, rms, nil
}

// Release stops and frees the device.
func (m *malgoMeter) Release() error {
	m.mu.Lock()
	if m.released || m.releasing {
		m.mu.Unlock()
		return nil
	}
	m.releasing = true
	m.mu.Unlock()

	// Stop blocks until the data callback has returned, so it must run unlocked.
	err := m.device.Stop()
	m.device.Uninit()

	m.mu.Lock()
	m.released = true
	m.mu.Unlock()

	if err != nil {
		return util.WrapError("stop audio device", err)
	}
	return nil
}
