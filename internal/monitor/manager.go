package monitor

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/oszuidwest/zwfm-levelmon/internal/audio"
	"github.com/oszuidwest/zwfm-levelmon/internal/types"
)

// Manager owns at most one sampler per source.
type Manager struct {
	backend   audio.Backend
	sink      Sink
	observers []Observer
	deviceFor func(types.Source) string

	// ops serializes Start and Stop so a source never has two live samplers.
	ops sync.Mutex
	// mu guards monitors and closed. It is never held while a sampler stops.
	mu       sync.RWMutex
	monitors map[types.Source]Monitor
	closed   bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithSink forwards every produced level to sink. The sink must outlive the manager.
func WithSink(sink Sink) Option {
	return func(m *Manager) {
		m.sink = sink
	}
}

// WithObserver adds a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observers = append(m.observers, o)
		}
	}
}

// WithDeviceSelector sets the function that picks the device ID for a source
// whenever a new sampler is created. The default selects the OS default device.
func WithDeviceSelector(fn func(types.Source) string) Option {
	return func(m *Manager) {
		m.deviceFor = fn
	}
}

// NewManager creates a manager that acquires devices through backend.
func NewManager(backend audio.Backend, opts ...Option) *Manager {
	m := &Manager{
		backend:   backend,
		deviceFor: func(types.Source) string { return "" },
		monitors:  make(map[types.Source]Monitor),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) newSampler(source types.Source, deviceID string, opts ...SamplerOption) Monitor {
	if source == types.SourceSystem {
		return NewSystemSampler(m.backend, deviceID, opts...)
	}
	return NewMicrophoneSampler(m.backend, deviceID, opts...)
}

// Start ensures a sampler for source is running and registers cb on it.
// A nil cb starts the source without an extra observer. Starting a running
// source only adds cb.
func (m *Manager) Start(source types.Source, cb Callback) error {
	if !source.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}

	m.ops.Lock()
	defer m.ops.Unlock()

	m.mu.RLock()
	closed := m.closed
	mon, exists := m.monitors[source]
	m.mu.RUnlock()

	if closed {
		return ErrClosed
	}

	if exists && mon.IsRunning() {
		mon.AddCallback(cb)
		return nil
	}

	// The previous sampler ended on a device failure. Replace it.
	if exists {
		m.discard(source, mon)
	}

	mon = m.newSampler(source, m.deviceFor(source), WithLifecycleEvents(m.publish))
	if m.sink != nil {
		mon.AddCallback(m.forwarder(source))
	}
	mon.AddCallback(cb)

	if err := mon.Start(); err != nil {
		mon.Stop()
		return err
	}

	m.mu.Lock()
	m.monitors[source] = mon
	m.mu.Unlock()
	return nil
}

// StartAll starts both sources with their own callbacks. One source failing
// does not prevent the other from starting. The map holds each outcome.
func (m *Manager) StartAll(micCb, sysCb Callback) map[types.Source]error {
	return map[types.Source]error{
		types.SourceMicrophone: m.Start(types.SourceMicrophone, micCb),
		types.SourceSystem:     m.Start(types.SourceSystem, sysCb),
	}
}

// Stop stops and discards the sampler for source. The next Start creates a
// new sampler and re-acquires the device.
func (m *Manager) Stop(source types.Source) error {
	if !source.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}

	m.ops.Lock()
	defer m.ops.Unlock()

	m.mu.RLock()
	mon, exists := m.monitors[source]
	m.mu.RUnlock()

	if exists {
		m.discard(source, mon)
	}
	return nil
}

// StopAll stops every sampler and leaves the registry empty.
func (m *Manager) StopAll() {
	m.ops.Lock()
	defer m.ops.Unlock()
	m.stopAllLocked()
}

func (m *Manager) stopAllLocked() {
	m.mu.RLock()
	monitors := make(map[types.Source]Monitor, len(m.monitors))
	for src, mon := range m.monitors {
		monitors[src] = mon
	}
	m.mu.RUnlock()

	for src, mon := range monitors {
		m.discard(src, mon)
	}
}

// discard removes mon from the registry and stops it. Callers hold ops.
func (m *Manager) discard(source types.Source, mon Monitor) {
	m.mu.Lock()
	if m.monitors[source] == mon {
		delete(m.monitors, source)
	}
	m.mu.Unlock()

	mon.Stop()
	mon.ClearCallbacks()
}

// Close stops every sampler and rejects further starts.
func (m *Manager) Close() {
	m.ops.Lock()
	defer m.ops.Unlock()

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.stopAllLocked()
}

// Status reports every registered source, or only source when it is non-nil.
// A requested source without a sampler is reported as stopped.
func (m *Manager) Status(source *types.Source) map[types.Source]types.MonitorStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[types.Source]types.MonitorStatus, len(m.monitors))
	if source != nil {
		if mon, ok := m.monitors[*source]; ok {
			result[*source] = mon.Status()
		} else {
			result[*source] = types.MonitorStatus{State: types.StateStopped}
		}
		return result
	}

	for src, mon := range m.monitors {
		result[src] = mon.Status()
	}
	return result
}

// IsRunning reports whether source has a running sampler.
func (m *Manager) IsRunning(source types.Source) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mon, ok := m.monitors[source]
	return ok && mon.IsRunning()
}

// Level returns the most recent level for source.
func (m *Manager) Level(source types.Source) (audio.Level, bool) {
	m.mu.RLock()
	mon, ok := m.monitors[source]
	m.mu.RUnlock()
	if !ok {
		return audio.Level{}, false
	}
	return mon.CurrentLevel()
}

// ListDevices enumerates input and output endpoints. It does not need a running sampler.
func (m *Manager) ListDevices() (types.DeviceList, error) {
	return audio.ListDevices(m.backend)
}

func (m *Manager) forwarder(source types.Source) Callback {
	return func(level audio.Level) {
		if err := m.sink.Deliver(level, source); err != nil {
			slog.Debug("level delivery failed", "source", source, "error", err)
		}
	}
}

// publish fans a lifecycle event out to observers. It runs on sampler
// goroutines and must not take the manager locks.
func (m *Manager) publish(ev types.LifecycleEvent) {
	for _, o := range m.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("lifecycle observer panicked", "event", ev.Type, "panic", r)
				}
			}()
			o.OnLifecycle(ev)
		}()
	}
}
