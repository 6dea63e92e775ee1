package monitor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/oszuidwest/zwfm-levelmon/internal/audio"
	"github.com/oszuidwest/zwfm-levelmon/internal/types"
)

// Sampler polls one device meter on a dedicated goroutine.
type Sampler struct {
	source   types.Source
	kind     audio.MeterKind
	deviceID string
	trueRMS  bool
	backend  audio.Backend
	events   func(types.LifecycleEvent)

	// lifecycle serializes Start and Stop. The sampling goroutine never takes it.
	lifecycle  sync.Mutex
	meter      audio.Meter
	acquireErr error
	stopChan   chan struct{}
	done       chan struct{}

	running    atomic.Bool
	current    atomic.Pointer[audio.Level]
	session    atomic.Pointer[session]
	peakHolder *audio.PeakHolder

	cbMu      sync.Mutex
	callbacks []registeredCallback // replaced, never mutated in place
	nextID    CallbackID
}

type session struct {
	id      string
	started time.Time
}

type registeredCallback struct {
	id CallbackID
	fn Callback
}

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithLifecycleEvents sets the function that receives lifecycle events.
// It is called from the caller of Start and from the sampling goroutine.
func WithLifecycleEvents(fn func(types.LifecycleEvent)) SamplerOption {
	return func(s *Sampler) {
		s.events = fn
	}
}

// NewMicrophoneSampler creates a sampler on a capture device. It uses the
// meter's true RMS when available. An empty deviceID selects the default input.
func NewMicrophoneSampler(backend audio.Backend, deviceID string, opts ...SamplerOption) *Sampler {
	return newSampler(types.SourceMicrophone, audio.MeterCapture, true, backend, deviceID, opts)
}

// NewSystemSampler creates a sampler on the system output via loopback.
// Levels are derived from the peak reading only.
func NewSystemSampler(backend audio.Backend, deviceID string, opts ...SamplerOption) *Sampler {
	return newSampler(types.SourceSystem, audio.MeterLoopback, false, backend, deviceID, opts)
}

func newSampler(source types.Source, kind audio.MeterKind, trueRMS bool, backend audio.Backend, deviceID string, opts []SamplerOption) *Sampler {
	s := &Sampler{
		source:     source,
		kind:       kind,
		deviceID:   deviceID,
		trueRMS:    trueRMS,
		backend:    backend,
		peakHolder: audio.NewPeakHolder(audio.DefaultPeakHoldDuration),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.acquire(); err != nil {
		s.acquireErr = err
	}
	return s
}

// acquire opens the device meter. Must be called with lifecycle held or before
// the sampler is shared.
func (s *Sampler) acquire() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic during acquisition: %v", audio.ErrDeviceUnavailable, r)
		}
		if err != nil {
			slog.Warn("audio device unavailable", "source", s.source, "device", s.deviceID, "error", err)
			s.emit(types.DeviceUnavailable, "", err)
		}
	}()

	meter, err := s.backend.AcquireMeter(s.kind, s.deviceID)
	if err != nil {
		if !errors.Is(err, audio.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
		}
		return err
	}
	s.meter = meter
	return nil
}

// Source returns the source this sampler observes.
func (s *Sampler) Source() types.Source {
	return s.source
}

// IsRunning reports whether the sampling loop is active.
func (s *Sampler) IsRunning() bool {
	return s.running.Load()
}

// CurrentLevel returns the most recent sample, if any.
func (s *Sampler) CurrentLevel() (audio.Level, bool) {
	l := s.current.Load()
	if l == nil {
		return audio.Level{}, false
	}
	return *l, true
}

// Start launches the sampling loop. Calling it on a running sampler does nothing.
func (s *Sampler) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.running.Load() {
		return nil
	}

	// A previous loop that ended on a device failure has already released its meter.
	if s.done != nil {
		<-s.done
		s.done = nil
		s.stopChan = nil
		s.meter = nil
	}

	if s.acquireErr != nil {
		return s.acquireErr
	}
	if s.meter == nil {
		if err := s.acquire(); err != nil {
			return err
		}
	}

	sess := &session{id: uuid.NewString(), started: time.Now()}
	s.session.Store(sess)
	s.current.Store(nil)
	s.peakHolder.Reset()

	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	s.running.Store(true)

	go s.run(s.meter, s.stopChan, s.done, sess.id)

	slog.Info("audio monitoring started", "source", s.source, "device", s.deviceID, "session", sess.id)
	s.emit(types.MonitorStarted, sess.id, nil)
	return nil
}

// Stop signals the loop and waits for it to exit and release the device.
// It is safe to call on a sampler that never started.
func (s *Sampler) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.done == nil {
		if s.meter != nil {
			if err := s.meter.Release(); err != nil {
				slog.Warn("failed to release audio device", "source", s.source, "error", err)
			}
			s.meter = nil
		}
		return
	}

	close(s.stopChan)
	<-s.done

	s.done = nil
	s.stopChan = nil
	s.meter = nil
}

// run is the sampling loop. It owns meter until it returns.
func (s *Sampler) run(meter audio.Meter, stop <-chan struct{}, done chan<- struct{}, sessionID string) {
	var exitErr error
	defer func() {
		if err := meter.Release(); err != nil {
			slog.Warn("failed to release audio device", "source", s.source, "error", err)
		}
		s.running.Store(false)

		if exitErr != nil {
			slog.Error("audio monitoring failed", "source", s.source, "session", sessionID, "error", exitErr)
			s.emit(types.MonitorFailed, sessionID, exitErr)
		} else {
			slog.Info("audio monitoring stopped", "source", s.source, "session", sessionID)
			s.emit(types.MonitorStopped, sessionID, nil)
		}
		close(done)
	}()

	ticker := time.NewTicker(SampleInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-stop:
			return
		default:
		}

		level, err := s.read(meter)
		switch {
		case err == nil:
			failures = 0
			s.current.Store(&level)
			s.peakHolder.Update(level.Peak, level.Timestamp)
			s.dispatch(level)
		case errors.Is(err, audio.ErrDeviceRemoved), errors.Is(err, audio.ErrMeterReleased):
			exitErr = err
			return
		default:
			failures++
			slog.Warn("audio read failed", "source", s.source, "attempt", failures, "error", err)
			if failures >= MaxConsecutiveReadErrors {
				exitErr = fmt.Errorf("%d consecutive read failures: %w", failures, err)
				return
			}
		}

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// read takes one measurement. A panicking meter is reported as a read error.
func (s *Sampler) read(meter audio.Meter) (level audio.Level, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("meter panic: %v", r)
		}
	}()

	now := time.Now()
	if s.trueRMS {
		if rm, ok := meter.(audio.RMSMeter); ok {
			peak, rms, err := rm.ReadLevel()
			if err != nil {
				return audio.Level{}, err
			}
			return audio.NewLevel(peak, rms, now), nil
		}
	}

	peak, err := meter.ReadPeak()
	if err != nil {
		return audio.Level{}, err
	}
	return audio.LevelFromPeak(peak, now), nil
}

// dispatch invokes every callback registered at the time of the call, in order.
func (s *Sampler) dispatch(level audio.Level) {
	s.cbMu.Lock()
	callbacks := s.callbacks
	s.cbMu.Unlock()

	for _, cb := range callbacks {
		s.invoke(cb, level)
	}
}

func (s *Sampler) invoke(cb registeredCallback, level audio.Level) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("level callback panicked", "source", s.source, "callback", cb.id, "panic", r)
		}
	}()
	cb.fn(level)
}

// AddCallback registers fn and returns its ID. A nil fn is ignored and yields 0.
func (s *Sampler) AddCallback(fn Callback) CallbackID {
	if fn == nil {
		return 0
	}
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	s.nextID++
	next := make([]registeredCallback, len(s.callbacks), len(s.callbacks)+1)
	copy(next, s.callbacks)
	s.callbacks = append(next, registeredCallback{id: s.nextID, fn: fn})
	return s.nextID
}

// RemoveCallback unregisters the callback with the given ID.
func (s *Sampler) RemoveCallback(id CallbackID) bool {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	for i, cb := range s.callbacks {
		if cb.id != id {
			continue
		}
		next := make([]registeredCallback, 0, len(s.callbacks)-1)
		next = append(next, s.callbacks[:i]...)
		s.callbacks = append(next, s.callbacks[i+1:]...)
		return true
	}
	return false
}

// ClearCallbacks unregisters every callback.
func (s *Sampler) ClearCallbacks() {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.callbacks = nil
}

// CallbackCount returns the number of registered callbacks.
func (s *Sampler) CallbackCount() int {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	return len(s.callbacks)
}

// Status returns a snapshot of the sampler state without waiting on the loop.
func (s *Sampler) Status() types.MonitorStatus {
	status := types.MonitorStatus{
		State:     types.StateStopped,
		DeviceID:  s.deviceID,
		Callbacks: s.CallbackCount(),
		HeldPeak:  s.peakHolder.Held(),
	}
	if sess := s.session.Load(); sess != nil {
		status.SessionID = sess.id
		if s.running.Load() {
			status.State = types.StateRunning
			status.Running = true
			status.Uptime = time.Since(sess.started).Truncate(time.Second).String()
		}
	}
	if l, ok := s.CurrentLevel(); ok {
		snap := l.Snapshot()
		status.Level = &snap
	}
	return status
}

func (s *Sampler) emit(t types.LifecycleEventType, sessionID string, err error) {
	if s.events == nil {
		return
	}
	s.events(types.LifecycleEvent{
		Type:      t,
		Source:    s.source,
		SessionID: sessionID,
		DeviceID:  s.deviceID,
		Err:       err,
		Time:      time.Now(),
	})
}
