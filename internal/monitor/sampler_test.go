package monitor

import (
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-levelmon/internal/audio"
	"github.com/oszuidwest/zwfm-levelmon/internal/types"
)

func TestSamplerStartTwiceRunsOneLoop(t *testing.T) {
	meter := &fakeMeter{peaks: []float64{0.5}}
	backend := newFakeBackend(func(audio.MeterKind) audio.Meter { return meter })
	s := NewSystemSampler(backend, "")

	if err := s.Start(); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}
	time.Sleep(260 * time.Millisecond)
	s.Stop()

	if backend.acquiredCount() != 1 {
		t.Errorf("expected 1 acquired meter, got %d", backend.acquiredCount())
	}
	// One loop reads about 6 times in 260ms. Two loops would read about twice as often.
	if reads := meter.reads.Load(); reads > 8 {
		t.Errorf("expected a single sampling loop, got %d reads", reads)
	}
}

func TestSamplerStopNeverStarted(t *testing.T) {
	meter := &fakeMeter{}
	s := NewMicrophoneSampler(newFakeBackend(func(audio.MeterKind) audio.Meter { return meter }), "")

	s.Stop()
	s.Stop()

	if s.IsRunning() {
		t.Error("expected not running")
	}
	if !meter.released.Load() {
		t.Error("expected device handle released")
	}
}

func TestSamplerNoDeliveryAfterStop(t *testing.T) {
	s := NewSystemSampler(newFakeBackend(nil), "")

	var stopped, late atomic.Bool
	var delivered atomic.Int32
	s.AddCallback(func(audio.Level) {
		if stopped.Load() {
			late.Store(true)
		}
		delivered.Add(1)
	})

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()
	stopped.Store(true)
	after := delivered.Load()

	time.Sleep(3 * SampleInterval)

	if late.Load() {
		t.Error("callback invoked after Stop returned")
	}
	if delivered.Load() != after {
		t.Errorf("expected %d deliveries, got %d", after, delivered.Load())
	}
	if s.IsRunning() {
		t.Error("expected not running after stop")
	}
}

func TestSamplerPeakScenario(t *testing.T) {
	meter := &fakeMeter{peaks: []float64{0.0, 0.5, 1.0}}
	s := NewSystemSampler(newFakeBackend(func(audio.MeterKind) audio.Meter { return meter }), "")

	var c levelCollector
	s.AddCallback(c.callback)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, func() bool { return c.count() >= 3 })
	s.Stop()

	levels := c.snapshot()
	want := []struct{ rms, db float64 }{
		{0.0, math.Inf(-1)},
		{0.35, -9.1},
		{0.7, -3.1},
	}
	for i, w := range want {
		l := levels[i]
		if math.Abs(l.RMS-w.rms) > 1e-12 {
			t.Errorf("sample %d: expected rms %v, got %v", i, w.rms, l.RMS)
		}
		if math.IsInf(w.db, -1) {
			if !math.IsInf(l.DB, -1) {
				t.Errorf("sample %d: expected -Inf dB, got %v", i, l.DB)
			}
		} else if math.Abs(l.DB-w.db) > 0.05 {
			t.Errorf("sample %d: expected db ~%v, got %v", i, w.db, l.DB)
		}
		if i > 0 && !l.Timestamp.After(levels[i-1].Timestamp) {
			t.Errorf("sample %d: timestamp not increasing", i)
		}
	}

	cur, ok := s.CurrentLevel()
	if !ok {
		t.Fatal("expected a current level")
	}
	if cur.Peak != 1.0 {
		t.Errorf("expected current peak 1.0, got %v", cur.Peak)
	}
}

func TestSamplerTwoCallbacksSeeSameSamples(t *testing.T) {
	meter := &fakeMeter{peaks: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}}
	s := NewSystemSampler(newFakeBackend(func(audio.MeterKind) audio.Meter { return meter }), "")

	var a, b levelCollector
	s.AddCallback(a.callback)
	s.AddCallback(b.callback)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, func() bool { return a.count() >= 5 })
	s.Stop()

	la, lb := a.snapshot(), b.snapshot()
	if len(la) != len(lb) {
		t.Fatalf("expected equal counts, got %d and %d", len(la), len(lb))
	}
	for i := range la {
		if la[i] != lb[i] {
			t.Errorf("sample %d differs: %+v vs %+v", i, la[i], lb[i])
		}
	}
}

func TestSamplerCallbackPanicDoesNotStopLoop(t *testing.T) {
	s := NewSystemSampler(newFakeBackend(nil), "")

	var c levelCollector
	s.AddCallback(func(audio.Level) { panic("observer failure") })
	s.AddCallback(c.callback)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return c.count() >= 3 })
	if !s.IsRunning() {
		t.Error("expected sampler to keep running after a callback panic")
	}
}

func TestSamplerStopsAfterConsecutiveErrors(t *testing.T) {
	meter := &fakeMeter{errs: []error{errTransient, errTransient, errTransient}}
	events := &eventRecorder{}
	s := NewMicrophoneSampler(newFakeBackend(func(audio.MeterKind) audio.Meter { return meter }), "",
		WithLifecycleEvents(events.OnLifecycle))

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, func() bool { return !s.IsRunning() })

	if !meter.released.Load() {
		t.Error("expected meter released after fatal failure")
	}
	if got := meter.reads.Load(); got != MaxConsecutiveReadErrors {
		t.Errorf("expected %d reads, got %d", MaxConsecutiveReadErrors, got)
	}
	if !events.has(types.MonitorFailed, types.SourceMicrophone) {
		t.Error("expected monitor_failed event")
	}
	s.Stop()
}

func TestSamplerRecoversFromTransientErrors(t *testing.T) {
	meter := &fakeMeter{
		peaks: []float64{0.3},
		errs:  []error{errTransient, errTransient, nil, errTransient, errTransient, nil},
	}
	s := NewSystemSampler(newFakeBackend(func(audio.MeterKind) audio.Meter { return meter }), "")

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool { return meter.reads.Load() >= 8 })
	if !s.IsRunning() {
		t.Error("expected sampler to survive non-consecutive failures")
	}
}

func TestSamplerDeviceRemovedIsFatal(t *testing.T) {
	meter := &fakeMeter{errs: []error{audio.ErrDeviceRemoved}}
	s := NewSystemSampler(newFakeBackend(func(audio.MeterKind) audio.Meter { return meter }), "")

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, func() bool { return !s.IsRunning() })

	if got := meter.reads.Load(); got != 1 {
		t.Errorf("expected the loop to end after 1 read, got %d", got)
	}
	s.Stop()
}

func TestSamplerAcquireFailure(t *testing.T) {
	backend := newFakeBackend(nil)
	backend.setFail(audio.MeterCapture, errors.New("no such device"))
	events := &eventRecorder{}

	s := NewMicrophoneSampler(backend, "missing", WithLifecycleEvents(events.OnLifecycle))
	err := s.Start()
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if s.IsRunning() {
		t.Error("expected not running")
	}
	if _, ok := s.CurrentLevel(); ok {
		t.Error("expected no current level")
	}
	if !events.has(types.DeviceUnavailable, types.SourceMicrophone) {
		t.Error("expected device_unavailable event")
	}
	s.Stop()
}

func TestMicrophoneUsesTrueRMS(t *testing.T) {
	build := func(audio.MeterKind) audio.Meter {
		return fakeRMSMeter{&fakeMeter{peaks: []float64{0.8}, rms: 0.3}}
	}

	mic := NewMicrophoneSampler(newFakeBackend(build), "")
	sys := NewSystemSampler(newFakeBackend(build), "")
	for _, s := range []*Sampler{mic, sys} {
		if err := s.Start(); err != nil {
			t.Fatalf("start %s: %v", s.Source(), err)
		}
	}
	waitFor(t, time.Second, func() bool {
		_, a := mic.CurrentLevel()
		_, b := sys.CurrentLevel()
		return a && b
	})
	mic.Stop()
	sys.Stop()

	ml, _ := mic.CurrentLevel()
	if ml.RMS != 0.3 {
		t.Errorf("microphone: expected true rms 0.3, got %v", ml.RMS)
	}
	sl, _ := sys.CurrentLevel()
	if sl.RMS != 0.8*audio.PeakToRMSRatio {
		t.Errorf("system: expected approximated rms %v, got %v", 0.8*audio.PeakToRMSRatio, sl.RMS)
	}
}

func TestSamplerRemoveCallback(t *testing.T) {
	s := NewSystemSampler(newFakeBackend(nil), "")
	id1 := s.AddCallback(func(audio.Level) {})
	id2 := s.AddCallback(func(audio.Level) {})
	if id1 == id2 {
		t.Fatal("expected distinct callback IDs")
	}
	if s.AddCallback(nil) != 0 {
		t.Error("expected nil callback to be ignored")
	}
	if !s.RemoveCallback(id1) {
		t.Error("expected removal of id1")
	}
	if s.RemoveCallback(id1) {
		t.Error("expected second removal to fail")
	}
	if s.CallbackCount() != 1 {
		t.Errorf("expected 1 callback, got %d", s.CallbackCount())
	}
	s.ClearCallbacks()
	if s.CallbackCount() != 0 {
		t.Errorf("expected 0 callbacks, got %d", s.CallbackCount())
	}
	s.Stop()
}

func TestSamplerRestartReacquiresDevice(t *testing.T) {
	backend := newFakeBackend(nil)
	s := NewSystemSampler(backend, "")

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := s.Status().SessionID
	s.Stop()

	if err := s.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer s.Stop()

	if backend.acquiredCount() != 2 {
		t.Errorf("expected device re-acquired, got %d acquisitions", backend.acquiredCount())
	}
	if st := s.Status(); st.SessionID == first || !st.Running {
		t.Errorf("expected a new running session, got %+v", st)
	}
}
