package monitor

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-levelmon/internal/audio"
	"github.com/oszuidwest/zwfm-levelmon/internal/types"
)

var errTransient = errors.New("transient read failure")

// fakeMeter replays a scripted sequence of peaks and errors, then repeats the last peak.
type fakeMeter struct {
	mu       sync.Mutex
	peaks    []float64
	errs     []error
	rms      float64
	reads    atomic.Int32
	released atomic.Bool
}

func (f *fakeMeter) next() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads.Add(1)

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return 0, err
		}
	}
	if len(f.peaks) == 0 {
		return 0, nil
	}
	p := f.peaks[0]
	if len(f.peaks) > 1 {
		f.peaks = f.peaks[1:]
	}
	return p, nil
}

func (f *fakeMeter) ReadPeak() (float64, error) {
	return f.next()
}

func (f *fakeMeter) Release() error {
	f.released.Store(true)
	return nil
}

// fakeRMSMeter also reports a fixed true RMS value.
type fakeRMSMeter struct {
	*fakeMeter
}

func (f fakeRMSMeter) ReadLevel() (float64, float64, error) {
	p, err := f.next()
	return p, f.rms, err
}

// fakeBackend hands out meters built by build and can fail per kind.
type fakeBackend struct {
	mu       sync.Mutex
	fail     map[audio.MeterKind]error
	build    func(kind audio.MeterKind) audio.Meter
	acquired []audio.Meter
	devices  types.DeviceList
}

func newFakeBackend(build func(kind audio.MeterKind) audio.Meter) *fakeBackend {
	if build == nil {
		build = func(audio.MeterKind) audio.Meter { return &fakeMeter{peaks: []float64{0.5}} }
	}
	return &fakeBackend{fail: map[audio.MeterKind]error{}, build: build}
}

func (b *fakeBackend) InputDevices() ([]types.DeviceInfo, error)  { return b.devices.Input, nil }
func (b *fakeBackend) OutputDevices() ([]types.DeviceInfo, error) { return b.devices.Output, nil }
func (b *fakeBackend) LoopbackDevices() ([]types.DeviceInfo, error) {
	return b.devices.System, nil
}

func (b *fakeBackend) AcquireMeter(kind audio.MeterKind, _ string) (audio.Meter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail[kind]; err != nil {
		return nil, err
	}
	m := b.build(kind)
	b.acquired = append(b.acquired, m)
	return m, nil
}

func (b *fakeBackend) setFail(kind audio.MeterKind, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail[kind] = err
}

func (b *fakeBackend) acquiredCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.acquired)
}

// eventRecorder collects lifecycle events.
type eventRecorder struct {
	mu     sync.Mutex
	events []types.LifecycleEvent
}

func (r *eventRecorder) OnLifecycle(ev types.LifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) has(t types.LifecycleEventType, src types.Source) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Type == t && ev.Source == src {
			return true
		}
	}
	return false
}

// levelCollector records delivered levels.
type levelCollector struct {
	mu     sync.Mutex
	levels []audio.Level
}

func (c *levelCollector) callback(l audio.Level) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.levels = append(c.levels, l)
}

func (c *levelCollector) snapshot() []audio.Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audio.Level(nil), c.levels...)
}

func (c *levelCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.levels)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
