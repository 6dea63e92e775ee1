// Package monitor samples audio endpoints in the background and fans each
// measurement out to registered callbacks and a streaming sink.
package monitor

import (
	"errors"
	"time"

	"github.com/oszuidwest/zwfm-levelmon/internal/audio"
	"github.com/oszuidwest/zwfm-levelmon/internal/types"
)

const (
	// SampleInterval is the fixed delay between two samples of one source (20 Hz).
	SampleInterval = 50 * time.Millisecond
	// MaxConsecutiveReadErrors ends a sampling loop after this many failed reads in a row.
	MaxConsecutiveReadErrors = 3
)

// Sentinel errors for monitor operations.
var (
	ErrUnknownSource = errors.New("unknown audio source")
	ErrClosed        = errors.New("monitor manager closed")
)

// Callback observes every level a sampler produces. It runs on the sampler's
// goroutine, so a slow callback delays the next sample.
type Callback func(level audio.Level)

// CallbackID identifies a registered callback for later removal.
type CallbackID uint64

// Monitor is the lifecycle and observer contract shared by every sampler.
type Monitor interface {
	// Start launches the sampling loop. It is a no-op when already running.
	Start() error
	// Stop ends the loop and releases the device, blocking until both are done.
	Stop()
	AddCallback(fn Callback) CallbackID
	RemoveCallback(id CallbackID) bool
	ClearCallbacks()
	// CurrentLevel returns the most recent sample without blocking.
	CurrentLevel() (audio.Level, bool)
	IsRunning() bool
	Source() types.Source
	Status() types.MonitorStatus
}

// Sink receives every level produced by a managed sampler.
// Delivery is best effort and must not block.
type Sink interface {
	Deliver(level audio.Level, source types.Source) error
}

// Observer is notified about sampler lifecycle transitions.
type Observer interface {
	OnLifecycle(ev types.LifecycleEvent)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev types.LifecycleEvent)

// OnLifecycle calls f(ev).
func (f ObserverFunc) OnLifecycle(ev types.LifecycleEvent) {
	f(ev)
}
