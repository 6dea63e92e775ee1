package audio

import (
	"sync"
	"time"
)

// DefaultPeakHoldDuration is the default duration that peak values are held before decaying.
const DefaultPeakHoldDuration = 3000 * time.Millisecond

// PeakHolder tracks the held linear peak of one source for meter displays.
// It is safe for concurrent use.
type PeakHolder struct {
	holdDuration time.Duration

	mu     sync.Mutex
	held   float64
	heldAt time.Time
}

// NewPeakHolder creates a peak holder at silence that holds each peak for hold.
func NewPeakHolder(hold time.Duration) *PeakHolder {
	return &PeakHolder{holdDuration: hold}
}

// Update records a new peak and returns the held value.
func (p *PeakHolder) Update(peak float64, now time.Time) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if peak >= p.held || now.Sub(p.heldAt) > p.holdDuration {
		p.held = peak
		p.heldAt = now
	}
	return p.held
}

// Held returns the currently held peak without updating it.
func (p *PeakHolder) Held() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held
}

// Reset clears the held peak.
func (p *PeakHolder) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held = 0
	p.heldAt = time.Time{}
}
