// Package stream fans audio levels out to connected WebSocket clients.
package stream

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/oszuidwest/zwfm-levelmon/internal/audio"
	"github.com/oszuidwest/zwfm-levelmon/internal/types"
)

// DefaultBuffer is the per-subscriber queue depth. At the 50ms sample rate this
// holds about one second of levels for both sources.
const DefaultBuffer = 40

var (
	// ErrHubClosed is returned by Deliver after Close.
	ErrHubClosed = errors.New("stream hub closed")
	// ErrSubscriberFull is returned when at least one subscriber dropped the level.
	ErrSubscriberFull = errors.New("subscriber queue full")
)

// Hub delivers level messages to subscribers without ever blocking the producer.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	closed  bool
	dropped atomic.Uint64
}

// Subscription receives level messages on C until it is closed.
type Subscription struct {
	C <-chan types.WSLevelMessage

	ch   chan types.WSLevelMessage
	hub  *Hub
	once sync.Once
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscriber with the given queue depth.
// A non-positive buffer uses DefaultBuffer.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan types.WSLevelMessage, buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		if _, ok := s.hub.subs[s]; ok {
			delete(s.hub.subs, s)
			close(s.ch)
		}
	})
}

// Deliver implements monitor.Sink. Subscribers with a full queue miss this level.
func (h *Hub) Deliver(level audio.Level, source types.Source) error {
	msg := types.WSLevelMessage{
		Type:          "level",
		Source:        source,
		LevelSnapshot: level.Snapshot(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrHubClosed
	}

	var missed int
	for sub := range h.subs {
		select {
		case sub.ch <- msg:
		default:
			missed++
		}
	}
	if missed > 0 {
		h.dropped.Add(uint64(missed))
		return fmt.Errorf("%w: %d of %d subscribers", ErrSubscriberFull, missed, len(h.subs))
	}
	return nil
}

// Close disconnects every subscriber. Later deliveries return ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
	}
	clear(h.subs)
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns the total number of messages discarded on full queues.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
