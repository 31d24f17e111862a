package conflict

import (
	"sync"

	"github.com/leottami/mindull-sub001/internal/domain"
)

// Feed broadcasts conflict events to any number of subscribers so UI layers
// can reconcile local state without coupling to the processor. Slow
// consumers have events dropped rather than blocking the drain pass.
type Feed struct {
	mu     sync.RWMutex
	subs   map[chan domain.Conflict]struct{}
	buffer int
	closed bool
}

// NewFeed creates a feed whose subscriber channels buffer up to buffer
// events each.
func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = 16
	}
	return &Feed{
		subs:   make(map[chan domain.Conflict]struct{}),
		buffer: buffer,
	}
}

// Subscribe returns a receive channel and an unsubscribe function.
// The channel is closed on unsubscribe and on Feed.Close.
func (f *Feed) Subscribe() (<-chan domain.Conflict, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan domain.Conflict, f.buffer)
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	f.subs[ch] = struct{}{}

	unsubscribe := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Publish delivers the event to every subscriber, dropping it for any whose
// buffer is full.
func (f *Feed) Publish(c domain.Conflict) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for ch := range f.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// Close closes all subscriber channels. Publish and Subscribe become no-ops.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
}
