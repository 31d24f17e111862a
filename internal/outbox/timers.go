package outbox

import (
	"sync"
	"time"
)

// Timers holds at most one pending timer per item id. Scheduling an id that
// already has a timer supersedes the old one, so no two outstanding timers
// ever exist for the same item. Replaces raw time.AfterFunc calls that would
// leak across process and test lifecycles.
type Timers struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewTimers() *Timers {
	return &Timers{timers: make(map[string]*time.Timer)}
}

// Schedule runs fn after d, cancelling any earlier timer for the same id.
func (t *Timers) Schedule(id string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.timers[id]; ok {
		old.Stop()
	}

	var tm *time.Timer
	tm = time.AfterFunc(d, func() {
		t.mu.Lock()
		// Only clean up if we have not been superseded in the meantime.
		if t.timers[id] == tm {
			delete(t.timers, id)
		}
		t.mu.Unlock()
		fn()
	})
	t.timers[id] = tm
}

// Cancel stops the pending timer for id, if any.
func (t *Timers) Cancel(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tm, ok := t.timers[id]; ok {
		tm.Stop()
		delete(t.timers, id)
	}
}

// CancelAll stops every pending timer. Called on shutdown and on Clear so
// no callback fires into a torn-down processor.
func (t *Timers) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, tm := range t.timers {
		tm.Stop()
		delete(t.timers, id)
	}
}

// Len returns the number of outstanding timers.
func (t *Timers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
