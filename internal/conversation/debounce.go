package conversation

import (
	"sync"
	"time"
)

// Debouncer rejects transcripts that duplicate the previous accepted one or
// arrive within a cooldown window of it, preventing double-processing when
// the recognizer re-emits the same utterance
type Debouncer struct {
	mu       sync.Mutex
	cooldown time.Duration
	lastText string
	lastAt   time.Time
	now      func() time.Time
}

// NewDebouncer creates a debouncer with the given cooldown window
func NewDebouncer(cooldown time.Duration) *Debouncer {
	return &Debouncer{
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Allow reports whether the transcript should be processed. An accepted
// transcript becomes the new reference point for both checks
func (d *Debouncer) Allow(text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	if !d.lastAt.IsZero() {
		if text == d.lastText {
			return false
		}
		if now.Sub(d.lastAt) < d.cooldown {
			return false
		}
	}

	d.lastText = text
	d.lastAt = now
	return true
}

// Reset forgets the last accepted transcript
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastText = ""
	d.lastAt = time.Time{}
}
