package interpreter

import (
	"time"
	"unicode/utf8"
)

// partialThrottle limits translated_text_partial events on fast streams.
type partialThrottle struct {
	minDelta    int
	minInterval time.Duration
	now         func() time.Time

	emitted  bool
	lastEmit time.Time
	lastLen  int
}

func newPartialThrottle(minDelta int, minInterval time.Duration, now func() time.Time) *partialThrottle {
	if now == nil {
		now = time.Now
	}
	return &partialThrottle{minDelta: minDelta, minInterval: minInterval, now: now}
}

// Allow reports whether text should be emitted and records the emission.
func (t *partialThrottle) Allow(text string) bool {
	n := utf8.RuneCountInString(text)
	now := t.now()
	if t.emitted {
		if n <= t.lastLen {
			return false
		}
		if n-t.lastLen < t.minDelta && now.Sub(t.lastEmit) < t.minInterval && !endsWithTerminator(text) {
			return false
		}
	}
	t.emitted = true
	t.lastEmit = now
	t.lastLen = n
	return true
}
