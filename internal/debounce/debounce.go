// Package debounce suppresses repeated emissions of the same word within a
// short window.
package debounce

import "time"

// DefaultWindow is the minimum spacing between two accepted emissions of
// the same word.
const DefaultWindow = 500 * time.Millisecond

// Debouncer tracks the last accepted emission time per word. State is never
// cleared, so its size is bounded by the number of distinct words seen.
//
// A Debouncer is not safe for concurrent use; it is owned by the dispatch
// loop.
type Debouncer struct {
	window time.Duration
	last   map[string]time.Time
}

// New returns a Debouncer with the given window. A window <= 0 selects
// [DefaultWindow].
func New(window time.Duration) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer{window: window, last: make(map[string]time.Time)}
}

// Allow reports whether word may be emitted at now. The first emission of a
// word is always allowed; later ones only once at least the window has
// elapsed since the last accepted one. An accepted emission is recorded.
func (d *Debouncer) Allow(word string, now time.Time) bool {
	if last, ok := d.last[word]; ok && now.Sub(last) < d.window {
		return false
	}
	d.last[word] = now
	return true
}

// Window returns the configured window.
func (d *Debouncer) Window() time.Duration { return d.window }
