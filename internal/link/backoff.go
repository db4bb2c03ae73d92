package link

import "time"

// Default backoff parameters.
const (
	DefaultBackoffFloor      = 1 * time.Second
	DefaultBackoffCeiling    = 5 * time.Second
	DefaultBackoffMultiplier = 1.5
)

// Backoff produces the retry delays of the reconnect loop: floor, then each
// delay multiplied by the multiplier, clamped to the ceiling. With the
// defaults that is 1s, 1.5s, 2.25s, 3.375s, 5s, 5s, ...
//
// Backoff is not safe for concurrent use.
type Backoff struct {
	floor      time.Duration
	ceiling    time.Duration
	multiplier float64
	current    time.Duration
}

// NewBackoff returns a Backoff positioned at floor. Non-positive arguments
// select the defaults; a ceiling below floor is raised to floor, and a
// multiplier below 1 is treated as 1.
func NewBackoff(floor, ceiling time.Duration, multiplier float64) *Backoff {
	if floor <= 0 {
		floor = DefaultBackoffFloor
	}
	if ceiling <= 0 {
		ceiling = DefaultBackoffCeiling
	}
	if ceiling < floor {
		ceiling = floor
	}
	if multiplier <= 0 {
		multiplier = DefaultBackoffMultiplier
	}
	if multiplier < 1 {
		multiplier = 1
	}
	return &Backoff{floor: floor, ceiling: ceiling, multiplier: multiplier, current: floor}
}

// Current returns the delay the next call to [Backoff.Next] will return.
func (b *Backoff) Current() time.Duration { return b.current }

// Next returns the current delay and advances to the following one.
func (b *Backoff) Next() time.Duration {
	d := b.current
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.ceiling {
		next = b.ceiling
	}
	b.current = next
	return d
}

// Reset rewinds to the floor.
func (b *Backoff) Reset() { b.current = b.floor }
