package clock

import "time"

// Clock provides the current time. Components take a Clock instead of calling
// time.Now directly so tests can control time without sleeping.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

// New returns a Clock backed by the system time.
func New() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

// Managed is a hand-driven clock for tests.
type Managed struct {
	start  time.Time
	offset time.Duration
}

// NewManaged returns a Managed clock frozen at start.
func NewManaged(start time.Time) *Managed {
	return &Managed{start: start}
}

// Now returns the current managed time.
func (m *Managed) Now() time.Time {
	return m.start.Add(m.offset)
}

// WarpForward advances the clock by d and returns the new time.
// There is no WarpBackward; time does not go backwards, even in tests.
func (m *Managed) WarpForward(d time.Duration) time.Time {
	m.offset += d
	return m.start.Add(m.offset)
}
