package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time to the session components
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System is the monotonic clock from the time package
var System Clock = systemClock{}

// Manual is a Clock that only moves when told to
type Manual struct {
	mutex sync.Mutex
	now   time.Time
}

// NewManual creates a manual clock starting at start
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time
func (m *Manual) Now() time.Time {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.now
}

// Advance moves the clock forward by d
func (m *Manual) Advance(d time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.now = m.now.Add(d)
}

// Set jumps the clock to t
func (m *Manual) Set(t time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.now = t
}
