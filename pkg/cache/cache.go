package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/dougsko/rigsession/pkg/clock"
	"github.com/dougsko/rigsession/pkg/logging"
	"github.com/dougsko/rigsession/pkg/rigerr"
)

const (
	// DefaultTimeoutMS is the staleness window applied to every class at start
	DefaultTimeoutMS = 500
	// TimeoutAlways disables expiry for a class
	TimeoutAlways = -1
)

// Value holds the cached state of one VFO. Only the field matching the
// class argument is meaningful in Set and Get.
type Value struct {
	Freq  int64  `json:"freq"`
	Mode  string `json:"mode"`
	Width int    `json:"width"`
}

type stamp struct {
	updated time.Time
	valid   bool
}

type entry struct {
	value  Value
	stamps [numClasses]stamp
}

// ClassStats counts lookups for one class
type ClassStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// Snapshot is an unfiltered view of one VFO with the age of each value.
// An age of -1 means the value was never set or has been invalidated.
type Snapshot struct {
	VFO        string `json:"vfo"`
	Freq       int64  `json:"freq"`
	FreqAgeMS  int64  `json:"freq_age_ms"`
	Mode       string `json:"mode"`
	ModeAgeMS  int64  `json:"mode_age_ms"`
	Width      int    `json:"width"`
	WidthAgeMS int64  `json:"width_age_ms"`
}

// Cache is a per-VFO memo of frequency, mode and passband width with
// bounded staleness
type Cache struct {
	mutex    sync.Mutex
	clock    clock.Clock
	timeouts [numClasses]int
	entries  map[VFO]*entry
	current  VFO
	stats    [numClasses]ClassStats
}

// New creates a cache with DefaultTimeoutMS on every class
func New(clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.System
	}
	c := &Cache{
		clock:   clk,
		entries: make(map[VFO]*entry),
		current: VFOA,
	}
	for i := range c.timeouts {
		c.timeouts[i] = DefaultTimeoutMS
	}
	return c
}

// Set stores value for class on vfo and stamps it now. ClassAll stores
// every field. VFOAll invalidates the class on every VFO instead, and a
// frequency on VFOAll clears every class. A zero frequency invalidates
// the frequency entry.
func (c *Cache) Set(vfo VFO, class Class, value Value) error {
	if class < ClassFreq || class > ClassAll {
		return fmt.Errorf("cache class %d: %w", int(class), rigerr.ErrInvalidArgument)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if vfo == VFOAll {
		if class == ClassFreq {
			class = ClassAll
		}
		c.invalidateAllLocked(class)
		return nil
	}

	resolved, err := c.resolveLocked(vfo)
	if err != nil {
		return err
	}

	e := c.entryLocked(resolved)
	now := c.clock.Now()

	for _, cl := range expand(class) {
		switch cl {
		case ClassFreq:
			e.value.Freq = value.Freq
			if value.Freq == 0 {
				e.stamps[cl] = stamp{}
				continue
			}
		case ClassMode:
			e.value.Mode = value.Mode
		case ClassWidth:
			e.value.Width = value.Width
		}
		e.stamps[cl] = stamp{updated: now, valid: true}
	}

	logging.Debugf("cache", "set %s %s freq=%d mode=%s width=%d",
		resolved, class, e.value.Freq, e.value.Mode, e.value.Width)
	return nil
}

// Get returns the value for class on vfo and its age. A stale or absent
// entry yields rigerr.ErrMiss.
func (c *Cache) Get(vfo VFO, class Class) (Value, time.Duration, error) {
	if class < ClassFreq || class >= ClassAll {
		return Value{}, 0, fmt.Errorf("cache class %s: %w", class, rigerr.ErrInvalidArgument)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	resolved, err := c.resolveLocked(vfo)
	if err != nil {
		return Value{}, 0, err
	}

	e, ok := c.entries[resolved]
	if !ok || !e.stamps[class].valid {
		c.stats[class].Misses++
		return Value{}, 0, rigerr.ErrMiss
	}

	age := c.clock.Now().Sub(e.stamps[class].updated)
	timeout := c.timeouts[class]
	if timeout != TimeoutAlways && age.Milliseconds() > int64(timeout) {
		c.stats[class].Misses++
		return Value{}, age, rigerr.ErrMiss
	}

	c.stats[class].Hits++
	return e.value, age, nil
}

// SetFreq caches a frequency in Hz
func (c *Cache) SetFreq(vfo VFO, hz int64) error {
	return c.Set(vfo, ClassFreq, Value{Freq: hz})
}

// GetFreq returns a fresh cached frequency
func (c *Cache) GetFreq(vfo VFO) (int64, time.Duration, error) {
	v, age, err := c.Get(vfo, ClassFreq)
	return v.Freq, age, err
}

// SetMode caches mode and passband together. A width <= 0 keeps the
// previous width but still marks it fresh, as radios report "no change"
// that way. VFOAll invalidates mode and width on every VFO.
func (c *Cache) SetMode(vfo VFO, mode string, width int) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if vfo == VFOAll {
		c.invalidateAllLocked(ClassMode)
		c.invalidateAllLocked(ClassWidth)
		return nil
	}

	resolved, err := c.resolveLocked(vfo)
	if err != nil {
		return err
	}

	e := c.entryLocked(resolved)
	now := c.clock.Now()

	e.value.Mode = mode
	if width > 0 {
		e.value.Width = width
	}
	e.stamps[ClassMode] = stamp{updated: now, valid: true}
	e.stamps[ClassWidth] = stamp{updated: now, valid: true}

	logging.Debugf("cache", "set %s mode=%s width=%d", resolved, mode, e.value.Width)
	return nil
}

// GetMode returns a fresh cached mode
func (c *Cache) GetMode(vfo VFO) (string, time.Duration, error) {
	v, age, err := c.Get(vfo, ClassMode)
	return v.Mode, age, err
}

// GetWidth returns a fresh cached passband width in Hz
func (c *Cache) GetWidth(vfo VFO) (int, time.Duration, error) {
	v, age, err := c.Get(vfo, ClassWidth)
	return v.Width, age, err
}

// SetTimeout sets the staleness window in milliseconds for class, or for
// every class with ClassAll
func (c *Cache) SetTimeout(class Class, ms int) error {
	if class < ClassFreq || class > ClassAll {
		return fmt.Errorf("cache class %d: %w", int(class), rigerr.ErrInvalidArgument)
	}
	if ms < TimeoutAlways {
		return fmt.Errorf("cache timeout %d ms: %w", ms, rigerr.ErrInvalidArgument)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, cl := range expand(class) {
		c.timeouts[cl] = ms
	}
	logging.Debugf("cache", "timeout %s = %d ms", class, ms)
	return nil
}

// Timeout returns the staleness window of a single class
func (c *Cache) Timeout(class Class) (int, error) {
	if class < ClassFreq || class >= ClassAll {
		return 0, fmt.Errorf("cache class %s: %w", class, rigerr.ErrInvalidArgument)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.timeouts[class], nil
}

// Timeouts returns every class window keyed by class name
func (c *Cache) Timeouts() map[string]int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	out := make(map[string]int, numClasses)
	for i, ms := range c.timeouts {
		out[Class(i).String()] = ms
	}
	return out
}

// Invalidate marks every class of vfo stale; VFOAll clears every VFO
func (c *Cache) Invalidate(vfo VFO) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if vfo == VFOAll {
		c.invalidateAllLocked(ClassAll)
		return nil
	}

	resolved, err := c.resolveLocked(vfo)
	if err != nil {
		return err
	}
	if e, ok := c.entries[resolved]; ok {
		e.stamps = [numClasses]stamp{}
	}
	return nil
}

// SetCurrentVFO selects the VFO that VFOCurr resolves to
func (c *Cache) SetCurrentVFO(vfo VFO) error {
	if !vfo.concrete() {
		return fmt.Errorf("current vfo %s: %w", vfo, rigerr.ErrInvalidArgument)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.current = vfo
	return nil
}

// CurrentVFO returns the VFO that VFOCurr resolves to
func (c *Cache) CurrentVFO() VFO {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.current
}

// Snapshot returns the stored triple of vfo regardless of staleness
func (c *Cache) Snapshot(vfo VFO) (Snapshot, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	resolved, err := c.resolveLocked(vfo)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{VFO: resolved.String(), FreqAgeMS: -1, ModeAgeMS: -1, WidthAgeMS: -1}
	e, ok := c.entries[resolved]
	if !ok {
		return snap, nil
	}

	now := c.clock.Now()
	age := func(cl Class) int64 {
		if !e.stamps[cl].valid {
			return -1
		}
		return now.Sub(e.stamps[cl].updated).Milliseconds()
	}

	snap.Freq = e.value.Freq
	snap.Mode = e.value.Mode
	snap.Width = e.value.Width
	snap.FreqAgeMS = age(ClassFreq)
	snap.ModeAgeMS = age(ClassMode)
	snap.WidthAgeMS = age(ClassWidth)
	return snap, nil
}

// Stats returns lookup counters keyed by class name
func (c *Cache) Stats() map[string]ClassStats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	out := make(map[string]ClassStats, numClasses)
	for i, s := range c.stats {
		out[Class(i).String()] = s
	}
	return out
}

// resolveLocked maps VFOCurr/VFONone onto the current VFO and rejects
// selectors that do not name a single slot
func (c *Cache) resolveLocked(vfo VFO) (VFO, error) {
	if vfo == VFOCurr || vfo == VFONone {
		vfo = c.current
	}
	if !vfo.concrete() {
		return VFONone, fmt.Errorf("vfo %s: %w", vfo, rigerr.ErrInvalidArgument)
	}
	return vfo, nil
}

func (c *Cache) entryLocked(vfo VFO) *entry {
	e, ok := c.entries[vfo]
	if !ok {
		e = &entry{}
		c.entries[vfo] = e
	}
	return e
}

func (c *Cache) invalidateAllLocked(class Class) {
	for _, e := range c.entries {
		for _, cl := range expand(class) {
			e.stamps[cl] = stamp{}
		}
	}
	logging.Debugf("cache", "invalidated %s on all VFOs", class)
}

func expand(class Class) []Class {
	switch class {
	case ClassAll:
		return []Class{ClassFreq, ClassMode, ClassWidth}
	default:
		return []Class{class}
	}
}
