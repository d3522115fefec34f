package session

import (
	"context"
	"sync"
	"time"

	"github.com/dougsko/rigsession/pkg/fifo"
	"github.com/dougsko/rigsession/pkg/hardware"
	"github.com/dougsko/rigsession/pkg/logging"
	"github.com/dougsko/rigsession/pkg/morse"
)

// KeyerConfig controls how queued text is handed to the radio
type KeyerConfig struct {
	Interval  time.Duration // poll period of the queue
	ChunkSize int           // bytes per SendMorse call
	WPM       int
	// Paced holds back the next chunk until the previous one has been
	// keyed at WPM
	Paced bool
}

// DefaultKeyerConfig returns the keyer defaults
func DefaultKeyerConfig() KeyerConfig {
	return KeyerConfig{
		Interval:  250 * time.Millisecond,
		ChunkSize: 8,
		WPM:       morse.DefaultWPM,
		Paced:     true,
	}
}

// Keyer drains a queue into the radio's keyer on a ticker
type Keyer struct {
	queue *fifo.Queue
	radio hardware.RadioInterface

	mutex     sync.Mutex
	config    KeyerConfig
	busyUntil time.Time

	// onKeyed is called with the bytes handed to the radio, or with the
	// error that prevented it
	onKeyed func(chunk []byte, err error)
}

// NewKeyer creates a keyer. Zero config fields select defaults.
func NewKeyer(queue *fifo.Queue, radio hardware.RadioInterface, config KeyerConfig) *Keyer {
	k := &Keyer{queue: queue, radio: radio}
	k.SetConfig(config)
	return k
}

// SetConfig replaces the keyer settings. Safe while Run is active; a new
// interval takes effect on the next tick.
func (k *Keyer) SetConfig(config KeyerConfig) {
	defaults := DefaultKeyerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = defaults.ChunkSize
	}
	if config.WPM <= 0 {
		config.WPM = defaults.WPM
	}

	k.mutex.Lock()
	defer k.mutex.Unlock()
	k.config = config
}

// Config returns the current settings
func (k *Keyer) Config() KeyerConfig {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	return k.config
}

// Run drains the queue until ctx is done
func (k *Keyer) Run(ctx context.Context) {
	interval := k.Config().Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logging.Infof("keyer", "started (interval %s)", interval)

	for {
		select {
		case <-ctx.Done():
			logging.Info("keyer", "stopped")
			return
		case now := <-ticker.C:
			k.tick(now)

			if next := k.Config().Interval; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// tick keys at most one chunk
func (k *Keyer) tick(now time.Time) {
	if k.queue.Flushed() {
		k.mutex.Lock()
		k.busyUntil = time.Time{}
		k.mutex.Unlock()
		logging.Debug("keyer", "queue flushed")
	}

	k.mutex.Lock()
	config := k.config
	busy := config.Paced && now.Before(k.busyUntil)
	k.mutex.Unlock()
	if busy {
		return
	}

	chunk := k.queue.PopN(config.ChunkSize)
	if len(chunk) == 0 {
		return
	}

	err := k.radio.SendMorse(string(chunk))
	if err != nil {
		logging.Warnf("keyer", "failed to key %q: %v", chunk, err)
	} else if config.Paced {
		k.mutex.Lock()
		k.busyUntil = now.Add(morse.Duration(string(chunk), config.WPM))
		k.mutex.Unlock()
	}

	if k.onKeyed != nil {
		k.onKeyed(chunk, err)
	}
}
