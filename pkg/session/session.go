package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dougsko/rigsession/pkg/cache"
	"github.com/dougsko/rigsession/pkg/clock"
	"github.com/dougsko/rigsession/pkg/fifo"
	"github.com/dougsko/rigsession/pkg/hardware"
	"github.com/dougsko/rigsession/pkg/lease"
	"github.com/dougsko/rigsession/pkg/logging"
	"github.com/dougsko/rigsession/pkg/rigerr"
	"github.com/dougsko/rigsession/pkg/storage"
)

// Journal receives lease events and keyer submissions
type Journal interface {
	RecordLeaseEvent(ev storage.LeaseEvent) error
	RecordTransmission(t storage.Transmission) (int64, error)
	UpdateTransmissionStatus(id int64, status string) error
}

// Options configure a Session. Zero values select defaults.
type Options struct {
	Clock         clock.Clock
	TokenSource   lease.TokenSource
	QueueSize     int
	CacheTimeouts map[cache.Class]int
	CurrentVFO    cache.VFO
	RequireLease  bool
	Keyer         KeyerConfig
	Journal       Journal
	Metrics       *Metrics
}

// pending tracks bytes of one submission still in the queue
type pending struct {
	id        int64
	remaining int
	aborted   bool
}

// Session is the per-radio facade routing every caller through one lease
// arbitrator, one cache and one keyer queue
type Session struct {
	lease   *lease.Arbitrator
	cache   *cache.Cache
	queue   *fifo.Queue
	radio   hardware.RadioInterface
	keyer   *Keyer
	journal Journal
	metrics *Metrics
	clock   clock.Clock

	requireLease atomic.Bool
	startedAt    time.Time

	// txMutex orders queue pushes against keyer progress reports
	txMutex sync.Mutex
	pending []pending
}

// New creates a session around radio
func New(radio hardware.RadioInterface, opts Options) (*Session, error) {
	if radio == nil {
		return nil, fmt.Errorf("session needs a radio: %w", rigerr.ErrInvalidArgument)
	}
	if opts.Clock == nil {
		opts.Clock = clock.System
	}
	if opts.QueueSize == 0 {
		opts.QueueSize = fifo.DefaultSize
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}

	s := &Session{
		lease:     lease.NewArbitrator(opts.Clock, opts.TokenSource),
		cache:     cache.New(opts.Clock),
		queue:     fifo.New(opts.QueueSize),
		radio:     radio,
		journal:   opts.Journal,
		metrics:   opts.Metrics,
		clock:     opts.Clock,
		startedAt: opts.Clock.Now(),
	}
	s.requireLease.Store(opts.RequireLease)

	for class, ms := range opts.CacheTimeouts {
		if err := s.cache.SetTimeout(class, ms); err != nil {
			return nil, fmt.Errorf("failed to apply cache timeout: %w", err)
		}
	}
	if opts.CurrentVFO != cache.VFONone {
		if err := s.cache.SetCurrentVFO(opts.CurrentVFO); err != nil {
			return nil, err
		}
	}

	s.lease.SetObserver(s.onLeaseEvent)
	s.keyer = NewKeyer(s.queue, radio, opts.Keyer)
	s.keyer.onKeyed = s.onKeyed

	return s, nil
}

// Run starts the keyer and blocks until ctx is done
func (s *Session) Run(ctx context.Context) {
	s.keyer.Run(ctx)
}

// Close aborts pending keying and closes the radio
func (s *Session) Close() error {
	s.abortPending()
	return s.radio.Close()
}

// Reload applies the reloadable subset of opts: lease enforcement, cache
// timeouts, current VFO and keyer settings. Queue size and collaborators
// are fixed at creation.
func (s *Session) Reload(opts Options) error {
	for class, ms := range opts.CacheTimeouts {
		if err := s.cache.SetTimeout(class, ms); err != nil {
			return fmt.Errorf("failed to apply cache timeout: %w", err)
		}
	}
	if opts.CurrentVFO != cache.VFONone {
		if err := s.cache.SetCurrentVFO(opts.CurrentVFO); err != nil {
			return err
		}
	}
	if opts.QueueSize != 0 && opts.QueueSize-1 != s.queue.Cap() {
		logging.Warnf("session", "queue size change to %d needs a restart", opts.QueueSize)
	}

	s.requireLease.Store(opts.RequireLease)
	s.keyer.SetConfig(opts.Keyer)
	logging.Info("session", "settings reloaded", map[string]interface{}{
		"require_lease": opts.RequireLease,
		"keyer_wpm":     s.keyer.Config().WPM,
	})
	return nil
}

// Radio returns the underlying radio
func (s *Session) Radio() hardware.RadioInterface { return s.radio }

// Cache returns the session cache
func (s *Session) Cache() *cache.Cache { return s.cache }

// Keyer returns the session keyer
func (s *Session) Keyer() *Keyer { return s.keyer }

// SetRequireLease toggles enforcement of the lease on mutating calls
func (s *Session) SetRequireLease(on bool) {
	s.requireLease.Store(on)
}

// RequireLease reports whether mutating calls need the lease token
func (s *Session) RequireLease() bool {
	return s.requireLease.Load()
}

// authorize rejects callers that do not hold the lease when enforcement is on
func (s *Session) authorize(token lease.Token) error {
	if !s.requireLease.Load() || s.lease.IsHolder(token) {
		return nil
	}
	return fmt.Errorf("caller does not hold the lease: %w", rigerr.ErrBusy)
}

// AcquireLease grants the lease or fails with rigerr.ErrBusy
func (s *Session) AcquireLease() (lease.Token, error) {
	return s.lease.Acquire()
}

// RenewLease refreshes the held lease
func (s *Session) RenewLease(token lease.Token) error {
	return s.lease.Renew(token)
}

// ReleaseLease gives the lease up
func (s *Session) ReleaseLease(token lease.Token) error {
	return s.lease.Release(token)
}

// LeaseHolder returns the live token and its last renewal
func (s *Session) LeaseHolder() (lease.Token, time.Time, bool) {
	return s.lease.Holder()
}

func (s *Session) onLeaseEvent(ev lease.Event) {
	code := rigerr.Code(ev.Err)
	s.metrics.LeaseOps.WithLabelValues(ev.Op.String(), code).Inc()
	if ev.Err == nil {
		switch ev.Op {
		case lease.OpGet:
			s.metrics.LeaseHeld.Set(1)
		case lease.OpRelease:
			s.metrics.LeaseHeld.Set(0)
		}
	}

	if s.journal == nil {
		return
	}
	record := storage.LeaseEvent{
		Timestamp: ev.At,
		Op:        ev.Op.String(),
		Token:     string(ev.Token),
		Result:    code,
	}
	if ev.Err != nil {
		record.Error = ev.Err.Error()
	}
	if err := s.journal.RecordLeaseEvent(record); err != nil {
		logging.Warnf("session", "failed to journal lease event: %v", err)
	}
}

// resolveVFO pins the current VFO selector to the cache's current VFO so
// the radio and the cache address the same slot
func (s *Session) resolveVFO(vfo cache.VFO) cache.VFO {
	if vfo == cache.VFOCurr || vfo == cache.VFONone {
		return s.cache.CurrentVFO()
	}
	return vfo
}

// GetFrequency returns the frequency of vfo, from cache when fresh.
// The bool reports a cache hit.
func (s *Session) GetFrequency(vfo cache.VFO) (int64, bool, error) {
	vfo = s.resolveVFO(vfo)
	freq, _, err := s.cache.GetFreq(vfo)
	switch {
	case err == nil:
		s.metrics.cacheLookup("FREQ", true)
		return freq, true, nil
	case !errors.Is(err, rigerr.ErrMiss):
		return 0, false, err
	}
	s.metrics.cacheLookup("FREQ", false)

	start := time.Now()
	freq, err = s.radio.GetFrequency(vfo)
	s.metrics.observeDevice("get_freq", start, err)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read frequency: %w", err)
	}

	if err := s.cache.SetFreq(vfo, freq); err != nil {
		logging.Debugf("session", "frequency of %s not cached: %v", vfo, err)
	}
	return freq, false, nil
}

// SetFrequency tunes vfo and caches the new value
func (s *Session) SetFrequency(token lease.Token, vfo cache.VFO, freq int64) error {
	if err := s.authorize(token); err != nil {
		return err
	}
	if freq < 0 {
		return fmt.Errorf("frequency %d: %w", freq, rigerr.ErrInvalidArgument)
	}
	vfo = s.resolveVFO(vfo)

	start := time.Now()
	err := s.radio.SetFrequency(vfo, freq)
	s.metrics.observeDevice("set_freq", start, err)
	if err != nil {
		// the rig may have partially applied the change
		if cerr := s.cache.SetFreq(vfo, 0); cerr != nil {
			logging.Debugf("session", "frequency of %s not invalidated: %v", vfo, cerr)
		}
		return fmt.Errorf("failed to set frequency: %w", err)
	}

	if err := s.cache.SetFreq(vfo, freq); err != nil {
		logging.Debugf("session", "frequency of %s not cached: %v", vfo, err)
	}
	return nil
}

// GetMode returns mode and passband of vfo, from cache when both are fresh
func (s *Session) GetMode(vfo cache.VFO) (string, int, bool, error) {
	vfo = s.resolveVFO(vfo)
	mode, _, modeErr := s.cache.GetMode(vfo)
	width, _, widthErr := s.cache.GetWidth(vfo)
	if modeErr == nil && widthErr == nil {
		s.metrics.cacheLookup("MODE", true)
		return mode, width, true, nil
	}
	for _, err := range []error{modeErr, widthErr} {
		if err != nil && !errors.Is(err, rigerr.ErrMiss) {
			return "", 0, false, err
		}
	}
	s.metrics.cacheLookup("MODE", false)

	start := time.Now()
	mode, width, err := s.radio.GetMode(vfo)
	s.metrics.observeDevice("get_mode", start, err)
	if err != nil {
		return "", 0, false, fmt.Errorf("failed to read mode: %w", err)
	}

	if err := s.cache.SetMode(vfo, mode, width); err != nil {
		logging.Debugf("session", "mode of %s not cached: %v", vfo, err)
	}
	return mode, width, false, nil
}

// SetMode sets mode and passband of vfo. A width <= 0 keeps the current passband.
func (s *Session) SetMode(token lease.Token, vfo cache.VFO, mode string, width int) error {
	if err := s.authorize(token); err != nil {
		return err
	}
	if mode == "" {
		return fmt.Errorf("empty mode: %w", rigerr.ErrInvalidArgument)
	}
	vfo = s.resolveVFO(vfo)

	start := time.Now()
	err := s.radio.SetMode(vfo, mode, width)
	s.metrics.observeDevice("set_mode", start, err)
	if err != nil {
		if cerr := s.cache.Invalidate(vfo); cerr != nil {
			logging.Debugf("session", "mode of %s not invalidated: %v", vfo, cerr)
		}
		return fmt.Errorf("failed to set mode: %w", err)
	}

	if err := s.cache.SetMode(vfo, mode, width); err != nil {
		logging.Debugf("session", "mode of %s not cached: %v", vfo, err)
	}
	return nil
}

// SetPTT keys the transmitter
func (s *Session) SetPTT(token lease.Token, on bool) error {
	if err := s.authorize(token); err != nil {
		return err
	}
	start := time.Now()
	err := s.radio.SetPTT(on)
	s.metrics.observeDevice("set_ptt", start, err)
	return err
}

// GetPTT reads the transmit state
func (s *Session) GetPTT() (bool, error) {
	start := time.Now()
	on, err := s.radio.GetPTT()
	s.metrics.observeDevice("get_ptt", start, err)
	return on, err
}

// SetCurrentVFO selects the VFO that cache.VFOCurr resolves to
func (s *Session) SetCurrentVFO(token lease.Token, vfo cache.VFO) error {
	if err := s.authorize(token); err != nil {
		return err
	}
	return s.cache.SetCurrentVFO(vfo)
}

// SetCacheTimeout changes the staleness window of class
func (s *Session) SetCacheTimeout(token lease.Token, class cache.Class, ms int) error {
	if err := s.authorize(token); err != nil {
		return err
	}
	return s.cache.SetTimeout(class, ms)
}

// CacheSnapshot returns the cached state of vfo regardless of age
func (s *Session) CacheSnapshot(vfo cache.VFO) (cache.Snapshot, error) {
	return s.cache.Snapshot(vfo)
}

// SendMorse queues text for the keyer. The whole filtered text is queued
// or, on overflow, none of it.
func (s *Session) SendMorse(token lease.Token, text string) (int, error) {
	if err := s.authorize(token); err != nil {
		return 0, err
	}

	s.txMutex.Lock()
	defer s.txMutex.Unlock()

	err := s.queue.PushString(text)
	accepted := fifo.AcceptedLen([]byte(text))
	s.metrics.QueueDepth.Set(float64(s.queue.Len()))

	var overflow *rigerr.OverflowError
	if errors.As(err, &overflow) {
		s.metrics.QueueOverflow.Inc()
		s.journalTransmission(storage.Transmission{
			Text:     text,
			Rejected: overflow.Rejected,
			Status:   storage.TxRejected,
		})
		logging.Warnf("session", "morse rejected: %v", err)
		return 0, err
	}
	if err != nil {
		return 0, err
	}
	if accepted <= 0 {
		return 0, nil
	}

	id := s.journalTransmission(storage.Transmission{
		Text:     text,
		Accepted: accepted,
		Status:   storage.TxQueued,
		VFO:      s.cache.CurrentVFO().String(),
	})
	s.pending = append(s.pending, pending{id: id, remaining: accepted})
	return accepted, nil
}

// AbortMorse discards queued text and stops the radio keyer
func (s *Session) AbortMorse(token lease.Token) error {
	if err := s.authorize(token); err != nil {
		return err
	}

	s.abortPending()

	start := time.Now()
	err := s.radio.StopMorse()
	s.metrics.observeDevice("stop_morse", start, err)
	if err != nil {
		return fmt.Errorf("failed to stop keyer: %w", err)
	}
	return nil
}

func (s *Session) abortPending() {
	s.txMutex.Lock()
	defer s.txMutex.Unlock()

	s.queue.Reset()
	s.metrics.QueueDepth.Set(0)
	for _, p := range s.pending {
		s.updateTransmission(p.id, storage.TxAborted)
	}
	s.pending = nil
}

// onKeyed credits the bytes of chunk to the oldest submissions. A chunk
// the radio refused is lost, so every submission it touched is ABORTED
// and its remaining bytes no longer count as keyed.
func (s *Session) onKeyed(chunk []byte, err error) {
	s.txMutex.Lock()
	defer s.txMutex.Unlock()

	s.metrics.QueueDepth.Set(float64(s.queue.Len()))
	if err != nil {
		s.metrics.DeviceErrors.WithLabelValues("send_morse").Inc()
	} else {
		s.metrics.KeyedBytes.Add(float64(len(chunk)))
	}

	n := len(chunk)
	for n > 0 && len(s.pending) > 0 {
		p := &s.pending[0]
		used := n
		if used > p.remaining {
			used = p.remaining
		}
		p.remaining -= used
		n -= used

		if err != nil && !p.aborted {
			p.aborted = true
			s.updateTransmission(p.id, storage.TxAborted)
		}
		if p.remaining == 0 {
			if !p.aborted {
				s.updateTransmission(p.id, storage.TxKeyed)
			}
			s.pending = s.pending[1:]
		}
	}
}

func (s *Session) journalTransmission(t storage.Transmission) int64 {
	if s.journal == nil {
		return 0
	}
	t.Timestamp = s.clock.Now()
	id, err := s.journal.RecordTransmission(t)
	if err != nil {
		logging.Warnf("session", "failed to journal transmission: %v", err)
		return 0
	}
	return id
}

func (s *Session) updateTransmission(id int64, status string) {
	if s.journal == nil || id == 0 {
		return
	}
	if err := s.journal.UpdateTransmissionStatus(id, status); err != nil {
		logging.Warnf("session", "failed to update transmission %d: %v", id, err)
	}
}

// QueueLen returns the number of bytes waiting for the keyer
func (s *Session) QueueLen() int { return s.queue.Len() }

// Status is a point in time view of the session
type Status struct {
	Connected     bool                        `json:"connected"`
	Radio         *hardware.RadioInfo         `json:"radio,omitempty"`
	LeaseHeld     bool                        `json:"lease_held"`
	LeaseRenewed  *time.Time                  `json:"lease_renewed,omitempty"`
	RequireLease  bool                        `json:"require_lease"`
	CurrentVFO    string                      `json:"current_vfo"`
	CacheTimeouts map[string]int              `json:"cache_timeouts"`
	CacheStats    map[string]cache.ClassStats `json:"cache_stats"`
	QueueLen      int                         `json:"queue_len"`
	QueueCap      int                         `json:"queue_cap"`
	KeyerWPM      int                         `json:"keyer_wpm"`
	Uptime        string                      `json:"uptime"`
}

// Status reports the session state. The lease token itself is never exposed.
func (s *Session) Status() Status {
	st := Status{
		Connected:     s.radio.IsConnected(),
		RequireLease:  s.requireLease.Load(),
		CurrentVFO:    s.cache.CurrentVFO().String(),
		CacheTimeouts: s.cache.Timeouts(),
		CacheStats:    s.cache.Stats(),
		QueueLen:      s.queue.Len(),
		QueueCap:      s.queue.Cap(),
		KeyerWPM:      s.keyer.Config().WPM,
		Uptime:        s.clock.Now().Sub(s.startedAt).Round(time.Second).String(),
	}
	if info, err := s.radio.GetRadioInfo(); err == nil {
		st.Radio = &info
	}
	if _, renewed, held := s.lease.Holder(); held {
		st.LeaseHeld = true
		st.LeaseRenewed = &renewed
	}
	return st
}
