package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougsko/rigsession/pkg/cache"
	"github.com/dougsko/rigsession/pkg/clock"
	"github.com/dougsko/rigsession/pkg/hardware"
	"github.com/dougsko/rigsession/pkg/rigerr"
	"github.com/dougsko/rigsession/pkg/storage"
)

// memJournal records journal writes in memory
type memJournal struct {
	mutex  sync.Mutex
	events []storage.LeaseEvent
	txs    []storage.Transmission
}

func (j *memJournal) RecordLeaseEvent(ev storage.LeaseEvent) error {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	j.events = append(j.events, ev)
	return nil
}

func (j *memJournal) RecordTransmission(t storage.Transmission) (int64, error) {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	t.ID = int64(len(j.txs) + 1)
	j.txs = append(j.txs, t)
	return t.ID, nil
}

func (j *memJournal) UpdateTransmissionStatus(id int64, status string) error {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	if id < 1 || int(id) > len(j.txs) {
		return errors.New("no such transmission")
	}
	j.txs[id-1].Status = status
	return nil
}

func (j *memJournal) statuses() []string {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	out := make([]string, 0, len(j.txs))
	for _, t := range j.txs {
		out = append(out, t.Status)
	}
	return out
}

type fixture struct {
	session *Session
	radio   *hardware.MockRadio
	clock   *clock.Manual
	journal *memJournal
	metrics *Metrics
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	radio := hardware.NewMockRadio(hardware.RadioConfig{Model: "Dummy"})
	require.NoError(t, radio.Initialize())

	f := &fixture{
		radio:   radio,
		clock:   clock.NewManual(time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)),
		journal: &memJournal{},
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	opts.Clock = f.clock
	opts.Journal = f.journal
	opts.Metrics = f.metrics
	if opts.Keyer.ChunkSize == 0 {
		opts.Keyer = KeyerConfig{ChunkSize: 64}
	}

	s, err := New(radio, opts)
	require.NoError(t, err)
	f.session = s
	return f
}

func TestNewRequiresRadio(t *testing.T) {
	_, err := New(nil, Options{})
	assert.ErrorIs(t, err, rigerr.ErrInvalidArgument)
}

func TestSessionFrequencyCache(t *testing.T) {
	f := newFixture(t, Options{})
	s := f.session

	t.Run("Miss Then Hit", func(t *testing.T) {
		freq, hit, err := s.GetFrequency(cache.VFOA)
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, int64(hardware.Band20mCW), freq)

		freq, hit, err = s.GetFrequency(cache.VFOA)
		require.NoError(t, err)
		assert.True(t, hit)
		assert.Equal(t, int64(hardware.Band20mCW), freq)
		assert.Equal(t, 1, f.radio.Calls("get_freq"))
	})

	t.Run("Stale Entry Reaches Radio", func(t *testing.T) {
		f.clock.Advance((cache.DefaultTimeoutMS + 1) * time.Millisecond)
		_, hit, err := s.GetFrequency(cache.VFOA)
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, 2, f.radio.Calls("get_freq"))
	})

	t.Run("Write Populates Cache", func(t *testing.T) {
		require.NoError(t, s.SetFrequency("", cache.VFOB, hardware.Band40mCW))
		freq, hit, err := s.GetFrequency(cache.VFOB)
		require.NoError(t, err)
		assert.True(t, hit)
		assert.Equal(t, int64(hardware.Band40mCW), freq)
		assert.Equal(t, 2, f.radio.Calls("get_freq"))
	})

	t.Run("Failed Write Invalidates", func(t *testing.T) {
		f.radio.FailNext(errors.New("serial timeout"))
		assert.Error(t, s.SetFrequency("", cache.VFOB, hardware.Band80mCW))

		_, hit, err := s.GetFrequency(cache.VFOB)
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, 3, f.radio.Calls("get_freq"))
	})

	t.Run("Invalid Arguments", func(t *testing.T) {
		assert.ErrorIs(t, s.SetFrequency("", cache.VFOA, -1), rigerr.ErrInvalidArgument)
		_, _, err := s.GetFrequency(cache.VFOAll)
		assert.ErrorIs(t, err, rigerr.ErrInvalidArgument)
	})

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.DeviceErrors.WithLabelValues("set_freq")))
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.CacheLookups.WithLabelValues("FREQ", "hit")))
}

func TestSessionModeCache(t *testing.T) {
	f := newFixture(t, Options{})
	s := f.session

	require.NoError(t, s.SetMode("", cache.VFOA, hardware.ModeUSB, hardware.DefaultBandwidth))

	mode, width, hit, err := s.GetMode(cache.VFOA)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, hardware.ModeUSB, mode)
	assert.Equal(t, hardware.DefaultBandwidth, width)
	assert.Equal(t, 0, f.radio.Calls("get_mode"))

	require.NoError(t, s.SetMode("", cache.VFOA, hardware.ModePKTUSB, 0))
	mode, width, _, err = s.GetMode(cache.VFOA)
	require.NoError(t, err)
	assert.Equal(t, hardware.ModePKTUSB, mode)
	assert.Equal(t, hardware.DefaultBandwidth, width, "zero width keeps the passband")

	assert.ErrorIs(t, s.SetMode("", cache.VFOA, "", 0), rigerr.ErrInvalidArgument)

	f.radio.FailNext(errors.New("rig busy"))
	assert.Error(t, s.SetMode("", cache.VFOA, hardware.ModeCW, 500))
	_, _, hit, err = s.GetMode(cache.VFOA)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, f.radio.Calls("get_mode"))
}

func TestSessionCurrentVFOFollowsCache(t *testing.T) {
	f := newFixture(t, Options{})
	s := f.session

	require.NoError(t, s.SetCurrentVFO("", cache.VFOB))
	require.NoError(t, s.SetFrequency("", cache.VFOCurr, 7000000))
	require.NoError(t, s.SetMode("", cache.VFONone, hardware.ModeCW, 500))

	radioB, err := f.radio.GetFrequency(cache.VFOB)
	require.NoError(t, err)
	assert.Equal(t, int64(7000000), radioB, "current VFO write lands on VFOB at the radio")

	freq, hit, err := s.GetFrequency(cache.VFOB)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, radioB, freq)

	radioA, err := f.radio.GetFrequency(cache.VFOA)
	require.NoError(t, err)
	freq, _, err = s.GetFrequency(cache.VFOA)
	require.NoError(t, err)
	assert.Equal(t, radioA, freq)
	assert.NotEqual(t, int64(7000000), freq)

	modeA, _, err := f.radio.GetMode(cache.VFOA)
	require.NoError(t, err)
	mode, _, _, err := s.GetMode(cache.VFOA)
	require.NoError(t, err)
	assert.Equal(t, modeA, mode)

	mode, width, hit, err := s.GetMode(cache.VFOCurr)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, hardware.ModeCW, mode)
	assert.Equal(t, 500, width)
}

func TestSessionCacheTimeouts(t *testing.T) {
	f := newFixture(t, Options{CacheTimeouts: map[cache.Class]int{cache.ClassFreq: 0}})
	s := f.session

	_, _, err := s.GetFrequency(cache.VFOA)
	require.NoError(t, err)
	f.clock.Advance(time.Millisecond)
	_, hit, err := s.GetFrequency(cache.VFOA)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, s.SetCacheTimeout("", cache.ClassFreq, cache.TimeoutAlways))
	f.clock.Advance(time.Hour)
	_, hit, _ = s.GetFrequency(cache.VFOA)
	assert.True(t, hit)

	_, err = New(f.radio, Options{CacheTimeouts: map[cache.Class]int{cache.ClassMode: -7}})
	assert.ErrorIs(t, err, rigerr.ErrInvalidArgument)
}

func TestSessionRequireLease(t *testing.T) {
	f := newFixture(t, Options{RequireLease: true})
	s := f.session

	assert.ErrorIs(t, s.SetFrequency("", cache.VFOA, hardware.Band20mFT8), rigerr.ErrBusy)
	assert.ErrorIs(t, s.SetPTT("", true), rigerr.ErrBusy)
	_, err := s.SendMorse("", "CQ")
	assert.ErrorIs(t, err, rigerr.ErrBusy)
	assert.Equal(t, 0, f.radio.Calls("set_freq"))

	_, _, err = s.GetFrequency(cache.VFOA)
	assert.NoError(t, err, "reads do not need the lease")

	token, err := s.AcquireLease()
	require.NoError(t, err)
	require.NoError(t, s.SetFrequency(token, cache.VFOA, hardware.Band20mFT8))
	require.NoError(t, s.SetPTT(token, true))
	on, err := s.GetPTT()
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, s.ReleaseLease(token))
	assert.ErrorIs(t, s.SetPTT(token, false), rigerr.ErrBusy, "released token loses access")

	s.SetRequireLease(false)
	assert.False(t, s.RequireLease())
	assert.NoError(t, s.SetPTT("", false))
}

func TestSessionLeaseJournal(t *testing.T) {
	f := newFixture(t, Options{})
	s := f.session

	token, err := s.AcquireLease()
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.LeaseHeld))

	_, err = s.AcquireLease()
	assert.ErrorIs(t, err, rigerr.ErrBusy)
	require.NoError(t, s.RenewLease(token))

	holder, _, held := s.LeaseHolder()
	assert.True(t, held)
	assert.Equal(t, token, holder)

	require.NoError(t, s.ReleaseLease(token))
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.LeaseHeld))

	require.Len(t, f.journal.events, 4)
	assert.Equal(t, "GET", f.journal.events[0].Op)
	assert.Equal(t, rigerr.CodeOK, f.journal.events[0].Result)
	assert.Equal(t, string(token), f.journal.events[0].Token)
	assert.Equal(t, rigerr.CodeBusy, f.journal.events[1].Result)
	assert.NotEmpty(t, f.journal.events[1].Error)
	assert.Equal(t, "RELEASE", f.journal.events[3].Op)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.LeaseOps.WithLabelValues("GET", rigerr.CodeBusy)))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.LeaseOps.WithLabelValues("RENEW", rigerr.CodeOK)))
}

func TestSessionSendMorse(t *testing.T) {
	f := newFixture(t, Options{Keyer: KeyerConfig{ChunkSize: 4}})
	s := f.session

	n, err := s.SendMorse("", "CQ\r\n")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "line breaks are filtered")

	n, err = s.SendMorse("", "DE N0CALL")
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, 11, s.QueueLen())
	assert.Equal(t, []string{storage.TxQueued, storage.TxQueued}, f.journal.statuses())

	now := time.Now()
	s.keyer.tick(now)
	assert.Equal(t, []string{storage.TxKeyed, storage.TxQueued}, f.journal.statuses())

	for i := 0; i < 4; i++ {
		now = now.Add(time.Minute)
		s.keyer.tick(now)
	}
	assert.Equal(t, "CQDE N0CALL", f.radio.KeyedText())
	assert.Equal(t, []string{storage.TxKeyed, storage.TxKeyed}, f.journal.statuses())
	assert.Equal(t, 0, s.QueueLen())
	assert.Equal(t, float64(11), testutil.ToFloat64(f.metrics.KeyedBytes))

	n, err = s.SendMorse("", "\n\n")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, f.journal.txs, 2, "empty submissions are not journaled")
}

func TestSessionMorseOverflow(t *testing.T) {
	f := newFixture(t, Options{QueueSize: 16})
	s := f.session

	_, err := s.SendMorse("", "CQ CQ CQ")
	require.NoError(t, err)

	_, err = s.SendMorse("", "DE N0CALL K")
	var overflow *rigerr.OverflowError
	require.True(t, errors.As(err, &overflow))
	assert.Equal(t, 11, overflow.Rejected)
	assert.Equal(t, 7, overflow.Free)
	assert.Equal(t, 8, s.QueueLen(), "rejected submissions leave the queue untouched")

	assert.Equal(t, []string{storage.TxQueued, storage.TxRejected}, f.journal.statuses())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.QueueOverflow))
	assert.True(t, rigerr.IsRetryable(err))
}

func TestSessionMorseDeviceFailure(t *testing.T) {
	f := newFixture(t, Options{Keyer: KeyerConfig{ChunkSize: 64}})
	s := f.session

	_, err := s.SendMorse("", "CQ CQ")
	require.NoError(t, err)
	f.radio.FailNext(errors.New("keyer offline"))
	now := time.Now()
	s.keyer.tick(now)
	assert.Equal(t, "", f.radio.KeyedText())
	assert.Equal(t, []string{storage.TxAborted}, f.journal.statuses())

	_, err = s.SendMorse("", "DE W1AW")
	require.NoError(t, err)
	s.keyer.tick(now.Add(time.Minute))
	assert.Equal(t, "DE W1AW", f.radio.KeyedText())
	assert.Equal(t, []string{storage.TxAborted, storage.TxKeyed}, f.journal.statuses())
	assert.Equal(t, float64(7), testutil.ToFloat64(f.metrics.KeyedBytes))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.DeviceErrors.WithLabelValues("send_morse")))

	t.Run("Chunk Spanning Submissions", func(t *testing.T) {
		g := newFixture(t, Options{Keyer: KeyerConfig{ChunkSize: 4}})
		_, err := g.session.SendMorse("", "AB")
		require.NoError(t, err)
		_, err = g.session.SendMorse("", "CDEF")
		require.NoError(t, err)

		g.radio.FailNext(errors.New("keyer offline"))
		start := time.Now()
		g.session.keyer.tick(start)
		assert.Equal(t, []string{storage.TxAborted, storage.TxAborted}, g.journal.statuses())

		g.session.keyer.tick(start.Add(time.Minute))
		assert.Equal(t, "EF", g.radio.KeyedText())
		assert.Equal(t, []string{storage.TxAborted, storage.TxAborted}, g.journal.statuses(),
			"a partly lost submission is not reported as keyed")
		assert.Equal(t, 0, g.session.QueueLen())
	})
}

func TestSessionAbortMorse(t *testing.T) {
	f := newFixture(t, Options{Keyer: KeyerConfig{ChunkSize: 2}})
	s := f.session

	_, err := s.SendMorse("", "VVV VVV")
	require.NoError(t, err)
	s.keyer.tick(time.Now())
	require.Equal(t, "VV", f.radio.KeyedText())

	require.NoError(t, s.AbortMorse(""))
	assert.Equal(t, 0, s.QueueLen())
	assert.Equal(t, 1, f.radio.Calls("stop_morse"))
	assert.Equal(t, []string{storage.TxAborted}, f.journal.statuses())

	// the keyer picks up again immediately after a flush
	_, err = s.SendMorse("", "K")
	require.NoError(t, err)
	s.keyer.tick(time.Now())
	assert.Equal(t, "VVK", f.radio.KeyedText())
	assert.Equal(t, []string{storage.TxAborted, storage.TxKeyed}, f.journal.statuses())

	f.radio.FailNext(errors.New("keyer offline"))
	assert.Error(t, s.AbortMorse(""))
}

func TestSessionStatus(t *testing.T) {
	f := newFixture(t, Options{CurrentVFO: cache.VFOB})
	s := f.session

	token, err := s.AcquireLease()
	require.NoError(t, err)
	_, err = s.SendMorse(token, "TEST")
	require.NoError(t, err)
	f.clock.Advance(90 * time.Second)

	st := s.Status()
	assert.True(t, st.Connected)
	assert.True(t, st.LeaseHeld)
	require.NotNil(t, st.LeaseRenewed)
	assert.Equal(t, "VFOB", st.CurrentVFO)
	assert.Equal(t, 4, st.QueueLen)
	assert.Equal(t, 1023, st.QueueCap)
	assert.Equal(t, "1m30s", st.Uptime)
	require.NotNil(t, st.Radio)
	assert.Equal(t, hardware.BackendMock, st.Radio.Backend)
	assert.Equal(t, cache.DefaultTimeoutMS, st.CacheTimeouts["FREQ"])

	require.NoError(t, s.SetCurrentVFO(token, cache.VFOC))
	assert.Equal(t, "VFOC", s.Status().CurrentVFO)

	require.NoError(t, s.Close())
	assert.False(t, s.Status().Connected)
	assert.Equal(t, 0, s.QueueLen())
}

func TestSessionReload(t *testing.T) {
	f := newFixture(t, Options{})
	s := f.session

	err := s.Reload(Options{
		RequireLease:  true,
		CurrentVFO:    cache.VFOB,
		CacheTimeouts: map[cache.Class]int{cache.ClassFreq: 100, cache.ClassMode: cache.TimeoutAlways},
		Keyer:         KeyerConfig{WPM: 35, ChunkSize: 2},
	})
	require.NoError(t, err)

	assert.True(t, s.RequireLease())
	assert.Equal(t, cache.VFOB, s.Cache().CurrentVFO())
	assert.Equal(t, map[string]int{"FREQ": 100, "MODE": -1, "WIDTH": cache.DefaultTimeoutMS}, s.Cache().Timeouts())
	assert.Equal(t, 35, s.Keyer().Config().WPM)
	assert.Equal(t, 2, s.Keyer().Config().ChunkSize)

	err = s.Reload(Options{CacheTimeouts: map[cache.Class]int{cache.ClassWidth: -3}})
	assert.ErrorIs(t, err, rigerr.ErrInvalidArgument)
	assert.True(t, s.RequireLease(), "failed reload leaves settings alone")
}
