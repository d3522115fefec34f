package hardware

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dougsko/rigsession/pkg/cache"
	"github.com/dougsko/rigsession/pkg/logging"
	"github.com/dougsko/rigsession/pkg/rigerr"
)

type mockVFO struct {
	frequency int64
	mode      string
	bandwidth int
}

// MockRadio implements RadioInterface for testing. It keeps independent
// state per VFO and counts every call so callers can assert that cached
// lookups never reached the device.
type MockRadio struct {
	config RadioConfig
	mutex  sync.RWMutex

	connected bool
	vfos      map[cache.VFO]*mockVFO
	ptt       bool
	keyed     []string
	calls     map[string]int
	latency   time.Duration
	failNext  error
}

// NewMockRadio creates a new mock radio interface
func NewMockRadio(config RadioConfig) *MockRadio {
	r := &MockRadio{
		config: config,
		vfos:   make(map[cache.VFO]*mockVFO),
		calls:  make(map[string]int),
	}
	for _, v := range []cache.VFO{cache.VFOA, cache.VFOB, cache.VFOC} {
		r.vfos[v] = &mockVFO{frequency: Band20mCW, mode: ModeCW, bandwidth: 500}
	}
	return r
}

// Initialize initializes the mock radio
func (r *MockRadio) Initialize() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.connected = true
	logging.Infof("radio", "mock radio %q connected", r.config.Model)
	return nil
}

// Close closes the mock radio connection
func (r *MockRadio) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.connected {
		return nil
	}
	r.connected = false
	logging.Info("radio", "mock radio closed")
	return nil
}

// SetLatency delays every device call by d
func (r *MockRadio) SetLatency(d time.Duration) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.latency = d
}

// FailNext makes the next device call return err
func (r *MockRadio) FailNext(err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.failNext = err
}

// Calls returns how often op was invoked ("get_freq", "set_mode", ...)
func (r *MockRadio) Calls(op string) int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.calls[op]
}

// Keyed returns every text passed to SendMorse
func (r *MockRadio) Keyed() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return append([]string(nil), r.keyed...)
}

// KeyedText returns the concatenation of every SendMorse call
func (r *MockRadio) KeyedText() string {
	return strings.Join(r.Keyed(), "")
}

// begin must be called with the write lock held
func (r *MockRadio) begin(op string) error {
	r.calls[op]++
	if r.latency > 0 {
		time.Sleep(r.latency)
	}
	if err := r.failNext; err != nil {
		r.failNext = nil
		return err
	}
	if !r.connected {
		return fmt.Errorf("mock radio: %w", rigerr.ErrNotConnected)
	}
	return nil
}

func (r *MockRadio) vfoLocked(vfo cache.VFO) (*mockVFO, error) {
	if vfo == cache.VFOCurr || vfo == cache.VFONone {
		vfo = cache.VFOA
	}
	state, ok := r.vfos[vfo]
	if !ok {
		return nil, fmt.Errorf("mock radio has no %s: %w", vfo, rigerr.ErrInvalidArgument)
	}
	return state, nil
}

// SetFrequency sets the mock radio frequency
func (r *MockRadio) SetFrequency(vfo cache.VFO, freq int64) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.begin("set_freq"); err != nil {
		return err
	}
	state, err := r.vfoLocked(vfo)
	if err != nil {
		return err
	}
	state.frequency = freq
	logging.Debugf("radio", "mock %s frequency %d Hz", vfo, freq)
	return nil
}

// GetFrequency gets the mock radio frequency
func (r *MockRadio) GetFrequency(vfo cache.VFO) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.begin("get_freq"); err != nil {
		return 0, err
	}
	state, err := r.vfoLocked(vfo)
	if err != nil {
		return 0, err
	}
	return state.frequency, nil
}

// SetMode sets the mock radio mode. A non-positive bandwidth keeps the current one.
func (r *MockRadio) SetMode(vfo cache.VFO, mode string, bandwidth int) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.begin("set_mode"); err != nil {
		return err
	}
	state, err := r.vfoLocked(vfo)
	if err != nil {
		return err
	}
	state.mode = mode
	if bandwidth > 0 {
		state.bandwidth = bandwidth
	}
	logging.Debugf("radio", "mock %s mode %s %d Hz", vfo, mode, state.bandwidth)
	return nil
}

// GetMode gets the mock radio mode
func (r *MockRadio) GetMode(vfo cache.VFO) (string, int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.begin("get_mode"); err != nil {
		return "", 0, err
	}
	state, err := r.vfoLocked(vfo)
	if err != nil {
		return "", 0, err
	}
	return state.mode, state.bandwidth, nil
}

// SetPTT sets the mock PTT state
func (r *MockRadio) SetPTT(state bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.begin("set_ptt"); err != nil {
		return err
	}
	if state != r.ptt {
		logging.Debugf("radio", "mock PTT %v", state)
		r.ptt = state
	}
	return nil
}

// GetPTT gets the mock PTT state
func (r *MockRadio) GetPTT() (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.begin("get_ptt"); err != nil {
		return false, err
	}
	return r.ptt, nil
}

// SendMorse records text as keyed
func (r *MockRadio) SendMorse(text string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.begin("send_morse"); err != nil {
		return err
	}
	r.keyed = append(r.keyed, text)
	return nil
}

// StopMorse aborts keying
func (r *MockRadio) StopMorse() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.begin("stop_morse")
}

// GetRadioInfo gets mock radio information
func (r *MockRadio) GetRadioInfo() (RadioInfo, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if !r.connected {
		return RadioInfo{}, fmt.Errorf("mock radio: %w", rigerr.ErrNotConnected)
	}

	return RadioInfo{
		Model:        r.config.Model + " (Mock)",
		Manufacturer: "MockRadio Inc.",
		Version:      "1.0.0-mock",
		Backend:      BackendMock,
		Capabilities: []string{"freq", "mode", "ptt", "morse", "vfo"},
	}, nil
}

// IsConnected returns mock connection state
func (r *MockRadio) IsConnected() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.connected
}
