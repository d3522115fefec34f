package hardware

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dougsko/rigsession/pkg/cache"
	"github.com/dougsko/rigsession/pkg/logging"
	"github.com/dougsko/rigsession/pkg/rigerr"
)

const (
	// DefaultRigctldAddress is where rigctld listens unless told otherwise
	DefaultRigctldAddress = "localhost:4532"
	defaultRigctldTimeout = 2 * time.Second
	rigctldReply          = "RPRT "
)

// rigctld status codes (negated on the wire)
const (
	rigEINVAL   = 1
	rigENIMPL   = 4
	rigETIMEOUT = 5
	rigEIO      = 6
	rigEPROTO   = 8
)

// RigctldRadio implements RadioInterface against a rigctld daemon over TCP
type RigctldRadio struct {
	config RadioConfig
	mutex  sync.Mutex

	conn      net.Conn
	reader    *bufio.Reader
	connected bool
	selected  cache.VFO
}

// NewRigctldRadio creates a rigctld backed radio
func NewRigctldRadio(config RadioConfig) *RigctldRadio {
	if config.Address == "" {
		config.Address = DefaultRigctldAddress
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultRigctldTimeout
	}
	return &RigctldRadio{config: config, selected: cache.VFOCurr}
}

// Initialize dials rigctld
func (r *RigctldRadio) Initialize() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.connected {
		return nil
	}

	conn, err := net.DialTimeout("tcp", r.config.Address, r.config.Timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to rigctld at %s: %w", r.config.Address, err)
	}

	r.conn = conn
	r.reader = bufio.NewReader(conn)
	r.connected = true
	r.selected = cache.VFOCurr
	logging.Infof("radio", "connected to rigctld at %s", r.config.Address)
	return nil
}

// Close sends the quit command and closes the connection
func (r *RigctldRadio) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.connected {
		return nil
	}

	_, _ = r.conn.Write([]byte("q\n"))
	err := r.conn.Close()
	r.connected = false
	r.conn = nil
	r.reader = nil
	logging.Info("radio", "rigctld connection closed")
	return err
}

// transactLocked writes cmd and reads lines reply lines. A set command
// expects lines == 0 and a bare RPRT status.
func (r *RigctldRadio) transactLocked(cmd string, lines int) ([]string, error) {
	if !r.connected {
		return nil, fmt.Errorf("rigctld: %w", rigerr.ErrNotConnected)
	}

	if err := r.conn.SetDeadline(time.Now().Add(r.config.Timeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}
	if _, err := r.conn.Write([]byte(cmd + "\n")); err != nil {
		r.dropLocked()
		return nil, fmt.Errorf("failed to write %q: %w", cmd, err)
	}

	want := lines
	if want == 0 {
		want = 1
	}

	var out []string
	for len(out) < want {
		line, err := r.reader.ReadString('\n')
		if err != nil {
			r.dropLocked()
			return nil, fmt.Errorf("failed to read reply to %q: %w", cmd, err)
		}
		line = strings.TrimRight(line, "\r\n")

		if strings.HasPrefix(line, rigctldReply) {
			code, err := strconv.Atoi(strings.TrimSpace(line[len(rigctldReply):]))
			if err != nil {
				return nil, fmt.Errorf("malformed status %q: %w", line, rigerr.ErrProtocol)
			}
			if code != 0 {
				return nil, rigctldError(cmd, code)
			}
			if lines == 0 {
				return nil, nil
			}
			return nil, fmt.Errorf("reply to %q ended early: %w", cmd, rigerr.ErrProtocol)
		}
		out = append(out, line)
	}
	if lines == 0 {
		return nil, fmt.Errorf("unexpected reply %q to %q: %w", out[0], cmd, rigerr.ErrProtocol)
	}
	return out, nil
}

func (r *RigctldRadio) dropLocked() {
	if r.conn != nil {
		r.conn.Close()
	}
	r.connected = false
	logging.Warn("radio", "rigctld connection lost")
}

func rigctldError(cmd string, code int) error {
	if code < 0 {
		code = -code
	}
	switch code {
	case rigEINVAL:
		return fmt.Errorf("rigctld rejected %q: %w", cmd, rigerr.ErrInvalidArgument)
	case rigEPROTO:
		return fmt.Errorf("rigctld protocol error on %q: %w", cmd, rigerr.ErrProtocol)
	case rigENIMPL:
		return fmt.Errorf("rigctld does not implement %q", cmd)
	case rigETIMEOUT, rigEIO:
		return fmt.Errorf("rigctld I/O error %d on %q", code, cmd)
	default:
		return fmt.Errorf("rigctld error %d on %q", code, cmd)
	}
}

// selectLocked switches the target VFO when vfo names a concrete one
func (r *RigctldRadio) selectLocked(vfo cache.VFO) error {
	if vfo == cache.VFOCurr || vfo == cache.VFONone || vfo == r.selected {
		return nil
	}
	if vfo == cache.VFOAll {
		return fmt.Errorf("vfo %s cannot be tuned: %w", vfo, rigerr.ErrInvalidArgument)
	}
	if _, err := r.transactLocked("V "+vfo.String(), 0); err != nil {
		return err
	}
	r.selected = vfo
	return nil
}

// SetFrequency tunes vfo
func (r *RigctldRadio) SetFrequency(vfo cache.VFO, freq int64) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.selectLocked(vfo); err != nil {
		return err
	}
	_, err := r.transactLocked(fmt.Sprintf("F %d", freq), 0)
	return err
}

// GetFrequency reads the frequency of vfo
func (r *RigctldRadio) GetFrequency(vfo cache.VFO) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.selectLocked(vfo); err != nil {
		return 0, err
	}
	lines, err := r.transactLocked("f", 1)
	if err != nil {
		return 0, err
	}
	// some rigs report fractional Hz
	hz, err := strconv.ParseFloat(strings.TrimSpace(lines[0]), 64)
	if err != nil {
		return 0, fmt.Errorf("malformed frequency %q: %w", lines[0], rigerr.ErrProtocol)
	}
	return int64(hz), nil
}

// SetMode sets mode and passband of vfo. Bandwidth 0 keeps the rig default.
func (r *RigctldRadio) SetMode(vfo cache.VFO, mode string, bandwidth int) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.selectLocked(vfo); err != nil {
		return err
	}
	if bandwidth < 0 {
		bandwidth = 0
	}
	_, err := r.transactLocked(fmt.Sprintf("M %s %d", strings.ToUpper(mode), bandwidth), 0)
	return err
}

// GetMode reads mode and passband of vfo
func (r *RigctldRadio) GetMode(vfo cache.VFO) (string, int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.selectLocked(vfo); err != nil {
		return "", 0, err
	}
	lines, err := r.transactLocked("m", 2)
	if err != nil {
		return "", 0, err
	}
	width, err := strconv.Atoi(strings.TrimSpace(lines[1]))
	if err != nil {
		return "", 0, fmt.Errorf("malformed passband %q: %w", lines[1], rigerr.ErrProtocol)
	}
	return strings.TrimSpace(lines[0]), width, nil
}

// SetPTT keys or unkeys the transmitter
func (r *RigctldRadio) SetPTT(state bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	v := 0
	if state {
		v = 1
	}
	_, err := r.transactLocked(fmt.Sprintf("T %d", v), 0)
	return err
}

// GetPTT reads the transmit state
func (r *RigctldRadio) GetPTT() (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	lines, err := r.transactLocked("t", 1)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(lines[0]) != "0", nil
}

// SendMorse hands text to the rig's keyer
func (r *RigctldRadio) SendMorse(text string) error {
	if strings.ContainsAny(text, "\r\n") {
		return fmt.Errorf("morse text contains line break: %w", rigerr.ErrInvalidArgument)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	_, err := r.transactLocked("b "+text, 0)
	return err
}

// StopMorse aborts the rig's keyer
func (r *RigctldRadio) StopMorse() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	_, err := r.transactLocked(`\stop_morse`, 0)
	return err
}

// GetRadioInfo returns the configured identity of the rig
func (r *RigctldRadio) GetRadioInfo() (RadioInfo, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.connected {
		return RadioInfo{}, fmt.Errorf("rigctld: %w", rigerr.ErrNotConnected)
	}

	return RadioInfo{
		Model:        r.config.Model,
		Manufacturer: "Hamlib",
		Version:      "rigctld " + r.config.Address,
		Backend:      BackendRigctld,
		Capabilities: []string{"freq", "mode", "ptt", "morse", "vfo"},
	}, nil
}

// IsConnected reports whether the TCP session is up
func (r *RigctldRadio) IsConnected() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.connected
}
