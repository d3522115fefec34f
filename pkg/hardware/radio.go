package hardware

import (
	"time"

	"github.com/dougsko/rigsession/pkg/cache"
)

// Radio backends
const (
	BackendMock    = "mock"
	BackendRigctld = "rigctld"
)

// RadioConfig represents radio configuration
type RadioConfig struct {
	Backend string        // "mock" or "rigctld"
	Model   string        // Descriptive model name
	Address string        // rigctld host:port
	Timeout time.Duration // Per transaction I/O timeout
	Enabled bool          // Whether radio control is enabled
}

// RadioInterface defines radio control operations. Every tuning call names
// the VFO it applies to; cache.VFOCurr leaves the choice to the radio.
type RadioInterface interface {
	Initialize() error
	Close() error

	// Frequency control
	SetFrequency(vfo cache.VFO, freq int64) error
	GetFrequency(vfo cache.VFO) (int64, error)

	// Mode control
	SetMode(vfo cache.VFO, mode string, bandwidth int) error
	GetMode(vfo cache.VFO) (string, int, error)

	// PTT control
	SetPTT(state bool) error
	GetPTT() (bool, error)

	// Keyer
	SendMorse(text string) error
	StopMorse() error

	// Radio information
	GetRadioInfo() (RadioInfo, error)
	IsConnected() bool
}

// RadioInfo represents radio information
type RadioInfo struct {
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
	Version      string   `json:"version"`
	Backend      string   `json:"backend"`
	Capabilities []string `json:"capabilities"`
}

// RadioMode constants for common amateur radio modes
const (
	ModeUSB    = "USB"
	ModeLSB    = "LSB"
	ModeCW     = "CW"
	ModeCWR    = "CWR"
	ModeRTTY   = "RTTY"
	ModePKTUSB = "PKTUSB"
	ModePKTLSB = "PKTLSB"
	ModeFM     = "FM"
	ModeAM     = "AM"
)

// Common amateur radio calling frequencies (Hz)
const (
	Band80mCW  = 3560000
	Band40mCW  = 7030000
	Band20mCW  = 14060000
	Band20mFT8 = 14074000
	Band15mCW  = 21060000
	Band10mCW  = 28060000
)

// DefaultBandwidth is the passband used when a radio reports none (Hz)
const DefaultBandwidth = 2400
