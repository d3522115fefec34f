package hardware

import (
	"fmt"
	"strings"
	"time"

	"github.com/dougsko/rigsession/pkg/cache"
	"github.com/dougsko/rigsession/pkg/logging"
)

// NewRadio creates the backend named by config.Backend. An empty backend
// selects the mock radio.
func NewRadio(config RadioConfig) (RadioInterface, error) {
	switch strings.ToLower(config.Backend) {
	case "", BackendMock:
		return NewMockRadio(config), nil
	case BackendRigctld:
		return NewRigctldRadio(config), nil
	default:
		return nil, fmt.Errorf("unknown radio backend %q", config.Backend)
	}
}

// Connect creates and initializes a radio, retrying the dial up to attempts
// times with the given pause in between
func Connect(config RadioConfig, attempts int, pause time.Duration) (RadioInterface, error) {
	radio, err := NewRadio(config)
	if err != nil {
		return nil, err
	}
	if attempts < 1 {
		attempts = 1
	}

	for i := 1; ; i++ {
		err = radio.Initialize()
		if err == nil {
			return radio, nil
		}
		if i >= attempts {
			return nil, fmt.Errorf("failed to initialize %s radio after %d attempts: %w",
				config.Backend, attempts, err)
		}
		logging.Warnf("radio", "initialize attempt %d/%d failed: %v", i, attempts, err)
		time.Sleep(pause)
	}
}

// Probe reads frequency and mode of vfo, used as a startup health check
func Probe(radio RadioInterface, vfo cache.VFO) (int64, string, error) {
	freq, err := radio.GetFrequency(vfo)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read frequency: %w", err)
	}
	mode, _, err := radio.GetMode(vfo)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read mode: %w", err)
	}
	return freq, mode, nil
}
