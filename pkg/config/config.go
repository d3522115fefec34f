package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// Config represents the rigsession configuration
type Config struct {
	Station struct {
		Callsign string `yaml:"callsign"`
	} `yaml:"station"`

	Radio struct {
		Backend         string `yaml:"backend"` // mock or rigctld
		Model           string `yaml:"model"`
		Address         string `yaml:"address"`
		TimeoutMS       int    `yaml:"timeout_ms"`
		ConnectAttempts int    `yaml:"connect_attempts"`
		CurrentVFO      string `yaml:"current_vfo"`
	} `yaml:"radio"`

	// Cache timeouts in milliseconds. Unset selects 500, -1 never expires.
	Cache struct {
		FreqTimeoutMS  *int `yaml:"freq_timeout_ms"`
		ModeTimeoutMS  *int `yaml:"mode_timeout_ms"`
		WidthTimeoutMS *int `yaml:"width_timeout_ms"`
	} `yaml:"cache"`

	Keyer struct {
		WPM        int `yaml:"wpm"`
		IntervalMS int `yaml:"interval_ms"`
		ChunkSize  int `yaml:"chunk_size"`
		QueueSize  int `yaml:"queue_size"`
	} `yaml:"keyer"`

	Session struct {
		RequireLease bool `yaml:"require_lease"`
	} `yaml:"session"`

	Web struct {
		Enabled     bool   `yaml:"enabled"`
		Port        int    `yaml:"port"`
		BindAddress string `yaml:"bind_address"`
		// Requests per second on routes that reach the radio, 0 disables
		RateLimit float64 `yaml:"rate_limit"`
		RateBurst int     `yaml:"rate_burst"`
	} `yaml:"web"`

	API struct {
		UnixSocket string `yaml:"unix_socket"`
	} `yaml:"api"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`

	Storage struct {
		DatabasePath string `yaml:"database_path"`
		MaxEvents    int    `yaml:"max_events"`
	} `yaml:"storage"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		Console    bool   `yaml:"console"`
		Structured bool   `yaml:"structured"`
		MaxSize    int    `yaml:"max_size"`    // megabytes
		MaxBackups int    `yaml:"max_backups"` // files
		MaxAge     int    `yaml:"max_age"`     // days
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	var config Config
	config.applyDefaults()
	return &config
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.applyDefaults()
	return &config, nil
}

func intPtr(v int) *int { return &v }

func (c *Config) applyDefaults() {
	if c.Radio.Backend == "" {
		c.Radio.Backend = "mock"
	}
	if c.Radio.Model == "" {
		c.Radio.Model = "Dummy"
	}
	if c.Radio.Address == "" {
		c.Radio.Address = "localhost:4532"
	}
	if c.Radio.TimeoutMS == 0 {
		c.Radio.TimeoutMS = 2000
	}
	if c.Radio.ConnectAttempts == 0 {
		c.Radio.ConnectAttempts = 3
	}
	if c.Radio.CurrentVFO == "" {
		c.Radio.CurrentVFO = "VFOA"
	}
	if c.Cache.FreqTimeoutMS == nil {
		c.Cache.FreqTimeoutMS = intPtr(500)
	}
	if c.Cache.ModeTimeoutMS == nil {
		c.Cache.ModeTimeoutMS = intPtr(500)
	}
	if c.Cache.WidthTimeoutMS == nil {
		c.Cache.WidthTimeoutMS = intPtr(500)
	}
	if c.Keyer.WPM == 0 {
		c.Keyer.WPM = 20
	}
	if c.Keyer.IntervalMS == 0 {
		c.Keyer.IntervalMS = 250
	}
	if c.Keyer.ChunkSize == 0 {
		c.Keyer.ChunkSize = 8
	}
	if c.Keyer.QueueSize == 0 {
		c.Keyer.QueueSize = 1024
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.BindAddress == "" {
		c.Web.BindAddress = "127.0.0.1"
	}
	if c.Web.RateBurst == 0 {
		c.Web.RateBurst = 10
	}
	if c.API.UnixSocket == "" {
		c.API.UnixSocket = "/tmp/rigsession.sock"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Storage.MaxEvents == 0 {
		c.Storage.MaxEvents = 10000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAge == 0 {
		c.Logging.MaxAge = 28
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch strings.ToLower(c.Radio.Backend) {
	case "mock", "rigctld":
	default:
		return fmt.Errorf("unknown radio backend %q", c.Radio.Backend)
	}
	if c.Radio.TimeoutMS < 0 {
		return fmt.Errorf("radio timeout must not be negative")
	}
	for name, ms := range map[string]*int{
		"freq":  c.Cache.FreqTimeoutMS,
		"mode":  c.Cache.ModeTimeoutMS,
		"width": c.Cache.WidthTimeoutMS,
	} {
		if ms != nil && *ms < -1 {
			return fmt.Errorf("cache %s timeout %d ms is invalid (use -1 for never)", name, *ms)
		}
	}
	if c.Keyer.WPM < 5 || c.Keyer.WPM > 60 {
		return fmt.Errorf("keyer wpm %d out of range 5-60", c.Keyer.WPM)
	}
	if c.Keyer.IntervalMS <= 0 {
		return fmt.Errorf("keyer interval must be positive")
	}
	if c.Keyer.ChunkSize <= 0 {
		return fmt.Errorf("keyer chunk size must be positive")
	}
	if c.Keyer.QueueSize < 2 {
		return fmt.Errorf("keyer queue size must be at least 2")
	}
	if c.Web.Enabled && (c.Web.Port <= 0 || c.Web.Port > 65535) {
		return fmt.Errorf("web port %d is invalid", c.Web.Port)
	}
	if c.Web.RateLimit < 0 {
		return fmt.Errorf("web rate limit must not be negative")
	}
	if c.API.UnixSocket == "" {
		return fmt.Errorf("unix socket path is required")
	}
	return nil
}

// CacheTimeouts returns the configured windows keyed by class name
func (c *Config) CacheTimeouts() map[string]int {
	get := func(p *int) int {
		if p == nil {
			return 500
		}
		return *p
	}
	return map[string]int{
		"FREQ":  get(c.Cache.FreqTimeoutMS),
		"MODE":  get(c.Cache.ModeTimeoutMS),
		"WIDTH": get(c.Cache.WidthTimeoutMS),
	}
}
