package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	// Create a temporary directory for test files
	tempDir, err := os.MkdirTemp("", "rigsession-config-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	t.Run("Valid Config", func(t *testing.T) {
		configContent := `
station:
  callsign: "N0CALL"

radio:
  backend: "rigctld"
  model: "IC-7300"
  address: "192.168.1.20:4532"
  timeout_ms: 1500

cache:
  freq_timeout_ms: 0
  mode_timeout_ms: -1

keyer:
  wpm: 25
  chunk_size: 4

session:
  require_lease: true

storage:
  database_path: "/tmp/rigsession.db"
  max_events: 5000

logging:
  level: "debug"
  file: "/var/log/rigsession.log"
  console: true
  structured: true
`
		configPath := filepath.Join(tempDir, "valid.yaml")
		if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
			t.Fatalf("Failed to write config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if config.Station.Callsign != "N0CALL" {
			t.Errorf("Expected callsign N0CALL, got %s", config.Station.Callsign)
		}
		if config.Radio.Backend != "rigctld" {
			t.Errorf("Expected rigctld backend, got %s", config.Radio.Backend)
		}
		if config.Radio.TimeoutMS != 1500 {
			t.Errorf("Expected timeout 1500, got %d", config.Radio.TimeoutMS)
		}
		if !config.Session.RequireLease {
			t.Error("Expected require_lease to be set")
		}
		if config.Keyer.WPM != 25 || config.Keyer.ChunkSize != 4 {
			t.Errorf("Unexpected keyer settings %+v", config.Keyer)
		}
		if !config.Logging.Structured || !config.Logging.Console {
			t.Error("Expected structured console logging")
		}
		if config.Storage.MaxEvents != 5000 {
			t.Errorf("Expected max events 5000, got %d", config.Storage.MaxEvents)
		}

		timeouts := config.CacheTimeouts()
		if timeouts["FREQ"] != 0 {
			t.Errorf("Explicit zero timeout must survive defaults, got %d", timeouts["FREQ"])
		}
		if timeouts["MODE"] != -1 {
			t.Errorf("Expected mode timeout -1, got %d", timeouts["MODE"])
		}
		if timeouts["WIDTH"] != 500 {
			t.Errorf("Expected default width timeout 500, got %d", timeouts["WIDTH"])
		}

		if err := config.Validate(); err != nil {
			t.Errorf("Expected valid config, got: %v", err)
		}
	})

	t.Run("Defaults", func(t *testing.T) {
		configPath := filepath.Join(tempDir, "minimal.yaml")
		if err := os.WriteFile(configPath, []byte("station:\n  callsign: N0CALL\n"), 0644); err != nil {
			t.Fatalf("Failed to write config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if config.Radio.Backend != "mock" {
			t.Errorf("Expected mock backend, got %s", config.Radio.Backend)
		}
		if config.Keyer.QueueSize != 1024 {
			t.Errorf("Expected queue size 1024, got %d", config.Keyer.QueueSize)
		}
		if config.API.UnixSocket != "/tmp/rigsession.sock" {
			t.Errorf("Unexpected socket path %s", config.API.UnixSocket)
		}
		if config.Logging.Level != "info" {
			t.Errorf("Expected info level, got %s", config.Logging.Level)
		}
	})

	t.Run("Missing File", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(tempDir, "nonexistent.yaml"))
		if err == nil {
			t.Error("Expected error for missing file")
		}
	})

	t.Run("Invalid YAML", func(t *testing.T) {
		configPath := filepath.Join(tempDir, "invalid.yaml")
		if err := os.WriteFile(configPath, []byte("radio: [unclosed"), 0644); err != nil {
			t.Fatalf("Failed to write config file: %v", err)
		}
		_, err := LoadConfig(configPath)
		if err == nil || !strings.Contains(err.Error(), "failed to parse") {
			t.Errorf("Expected parse error, got: %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"Unknown Backend", func(c *Config) { c.Radio.Backend = "serial" }},
		{"Bad Cache Timeout", func(c *Config) { c.Cache.FreqTimeoutMS = intPtr(-7) }},
		{"Slow Keyer", func(c *Config) { c.Keyer.WPM = 2 }},
		{"Tiny Queue", func(c *Config) { c.Keyer.QueueSize = 1 }},
		{"Bad Web Port", func(c *Config) { c.Web.Enabled = true; c.Web.Port = 70000 }},
		{"Negative Rate Limit", func(c *Config) { c.Web.RateLimit = -1 }},
		{"No Socket", func(c *Config) { c.API.UnixSocket = "" }},
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("Default config must validate: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)
			if err := config.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestWatch(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "rigsession.yaml")
	if err := os.WriteFile(configPath, []byte("keyer:\n  wpm: 20\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	failures := make(chan error, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, configPath,
			func(c *Config) { changes <- c },
			func(err error) { failures <- err })
	}()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)

	t.Run("Reload On Write", func(t *testing.T) {
		if err := os.WriteFile(configPath, []byte("keyer:\n  wpm: 30\n"), 0644); err != nil {
			t.Fatalf("Failed to rewrite config: %v", err)
		}
		select {
		case c := <-changes:
			if c.Keyer.WPM != 30 {
				t.Errorf("Expected reloaded wpm 30, got %d", c.Keyer.WPM)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("Timed out waiting for reload")
		}
	})

	t.Run("Invalid Reload Reported", func(t *testing.T) {
		if err := os.WriteFile(configPath, []byte("keyer:\n  wpm: 500\n"), 0644); err != nil {
			t.Fatalf("Failed to rewrite config: %v", err)
		}
		select {
		case <-failures:
		case c := <-changes:
			t.Errorf("Invalid config must not be applied, got wpm %d", c.Keyer.WPM)
		case <-time.After(3 * time.Second):
			t.Fatal("Timed out waiting for validation error")
		}
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not stop on cancel")
	}
}
