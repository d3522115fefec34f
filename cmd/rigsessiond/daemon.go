package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dougsko/rigsession/pkg/cache"
	"github.com/dougsko/rigsession/pkg/client"
	"github.com/dougsko/rigsession/pkg/config"
	"github.com/dougsko/rigsession/pkg/engine"
	"github.com/dougsko/rigsession/pkg/hardware"
	"github.com/dougsko/rigsession/pkg/logging"
	"github.com/dougsko/rigsession/pkg/session"
	"github.com/dougsko/rigsession/pkg/storage"
)

// journalCleanupInterval is how often the journal is trimmed to MaxEvents
const journalCleanupInterval = time.Hour

// Daemon wires one radio session to the socket engine and the web API
type Daemon struct {
	config     *config.Config
	configPath string
	mutex      sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	// Core components
	radio        hardware.RadioInterface
	session      *session.Session
	engine       *engine.Engine
	journal      *storage.JournalStore
	registry     *prometheus.Registry
	socketClient *client.SocketClient

	router         *gin.Engine
	webServer      *http.Server
	statusInterval time.Duration

	socketPath string
}

// NewDaemon connects the radio and builds every component from cfg
func NewDaemon(cfg *config.Config, configPath string) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:         cfg,
		configPath:     configPath,
		ctx:            ctx,
		cancel:         cancel,
		socketPath:     cfg.API.UnixSocket,
		socketClient:   client.NewSocketClient(cfg.API.UnixSocket),
		registry:       prometheus.NewRegistry(),
		statusInterval: time.Second,
	}

	d.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	radio, err := hardware.Connect(radioConfig(cfg), cfg.Radio.ConnectAttempts, time.Second)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect radio: %w", err)
	}
	d.radio = radio

	if freq, mode, err := hardware.Probe(radio, cache.VFOCurr); err != nil {
		logging.Warnf("daemon", "radio probe failed: %v", err)
	} else {
		logging.Infof("daemon", "radio on %.6f MHz %s", float64(freq)/1e6, mode)
	}

	opts, err := sessionOptions(cfg)
	if err != nil {
		d.close()
		return nil, err
	}

	if cfg.Storage.DatabasePath != "" {
		journal, err := storage.NewJournalStore(cfg.Storage.DatabasePath, cfg.Storage.MaxEvents)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		d.journal = journal
		opts.Journal = journal
	}
	opts.Metrics = session.NewMetrics(d.registry)

	sess, err := session.New(radio, opts)
	if err != nil {
		d.close()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	d.session = sess
	d.engine = engine.NewEngine(sess, d.socketPath)

	d.setupWebServer()

	return d, nil
}

// radioConfig maps the radio section onto the hardware layer
func radioConfig(cfg *config.Config) hardware.RadioConfig {
	return hardware.RadioConfig{
		Backend: cfg.Radio.Backend,
		Model:   cfg.Radio.Model,
		Address: cfg.Radio.Address,
		Timeout: time.Duration(cfg.Radio.TimeoutMS) * time.Millisecond,
		Enabled: true,
	}
}

// sessionOptions maps the reloadable sections onto session options
func sessionOptions(cfg *config.Config) (session.Options, error) {
	vfo, err := cache.ParseVFO(cfg.Radio.CurrentVFO)
	if err != nil {
		return session.Options{}, fmt.Errorf("radio current_vfo: %w", err)
	}
	if vfo == cache.VFOCurr {
		vfo = cache.VFONone
	}

	timeouts := make(map[cache.Class]int)
	for name, ms := range cfg.CacheTimeouts() {
		class, err := cache.ParseClass(name)
		if err != nil {
			return session.Options{}, err
		}
		timeouts[class] = ms
	}

	return session.Options{
		QueueSize:     cfg.Keyer.QueueSize,
		CacheTimeouts: timeouts,
		CurrentVFO:    vfo,
		RequireLease:  cfg.Session.RequireLease,
		Keyer: session.KeyerConfig{
			Interval:  time.Duration(cfg.Keyer.IntervalMS) * time.Millisecond,
			ChunkSize: cfg.Keyer.ChunkSize,
			WPM:       cfg.Keyer.WPM,
			Paced:     true,
		},
	}, nil
}

// Start starts the socket engine, keyer, web server and config watcher
func (d *Daemon) Start() error {
	logging.Info("daemon", "starting rigsessiond daemon")

	if err := d.engine.Start(); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	// Test socket connection
	if !d.socketClient.IsConnected() {
		return fmt.Errorf("failed to connect to engine socket")
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.session.Run(d.ctx)
	}()

	cfg := d.currentConfig()
	if cfg.Web.Enabled {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			logging.Infof("web", "starting web server on %s", d.webServer.Addr)
			if err := d.webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Errorf("web", "web server error: %v", err)
			}
		}()
	}

	if d.configPath != "" {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			err := config.Watch(d.ctx, d.configPath, d.applyConfig, func(err error) {
				logging.Warnf("config", "reload rejected: %v", err)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logging.Warnf("config", "config watcher stopped: %v", err)
			}
		}()
	}

	if d.journal != nil {
		d.wg.Add(1)
		go d.journalCleaner()
	}

	return nil
}

// Stop stops the daemon gracefully
func (d *Daemon) Stop() error {
	logging.Info("daemon", "stopping daemon")

	d.cancel()

	if d.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.webServer.Shutdown(ctx); err != nil {
			logging.Warnf("web", "web server shutdown error: %v", err)
		}
	}

	if d.engine != nil {
		if err := d.engine.Stop(); err != nil {
			logging.Warnf("daemon", "engine shutdown error: %v", err)
		}
	}

	d.wg.Wait()
	d.close()

	logging.Info("daemon", "daemon stopped")
	return nil
}

// close releases the radio and the journal
func (d *Daemon) close() {
	d.cancel()
	if d.session != nil {
		if err := d.session.Close(); err != nil {
			logging.Warnf("daemon", "session close error: %v", err)
		}
	} else if d.radio != nil {
		d.radio.Close()
	}
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			logging.Warnf("daemon", "journal close error: %v", err)
		}
	}
}

func (d *Daemon) currentConfig() *config.Config {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.config
}

// applyConfig hot reloads log level, lease enforcement, cache timeouts and
// keyer settings. Radio, socket and web settings need a restart.
func (d *Daemon) applyConfig(cfg *config.Config) {
	opts, err := sessionOptions(cfg)
	if err != nil {
		logging.Warnf("config", "reload rejected: %v", err)
		return
	}
	if err := d.session.Reload(opts); err != nil {
		logging.Warnf("config", "reload rejected: %v", err)
		return
	}

	logging.GetGlobalLogger().SetLevel(logging.ParseLogLevel(cfg.Logging.Level))

	d.mutex.Lock()
	previous := d.config
	d.config = cfg
	d.mutex.Unlock()

	if previous.Radio != cfg.Radio || previous.API != cfg.API || previous.Web != cfg.Web {
		logging.Warn("config", "radio, socket and web changes take effect after a restart")
	}
	logging.Infof("config", "configuration reloaded from %s", d.configPath)
}

// journalCleaner trims the journal periodically
func (d *Daemon) journalCleaner() {
	defer d.wg.Done()

	ticker := time.NewTicker(journalCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if err := d.journal.Cleanup(); err != nil {
				logging.Warnf("storage", "journal cleanup failed: %v", err)
			}
		}
	}
}
