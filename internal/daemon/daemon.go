// Package daemon assembles and runs the background service: database,
// scan orchestrator, monitor loop, cron scheduler, worker pool and the
// HTTP API. It also handles the unix daemon plumbing (PID file,
// privilege drop, signal handling, graceful shutdown).
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/saagar210/Echolocate/internal/alerts"
	"github.com/saagar210/Echolocate/internal/api"
	"github.com/saagar210/Echolocate/internal/config"
	"github.com/saagar210/Echolocate/internal/db"
	"github.com/saagar210/Echolocate/internal/logging"
	"github.com/saagar210/Echolocate/internal/metrics"
	"github.com/saagar210/Echolocate/internal/neighbors"
	"github.com/saagar210/Echolocate/internal/oui"
	"github.com/saagar210/Echolocate/internal/probe"
	"github.com/saagar210/Echolocate/internal/scan"
	"github.com/saagar210/Echolocate/internal/scheduler"
	"github.com/saagar210/Echolocate/internal/workers"
)

const (
	healthCheckInterval = 10 * time.Second

	dirPermissions  = 0o750
	filePermissions = 0o600
)

// Daemon is the long-running service process.
type Daemon struct {
	config     *config.Config
	configPath string
	logger     *logging.Logger
	version    string

	database     *db.DB
	devices      *db.DeviceRepository
	scans        *db.ScanRepository
	alerts       *db.AlertRepository
	orchestrator *scan.Orchestrator
	monitor      *scan.Monitor
	scheduler    *scheduler.Scheduler
	pool         *workers.Pool
	hub          *api.Hub
	apiServer    *api.Server

	pidFile string
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	mu        sync.RWMutex
	debugMode bool
}

// New creates a daemon from a validated configuration. configPath is
// kept for SIGHUP reloads.
func New(cfg *config.Config, configPath, version string) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		config:     cfg,
		configPath: configPath,
		version:    version,
		logger:     logging.Default().WithComponent("daemon"),
		pidFile:    cfg.Daemon.PIDFile,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start brings the daemon up and blocks until shutdown.
func (d *Daemon) Start() error {
	if err := d.config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	d.logger.Info("Starting daemon", "version", d.version)

	if d.config.Daemon.WorkDir != "" {
		if err := os.MkdirAll(d.config.Daemon.WorkDir, dirPermissions); err != nil {
			return fmt.Errorf("failed to create working directory: %w", err)
		}
		if err := os.Chdir(d.config.Daemon.WorkDir); err != nil {
			return fmt.Errorf("failed to change to working directory: %w", err)
		}
	}

	if d.config.Daemon.Daemonize {
		if err := d.fork(); err != nil {
			return fmt.Errorf("failed to fork daemon: %w", err)
		}
	}

	if err := d.dropPrivileges(); err != nil {
		return fmt.Errorf("failed to drop privileges: %w", err)
	}

	if err := d.createPIDFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}

	d.setupSignalHandlers()

	if err := d.initDatabase(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	d.initScanPipeline()

	if err := d.initScheduler(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	if err := d.initAPIServer(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize API server: %w", err)
	}

	d.logger.Info("Daemon started")
	return d.run()
}

// Stop shuts the daemon down gracefully.
func (d *Daemon) Stop() error {
	d.logger.Info("Stopping daemon")
	d.cancel()

	select {
	case <-d.done:
		d.logger.Info("Daemon stopped")
	case <-time.After(d.config.Daemon.ShutdownTimeout):
		d.logger.Warn("Shutdown timeout reached, forcing exit")
	}

	d.cleanup()
	return nil
}

func (d *Daemon) initLogging() error {
	logger, err := logging.New(logging.Config{
		Level:  logging.LogLevel(d.config.Logging.Level),
		Format: logging.LogFormat(d.config.Logging.Format),
		Output: d.config.Logging.Output,
	})
	if err != nil {
		return err
	}
	logging.SetDefault(logger)
	d.logger = logger.WithComponent("daemon")
	return nil
}

func (d *Daemon) initDatabase() error {
	d.logger.Info("Connecting to database",
		"host", d.config.Database.Host,
		"database", d.config.Database.Database)

	database, err := db.ConnectAndMigrate(d.ctx, &d.config.Database)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}

	d.database = database
	d.devices = db.NewDeviceRepository(database)
	d.scans = db.NewScanRepository(database)
	d.alerts = db.NewAlertRepository(database)
	return nil
}

// initScanPipeline wires the orchestrator, monitor loop and worker pool.
// The websocket hub doubles as the event sink so every scan and alert
// event reaches connected clients.
func (d *Daemon) initScanPipeline() {
	scanning := d.config.Scanning
	d.hub = api.NewHub(d.logger)

	var mdns scan.MDNSSource
	if scanning.EnableMDNS {
		mdns = probe.NewMDNSBrowser(scanning.ResolveTimeout)
	}

	d.orchestrator = scan.NewOrchestrator(scan.Options{
		Devices:  d.devices,
		Scans:    d.scans,
		Engine:   alerts.NewEngine(d.alerts, d.logger),
		Notifier: alerts.NewNotifier(d.config.Alerts, d.logger),
		Discover: scan.NewNeighborDiscoverer(neighbors.NewSource()),
		Pinger:   probe.NewPinger(scanning.PingTimeout, scanning.PingConcurrency),
		Prober:   probe.NewPortScanner(scanning.PortTimeout, scanning.BannerTimeout, scanning.PortConcurrency),
		Resolver: probe.NewResolver(scanning.ResolveTimeout, ""),
		MDNS:     mdns,
		Vendors:  oui.New(),
		Sink:     d.hub,
		Metrics:  metrics.Global(),
		Logger:   d.logger,
		Scanning: scanning,
	})

	d.monitor = scan.NewMonitor(d.orchestrator, d.config.Monitor.Interval, d.hub, metrics.Global(), d.logger)
	d.pool = workers.New(workers.DefaultConfig(), d.logger)
}

func (d *Daemon) initScheduler() error {
	sched, err := scheduler.New(d.config.Monitor.Schedules, d.orchestrator, d.logger)
	if err != nil {
		return err
	}
	d.scheduler = sched
	return nil
}

func (d *Daemon) initAPIServer() error {
	if !d.config.API.Enabled {
		d.logger.Info("API server disabled")
		return nil
	}

	server, err := api.New(api.Options{
		Config:       d.config,
		Database:     d.database,
		Devices:      d.devices,
		Scans:        d.scans,
		Alerts:       d.alerts,
		Orchestrator: d.orchestrator,
		Pool:         d.pool,
		Hub:          d.hub,
		Metrics:      metrics.Global(),
		Logger:       d.logger,
		Version:      d.version,
	})
	if err != nil {
		return fmt.Errorf("API server creation failed: %w", err)
	}

	d.apiServer = server
	return nil
}

// run starts the background components and loops until shutdown.
func (d *Daemon) run() error {
	d.pool.Start()
	d.scheduler.Start()

	if d.config.Monitor.Enabled {
		d.monitor.Start()
	}

	if d.apiServer != nil {
		go func() {
			d.logger.Info("Starting API server", "address", d.apiServer.Address())
			if err := d.apiServer.Start(d.ctx); err != nil {
				d.logger.Error("API server error", "error", err)
			}
		}()
	}

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Info("Shutdown signal received")
			close(d.done)
			return nil
		case <-ticker.C:
			d.performHealthCheck()
		}
	}
}

// performHealthCheck verifies the database connection and reconnects if
// it has gone away.
func (d *Daemon) performHealthCheck() {
	if d.database == nil {
		return
	}
	if err := d.database.PingContext(d.ctx); err != nil {
		d.logger.Error("Database health check failed", "error", err)
		if err := d.reconnectDatabase(); err != nil {
			d.logger.Error("Database reconnection failed", "error", err)
		}
	}
}

func (d *Daemon) cleanup() {
	d.logger.Info("Cleaning up")

	if d.monitor != nil {
		d.monitor.Stop()
	}
	if d.scheduler != nil {
		d.scheduler.Stop()
	}
	if d.pool != nil {
		d.pool.Shutdown()
	}
	if d.apiServer != nil {
		if err := d.apiServer.Stop(); err != nil {
			d.logger.Error("Error stopping API server", "error", err)
		}
	} else if d.hub != nil {
		d.hub.Close()
	}
	if d.database != nil {
		if err := d.database.Close(); err != nil {
			d.logger.Error("Error closing database", "error", err)
		}
	}

	if d.pidFile != "" {
		if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
			d.logger.Error("Error removing PID file", "error", err, "path", d.pidFile)
		}
	}
}

// fork re-execs the process detached from the terminal and exits the
// parent.
func (d *Daemon) fork() error {
	if os.Getppid() == 1 {
		return nil // already daemonized
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Strip the daemonize flag so the child does not fork again.
	args := []string{executable}
	for _, arg := range os.Args[1:] {
		if arg != "--daemonize" && arg != "-d" {
			args = append(args, arg)
		}
	}

	process, err := os.StartProcess(executable, args, &os.ProcAttr{
		Dir:   d.config.Daemon.WorkDir,
		Env:   os.Environ(),
		Files: []*os.File{nil, nil, nil},
	})
	if err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	d.logger.Info("Daemon forked", "pid", process.Pid)
	os.Exit(0)
	return nil
}

// dropPrivileges switches to the configured unprivileged user and group.
// Requires root; a non-root process skips the drop.
func (d *Daemon) dropPrivileges() error {
	if d.config.Daemon.User == "" && d.config.Daemon.Group == "" {
		return nil
	}
	if os.Getuid() != 0 {
		d.logger.Warn("Not running as root, skipping privilege drop")
		return nil
	}

	if d.config.Daemon.Group != "" {
		grp, err := user.LookupGroup(d.config.Daemon.Group)
		if err != nil {
			return fmt.Errorf("failed to lookup group %s: %w", d.config.Daemon.Group, err)
		}
		gid, err := strconv.Atoi(grp.Gid)
		if err != nil {
			return fmt.Errorf("invalid group ID: %w", err)
		}
		if err := syscall.Setgid(gid); err != nil {
			return fmt.Errorf("failed to set GID to %d: %w", gid, err)
		}
		d.logger.Info("Changed group", "group", d.config.Daemon.Group, "gid", gid)
	}

	if d.config.Daemon.User != "" {
		usr, err := user.Lookup(d.config.Daemon.User)
		if err != nil {
			return fmt.Errorf("failed to lookup user %s: %w", d.config.Daemon.User, err)
		}
		uid, err := strconv.Atoi(usr.Uid)
		if err != nil {
			return fmt.Errorf("invalid user ID: %w", err)
		}
		if err := syscall.Setuid(uid); err != nil {
			return fmt.Errorf("failed to setuid to %d: %w", uid, err)
		}
		d.logger.Info("Changed user", "user", d.config.Daemon.User, "uid", uid)
	}

	return nil
}

func (d *Daemon) createPIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(d.pidFile), dirPermissions); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}
	if err := d.checkExistingPID(); err != nil {
		return err
	}

	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), filePermissions); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.logger.Info("Created PID file", "path", d.pidFile, "pid", pid)
	return nil
}

// checkExistingPID rejects startup when another live process holds the
// PID file, and clears stale files left by a crashed run.
func (d *Daemon) checkExistingPID() error {
	data, err := os.ReadFile(d.pidFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read existing PID file: %w", err)
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		_ = os.Remove(d.pidFile)
		return nil
	}

	if isProcessRunning(pid) {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	_ = os.Remove(d.pidFile)
	return nil
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func (d *Daemon) setupSignalHandlers() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGHUP,
		syscall.SIGUSR1,
		syscall.SIGUSR2,
	)

	go func() {
		for sig := range sigChan {
			d.logger.Info("Received signal", "signal", sig.String())

			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				d.cancel()
				return
			case syscall.SIGHUP:
				if err := d.reloadConfiguration(); err != nil {
					d.logger.Error("Configuration reload failed", "error", err)
				}
			case syscall.SIGUSR1:
				d.dumpStatus()
			case syscall.SIGUSR2:
				d.toggleDebugMode()
			}
		}
	}()
}

// reloadConfiguration re-reads the config file on SIGHUP. Alert delivery
// and monitor settings apply immediately; database and API changes need
// a restart.
func (d *Daemon) reloadConfiguration() error {
	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new configuration: %w", err)
	}
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("new configuration is invalid: %w", err)
	}

	oldConfig := d.config
	d.config = newConfig

	if oldConfig.Monitor.Enabled != newConfig.Monitor.Enabled ||
		oldConfig.Monitor.Interval != newConfig.Monitor.Interval {
		d.monitor.Stop()
		d.monitor = scan.NewMonitor(d.orchestrator, newConfig.Monitor.Interval, d.hub, metrics.Global(), d.logger)
		if newConfig.Monitor.Enabled {
			d.monitor.Start()
		}
	}

	if oldConfig.API.Port != newConfig.API.Port ||
		oldConfig.API.ListenAddr != newConfig.API.ListenAddr ||
		oldConfig.Database.Host != newConfig.Database.Host {
		d.logger.Warn("Database and API listener changes require a restart")
	}

	d.logger.Info("Configuration reloaded")
	return nil
}

func (d *Daemon) dumpStatus() {
	d.mu.RLock()
	debugMode := d.debugMode
	d.mu.RUnlock()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	dbStatus := "not configured"
	if d.database != nil {
		dbStatus = "connected"
		if err := d.database.PingContext(d.ctx); err != nil {
			dbStatus = "disconnected"
		}
	}

	d.logger.Info("Status dump",
		"pid", os.Getpid(),
		"debug_mode", debugMode,
		"goroutines", runtime.NumGoroutine(),
		"alloc_kb", m.Alloc/1024,
		"database", dbStatus,
		"scan_running", d.orchestrator != nil && d.orchestrator.Running(),
		"monitor_running", d.monitor != nil && d.monitor.Running(),
		"ws_clients", d.hub.ClientCount())
}

func (d *Daemon) toggleDebugMode() {
	d.mu.Lock()
	d.debugMode = !d.debugMode
	enabled := d.debugMode
	d.mu.Unlock()

	d.logger.Info("Toggled debug mode", "enabled", enabled)
}

// IsDebugMode reports whether SIGUSR2 debug mode is on.
func (d *Daemon) IsDebugMode() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.debugMode
}

// IsRunning reports whether shutdown has been requested.
func (d *Daemon) IsRunning() bool {
	select {
	case <-d.ctx.Done():
		return false
	default:
		return true
	}
}

// reconnectDatabase retries the connection with exponential backoff.
func (d *Daemon) reconnectDatabase() error {
	const maxRetries = 5
	const baseDelay = 2 * time.Second
	const maxDelay = 30 * time.Second

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			delay := baseDelay << (attempt - 2)
			if delay > maxDelay {
				delay = maxDelay
			}
			select {
			case <-d.ctx.Done():
				return fmt.Errorf("reconnection canceled due to shutdown")
			case <-time.After(delay):
			}
		}

		d.logger.Info("Attempting database reconnection", "attempt", attempt, "max_retries", maxRetries)

		if d.database != nil {
			if err := d.database.Close(); err != nil {
				d.logger.Warn("Failed to close stale database connection", "error", err)
			}
		}

		database, err := db.ConnectAndMigrate(d.ctx, &d.config.Database)
		if err != nil {
			d.logger.Error("Reconnection attempt failed", "attempt", attempt, "error", err)
			continue
		}

		d.database = database
		d.logger.Info("Database reconnection successful")
		return nil
	}

	return fmt.Errorf("failed to reconnect after %d attempts", maxRetries)
}
