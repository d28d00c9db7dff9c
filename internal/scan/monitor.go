package scan

import (
	"context"
	"sync"
	"time"

	"github.com/saagar210/Echolocate/internal/db"
	"github.com/saagar210/Echolocate/internal/errors"
	"github.com/saagar210/Echolocate/internal/events"
	"github.com/saagar210/Echolocate/internal/logging"
	"github.com/saagar210/Echolocate/internal/metrics"
)

const defaultMonitorInterval = time.Minute

// stopGrace is how long Stop waits for the loop to exit before
// abandoning it.
const stopGrace = 10 * time.Second

// Monitor supervises periodic full scans. Only one loop is active per
// Monitor: starting again stops the previous loop first.
type Monitor struct {
	orchestrator *Orchestrator
	sink         events.Sink
	metrics      *metrics.Metrics
	logger       *logging.Logger
	interval     time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor driving the given orchestrator.
func NewMonitor(orchestrator *Orchestrator, interval time.Duration, sink events.Sink, m *metrics.Metrics, logger *logging.Logger) *Monitor {
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	if m == nil {
		m = metrics.Global()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Monitor{
		orchestrator: orchestrator,
		sink:         sink,
		metrics:      m,
		logger:       logger.WithComponent("monitor"),
		interval:     interval,
	}
}

// Start launches the monitor loop. Any previously running loop is
// stopped and joined first.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go m.loop(ctx, done)

	m.metrics.SetMonitorRunning(true)
	m.sink.Publish(events.New(events.TypeMonitorStarted, map[string]any{
		"interval_seconds": int(m.interval.Seconds()),
	}))
	m.logger.InfoMonitor("Monitor started", "interval", m.interval.String())
}

// Stop cancels the loop and waits up to a grace period for it to exit.
// It reports whether the loop exited within the grace period.
func (m *Monitor) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked()
}

// Running reports whether a monitor loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done != nil
}

// stopLocked stops the current loop. Callers hold m.mu.
func (m *Monitor) stopLocked() bool {
	if m.cancel == nil {
		return true
	}

	m.cancel()
	joined := true
	select {
	case <-m.done:
	case <-time.After(stopGrace):
		// The loop is stuck in a scan that is not observing
		// cancellation promptly. Abandon it; the cancel already
		// signaled and the loop will exit on its own.
		m.logger.InfoMonitor("Monitor loop did not exit promptly, abandoning")
		joined = false
	}

	m.cancel = nil
	m.done = nil
	m.metrics.SetMonitorRunning(false)
	m.sink.Publish(events.New(events.TypeMonitorStopped, nil))
	m.logger.InfoMonitor("Monitor stopped")
	return joined
}

// loop runs one scan per interval until canceled. Each cycle gets a
// fresh per-run context derived from the loop's own.
func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cycle(ctx)
		}
	}
}

func (m *Monitor) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	result, err := m.orchestrator.Run(runCtx, Config{Kind: db.ScanKindFull})
	switch {
	case err == nil:
		m.metrics.IncrementMonitorCycles()
		m.sink.Publish(events.New(events.TypeMonitorCycle, result))
		m.logger.InfoMonitor("Monitor cycle completed",
			"devices_found", result.DevicesFound,
			"new_devices", result.NewDevices)
	case errors.IsCode(err, errors.CodeScanInProgress):
		m.logger.InfoMonitor("Scan already in progress, skipping cycle")
	case errors.IsCode(err, errors.CodeCanceled):
		m.logger.InfoMonitor("Monitor cycle canceled")
	default:
		m.logger.ErrorMonitor("Monitor cycle failed", err)
	}
}
