// Package scheduler runs configured scans on cron schedules. Entries
// come from the monitor section of the config file; a tick that lands
// while another scan holds the scan lock is skipped, not queued.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/saagar210/Echolocate/internal/config"
	"github.com/saagar210/Echolocate/internal/db"
	"github.com/saagar210/Echolocate/internal/errors"
	"github.com/saagar210/Echolocate/internal/logging"
	"github.com/saagar210/Echolocate/internal/scan"
)

// ScanRunner starts one scan. Implemented by scan.Orchestrator.
type ScanRunner interface {
	Run(ctx context.Context, cfg scan.Config) (*scan.Result, error)
}

// JobStatus describes one scheduled entry.
type JobStatus struct {
	Name           string     `json:"name"`
	ScanKind       string     `json:"scan_kind"`
	CronExpression string     `json:"cron"`
	LastRun        *time.Time `json:"last_run,omitempty"`
	NextRun        time.Time  `json:"next_run"`
}

type entry struct {
	name     string
	kind     string
	cronExpr string
	cronID   cron.EntryID
	lastRun  *time.Time
}

// Scheduler drives cron-scheduled scans.
type Scheduler struct {
	cron    *cron.Cron
	runner  ScanRunner
	logger  *logging.Logger
	entries []*entry

	mu      sync.Mutex
	running bool
}

// New builds a scheduler from the configured schedule entries. Disabled
// entries are ignored; an invalid cron expression is an error.
func New(schedules []config.ScheduleConfig, runner ScanRunner, logger *logging.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = logging.Default()
	}

	s := &Scheduler{
		cron:   cron.New(),
		runner: runner,
		logger: logger.WithComponent("scheduler"),
	}

	for _, sched := range schedules {
		if !sched.Enabled {
			continue
		}
		if _, err := cron.ParseStandard(sched.CronExpression); err != nil {
			return nil, fmt.Errorf("invalid cron expression for schedule %q: %w", sched.Name, err)
		}

		kind := sched.ScanKind
		if kind == "" {
			kind = db.ScanKindFull
		}

		e := &entry{
			name:     sched.Name,
			kind:     kind,
			cronExpr: sched.CronExpression,
		}
		cronID, err := s.cron.AddFunc(sched.CronExpression, func() {
			s.runJob(e)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to add schedule %q: %w", sched.Name, err)
		}
		e.cronID = cronID
		s.entries = append(s.entries, e)
	}

	return s, nil
}

// Start begins firing scheduled scans.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("Scheduler started", "schedules", len(s.entries))
}

// Stop halts the cron loop and waits for any running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("Scheduler stopped")
}

// Jobs returns the status of every configured schedule.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]JobStatus, 0, len(s.entries))
	for _, e := range s.entries {
		jobs = append(jobs, JobStatus{
			Name:           e.name,
			ScanKind:       e.kind,
			CronExpression: e.cronExpr,
			LastRun:        e.lastRun,
			NextRun:        s.cron.Entry(e.cronID).Next,
		})
	}
	return jobs
}

func (s *Scheduler) runJob(e *entry) {
	now := time.Now()
	s.mu.Lock()
	e.lastRun = &now
	s.mu.Unlock()

	s.logger.Info("Running scheduled scan", "schedule", e.name, "kind", e.kind)

	result, err := s.runner.Run(context.Background(), scan.Config{Kind: e.kind})
	switch {
	case err == nil:
		s.logger.Info("Scheduled scan completed",
			"schedule", e.name,
			"devices_found", result.DevicesFound,
			"new_devices", result.NewDevices)
	case errors.IsCode(err, errors.CodeScanInProgress):
		s.logger.Info("Scan already running, skipping schedule", "schedule", e.name)
	default:
		s.logger.Error("Scheduled scan failed", "schedule", e.name, "error", err)
	}
}
