package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saagar210/Echolocate/internal/config"
	"github.com/saagar210/Echolocate/internal/errors"
	"github.com/saagar210/Echolocate/internal/scan"
)

type fakeRunner struct {
	calls int32
	kinds chan string
	err   error
}

func (r *fakeRunner) Run(_ context.Context, cfg scan.Config) (*scan.Result, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.kinds != nil {
		select {
		case r.kinds <- cfg.Kind:
		default:
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &scan.Result{DevicesFound: 3}, nil
}

func TestNewBuildsEnabledSchedules(t *testing.T) {
	s, err := New([]config.ScheduleConfig{
		{Name: "nightly", CronExpression: "0 2 * * *", ScanKind: "full", Enabled: true},
		{Name: "disabled", CronExpression: "* * * * *", ScanKind: "quick", Enabled: false},
		{Name: "hourly", CronExpression: "0 * * * *", Enabled: true},
	}, &fakeRunner{}, nil)
	require.NoError(t, err)

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "nightly", jobs[0].Name)
	assert.Equal(t, "full", jobs[0].ScanKind)
	// Missing scan kind defaults to full.
	assert.Equal(t, "full", jobs[1].ScanKind)
}

func TestNewRejectsInvalidCron(t *testing.T) {
	_, err := New([]config.ScheduleConfig{
		{Name: "broken", CronExpression: "not a cron", Enabled: true},
	}, &fakeRunner{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}

func TestRunJobInvokesRunner(t *testing.T) {
	runner := &fakeRunner{kinds: make(chan string, 1)}
	s, err := New([]config.ScheduleConfig{
		{Name: "nightly", CronExpression: "0 2 * * *", ScanKind: "quick", Enabled: true},
	}, runner, nil)
	require.NoError(t, err)

	s.runJob(s.entries[0])

	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.calls))
	assert.Equal(t, "quick", <-runner.kinds)
	require.NotNil(t, s.entries[0].lastRun)
	assert.WithinDuration(t, time.Now(), *s.entries[0].lastRun, time.Second)
}

func TestRunJobSkipsWhenScanInProgress(t *testing.T) {
	runner := &fakeRunner{err: errors.ErrScanInProgress()}
	s, err := New([]config.ScheduleConfig{
		{Name: "nightly", CronExpression: "0 2 * * *", Enabled: true},
	}, runner, nil)
	require.NoError(t, err)

	// A rejected run is a skip, not a failure.
	s.runJob(s.entries[0])
	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.calls))
}

func TestStartStop(t *testing.T) {
	s, err := New(nil, &fakeRunner{}, nil)
	require.NoError(t, err)

	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}

func TestJobsReportsNextRun(t *testing.T) {
	s, err := New([]config.ScheduleConfig{
		{Name: "everyminute", CronExpression: "* * * * *", Enabled: true},
	}, &fakeRunner{}, nil)
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].NextRun.After(time.Now()))
	assert.True(t, jobs[0].NextRun.Before(time.Now().Add(2*time.Minute)))
}
