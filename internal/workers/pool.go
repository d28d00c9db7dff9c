// Package workers provides a small worker pool for running scans and
// other background jobs off the API request path. Jobs are queued,
// executed by a fixed set of goroutines, and their results fanned out
// on a channel for whoever cares to watch.
package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saagar210/Echolocate/internal/logging"
)

// Job is a unit of background work.
type Job interface {
	// Execute performs the job.
	Execute(ctx context.Context) error
	// ID identifies the job instance in logs and results.
	ID() string
	// Type names the job kind.
	Type() string
}

// Result is the outcome of one executed job.
type Result struct {
	JobID    string
	JobType  string
	Error    error
	Duration time.Duration
}

// Config holds worker pool settings.
type Config struct {
	// Size is the number of worker goroutines.
	Size int
	// QueueSize is the maximum number of queued jobs.
	QueueSize int
	// ShutdownTimeout bounds how long Shutdown waits for in-flight
	// jobs.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default pool configuration. Scans hold a
// process-wide lock, so a small pool is plenty.
func DefaultConfig() Config {
	return Config{
		Size:            2,
		QueueSize:       16,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Pool runs queued jobs on a fixed set of goroutines.
type Pool struct {
	config  Config
	jobs    chan Job
	results chan Result
	logger  *logging.Logger

	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopped   int32
}

// New creates a worker pool. It does not start any goroutines until
// Start is called.
func New(config Config, logger *logging.Logger) *Pool {
	if config.Size <= 0 {
		config.Size = DefaultConfig().Size
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		config:  config,
		jobs:    make(chan Job, config.QueueSize),
		results: make(chan Result, config.QueueSize),
		logger:  logger.WithComponent("workers"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("Starting worker pool",
			"workers", p.config.Size,
			"queue_size", p.config.QueueSize)
		for i := 0; i < p.config.Size; i++ {
			p.wg.Add(1)
			go p.run(i)
		}
	})
}

// Submit queues a job. It fails when the pool is shut down or the queue
// is full; it never blocks.
func (p *Pool) Submit(job Job) error {
	if atomic.LoadInt32(&p.stopped) == 1 {
		return fmt.Errorf("worker pool is shut down")
	}

	select {
	case p.jobs <- job:
		p.logger.Debug("Job queued", "job_id", job.ID(), "job_type", job.Type())
		return nil
	default:
		return fmt.Errorf("job queue is full")
	}
}

// Results returns the channel of job outcomes. The channel is closed
// after Shutdown completes.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Shutdown stops accepting jobs, cancels in-flight work after the
// configured timeout, and waits for the workers to exit.
func (p *Pool) Shutdown() {
	if !atomic.CompareAndSwapInt32(&p.stopped, 0, 1) {
		return
	}

	p.logger.Info("Shutting down worker pool")
	close(p.jobs)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("Worker pool shutdown timeout, canceling in-flight jobs")
		p.cancel()
		<-done
	}

	p.cancel()
	close(p.results)
	p.logger.Info("Worker pool stopped")
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		start := time.Now()
		err := job.Execute(p.ctx)
		duration := time.Since(start)

		if err != nil {
			p.logger.Error("Job failed",
				"job_id", job.ID(),
				"job_type", job.Type(),
				"worker_id", id,
				"duration_ms", duration.Milliseconds(),
				"error", err)
		} else {
			p.logger.Debug("Job completed",
				"job_id", job.ID(),
				"job_type", job.Type(),
				"worker_id", id,
				"duration_ms", duration.Milliseconds())
		}

		result := Result{
			JobID:    job.ID(),
			JobType:  job.Type(),
			Error:    err,
			Duration: duration,
		}
		select {
		case p.results <- result:
		default:
			// Nobody is draining results; drop rather than block
			// the worker.
		}
	}
}

// ScanJob runs one scan through an injected runner.
type ScanJob struct {
	id     string
	kind   string
	ports  []int
	runner func(ctx context.Context, kind string, ports []int) error
}

// NewScanJob creates a scan job for the given scan kind.
func NewScanJob(id, kind string, ports []int,
	runner func(ctx context.Context, kind string, ports []int) error) *ScanJob {
	return &ScanJob{
		id:     id,
		kind:   kind,
		ports:  ports,
		runner: runner,
	}
}

// Execute implements Job.
func (j *ScanJob) Execute(ctx context.Context) error {
	return j.runner(ctx, j.kind, j.ports)
}

// ID implements Job.
func (j *ScanJob) ID() string {
	return j.id
}

// Type implements Job.
func (j *ScanJob) Type() string {
	return "scan"
}
