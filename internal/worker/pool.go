// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

// Package worker provides a bounded pool of goroutines for concurrent execution of jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPoolClosed is returned when submitting to a pool that no longer accepts jobs
var ErrPoolClosed = errors.New("worker pool is closed")

// JobStatus represents the current status of a job
type JobStatus int

// Job status constants
const (
	// JobPending indicates a job is waiting to be processed
	JobPending JobStatus = iota
	JobRunning
	JobCompleted
	JobFailed
	JobRetrying
)

func (s JobStatus) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobRunning:
		return "running"
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	case JobRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// Job represents a unit of work to be executed
type Job struct {
	ID          string
	Description string
	Execute     func(ctx context.Context) error
	Status      JobStatus
	Attempts    int
	MaxRetries  int
	LastError   error
	CreatedAt   time.Time
	CompletedAt *time.Time
	mu          sync.RWMutex
}

// SetStatus safely updates the job status
func (j *Job) SetStatus(status JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	if status == JobCompleted || status == JobFailed {
		now := time.Now()
		j.CompletedAt = &now
	}
}

// GetStatus safely retrieves the job status
func (j *Job) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetError safely sets the last error
func (j *Job) SetError(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.LastError = err
}

// GetError safely retrieves the last error
func (j *Job) GetError() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.LastError
}

// Config holds configuration for the worker pool
type Config struct {
	WorkerCount   int           // Number of worker goroutines, <= 0 means runtime.NumCPU()
	MaxRetries    int           // Maximum attempts per job
	RetryDelay    time.Duration // Initial retry delay
	MaxRetryDelay time.Duration // Maximum retry delay
	BackoffFactor float64       // Exponential backoff multiplier
	QueueSize     int           // Size of job queue buffer
	LogVerbose    bool          // Enable verbose logging
}

// DefaultConfig returns a configuration that runs each job once on every CPU
func DefaultConfig() *Config {
	return &Config{
		WorkerCount:   runtime.NumCPU(),
		MaxRetries:    1,
		RetryDelay:    time.Second,
		MaxRetryDelay: 30 * time.Second,
		BackoffFactor: 2.0,
		QueueSize:     100,
		LogVerbose:    false,
	}
}

// ResolveWorkerCount maps a configured worker count to the number of
// goroutines to run: zero or negative means all available CPUs.
func ResolveWorkerCount(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// Stats tracks pool statistics
type Stats struct {
	TotalJobs     int64
	CompletedJobs int64
	FailedJobs    int64
	RetryJobs     int64
	ActiveJobs    int64
}

// Pool manages a pool of workers that execute jobs concurrently. Jobs are
// submitted with Submit and the pool is drained with Wait.
type Pool struct {
	config *Config
	jobs   chan *Job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	stats  Stats

	mu      sync.Mutex
	started bool
	closed  bool

	resultsMu sync.Mutex
	finished  []*Job
}

// NewPool creates a new worker pool whose jobs run under ctx
func NewPool(ctx context.Context, config *Config) *Pool {
	if config == nil {
		config = DefaultConfig()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := *config
	cfg.WorkerCount = ResolveWorkerCount(cfg.WorkerCount)
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}

	poolCtx, cancel := context.WithCancel(ctx)

	return &Pool{
		config: &cfg,
		jobs:   make(chan *Job, cfg.QueueSize),
		ctx:    poolCtx,
		cancel: cancel,
	}
}

// Start launches the workers
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	p.logf("Starting worker pool with %d workers", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit queues a job, blocking while the queue is full. It fails once the
// pool is closed or its context is cancelled.
func (p *Pool) Submit(job *Job) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	// mu stays held across the send so Wait never closes the channel under a blocked Submit
	defer p.mu.Unlock()

	if job.MaxRetries == 0 {
		job.MaxRetries = p.config.MaxRetries
	}
	job.CreatedAt = time.Now()
	job.SetStatus(JobPending)

	select {
	case p.jobs <- job:
		atomic.AddInt64(&p.stats.TotalJobs, 1)
		p.logf("Job %s submitted: %s", job.ID, job.Description)
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", p.ctx.Err())
	}
}

// Wait stops accepting jobs, waits for every queued job to finish and
// returns the finished jobs in completion order
func (p *Pool) Wait() []*Job {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	p.wg.Wait()
	// Workers are gone, release the pool context
	p.cancel()

	p.resultsMu.Lock()
	defer p.resultsMu.Unlock()
	finished := make([]*Job, len(p.finished))
	copy(finished, p.finished)
	return finished
}

// GetStats returns a snapshot of the pool statistics
func (p *Pool) GetStats() Stats {
	return Stats{
		TotalJobs:     atomic.LoadInt64(&p.stats.TotalJobs),
		CompletedJobs: atomic.LoadInt64(&p.stats.CompletedJobs),
		FailedJobs:    atomic.LoadInt64(&p.stats.FailedJobs),
		RetryJobs:     atomic.LoadInt64(&p.stats.RetryJobs),
		ActiveJobs:    atomic.LoadInt64(&p.stats.ActiveJobs),
	}
}

// WorkerCount returns the resolved number of workers
func (p *Pool) WorkerCount() int {
	return p.config.WorkerCount
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	p.logf("Worker %d started", id)

	for job := range p.jobs {
		if p.ctx.Err() != nil {
			job.SetError(p.ctx.Err())
			job.SetStatus(JobFailed)
			atomic.AddInt64(&p.stats.FailedJobs, 1)
			p.record(job)
			continue
		}
		p.processJob(job, id)
	}

	p.logf("Worker %d stopping - job channel closed", id)
}

// processJob executes a single job with retry logic
func (p *Pool) processJob(job *Job, workerID int) {
	atomic.AddInt64(&p.stats.ActiveJobs, 1)
	defer atomic.AddInt64(&p.stats.ActiveJobs, -1)
	defer p.record(job)

	for {
		job.SetStatus(JobRunning)
		job.Attempts++

		p.logf("Worker %d executing job %s (attempt %d): %s",
			workerID, job.ID, job.Attempts, job.Description)

		err := p.execute(job)
		if err == nil {
			job.SetError(nil)
			job.SetStatus(JobCompleted)
			atomic.AddInt64(&p.stats.CompletedJobs, 1)
			p.logf("Worker %d completed job %s", workerID, job.ID)
			return
		}

		job.SetError(err)
		p.logf("Worker %d job %s failed (attempt %d): %v", workerID, job.ID, job.Attempts, err)

		if job.Attempts >= job.MaxRetries || p.ctx.Err() != nil {
			job.SetStatus(JobFailed)
			atomic.AddInt64(&p.stats.FailedJobs, 1)
			return
		}

		job.SetStatus(JobRetrying)
		atomic.AddInt64(&p.stats.RetryJobs, 1)

		delay := p.calculateRetryDelay(job.Attempts)
		p.logf("Retrying job %s in %v", job.ID, delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-p.ctx.Done():
			timer.Stop()
			job.SetStatus(JobFailed)
			atomic.AddInt64(&p.stats.FailedJobs, 1)
			return
		}
	}
}

// execute runs the job, turning a panic into an error so one bad job
// cannot take down its siblings
func (p *Pool) execute(job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
	}()
	return job.Execute(p.ctx)
}

func (p *Pool) record(job *Job) {
	p.resultsMu.Lock()
	p.finished = append(p.finished, job)
	p.resultsMu.Unlock()
}

// calculateRetryDelay calculates delay with exponential backoff
func (p *Pool) calculateRetryDelay(attempt int) time.Duration {
	delay := float64(p.config.RetryDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.config.BackoffFactor
	}

	result := time.Duration(delay)
	if p.config.MaxRetryDelay > 0 && result > p.config.MaxRetryDelay {
		result = p.config.MaxRetryDelay
	}

	return result
}

// logf logs a message if verbose logging is enabled
func (p *Pool) logf(format string, args ...interface{}) {
	if p.config.LogVerbose {
		log.Printf("[POOL] "+format, args...)
	}
}
