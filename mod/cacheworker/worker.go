package cacheworker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"usexplo.com/offlinecache/mod/cache"
)

// ErrQueueFull is returned by Enqueue when the job was dropped
var ErrQueueFull = errors.New("cache write queue is full")

// ErrStopped is returned by Enqueue after Stop
var ErrStopped = errors.New("cache write worker stopped")

// WriteJob is a detached write of a captured response into a cache store
type WriteJob struct {
	Store cache.Store
	Key   string
	Entry *cache.Entry

	// OnDone is called with the final outcome, if set
	OnDone func(err error)
}

// Worker performs cache writes in the background so the response path never
// waits on storage. Wait lets callers observe completion deterministically.
type Worker struct {
	queue         chan WriteJob
	workerCount   int
	retryAttempts int
	retryDelay    time.Duration
	jobTimeout    time.Duration
	logger        *zap.Logger

	pending sync.WaitGroup
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
	started bool
}

// Config holds worker configuration
type Config struct {
	// QueueSize is the size of the job queue
	QueueSize int

	// WorkerCount is the number of concurrent workers
	WorkerCount int

	// RetryAttempts is the number of times to retry a failed write
	RetryAttempts int

	// RetryDelay is the delay between retry attempts
	RetryDelay time.Duration

	// JobTimeout bounds a single store write
	JobTimeout time.Duration

	Logger *zap.Logger
}

// DefaultConfig returns default worker configuration
func DefaultConfig() Config {
	return Config{
		QueueSize:     1000,
		WorkerCount:   4,
		RetryAttempts: 1,
		RetryDelay:    100 * time.Millisecond,
		JobTimeout:    30 * time.Second,
		Logger:        zap.NewNop(),
	}
}

// NewWorker creates a new background writer. Call Start before enqueueing.
func NewWorker(config Config) *Worker {
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 4
	}
	if config.RetryAttempts < 0 {
		config.RetryAttempts = 0
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 100 * time.Millisecond
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Worker{
		queue:         make(chan WriteJob, config.QueueSize),
		workerCount:   config.WorkerCount,
		retryAttempts: config.RetryAttempts,
		retryDelay:    config.RetryDelay,
		jobTimeout:    config.JobTimeout,
		logger:        config.Logger,
	}
}

// Start starts the worker pool
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true

	w.logger.Debug("starting cache write workers", zap.Int("workers", w.workerCount))
	for i := 0; i < w.workerCount; i++ {
		w.wg.Add(1)
		go w.processJobs(i)
	}
}

// Stop drains queued writes and stops the pool
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	started := w.started
	close(w.queue)
	w.mu.Unlock()

	if !started {
		// Nobody will consume what is left; release the waiters
		for job := range w.queue {
			w.finish(job, ErrStopped)
		}
		return
	}

	w.wg.Wait()
	w.logger.Debug("cache write workers stopped")
}

// Enqueue schedules a write without blocking. A full queue drops the job.
func (w *Worker) Enqueue(job WriteJob) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return ErrStopped
	}

	w.pending.Add(1)
	select {
	case w.queue <- job:
		return nil
	default:
		w.logger.Warn("cache write queue is full, dropping write", zap.String("key", job.Key))
		w.finish(job, ErrQueueFull)
		return ErrQueueFull
	}
}

// Wait blocks until every accepted job has completed
func (w *Worker) Wait() {
	w.pending.Wait()
}

// processJobs processes jobs from the queue
func (w *Worker) processJobs(workerID int) {
	defer w.wg.Done()

	for job := range w.queue {
		w.finish(job, w.processJob(workerID, job))
	}
}

// processJob writes one entry, retrying on failure
func (w *Worker) processJob(workerID int, job WriteJob) error {
	var err error
	for attempt := 0; attempt <= w.retryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(w.retryDelay)
		}

		ctx, cancel := context.WithTimeout(context.Background(), w.jobTimeout)
		err = job.Store.Put(ctx, job.Key, job.Entry)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, cache.ErrStoreNotFound) {
			// The store was purged after the job was queued
			w.logger.Debug("dropping write for deleted store",
				zap.String("store", job.Store.Name()),
				zap.String("key", job.Key))
			return err
		}

		w.logger.Warn("cache write failed",
			zap.Int("worker", workerID),
			zap.String("store", job.Store.Name()),
			zap.String("key", job.Key),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return err
}

func (w *Worker) finish(job WriteJob, err error) {
	defer w.pending.Done()
	if job.OnDone != nil {
		job.OnDone(err)
	}
}

// GetQueueSize returns the current queue size
func (w *Worker) GetQueueSize() int {
	return len(w.queue)
}
