// Package concurrency holds the bounded worker pool used for fan-out calls
package concurrency

import (
	"kimchi_arb/internal/core"
	"time"

	"github.com/alitto/pond"
)

// PoolConfig sizes a worker pool
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
}

// PoolStats is a point-in-time view of pool activity
type PoolStats struct {
	Running    int    `json:"running"`
	Idle       int    `json:"idle"`
	Waiting    uint64 `json:"waiting"`
	Submitted  uint64 `json:"submitted"`
	Successful uint64 `json:"successful"`
	Failed     uint64 `json:"failed"`
}

// WorkerPool runs batches of tasks on a bounded set of goroutines
type WorkerPool struct {
	name   string
	pool   *pond.WorkerPool
	logger core.ILogger
}

// NewWorkerPool creates a pool. Zero sizes fall back to 8 workers and a
// queue of 64.
func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 64
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Minute
	}

	log := logger.WithField("component", "worker_pool").WithField("pool", cfg.Name)
	return &WorkerPool{
		name: cfg.Name,
		pool: pond.New(cfg.MaxWorkers, cfg.MaxCapacity,
			pond.MinWorkers(1),
			pond.IdleTimeout(cfg.IdleTimeout),
			pond.Strategy(pond.Balanced()),
			pond.PanicHandler(func(p interface{}) {
				log.Error("Task panicked", "panic", p)
			}),
		),
		logger: log,
	}
}

// RunAll runs every task and blocks until all of them return. Tasks report
// their own results. A panicking task is logged and counted as failed.
func (wp *WorkerPool) RunAll(tasks ...func()) {
	if len(tasks) == 0 {
		return
	}
	group := wp.pool.Group()
	for _, task := range tasks {
		group.Submit(task)
	}
	group.Wait()
}

// Stop waits for queued tasks and releases the workers
func (wp *WorkerPool) Stop() {
	wp.pool.StopAndWait()
	wp.logger.Debug("Worker pool stopped", "submitted", wp.pool.SubmittedTasks())
}

func (wp *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Running:    wp.pool.RunningWorkers(),
		Idle:       wp.pool.IdleWorkers(),
		Waiting:    wp.pool.WaitingTasks(),
		Submitted:  wp.pool.SubmittedTasks(),
		Successful: wp.pool.SuccessfulTasks(),
		Failed:     wp.pool.FailedTasks(),
	}
}
