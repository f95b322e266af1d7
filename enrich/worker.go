package enrich

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"alertpipe/core"
)

// ErrPoolStopped is returned by Submit after the pool shut down.
var ErrPoolStopped = errors.New("worker pool is not running")

// Job is one inbound alert awaiting enrichment.
type Job struct {
	TenantID string
	Alert    *core.Alert
}

// ResultHandler receives each finished enrichment. err is non-nil when
// enrichment aborted; result is always non-nil.
type ResultHandler func(result *EnrichmentResult, err error)

// WorkerPool drains a queue of inbound alerts through the pipeline with
// bounded concurrency. Many alerts across many tenants run concurrently;
// the pipeline itself holds no cross-alert state beyond the rule caches
// and statistics counters, which are concurrency-safe.
type WorkerPool struct {
	pipeline *Pipeline
	handler  ResultHandler
	workers  int
	jobCh    chan Job
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	running bool
}

// NewWorkerPool creates a pool of enrichment workers. Workers are not
// started until Start is called.
func NewWorkerPool(parentCtx context.Context, workers, queueSize int, pipeline *Pipeline, handler ResultHandler, logger *zap.SugaredLogger) *WorkerPool {
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	ctx, cancel := context.WithCancel(parentCtx)
	return &WorkerPool{
		pipeline: pipeline,
		handler:  handler,
		workers:  workers,
		jobCh:    make(chan Job, queueSize),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

// Start launches the worker goroutines. Safe to call once.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.running {
		return
	}
	wp.running = true

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.run()
	}
	wp.logger.Infow("Enrichment worker pool started", "workers", wp.workers)
}

// Submit enqueues an alert for enrichment. Blocks while the queue is full
// until the pool stops or ctx is done.
func (wp *WorkerPool) Submit(ctx context.Context, job Job) error {
	wp.mu.Lock()
	running := wp.running
	wp.mu.Unlock()
	if !running {
		return ErrPoolStopped
	}

	select {
	case wp.jobCh <- job:
		return nil
	case <-wp.ctx.Done():
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains no further jobs and waits for in-flight enrichments to
// finish. A run either completes or fails; there is no cancellation of an
// in-flight pipeline run.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return
	}
	wp.running = false
	wp.mu.Unlock()

	wp.cancel()
	wp.wg.Wait()
	wp.logger.Infow("Enrichment worker pool stopped")
}

func (wp *WorkerPool) run() {
	defer wp.wg.Done()
	for {
		select {
		case <-wp.ctx.Done():
			return
		case job := <-wp.jobCh:
			wp.process(job)
		}
	}
}

func (wp *WorkerPool) process(job Job) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Errorw("Enrichment worker panic recovered",
				"tenant_id", job.TenantID, "panic", r)
		}
	}()

	// In-flight runs use a background context: a run either completes or
	// fails on its own, pool shutdown does not cancel it.
	result, err := wp.pipeline.Enrich(context.Background(), job.TenantID, job.Alert)
	if wp.handler != nil {
		wp.handler(result, err)
	}
}
