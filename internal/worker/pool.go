package worker

import (
	"context"
	"sync"
)

// Job represents a unit of work to be executed
type Job[R any] interface {
	Execute(ctx context.Context) R
}

// JobFunc adapts a function to Job
type JobFunc[R any] func(ctx context.Context) R

// Execute calls f
func (f JobFunc[R]) Execute(ctx context.Context) R {
	return f(ctx)
}

// Pool manages a fixed number of workers executing jobs concurrently.
// Cancelling the parent context stops workers from picking up new jobs;
// jobs already running observe the cancellation through their context.
type Pool[R any] struct {
	workers  int
	jobQueue chan Job[R]
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	results []R
}

// NewPool creates a new worker pool with the specified number of workers
func NewPool[R any](parent context.Context, workers int) *Pool[R] {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(parent)

	return &Pool[R]{
		workers:  workers,
		jobQueue: make(chan Job[R], workers*2),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the worker pool
func (p *Pool[R]) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool[R]) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			result := job.Execute(p.ctx)

			p.mu.Lock()
			p.results = append(p.results, result)
			p.mu.Unlock()
		}
	}
}

// Submit queues a job. It returns false if the pool was cancelled first.
func (p *Pool[R]) Submit(job Job[R]) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	case p.jobQueue <- job:
		return true
	}
}

// Wait closes the queue, waits for all workers and returns the results in
// completion order
func (p *Pool[R]) Wait() []R {
	close(p.jobQueue)
	p.wg.Wait()
	p.cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.results
}

// Shutdown cancels all workers and waits for them to exit
func (p *Pool[R]) Shutdown() {
	p.cancel()
	p.wg.Wait()
}
