package engine

import (
	"sync"
)

// WorkerPool manages a pool of workers for parallel permission evaluation
type WorkerPool struct {
	workers int
	tasks   chan func()
	started bool
	mu      sync.Mutex
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = 16
	}

	pool := &WorkerPool{
		workers: workers,
		tasks:   make(chan func(), workers*10),
	}

	pool.start()
	return pool
}

func (p *WorkerPool) start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	for i := 0; i < p.workers; i++ {
		go p.worker()
	}
	p.started = true
}

func (p *WorkerPool) worker() {
	for task := range p.tasks {
		task()
	}
}

// Submit adds a task to the worker pool. After Stop the task runs on
// the caller's goroutine instead, so a batch check racing shutdown
// still completes rather than panicking on the closed channel.
func (p *WorkerPool) Submit(task func()) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		task()
		return
	}
	p.tasks <- task
	p.mu.Unlock()
}

// Stop gracefully stops the worker pool
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	close(p.tasks)
	p.started = false
}

// Workers returns the number of workers
func (p *WorkerPool) Workers() int {
	return p.workers
}
