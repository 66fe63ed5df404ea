package server

import (
	"log"
	"sync"
)

// WorkerPool runs background tasks on a fixed set of goroutines with a
// bounded queue. When the queue is full the task executes on the caller
// (backpressure instead of unbounded queueing or dropping); the same
// applies after shutdown so late submitters still make progress.
type WorkerPool struct {
	name  string
	tasks chan func()

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewWorkerPool creates and starts a pool with the given number of
// workers and queue capacity
func NewWorkerPool(name string, workers, queueSize int) *WorkerPool {
	p := &WorkerPool{
		name:  name,
		tasks: make(chan func(), queueSize),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		runTask(p.name, task)
	}
}

func runTask(name string, task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("worker pool %s: task panic: %v", name, r)
		}
	}()
	task()
}

// Submit enqueues a task, executing it on the caller when the queue is
// full or the pool is shut down
func (p *WorkerPool) Submit(task func()) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		runTask(p.name, task)
		return
	}

	select {
	case p.tasks <- task:
		p.mu.RUnlock()
	default:
		p.mu.RUnlock()
		// Caller-runs backpressure
		runTask(p.name, task)
	}
}

// Shutdown stops accepting queued work and blocks until all in-flight
// and queued tasks have completed
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
