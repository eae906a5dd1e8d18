package worker

import (
	"log/slog"
	"sync"
	"time"
)

const defaultWorkerIdle = 30 * time.Second

// workerPool tracks how many workers run and how many are busy. Workers above
// min retire after staying idle for expiry.
type workerPool struct {
	mu      sync.Mutex
	min     int
	max     int
	running int
	busy    int
	expiry  time.Duration
	nextID  int
}

func newWorkerPool(minWorkers, maxWorkers int, idle time.Duration) *workerPool {
	if idle <= 0 {
		idle = defaultWorkerIdle
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if minWorkers < 0 {
		minWorkers = 0
	}
	if minWorkers > maxWorkers {
		minWorkers = maxWorkers
	}
	return &workerPool{min: minWorkers, max: maxWorkers, expiry: idle}
}

// reserve claims a slot for a new worker when fewer idle workers than queued
// jobs exist, returns the worker id or -1
func (p *workerPool) reserve(queued int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running >= p.max || p.running-p.busy >= queued {
		return -1
	}
	p.running++
	p.nextID++
	return p.nextID
}

// reserveWarm claims a slot regardless of queue length, used for min workers
func (p *workerPool) reserveWarm() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running >= p.min {
		return -1
	}
	p.running++
	p.nextID++
	return p.nextID
}

func (p *workerPool) markBusy() {
	p.mu.Lock()
	p.busy++
	p.mu.Unlock()
}

func (p *workerPool) markIdle() {
	p.mu.Lock()
	p.busy--
	p.mu.Unlock()
}

// retire releases the slot of an expired worker unless it is needed. queued is
// read under the lock so a job pushed before a concurrent reserve is seen here.
func (p *workerPool) retire(workerID int, queued func() int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running <= p.min || queued() > 0 {
		return false
	}
	p.running--
	slog.Debug("worker retired", "worker", workerID, "running", p.running)
	return true
}

// release frees the slot of a worker stopped by the dispatcher
func (p *workerPool) release() {
	p.mu.Lock()
	if p.running > 0 {
		p.running--
	}
	p.mu.Unlock()
}

func (p *workerPool) stats() (running, busy int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running, p.busy
}
