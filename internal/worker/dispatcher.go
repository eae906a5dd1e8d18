// Package worker bounds how many model calls run at once. Calls from every
// session share one queue drained by a small pool of workers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
)

var (
	ErrDispatcherBusy    = errors.New("dispatcher queue is full")
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)

type Completer interface {
	Complete(ctx context.Context, modelID string, messages []*schema.Message) (string, error)
}

type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

type job struct {
	ctx      context.Context
	model    string
	messages []*schema.Message
	resultCh chan jobResult
}

type jobResult struct {
	text string
	err  error
}

// Dispatcher is a Completer that runs calls of the wrapped Completer on a
// bounded worker pool. When the queue is full new calls fail fast with
// ErrDispatcherBusy.
type Dispatcher struct {
	next Completer
	jobs chan job
	pool *workerPool

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewDispatcher(next Completer, cfg DispatcherConfig) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 16
	}
	d := &Dispatcher{
		next: next,
		jobs: make(chan job, queueSize),
		pool: newWorkerPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout),
		quit: make(chan struct{}),
	}
	// warm up min workers
	for id := d.pool.reserveWarm(); id > 0; id = d.pool.reserveWarm() {
		d.startWorker(id)
	}
	return d
}

// Complete queues the call and waits for its result or for ctx to end.
func (d *Dispatcher) Complete(ctx context.Context, modelID string, messages []*schema.Message) (string, error) {
	select {
	case <-d.quit:
		return "", ErrDispatcherStopped
	default:
	}

	j := job{
		ctx:      ctx,
		model:    modelID,
		messages: messages,
		resultCh: make(chan jobResult, 1),
	}
	select {
	case d.jobs <- j:
	default:
		return "", ErrDispatcherBusy
	}
	if id := d.pool.reserve(len(d.jobs)); id > 0 {
		d.startWorker(id)
	}

	select {
	case res := <-j.resultCh:
		return res.text, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for model worker: %w", ctx.Err())
	case <-d.quit:
		return "", ErrDispatcherStopped
	}
}

// Stop ends all workers. Queued calls that have not started fail with
// ErrDispatcherStopped.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
	})
	d.wg.Wait()
}

// Stats reports the running and busy worker counts.
func (d *Dispatcher) Stats() (running, busy int) {
	return d.pool.stats()
}

func (d *Dispatcher) queued() int {
	return len(d.jobs)
}

func (d *Dispatcher) startWorker(id int) {
	d.wg.Add(1)
	go d.work(id)
}

func (d *Dispatcher) work(id int) {
	defer d.wg.Done()
	slog.Debug("worker started", "worker", id)
	timer := time.NewTimer(d.pool.expiry)
	defer timer.Stop()
	for {
		select {
		case <-d.quit:
			d.pool.release()
			return
		case j := <-d.jobs:
			d.pool.markBusy()
			// more jobs may be waiting behind this one
			if next := d.pool.reserve(len(d.jobs)); next > 0 {
				d.startWorker(next)
			}
			d.run(id, j)
			d.pool.markIdle()
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.pool.expiry)
		case <-timer.C:
			if d.pool.retire(id, d.queued) {
				return
			}
			timer.Reset(d.pool.expiry)
		}
	}
}

func (d *Dispatcher) run(id int, j job) {
	// caller gave up while queued
	if err := j.ctx.Err(); err != nil {
		j.resultCh <- jobResult{err: err}
		return
	}
	start := time.Now()
	text, err := d.next.Complete(j.ctx, j.model, j.messages)
	slog.Debug("worker finished job", "worker", id, "model", j.model, "elapsed", time.Since(start), "ok", err == nil)
	j.resultCh <- jobResult{text: text, err: err}
}
