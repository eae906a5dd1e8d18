package worker

import (
	"testing"
	"time"
)

func TestRetireSeesJobQueuedAfterReserve(t *testing.T) {
	p := newWorkerPool(0, 1, time.Minute)
	jobs := make(chan job, 1)
	queued := func() int { return len(jobs) }

	id := p.reserve(1)
	if id <= 0 {
		t.Fatalf("expected a worker slot, got %d", id)
	}

	// a caller queues a job while the only worker is idle and about to expire
	jobs <- job{}
	if next := p.reserve(len(jobs)); next > 0 {
		t.Fatalf("idle worker should cover the queued job, got new worker %d", next)
	}

	if p.retire(id, queued) {
		t.Fatalf("worker retired with %d job queued", len(jobs))
	}
	if running, _ := p.stats(); running != 1 {
		t.Fatalf("expected 1 running worker, got %d", running)
	}
}

func TestRetireBeforeQueueSpawnsReplacement(t *testing.T) {
	p := newWorkerPool(0, 1, time.Minute)
	jobs := make(chan job, 1)

	id := p.reserve(1)
	if !p.retire(id, func() int { return len(jobs) }) {
		t.Fatalf("idle worker with empty queue should retire")
	}

	jobs <- job{}
	if next := p.reserve(len(jobs)); next <= 0 {
		t.Fatalf("expected a replacement worker for the queued job")
	}
}

func TestRetireKeepsMinWorkers(t *testing.T) {
	p := newWorkerPool(1, 2, time.Minute)
	id := p.reserveWarm()
	if p.retire(id, func() int { return 0 }) {
		t.Fatalf("warm worker should not retire")
	}
}
