package service

import (
	"context"
	"log"
	"sync"
	"time"
)

// UsageStore is the slice of the key store the tracker needs.
type UsageStore interface {
	UpdateUsage(ctx context.Context, hash string) error
}

// UsageTracker applies usage updates for validated keys off the request
// path. Validations hand the key hash to a bounded queue and return
// immediately; a fixed set of workers drains the queue. Updates are
// best-effort telemetry: a full queue drops the update and a store failure
// is logged and swallowed, never surfaced to the request that triggered it.
type UsageTracker struct {
	store   UsageStore
	jobs    chan string
	workers int
	timeout time.Duration

	mu      sync.Mutex
	wg      sync.WaitGroup
	started bool
	stopped bool
}

func NewUsageTracker(store UsageStore, queueSize, workers int) *UsageTracker {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if workers <= 0 {
		workers = 1
	}

	return &UsageTracker{
		store:   store,
		jobs:    make(chan string, queueSize),
		workers: workers,
		timeout: 10 * time.Second,
	}
}

func (t *UsageTracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return
	}
	t.started = true

	for i := 0; i < t.workers; i++ {
		t.wg.Add(1)
		go t.worker()
	}
}

// Stop drains the queue and waits for in-flight updates to finish. Updates
// recorded after Stop are dropped.
func (t *UsageTracker) Stop() {
	t.mu.Lock()
	if t.stopped || !t.started {
		t.stopped = true
		t.mu.Unlock()
		return
	}
	t.stopped = true
	close(t.jobs)
	t.mu.Unlock()

	t.wg.Wait()
}

// Record queues a usage update for the given key hash. It never blocks: when
// the queue is full or the tracker is stopped the update is lost, which is
// acceptable for usage counters.
func (t *UsageTracker) Record(hash string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}

	select {
	case t.jobs <- hash:
	default:
		log.Printf("usage tracker queue full, dropping update")
	}
}

func (t *UsageTracker) worker() {
	defer t.wg.Done()

	for hash := range t.jobs {
		// The originating request may already have completed, so each
		// update runs under its own context.
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		if err := t.store.UpdateUsage(ctx, hash); err != nil {
			log.Printf("failed to record api key usage: %v", err)
		}
		cancel()
	}
}
