package storage

import (
	"context"
	"runtime"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// notifier drains saved-event notifications to the queue off the save path so
// a slow queue never adds latency to a conditional save. Delivery stays best
// effort: a full buffer falls back to an inline send at the call site.
type notifier struct {
	queue          queueClient
	logger         *log.Logger
	jobs           chan savedEvent
	sendTimeout    time.Duration
	handoffTimeout time.Duration

	mu      sync.Mutex
	closed  bool
	workers sync.WaitGroup
}

func newNotifier(queue queueClient, logger *log.Logger) *notifier {
	return &notifier{
		queue:          queue,
		logger:         logger,
		jobs:           make(chan savedEvent, envInt("NOTIFY_BUFFER", 1024)),
		sendTimeout:    envDur("NOTIFY_TIMEOUT", 30*time.Second),
		handoffTimeout: envDur("NOTIFY_HANDOFF_TIMEOUT", 5*time.Millisecond),
	}
}

func (n *notifier) start() {
	count := notifyConcurrencyForCPU(runtime.NumCPU())
	for i := 0; i < count; i++ {
		n.workers.Add(1)
		go n.worker()
	}
	n.logger.Infof("saved-event notifier started, workers: %d, buffer: %d", count, cap(n.jobs))
}

func (n *notifier) worker() {
	defer n.workers.Done()
	for ev := range n.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), n.sendTimeout)
		sendSavedEvent(ctx, n.queue, n.logger, ev)
		cancel()
	}
}

// tryPublish hands the event to a worker without blocking the save path
// beyond the handoff timeout. Returns false when the buffer is saturated or
// the notifier is closed.
func (n *notifier) tryPublish(ev savedEvent) (ok bool) {
	// Sending on the closed jobs channel panics if close races a publish.
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return false
	}
	n.mu.Unlock()

	select {
	case n.jobs <- ev:
		return true
	default:
	}
	if n.handoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(n.handoffTimeout)
	defer timer.Stop()
	select {
	case n.jobs <- ev:
		return true
	case <-timer.C:
		return false
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()

	close(n.jobs)
	n.workers.Wait()
}
