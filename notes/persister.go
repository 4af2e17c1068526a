package notes

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/brunoscheufler/notepad/store"
	"github.com/brunoscheufler/notepad/telemetry"
	"github.com/brunoscheufler/notepad/util"
)

// persister writes full-list snapshots to the gateway on a single goroutine, in the
// order they were enqueued. Enqueueing never blocks. Failed writes are retried and
// then logged; callers are never told. While a hold is active snapshots are parked
// instead of written, so a fetch never races a write.
type persister struct {
	gateway    store.Gateway
	retry      util.RetryConfig
	maxPending int
	logger     *slog.Logger
	stats      telemetry.StatsCollector

	mu       sync.Mutex
	queue    [][]store.Note
	inFlight bool
	held     int
	closed   bool
	waiters  []chan struct{}
	wake     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newPersister(gateway store.Gateway, retry util.RetryConfig, maxPending int, logger *slog.Logger, stats telemetry.StatsCollector) *persister {
	ctx, cancel := context.WithCancel(context.Background())
	p := &persister{
		gateway:    gateway,
		retry:      retry,
		maxPending: maxPending,
		logger:     logger,
		stats:      stats,
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persister) enqueue(snapshot []store.Note) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Warn("Dropping note write after close", "count", len(snapshot))
		return
	}
	if p.maxPending > 0 && len(p.queue) >= p.maxPending {
		p.queue = p.queue[1:]
		p.logger.Debug("Write queue full, discarding oldest snapshot", "limit", p.maxPending)
	}
	p.queue = append(p.queue, snapshot)
	p.mu.Unlock()

	p.signal()
}

func (p *persister) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.queue)
	if p.inFlight {
		n++
	}
	return n
}

func (p *persister) run() {
	defer close(p.done)

	for {
		p.mu.Lock()
		if p.ctx.Err() != nil {
			if len(p.queue) > 0 {
				p.logger.Warn("Dropping unwritten note snapshots", "count", len(p.queue))
			}
			p.queue = nil
			p.releaseWaitersLocked()
			p.mu.Unlock()
			return
		}

		if len(p.queue) == 0 || p.held > 0 {
			drained := len(p.queue) == 0
			if drained {
				p.releaseWaitersLocked()
			}
			done := p.closed && drained && p.held == 0
			p.mu.Unlock()
			if done {
				return
			}

			select {
			case <-p.wake:
			case <-p.ctx.Done():
			}
			continue
		}

		snapshot := p.queue[0]
		p.queue = p.queue[1:]
		p.inFlight = true
		p.mu.Unlock()

		p.write(snapshot)

		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}
}

func (p *persister) write(snapshot []store.Note) {
	retry := p.retry
	retry.OnRetry = func(attempt int, err error) {
		p.logger.Warn("Retrying note persistence", "attempt", attempt, "error", err)
	}

	start := time.Now()
	err := util.Retry(p.ctx, retry, func(ctx context.Context) error {
		return p.gateway.PersistAll(ctx, snapshot)
	})

	if p.stats != nil {
		if trackErr := p.stats.TrackGatewayAccess("PersistAll", time.Since(start), err == nil); trackErr != nil {
			p.logger.Debug("Failed to track gateway access", "error", trackErr)
		}
	}

	if err != nil {
		p.logger.Error("Failed to persist notes", "count", len(snapshot), "error", err)
	}
}

// hold waits until every queued write has been attempted and then parks later
// snapshots until release. Each hold must be paired with a release.
func (p *persister) hold(ctx context.Context) {
	for {
		p.mu.Lock()
		if (len(p.queue) == 0 && !p.inFlight) || p.ctx.Err() != nil {
			p.held++
			p.mu.Unlock()
			return
		}
		ch := make(chan struct{})
		p.waiters = append(p.waiters, ch)
		p.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			p.mu.Lock()
			p.held++
			p.mu.Unlock()
			return
		}
	}
}

// release ends a hold. A non-nil snapshot replaces every snapshot parked so far.
func (p *persister) release(snapshot []store.Note) {
	p.mu.Lock()
	if snapshot != nil {
		if dropped := len(p.queue); dropped > 0 {
			p.logger.Debug("Replacing parked snapshots", "count", dropped)
		}
		p.queue = [][]store.Note{snapshot}
	}
	if p.held > 0 {
		p.held--
	}
	p.mu.Unlock()

	p.signal()
}

func (p *persister) releaseWaitersLocked() {
	for _, ch := range p.waiters {
		close(ch)
	}
	p.waiters = nil
}

func (p *persister) flush(ctx context.Context) error {
	p.mu.Lock()
	if len(p.queue) == 0 && !p.inFlight {
		p.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *persister) close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.signal()

	defer p.cancel()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		p.cancel()
		<-p.done
		return ctx.Err()
	}
}
