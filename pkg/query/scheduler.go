package query

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SchedulerOptions configures the background revalidation runner.
type SchedulerOptions struct {
	// SweepInterval, when positive, revalidates every stale entry on a
	// timer in addition to the kicks reads and commits produce.
	SweepInterval time.Duration

	// Logger receives revalidation outcomes. Defaults to slog.Default().
	Logger *slog.Logger
}

// Scheduler runs the cache's revalidations in the background: one
// goroutine per kicked key (coalesced with any concurrent fetch for that
// key by the cache), plus an optional periodic sweep of stale entries.
type Scheduler struct {
	cache *Cache
	log   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	kicks  sync.WaitGroup // in-flight revalidations
	loop   sync.WaitGroup // the sweep goroutine
}

// NewScheduler attaches a scheduler to cache and starts the sweep loop if
// configured.
func NewScheduler(cache *Cache, opts SchedulerOptions) *Scheduler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cache:  cache,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	cache.attach(s.Kick)

	if opts.SweepInterval > 0 {
		s.loop.Add(1)
		go s.sweep(opts.SweepInterval)
	}
	return s
}

// Kick revalidates key in the background. Kicks after Close are dropped.
func (s *Scheduler) Kick(key Key) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.kicks.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.kicks.Done()
		wrote, err := s.cache.Refetch(s.ctx, key)
		switch {
		case err != nil:
			// The stale value stays in place; the next read kicks again.
			s.log.Warn("revalidation failed", "key", string(key), "error", err)
		case !wrote:
			s.log.Debug("revalidation discarded, newer write won", "key", string(key))
		}
	}()
}

func (s *Scheduler) sweep(interval time.Duration) {
	defer s.loop.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			for _, key := range s.cache.staleKeys() {
				s.Kick(key)
			}
		}
	}
}

// Drain waits for every revalidation kicked so far to settle. Tests and
// shutdown paths use it to make background work deterministic.
func (s *Scheduler) Drain() {
	s.kicks.Wait()
}

// Close stops accepting kicks, cancels in-flight revalidations and the
// sweep, and waits for them to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.kicks.Wait()
	s.loop.Wait()
}
