// Package mutate coordinates optimistic mutations against the query
// cache: affected entries flip to the optimistic value before the
// transport call settles, a commit reconciles them against server truth
// by revalidation, and a failure rolls every entry back to its captured
// pre-state verbatim.
//
// Overlapping mutations on the same key are not serialized. A later
// mutation snapshots whatever is visible when it starts, including an
// earlier mutation's optimistic value, and its rollback restores exactly
// that snapshot. Callers that need per-record ordering must serialize
// their own writes.
package mutate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/hireloop/hireloop/pkg/query"
)

var (
	// ErrNoWrite rejects a mutation without a transport write.
	ErrNoWrite = errors.New("mutation has no write function")
	// ErrNoTransform rejects a mutation that names keys but cannot
	// produce their optimistic values.
	ErrNoTransform = errors.New("mutation has keys but no transform")
	// ErrClosed is returned for mutations started after Close.
	ErrClosed = errors.New("coordinator closed")
)

// Phase is the lifecycle state of one mutation.
type Phase int

const (
	// Pending mutations have not touched the cache yet.
	Pending Phase = iota
	// Applied mutations have their optimistic value in the cache while
	// the transport call is in flight.
	Applied
	// Committed mutations settled successfully; affected keys are stale
	// and revalidating.
	Committed
	// RolledBack mutations failed; their snapshot was restored.
	RolledBack
)

func (p Phase) String() string {
	switch p {
	case Pending:
		return "PENDING"
	case Applied:
		return "OPTIMISTIC_APPLIED"
	case Committed:
		return "COMMITTED"
	case RolledBack:
		return "ROLLED_BACK"
	default:
		return "UNKNOWN"
	}
}

// Mutation describes one optimistic write.
type Mutation struct {
	// Name labels the mutation in logs.
	Name string

	// Keys are the cache entries the mutation touches: typically the
	// record key plus every cached list variant of its resource.
	Keys []query.Key

	// Transform produces the optimistic value for one key from its
	// current data (nil when the key is not cached). It must not mutate
	// prev; return a replacement.
	Transform func(key query.Key, prev any) any

	// Write performs the transport call. Its response is surfaced in the
	// Result; its error triggers the rollback.
	Write func(ctx context.Context) (json.RawMessage, error)
}

func (m Mutation) validate() error {
	if m.Write == nil {
		return ErrNoWrite
	}
	if len(m.Keys) > 0 && m.Transform == nil {
		return ErrNoTransform
	}
	return nil
}

// Context tracks one mutation from bump to settlement. The coordinator
// owns it and drops it once the mutation commits or rolls back.
type Context struct {
	Keys     []query.Key
	Snapshot query.Snapshot
	Phase    Phase
}

// Result is the explicit outcome of a mutation.
type Result struct {
	Phase    Phase
	Response json.RawMessage
	Err      error
}

// Kicker schedules a background revalidation for a key. *query.Scheduler
// satisfies it.
type Kicker interface {
	Kick(key query.Key)
}

// Options configures a Coordinator.
type Options struct {
	// Logger receives mutation outcomes. Defaults to slog.Default().
	Logger *slog.Logger
}

// Coordinator runs mutations through the optimistic protocol. It holds no
// per-record locks; overlapping mutations interleave as documented above.
type Coordinator struct {
	cache *query.Cache
	kick  Kicker
	log   *slog.Logger

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewCoordinator builds a coordinator over cache. kicker may be nil, in
// which case committed keys go stale but are only revalidated by reads.
func NewCoordinator(cache *query.Cache, kicker Kicker, opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		cache: cache,
		kick:  kicker,
		log:   log,
	}
}

// Run executes one mutation and blocks until it settles:
//
//  1. bump the affected keys, so in-flight fetch results for them are
//     discarded instead of clobbering the optimistic value
//  2. snapshot the affected entries
//  3. apply Transform to every key atomically; readers see the optimistic
//     values immediately
//  4. invoke Write
//  5. on success: mark every key stale and kick its revalidation, so
//     server-computed fields reconcile by refetch
//  6. on failure: restore the snapshot verbatim and return the error
//
// The returned Result is never nil. Failed mutations return it alongside
// the error; there is no automatic retry.
func (c *Coordinator) Run(ctx context.Context, m Mutation) (*Result, error) {
	if err := m.validate(); err != nil {
		return &Result{Phase: Pending, Err: err}, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &Result{Phase: Pending, Err: ErrClosed}, ErrClosed
	}
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	mc := &Context{Keys: m.Keys, Phase: Pending}

	c.cache.Bump(m.Keys)
	mc.Snapshot = c.cache.Snapshot(m.Keys)
	c.cache.ApplyBatch(m.Keys, m.Transform)
	mc.Phase = Applied

	resp, err := m.Write(ctx)
	if err != nil {
		c.cache.Restore(mc.Snapshot)
		mc.Phase = RolledBack
		c.log.Warn("mutation rolled back", "name", m.Name, "keys", len(m.Keys), "error", err)
		return &Result{Phase: RolledBack, Err: err}, err
	}

	mc.Phase = Committed
	for _, k := range m.Keys {
		c.cache.MarkStale(k)
		if c.kick != nil {
			c.kick.Kick(k)
		}
	}
	c.log.Debug("mutation committed", "name", m.Name, "keys", len(m.Keys))
	return &Result{Phase: Committed, Response: resp}, nil
}

// PendingMutation is a handle to a mutation started with Begin.
type PendingMutation struct {
	done   chan struct{}
	result Result
}

// Done is closed when the mutation settles.
func (p *PendingMutation) Done() <-chan struct{} { return p.done }

// Result blocks until the mutation settles and returns its outcome.
func (p *PendingMutation) Result() Result {
	<-p.done
	return p.result
}

// Begin runs the mutation in the background and returns a handle to wait
// on. Fire-and-wait call sites use it; so do tests that interleave
// overlapping mutations deliberately.
func (c *Coordinator) Begin(ctx context.Context, m Mutation) *PendingMutation {
	p := &PendingMutation{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		res, _ := c.Run(ctx, m)
		p.result = *res
	}()
	return p
}

// Drain waits for every mutation currently in flight to settle.
func (c *Coordinator) Drain() {
	c.inflight.Wait()
}

// Close refuses new mutations and waits for in-flight ones to settle.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.inflight.Wait()
}
