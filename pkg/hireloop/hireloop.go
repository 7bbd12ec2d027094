// Package hireloop is the embeddable facade over the hiring pipeline
// stack: a persistent store behind a simulated request channel, fronted
// by a stale-while-revalidate query cache and an optimistic mutation
// coordinator.
//
// Reads serve cached values immediately and revalidate stale ones in the
// background; concurrent misses for one key coalesce into a single
// fetch. Writes apply their optimistic preview to every affected cache
// entry before the simulated channel settles. A failed write rolls the
// entries back to their captured pre-state verbatim; a committed one
// marks them stale and revalidates, so server-assigned fields (ids,
// slugs, orders, timestamps) reconcile by refetch.
//
// Basic usage:
//
//	db, err := hireloop.Open("", nil) // in-memory store, default config
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	page, err := db.ListJobs(ctx, hireloop.JobFilter{Status: "active"})
package hireloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hireloop/hireloop/pkg/backend"
	"github.com/hireloop/hireloop/pkg/config"
	"github.com/hireloop/hireloop/pkg/mutate"
	"github.com/hireloop/hireloop/pkg/query"
	"github.com/hireloop/hireloop/pkg/reorder"
	"github.com/hireloop/hireloop/pkg/store"
	"github.com/hireloop/hireloop/pkg/transport"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("database is closed")
)

// Resource path roots, shared by keys and requests.
const (
	jobsResource        = "/jobs"
	candidatesResource  = "/candidates"
	assessmentsResource = "/assessments"
)

// Options tunes an Open beyond its configuration. The zero value is
// production behavior: wall clock, time-seeded randomness, default
// logger.
type Options struct {
	// Config overrides the defaults. Nil means config.DefaultConfig().
	Config *config.Config

	// Clock drives simulated latency and cache entry ages. Tests inject
	// a manual one so latency costs nothing real.
	Clock transport.Clock

	// Rand supplies the transport's latency and failure rolls. Inject a
	// seeded source for deterministic runs.
	Rand *rand.Rand

	// Logger receives structured progress. Defaults to slog.Default().
	Logger *slog.Logger
}

// DB is the facade clients hold. All methods are safe for concurrent
// use. Writes are optimistic and not serialized per record: overlapping
// mutations on the same key interleave, and a rollback restores the
// state visible when that mutation started.
type DB struct {
	cfg *config.Config
	log *slog.Logger

	mu     sync.RWMutex
	closed bool

	engine store.Engine
	sim    *transport.Simulator
	cache  *query.Cache
	sched  *query.Scheduler
	coord  *mutate.Coordinator

	clock     transport.Clock
	staleTime time.Duration
}

// Open initializes the stack at dataDir. An empty dataDir selects the
// in-memory store; otherwise records persist in a Badger database at
// that path. A nil cfg uses the defaults.
func Open(dataDir string, cfg *config.Config) (*DB, error) {
	return OpenWithOptions(dataDir, Options{Config: cfg})
}

// OpenWithOptions is Open with injection points for clock, randomness
// and logging.
func OpenWithOptions(dataDir string, opts Options) (*DB, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg.Store.DataDir = dataDir
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	var (
		engine store.Engine
		err    error
	)
	if dataDir == "" {
		engine = store.NewMemoryEngine()
	} else {
		engine, err = store.NewBadgerEngine(dataDir)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	var limiter *rate.Limiter
	if rl := cfg.Transport.RateLimit; rl > 0 {
		limiter = rate.NewLimiter(rate.Limit(rl), 1)
	}
	sim := transport.NewSimulator(backend.New(engine), transport.Policy{
		LatencyMin:         cfg.Transport.LatencyMin,
		LatencyMax:         cfg.Transport.LatencyMax,
		FailureProbability: wireProbability(cfg.Transport.FailureProbability),
		Rand:               opts.Rand,
		Clock:              opts.Clock,
		Limiter:            limiter,
	})

	cache := query.NewCache(query.Options{Clock: sim.Clock()})
	sched := query.NewScheduler(cache, query.SchedulerOptions{
		SweepInterval: cfg.Cache.SweepInterval,
		Logger:        log,
	})

	db := &DB{
		cfg:       cfg,
		log:       log,
		engine:    engine,
		sim:       sim,
		cache:     cache,
		sched:     sched,
		coord:     mutate.NewCoordinator(cache, sched, mutate.Options{Logger: log}),
		clock:     sim.Clock(),
		staleTime: cfg.Cache.StaleTime,
	}
	log.Info("hireloop open",
		"engine", engineName(dataDir),
		"staleTime", cfg.Cache.StaleTime,
		"failureProbability", cfg.Transport.FailureProbability)
	return db, nil
}

func engineName(dataDir string) string {
	if dataDir == "" {
		return "memory"
	}
	return "badger"
}

// wireProbability maps the config's literal probability onto the
// simulator's convention, where zero means "use the default" and a
// negative value disables injection.
func wireProbability(p float64) float64 {
	if p == 0 {
		return -1
	}
	return p
}

// Close refuses new work, waits for in-flight mutations and
// revalidations to settle, and closes the store. It is idempotent.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	db.coord.Close()
	db.sched.Close()
	err := db.engine.Close()
	db.log.Info("hireloop closed")
	return err
}

// Config returns the effective configuration.
func (db *DB) Config() *config.Config { return db.cfg }

// TransportStats returns the simulated channel's cumulative counters.
func (db *DB) TransportStats() transport.Stats { return db.sim.Stats() }

// Reset discards every cached query result. The store is untouched;
// subsequent reads refetch. This is the cache's only eviction path.
func (db *DB) Reset() error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	db.cache.Reset()
	return nil
}

// Drain waits for in-flight mutations and background revalidations to
// settle. Tests and shutdown paths use it to make outcomes observable.
func (db *DB) Drain() {
	db.coord.Drain()
	db.sched.Drain()
}

// CheckJobOrders verifies the dense order invariant over the jobs
// collection, directly against the store. A violation is returned as a
// *reorder.RepairError naming every duplicate, missing and out-of-range
// value.
func (db *DB) CheckJobOrders() error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	recs, err := db.engine.List(store.Jobs, nil)
	if err != nil {
		return err
	}
	return reorder.CheckDense(reorder.Orders(recs))
}

func (db *DB) checkOpen() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	return nil
}

// do sends one request over the simulated channel and returns the raw
// reply body. A non-nil body is marshaled as JSON.
func (db *DB) do(ctx context.Context, method, path string, params url.Values, body any) (json.RawMessage, error) {
	var raw json.RawMessage
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		raw = b
	}
	resp, err := db.sim.Do(ctx, &transport.Request{
		Method: method,
		Path:   path,
		Params: params,
		Body:   raw,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// runWrite executes one optimistic mutation and decodes the committed
// reply into out. A failed write has already rolled the cache back by
// the time the error returns.
func (db *DB) runWrite(ctx context.Context, m mutate.Mutation, out any) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	res, err := db.coord.Run(ctx, m)
	if err != nil {
		return translateErr(err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(res.Response, out); err != nil {
		return fmt.Errorf("decode %s reply: %w", m.Name, err)
	}
	return nil
}

// getCached reads one key through the cache, fetching over the simulated
// channel on a miss and serving stale values while a revalidation runs
// in the background.
func getCached[T any](ctx context.Context, db *DB, key query.Key, path string, params url.Values) (*T, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	entry, err := db.cache.GetOrFetch(ctx, key, fetchTyped[T](db, path, params), db.staleTime)
	if err != nil {
		return nil, translateErr(err)
	}
	v, ok := entry.Data.(*T)
	if !ok {
		return nil, fmt.Errorf("cache entry %s holds %T", key, entry.Data)
	}
	return v, nil
}

func fetchTyped[T any](db *DB, path string, params url.Values) query.Fetcher {
	return func(ctx context.Context) (any, error) {
		raw, err := db.do(ctx, "GET", path, params, nil)
		if err != nil {
			return nil, err
		}
		out := new(T)
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return out, nil
	}
}

// translateErr maps wire-level failures onto facade sentinels. A 404
// reply becomes ErrNotFound; everything else passes through.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var serr *transport.ServerError
	if errors.As(err, &serr) && serr.Status == 404 {
		return ErrNotFound
	}
	return err
}

// queryValues converts canonical key parameters into request values.
func queryValues(params map[string]string) url.Values {
	if len(params) == 0 {
		return nil
	}
	vals := make(url.Values, len(params))
	for k, v := range params {
		vals.Set(k, v)
	}
	return vals
}

// keyParams recovers the parameters of a canonical list key.
func keyParams(key query.Key) url.Values {
	s := string(key)
	i := strings.IndexByte(s, '?')
	if i < 0 {
		return nil
	}
	vals, err := url.ParseQuery(s[i+1:])
	if err != nil {
		return nil
	}
	return vals
}

// cachedListKeys returns every cached list variant of resource: its bare
// key plus parameterized forms. Record and sub-resource keys sharing the
// prefix are excluded, so a mutation only rewrites list entries that
// actually exist.
func (db *DB) cachedListKeys(resource string) []query.Key {
	all := db.cache.KeysWithPrefix(query.KeyPrefix(resource))
	keys := all[:0]
	for _, k := range all {
		s := string(k)
		if s == resource || strings.HasPrefix(s, resource+"?") {
			keys = append(keys, k)
		}
	}
	return keys
}

// withCachedKey appends key when the cache holds a value for it.
func (db *DB) withCachedKey(keys []query.Key, key query.Key) []query.Key {
	if _, ok := db.cache.Read(key); ok {
		return append(keys, key)
	}
	return keys
}

func jobKey(id string) query.Key {
	return query.MakeKey(jobsResource+"/"+id, nil)
}

func candidateKey(id string) query.Key {
	return query.MakeKey(candidatesResource+"/"+id, nil)
}

func assessmentKey(jobID string) query.Key {
	return query.MakeKey(assessmentsResource+"/"+jobID, nil)
}
