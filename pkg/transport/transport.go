// Package transport simulates the unreliable request/response channel
// between the optimistic layer and the backend: every call pays a uniform
// random latency, and writes fail with a configured probability before the
// backend is ever touched. Latency source and randomness are injected so
// tests run deterministically with no real sleeping.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Request is one call through the simulated channel. Method and Path follow
// the backend's route table; Params carries query-style parameters; Body is
// the optional JSON payload.
type Request struct {
	Method string
	Path   string
	Params url.Values
	Body   json.RawMessage
}

// Response is a successful reply: a status-like code and a JSON payload.
type Response struct {
	Status int
	Body   json.RawMessage
}

// ServerError is a non-success reply: a status-like code plus a message
// that serializes as {"error": "..."}. Cause, when set, preserves the
// underlying typed error for errors.Is / errors.As.
type ServerError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Cause   error  `json:"-"`
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

func (e *ServerError) Unwrap() error { return e.Cause }

// Handler is the backend side of the channel.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// Clock abstracts time so tests can advance latency instantly.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// Default policy values.
const (
	DefaultLatencyMin         = 200 * time.Millisecond
	DefaultLatencyMax         = 1200 * time.Millisecond
	DefaultFailureProbability = 0.075
)

// Policy configures the simulated channel.
type Policy struct {
	// LatencyMin and LatencyMax bound the uniform latency applied to every
	// call. Defaults: 200ms and 1200ms.
	LatencyMin time.Duration
	LatencyMax time.Duration

	// FailureProbability is the chance a write fails with an injected
	// server error before reaching the backend. Reads never fail this way.
	// Default: 0.075.
	FailureProbability float64

	// Rand supplies randomness for latency and failure rolls. Inject a
	// seeded source for deterministic tests. Defaults to a time-seeded one.
	Rand *rand.Rand

	// Clock supplies time and latency waits. Defaults to the wall clock.
	Clock Clock

	// Limiter, if set, caps simulated server throughput.
	Limiter *rate.Limiter
}

// Stats are cumulative counters for one simulator.
type Stats struct {
	Calls            int64
	Writes           int64
	InjectedFailures int64
}

// Simulator delivers requests to a Handler under a Policy.
type Simulator struct {
	handler Handler
	policy  Policy
	clock   Clock

	randMu sync.Mutex // rand.Rand is not goroutine-safe
	rand   *rand.Rand

	calls            atomic.Int64
	writes           atomic.Int64
	injectedFailures atomic.Int64
}

// NewSimulator wires a simulated channel in front of handler. Zero policy
// fields take their defaults; a negative FailureProbability disables
// injection entirely.
func NewSimulator(handler Handler, policy Policy) *Simulator {
	if policy.LatencyMin == 0 && policy.LatencyMax == 0 {
		policy.LatencyMin = DefaultLatencyMin
		policy.LatencyMax = DefaultLatencyMax
	}
	if policy.LatencyMax < policy.LatencyMin {
		policy.LatencyMax = policy.LatencyMin
	}
	if policy.FailureProbability == 0 {
		policy.FailureProbability = DefaultFailureProbability
	}
	if policy.FailureProbability < 0 {
		policy.FailureProbability = 0
	}

	clock := policy.Clock
	if clock == nil {
		clock = realClock{}
	}
	rng := policy.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Simulator{
		handler: handler,
		policy:  policy,
		clock:   clock,
		rand:    rng,
	}
}

// Clock returns the simulator's time source.
func (s *Simulator) Clock() Clock { return s.clock }

// Stats returns a snapshot of the cumulative counters.
func (s *Simulator) Stats() Stats {
	return Stats{
		Calls:            s.calls.Load(),
		Writes:           s.writes.Load(),
		InjectedFailures: s.injectedFailures.Load(),
	}
}

// Do delivers one request: wait for the limiter slot (if any), pay the
// uniform latency, then either fail an unlucky write before the backend is
// touched or delegate to the handler. The injected failure is a plain
// *ServerError with status 500; callers treat it like any transient server
// failure.
func (s *Simulator) Do(ctx context.Context, req *Request) (*Response, error) {
	s.calls.Add(1)
	isWrite := req.Method != "GET"
	if isWrite {
		s.writes.Add(1)
	}

	if s.policy.Limiter != nil {
		if err := s.policy.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if err := s.clock.Sleep(ctx, s.latency()); err != nil {
		return nil, err
	}

	if isWrite && s.roll() < s.policy.FailureProbability {
		s.injectedFailures.Add(1)
		return nil, &ServerError{Status: 500, Message: "injected failure"}
	}

	return s.handler.Handle(ctx, req)
}

// latency draws a uniform duration in [LatencyMin, LatencyMax].
func (s *Simulator) latency() time.Duration {
	lo, hi := s.policy.LatencyMin, s.policy.LatencyMax
	if hi <= lo {
		return lo
	}
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return lo + time.Duration(s.rand.Int63n(int64(hi-lo)+1))
}

func (s *Simulator) roll() float64 {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return s.rand.Float64()
}
