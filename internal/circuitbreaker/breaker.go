// Package circuitbreaker keeps RPC traffic off a misbehaving endpoint.
// The reconciler binds to a single JSON-RPC endpoint per process; once that
// endpoint starts failing, further calls only burn the rate budget, so they
// are rejected locally until a cooldown elapses and a few probe calls prove
// the endpoint recovered.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen rejects a call while the breaker is open.
var ErrCircuitOpen = errors.New("circuitbreaker: endpoint circuit open")

type State uint8

const (
	Closed   State = iota // calls flow normally
	Open                  // endpoint considered down, calls rejected
	HalfOpen              // cooldown elapsed, probe calls allowed
)

// Defaults sized against the worker cadences: five straight RPC failures
// open the circuit, and the cooldown is well under the slowest interval so
// a worker never sleeps through an entire open window.
const (
	defaultFailureLimit = 5
	defaultProbeLimit   = 2
	defaultCooldown     = 30 * time.Second
)

// Config tunes a Breaker. Zero values take the defaults.
type Config struct {
	FailureLimit  int           // consecutive failures before opening
	ProbeLimit    int           // successful probes in half-open before closing
	Cooldown      time.Duration // open duration before probing resumes
	OnStateChange func(from, to State)
}

// Breaker tracks consecutive failures against the RPC endpoint and rejects
// calls while the endpoint is considered down.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	probes   int
	openedAt time.Time
}

func New(cfg Config) *Breaker {
	if cfg.FailureLimit <= 0 {
		cfg.FailureLimit = defaultFailureLimit
	}
	if cfg.ProbeLimit <= 0 {
		cfg.ProbeLimit = defaultProbeLimit
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a call may proceed. An open breaker whose cooldown
// has elapsed moves to half-open and lets the call through as a probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return ErrCircuitOpen
		}
		b.transition(HalfOpen)
	}
	return nil
}

// RecordSuccess feeds a successful call back into the breaker. Any success
// clears the failure streak; enough successful probes close the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state == HalfOpen {
		b.probes++
		if b.probes >= b.cfg.ProbeLimit {
			b.transition(Closed)
		}
	}
}

// RecordFailure feeds a failed call back. Failures count against the limit
// only while closed; any failure during half-open reopens at once.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case HalfOpen:
		b.transition(Open)
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureLimit {
			b.transition(Open)
		}
	}
}

// Current returns the breaker state, applying the cooldown transition first
// so status readers see half-open as soon as probing is possible.
func (b *Breaker) Current() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.transition(HalfOpen)
	}
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.probes = 0
	switch to {
	case Open:
		b.openedAt = b.now()
	case Closed:
		b.failures = 0
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}
