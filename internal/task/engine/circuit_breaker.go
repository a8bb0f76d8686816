package engine

import (
	"sync"
	"time"
)

// breaker is a consecutive-failure circuit per call key. Once fails reaches
// trip the key stays open for an exponentially growing cooldown.
type breaker struct {
	trip       int
	baseDelay  time.Duration
	maxDelay   time.Duration
	resetAfter time.Duration

	mu sync.Mutex
	m  map[string]*circuitState
}

type circuitState struct {
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

func newBreaker(cfg Config) *breaker {
	if cfg.CircuitTripFailures < 0 {
		return nil
	}
	b := &breaker{
		trip:       cfg.CircuitTripFailures,
		baseDelay:  cfg.CircuitBaseDelay,
		maxDelay:   cfg.CircuitMaxDelay,
		resetAfter: cfg.CircuitResetAfter,
		m:          map[string]*circuitState{},
	}
	if b.trip == 0 {
		b.trip = 5
	}
	if b.baseDelay <= 0 {
		b.baseDelay = 5 * time.Second
	}
	if b.maxDelay <= 0 {
		b.maxDelay = 2 * time.Minute
	}
	if b.resetAfter <= 0 {
		b.resetAfter = 5 * time.Minute
	}
	return b
}

// state returns the key's entry with stale failures forgotten. Caller holds mu.
func (b *breaker) state(now time.Time, key string) *circuitState {
	st := b.m[key]
	if st == nil {
		st = &circuitState{}
		b.m[key] = st
	}
	if !st.lastFailure.IsZero() && now.Sub(st.lastFailure) > b.resetAfter {
		*st = circuitState{}
	}
	return st
}

func (b *breaker) open(now time.Time, key string) (bool, time.Time) {
	if b == nil {
		return false, time.Time{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.state(now, key)
	if now.Before(st.openUntil) {
		return true, st.openUntil
	}
	return false, time.Time{}
}

func (b *breaker) record(now time.Time, key string, err error) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.state(now, key)
	if err == nil {
		*st = circuitState{}
		return
	}
	st.fails++
	st.lastFailure = now
	if st.fails < b.trip {
		return
	}
	d := b.baseDelay
	for i := 0; i < st.fails-b.trip && d < b.maxDelay; i++ {
		d *= 2
	}
	st.openUntil = now.Add(min(d, b.maxDelay))
}
