// Package ratelimit throttles remote token counters with an adaptive
// requests-per-minute budget. The budget halves whenever the remote counter
// reports tokens.ErrRateLimited and recovers additively on success. When a
// Pulse replicated map is supplied, the budget is shared by every process
// using the same key.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/pulse/rmap"

	"goa.design/acontext/runtime/message"
	"goa.design/acontext/runtime/tokens"
)

type (
	// Limiter is an adaptive requests-per-minute limiter for token counters.
	Limiter struct {
		mu      sync.Mutex
		limiter *rate.Limiter

		currentRPM float64
		minRPM     float64
		maxRPM     float64
		step       float64

		onBackoff func(rpm float64)
		onProbe   func(rpm float64)
	}

	limitedCounter struct {
		next    tokens.Counter
		limiter *Limiter
	}

	// sharedBudget is the subset of rmap.Map used to coordinate the budget
	// across processes.
	sharedBudget interface {
		Get(key string) (string, bool)
		SetIfNotExists(ctx context.Context, key, value string) (bool, error)
		TestAndSet(ctx context.Context, key, test, value string) (string, error)
		Subscribe() <-chan rmap.EventKind
	}
)

// DefaultRPM is used when New is given a non-positive budget.
const DefaultRPM = 600

// New returns a Limiter starting at rpm requests per minute and never
// exceeding maxRPM. When m is not nil and key is not empty, the budget is
// stored in m under key and shared across processes.
func New(ctx context.Context, m *rmap.Map, key string, rpm, maxRPM float64) *Limiter {
	var shared sharedBudget
	if m != nil {
		shared = m
	}
	return newShared(ctx, shared, key, rpm, maxRPM)
}

func newLocal(rpm, maxRPM float64) *Limiter {
	if rpm <= 0 {
		rpm = DefaultRPM
	}
	if maxRPM < rpm {
		maxRPM = rpm
	}
	l := &Limiter{
		currentRPM: rpm,
		minRPM:     max(rpm*0.1, 1),
		maxRPM:     maxRPM,
		step:       max(rpm*0.05, 1),
	}
	l.limiter = rate.NewLimiter(perSecond(rpm), burst(rpm))
	return l
}

// Wrap returns a Counter that waits for the limiter before delegating to
// next and adapts the budget to the outcome.
func (l *Limiter) Wrap(next tokens.Counter) tokens.Counter {
	return &limitedCounter{next: next, limiter: l}
}

// RPM returns the current budget.
func (l *Limiter) RPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentRPM
}

func (c *limitedCounter) Count(ctx context.Context, parts ...message.Part) (int, error) {
	if err := c.limiter.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("%w: %w", tokens.ErrUnavailable, err)
	}
	n, err := c.next.Count(ctx, parts...)
	c.limiter.observe(err)
	return n, err
}

func (l *Limiter) observe(err error) {
	switch {
	case err == nil:
		l.adjust(func(cur float64) float64 { return min(cur+l.step, l.maxRPM) }, l.onProbe)
	case errors.Is(err, tokens.ErrRateLimited):
		l.adjust(func(cur float64) float64 { return max(cur*0.5, l.minRPM) }, l.onBackoff)
	}
}

func (l *Limiter) adjust(next func(float64) float64, notify func(float64)) {
	l.mu.Lock()
	rpm := next(l.currentRPM)
	if rpm == l.currentRPM {
		l.mu.Unlock()
		return
	}
	l.apply(rpm)
	l.mu.Unlock()
	if notify != nil {
		notify(rpm)
	}
}

// replace sets the budget to rpm clamped to the configured bounds.
func (l *Limiter) replace(rpm float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rpm = min(max(rpm, l.minRPM), l.maxRPM)
	if rpm != l.currentRPM {
		l.apply(rpm)
	}
}

func (l *Limiter) apply(rpm float64) {
	l.currentRPM = rpm
	l.limiter.SetLimit(perSecond(rpm))
	l.limiter.SetBurst(burst(rpm))
}

func newShared(ctx context.Context, m sharedBudget, key string, rpm, maxRPM float64) *Limiter {
	if m == nil || key == "" {
		return newLocal(rpm, maxRPM)
	}
	if _, ok := m.Get(key); !ok {
		if _, err := m.SetIfNotExists(ctx, key, format(rpm)); err != nil {
			return newLocal(rpm, maxRPM)
		}
	}
	if cur, ok := m.Get(key); ok {
		if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
			rpm = v
		}
	}
	l := newLocal(rpm, maxRPM)
	floor, ceiling, step := l.minRPM, l.maxRPM, l.step
	l.mu.Lock()
	l.onBackoff = func(float64) {
		go updateShared(m, key, func(cur float64) float64 { return max(cur*0.5, floor) })
	}
	l.onProbe = func(float64) {
		go updateShared(m, key, func(cur float64) float64 { return min(cur+step, ceiling) })
	}
	l.mu.Unlock()

	ch := m.Subscribe()
	go func() {
		for range ch {
			cur, ok := m.Get(key)
			if !ok {
				continue
			}
			if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
				l.replace(v)
			}
		}
	}()
	return l
}

// updateShared applies next to the shared budget with optimistic
// concurrency, giving up after a few conflicting writes.
func updateShared(m sharedBudget, key string, next func(float64) float64) {
	const attempts = 3
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for range attempts {
		curStr, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		nextStr := format(next(cur))
		if nextStr == curStr {
			return
		}
		prev, err := m.TestAndSet(ctx, key, curStr, nextStr)
		if err != nil || prev == curStr {
			return
		}
	}
}

func perSecond(rpm float64) rate.Limit { return rate.Limit(rpm / 60) }

func burst(rpm float64) int { return max(int(rpm/60), 1) }

func format(rpm float64) string { return strconv.Itoa(int(rpm)) }
