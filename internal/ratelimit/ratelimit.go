package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrBudgetExhausted is returned once a Budget has handed out every slot.
var ErrBudgetExhausted = errors.New("request budget exhausted")

type RateLimiter interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// IntervalLimiter keeps at least a minimum delay between actions, with
// optional jitter up to a maximum.
type IntervalLimiter struct {
	mu         sync.Mutex
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
	rand  func(int64) int64
}

func NewIntervalLimiter(minDelay, maxDelay time.Duration) *IntervalLimiter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &IntervalLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		now:      time.Now,
		after:    time.After,
		rand:     rand.Int63n,
	}
}

// Wait blocks until the delay since the previous action has passed.
func (r *IntervalLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.lastAction.IsZero() {
		elapsed := r.now().Sub(r.lastAction)
		if delay := r.delay(); elapsed < delay {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.after(delay - elapsed):
			}
		}
	}

	r.lastAction = r.now()
	return nil
}

func (r *IntervalLimiter) SetDelay(min, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if max < min {
		max = min
	}
	r.minDelay = min
	r.maxDelay = max
}

// Delay returns the current minimum delay.
func (r *IntervalLimiter) Delay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minDelay
}

func (r *IntervalLimiter) delay() time.Duration {
	if r.maxDelay <= r.minDelay {
		return r.minDelay
	}
	return r.minDelay + time.Duration(r.rand(int64(r.maxDelay-r.minDelay)))
}

// AdaptiveLimiter widens its interval after repeated errors and narrows it
// again after a run of successes, never below the configured floor.
type AdaptiveLimiter struct {
	*IntervalLimiter
	floor         time.Duration
	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
	ceiling       time.Duration
}

func NewAdaptiveLimiter(minDelay, maxDelay time.Duration) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		IntervalLimiter: NewIntervalLimiter(minDelay, maxDelay),
		floor:           minDelay,
		maxErrorCount:   3,
		backoffFactor:   1.5,
		ceiling:         60 * time.Second,
	}
}

func (a *AdaptiveLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount > 5 {
		newMin := time.Duration(float64(a.minDelay) * 0.9)
		if newMin < a.floor {
			newMin = a.floor
		}
		if a.maxDelay < newMin {
			a.maxDelay = newMin
		}
		a.minDelay = newMin
		a.successCount = 0
	}
}

func (a *AdaptiveLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount >= a.maxErrorCount {
		newMin := time.Duration(float64(a.minDelay) * a.backoffFactor)
		newMax := time.Duration(float64(a.maxDelay) * a.backoffFactor)
		if newMin > a.ceiling {
			newMin = a.ceiling
		}
		if newMax > 2*a.ceiling {
			newMax = 2 * a.ceiling
		}
		a.minDelay = newMin
		a.maxDelay = newMax
		a.errorCount = 0
	}
}

// Budget caps the number of requests in one pass.
type Budget struct {
	mu   sync.Mutex
	max  int
	used int
}

// NewBudget returns a budget of max requests; max <= 0 means unlimited.
func NewBudget(max int) *Budget {
	return &Budget{max: max}
}

// Take claims one slot.
func (b *Budget) Take() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max > 0 && b.used >= b.max {
		return ErrBudgetExhausted
	}
	b.used++
	return nil
}

func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Remaining returns the unclaimed slots, or -1 for an unlimited budget.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max <= 0 {
		return -1
	}
	return b.max - b.used
}
