package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter paces outgoing page requests.
type Limiter interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// Feedback is implemented by limiters that adjust their pace to the outcome
// of each request.
type Feedback interface {
	RecordSuccess()
	RecordError()
}

// JitterLimiter keeps at least a random delay in [minDelay, maxDelay)
// between consecutive calls to Wait. The first call never blocks.
type JitterLimiter struct {
	mu         sync.Mutex
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	jitter     bool
}

func NewJitterLimiter(minDelay, maxDelay time.Duration) *JitterLimiter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &JitterLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		jitter:   true,
	}
}

// NewFixedLimiter waits exactly delay between calls.
func NewFixedLimiter(delay time.Duration) *JitterLimiter {
	l := NewJitterLimiter(delay, delay)
	l.jitter = false
	return l
}

func (l *JitterLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.lastAction.IsZero() {
		if wait := l.nextDelay() - time.Since(l.lastAction); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	l.lastAction = time.Now()
	return nil
}

func (l *JitterLimiter) SetDelay(min, max time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if max < min {
		max = min
	}
	l.minDelay = min
	l.maxDelay = max
}

// Delays returns the current delay window.
func (l *JitterLimiter) Delays() (time.Duration, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.minDelay, l.maxDelay
}

func (l *JitterLimiter) nextDelay() time.Duration {
	if !l.jitter || l.minDelay >= l.maxDelay {
		return l.minDelay
	}
	delta := l.maxDelay - l.minDelay
	return l.minDelay + time.Duration(rand.Int63n(int64(delta)))
}

// AdaptiveLimiter widens its delay window after a run of failed requests
// and narrows it back towards the configured floor after successes.
type AdaptiveLimiter struct {
	*JitterLimiter
	baseMin       time.Duration
	baseMax       time.Duration
	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
	ceiling       time.Duration
}

func NewAdaptiveLimiter(minDelay, maxDelay time.Duration) *AdaptiveLimiter {
	inner := NewJitterLimiter(minDelay, maxDelay)
	return &AdaptiveLimiter{
		JitterLimiter: inner,
		baseMin:       inner.minDelay,
		baseMax:       inner.maxDelay,
		maxErrorCount: 3,
		backoffFactor: 1.5,
		ceiling:       time.Minute,
	}
}

func (a *AdaptiveLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount > 5 {
		a.minDelay = max(time.Duration(float64(a.minDelay)*0.9), a.baseMin)
		a.maxDelay = max(time.Duration(float64(a.maxDelay)*0.9), a.baseMax)
		a.successCount = 0
	}
}

func (a *AdaptiveLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount >= a.maxErrorCount {
		a.minDelay = min(time.Duration(float64(a.minDelay)*a.backoffFactor), a.ceiling)
		a.maxDelay = min(time.Duration(float64(a.maxDelay)*a.backoffFactor), 2*a.ceiling)
		if a.minDelay == 0 {
			a.minDelay = time.Second
		}
		if a.maxDelay < a.minDelay {
			a.maxDelay = a.minDelay
		}
		a.errorCount = 0
	}
}

// TokenBucket admits bursts of up to maxTokens and then one request per
// refillRate.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
}

func NewTokenBucket(maxTokens int, refillRate time.Duration) *TokenBucket {
	if maxTokens < 1 {
		maxTokens = 1
	}
	return &TokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow takes a token if one is available without blocking.
func (t *TokenBucket) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refill()
	if t.tokens > 0 {
		t.tokens--
		return true
	}
	return false
}

func (t *TokenBucket) Wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		t.refill()
		if t.tokens > 0 {
			t.tokens--
			t.mu.Unlock()
			return nil
		}
		wait := t.refillRate - time.Since(t.lastRefill)
		t.mu.Unlock()

		timer := time.NewTimer(max(wait, time.Millisecond))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// SetDelay changes the refill interval; only min is used.
func (t *TokenBucket) SetDelay(min, _ time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refillRate = min
}

func (t *TokenBucket) refill() {
	if t.refillRate <= 0 {
		t.tokens = t.maxTokens
		return
	}

	elapsed := time.Since(t.lastRefill)
	if add := int(elapsed / t.refillRate); add > 0 {
		t.tokens = min(t.tokens+add, t.maxTokens)
		t.lastRefill = t.lastRefill.Add(time.Duration(add) * t.refillRate)
	}
}
