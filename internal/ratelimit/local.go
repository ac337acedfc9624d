package ratelimit

import (
	"context"
	"sync"
	"time"
)

type localBucketState struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func (b *localBucketState) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// LocalBucket is an in-process token bucket limiter, one bucket per
// provider. It has no external dependency and is the default limiter when
// Redis is not configured (Open Question (a): Redis is optional).
type LocalBucket struct {
	mu      sync.RWMutex
	buckets map[string]*localBucketState
}

// NewLocalBucket returns an empty LocalBucket. Call ConfigureProvider to
// seed quotas, or rely on DefaultLimits via ConfigureDefaults.
func NewLocalBucket() *LocalBucket {
	return &LocalBucket{buckets: make(map[string]*localBucketState)}
}

// ConfigureDefaults seeds every entry in DefaultLimits that hasn't already
// been explicitly configured.
func (l *LocalBucket) ConfigureDefaults(ctx context.Context) {
	for name, lim := range DefaultLimits {
		l.mu.RLock()
		_, exists := l.buckets[name]
		l.mu.RUnlock()
		if !exists {
			_ = l.ConfigureProvider(ctx, name, lim.RPM, lim.Burst)
		}
	}
}

func (l *LocalBucket) ConfigureProvider(_ context.Context, name string, rpm, burst int) error {
	capacity := float64(burst)
	rate := float64(rpm) / 60.0

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[name]
	if !ok {
		l.buckets[name] = &localBucketState{
			tokens:     capacity,
			capacity:   capacity,
			refillRate: rate,
			lastRefill: time.Now(),
		}
		return nil
	}

	b.mu.Lock()
	b.capacity = capacity
	b.refillRate = rate
	if b.tokens > capacity {
		b.tokens = capacity
	}
	b.mu.Unlock()
	return nil
}

func (l *LocalBucket) CheckLimit(_ context.Context, name string) (Result, error) {
	l.mu.RLock()
	b, ok := l.buckets[name]
	l.mu.RUnlock()
	if !ok {
		return NotConfigured, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())

	if b.tokens < 1 {
		return Exceeded, nil
	}
	b.tokens--
	return Allowed, nil
}

func (l *LocalBucket) CheckWouldAllow(_ context.Context, name string) (bool, error) {
	l.mu.RLock()
	b, ok := l.buckets[name]
	l.mu.RUnlock()
	if !ok {
		return false, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())
	return b.tokens >= 1, nil
}
