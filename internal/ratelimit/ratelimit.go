// Package ratelimit provides token bucket rate limiting, shared by the REST
// API (per-client buckets) and the LLM gate (one blocking bucket per
// provider).
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Bucket is a token bucket: capacity tokens of burst, refilling at a steady
// rate.
type Bucket struct {
	capacity   int
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// NewBucket creates a full bucket with the given burst capacity and refill
// rate in tokens per second.
func NewBucket(capacity int, refillRate float64) *Bucket {
	return &Bucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     float64(capacity),
		lastRefill: time.Now(),
	}
}

// refillLocked adds tokens for the time elapsed. Callers hold the mutex.
func (b *Bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	b.tokens = min(float64(b.capacity), b.tokens+elapsed.Seconds()*b.refillRate)
	b.lastRefill = now
}

// Allow consumes a token if one is available.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(time.Now())
	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true
	}
	return false
}

// Wait blocks until a token is available or the context ends. This is the
// provider-gate mode: callers queue instead of failing.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := time.Now()
		b.refillLocked(now)
		if b.tokens >= 1.0 {
			b.tokens -= 1.0
			b.mu.Unlock()
			return nil
		}
		needed := (1.0 - b.tokens) / b.refillRate
		b.mu.Unlock()

		timer := time.NewTimer(time.Duration(needed * float64(time.Second)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Status reports remaining tokens and when the bucket will be full again,
// without consuming anything.
func (b *Bucket) Status() (remaining int, resetTime time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.refillLocked(now)

	remaining = int(b.tokens)
	if b.tokens < float64(b.capacity) {
		secondsUntilFull := (float64(b.capacity) - b.tokens) / b.refillRate
		resetTime = now.Add(time.Duration(secondsUntilFull * float64(time.Second)))
	} else {
		resetTime = now
	}
	return remaining, resetTime
}

// Info describes the outcome of a limiter check, for response headers.
type Info struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// Config holds keyed-limiter configuration.
type Config struct {
	Enabled         bool
	Limit           int           // tokens per window
	Window          time.Duration // refill window
	Burst           int           // bucket capacity; defaults to Limit
	CleanupInterval time.Duration // idle-bucket sweep cadence
}

// DefaultConfig allows 120 requests per minute per client.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		Limit:           120,
		Window:          time.Minute,
		Burst:           120,
		CleanupInterval: 5 * time.Minute,
	}
}

// Limiter manages one bucket per key (typically client IP or user ID).
type Limiter struct {
	config *Config

	mu         sync.RWMutex
	buckets    map[string]*Bucket
	lastAccess map[string]time.Time

	cleanupTicker *time.Ticker
	cleanupStop   chan struct{}
}

// NewLimiter creates a keyed limiter.
func NewLimiter(config *Config) *Limiter {
	if config == nil {
		config = DefaultConfig()
	}

	l := &Limiter{
		config:     config,
		buckets:    make(map[string]*Bucket),
		lastAccess: make(map[string]time.Time),
	}
	if config.Enabled && config.CleanupInterval > 0 {
		l.cleanupTicker = time.NewTicker(config.CleanupInterval)
		l.cleanupStop = make(chan struct{})
		go l.cleanupLoop()
	}
	return l
}

// Allow checks whether a request under the given key may proceed.
func (l *Limiter) Allow(key string) (bool, Info) {
	if !l.config.Enabled {
		return true, Info{Allowed: true}
	}

	bucket := l.bucketFor(key)
	allowed := bucket.Allow()
	remaining, resetTime := bucket.Status()

	var retryAfter time.Duration
	if !allowed {
		if retryAfter = time.Until(resetTime); retryAfter < 0 {
			retryAfter = 0
		}
	}
	return allowed, Info{
		Allowed:    allowed,
		Limit:      l.config.Limit,
		Remaining:  remaining,
		ResetTime:  resetTime,
		RetryAfter: retryAfter,
	}
}

func (l *Limiter) bucketFor(key string) *Bucket {
	l.mu.RLock()
	bucket, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		l.touch(key)
		return bucket
	}

	burst := l.config.Burst
	if burst <= 0 {
		burst = l.config.Limit
	}
	refillRate := float64(l.config.Limit) / l.config.Window.Seconds()

	l.mu.Lock()
	if existing, ok := l.buckets[key]; ok {
		l.mu.Unlock()
		l.touch(key)
		return existing
	}
	bucket = NewBucket(burst, refillRate)
	l.buckets[key] = bucket
	l.mu.Unlock()

	l.touch(key)
	return bucket
}

func (l *Limiter) touch(key string) {
	l.mu.Lock()
	l.lastAccess[key] = time.Now()
	l.mu.Unlock()
}

func (l *Limiter) cleanupLoop() {
	for {
		select {
		case <-l.cleanupTicker.C:
			l.sweep()
		case <-l.cleanupStop:
			return
		}
	}
}

// sweep drops buckets idle for over an hour.
func (l *Limiter) sweep() {
	cutoff := time.Now().Add(-time.Hour)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, last := range l.lastAccess {
		if last.Before(cutoff) {
			delete(l.buckets, key)
			delete(l.lastAccess, key)
		}
	}
}

// Stop halts the cleanup goroutine.
func (l *Limiter) Stop() {
	if l.cleanupTicker != nil {
		l.cleanupTicker.Stop()
	}
	if l.cleanupStop != nil {
		close(l.cleanupStop)
	}
}
