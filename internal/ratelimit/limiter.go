// Package ratelimit implements per-destination token bucket admission control.
package ratelimit

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/JakeFAU/newswire-ingest/internal/ingest"
	"github.com/JakeFAU/newswire-ingest/internal/progress"
	"github.com/JakeFAU/newswire-ingest/internal/retry"
)

// DefaultKey is used when a caller does not provide a bucket key.
const DefaultKey = "default"

// Config holds rate limiter defaults applied to lazily created buckets.
type Config struct {
	// DefaultRate is the number of tokens refilled per DefaultPer.
	DefaultRate float64
	// DefaultPer is the refill period (default 1s).
	DefaultPer time.Duration
	// DefaultBurst is the bucket capacity (default 1).
	DefaultBurst int
}

// Limiter manages per-destination token buckets. Buckets are created lazily
// on first use of a key and live for the process lifetime. Each bucket is
// guarded independently so callers on different keys never contend.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	cfg     Config

	clock   ingest.Clock
	waiter  retry.Waiter
	emitter progress.Emitter
	runID   [16]byte
}

type bucket struct {
	mu        sync.Mutex
	rate      float64
	per       time.Duration
	capacity  float64
	allowance float64
	last      time.Time
}

// Option customizes Limiter construction.
type Option func(*Limiter)

// WithClock injects a time source for deterministic tests.
func WithClock(clk ingest.Clock) Option {
	return func(l *Limiter) { l.clock = clk }
}

// WithWaiter injects the pause mechanism used while tokens refill.
func WithWaiter(w retry.Waiter) Option {
	return func(l *Limiter) { l.waiter = w }
}

// WithEmitter wires an observer receiving rate-wait events.
func WithEmitter(e progress.Emitter, runID [16]byte) Option {
	return func(l *Limiter) {
		l.emitter = e
		l.runID = runID
	}
}

// New creates a Limiter.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.DefaultRate <= 0 {
		cfg.DefaultRate = 1
	}
	if cfg.DefaultPer <= 0 {
		cfg.DefaultPer = time.Second
	}
	if cfg.DefaultBurst <= 0 {
		cfg.DefaultBurst = 1
	}
	l := &Limiter{
		buckets: make(map[string]*bucket),
		cfg:     cfg,
		waiter:  retry.TimerWaiter{},
		emitter: progress.NopEmitter{},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.clock == nil {
		l.clock = systemClock{}
	}
	return l
}

// SetOverride configures a non-default bucket for a key, replacing the
// defaults for that destination. An existing bucket keeps its allowance,
// clamped to the new capacity.
func (l *Limiter) SetOverride(key string, rate float64, per time.Duration, burst int) {
	if rate <= 0 || per <= 0 {
		return
	}
	if burst <= 0 {
		burst = 1
	}
	b := l.bucketFor(normalizeKey(key))
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rate = rate
	b.per = per
	b.capacity = float64(burst)
	if b.allowance > b.capacity {
		b.allowance = b.capacity
	}
}

// Acquire suspends the caller until tokens are available for key, then
// consumes them. Requests exceeding the bucket's capacity are treated as
// requests for the full capacity. It fails only when ctx is cancelled,
// returning a Cancelled error immediately and aborting any in-progress wait.
func (l *Limiter) Acquire(ctx context.Context, key string, tokens int) error {
	if tokens <= 0 {
		tokens = 1
	}
	if err := ctx.Err(); err != nil {
		return ingest.NewError(ingest.KindCancelled, "rate limit acquire", err)
	}
	key = normalizeKey(key)
	b := l.bucketFor(key)
	need := float64(tokens)

	var waited time.Duration
	for {
		wait, ok := b.take(l.clock.Now(), need)
		if ok {
			if waited > 0 {
				l.emitter.Emit(progress.Event{
					RunID: l.runID,
					TS:    l.clock.Now(),
					Stage: progress.StageRateWait,
					Site:  key,
					Dur:   waited,
				})
			}
			return nil
		}
		if err := l.waiter.Wait(ctx, wait); err != nil {
			return ingest.NewError(ingest.KindCancelled, "rate limit acquire", err)
		}
		waited += wait
	}
}

// bucketFor returns the bucket for key, creating it with defaults if absent.
func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			rate:      l.cfg.DefaultRate,
			per:       l.cfg.DefaultPer,
			capacity:  float64(l.cfg.DefaultBurst),
			allowance: float64(l.cfg.DefaultBurst),
			last:      l.clock.Now(),
		}
		l.buckets[key] = b
	}
	return b
}

// take refills the bucket to now and either consumes need tokens (ok=true)
// or reports how long the caller must wait before trying again. Requests
// larger than the capacity are clamped to it; the refill math tops out at
// capacity, so anything bigger could never be satisfied.
func (b *bucket) take(now time.Time, need float64) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if need > b.capacity {
		need = b.capacity
	}
	elapsed := now.Sub(b.last)
	if elapsed > 0 {
		b.allowance += elapsed.Seconds() * b.rate / b.per.Seconds()
		if b.allowance > b.capacity {
			b.allowance = b.capacity
		}
		b.last = now
	}

	if b.allowance >= need {
		b.allowance -= need
		if b.allowance < 0 {
			b.allowance = 0
		}
		return 0, true
	}
	missing := need - b.allowance
	wait := time.Duration(missing * b.per.Seconds() / b.rate * float64(time.Second))
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// KeyForURL derives the bucket key for a URL, falling back to DefaultKey
// when the URL has no usable host.
func KeyForURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return DefaultKey
	}
	return u.Hostname()
}

func normalizeKey(key string) string {
	if key == "" {
		return DefaultKey
	}
	return key
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
