// Package retry provides the shared backoff policy and context-aware waiting
// used by the fetch pipeline.
package retry

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/newswire-ingest/internal/ingest"
)

// Defaults applied when a Policy field is unset.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 1 * time.Second
	DefaultMaxDelay   = 300 * time.Second
	DefaultFactor     = 2.0
)

// Policy describes a bounded exponential backoff with jitter.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Factor     float64
}

// NewPolicy builds a Policy, filling unset fields with defaults.
func NewPolicy(maxRetries int, base, max time.Duration, factor float64) Policy {
	p := Policy{MaxRetries: maxRetries, BaseDelay: base, MaxDelay: max, Factor: factor}
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Factor <= 1 {
		p.Factor = DefaultFactor
	}
	return p
}

// Backoff returns the wait duration before the given retry attempt.
// Attempt numbering starts at 0 for the first retry.
func (p Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

// randomJitter returns a uniform duration in [0, limit).
func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Waiter abstracts how callers pause between attempts so tests can observe
// and skip real sleeps.
type Waiter interface {
	Wait(ctx context.Context, delay time.Duration) error
}

// TimerWaiter pauses on a timer, honoring context cancellation.
type TimerWaiter struct{}

// Wait blocks for delay or until ctx finishes, whichever comes first.
func (TimerWaiter) Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		if err := ctx.Err(); err != nil {
			return ingest.NewError(ingest.KindCancelled, "retry wait", err)
		}
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ingest.NewError(ingest.KindCancelled, "retry wait", ctx.Err())
	case <-timer.C:
		return nil
	}
}
