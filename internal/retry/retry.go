// Package retry runs operations under a bounded retry policy.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"time"
)

// Policy decides whether and when to try again.
type Policy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

func retryable(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// Exponential backs off with jitter, doubling up to MaxDelay.
type Exponential struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewExponential builds a policy with 3 attempts, 250ms base and 5s cap.
func NewExponential() *Exponential {
	return &Exponential{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// ShouldRetry reports whether attempt (1-based) may be followed by another.
func (p *Exponential) ShouldRetry(err error, attempt int) bool {
	return attempt < p.MaxAttempts && retryable(err)
}

// Backoff returns half the capped exponential delay plus up to half again of jitter.
func (p *Exponential) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay/2) + jitter(time.Duration(delay)/2)
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Linear waits Step multiplied by the attempt number.
type Linear struct {
	MaxAttempts int
	Step        time.Duration
}

// ShouldRetry reports whether attempt (1-based) may be followed by another.
func (p Linear) ShouldRetry(err error, attempt int) bool {
	return attempt < p.MaxAttempts && retryable(err)
}

// Backoff returns Step * attempt.
func (p Linear) Backoff(attempt int) time.Duration {
	return p.Step * time.Duration(attempt)
}

// Do calls fn until it succeeds, the policy gives up or ctx is done. fn
// receives the 1-based attempt number. The last error is returned.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context, attempt int) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !policy.ShouldRetry(err, attempt) {
			return err
		}
		timer := time.NewTimer(policy.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted after %d attempts: %w", attempt, errors.Join(ctx.Err(), err))
		case <-timer.C:
		}
	}
}
