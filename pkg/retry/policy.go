// Package retry decides whether a failed delivery attempt should be repeated
// and how long to wait first. It never sleeps; callers own the waiting.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/ajitpratap0/ledgersync/pkg/errors"
)

// Classifier reports whether an error is worth another attempt
type Classifier func(err error) bool

// Decision is the outcome of Decide
type Decision struct {
	Retry bool
	Delay time.Duration
}

// GiveUp is the terminal decision
var GiveUp = Decision{}

// Policy defines retry behavior
type Policy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64

	// Retryable classifies errors. Nil means DefaultClassifier.
	Retryable Classifier
}

// DefaultClassifier treats everything except caller cancellation as transient
func DefaultClassifier(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// DefaultPolicy returns three attempts with a fixed five second delay
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Second,
		Multiplier:   1.0,
	}
}

// NewPolicy creates a fixed-delay policy
func NewPolicy(maxAttempts int, delay time.Duration) *Policy {
	p := DefaultPolicy()
	p.MaxAttempts = maxAttempts
	p.InitialDelay = delay
	return p
}

// ExponentialPolicy returns a backoff policy with jitter
func ExponentialPolicy(maxAttempts int, initialDelay time.Duration) *Policy {
	return &Policy{
		MaxAttempts:     maxAttempts,
		InitialDelay:    initialDelay,
		MaxDelay:        5 * time.Minute,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// NoRetry returns a policy that gives up after the first failure
func NoRetry() *Policy {
	return &Policy{MaxAttempts: 1}
}

// Decide takes the 1-based number of the attempt that just failed and its
// error. It gives up once attempt reaches MaxAttempts or the error is not
// retryable.
func (p *Policy) Decide(attempt int, err error) Decision {
	if err == nil || attempt >= p.MaxAttempts {
		return GiveUp
	}

	classify := p.Retryable
	if classify == nil {
		classify = DefaultClassifier
	}
	if !classify(err) {
		return GiveUp
	}

	return Decision{Retry: true, Delay: p.delay(attempt)}
}

// Delay returns the wait after the given failed attempt (for testing/preview)
func (p *Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt)
}

func (p *Policy) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(multiplier, float64(attempt-1))

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	// Jitter
	if p.RandomizeFactor > 0 {
		delta := delay * p.RandomizeFactor
		delay = delay - delta + rand.Float64()*2*delta
	}

	return time.Duration(delay)
}

// Clone creates a copy of the policy
func (p *Policy) Clone() *Policy {
	c := *p
	return &c
}

// WithMaxAttempts returns a new policy with updated max attempts
func (p *Policy) WithMaxAttempts(attempts int) *Policy {
	c := p.Clone()
	c.MaxAttempts = attempts
	return c
}

// WithDelay returns a new policy with updated delays
func (p *Policy) WithDelay(initial, max time.Duration) *Policy {
	c := p.Clone()
	c.InitialDelay = initial
	c.MaxDelay = max
	return c
}

// WithMultiplier returns a new policy with updated multiplier
func (p *Policy) WithMultiplier(multiplier float64) *Policy {
	c := p.Clone()
	c.Multiplier = multiplier
	return c
}

// WithRandomization returns a new policy with updated jitter factor
func (p *Policy) WithRandomization(factor float64) *Policy {
	c := p.Clone()
	c.RandomizeFactor = factor
	return c
}

// WithClassifier returns a new policy using the given classifier
func (p *Policy) WithClassifier(fn Classifier) *Policy {
	c := p.Clone()
	c.Retryable = fn
	return c
}
