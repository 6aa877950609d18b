// Package resilience guards far-tier calls with retry and a circuit
// breaker. Only failures the Classify predicate accepts (backend-connection
// and timeout classes) are retried or counted against the breaker;
// everything else passes through untouched.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen reports that the breaker short-circuited the call without
// reaching the far tier. Match with errors.Is.
var ErrCircuitOpen = errors.New("resilience: circuit open")

type Config struct {
	// Name labels the breaker in state-change callbacks.
	Name string

	// Classify decides which failures are retryable and trip the breaker.
	// Required.
	Classify func(error) bool

	// Retry policy. MaxRetries are attempts beyond the first; delays grow
	// exponentially from BaseDelay, capped at MaxDelay before ±25% jitter is
	// applied (so a delay can reach 1.25x MaxDelay). Negative disables
	// retries.
	MaxRetries int           // 0 => 3
	BaseDelay  time.Duration // 0 => 100ms
	MaxDelay   time.Duration // 0 => 2s

	// Breaker policy: trip when the failure ratio within the current
	// SamplingWindow reaches FailureRatio with at least MinRequests seen;
	// stay open for OpenTimeout, then admit a half-open probe. The window is
	// fixed, not rolling: the closed-state counts are cleared at every
	// SamplingWindow boundary.
	FailureRatio   float64       // 0 => 0.5
	MinRequests    uint32        // 0 => 5
	SamplingWindow time.Duration // 0 => 10s
	OpenTimeout    time.Duration // 0 => 30s

	// OnStateChange observes breaker transitions ("closed", "open",
	// "half-open"). Optional.
	OnStateChange func(name, from, to string)
}

type Pipeline struct {
	cb       *gobreaker.CircuitBreaker
	classify func(error) bool

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Classify == nil {
		return nil, errors.New("resilience: Classify is required")
	}
	p := &Pipeline{
		classify:   cfg.Classify,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
	}
	if p.maxRetries == 0 {
		p.maxRetries = 3
	} else if p.maxRetries < 0 {
		p.maxRetries = 0
	}
	if p.baseDelay == 0 {
		p.baseDelay = 100 * time.Millisecond
	}
	if p.maxDelay == 0 {
		p.maxDelay = 2 * time.Second
	}

	ratio := cfg.FailureRatio
	if ratio == 0 {
		ratio = 0.5
	}
	minReq := cfg.MinRequests
	if minReq == 0 {
		minReq = 5
	}
	window := cfg.SamplingWindow
	if window == 0 {
		window = 10 * time.Second
	}
	open := cfg.OpenTimeout
	if open == 0 {
		open = 30 * time.Second
	}

	st := gobreaker.Settings{
		Name:     cfg.Name,
		Interval: window,
		Timeout:  open,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= minReq &&
				float64(c.TotalFailures)/float64(c.Requests) >= ratio
		},
		// non-classified failures (bad arguments, server-side errors) say
		// nothing about backend health
		IsSuccessful: func(err error) bool {
			return err == nil || !cfg.Classify(err)
		},
	}
	if cfg.OnStateChange != nil {
		fn := cfg.OnStateChange
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			fn(name, from.String(), to.String())
		}
	}
	p.cb = gobreaker.NewCircuitBreaker(st)
	return p, nil
}

// Execute runs op through the breaker, retrying classified failures with
// exponential backoff and jitter. It returns ErrCircuitOpen (wrapped) when
// the breaker short-circuits, the last classified failure once retries are
// exhausted, or the first non-classified failure untouched.
func (p *Pipeline) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff(attempt)):
			}
		}
		_, err := p.cb.Execute(func() (any, error) {
			return nil, op(ctx)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		if !p.classify(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// State reports the breaker state ("closed", "open", "half-open").
func (p *Pipeline) State() string { return p.cb.State().String() }

// IsCircuitOpen reports whether err came from a breaker short-circuit.
func IsCircuitOpen(err error) bool { return errors.Is(err, ErrCircuitOpen) }

// backoff: base * 2^(attempt-1) capped at maxDelay, then up to ±25% jitter.
func (p *Pipeline) backoff(attempt int) time.Duration {
	d := p.baseDelay << (attempt - 1)
	if d > p.maxDelay || d <= 0 {
		d = p.maxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(d)/2+1)) - d/4
	return d + jitter
}
