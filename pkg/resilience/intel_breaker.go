// Package resilience wraps gobreaker with the settings shared by the
// outbound API clients.
package resilience

import (
	"errors"
	"time"

	"intel_server/pkg/logger"

	"github.com/sony/gobreaker"
)

// BreakerConfig configures a Breaker. Zero values fall back to defaults.
type BreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	ReadyToTrip func(counts gobreaker.Counts) bool
	// Ignore reports errors that are returned to the caller without
	// counting as a failure, e.g. 4xx responses caused by the request.
	Ignore func(err error) bool
}

// Breaker is a circuit breaker around a single upstream API.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	ignore func(err error) bool
}

// ConsecutiveFailures trips after n failures in a row.
func ConsecutiveFailures(n uint32) func(gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= n
	}
}

// FailureRatio trips after more than consecutive failures in a row, or once
// at least minRequests have been seen and the failure ratio reaches ratio.
func FailureRatio(consecutive, minRequests uint32, ratio float64) func(gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures > consecutive {
			return true
		}
		if counts.Requests < minRequests || counts.Requests == 0 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
	}
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = ConsecutiveFailures(5)
	}

	b := &Breaker{ignore: cfg.Ignore}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: cfg.ReadyToTrip,
		IsSuccessful: func(err error) bool {
			var ie *ignoredError
			return err == nil || errors.As(err, &ie)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	})
	return b
}

// Execute runs fn behind the breaker. Ignored errors are unwrapped before
// they are returned.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if b.ignore != nil && b.ignore(err) {
				return nil, &ignoredError{err: err}
			}
			return nil, err
		}
		return nil, nil
	})

	var ie *ignoredError
	if errors.As(err, &ie) {
		return ie.err
	}
	return err
}

func (b *Breaker) Name() string  { return b.cb.Name() }
func (b *Breaker) State() string { return b.cb.State().String() }

// IsOpen reports whether err was produced by a breaker refusing the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

type ignoredError struct {
	err error
}

func (e *ignoredError) Error() string { return e.err.Error() }
func (e *ignoredError) Unwrap() error { return e.err }
