package transport

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	mcperrors "github.com/hualong-shen/mcp-go/pkg/errors"
	"github.com/hualong-shen/mcp-go/pkg/logging"
)

// ReliabilityMiddleware retries failed sends with exponential backoff
// and trips a circuit breaker when the peer looks down.
type ReliabilityMiddleware struct {
	config  ReliabilityConfig
	breaker *circuitBreaker
	logger  logging.Logger
}

// NewReliabilityMiddleware builds the middleware. A nil logger is
// replaced with the no-op logger.
func NewReliabilityMiddleware(config ReliabilityConfig, logger logging.Logger) Middleware {
	if logger == nil {
		logger = logging.Nop()
	}
	rm := &ReliabilityMiddleware{config: config, logger: logger.Named("reliability")}
	if config.CircuitBreaker.Enabled {
		rm.breaker = newCircuitBreaker(config.CircuitBreaker)
	}
	return rm
}

// Wrap implements Middleware.
func (rm *ReliabilityMiddleware) Wrap(next Transport) Transport {
	return &reliabilityTransport{passthrough: passthrough{next: next}, mw: rm}
}

type reliabilityTransport struct {
	passthrough
	mw *ReliabilityMiddleware
}

func (rt *reliabilityTransport) SendRequest(ctx context.Context, method string, params, result interface{}) error {
	return rt.withRetries(ctx, method, func() error {
		return rt.passthrough.SendRequest(ctx, method, params, result)
	})
}

func (rt *reliabilityTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	return rt.withRetries(ctx, method, func() error {
		return rt.passthrough.SendNotification(ctx, method, params)
	})
}

func (rt *reliabilityTransport) withRetries(ctx context.Context, method string, send func() error) error {
	mw := rt.mw
	if mw.breaker != nil && !mw.breaker.allow() {
		return mcperrors.Newf(mcperrors.CodeTransportFailure, mcperrors.CategoryTransport,
			"circuit breaker open for %s", method)
	}

	var lastErr error
	attempts := mw.config.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			delay := mw.backoff(attempt)
			mw.logger.Debug("retrying",
				logging.String("method", method),
				logging.Int("attempt", attempt),
				logging.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := send()
		if err == nil {
			if mw.breaker != nil {
				mw.breaker.recordSuccess()
			}
			return nil
		}
		lastErr = err
		if mw.breaker != nil {
			mw.breaker.recordFailure()
		}
		if !isRetryable(err) {
			return err
		}
	}

	return mcperrors.Wrap(lastErr, mcperrors.CodeTransportFailure, mcperrors.CategoryTransport,
		"request failed after retries").WithMeta("attempts", attempts).WithMeta("method", method)
}

// isRetryable limits retries to transport-level failures. Anything the
// peer answered deliberately (validation, unknown method, auth) would
// just fail again.
func isRetryable(err error) bool {
	switch {
	case mcperrors.IsCategory(err, mcperrors.CategoryTransport),
		mcperrors.IsCategory(err, mcperrors.CategoryTimeout):
		return true
	case mcperrors.IsCategory(err, mcperrors.CategoryValidation),
		mcperrors.IsCategory(err, mcperrors.CategoryProtocol),
		mcperrors.IsCategory(err, mcperrors.CategoryAuth),
		mcperrors.IsCategory(err, mcperrors.CategoryTool),
		mcperrors.IsCategory(err, mcperrors.CategorySession),
		mcperrors.IsCategory(err, mcperrors.CategoryCancelled):
		return false
	default:
		// Unclassified errors are most likely I/O failures.
		return true
	}
}

// backoff computes the delay before the given attempt with ±10% jitter.
func (rm *ReliabilityMiddleware) backoff(attempt int) time.Duration {
	d := float64(rm.config.InitialRetryDelay) * math.Pow(rm.config.BackoffFactor, float64(attempt-1))
	if max := float64(rm.config.MaxRetryDelay); d > max {
		d = max
	}
	d += d * 0.1 * (rand.Float64()*2 - 1)
	return time.Duration(d)
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

type circuitBreaker struct {
	mu          sync.Mutex
	config      CircuitBreakerConfig
	state       breakerState
	failures    int
	successes   int
	lastFailure time.Time
}

func newCircuitBreaker(config CircuitBreakerConfig) *circuitBreaker {
	return &circuitBreaker{config: config}
}

func (cb *circuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case breakerOpen:
		if time.Since(cb.lastFailure) > cb.config.OpenFor {
			cb.state = breakerHalfOpen
			cb.successes = 0
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	if cb.state == breakerHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = breakerClosed
		}
	}
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFailure = time.Now()
	cb.failures++
	if cb.state == breakerHalfOpen || cb.failures >= cb.config.FailureThreshold {
		cb.state = breakerOpen
	}
}
