package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
)

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
	// RetryAfter is a server hint for the next attempt; zero means use the backoff.
	RetryAfter time.Duration
}

type ErrorClassifier func(err error) ErrorClassification

// RetryObserver is notified before each retry and on every breaker state change.
type RetryObserver interface {
	ObserveRetry(operation string)
	ObserveBreakerState(operation string, state string)
}

type policy struct {
	prefix string
	cfg    Config
}

// Executor runs external calls with retries and one circuit breaker per operation.
type Executor struct {
	cfg      Config
	policies []policy
	observer RetryObserver

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:      cfg.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// WithObserver attaches an observer; it must be called before the first Execute.
func (e *Executor) WithObserver(observer RetryObserver) *Executor {
	e.observer = observer
	return e
}

// WithPolicy applies cfg to operations starting with prefix. The longest matching
// prefix wins; it must be called before the first Execute.
func (e *Executor) WithPolicy(prefix string, cfg Config) *Executor {
	e.policies = append(e.policies, policy{prefix: prefix, cfg: cfg.normalize()})
	return e
}

func (e *Executor) configFor(operation string) Config {
	cfg := e.cfg
	matched := -1
	for _, p := range e.policies {
		if strings.HasPrefix(operation, p.prefix) && len(p.prefix) > matched {
			cfg = p.cfg
			matched = len(p.prefix)
		}
	}
	return cfg
}

func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classifier == nil {
		classifier = defaultClassifier
	}

	cfg := e.configFor(op)
	if !cfg.BreakerEnabled {
		return e.executeWithRetry(ctx, cfg, op, fn, classifier)
	}

	breaker := e.circuitBreaker(cfg, op, classifier)
	_, err := breaker.Execute(func() (any, error) {
		return nil, e.executeWithRetry(ctx, cfg, op, fn, classifier)
	})
	return err
}

func (e *Executor) executeWithRetry(
	ctx context.Context,
	cfg Config,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	backoff := cfg.RetryInitialBackoff

	for attempt := 1; attempt <= cfg.RetryMaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		class := classifier(err)
		if !class.Retryable || attempt == cfg.RetryMaxAttempts {
			return err
		}

		wait := min(backoff, cfg.RetryMaxBackoff)
		if class.RetryAfter > wait {
			wait = min(class.RetryAfter, MaxRetryAfter)
		}
		slog.Warn("retry_attempt",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", cfg.RetryMaxAttempts,
			"backoff_ms", float64(wait.Microseconds())/1000.0,
			"error", err,
		)
		if e.observer != nil {
			e.observer.ObserveRetry(operation)
		}

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}

		backoff = min(time.Duration(float64(backoff)*cfg.RetryMultiplier), cfg.RetryMaxBackoff)
	}

	return nil
}

func (e *Executor) circuitBreaker(cfg Config, operation string, classifier ErrorClassifier) *gobreaker.CircuitBreaker[any] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if breaker, ok := e.breakers[operation]; ok {
		return breaker
	}

	settings := gobreaker.Settings{
		Name:        operation,
		MaxRequests: cfg.BreakerHalfOpenMaxCalls,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return !classifier(err).RecordFailure
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
			if e.observer != nil {
				e.observer.ObserveBreakerState(name, to.String())
			}
		},
	}

	breaker := gobreaker.NewCircuitBreaker[any](settings)
	e.breakers[operation] = breaker
	return breaker
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// ClassifyCommon handles the outcomes every adapter treats alike: a cancelled or
// expired context is neither retried nor counted, and an open breaker is retryable.
// ok is false when err needs adapter-specific classification.
func ClassifyCommon(err error) (class ErrorClassification, ok bool) {
	switch {
	case err == nil:
		return ErrorClassification{}, true
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return ErrorClassification{Retryable: false, RecordFailure: false}, true
	case IsCircuitOpen(err):
		return ErrorClassification{Retryable: true, RecordFailure: true}, true
	default:
		return ErrorClassification{}, false
	}
}

// WrapTemporary marks err as domain.ErrTemporary when classifier deems it retryable
// or the breaker rejected the call.
func WrapTemporary(operation string, err error, classifier ErrorClassifier) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifier(err).Retryable || IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

func defaultClassifier(error) ErrorClassification {
	return ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}
