package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
)

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{
			Retryable:     errors.Is(err, errTemp),
			RecordFailure: true,
		}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errTemp := errors.New("temporary")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: true,
		}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "op", func(context.Context) error {
			return errTemp
		}, classifier)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
}

type observerFake struct {
	retries []string
	states  []string
}

func (f *observerFake) ObserveRetry(operation string) { f.retries = append(f.retries, operation) }

func (f *observerFake) ObserveBreakerState(operation string, state string) {
	f.states = append(f.states, operation+":"+state)
}

func TestExecuteReportsRetriesAndBreakerStates(t *testing.T) {
	observer := &observerFake{}
	exec := NewExecutor(Config{
		RetryMaxAttempts:        2,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      1,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	}).WithObserver(observer)

	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "ollama.generate", func(context.Context) error {
		return errTemp
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	})
	if !errors.Is(err, errTemp) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if len(observer.retries) != 1 || observer.retries[0] != "ollama.generate" {
		t.Fatalf("expected one observed retry, got %v", observer.retries)
	}
	if len(observer.states) != 1 || observer.states[0] != "ollama.generate:open" {
		t.Fatalf("expected breaker to open, got %v", observer.states)
	}
}

func TestWithPolicyAppliesLongestPrefix(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    1,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		BreakerEnabled:      false,
	}).
		WithPolicy("ollama.", Config{RetryMaxAttempts: 2, RetryInitialBackoff: time.Millisecond, RetryMaxBackoff: time.Millisecond}).
		WithPolicy("ollama.generate", Config{RetryMaxAttempts: 4, RetryInitialBackoff: time.Millisecond, RetryMaxBackoff: time.Millisecond})

	retryable := func(error) ErrorClassification { return ErrorClassification{Retryable: true, RecordFailure: true} }
	cases := map[string]int{
		"nats.publish":    1,
		"ollama.embed":    2,
		"ollama.generate": 4,
	}
	for op, want := range cases {
		attempts := 0
		_ = exec.Execute(context.Background(), op, func(context.Context) error {
			attempts++
			return errors.New("unavailable")
		}, retryable)
		if attempts != want {
			t.Fatalf("%s: expected %d attempts, got %d", op, want, attempts)
		}
	}
}

func TestExecuteHonoursRetryAfterHint(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		BreakerEnabled:      false,
	})

	attempts := 0
	start := time.Now()
	err := exec.Execute(context.Background(), "ollama.generate", func(context.Context) error {
		attempts++
		if attempts == 1 {
			return errors.New("slow down")
		}
		return nil
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true, RetryAfter: 30 * time.Millisecond}
	})
	if err != nil {
		t.Fatalf("expected success on second attempt, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("expected to wait for the retry-after hint, waited %v", elapsed)
	}
}

func TestExecuteStopsWaitingWhenContextEnds(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Second,
		RetryMaxBackoff:     time.Second,
		BreakerEnabled:      false,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	errTemp := errors.New("temporary")
	start := time.Now()
	err := exec.Execute(ctx, "op", func(context.Context) error {
		return errTemp
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	})
	if !errors.Is(err, errTemp) {
		t.Fatalf("expected last operation error, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("expected backoff to stop with the context")
	}
}

func TestClassifyCommon(t *testing.T) {
	if class, ok := ClassifyCommon(context.Canceled); !ok || class.Retryable || class.RecordFailure {
		t.Fatalf("expected cancelled context to be neither retried nor recorded, got %+v %v", class, ok)
	}
	if class, ok := ClassifyCommon(gobreaker.ErrOpenState); !ok || !class.Retryable {
		t.Fatalf("expected open breaker to be retryable, got %+v %v", class, ok)
	}
	if _, ok := ClassifyCommon(errors.New("boom")); ok {
		t.Fatalf("expected unknown error to need adapter classification")
	}
}

func TestWrapTemporary(t *testing.T) {
	retryable := func(error) ErrorClassification { return ErrorClassification{Retryable: true} }
	permanent := func(error) ErrorClassification { return ErrorClassification{} }

	if err := WrapTemporary("op", errors.New("reset"), retryable); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if err := WrapTemporary("op", errors.New("bad request"), permanent); domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error to stay unwrapped, got %v", err)
	}
	if err := WrapTemporary("op", gobreaker.ErrOpenState, permanent); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected open breaker to be temporary, got %v", err)
	}
	if err := WrapTemporary("op", nil, retryable); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestExtractionConfig(t *testing.T) {
	cfg := ExtractionConfig(DefaultConfig())
	if cfg.RetryMaxAttempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.RetryInitialBackoff != 500*time.Millisecond || cfg.RetryMaxBackoff != 2*time.Second {
		t.Fatalf("unexpected backoff %v..%v", cfg.RetryInitialBackoff, cfg.RetryMaxBackoff)
	}
	if cfg.BreakerMinRequests != 5 {
		t.Fatalf("expected breaker min requests 5, got %d", cfg.BreakerMinRequests)
	}

	single := ExtractionConfig(Config{RetryMaxAttempts: 1})
	if single.RetryMaxAttempts != 1 {
		t.Fatalf("expected a lower configured attempt count to be kept, got %d", single.RetryMaxAttempts)
	}
}
