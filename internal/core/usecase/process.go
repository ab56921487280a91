package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
	"github.com/kirillkom/promo-price-index/internal/core/ports"
)

type indexComputer interface {
	Compute(ctx context.Context, city string, period domain.Period) (*domain.IndexResult, error)
}

// ProcessIndexRequestUseCase handles index requests delivered by the queue.
type ProcessIndexRequestUseCase struct {
	computer indexComputer
	dedup    ports.RequestDeduplicator
}

func NewProcessIndexRequestUseCase(computer indexComputer, dedup ports.RequestDeduplicator) *ProcessIndexRequestUseCase {
	return &ProcessIndexRequestUseCase{computer: computer, dedup: dedup}
}

// Process computes the requested index. It returns a nil result and nil error for a
// request id already processed. A failed computation forgets the id so that a
// redelivery is retried.
func (uc *ProcessIndexRequestUseCase) Process(ctx context.Context, req domain.IndexRequest) (*domain.IndexResult, error) {
	period, err := uc.validate(req)
	if err != nil {
		return nil, err
	}

	if uc.dedup != nil && !uc.dedup.MarkSeen(req.RequestID) {
		return nil, nil
	}

	result, err := uc.computer.Compute(ctx, req.City, period)
	if err != nil {
		if uc.dedup != nil {
			uc.dedup.Forget(req.RequestID)
		}
		return nil, fmt.Errorf("compute index for request %s: %w", req.RequestID, err)
	}
	return result, nil
}

func (uc *ProcessIndexRequestUseCase) validate(req domain.IndexRequest) (domain.Period, error) {
	if strings.TrimSpace(req.RequestID) == "" {
		return domain.Period{}, domain.WrapError(domain.ErrInvalidInput, "process index request", errors.New("request id is required"))
	}
	if strings.TrimSpace(req.City) == "" {
		return domain.Period{}, domain.WrapError(domain.ErrInvalidInput, "process index request", errors.New("city is required"))
	}
	period, err := domain.ParsePeriod(req.Period)
	if err != nil {
		return domain.Period{}, domain.WrapError(domain.ErrInvalidInput, "process index request", fmt.Errorf("period must be YYYY-MM: %w", err))
	}
	return period, nil
}
