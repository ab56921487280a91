package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillkom/promo-price-index/internal/core/consensus"
	"github.com/kirillkom/promo-price-index/internal/core/domain"
	"github.com/kirillkom/promo-price-index/internal/core/ports"
)

const (
	DefaultPassCount = 3
	MaxPassCount     = 10
)

// MultiPassExtractionUseCase runs the same extractor several times over one source
// and reconciles the passes with the consensus engine.
type MultiPassExtractionUseCase struct {
	extractor             ports.ProductExtractor
	engine                *consensus.Engine
	failOnAllPassesFailed bool
}

func NewMultiPassExtractionUseCase(
	extractor ports.ProductExtractor,
	engine *consensus.Engine,
	failOnAllPassesFailed bool,
) *MultiPassExtractionUseCase {
	if engine == nil {
		engine = consensus.New(consensus.DefaultOptions())
	}
	return &MultiPassExtractionUseCase{
		extractor:             extractor,
		engine:                engine,
		failOnAllPassesFailed: failOnAllPassesFailed,
	}
}

// Run calls the extractor passCount times in sequence. A failing pass is recorded and
// never stops the following ones; retries are left to the extractor. Once ctx is done
// the remaining passes are recorded as failed with the context error.
func (uc *MultiPassExtractionUseCase) Run(
	ctx context.Context,
	source []byte,
	filename string,
	passCount int,
) (domain.ConsensusResult, error) {
	if passCount <= 0 {
		passCount = DefaultPassCount
	}

	passes := make([]domain.ExtractionPass, 0, passCount)
	for i := 0; i < passCount; i++ {
		passes = append(passes, uc.runPass(ctx, i, source, filename))
	}

	result := uc.engine.Compute(passes)
	if result.InsufficientData && uc.failOnAllPassesFailed {
		return result, domain.WrapError(
			domain.ErrExtractionFailed,
			"run multi-pass extraction",
			fmt.Errorf("all %d passes failed: %w", passCount, lastPassError(passes)),
		)
	}
	return result, nil
}

func (uc *MultiPassExtractionUseCase) runPass(ctx context.Context, index int, source []byte, filename string) domain.ExtractionPass {
	if err := ctx.Err(); err != nil {
		return domain.ExtractionPass{PassIndex: index, Err: err}
	}
	products, err := uc.extractor.Extract(ctx, source, filename)
	if err != nil {
		return domain.ExtractionPass{PassIndex: index, Err: fmt.Errorf("pass %d: %w", index, err)}
	}
	if products == nil {
		products = []domain.ExtractedProduct{}
	}
	return domain.ExtractionPass{PassIndex: index, Products: products}
}

func lastPassError(passes []domain.ExtractionPass) error {
	for i := len(passes) - 1; i >= 0; i-- {
		if passes[i].Err != nil {
			return passes[i].Err
		}
	}
	return errors.New("no passes")
}
