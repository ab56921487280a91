package ports

import (
	"context"
	"io"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
)

// FlyerImporter is the inbound contract for flyer upload and multi-pass extraction.
type FlyerImporter interface {
	Import(ctx context.Context, filename, mimeType string, body io.Reader, passCount int) (*domain.ImportResult, error)
}

// ImportReader is the read model for stored import results.
type ImportReader interface {
	GetImport(ctx context.Context, id string) (*domain.ImportResult, error)
}

// MultiPassExtractor runs N extraction passes over one source and reconciles them.
type MultiPassExtractor interface {
	Run(ctx context.Context, source []byte, filename string, passCount int) (domain.ConsensusResult, error)
}

// IndexComputer is the inbound contract for synchronous index computation.
type IndexComputer interface {
	Compute(ctx context.Context, city string, period domain.Period) (*domain.IndexResult, error)
	ComputeBatch(ctx context.Context, cities []string, period domain.Period) ([]domain.CityIndexOutcome, error)
}

// IndexReader is the read model for stored index results.
type IndexReader interface {
	GetIndex(ctx context.Context, city, period string) (*domain.IndexResult, error)
}

// IndexRequester enqueues asynchronous index computations.
type IndexRequester interface {
	RequestIndexes(ctx context.Context, cities []string, period domain.Period) ([]domain.IndexRequest, error)
}
