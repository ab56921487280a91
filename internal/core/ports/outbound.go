package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
)

// ProductExtractor turns one flyer source into candidate offers. Each call is one
// independent pass; implementations may be nondeterministic.
type ProductExtractor interface {
	Extract(ctx context.Context, source []byte, filename string) ([]domain.ExtractedProduct, error)
}

// ProductExtractorFunc adapts a plain function to ProductExtractor.
type ProductExtractorFunc func(ctx context.Context, source []byte, filename string) ([]domain.ExtractedProduct, error)

func (f ProductExtractorFunc) Extract(ctx context.Context, source []byte, filename string) ([]domain.ExtractedProduct, error) {
	return f(ctx, source, filename)
}

// SourceTextReader extracts plain text from an uploaded document.
type SourceTextReader interface {
	ReadText(ctx context.Context, source []byte, filename string) (string, error)
}

// Chunker splits text into prompt-sized chunks.
type Chunker interface {
	Split(text string) []string
}

// SnapshotRepository reads price snapshots of stores located in a city, with
// from <= date < to.
type SnapshotRepository interface {
	ListSnapshots(ctx context.Context, city string, from, to time.Time) ([]domain.PriceSnapshot, error)
}

// ProductCatalog lists tracked products.
type ProductCatalog interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

// IndexRepository persists computed index results, one per city and period.
type IndexRepository interface {
	SaveIndexResult(ctx context.Context, result *domain.IndexResult) error
	GetIndexResult(ctx context.Context, city, period string) (*domain.IndexResult, error)
}

// ImportRepository persists flyer import results.
type ImportRepository interface {
	SaveImport(ctx context.Context, result *domain.ImportResult) error
	GetImport(ctx context.Context, id string) (*domain.ImportResult, error)
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes key; a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// IndexRequestQueue publishes/consumes index computation requests.
type IndexRequestQueue interface {
	PublishIndexRequest(ctx context.Context, req domain.IndexRequest) error
	SubscribeIndexRequests(ctx context.Context, handler func(context.Context, domain.IndexRequest) error) error
}

// RequestDeduplicator remembers recently processed request ids.
type RequestDeduplicator interface {
	// MarkSeen records key and reports whether it was new.
	MarkSeen(key string) bool
	Forget(key string)
}
