package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
	"github.com/kirillkom/promo-price-index/internal/core/ports"
	"github.com/kirillkom/promo-price-index/internal/core/priceindex"
)

const DefaultBatchConcurrency = 4

type ComputeIndexUseCase struct {
	snapshots   ports.SnapshotRepository
	catalog     ports.ProductCatalog
	results     ports.IndexRepository
	engine      *priceindex.Engine
	concurrency int
	now         func() time.Time
}

func NewComputeIndexUseCase(
	snapshots ports.SnapshotRepository,
	catalog ports.ProductCatalog,
	results ports.IndexRepository,
	engine *priceindex.Engine,
	concurrency int,
) *ComputeIndexUseCase {
	if engine == nil {
		engine = priceindex.NewEngine(nil)
	}
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	return &ComputeIndexUseCase{
		snapshots:   snapshots,
		catalog:     catalog,
		results:     results,
		engine:      engine,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// WithClock replaces the time source used by Compute and ComputeBatch.
func (uc *ComputeIndexUseCase) WithClock(now func() time.Time) *ComputeIndexUseCase {
	if now != nil {
		uc.now = now
	}
	return uc
}

// Compute computes the index of city for period as of the current time.
func (uc *ComputeIndexUseCase) Compute(ctx context.Context, city string, period domain.Period) (*domain.IndexResult, error) {
	return uc.ComputeAt(ctx, city, period, uc.now())
}

// ComputeAt computes and stores the index of city for period using snapshots dated
// before the end of the period or the day after now, whichever comes first.
func (uc *ComputeIndexUseCase) ComputeAt(
	ctx context.Context,
	city string,
	period domain.Period,
	now time.Time,
) (*domain.IndexResult, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "compute index", errors.New("city is required"))
	}
	now = now.UTC()
	from, to := periodWindow(period, now)
	if !from.Before(to) {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"compute index",
			fmt.Errorf("period %s is in the future", period),
		)
	}

	products, err := uc.catalog.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	snapshots, err := uc.snapshots.ListSnapshots(ctx, city, from, to)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	lookup := domain.NewProductLookup(products)
	aggs := uc.engine.AggregateByCategory(snapshots, lookup)
	quality := qualityParams(snapshots, lookup, aggs, len(products), from, to)

	result := &domain.IndexResult{
		ID:            uuid.NewString(),
		City:          city,
		Period:        period.String(),
		IndexValue:    uc.engine.ComputeWeightedIndex(aggs, lookup),
		QualityScore:  priceindex.ComputeQualityScore(quality),
		Quality:       quality,
		Categories:    aggs,
		CategoryIndex: uc.engine.CategoryIndexes(aggs, lookup),
		ComputedAt:    now,
	}

	if result.MonthOverMonth, err = uc.changeSince(ctx, city, period.Previous(), result.IndexValue); err != nil {
		return nil, err
	}
	if result.YearOverYear, err = uc.changeSince(ctx, city, period.YearAgo(), result.IndexValue); err != nil {
		return nil, err
	}

	if err := uc.results.SaveIndexResult(ctx, result); err != nil {
		return nil, fmt.Errorf("save index result: %w", err)
	}
	return result, nil
}

// ComputeBatch computes several cities concurrently. A failing city is reported in
// its outcome and does not cancel the others.
func (uc *ComputeIndexUseCase) ComputeBatch(
	ctx context.Context,
	cities []string,
	period domain.Period,
) ([]domain.CityIndexOutcome, error) {
	cities = uniqueCities(cities)
	if len(cities) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "compute index batch", errors.New("at least one city is required"))
	}

	now := uc.now()
	outcomes := make([]domain.CityIndexOutcome, len(cities))
	var g errgroup.Group
	g.SetLimit(uc.concurrency)
	for i, city := range cities {
		g.Go(func() error {
			outcome := domain.CityIndexOutcome{City: city}
			result, err := uc.ComputeAt(ctx, city, period, now)
			if err != nil {
				outcome.Error = err.Error()
			} else {
				outcome.Result = result
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return outcomes, domain.WrapError(domain.ErrTemporary, "compute index batch", err)
	}
	return outcomes, nil
}

func (uc *ComputeIndexUseCase) GetIndex(ctx context.Context, city, period string) (*domain.IndexResult, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get index", errors.New("city is required"))
	}
	parsed, err := domain.ParsePeriod(period)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get index", fmt.Errorf("period must be YYYY-MM: %w", err))
	}
	return uc.results.GetIndexResult(ctx, city, parsed.String())
}

func (uc *ComputeIndexUseCase) changeSince(ctx context.Context, city string, base domain.Period, current float64) (*float64, error) {
	previous, err := uc.results.GetIndexResult(ctx, city, base.String())
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load index %s: %w", base, err)
	}
	return priceindex.PercentChange(current, previous.IndexValue), nil
}

// periodWindow returns [from, to) clipped to the end of the day of now.
func periodWindow(period domain.Period, now time.Time) (time.Time, time.Time) {
	from, to := period.Start(), period.End()
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	if cutoff.Before(to) {
		to = cutoff
	}
	return from, to
}

func qualityParams(
	snapshots []domain.PriceSnapshot,
	lookup domain.ProductLookup,
	aggs domain.CategoryAggregates,
	catalogSize int,
	from, to time.Time,
) domain.QualityScoreParams {
	stores := make(map[string]struct{})
	used := 0
	for _, s := range snapshots {
		if _, ok := lookup[s.ProductID]; !ok {
			continue
		}
		used++
		stores[s.StoreID] = struct{}{}
	}
	return domain.QualityScoreParams{
		ProductCount:          aggs.ProductCount(),
		TotalPossibleProducts: catalogSize,
		SnapshotCount:         used,
		TotalDays:             int(to.Sub(from).Hours() / 24),
		StoreCount:            len(stores),
		CategoryCount:         len(aggs),
	}
}

func uniqueCities(cities []string) []string {
	seen := make(map[string]struct{}, len(cities))
	out := make([]string, 0, len(cities))
	for _, city := range cities {
		city = strings.TrimSpace(city)
		if city == "" {
			continue
		}
		if _, ok := seen[city]; ok {
			continue
		}
		seen[city] = struct{}{}
		out = append(out, city)
	}
	return out
}

type RequestIndexUseCase struct {
	queue ports.IndexRequestQueue
	now   func() time.Time
}

func NewRequestIndexUseCase(queue ports.IndexRequestQueue) *RequestIndexUseCase {
	return &RequestIndexUseCase{queue: queue, now: time.Now}
}

// WithClock replaces the time source stamped on published requests.
func (uc *RequestIndexUseCase) WithClock(now func() time.Time) *RequestIndexUseCase {
	if now != nil {
		uc.now = now
	}
	return uc
}

// RequestIndexes publishes one request per distinct city.
func (uc *RequestIndexUseCase) RequestIndexes(
	ctx context.Context,
	cities []string,
	period domain.Period,
) ([]domain.IndexRequest, error) {
	cities = uniqueCities(cities)
	if len(cities) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "request index", errors.New("at least one city is required"))
	}

	requestedAt := uc.now().UTC()
	requests := make([]domain.IndexRequest, 0, len(cities))
	for _, city := range cities {
		req := domain.IndexRequest{
			RequestID:   uuid.NewString(),
			City:        city,
			Period:      period.String(),
			RequestedAt: requestedAt,
		}
		if err := uc.queue.PublishIndexRequest(ctx, req); err != nil {
			return requests, fmt.Errorf("publish index request for %s: %w", city, err)
		}
		requests = append(requests, req)
	}
	return requests, nil
}
