package priceindex

import (
	"github.com/kirillkom/promo-price-index/internal/core/domain"
)

// BaselineIndex is the neutral index value: prices match their reference.
const BaselineIndex = 100.0

type Engine struct {
	weights Weights
}

func NewEngine(weights Weights) *Engine {
	if weights == nil {
		weights = DefaultWeights
	}
	return &Engine{weights: weights}
}

func (e *Engine) Weights() Weights {
	return e.weights
}

type productAccumulator struct {
	productID string
	sum       float64
	count     int
	min       float64
	max       float64
	days      map[string]struct{}
}

func (p *productAccumulator) add(s domain.PriceSnapshot) {
	if p.count == 0 || s.Price < p.min {
		p.min = s.Price
	}
	if p.count == 0 || s.Price > p.max {
		p.max = s.Price
	}
	p.sum += s.Price
	p.count++
	p.days[s.DayKey()] = struct{}{}
}

type categoryAccumulator struct {
	categoryID string
	order      []*productAccumulator
	byProduct  map[string]*productAccumulator
}

// AggregateByCategory groups the period's snapshots by product category.
// Snapshots of products unknown to lookup are skipped. Categories and products keep
// the order in which they first appear in snapshots.
func (e *Engine) AggregateByCategory(snapshots []domain.PriceSnapshot, lookup domain.ProductLookup) domain.CategoryAggregates {
	var order []*categoryAccumulator
	byCategory := make(map[string]*categoryAccumulator)

	for _, s := range snapshots {
		product, ok := lookup[s.ProductID]
		if !ok {
			continue
		}
		cat, ok := byCategory[product.CategoryID]
		if !ok {
			cat = &categoryAccumulator{
				categoryID: product.CategoryID,
				byProduct:  make(map[string]*productAccumulator),
			}
			byCategory[product.CategoryID] = cat
			order = append(order, cat)
		}
		acc, ok := cat.byProduct[s.ProductID]
		if !ok {
			acc = &productAccumulator{
				productID: s.ProductID,
				days:      make(map[string]struct{}),
			}
			cat.byProduct[s.ProductID] = acc
			cat.order = append(cat.order, acc)
		}
		acc.add(s)
	}

	out := make(domain.CategoryAggregates, 0, len(order))
	for _, cat := range order {
		out = append(out, e.buildAggregate(cat))
	}
	return out
}

func (e *Engine) buildAggregate(cat *categoryAccumulator) domain.CategoryAggregate {
	agg := domain.CategoryAggregate{
		CategoryID:   cat.categoryID,
		ProductCount: len(cat.order),
		TotalWeight:  e.weights.Weight(cat.categoryID),
		Products:     make([]domain.ProductDetail, 0, len(cat.order)),
	}

	var sum float64
	var count int
	for i, p := range cat.order {
		if i == 0 || p.min < agg.MinPrice {
			agg.MinPrice = p.min
		}
		if i == 0 || p.max > agg.MaxPrice {
			agg.MaxPrice = p.max
		}
		sum += p.sum
		count += p.count

		agg.Products = append(agg.Products, domain.ProductDetail{
			ProductID:     p.productID,
			AvgPrice:      Round2(p.sum / float64(p.count)),
			MinPrice:      p.min,
			MaxPrice:      p.max,
			SnapshotDays:  len(p.days),
			SnapshotCount: p.count,
		})
	}
	agg.AvgPrice = Round2(sum / float64(count))
	return agg
}
