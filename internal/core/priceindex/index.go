package priceindex

import (
	"github.com/kirillkom/promo-price-index/internal/core/domain"
)

// CategoryIndexes returns the relative index of every category that has at least one
// product with a usable reference price. Categories without one are omitted.
func (e *Engine) CategoryIndexes(aggs domain.CategoryAggregates, lookup domain.ProductLookup) []domain.CategoryIndex {
	out := make([]domain.CategoryIndex, 0, len(aggs))
	for _, agg := range aggs {
		var sum float64
		used := 0
		for _, detail := range agg.Products {
			product, ok := lookup[detail.ProductID]
			if !ok || !product.HasReferencePrice() {
				continue
			}
			sum += detail.AvgPrice / *product.ReferencePrice * 100
			used++
		}
		if used == 0 {
			continue
		}
		out = append(out, domain.CategoryIndex{
			CategoryID:   agg.CategoryID,
			Index:        sum / float64(used),
			Weight:       e.weights.Weight(agg.CategoryID),
			ProductsUsed: used,
		})
	}
	return out
}

// ComputeWeightedIndex combines category indexes into one value weighted by the
// category table. Only contributing categories count toward the weight sum; with no
// contribution at all the result is BaselineIndex.
func (e *Engine) ComputeWeightedIndex(aggs domain.CategoryAggregates, lookup domain.ProductLookup) float64 {
	var weighted, totalWeight float64
	for _, ci := range e.CategoryIndexes(aggs, lookup) {
		weighted += ci.Index * ci.Weight
		totalWeight += ci.Weight
	}
	if totalWeight <= 0 {
		return BaselineIndex
	}
	return Round2(weighted / totalWeight)
}
