package priceindex

import (
	"math"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
)

const (
	coverageCap  = 30
	densityCap   = 25
	storeCap     = 20
	diversityCap = 15
	bonusCap     = 10
	maxQuality   = 100
)

// ComputeQualityScore scores data sufficiency of one index computation in [0,100].
// Zero denominators make the affected component 0.
func ComputeQualityScore(p domain.QualityScoreParams) int {
	score := coverageScore(p) + densityScore(p) + storeScore(p) + diversityScore(p) + bonusScore(p)
	return clamp(score, 0, maxQuality)
}

func coverageScore(p domain.QualityScoreParams) int {
	if p.TotalPossibleProducts <= 0 || p.ProductCount <= 0 {
		return 0
	}
	ratio := float64(p.ProductCount) / float64(p.TotalPossibleProducts)
	return clamp(roundInt(ratio*coverageCap), 0, coverageCap)
}

func densityScore(p domain.QualityScoreParams) int {
	if p.ProductCount <= 0 || p.TotalDays <= 0 || p.SnapshotCount <= 0 {
		return 0
	}
	perProduct := float64(p.SnapshotCount) / float64(p.ProductCount)
	return clamp(roundInt(perProduct/float64(p.TotalDays)*densityCap), 0, densityCap)
}

func storeScore(p domain.QualityScoreParams) int {
	return clamp(p.StoreCount*5, 0, storeCap)
}

func diversityScore(p domain.QualityScoreParams) int {
	if p.CategoryCount <= 0 {
		return 0
	}
	ratio := float64(p.CategoryCount) / BasketCategoryCount
	return clamp(roundInt(ratio*diversityCap), 0, diversityCap)
}

func bonusScore(p domain.QualityScoreParams) int {
	bonus := 0
	if p.ProductCount >= 5 {
		bonus += 3
	}
	if p.StoreCount >= 2 {
		bonus += 3
	}
	if p.SnapshotCount >= 10 {
		bonus += 4
	}
	return clamp(bonus, 0, bonusCap)
}

func roundInt(v float64) int {
	return int(math.Round(v))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
