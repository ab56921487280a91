package priceindex

import (
	"testing"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
)

func TestComputeQualityScoreFullData(t *testing.T) {
	got := ComputeQualityScore(domain.QualityScoreParams{
		ProductCount:          40,
		TotalPossibleProducts: 40,
		SnapshotCount:         40 * 30,
		TotalDays:             30,
		StoreCount:            6,
		CategoryCount:         7,
	})
	if got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
}

func TestComputeQualityScoreComponents(t *testing.T) {
	// coverage round(10/40*30)=8, density round((30/10)/30*25)=3, stores 2*5=10,
	// diversity round(3/7*15)=6, bonus 3+3+4=10.
	got := ComputeQualityScore(domain.QualityScoreParams{
		ProductCount:          10,
		TotalPossibleProducts: 40,
		SnapshotCount:         30,
		TotalDays:             30,
		StoreCount:            2,
		CategoryCount:         3,
	})
	if got != 37 {
		t.Fatalf("expected 37, got %d", got)
	}
}

func TestComputeQualityScoreZeroDenominators(t *testing.T) {
	got := ComputeQualityScore(domain.QualityScoreParams{
		ProductCount:  0,
		SnapshotCount: 12,
		StoreCount:    1,
	})
	// only stores (5) and snapshot bonus (4) remain
	if got != 9 {
		t.Fatalf("expected 9, got %d", got)
	}
	if got := ComputeQualityScore(domain.QualityScoreParams{}); got != 0 {
		t.Fatalf("expected 0 for empty params, got %d", got)
	}
}

func TestComputeQualityScoreBounds(t *testing.T) {
	values := []int{-5, 0, 1, 3, 7, 50, 1000}
	for _, products := range values {
		for _, possible := range values {
			for _, snaps := range values {
				for _, stores := range values {
					got := ComputeQualityScore(domain.QualityScoreParams{
						ProductCount:          products,
						TotalPossibleProducts: possible,
						SnapshotCount:         snaps,
						TotalDays:             stores,
						StoreCount:            stores,
						CategoryCount:         possible,
					})
					if got < 0 || got > 100 {
						t.Fatalf("score %d out of bounds for %d/%d/%d/%d", got, products, possible, snaps, stores)
					}
				}
			}
		}
	}
}
