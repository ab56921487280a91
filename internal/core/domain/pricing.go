package domain

import "time"

// PriceSnapshot is one observed promotional price of a product in a store on a calendar day.
type PriceSnapshot struct {
	ProductID string    `json:"product_id" yaml:"product_id"`
	StoreID   string    `json:"store_id" yaml:"store_id"`
	Date      time.Time `json:"date" yaml:"date"`
	Price     float64   `json:"price" yaml:"price"`
}

// DayKey is the calendar day of the snapshot; the time of day is ignored.
func (s PriceSnapshot) DayKey() string {
	return s.Date.Format(time.DateOnly)
}

// Store is a retail location; snapshots are attributed to the city of their store.
type Store struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	City string `json:"city" yaml:"city"`
}

type Product struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	CategoryID     string   `json:"category_id" yaml:"category_id"`
	ReferencePrice *float64 `json:"reference_price,omitempty" yaml:"reference_price,omitempty"`
}

// HasReferencePrice reports whether the product can contribute to the index.
func (p Product) HasReferencePrice() bool {
	return p.ReferencePrice != nil && *p.ReferencePrice > 0
}

type ProductLookup map[string]Product

func NewProductLookup(products []Product) ProductLookup {
	lookup := make(ProductLookup, len(products))
	for _, p := range products {
		lookup[p.ID] = p
	}
	return lookup
}

type ProductDetail struct {
	ProductID     string  `json:"product_id"`
	AvgPrice      float64 `json:"avg_price"`
	MinPrice      float64 `json:"min_price"`
	MaxPrice      float64 `json:"max_price"`
	SnapshotDays  int     `json:"snapshot_days"`
	SnapshotCount int     `json:"snapshot_count"`
}

type CategoryAggregate struct {
	CategoryID   string          `json:"category_id"`
	ProductCount int             `json:"product_count"`
	AvgPrice     float64         `json:"avg_price"`
	MinPrice     float64         `json:"min_price"`
	MaxPrice     float64         `json:"max_price"`
	TotalWeight  float64         `json:"total_weight"`
	Products     []ProductDetail `json:"products"`
}

// CategoryAggregates keeps aggregates in the order their categories were first seen.
type CategoryAggregates []CategoryAggregate

func (c CategoryAggregates) Get(categoryID string) (CategoryAggregate, bool) {
	for _, agg := range c {
		if agg.CategoryID == categoryID {
			return agg, true
		}
	}
	return CategoryAggregate{}, false
}

func (c CategoryAggregates) ProductCount() int {
	total := 0
	for _, agg := range c {
		total += agg.ProductCount
	}
	return total
}

type CategoryIndex struct {
	CategoryID   string  `json:"category_id"`
	Index        float64 `json:"index"`
	Weight       float64 `json:"weight"`
	ProductsUsed int     `json:"products_used"`
}

type QualityScoreParams struct {
	ProductCount          int `json:"product_count"`
	TotalPossibleProducts int `json:"total_possible_products"`
	SnapshotCount         int `json:"snapshot_count"`
	TotalDays             int `json:"total_days"`
	StoreCount            int `json:"store_count"`
	CategoryCount         int `json:"category_count"`
}

// Period is a calendar month.
type Period struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

func (p Period) String() string {
	return p.Start().Format("2006-01")
}

func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the first day of the following month.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

func (p Period) Previous() Period {
	prev := p.Start().AddDate(0, -1, 0)
	return Period{Year: prev.Year(), Month: prev.Month()}
}

func (p Period) YearAgo() Period {
	return Period{Year: p.Year - 1, Month: p.Month}
}

func ParsePeriod(raw string) (Period, error) {
	t, err := time.Parse("2006-01", raw)
	if err != nil {
		return Period{}, err
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Year: t.Year(), Month: t.Month()}
}

type IndexResult struct {
	ID             string             `json:"id"`
	City           string             `json:"city"`
	Period         string             `json:"period"`
	IndexValue     float64            `json:"index_value"`
	QualityScore   int                `json:"quality_score"`
	Quality        QualityScoreParams `json:"quality"`
	MonthOverMonth *float64           `json:"month_over_month,omitempty"`
	YearOverYear   *float64           `json:"year_over_year,omitempty"`
	Categories     CategoryAggregates `json:"categories"`
	CategoryIndex  []CategoryIndex    `json:"category_index"`
	ComputedAt     time.Time          `json:"computed_at"`
}

type CityIndexOutcome struct {
	City   string       `json:"city"`
	Result *IndexResult `json:"result,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// IndexRequest asks the worker to compute one city index for a period.
type IndexRequest struct {
	RequestID   string    `json:"request_id"`
	City        string    `json:"city"`
	Period      string    `json:"period"`
	RequestedAt time.Time `json:"requested_at"`
}
