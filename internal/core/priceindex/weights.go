package priceindex

// DefaultCategoryWeight applies to any category id missing from the weight table.
const DefaultCategoryWeight = 0.05

// Category ids of the closed basket enumeration.
const (
	CategoryFood        = "cat_alimentos"
	CategoryBeverages   = "cat_bebidas"
	CategoryMeat        = "cat_carnes"
	CategoryProduce     = "cat_hortifruti"
	CategoryCleaning    = "cat_limpeza"
	CategoryHygiene     = "cat_higiene"
	CategoryBakery      = "cat_padaria"
	BasketCategoryCount = 7
)

// Weights maps a category id to its contribution factor in [0,1].
type Weights map[string]float64

// DefaultWeights is the declared basket; the values need not sum to 1.
var DefaultWeights = Weights{
	CategoryFood:      0.30,
	CategoryBeverages: 0.15,
	CategoryMeat:      0.15,
	CategoryProduce:   0.12,
	CategoryCleaning:  0.10,
	CategoryHygiene:   0.10,
	CategoryBakery:    0.08,
}

func (w Weights) Weight(categoryID string) float64 {
	if weight, ok := w[categoryID]; ok {
		return weight
	}
	return DefaultCategoryWeight
}

// Merge returns a copy of w with overrides applied. Weights outside [0,1] are ignored.
func (w Weights) Merge(overrides map[string]float64) Weights {
	out := make(Weights, len(w)+len(overrides))
	for id, weight := range w {
		out[id] = weight
	}
	for id, weight := range overrides {
		if weight < 0 || weight > 1 {
			continue
		}
		out[id] = weight
	}
	return out
}
