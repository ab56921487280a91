package consensus

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
)

const (
	DefaultNameSimilarityThreshold = 0.85
	DefaultPriceTolerance          = 0.01
)

type Options struct {
	// NameSimilarityThreshold is the minimum normalized Levenshtein similarity for two
	// mentions to be the same item.
	NameSimilarityThreshold float64
	// PriceTolerance is the absolute difference under which a pass price agrees with
	// the consensus price.
	PriceTolerance float64
}

func DefaultOptions() Options {
	return Options{
		NameSimilarityThreshold: DefaultNameSimilarityThreshold,
		PriceTolerance:          DefaultPriceTolerance,
	}
}

func (o Options) normalize() Options {
	out := o
	def := DefaultOptions()
	if out.NameSimilarityThreshold <= 0 || out.NameSimilarityThreshold > 1 {
		out.NameSimilarityThreshold = def.NameSimilarityThreshold
	}
	if out.PriceTolerance < 0 {
		out.PriceTolerance = def.PriceTolerance
	}
	return out
}

// Engine reconciles extraction passes. It holds no state between calls.
type Engine struct {
	opts Options
}

func New(opts Options) *Engine {
	return &Engine{opts: opts.normalize()}
}

// Compute reconciles passes with DefaultOptions.
func Compute(passes []domain.ExtractionPass) domain.ConsensusResult {
	return New(DefaultOptions()).Compute(passes)
}

type mention struct {
	passIndex  int
	product    domain.ExtractedProduct
	normalized string
	base       string
	size       *sizeToken
}

type cluster struct {
	mentions []mention
	passes   map[int]struct{}
}

func (c *cluster) hasPass(passIndex int) bool {
	_, ok := c.passes[passIndex]
	return ok
}

// Compute reconciles the passes into one product list. Failed passes are recorded but
// never vote. When no pass succeeded the result is empty with InsufficientData set.
func (e *Engine) Compute(passes []domain.ExtractionPass) domain.ConsensusResult {
	result := domain.ConsensusResult{
		Products:    []domain.ConsensusProduct{},
		TotalPasses: len(passes),
	}

	successful := make([]int, 0, len(passes))
	for _, pass := range passes {
		if pass.Failed() {
			result.FailedPasses = append(result.FailedPasses, domain.PassFailure{
				PassIndex: pass.PassIndex,
				Error:     pass.Err.Error(),
			})
			continue
		}
		successful = append(successful, pass.PassIndex)
	}
	result.SuccessfulPasses = len(successful)
	if len(successful) == 0 {
		result.InsufficientData = true
		return result
	}

	clusters := e.cluster(passes)
	for _, c := range clusters {
		result.Products = append(result.Products, e.reconcile(c, successful))
	}

	sort.SliceStable(result.Products, func(i, j int) bool {
		if result.Products[i].Agreement != result.Products[j].Agreement {
			return result.Products[i].Agreement > result.Products[j].Agreement
		}
		return result.Products[i].Price < result.Products[j].Price
	})
	return result
}

// cluster groups mentions in pass order. A cluster takes at most one mention per pass.
func (e *Engine) cluster(passes []domain.ExtractionPass) []*cluster {
	var clusters []*cluster
	for _, pass := range passes {
		if pass.Failed() {
			continue
		}
		for _, product := range pass.Products {
			normalized := NormalizeName(product.Name)
			if normalized == "" {
				continue
			}
			size, base := parseSize(normalized)
			m := mention{
				passIndex:  pass.PassIndex,
				product:    product,
				normalized: normalized,
				base:       base,
				size:       size,
			}

			best := e.bestCluster(clusters, m)
			if best == nil {
				best = &cluster{passes: make(map[int]struct{})}
				clusters = append(clusters, best)
			}
			best.mentions = append(best.mentions, m)
			best.passes[m.passIndex] = struct{}{}
		}
	}
	return clusters
}

func (e *Engine) bestCluster(clusters []*cluster, m mention) *cluster {
	var best *cluster
	bestScore := -1.0
	for _, c := range clusters {
		if c.hasPass(m.passIndex) {
			continue
		}
		score := e.matchScore(c, m)
		if score > bestScore {
			best = c
			bestScore = score
		}
	}
	return best
}

// matchScore is the highest name similarity against the members, or -1 when no member
// reaches the threshold or any sized member disagrees with the mention's size. The
// size check covers every member, so a sizeless mention cannot bridge two sizes.
func (e *Engine) matchScore(c *cluster, m mention) float64 {
	score := -1.0
	for _, member := range c.mentions {
		if !sizeCompatible(member.size, m.size) {
			return -1
		}
		sim := similarity(member.base, m.base)
		if sim >= e.opts.NameSimilarityThreshold && sim > score {
			score = sim
		}
	}
	return score
}

func (e *Engine) reconcile(c *cluster, successful []int) domain.ConsensusProduct {
	name, normalized := chooseName(c.mentions)

	prices := make([]float64, 0, len(c.mentions))
	var originals []float64
	units := make([]string, 0, len(c.mentions))
	validities := make([]string, 0, len(c.mentions))
	supporting := make([]int, 0, len(c.mentions))
	for _, m := range c.mentions {
		prices = append(prices, m.product.Price)
		if m.product.OriginalPrice != nil && *m.product.OriginalPrice > 0 {
			originals = append(originals, *m.product.OriginalPrice)
		}
		units = append(units, m.product.Unit)
		validities = append(validities, m.product.Validity)
		supporting = append(supporting, m.passIndex)
	}
	sort.Ints(supporting)

	price := median(prices)
	out := domain.ConsensusProduct{
		Name:             name,
		NormalizedName:   normalized,
		Price:            price,
		Unit:             majority(units),
		Validity:         majority(validities),
		AgreementCount:   len(c.passes),
		Agreement:        float64(len(c.passes)) / float64(len(successful)),
		LowAgreement:     len(successful) > 1 && len(c.passes)*2 <= len(successful),
		SupportingPasses: supporting,
		Prices:           prices,
	}
	if len(originals) > 0 {
		original := median(originals)
		out.OriginalPrice = &original
	}

	disagreeing := make([]int, 0)
	for _, passIndex := range successful {
		if !c.hasPass(passIndex) {
			disagreeing = append(disagreeing, passIndex)
		}
	}
	for _, m := range c.mentions {
		if math.Abs(m.product.Price-price) > e.opts.PriceTolerance {
			disagreeing = append(disagreeing, m.passIndex)
		}
	}
	sort.Ints(disagreeing)
	out.DisagreeingPasses = disagreeing
	return out
}

type nameStat struct {
	normalized string
	count      int
	longest    string
	firstSeen  int
}

// chooseName picks the most frequent normalized name; ties go to the longest original
// spelling, then to the earliest mention.
func chooseName(mentions []mention) (string, string) {
	stats := make(map[string]*nameStat)
	order := make([]*nameStat, 0, len(mentions))
	for i, m := range mentions {
		original := strings.TrimSpace(m.product.Name)
		stat, ok := stats[m.normalized]
		if !ok {
			stat = &nameStat{normalized: m.normalized, firstSeen: i}
			stats[m.normalized] = stat
			order = append(order, stat)
		}
		stat.count++
		if utf8.RuneCountInString(original) > utf8.RuneCountInString(stat.longest) {
			stat.longest = original
		}
	}

	best := order[0]
	for _, stat := range order[1:] {
		switch {
		case stat.count > best.count:
			best = stat
		case stat.count == best.count &&
			utf8.RuneCountInString(stat.longest) > utf8.RuneCountInString(best.longest):
			best = stat
		}
	}
	return best.longest, best.normalized
}

// median ignores non-positive prices; an even count averages the two central values.
func median(values []float64) float64 {
	valid := make([]float64, 0, len(values))
	for _, v := range values {
		if v > 0 {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return 0
	}
	sort.Float64s(valid)
	mid := len(valid) / 2
	if len(valid)%2 == 1 {
		return round2(valid[mid])
	}
	return round2((valid[mid-1] + valid[mid]) / 2)
}

// majority returns the strictly most frequent non-empty value, compared
// case-insensitively, or nil when there is none or the top is tied.
func majority(values []string) *string {
	counts := make(map[string]int)
	firstOriginal := make(map[string]string)
	var order []string
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		key := NormalizeName(trimmed)
		if _, ok := counts[key]; !ok {
			order = append(order, key)
			firstOriginal[key] = trimmed
		}
		counts[key]++
	}
	if len(order) == 0 {
		return nil
	}

	bestKey := order[0]
	tied := false
	for _, key := range order[1:] {
		switch {
		case counts[key] > counts[bestKey]:
			bestKey = key
			tied = false
		case counts[key] == counts[bestKey]:
			tied = true
		}
	}
	if tied {
		return nil
	}
	winner := firstOriginal[bestKey]
	return &winner
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
