package consensus

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName folds case and accents and collapses whitespace.
func NormalizeName(name string) string {
	// transform.Chain is stateful, so each call builds its own.
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, name)
	if err != nil {
		folded = name
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

type sizeToken struct {
	dimension string
	value     float64
}

var sizePattern = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(ml|cl|litros|litro|lts|lt|l|kg|mg|gr|g|unid|und|un|pct)\b`)

var sizeUnits = map[string]struct {
	dimension string
	factor    float64
}{
	"ml":     {"ml", 1},
	"cl":     {"ml", 10},
	"l":      {"ml", 1000},
	"lt":     {"ml", 1000},
	"lts":    {"ml", 1000},
	"litro":  {"ml", 1000},
	"litros": {"ml", 1000},
	"mg":     {"g", 0.001},
	"g":      {"g", 1},
	"gr":     {"g", 1},
	"kg":     {"g", 1000},
	"un":     {"un", 1},
	"und":    {"un", 1},
	"unid":   {"un", 1},
	"pct":    {"un", 1},
}

// parseSize returns the first size token of a normalized name, canonicalized to
// ml, g or units, along with the name without that token.
func parseSize(normalized string) (*sizeToken, string) {
	loc := sizePattern.FindStringSubmatchIndex(normalized)
	if loc == nil {
		return nil, normalized
	}
	base := strings.Join(strings.Fields(normalized[:loc[0]]+" "+normalized[loc[1]:]), " ")
	if base == "" {
		base = normalized
	}

	amount, err := strconv.ParseFloat(strings.ReplaceAll(normalized[loc[2]:loc[3]], ",", "."), 64)
	if err != nil {
		return nil, base
	}
	unit, ok := sizeUnits[normalized[loc[4]:loc[5]]]
	if !ok {
		return nil, base
	}
	return &sizeToken{dimension: unit.dimension, value: amount * unit.factor}, base
}

// sizeCompatible treats a missing size on either side as compatible.
func sizeCompatible(a, b *sizeToken) bool {
	if a == nil || b == nil {
		return true
	}
	if a.dimension != b.dimension {
		return false
	}
	diff := a.value - b.value
	if diff < 0 {
		diff = -diff
	}
	return diff <= 1e-6*max(a.value, b.value, 1)
}
