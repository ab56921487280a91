package priceindex

// PercentChange returns the rounded percentage change from previous to current.
// It returns nil when previous is not positive: no comparison is available, which
// callers must not read as zero change.
func PercentChange(current, previous float64) *float64 {
	if previous <= 0 {
		return nil
	}
	change := Round2((current - previous) / previous * 100)
	return &change
}
