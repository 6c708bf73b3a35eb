package types

import "time"

// PriceLevel is the provider's classification of a price relative to the
// trailing average.
type PriceLevel string

const (
	PriceLevelVeryCheap     PriceLevel = "VERY_CHEAP"
	PriceLevelCheap         PriceLevel = "CHEAP"
	PriceLevelNormal        PriceLevel = "NORMAL"
	PriceLevelExpensive     PriceLevel = "EXPENSIVE"
	PriceLevelVeryExpensive PriceLevel = "VERY_EXPENSIVE"
)

// PricePoint is the all-in unit price for one interval. The native provider
// resolution is one hour. Immutable once fetched.
type PricePoint struct {
	// Total is the all-in price (energy + tax) per kWh.
	Total    float64    `json:"total"`
	Energy   float64    `json:"energy"`
	Tax      float64    `json:"tax"`
	StartsAt time.Time  `json:"startsAt"`
	Level    PriceLevel `json:"level"`
}

// PriceTimeline is an ordered sequence of price points, ascending StartsAt,
// covering today and (once published) tomorrow. Intervals are contiguous and
// non-overlapping at native resolution.
type PriceTimeline []PricePoint

// PriceInfo is the raw shape returned by the price provider: one calendar
// day's full set of points plus tomorrow's, which is empty until the
// provider publishes day-ahead prices.
type PriceInfo struct {
	Today    []PricePoint `json:"today"`
	Tomorrow []PricePoint `json:"tomorrow"`
}

// HasTomorrow reports whether tomorrow's prices have been published.
func (p PriceInfo) HasTomorrow() bool {
	return len(p.Tomorrow) > 0
}
