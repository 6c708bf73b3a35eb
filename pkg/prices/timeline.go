package prices

import (
	"time"

	"github.com/jwpriem/ev-easee/pkg/types"
)

// NativeResolution is the provider's interval length. Every point in a
// normalized timeline covers [StartsAt, StartsAt+NativeResolution).
const NativeResolution = time.Hour

// Normalize builds a single queryable timeline from the provider's today and
// tomorrow point sets, preserving order. Tomorrow may be empty before the
// provider publishes day-ahead prices.
func Normalize(today, tomorrow []types.PricePoint) types.PriceTimeline {
	tl := make(types.PriceTimeline, 0, len(today)+len(tomorrow))
	tl = append(tl, today...)
	tl = append(tl, tomorrow...)
	return tl
}

// ExpandToSubIntervals replicates every native point into 60/intervalMinutes
// sub-slots sharing the parent hour's price. The price is a step function:
// it is never interpolated between hours. Intervals that don't evenly divide
// an hour return the timeline unchanged.
func ExpandToSubIntervals(tl types.PriceTimeline, intervalMinutes int) types.PriceTimeline {
	if len(tl) == 0 {
		return tl
	}
	if intervalMinutes <= 0 || intervalMinutes >= 60 || 60%intervalMinutes != 0 {
		return tl
	}

	perHour := 60 / intervalMinutes
	out := make(types.PriceTimeline, 0, len(tl)*perHour)
	for _, p := range tl {
		for q := 0; q < perHour; q++ {
			slot := p
			slot.StartsAt = p.StartsAt.Add(time.Duration(q*intervalMinutes) * time.Minute)
			out = append(out, slot)
		}
	}
	return out
}

// ResolveCurrent returns the point whose half-open interval
// [StartsAt, StartsAt+1h) contains now, or nil if now falls outside every
// known interval. The latter is a normal condition: tomorrow's prices may
// simply not be published yet. The timeline is at most ~48 points so a
// linear scan is fine.
func ResolveCurrent(tl types.PriceTimeline, now time.Time) *types.PricePoint {
	for i := range tl {
		start := tl[i].StartsAt
		end := start.Add(NativeResolution)
		if !now.Before(start) && now.Before(end) {
			return &tl[i]
		}
	}
	return nil
}
