package controller

import (
	"github.com/jwpriem/ev-easee/pkg/types"
)

// Project maps a policy over the whole known price timeline and returns the
// resulting schedule: one slot per priced interval, active when the slot's
// price is at or below the policy's maximum. Past and future slots are both
// included so the day's full picture is visible. Projection is display only
// and never touches the charger.
func Project(tl types.PriceTimeline, policy types.ChargingPolicy, chargerName string) types.Schedule {
	s := types.Schedule{
		PolicyID:    policy.ID,
		ChargerID:   policy.ChargerID,
		ChargerName: chargerName,
		MaxPrice:    policy.MaxPrice,
		Enabled:     policy.Enabled,
		Slots:       make([]types.ScheduleSlot, 0, len(tl)),
	}

	for _, p := range tl {
		active := p.Total <= policy.MaxPrice
		s.Slots = append(s.Slots, types.ScheduleSlot{
			StartsAt: p.StartsAt,
			Price:    p.Total,
			Level:    p.Level,
			Active:   active,
		})
		if active {
			s.Summary.ActiveSlots++
		}
		if s.Summary.TotalSlots == 0 || p.Total < s.Summary.CheapestPrice {
			s.Summary.CheapestPrice = p.Total
		}
		if s.Summary.TotalSlots == 0 || p.Total > s.Summary.MostExpensivePrice {
			s.Summary.MostExpensivePrice = p.Total
		}
		s.Summary.TotalSlots++
	}
	return s
}
