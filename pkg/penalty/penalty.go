// Package penalty scores each hour of the day on a combined cost and carbon
// penalty and plans low-penalty windows from the resulting timeline.
package penalty

import (
	"math"

	"github.com/raterudder/autopilot/pkg/types"
)

const (
	// Threshold is the penalty above which the autopilot should act.
	Threshold = 0.6

	// FallbackCarbonGCO2 is the regional grid average used when an hour is
	// missing from the carbon profile.
	FallbackCarbonGCO2 = 680.0

	// neutral is the normalized value used when there is nothing to compare
	// against.
	neutral = 0.5
)

// SlotForHour returns the first slot covering hour.
func SlotForHour(hour int, slots []types.TariffSlot) (types.TariffSlot, bool) {
	for _, s := range slots {
		if s.ContainsHour(hour) {
			return s, true
		}
	}
	return types.TariffSlot{}, false
}

// NormalizeProfile returns a 24-entry profile indexed by hour. Missing hours
// take FallbackCarbonGCO2 and negative values are clamped to zero.
func NormalizeProfile(profile []types.CarbonPoint) [24]float64 {
	var out [24]float64
	var seen [24]bool
	for _, p := range profile {
		if p.Hour < 0 || p.Hour > 23 || seen[p.Hour] {
			continue
		}
		out[p.Hour] = math.Max(p.GCO2PerKWh, 0)
		seen[p.Hour] = true
	}
	for h := range out {
		if !seen[h] {
			out[h] = FallbackCarbonGCO2
		}
	}
	return out
}

// model holds the min/max bounds needed to score every hour of one day so a
// full timeline only computes them once.
type model struct {
	slots                []types.TariffSlot
	carbon               [24]float64
	minRate, maxRate     float64
	minCarbon, maxCarbon float64
	costW, carbonW       float64
}

func newModel(slots []types.TariffSlot, profile []types.CarbonPoint, strategy types.Strategy) *model {
	m := &model{
		slots:  slots,
		carbon: NormalizeProfile(profile),
	}
	m.costW, m.carbonW = strategy.Weights()

	for i, s := range slots {
		if i == 0 || s.Rate < m.minRate {
			m.minRate = s.Rate
		}
		if i == 0 || s.Rate > m.maxRate {
			m.maxRate = s.Rate
		}
	}
	m.minCarbon, m.maxCarbon = m.carbon[0], m.carbon[0]
	for _, c := range m.carbon[1:] {
		m.minCarbon = math.Min(m.minCarbon, c)
		m.maxCarbon = math.Max(m.maxCarbon, c)
	}
	return m
}

func normalize(v, lo, hi float64) float64 {
	if hi-lo == 0 {
		return neutral
	}
	return (v - lo) / (hi - lo)
}

func (m *model) penalty(hour int) float64 {
	normCost := neutral
	if slot, ok := SlotForHour(hour, m.slots); ok {
		normCost = normalize(slot.Rate, m.minRate, m.maxRate)
	}
	normCarbon := normalize(m.carbon[hour], m.minCarbon, m.maxCarbon)

	p := m.costW*normCost + m.carbonW*normCarbon
	p = math.Max(0, math.Min(1, p))
	return math.Round(p*10000) / 10000
}

// Penalty returns the normalized 0-1 penalty for hour given the tariff slots,
// carbon profile and strategy. An hour outside 0-23 is wrapped onto the day.
func Penalty(hour int, slots []types.TariffSlot, profile []types.CarbonPoint, strategy types.Strategy) float64 {
	return newModel(slots, profile, strategy).penalty(wrapHour(hour))
}

func wrapHour(h int) int {
	h %= 24
	if h < 0 {
		h += 24
	}
	return h
}
