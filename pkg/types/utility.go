package types

import "time"

// SlotType is the tariff category for a slot.
type SlotType string

const (
	SlotTypePeak    SlotType = "peak"
	SlotTypeOffPeak SlotType = "off-peak"
	SlotTypeNormal  SlotType = "normal"
)

// TariffSlot is a half-open hour range [StartHour, EndHour) with a per-kWh
// rate. The range wraps past midnight when StartHour >= EndHour.
type TariffSlot struct {
	StartHour int      `json:"startHour" yaml:"startHour"`
	EndHour   int      `json:"endHour" yaml:"endHour"`
	Rate      float64  `json:"rate" yaml:"rate"`
	SlotType  SlotType `json:"slotType" yaml:"slotType"`
}

// ContainsHour returns true if the hour (0-23) falls in the slot.
func (s TariffSlot) ContainsHour(hour int) bool {
	if s.StartHour < s.EndHour {
		return s.StartHour <= hour && hour < s.EndHour
	}
	return hour >= s.StartHour || hour < s.EndHour
}

// TariffPlan is a named set of slots that should cover all 24 hours.
type TariffPlan struct {
	ID    string       `json:"id" yaml:"id"`
	Name  string       `json:"name" yaml:"name"`
	Slots []TariffSlot `json:"slots" yaml:"slots"`
}

// CarbonPoint is the grid carbon intensity for one hour of the day.
type CarbonPoint struct {
	Hour       int     `json:"hour" yaml:"hour"`
	GCO2PerKWh float64 `json:"gCO2PerKwh" yaml:"gCO2PerKwh"`
}

// Strategy selects how cost and carbon are weighted in the penalty.
type Strategy string

const (
	StrategyBalanced   Strategy = "balanced"
	StrategyMaxSavings Strategy = "maxSavings"
	StrategyEcoMode    Strategy = "ecoMode"
)

// Weights returns the (cost, carbon) weights for the strategy. Unknown
// strategies are treated as balanced.
func (s Strategy) Weights() (cost float64, carbon float64) {
	switch s {
	case StrategyMaxSavings:
		return 1.0, 0.0
	case StrategyEcoMode:
		return 0.0, 1.0
	default:
		return 0.7, 0.3
	}
}

// GridSeverity is the severity of a grid event.
type GridSeverity string

const (
	GridSeverityInfo     GridSeverity = "info"
	GridSeverityWarning  GridSeverity = "warning"
	GridSeverityCritical GridSeverity = "critical"
)

// Actionable returns true if the severity requires load shedding.
func (s GridSeverity) Actionable() bool {
	return s == GridSeverityWarning || s == GridSeverityCritical
}

// GridEvent is a stress signal from the distribution company.
type GridEvent struct {
	ID        string       `json:"id"`
	DiscomID  string       `json:"discomID"`
	Severity  GridSeverity `json:"severity"`
	Message   string       `json:"message"`
	StartTime time.Time    `json:"startTime"`
	EndTime   *time.Time   `json:"endTime,omitempty"`
}

// Expired returns true if the event has an end time before now.
func (e GridEvent) Expired(now time.Time) bool {
	return e.EndTime != nil && now.After(*e.EndTime)
}
