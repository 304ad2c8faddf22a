package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// PreferredAction is what the autopilot should do with a delegated device
// when the penalty is high.
type PreferredAction string

const (
	PreferredActionTurnOff    PreferredAction = "turnOff"
	PreferredActionEcoMode    PreferredAction = "ecoMode"
	PreferredActionDelayStart PreferredAction = "delayStart"
	PreferredActionLimitPower PreferredAction = "limitPower"
)

// UsesEcoMode returns true if the action is carried out with the eco-mode
// control instead of power.
func (p PreferredAction) UsesEcoMode() bool {
	return p == PreferredActionEcoMode || p == PreferredActionLimitPower
}

// ActionName returns the name logged when the action is taken.
func (p PreferredAction) ActionName() ActionName {
	switch p {
	case PreferredActionEcoMode:
		return ActionEcoModeOn
	case PreferredActionDelayStart:
		return ActionDelayStartOff
	case PreferredActionLimitPower:
		return ActionLimitPower
	default:
		return ActionTurnOff
	}
}

// ClockTime is a wall-clock time of day with minute precision, encoded as
// "HH:MM".
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM" or "HH:MM:SS". Seconds are ignored.
func ParseClockTime(s string) (ClockTime, error) {
	var c ClockTime
	for _, layout := range []string{"15:04", "15:04:05"} {
		t, err := time.Parse(layout, s)
		if err == nil {
			c.Hour, c.Minute = t.Hour(), t.Minute()
			return c, nil
		}
	}
	return c, fmt.Errorf("invalid clock time: %q", s)
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c ClockTime) seconds() int {
	return c.Hour*3600 + c.Minute*60
}

// MarshalJSON implements json.Marshaler.
func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (c ClockTime) MarshalYAML() (any, error) {
	return c.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler via the decode callback form.
func (c *ClockTime) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ProtectedWindow is a recurring daily range in which the autopilot must
// never act on a device. Both bounds are inclusive and the window wraps
// midnight when Start is after End.
type ProtectedWindow struct {
	Start ClockTime `json:"start" yaml:"start"`
	End   ClockTime `json:"end" yaml:"end"`
}

// Contains returns true if the wall-clock time of t (in t's location) falls
// inside the window.
func (w ProtectedWindow) Contains(t time.Time) bool {
	cur := t.Hour()*3600 + t.Minute()*60 + t.Second()
	start, end := w.Start.seconds(), w.End.seconds()
	if start <= end {
		return start <= cur && cur <= end
	}
	return cur >= start || cur <= end
}

// DeviceAutopilotConfig is the per-appliance delegation and override state.
type DeviceAutopilotConfig struct {
	HomeID          string           `json:"homeID"`
	ApplianceID     string           `json:"applianceID"`
	IsDelegated     bool             `json:"isDelegated"`
	PreferredAction PreferredAction  `json:"preferredAction"`
	ProtectedWindow *ProtectedWindow `json:"protectedWindow,omitempty"`
	OverrideActive  bool             `json:"overrideActive"`
	OverrideUntil   *time.Time       `json:"overrideUntil,omitempty"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// OverrideInEffect returns true if an override is active and has not lapsed
// at now. An override without an end time never lapses.
func (c DeviceAutopilotConfig) OverrideInEffect(now time.Time) bool {
	if !c.OverrideActive {
		return false
	}
	if c.OverrideUntil != nil && now.After(*c.OverrideUntil) {
		return false
	}
	return true
}

// TriggerClass partitions snapshots by what caused the action so the
// strategy and grid restore cycles never interfere with each other.
type TriggerClass string

const (
	TriggerClassStrategy  TriggerClass = "strategy"
	TriggerClassGridEvent TriggerClass = "gridEvent"
)

// Trigger labels for strategy actions.
const (
	TriggerPeakTariff       = "peak_tariff"
	TriggerHighCarbon       = "high_carbon"
	TriggerPenaltyThreshold = "penalty_threshold"
	TriggerGridEvent        = "grid_event"
)

// SavedState is the appliance state captured right before an automated
// action so it can be put back later. RestoredAt is nil while the snapshot
// is live.
type SavedState struct {
	ID           string          `json:"id"`
	HomeID       string          `json:"homeID"`
	ApplianceID  string          `json:"applianceID"`
	TriggerClass TriggerClass    `json:"triggerClass"`
	Trigger      string          `json:"trigger"`
	Action       PreferredAction `json:"action"`
	PrevStatus   ApplianceStatus `json:"prevStatus"`
	PrevEcoMode  bool            `json:"prevEcoMode"`
	SavedAt      time.Time       `json:"savedAt"`
	RestoredAt   *time.Time      `json:"restoredAt,omitempty"`
}

// Live returns true if the snapshot has not been restored.
func (s SavedState) Live() bool {
	return s.RestoredAt == nil
}

// SnapshotFilter narrows ListUnrestoredSnapshots to, or away from, a trigger
// class. Empty fields are ignored.
type SnapshotFilter struct {
	Only    TriggerClass
	Exclude TriggerClass
}

// Matches returns true if the trigger class passes the filter.
func (f SnapshotFilter) Matches(tc TriggerClass) bool {
	if f.Only != "" && tc != f.Only {
		return false
	}
	if f.Exclude != "" && tc == f.Exclude {
		return false
	}
	return true
}

// RuleConditionPeakTariff is the only legacy rule condition the autopilot
// executes.
const RuleConditionPeakTariff = "peak_tariff"

// AutomationRule is a legacy per-home rule. Homes without any delegated
// device fall back to running their active peak-tariff rules against the
// target appliances. The triggered flag tells older clients that automation
// is in effect.
type AutomationRule struct {
	ID                 string     `json:"id"`
	HomeID             string     `json:"homeID"`
	Name               string     `json:"name"`
	ConditionType      string     `json:"conditionType"`
	Action             string     `json:"action"`
	TargetApplianceIDs []string   `json:"targetApplianceIDs,omitempty"`
	IsActive           bool       `json:"isActive"`
	IsTriggered        bool       `json:"isTriggered"`
	LastTriggeredAt    *time.Time `json:"lastTriggeredAt,omitempty"`
}

// PreferredAction maps the rule's action onto an autopilot action. Rules
// store either the legacy snake_case names or the autopilot's own.
func (r AutomationRule) PreferredAction() (PreferredAction, bool) {
	switch r.Action {
	case "turn_off", string(PreferredActionTurnOff):
		return PreferredActionTurnOff, true
	case "eco_mode", string(PreferredActionEcoMode):
		return PreferredActionEcoMode, true
	case "limit_power", string(PreferredActionLimitPower):
		return PreferredActionLimitPower, true
	}
	return "", false
}
