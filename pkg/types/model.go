package types

import "time"

// Home represents a household with a tariff plan, a carbon region and a set
// of appliances that may be delegated to the autopilot.
type Home struct {
	ID                    string   `json:"id"`
	UserID                string   `json:"userID"`
	TariffPlanID          string   `json:"tariffPlanID"`
	RegionCode            string   `json:"regionCode"`
	Timezone              string   `json:"timezone,omitempty"`
	Strategy              Strategy `json:"strategy"`
	AutopilotEnabled      bool     `json:"autopilotEnabled"`
	GridProtectionEnabled bool     `json:"gridProtectionEnabled"`

	// PenaltyAbove is whether the penalty was above the threshold at the last
	// tick. Nil means the home has never been evaluated.
	PenaltyAbove     *bool      `json:"penaltyAbove,omitempty"`
	PenaltyCheckedAt *time.Time `json:"penaltyCheckedAt,omitempty"`
}

// Location returns the home's configured timezone or def if the home has none
// or it is invalid.
func (h Home) Location(def *time.Location) *time.Location {
	if h.Timezone == "" {
		return def
	}
	loc, err := time.LoadLocation(h.Timezone)
	if err != nil {
		return def
	}
	return loc
}

// ApplianceStatus is the last status reported for an appliance.
type ApplianceStatus string

const (
	ApplianceStatusOn        ApplianceStatus = "ON"
	ApplianceStatusOff       ApplianceStatus = "OFF"
	ApplianceStatusWarning   ApplianceStatus = "WARNING"
	ApplianceStatusScheduled ApplianceStatus = "SCHEDULED"
)

// Active returns true if the appliance is drawing power.
func (s ApplianceStatus) Active() bool {
	return s == ApplianceStatusOn || s == ApplianceStatusWarning
}

// Appliance is a controllable (or observed) load in a home. Status is the
// ground truth and must be re-read before acting on it.
type Appliance struct {
	ID             string          `json:"id"`
	HomeID         string          `json:"homeID"`
	Name           string          `json:"name"`
	Status         ApplianceStatus `json:"status"`
	EcoModeEnabled bool            `json:"ecoModeEnabled"`
	RatedPowerW    float64         `json:"ratedPowerW"`
	Category       string          `json:"category"`
	IsControllable bool            `json:"isControllable"`
	SmartPlugID    string          `json:"smartPlugID,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

var ecoCategories = map[string]bool{
	"ac":              true,
	"washing_machine": true,
	"refrigerator":    true,
}

// SupportsEcoMode returns true if the appliance category has an eco mode.
func (a Appliance) SupportsEcoMode() bool {
	return ecoCategories[a.Category]
}

// Actor identifies who or what caused an action.
type Actor string

const (
	ActorAutopilot      Actor = "autopilot"
	ActorGridProtection Actor = "grid_protection"
	ActorUser           Actor = "user"
	ActorPhysical       Actor = "physical"
	ActorManual         Actor = "manual"
)

// Human returns true if the actor is a person rather than automation.
func (a Actor) Human() bool {
	return a == ActorUser || a == ActorPhysical || a == ActorManual
}

// ActionName is the name recorded in the action log.
type ActionName string

const (
	ActionTurnOn        ActionName = "turn_on"
	ActionTurnOff       ActionName = "turn_off"
	ActionEcoModeOn     ActionName = "eco_mode_on"
	ActionEcoModeOff    ActionName = "eco_mode_off"
	ActionDelayStartOff ActionName = "delay_start_off"
	ActionLimitPower    ActionName = "limit_power"
	ActionEmergencyOff  ActionName = "emergency_off"
	ActionRestoreOn     ActionName = "restore_on"
)

// ActionResult is the outcome of a device command.
type ActionResult string

const (
	ActionResultSuccess ActionResult = "success"
	ActionResultFailed  ActionResult = "failed"
)

// ActionLog is a single entry in the appliance control log. Entries are
// written for every command whether it succeeded or not.
type ActionLog struct {
	ID              string          `json:"id"`
	HomeID          string          `json:"homeID"`
	ApplianceID     string          `json:"applianceID"`
	Actor           Actor           `json:"actor"`
	Action          ActionName      `json:"action"`
	Trigger         string          `json:"trigger"`
	Result          ActionResult    `json:"result"`
	Error           string          `json:"error,omitempty"`
	Latency         time.Duration   `json:"latency"`
	SubstitutedFrom PreferredAction `json:"substitutedFrom,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}
