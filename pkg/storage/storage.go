package storage

import (
	"context"
	"errors"
	"time"

	"github.com/raterudder/autopilot/pkg/types"
)

var (
	ErrHomeNotFound      = errors.New("home not found")
	ErrApplianceNotFound = errors.New("appliance not found")
	ErrConfigNotFound    = errors.New("autopilot config not found")
)

// Database defines the interface for persisting homes, appliances, autopilot
// state and the control log.
type Database interface {
	// Homes
	GetHome(ctx context.Context, homeID string) (types.Home, error)
	ListHomes(ctx context.Context) ([]types.Home, error)
	PutHome(ctx context.Context, home types.Home) error
	// UpdatePenaltyState records whether the home was above the penalty
	// threshold at the last tick.
	UpdatePenaltyState(ctx context.Context, homeID string, above bool, at time.Time) error

	// Appliances
	GetAppliance(ctx context.Context, homeID, applianceID string) (types.Appliance, error)
	ListAppliances(ctx context.Context, homeID string) ([]types.Appliance, error)
	PutAppliance(ctx context.Context, appliance types.Appliance) error
	UpdateApplianceState(ctx context.Context, homeID, applianceID string, status types.ApplianceStatus, ecoMode bool, at time.Time) error

	// Autopilot configs
	GetDeviceConfig(ctx context.Context, homeID, applianceID string) (types.DeviceAutopilotConfig, error)
	PutDeviceConfig(ctx context.Context, cfg types.DeviceAutopilotConfig) error
	ListDelegatedConfigs(ctx context.Context, homeID string) ([]types.DeviceAutopilotConfig, error)
	// SetOverride marks the device as overridden until the given time, or
	// indefinitely if until is nil. A config is created if none exists.
	SetOverride(ctx context.Context, homeID, applianceID string, until *time.Time) error
	// ClearOverrides clears overrides that are indefinite or have lapsed at
	// now and returns how many were cleared.
	ClearOverrides(ctx context.Context, homeID string, now time.Time) (int, error)

	// Snapshots
	// UpsertSnapshot saves the pre-action state keyed by (home, appliance,
	// trigger class). If a live snapshot already exists for the key it is
	// left untouched and returned with false.
	UpsertSnapshot(ctx context.Context, snapshot types.SavedState) (types.SavedState, bool, error)
	// MarkSnapshotRestored is a no-op if the snapshot is already restored.
	MarkSnapshotRestored(ctx context.Context, homeID, snapshotID string, at time.Time) error
	ListUnrestoredSnapshots(ctx context.Context, homeID string, filter types.SnapshotFilter) ([]types.SavedState, error)

	// Action log
	AppendActionLog(ctx context.Context, entry types.ActionLog) error
	GetLatestActionLog(ctx context.Context, homeID, applianceID string) (*types.ActionLog, error)
	GetActionHistory(ctx context.Context, homeID string, start, end time.Time) ([]types.ActionLog, error)

	// Legacy rules
	PutRule(ctx context.Context, rule types.AutomationRule) error
	ListRules(ctx context.Context, homeID string) ([]types.AutomationRule, error)
	SetRulesTriggered(ctx context.Context, homeID string, triggered bool, at time.Time) error

	// Lifecycle
	Close() error
}
