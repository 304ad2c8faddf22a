package storagemock

import (
	"context"
	"time"

	"github.com/raterudder/autopilot/pkg/storage"
	"github.com/raterudder/autopilot/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetHome(ctx context.Context, homeID string) (types.Home, error) {
	args := m.Called(ctx, homeID)
	if len(args) > 0 {
		return args.Get(0).(types.Home), args.Error(1)
	}
	return types.Home{}, nil
}

func (m *MockDatabase) ListHomes(ctx context.Context) ([]types.Home, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		if args.Get(0) == nil {
			return nil, args.Error(1)
		}
		return args.Get(0).([]types.Home), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) PutHome(ctx context.Context, home types.Home) error {
	args := m.Called(ctx, home)
	return args.Error(0)
}

func (m *MockDatabase) UpdatePenaltyState(ctx context.Context, homeID string, above bool, at time.Time) error {
	args := m.Called(ctx, homeID, above, at)
	return args.Error(0)
}

func (m *MockDatabase) GetAppliance(ctx context.Context, homeID, applianceID string) (types.Appliance, error) {
	args := m.Called(ctx, homeID, applianceID)
	if len(args) > 0 {
		return args.Get(0).(types.Appliance), args.Error(1)
	}
	return types.Appliance{}, nil
}

func (m *MockDatabase) ListAppliances(ctx context.Context, homeID string) ([]types.Appliance, error) {
	args := m.Called(ctx, homeID)
	if len(args) > 0 {
		if args.Get(0) == nil {
			return nil, args.Error(1)
		}
		return args.Get(0).([]types.Appliance), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) PutAppliance(ctx context.Context, appliance types.Appliance) error {
	args := m.Called(ctx, appliance)
	return args.Error(0)
}

func (m *MockDatabase) UpdateApplianceState(ctx context.Context, homeID, applianceID string, status types.ApplianceStatus, ecoMode bool, at time.Time) error {
	args := m.Called(ctx, homeID, applianceID, status, ecoMode, at)
	return args.Error(0)
}

func (m *MockDatabase) GetDeviceConfig(ctx context.Context, homeID, applianceID string) (types.DeviceAutopilotConfig, error) {
	args := m.Called(ctx, homeID, applianceID)
	if len(args) > 0 {
		return args.Get(0).(types.DeviceAutopilotConfig), args.Error(1)
	}
	return types.DeviceAutopilotConfig{}, nil
}

func (m *MockDatabase) PutDeviceConfig(ctx context.Context, cfg types.DeviceAutopilotConfig) error {
	args := m.Called(ctx, cfg)
	return args.Error(0)
}

func (m *MockDatabase) ListDelegatedConfigs(ctx context.Context, homeID string) ([]types.DeviceAutopilotConfig, error) {
	args := m.Called(ctx, homeID)
	if len(args) > 0 {
		if args.Get(0) == nil {
			return nil, args.Error(1)
		}
		return args.Get(0).([]types.DeviceAutopilotConfig), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) SetOverride(ctx context.Context, homeID, applianceID string, until *time.Time) error {
	args := m.Called(ctx, homeID, applianceID, until)
	return args.Error(0)
}

func (m *MockDatabase) ClearOverrides(ctx context.Context, homeID string, now time.Time) (int, error) {
	args := m.Called(ctx, homeID, now)
	if len(args) > 0 {
		return args.Int(0), args.Error(1)
	}
	return 0, nil
}

func (m *MockDatabase) UpsertSnapshot(ctx context.Context, snapshot types.SavedState) (types.SavedState, bool, error) {
	args := m.Called(ctx, snapshot)
	if len(args) > 0 {
		return args.Get(0).(types.SavedState), args.Bool(1), args.Error(2)
	}
	return snapshot, true, nil
}

func (m *MockDatabase) MarkSnapshotRestored(ctx context.Context, homeID, snapshotID string, at time.Time) error {
	args := m.Called(ctx, homeID, snapshotID, at)
	return args.Error(0)
}

func (m *MockDatabase) ListUnrestoredSnapshots(ctx context.Context, homeID string, filter types.SnapshotFilter) ([]types.SavedState, error) {
	args := m.Called(ctx, homeID, filter)
	if len(args) > 0 {
		if args.Get(0) == nil {
			return nil, args.Error(1)
		}
		return args.Get(0).([]types.SavedState), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) AppendActionLog(ctx context.Context, entry types.ActionLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockDatabase) GetLatestActionLog(ctx context.Context, homeID, applianceID string) (*types.ActionLog, error) {
	args := m.Called(ctx, homeID, applianceID)
	if len(args) > 0 {
		if args.Get(0) == nil {
			return nil, args.Error(1)
		}
		return args.Get(0).(*types.ActionLog), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetActionHistory(ctx context.Context, homeID string, start, end time.Time) ([]types.ActionLog, error) {
	args := m.Called(ctx, homeID, start, end)
	if len(args) > 0 {
		if args.Get(0) == nil {
			return nil, args.Error(1)
		}
		return args.Get(0).([]types.ActionLog), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) PutRule(ctx context.Context, rule types.AutomationRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *MockDatabase) ListRules(ctx context.Context, homeID string) ([]types.AutomationRule, error) {
	args := m.Called(ctx, homeID)
	if len(args) > 0 {
		if args.Get(0) == nil {
			return nil, args.Error(1)
		}
		return args.Get(0).([]types.AutomationRule), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) SetRulesTriggered(ctx context.Context, homeID string, triggered bool, at time.Time) error {
	args := m.Called(ctx, homeID, triggered, at)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
