package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/raterudder/autopilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirestoreProvider(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	// Use a random database for isolation
	f := &FirestoreProvider{
		projectID: "test-project-id",
		database:  fmt.Sprintf("test-db-%d", time.Now().UnixNano()),
	}

	ctx := context.Background()
	require.NoError(t, f.Init(ctx))
	defer f.Close()

	now := time.Now().Truncate(time.Second).UTC()

	t.Run("Validate", func(t *testing.T) {
		require.NoError(t, f.Validate())
	})

	t.Run("EmptyHomeID", func(t *testing.T) {
		_, err := f.GetHome(ctx, "")
		assert.ErrorContains(t, err, "homeID cannot be empty")
	})

	t.Run("Homes", func(t *testing.T) {
		_, err := f.GetHome(ctx, "missing")
		assert.ErrorIs(t, err, ErrHomeNotFound)

		h := types.Home{ID: "home1", TariffPlanID: "bihar", Strategy: types.StrategyBalanced, AutopilotEnabled: true}
		require.NoError(t, f.PutHome(ctx, h))
		require.NoError(t, f.UpdatePenaltyState(ctx, "home1", true, now))

		// PutHome keeps the penalty state
		require.NoError(t, f.PutHome(ctx, h))
		got, err := f.GetHome(ctx, "home1")
		require.NoError(t, err)
		require.NotNil(t, got.PenaltyAbove)
		assert.True(t, *got.PenaltyAbove)
	})

	t.Run("Appliances", func(t *testing.T) {
		a := types.Appliance{ID: "ac1", HomeID: "home1", Name: "AC", Status: types.ApplianceStatusOn, Category: "ac", IsControllable: true, UpdatedAt: now}
		require.NoError(t, f.PutAppliance(ctx, a))
		require.NoError(t, f.UpdateApplianceState(ctx, "home1", "ac1", types.ApplianceStatusOff, true, now))

		got, err := f.GetAppliance(ctx, "home1", "ac1")
		require.NoError(t, err)
		assert.Equal(t, types.ApplianceStatusOff, got.Status)
		assert.True(t, got.EcoModeEnabled)

		err = f.UpdateApplianceState(ctx, "home1", "nope", types.ApplianceStatusOff, false, now)
		assert.ErrorIs(t, err, ErrApplianceNotFound)
	})

	t.Run("Overrides", func(t *testing.T) {
		future := now.Add(time.Hour)
		require.NoError(t, f.PutDeviceConfig(ctx, types.DeviceAutopilotConfig{HomeID: "home1", ApplianceID: "ac1", IsDelegated: true}))
		require.NoError(t, f.SetOverride(ctx, "home1", "ac1", &future))
		require.NoError(t, f.SetOverride(ctx, "home1", "fan1", nil))

		delegated, err := f.ListDelegatedConfigs(ctx, "home1")
		require.NoError(t, err)
		require.Len(t, delegated, 1)
		assert.Equal(t, "ac1", delegated[0].ApplianceID)

		n, err := f.ClearOverrides(ctx, "home1", now)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		cfg, err := f.GetDeviceConfig(ctx, "home1", "ac1")
		require.NoError(t, err)
		assert.True(t, cfg.OverrideActive)
	})

	t.Run("Snapshots", func(t *testing.T) {
		first := types.SavedState{HomeID: "home1", ApplianceID: "ac1", TriggerClass: types.TriggerClassStrategy, Action: types.PreferredActionTurnOff, PrevStatus: types.ApplianceStatusOn, SavedAt: now}
		saved, created, err := f.UpsertSnapshot(ctx, first)
		require.NoError(t, err)
		assert.True(t, created)

		second := first
		second.PrevStatus = types.ApplianceStatusOff
		kept, created, err := f.UpsertSnapshot(ctx, second)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, saved.ID, kept.ID)
		assert.Equal(t, types.ApplianceStatusOn, kept.PrevStatus)

		live, err := f.ListUnrestoredSnapshots(ctx, "home1", types.SnapshotFilter{})
		require.NoError(t, err)
		assert.Len(t, live, 1)

		require.NoError(t, f.MarkSnapshotRestored(ctx, "home1", saved.ID, now))
		require.NoError(t, f.MarkSnapshotRestored(ctx, "home1", saved.ID, now))

		live, err = f.ListUnrestoredSnapshots(ctx, "home1", types.SnapshotFilter{})
		require.NoError(t, err)
		assert.Empty(t, live)
	})

	t.Run("ActionLogs", func(t *testing.T) {
		for i, actor := range []types.Actor{types.ActorAutopilot, types.ActorUser} {
			require.NoError(t, f.AppendActionLog(ctx, types.ActionLog{
				HomeID:      "home1",
				ApplianceID: "ac1",
				Actor:       actor,
				Action:      types.ActionTurnOff,
				Result:      types.ActionResultSuccess,
				Timestamp:   now.Add(time.Duration(i) * time.Minute),
			}))
		}
		latest, err := f.GetLatestActionLog(ctx, "home1", "ac1")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, types.ActorUser, latest.Actor)

		history, err := f.GetActionHistory(ctx, "home1", now, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("Rules", func(t *testing.T) {
		require.NoError(t, f.PutRule(ctx, types.AutomationRule{ID: "r1", HomeID: "home1", TargetApplianceIDs: []string{"ac1"}, IsActive: true}))
		require.NoError(t, f.SetRulesTriggered(ctx, "home1", true, now))
		rules, err := f.ListRules(ctx, "home1")
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.True(t, rules[0].IsTriggered)
		assert.Equal(t, []string{"ac1"}, rules[0].TargetApplianceIDs)
	})
}
