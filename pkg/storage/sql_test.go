package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/raterudder/autopilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQL(t *testing.T) *SQLProvider {
	t.Helper()
	p := NewSQLProvider("sqlite", ":memory:")
	require.NoError(t, p.Validate())
	require.NoError(t, p.Init(context.Background()))
	t.Cleanup(func() { p.Close() })
	return p
}

func TestSQLProviderValidate(t *testing.T) {
	assert.Error(t, NewSQLProvider("mysql", "x").Validate())
	assert.Error(t, NewSQLProvider("postgres", "").Validate())
	assert.NoError(t, NewSQLProvider("postgres", "postgres://localhost/autopilot").Validate())
}

func TestSQLProvider(t *testing.T) {
	p := newTestSQL(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 19, 0, 0, 0, time.UTC)

	t.Run("Homes", func(t *testing.T) {
		_, err := p.GetHome(ctx, "missing")
		assert.ErrorIs(t, err, ErrHomeNotFound)

		h := types.Home{
			ID:                    "home1",
			UserID:                "user1",
			TariffPlanID:          "bihar-tod",
			RegionCode:            "IN-BR",
			Strategy:              types.StrategyBalanced,
			AutopilotEnabled:      true,
			GridProtectionEnabled: true,
		}
		require.NoError(t, p.PutHome(ctx, h))

		got, err := p.GetHome(ctx, "home1")
		require.NoError(t, err)
		assert.Equal(t, h, got)
		assert.Nil(t, got.PenaltyAbove)

		require.NoError(t, p.UpdatePenaltyState(ctx, "home1", true, now))
		got, err = p.GetHome(ctx, "home1")
		require.NoError(t, err)
		require.NotNil(t, got.PenaltyAbove)
		assert.True(t, *got.PenaltyAbove)
		require.NotNil(t, got.PenaltyCheckedAt)
		assert.True(t, now.Equal(*got.PenaltyCheckedAt))

		// re-seeding keeps the penalty state
		h.Strategy = types.StrategyEcoMode
		require.NoError(t, p.PutHome(ctx, h))
		got, err = p.GetHome(ctx, "home1")
		require.NoError(t, err)
		assert.Equal(t, types.StrategyEcoMode, got.Strategy)
		require.NotNil(t, got.PenaltyAbove)

		assert.ErrorIs(t, p.UpdatePenaltyState(ctx, "missing", true, now), ErrHomeNotFound)

		homes, err := p.ListHomes(ctx)
		require.NoError(t, err)
		assert.Len(t, homes, 1)
	})

	t.Run("Appliances", func(t *testing.T) {
		_, err := p.GetAppliance(ctx, "home1", "missing")
		assert.ErrorIs(t, err, ErrApplianceNotFound)

		a := types.Appliance{
			ID:             "ac1",
			HomeID:         "home1",
			Name:           "Bedroom AC",
			Status:         types.ApplianceStatusOn,
			RatedPowerW:    1500,
			Category:       "ac",
			IsControllable: true,
			UpdatedAt:      now,
		}
		require.NoError(t, p.PutAppliance(ctx, a))

		got, err := p.GetAppliance(ctx, "home1", "ac1")
		require.NoError(t, err)
		assert.Equal(t, a, got)

		require.NoError(t, p.UpdateApplianceState(ctx, "home1", "ac1", types.ApplianceStatusOff, true, now.Add(time.Minute)))
		got, err = p.GetAppliance(ctx, "home1", "ac1")
		require.NoError(t, err)
		assert.Equal(t, types.ApplianceStatusOff, got.Status)
		assert.True(t, got.EcoModeEnabled)

		assert.ErrorIs(t, p.UpdateApplianceState(ctx, "home1", "missing", types.ApplianceStatusOff, false, now), ErrApplianceNotFound)

		list, err := p.ListAppliances(ctx, "home1")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("Configs", func(t *testing.T) {
		_, err := p.GetDeviceConfig(ctx, "home1", "ac1")
		assert.ErrorIs(t, err, ErrConfigNotFound)

		cfg := types.DeviceAutopilotConfig{
			HomeID:          "home1",
			ApplianceID:     "ac1",
			IsDelegated:     true,
			PreferredAction: types.PreferredActionEcoMode,
			ProtectedWindow: &types.ProtectedWindow{
				Start: types.ClockTime{Hour: 22},
				End:   types.ClockTime{Hour: 6, Minute: 30},
			},
			UpdatedAt: now,
		}
		require.NoError(t, p.PutDeviceConfig(ctx, cfg))
		require.NoError(t, p.PutDeviceConfig(ctx, types.DeviceAutopilotConfig{HomeID: "home1", ApplianceID: "tv1"}))

		got, err := p.GetDeviceConfig(ctx, "home1", "ac1")
		require.NoError(t, err)
		assert.Equal(t, cfg, got)

		delegated, err := p.ListDelegatedConfigs(ctx, "home1")
		require.NoError(t, err)
		require.Len(t, delegated, 1)
		assert.Equal(t, "ac1", delegated[0].ApplianceID)

		tv, err := p.GetDeviceConfig(ctx, "home1", "tv1")
		require.NoError(t, err)
		assert.Equal(t, types.PreferredActionTurnOff, tv.PreferredAction)
		assert.Nil(t, tv.ProtectedWindow)
	})

	t.Run("Overrides", func(t *testing.T) {
		future := now.Add(3 * time.Hour)
		past := now.Add(-time.Hour)

		require.NoError(t, p.SetOverride(ctx, "home1", "ac1", &future))
		// creates a config for a never-configured device
		require.NoError(t, p.SetOverride(ctx, "home1", "fan1", nil))
		require.NoError(t, p.SetOverride(ctx, "home1", "tv1", &past))

		ac, err := p.GetDeviceConfig(ctx, "home1", "ac1")
		require.NoError(t, err)
		assert.True(t, ac.OverrideActive)
		require.NotNil(t, ac.OverrideUntil)
		assert.True(t, future.Equal(*ac.OverrideUntil))
		assert.True(t, ac.IsDelegated)

		fan, err := p.GetDeviceConfig(ctx, "home1", "fan1")
		require.NoError(t, err)
		assert.True(t, fan.OverrideActive)
		assert.False(t, fan.IsDelegated)

		cleared, err := p.ClearOverrides(ctx, "home1", now)
		require.NoError(t, err)
		assert.Equal(t, 2, cleared)

		ac, err = p.GetDeviceConfig(ctx, "home1", "ac1")
		require.NoError(t, err)
		assert.True(t, ac.OverrideActive, "future override survives")

		fan, err = p.GetDeviceConfig(ctx, "home1", "fan1")
		require.NoError(t, err)
		assert.False(t, fan.OverrideActive)
		assert.Nil(t, fan.OverrideUntil)

		cleared, err = p.ClearOverrides(ctx, "home1", future)
		require.NoError(t, err)
		assert.Equal(t, 1, cleared)
	})

	t.Run("Snapshots", func(t *testing.T) {
		first := types.SavedState{
			HomeID:       "home1",
			ApplianceID:  "ac1",
			TriggerClass: types.TriggerClassStrategy,
			Trigger:      types.TriggerPeakTariff,
			Action:       types.PreferredActionTurnOff,
			PrevStatus:   types.ApplianceStatusOn,
			PrevEcoMode:  false,
			SavedAt:      now,
		}
		saved, created, err := p.UpsertSnapshot(ctx, first)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEmpty(t, saved.ID)
		assert.True(t, saved.Live())

		second := first
		second.PrevStatus = types.ApplianceStatusOff
		second.PrevEcoMode = true
		second.SavedAt = now.Add(time.Minute)
		again, created, err := p.UpsertSnapshot(ctx, second)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, saved.ID, again.ID)
		assert.Equal(t, types.ApplianceStatusOn, again.PrevStatus, "first pre-action state is kept")
		assert.False(t, again.PrevEcoMode)

		grid := first
		grid.TriggerClass = types.TriggerClassGridEvent
		grid.Trigger = types.TriggerGridEvent
		_, created, err = p.UpsertSnapshot(ctx, grid)
		require.NoError(t, err)
		assert.True(t, created, "grid snapshots are a separate pool")

		live, err := p.ListUnrestoredSnapshots(ctx, "home1", types.SnapshotFilter{})
		require.NoError(t, err)
		assert.Len(t, live, 2)

		strategy, err := p.ListUnrestoredSnapshots(ctx, "home1", types.SnapshotFilter{Exclude: types.TriggerClassGridEvent})
		require.NoError(t, err)
		require.Len(t, strategy, 1)
		assert.Equal(t, types.TriggerClassStrategy, strategy[0].TriggerClass)

		gridOnly, err := p.ListUnrestoredSnapshots(ctx, "home1", types.SnapshotFilter{Only: types.TriggerClassGridEvent})
		require.NoError(t, err)
		require.Len(t, gridOnly, 1)

		restoredAt := now.Add(2 * time.Hour)
		require.NoError(t, p.MarkSnapshotRestored(ctx, "home1", saved.ID, restoredAt))
		// second restore is a no-op
		require.NoError(t, p.MarkSnapshotRestored(ctx, "home1", saved.ID, restoredAt.Add(time.Hour)))

		strategy, err = p.ListUnrestoredSnapshots(ctx, "home1", types.SnapshotFilter{Exclude: types.TriggerClassGridEvent})
		require.NoError(t, err)
		assert.Empty(t, strategy)

		// a restored key can be reused
		revived, created, err := p.UpsertSnapshot(ctx, second)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, saved.ID, revived.ID)
		assert.True(t, revived.Live())
		assert.Equal(t, types.ApplianceStatusOff, revived.PrevStatus)
	})

	t.Run("ActionLogs", func(t *testing.T) {
		latest, err := p.GetLatestActionLog(ctx, "home1", "nothing")
		require.NoError(t, err)
		assert.Nil(t, latest)

		entries := []types.ActionLog{
			{HomeID: "home1", ApplianceID: "ac1", Actor: types.ActorAutopilot, Action: types.ActionTurnOff, Trigger: "autopilot_peak_tariff", Result: types.ActionResultSuccess, Latency: 120 * time.Millisecond, Timestamp: now},
			{HomeID: "home1", ApplianceID: "ac1", Actor: types.ActorUser, Action: types.ActionTurnOn, Trigger: "user", Result: types.ActionResultSuccess, Timestamp: now.Add(time.Minute)},
			{HomeID: "home1", ApplianceID: "geyser1", Actor: types.ActorAutopilot, Action: types.ActionTurnOff, Result: types.ActionResultFailed, Error: "timeout", SubstitutedFrom: types.PreferredActionEcoMode, Timestamp: now.Add(2 * time.Minute)},
		}
		for _, e := range entries {
			require.NoError(t, p.AppendActionLog(ctx, e))
		}

		latest, err = p.GetLatestActionLog(ctx, "home1", "ac1")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, types.ActorUser, latest.Actor)
		assert.Equal(t, types.ActionTurnOn, latest.Action)

		history, err := p.GetActionHistory(ctx, "home1", now, now.Add(2*time.Minute))
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, 120*time.Millisecond, history[0].Latency)

		all, err := p.GetActionHistory(ctx, "home1", now.Add(-time.Hour), now.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, types.ActionResultFailed, all[2].Result)
		assert.Equal(t, "timeout", all[2].Error)
		assert.Equal(t, types.PreferredActionEcoMode, all[2].SubstitutedFrom)

		tail, err := p.GetActionHistory(ctx, "home1", now.Add(time.Minute), now.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, tail, 2)
		assert.Equal(t, types.ActorUser, tail[0].Actor)

		none, err := p.GetActionHistory(ctx, "home1", now.Add(time.Hour), now.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, none)

		other, err := p.GetActionHistory(ctx, "home2", now.Add(-time.Hour), now.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("Rules", func(t *testing.T) {
		require.NoError(t, p.PutRule(ctx, types.AutomationRule{ID: "r1", HomeID: "home1", Name: "Peak AC", ConditionType: "peak_tariff", Action: "turn_off", TargetApplianceIDs: []string{"ac1", "geyser"}, IsActive: true}))
		require.NoError(t, p.PutRule(ctx, types.AutomationRule{ID: "r2", HomeID: "home1", Name: "Disabled", IsActive: false}))

		require.NoError(t, p.SetRulesTriggered(ctx, "home1", true, now))
		rules, err := p.ListRules(ctx, "home1")
		require.NoError(t, err)
		require.Len(t, rules, 2)
		assert.True(t, rules[0].IsTriggered)
		require.NotNil(t, rules[0].LastTriggeredAt)
		assert.False(t, rules[1].IsTriggered)
		assert.Equal(t, []string{"ac1", "geyser"}, rules[0].TargetApplianceIDs)
		assert.Empty(t, rules[1].TargetApplianceIDs)

		require.NoError(t, p.PutRule(ctx, types.AutomationRule{ID: "r1", HomeID: "home1", Name: "Peak AC", ConditionType: "peak_tariff", Action: "turn_off", TargetApplianceIDs: []string{"ac1"}, IsActive: true}))
		rules, err = p.ListRules(ctx, "home1")
		require.NoError(t, err)
		assert.Equal(t, []string{"ac1"}, rules[0].TargetApplianceIDs)

		require.NoError(t, p.SetRulesTriggered(ctx, "home1", false, now))
		rules, err = p.ListRules(ctx, "home1")
		require.NoError(t, err)
		for _, r := range rules {
			assert.False(t, r.IsTriggered)
		}
	})
}

func TestSQLProviderConcurrentSnapshots(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "autopilot.db") + "?_pragma=busy_timeout(10000)&_txlock=immediate"

	// separate providers hold separate connections to the same file
	var providers []*SQLProvider
	for range 4 {
		p := NewSQLProvider("sqlite", dsn)
		require.NoError(t, p.Init(ctx))
		t.Cleanup(func() { p.Close() })
		providers = append(providers, p)
	}

	statuses := []types.ApplianceStatus{
		types.ApplianceStatusOn,
		types.ApplianceStatusWarning,
		types.ApplianceStatusScheduled,
		types.ApplianceStatusOff,
	}
	now := time.Date(2024, 6, 1, 19, 0, 0, 0, time.UTC)

	const n = 16
	type outcome struct {
		saved   types.SavedState
		created bool
		sent    types.ApplianceStatus
		err     error
	}
	results := make([]outcome, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			sent := statuses[i%len(statuses)]
			saved, created, err := providers[i%len(providers)].UpsertSnapshot(ctx, types.SavedState{
				HomeID:       "home1",
				ApplianceID:  "ac1",
				TriggerClass: types.TriggerClassStrategy,
				Trigger:      types.TriggerPeakTariff,
				Action:       types.PreferredActionTurnOff,
				PrevStatus:   sent,
				PrevEcoMode:  i%2 == 0,
				SavedAt:      now.Add(time.Duration(i) * time.Second),
			})
			results[i] = outcome{saved: saved, created: created, sent: sent, err: err}
		}()
	}
	close(start)
	wg.Wait()

	live, err := providers[0].ListUnrestoredSnapshots(ctx, "home1", types.SnapshotFilter{})
	require.NoError(t, err)
	require.Len(t, live, 1)

	var winners int
	for i, r := range results {
		require.NoError(t, r.err, "upsert %d", i)
		assert.Equal(t, live[0].ID, r.saved.ID)
		assert.Equal(t, live[0].PrevStatus, r.saved.PrevStatus, "every caller sees the first state")
		if r.created {
			winners++
			assert.Equal(t, r.sent, live[0].PrevStatus)
			assert.Equal(t, i%2 == 0, live[0].PrevEcoMode)
		}
	}
	assert.Equal(t, 1, winners)
}
