package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/raterudder/autopilot/pkg/autopilot"
	"github.com/raterudder/autopilot/pkg/log"
	"github.com/raterudder/autopilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

const testSeed = `
homes:
  - id: home1
    userID: user1
    tariffPlanID: sbpdcl-tod
    timezone: Asia/Kolkata
    strategy: maxSavings
    autopilotEnabled: true
    gridProtectionEnabled: true
    appliances:
      - id: ac1
        name: Bedroom AC
        category: ac
        status: "ON"
        isControllable: true
        autopilot:
          isDelegated: true
          preferredAction: ecoMode
      - id: geyser
        category: geyser
        status: "ON"
        isControllable: true
        autopilot:
          isDelegated: true
          preferredAction: ecoMode
      - id: fridge
        category: refrigerator
        status: "ON"
        isControllable: true
        autopilot:
          isDelegated: true
          protectedWindow: {start: "00:00", end: "23:59"}
    rules:
      - id: r1
        name: evening peak
        conditionType: peak_tariff
        action: turn_off
        targetApplianceIDs: [geyser]
        isActive: true
`

type harness struct {
	t    *testing.T
	dsn  string
	seed string
}

func newHarness(t *testing.T) *harness {
	dir := t.TempDir()
	seed := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(testSeed), 0o600))
	return &harness{t: t, dsn: filepath.Join(dir, "autopilot.db"), seed: seed}
}

func (h *harness) run(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--dsn", h.dsn}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, out)
	return out
}

func (h *harness) summary(args ...string) autopilot.Summary {
	h.t.Helper()
	var sum autopilot.Summary
	require.NoError(h.t, json.Unmarshal([]byte(h.mustRun(append([]string{"--json"}, args...)...)), &sum))
	return sum
}

const (
	beforePeak = "2025-06-01T17:00:00+05:30"
	duringPeak = "2025-06-01T19:30:00+05:30"
	afterPeak  = "2025-06-01T22:10:00+05:30"
)

func TestParseSeed(t *testing.T) {
	f, err := parseSeed([]byte(testSeed))
	require.NoError(t, err)
	require.Len(t, f.Homes, 1)
	h := f.Homes[0]
	assert.Equal(t, types.StrategyMaxSavings, h.Strategy)
	require.Len(t, h.Appliances, 3)
	require.NotNil(t, h.Appliances[2].Autopilot.ProtectedWindow)
	assert.Equal(t, 23, h.Appliances[2].Autopilot.ProtectedWindow.End.Hour)
	require.Len(t, h.Rules, 1)
	assert.Equal(t, []string{"geyser"}, h.Rules[0].TargetApplianceIDs)

	_, err = parseSeed([]byte("homes: [{userID: x}]"))
	assert.ErrorContains(t, err, "missing id")
	_, err = parseSeed([]byte("homes: []"))
	assert.ErrorContains(t, err, "no homes")

	f, err = parseSeed([]byte("homes: [{id: h, appliances: [{id: a}]}]"))
	require.NoError(t, err)
	assert.Equal(t, types.StrategyBalanced, f.Homes[0].Strategy)
	assert.Equal(t, types.ApplianceStatusOff, f.Homes[0].Appliances[0].Status)
}

func TestStrategyCycle(t *testing.T) {
	h := newHarness(t)
	assert.Contains(t, h.mustRun("seed", h.seed), "seeded 1 home(s), 3 appliance(s)")

	sum := h.summary("--at", beforePeak, "tick", "--home", "home1")
	assert.Equal(t, "recorded initial penalty state", sum.Message)

	sum = h.summary("--at", duringPeak, "tick", "--home", "home1")
	assert.Equal(t, 1.0, sum.Penalty)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 1, sum.Skipped)
	for _, r := range sum.Actions {
		switch r.ApplianceID {
		case "ac1":
			assert.Equal(t, types.ActionEcoModeOn, r.Action)
		case "geyser":
			assert.Equal(t, types.ActionTurnOff, r.Action)
			assert.Equal(t, types.PreferredActionEcoMode, r.SubstitutedFrom)
		case "fridge":
			assert.Equal(t, "protectedWindow", r.Reason)
		}
	}

	sum = h.summary("--at", afterPeak, "tick", "--home", "home1")
	assert.Equal(t, 2, sum.Succeeded)

	out := h.mustRun("--at", afterPeak, "history", "--home", "home1")
	assert.Contains(t, out, "autopilot_peak_tariff")
	assert.Contains(t, out, "restore_on")
	assert.Contains(t, out, "eco_mode_off")
}

func TestGridCycle(t *testing.T) {
	h := newHarness(t)
	h.mustRun("seed", h.seed)

	sum := h.summary("--at", beforePeak, "grid", "--id", "ev1", "--severity", "critical")
	// grid protection ignores protected windows
	assert.Equal(t, 3, sum.Succeeded)

	sum = h.summary("--at", beforePeak, "low", "--home", "home1")
	assert.Empty(t, sum.Actions, "strategy restore leaves grid snapshots alone")

	sum = h.summary("--at", afterPeak, "grid-clear", "--id", "ev1")
	assert.Equal(t, 3, sum.Succeeded)

	_, err := h.run("grid", "--id", "ev2", "--severity", "extreme")
	assert.ErrorContains(t, err, "invalid severity")
}

func TestTimeline(t *testing.T) {
	h := newHarness(t)
	h.mustRun("seed", h.seed)

	var o autopilot.Outlook
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("--json", "--at", duringPeak, "timeline", "--home", "home1", "--hours", "4")), &o))
	assert.Equal(t, 19, o.CurrentHour)
	assert.Len(t, o.Timeline, 24)
	require.NotNil(t, o.Optimal)
	assert.Equal(t, 0, o.Optimal.StartHour)

	out := h.mustRun("--at", duringPeak, "timeline", "--home", "home1")
	assert.Contains(t, out, "19:00")
	assert.Contains(t, out, "Critical")

	_, err := h.run("timeline", "--home", "nope")
	assert.Error(t, err)
}
