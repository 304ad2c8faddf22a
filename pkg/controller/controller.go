package controller

import (
	"context"
	"log/slog"
	"time"

	"github.com/raterudder/autopilot/pkg/log"
	"github.com/raterudder/autopilot/pkg/penalty"
	"github.com/raterudder/autopilot/pkg/types"
)

// Reason explains why a device is or is not eligible for automated action.
type Reason string

const (
	ReasonNotDelegated    Reason = "notDelegated"
	ReasonOverrideActive  Reason = "overrideActive"
	ReasonProtectedWindow Reason = "protectedWindow"
	ReasonBelowThreshold  Reason = "belowThreshold"
	ReasonAboveThreshold  Reason = "aboveThreshold"
)

// Decision represents the result of the eligibility logic.
type Decision struct {
	Act    bool
	Reason Reason
}

// Controller decides whether the autopilot may act on a device right now.
type Controller struct {
	threshold float64
}

// NewController creates a new Controller. A non-positive threshold uses
// penalty.Threshold.
func NewController(threshold float64) *Controller {
	if threshold <= 0 {
		threshold = penalty.Threshold
	}
	return &Controller{threshold: threshold}
}

// Threshold returns the penalty above which the controller acts.
func (c *Controller) Threshold() float64 {
	return c.threshold
}

// Decide evaluates the device config against the current penalty. now must
// already be in the home's local time so the protected window is compared
// against the right wall clock.
func (c *Controller) Decide(ctx context.Context, cfg types.DeviceAutopilotConfig, currentPenalty float64, now time.Time) Decision {
	d := Evaluate(cfg, currentPenalty, c.threshold, now)
	log.Ctx(ctx).DebugContext(
		ctx,
		"eligibility decided",
		slog.String("applianceID", cfg.ApplianceID),
		slog.Float64("penalty", currentPenalty),
		slog.Bool("act", d.Act),
		slog.String("reason", string(d.Reason)),
	)
	return d
}

// Evaluate applies the eligibility rules in priority order: delegation,
// override, protected window and finally the penalty itself.
func Evaluate(cfg types.DeviceAutopilotConfig, currentPenalty, threshold float64, now time.Time) Decision {
	if !cfg.IsDelegated {
		return Decision{Reason: ReasonNotDelegated}
	}
	if cfg.OverrideInEffect(now) {
		return Decision{Reason: ReasonOverrideActive}
	}
	if cfg.ProtectedWindow != nil && cfg.ProtectedWindow.Contains(now) {
		return Decision{Reason: ReasonProtectedWindow}
	}
	if currentPenalty > threshold {
		return Decision{Act: true, Reason: ReasonAboveThreshold}
	}
	return Decision{Reason: ReasonBelowThreshold}
}

// ShouldAct returns true if the autopilot may act on the device now.
func ShouldAct(cfg types.DeviceAutopilotConfig, currentPenalty, threshold float64, now time.Time) bool {
	return Evaluate(cfg, currentPenalty, threshold, now).Act
}
