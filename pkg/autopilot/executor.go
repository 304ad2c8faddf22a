package autopilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raterudder/autopilot/pkg/device"
	"github.com/raterudder/autopilot/pkg/log"
	"github.com/raterudder/autopilot/pkg/storage"
	"github.com/raterudder/autopilot/pkg/types"
)

// ErrInvalidAction is returned for user actions the engine does not record.
var ErrInvalidAction = errors.New("invalid action")

// command is a single automated action on one appliance.
type command struct {
	homeID      string
	applianceID string
	action      types.PreferredAction
	class       types.TriggerClass
	// trigger is stored on the snapshot, logTrigger on the action log.
	trigger    string
	logTrigger string
	actor      types.Actor
	// logAction replaces the action name derived from action when set.
	logAction types.ActionName
}

// call runs fn against the appliance's controller with the configured
// per-command timeout. A Result without Success is reported as an error.
func (e *Engine) call(ctx context.Context, a types.Appliance, fn func(context.Context, device.Controller) (device.Result, error)) (device.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.devices.Timeout())
	defer cancel()

	start := time.Now()
	r, err := fn(ctx, e.devices.For(a))
	if r.Elapsed == 0 {
		r.Elapsed = time.Since(start)
	}
	if err == nil && !r.Success {
		err = fmt.Errorf("device reported failure: %s", r.Message)
	}
	return r, err
}

// alreadyApplied reports whether the appliance is already in the state the
// action would put it in. An appliance that is not drawing power is never
// touched, eco actions included, since restoring it only turns things back on.
func alreadyApplied(a types.Appliance, action types.PreferredAction) bool {
	if !a.Status.Active() {
		return true
	}
	if action.UsesEcoMode() {
		return a.EcoModeEnabled
	}
	return false
}

// execute applies cmd to the appliance. The appliance is re-read, eco actions
// fall back to turning off when the appliance has no eco mode, the prior
// state is snapshotted before the device is touched and the attempt is always
// logged. Device failures are reported in the result; only store failures
// are returned as errors.
func (e *Engine) execute(ctx context.Context, now time.Time, cmd command) (ActionResult, error) {
	res := ActionResult{HomeID: cmd.homeID, ApplianceID: cmd.applianceID}

	a, err := e.db.GetAppliance(ctx, cmd.homeID, cmd.applianceID)
	if errors.Is(err, storage.ErrApplianceNotFound) {
		res.Skipped = true
		res.Reason = "applianceNotFound"
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("failed to get appliance: %w", err)
	}
	res.ApplianceName = a.Name
	if !a.IsControllable {
		res.Skipped = true
		res.Reason = "notControllable"
		return res, nil
	}

	action := cmd.action
	if action == "" {
		action = types.PreferredActionTurnOff
	}
	if action.UsesEcoMode() && !a.SupportsEcoMode() {
		res.SubstitutedFrom = action
		action = types.PreferredActionTurnOff
	}
	res.Action = action.ActionName()
	if cmd.logAction != "" {
		res.Action = cmd.logAction
	}
	if alreadyApplied(a, action) {
		res.Skipped = true
		res.Reason = "alreadyApplied"
		return res, nil
	}

	_, created, err := e.db.UpsertSnapshot(ctx, types.SavedState{
		HomeID:       cmd.homeID,
		ApplianceID:  cmd.applianceID,
		TriggerClass: cmd.class,
		Trigger:      cmd.trigger,
		Action:       action,
		PrevStatus:   a.Status,
		PrevEcoMode:  a.EcoModeEnabled,
		SavedAt:      now,
	})
	if err != nil {
		return res, fmt.Errorf("failed to save snapshot: %w", err)
	}
	if !created {
		log.Ctx(ctx).DebugContext(ctx, "kept existing snapshot", slog.String("triggerClass", string(cmd.class)))
	}

	r, derr := e.call(ctx, a, func(ctx context.Context, c device.Controller) (device.Result, error) {
		if action.UsesEcoMode() {
			return c.SetEcoMode(ctx, a, true)
		}
		return c.TurnOff(ctx, a)
	})

	entry := types.ActionLog{
		HomeID:          cmd.homeID,
		ApplianceID:     cmd.applianceID,
		Actor:           cmd.actor,
		Action:          res.Action,
		Trigger:         cmd.logTrigger,
		Result:          types.ActionResultSuccess,
		Latency:         r.Elapsed,
		SubstitutedFrom: res.SubstitutedFrom,
		Timestamp:       now,
	}
	if derr != nil {
		entry.Result = types.ActionResultFailed
		entry.Error = derr.Error()
		res.Error = derr.Error()
		log.Ctx(ctx).WarnContext(ctx, "device command failed", slog.String("action", string(res.Action)), slog.Any("error", derr))
	} else {
		res.Success = true
	}
	if err := e.db.AppendActionLog(ctx, entry); err != nil {
		return res, fmt.Errorf("failed to append action log: %w", err)
	}
	return res, nil
}
