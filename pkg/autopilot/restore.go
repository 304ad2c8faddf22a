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

type restorePass struct {
	filter  types.SnapshotFilter
	actor   types.Actor
	trigger string
}

func ecoAction(enabled bool) types.ActionName {
	if enabled {
		return types.ActionEcoModeOn
	}
	return types.ActionEcoModeOff
}

// restore returns every matching live snapshot of the home to its prior
// state. A failed device call leaves its snapshot live for the next pass and
// does not stop the remaining snapshots.
func (e *Engine) restore(ctx context.Context, home types.Home, now time.Time, pass restorePass) (Summary, error) {
	var sum Summary
	snaps, err := e.db.ListUnrestoredSnapshots(ctx, home.ID, pass.filter)
	if err != nil {
		return sum, fmt.Errorf("failed to list snapshots: %w", err)
	}
	for _, s := range snaps {
		res, err := e.restoreOne(log.WithAttrs(ctx, slog.String("applianceID", s.ApplianceID)), s, now, pass)
		if err != nil {
			return sum, err
		}
		sum.add(res)
	}
	return sum, nil
}

func (e *Engine) restoreOne(ctx context.Context, s types.SavedState, now time.Time, pass restorePass) (ActionResult, error) {
	res := ActionResult{HomeID: s.HomeID, ApplianceID: s.ApplianceID}
	markRestored := func(reason string) (ActionResult, error) {
		if err := e.db.MarkSnapshotRestored(ctx, s.HomeID, s.ID, now); err != nil {
			return res, fmt.Errorf("failed to mark snapshot restored: %w", err)
		}
		res.Skipped = true
		res.Reason = reason
		return res, nil
	}

	if !s.PrevStatus.Active() {
		return markRestored("wasInactive")
	}
	a, err := e.db.GetAppliance(ctx, s.HomeID, s.ApplianceID)
	if errors.Is(err, storage.ErrApplianceNotFound) {
		return markRestored("applianceNotFound")
	}
	if err != nil {
		return res, fmt.Errorf("failed to get appliance: %w", err)
	}
	res.ApplianceName = a.Name

	// each step is a device call that is logged on its own
	type step struct {
		action types.ActionName
		fn     func(context.Context, device.Controller) (device.Result, error)
	}
	var steps []step
	if a.Status.Active() {
		if !s.Action.UsesEcoMode() || a.EcoModeEnabled == s.PrevEcoMode {
			return markRestored("alreadyRestored")
		}
		steps = append(steps, step{ecoAction(s.PrevEcoMode), func(ctx context.Context, c device.Controller) (device.Result, error) {
			return c.SetEcoMode(ctx, a, s.PrevEcoMode)
		}})
	} else {
		steps = append(steps, step{types.ActionRestoreOn, func(ctx context.Context, c device.Controller) (device.Result, error) {
			return c.TurnOn(ctx, a)
		}})
		if a.EcoModeEnabled != s.PrevEcoMode {
			on := a
			on.Status = types.ApplianceStatusOn
			steps = append(steps, step{ecoAction(s.PrevEcoMode), func(ctx context.Context, c device.Controller) (device.Result, error) {
				return c.SetEcoMode(ctx, on, s.PrevEcoMode)
			}})
		}
	}

	res.Action = steps[0].action
	for _, st := range steps {
		r, derr := e.call(ctx, a, st.fn)
		entry := types.ActionLog{
			HomeID:      s.HomeID,
			ApplianceID: s.ApplianceID,
			Actor:       pass.actor,
			Action:      st.action,
			Trigger:     pass.trigger,
			Result:      types.ActionResultSuccess,
			Latency:     r.Elapsed,
			Timestamp:   now,
		}
		if derr != nil {
			entry.Result = types.ActionResultFailed
			entry.Error = derr.Error()
		}
		if err := e.db.AppendActionLog(ctx, entry); err != nil {
			return res, fmt.Errorf("failed to append action log: %w", err)
		}
		if derr != nil {
			log.Ctx(ctx).WarnContext(ctx, "restore failed, will retry", slog.String("action", string(st.action)), slog.Any("error", derr))
			res.Action = st.action
			res.Error = derr.Error()
			return res, nil
		}
	}

	if err := e.db.MarkSnapshotRestored(ctx, s.HomeID, s.ID, now); err != nil {
		return res, fmt.Errorf("failed to mark snapshot restored: %w", err)
	}
	res.Success = true
	return res, nil
}
