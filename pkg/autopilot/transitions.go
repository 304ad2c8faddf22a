package autopilot

import (
	"context"
	"log/slog"
	"time"

	"github.com/raterudder/autopilot/pkg/log"
	"github.com/raterudder/autopilot/pkg/notify"
	"github.com/raterudder/autopilot/pkg/penalty"
	"github.com/raterudder/autopilot/pkg/types"
)

const (
	// heavyLoadW is the rated power from which an appliance is named in
	// tariff and carbon tips.
	heavyLoadW       = 500
	maxTipAppliances = 5
)

// notifyTransitions tells the user when the tariff slot or the clean carbon
// window changed since the home was last checked at last. Checks within the
// same clock hour never notify.
func (e *Engine) notifyTransitions(ctx context.Context, hs homeState, last time.Time) {
	last = last.In(hs.now.Location())
	if hs.now.Sub(last) < time.Hour && last.Hour() == hs.now.Hour() {
		return
	}
	prev, cur := hs.timeline[last.Hour()], hs.current()

	switch {
	case cur.SlotType == types.SlotTypePeak && prev.SlotType != types.SlotTypePeak:
		e.sendNotification(ctx, notify.PeakStarted(hs.home, cur.Rate, hs.now))
	case prev.SlotType == types.SlotTypePeak && cur.SlotType != types.SlotTypePeak:
		e.sendNotification(ctx, notify.PeakEnded(hs.home, cur.Rate, cur.SlotType, hs.now))
	}

	wasClean := penalty.IsCleanWindow(last.Hour(), hs.profile)
	isClean := penalty.IsCleanWindow(hs.now.Hour(), hs.profile)
	if wasClean == isClean {
		return
	}
	appliances, err := e.db.ListAppliances(ctx, hs.home.ID)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to list appliances for carbon tip", slog.Any("error", err))
		return
	}
	if isClean {
		names := heavyAppliances(appliances, false)
		e.sendNotification(ctx, notify.CleanEnergy(hs.home, cur.Rate, cur.GCO2, cur.SlotType == types.SlotTypeOffPeak, names, hs.now))
		return
	}
	if names := heavyAppliances(appliances, true); len(names) > 0 {
		e.sendNotification(ctx, notify.HighCarbon(hs.home, cur.GCO2, names, hs.now))
	}
}

// heavyAppliances names up to maxTipAppliances heavy appliances that are
// drawing power, or idle ones when active is false.
func heavyAppliances(appliances []types.Appliance, active bool) []string {
	var names []string
	for _, a := range appliances {
		if a.RatedPowerW < heavyLoadW || a.Status.Active() != active {
			continue
		}
		name := a.Name
		if name == "" {
			name = a.ID
		}
		names = append(names, name)
		if len(names) == maxTipAppliances {
			break
		}
	}
	return names
}
