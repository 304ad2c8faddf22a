package autopilot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raterudder/autopilot/pkg/log"
	"github.com/raterudder/autopilot/pkg/types"
)

// runLegacyRules executes the home's active peak-tariff rules against their
// target appliances. It only runs for homes without a delegated device, so
// older homes keep their automation. An appliance targeted by several rules
// is acted on once, by the first rule in ID order.
func (e *Engine) runLegacyRules(ctx context.Context, hs homeState) (Summary, error) {
	var sum Summary
	rules, err := e.db.ListRules(ctx, hs.home.ID)
	if err != nil {
		return sum, fmt.Errorf("failed to list rules: %w", err)
	}

	seen := make(map[string]bool)
	for _, r := range rules {
		if !r.IsActive || r.ConditionType != types.RuleConditionPeakTariff {
			continue
		}
		action, ok := r.PreferredAction()
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "skipping rule with unsupported action", slog.String("ruleID", r.ID), slog.String("action", r.Action))
			continue
		}
		for _, id := range r.TargetApplianceIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			res, err := e.execute(log.WithAttrs(ctx, slog.String("applianceID", id), slog.String("ruleID", r.ID)), hs.now, command{
				homeID:      hs.home.ID,
				applianceID: id,
				action:      action,
				class:       types.TriggerClassStrategy,
				trigger:     types.TriggerPeakTariff,
				logTrigger:  "autopilot_peak",
				actor:       types.ActorAutopilot,
			})
			if err != nil {
				return sum, err
			}
			sum.add(res)
		}
	}
	return sum, nil
}
