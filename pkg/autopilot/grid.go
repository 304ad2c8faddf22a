package autopilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raterudder/autopilot/pkg/log"
	"github.com/raterudder/autopilot/pkg/notify"
	"github.com/raterudder/autopilot/pkg/storage"
	"github.com/raterudder/autopilot/pkg/types"
	"golang.org/x/sync/errgroup"
)

// GridHealth is the overall state of the grid derived from active events.
type GridHealth string

const (
	GridNormal   GridHealth = "normal"
	GridStressed GridHealth = "stressed"
	GridCritical GridHealth = "critical"
)

// GridStatus returns the health implied by the events active at now. Events
// that have not started or whose end time has passed are ignored.
func GridStatus(events []types.GridEvent, now time.Time) GridHealth {
	status := GridNormal
	for _, ev := range events {
		if ev.StartTime.After(now) || ev.Expired(now) {
			continue
		}
		switch ev.Severity {
		case types.GridSeverityCritical:
			return GridCritical
		case types.GridSeverityWarning:
			status = GridStressed
		}
	}
	return status
}

// gridHomes returns the given homes, or every home with grid protection
// enabled when homeIDs is empty.
func (e *Engine) gridHomes(ctx context.Context, homeIDs []string) ([]types.Home, error) {
	if len(homeIDs) > 0 {
		homes := make([]types.Home, 0, len(homeIDs))
		for _, id := range homeIDs {
			h, err := e.db.GetHome(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("failed to get home %s: %w", id, err)
			}
			homes = append(homes, h)
		}
		return homes, nil
	}
	all, err := e.db.ListHomes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list homes: %w", err)
	}
	var homes []types.Home
	for _, h := range all {
		if h.GridProtectionEnabled {
			homes = append(homes, h)
		}
	}
	return homes, nil
}

// forEachHome runs fn for every home in parallel and merges the summaries.
// The first error cancels the remaining homes.
func (e *Engine) forEachHome(ctx context.Context, homes []types.Home, fn func(context.Context, types.Home) (Summary, error)) (Summary, error) {
	var (
		mu  sync.Mutex
		sum Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for _, h := range homes {
		g.Go(func() error {
			s, err := fn(log.WithHome(gctx, h.ID), h)
			mu.Lock()
			sum.merge(s)
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("home %s: %w", h.ID, err)
			}
			return nil
		})
	}
	err := g.Wait()
	return sum, err
}

// OnGridEvent switches off the delegated appliances of the affected homes
// for warning and critical events. Grid protection ignores strategy,
// penalty and protected windows but never overrides a person.
func (e *Engine) OnGridEvent(ctx context.Context, event types.GridEvent, homeIDs []string) (Summary, error) {
	ctx = log.WithAttrs(ctx, slog.String("gridEventID", event.ID), slog.String("severity", string(event.Severity)))
	if !event.Severity.Actionable() {
		log.Ctx(ctx).InfoContext(ctx, "info-level grid event, no action needed", slog.String("message", event.Message))
		return Summary{Message: "info-level event, no action taken"}, nil
	}

	homes, err := e.gridHomes(ctx, homeIDs)
	if err != nil {
		return Summary{}, err
	}
	sum, err := e.forEachHome(ctx, homes, func(ctx context.Context, h types.Home) (Summary, error) {
		return e.protectHome(ctx, h, event)
	})
	sum.Message = fmt.Sprintf("grid protection: %d actions across %d home(s)", sum.Succeeded+sum.Failed, len(homes))
	return sum, err
}

func (e *Engine) protectHome(ctx context.Context, home types.Home, event types.GridEvent) (Summary, error) {
	var sum Summary
	now := e.now().In(home.Location(e.loc))

	configs, err := e.db.ListDelegatedConfigs(ctx, home.ID)
	if err != nil {
		return sum, fmt.Errorf("failed to list delegated configs: %w", err)
	}
	for _, cfg := range configs {
		res := ActionResult{HomeID: home.ID, ApplianceID: cfg.ApplianceID, Skipped: true}
		if cfg.OverrideInEffect(now) {
			res.Reason = "overrideActive"
			sum.add(res)
			continue
		}
		a, err := e.db.GetAppliance(ctx, home.ID, cfg.ApplianceID)
		if errors.Is(err, storage.ErrApplianceNotFound) {
			res.Reason = "applianceNotFound"
			sum.add(res)
			continue
		}
		if err != nil {
			return sum, fmt.Errorf("failed to get appliance: %w", err)
		}
		if a.Status == types.ApplianceStatusOff {
			res.Reason = "alreadyOff"
			sum.add(res)
			continue
		}
		if !a.IsControllable {
			res.Reason = "notControllable"
			sum.add(res)
			continue
		}

		res, err = e.execute(log.WithAttrs(ctx, slog.String("applianceID", a.ID)), now, command{
			homeID:      home.ID,
			applianceID: a.ID,
			action:      types.PreferredActionTurnOff,
			class:       types.TriggerClassGridEvent,
			trigger:     types.TriggerGridEvent,
			logTrigger:  types.TriggerGridEvent,
			actor:       types.ActorGridProtection,
			logAction:   types.ActionEmergencyOff,
		})
		if err != nil {
			return sum, err
		}
		sum.add(res)
	}

	if sum.Succeeded > 0 {
		e.sendNotification(ctx, notify.GridProtection(home, event, sum.Succeeded, now))
	}
	log.Ctx(ctx).InfoContext(ctx, "grid protection applied", slog.Int("succeeded", sum.Succeeded), slog.Int("failed", sum.Failed))
	return sum, nil
}

// OnGridEventCleared restores the grid snapshots of the affected homes.
// Strategy snapshots and overrides are left alone.
func (e *Engine) OnGridEventCleared(ctx context.Context, event types.GridEvent, homeIDs []string) (Summary, error) {
	ctx = log.WithAttrs(ctx, slog.String("gridEventID", event.ID))

	var homes []types.Home
	var err error
	if len(homeIDs) > 0 {
		homes, err = e.gridHomes(ctx, homeIDs)
	} else {
		// a home may have disabled protection since it was protected
		homes, err = e.db.ListHomes(ctx)
		if err != nil {
			err = fmt.Errorf("failed to list homes: %w", err)
		}
	}
	if err != nil {
		return Summary{}, err
	}

	sum, err := e.forEachHome(ctx, homes, func(ctx context.Context, h types.Home) (Summary, error) {
		now := e.now().In(h.Location(e.loc))
		s, err := e.restore(ctx, h, now, restorePass{
			filter:  types.SnapshotFilter{Only: types.TriggerClassGridEvent},
			actor:   types.ActorGridProtection,
			trigger: types.TriggerGridEvent + "_cleared",
		})
		if err == nil && s.Succeeded > 0 {
			e.sendNotification(ctx, notify.GridRestored(h, s.Succeeded, now))
		}
		return s, err
	})
	sum.Message = fmt.Sprintf("restored %d appliances after grid event", sum.Succeeded)
	return sum, err
}
