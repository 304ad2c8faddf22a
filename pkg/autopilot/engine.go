// Package autopilot decides when to act on delegated appliances, applies the
// actions through the device boundary and restores prior state once
// conditions improve.
package autopilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/autopilot/pkg/controller"
	"github.com/raterudder/autopilot/pkg/device"
	"github.com/raterudder/autopilot/pkg/log"
	"github.com/raterudder/autopilot/pkg/notify"
	"github.com/raterudder/autopilot/pkg/penalty"
	"github.com/raterudder/autopilot/pkg/storage"
	"github.com/raterudder/autopilot/pkg/types"
	"github.com/raterudder/autopilot/pkg/utility"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTimezone is used for homes without their own timezone.
	DefaultTimezone = "Asia/Kolkata"

	notifyTimeout = 5 * time.Second
	maxParallel   = 8
)

// ActionResult is the outcome for one appliance in an invocation.
type ActionResult struct {
	HomeID          string                `json:"homeID"`
	ApplianceID     string                `json:"applianceID"`
	ApplianceName   string                `json:"applianceName,omitempty"`
	Action          types.ActionName      `json:"action,omitempty"`
	SubstitutedFrom types.PreferredAction `json:"substitutedFrom,omitempty"`
	Success         bool                  `json:"success"`
	Skipped         bool                  `json:"skipped,omitempty"`
	Reason          string                `json:"reason,omitempty"`
	Error           string                `json:"error,omitempty"`
}

// Summary reports what an invocation did. Counts always reflect partial
// progress, even when an error is also returned.
type Summary struct {
	Actions   []ActionResult `json:"actions"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Skipped   int            `json:"skipped"`
	Penalty   float64        `json:"penalty"`
	Message   string         `json:"message"`
}

func (s *Summary) add(r ActionResult) {
	s.Actions = append(s.Actions, r)
	switch {
	case r.Skipped:
		s.Skipped++
	case r.Success:
		s.Succeeded++
	default:
		s.Failed++
	}
}

func (s *Summary) merge(o Summary) {
	s.Actions = append(s.Actions, o.Actions...)
	s.Succeeded += o.Succeeded
	s.Failed += o.Failed
	s.Skipped += o.Skipped
}

// regionResolver is implemented by providers that know the carbon region of
// a tariff plan.
type regionResolver interface {
	RegionForPlan(planID string) string
}

// Options configures an Engine.
type Options struct {
	DB       storage.Database
	Devices  *device.Map
	Utility  utility.Provider
	Notifier notify.Notifier
	// Location is the default timezone for homes without one.
	Location *time.Location
	// Threshold defaults to penalty.Threshold.
	Threshold float64
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine runs the autopilot for every home. It keeps no per-home state in
// memory; everything it needs between invocations is in the store.
type Engine struct {
	db         storage.Database
	devices    *device.Map
	utility    utility.Provider
	notifier   notify.Notifier
	controller *controller.Controller
	loc        *time.Location
	now        func() time.Time
}

// New creates an Engine from opts.
func New(opts Options) *Engine {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		db:         opts.DB,
		devices:    opts.Devices,
		utility:    opts.Utility,
		notifier:   opts.Notifier,
		controller: controller.NewController(opts.Threshold),
		loc:        loc,
		now:        now,
	}
}

// Configured creates an Engine whose timezone and threshold come from flags.
func Configured(db storage.Database, devices *device.Map, util utility.Provider, n notify.Notifier) *Engine {
	tz := lflag.String("timezone", DefaultTimezone, "Default timezone for homes without one")
	threshold := lflag.String("penalty-threshold", strconv.FormatFloat(penalty.Threshold, 'f', -1, 64), "Penalty above which the autopilot acts")

	e := New(Options{
		DB:       db,
		Devices:  devices,
		Utility:  util,
		Notifier: n,
	})
	lflag.Do(func() {
		loc, err := time.LoadLocation(*tz)
		if err != nil {
			panic(fmt.Sprintf("invalid timezone %q: %v", *tz, err))
		}
		th, err := strconv.ParseFloat(*threshold, 64)
		if err != nil || th <= 0 || th >= 1 {
			panic(fmt.Sprintf("invalid penalty threshold %q", *threshold))
		}
		e.loc = loc
		e.controller = controller.NewController(th)
	})
	return e
}

// Threshold returns the penalty above which the engine acts.
func (e *Engine) Threshold() float64 {
	return e.controller.Threshold()
}

// homeState is everything needed to evaluate one home at one instant.
type homeState struct {
	home     types.Home
	now      time.Time
	timeline []penalty.Entry
	profile  []types.CarbonPoint
}

func (hs homeState) current() penalty.Entry {
	return hs.timeline[hs.now.Hour()]
}

func (e *Engine) regionFor(home types.Home) string {
	if home.RegionCode != "" {
		return home.RegionCode
	}
	if r, ok := e.utility.(regionResolver); ok {
		return r.RegionForPlan(home.TariffPlanID)
	}
	return ""
}

// loadHome reads the home and scores its day. Tariff or carbon lookups that
// fail are treated as missing data.
func (e *Engine) loadHome(ctx context.Context, homeID string) (homeState, error) {
	home, err := e.db.GetHome(ctx, homeID)
	if err != nil {
		return homeState{}, fmt.Errorf("failed to get home: %w", err)
	}
	slots, err := e.utility.TariffSlots(ctx, home.TariffPlanID)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get tariff slots", slog.String("planID", home.TariffPlanID), slog.Any("error", err))
		slots = nil
	}
	profile, err := e.utility.CarbonProfile(ctx, e.regionFor(home))
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get carbon profile", slog.Any("error", err))
		profile = nil
	}
	return homeState{
		home:     home,
		now:      e.now().In(home.Location(e.loc)),
		timeline: penalty.Timeline(slots, profile, home.Strategy),
		profile:  profile,
	}, nil
}

// Outlook is the scored day of a home as seen at one instant.
type Outlook struct {
	HomeID             string          `json:"homeID"`
	CurrentHour        int             `json:"currentHour"`
	Current            penalty.Entry   `json:"current"`
	Threshold          float64         `json:"threshold"`
	Timeline           []penalty.Entry `json:"timeline"`
	DailyAverageCarbon float64         `json:"dailyAverageCarbon"`
	CleanWindow        bool            `json:"cleanWindow"`
	CleanestHours      []int           `json:"cleanestHours"`
	// Optimal is the best window of the requested duration, if one was asked
	// for.
	Optimal *penalty.Window `json:"optimal,omitempty"`
}

// Outlook scores the home's day. A positive windowHours also finds the
// lowest-penalty window of that many hours.
func (e *Engine) Outlook(ctx context.Context, homeID string, windowHours int) (Outlook, error) {
	hs, err := e.loadHome(log.WithHome(ctx, homeID), homeID)
	if err != nil {
		return Outlook{}, err
	}
	o := Outlook{
		HomeID:             homeID,
		CurrentHour:        hs.now.Hour(),
		Current:            hs.current(),
		Threshold:          e.Threshold(),
		Timeline:           hs.timeline,
		DailyAverageCarbon: penalty.DailyAverageCarbon(hs.profile),
		CleanWindow:        penalty.IsCleanWindow(hs.now.Hour(), hs.profile),
	}
	for _, p := range penalty.CleanestHours(hs.profile, 4) {
		o.CleanestHours = append(o.CleanestHours, p.Hour)
	}
	if windowHours > 0 {
		w := penalty.FindOptimalWindow(hs.timeline, windowHours)
		o.Optimal = &w
	}
	return o, nil
}

// History returns the action log for a home within [start, end).
func (e *Engine) History(ctx context.Context, homeID string, start, end time.Time) ([]types.ActionLog, error) {
	return e.db.GetActionHistory(ctx, homeID, start, end)
}

func (e *Engine) sendNotification(ctx context.Context, ev notify.Event) {
	notify.Send(ctx, e.notifier, ev, notifyTimeout)
}

// OnThresholdCrossedHigh acts on every eligible delegated device of the home.
// The penalty is recomputed first and nothing is done if it is no longer
// above the threshold or the autopilot is disabled.
func (e *Engine) OnThresholdCrossedHigh(ctx context.Context, homeID, trigger string) (Summary, error) {
	ctx = log.WithHome(ctx, homeID)
	hs, err := e.loadHome(ctx, homeID)
	if err != nil {
		return Summary{}, err
	}
	cur := hs.current()
	sum := Summary{Penalty: cur.Penalty}
	if !hs.home.AutopilotEnabled {
		sum.Message = "autopilot disabled"
		return sum, nil
	}
	if cur.Penalty <= e.Threshold() {
		sum.Message = fmt.Sprintf("penalty %.3f below threshold", cur.Penalty)
		return sum, nil
	}
	if trigger == "" {
		trigger = triggerFor(cur)
	}

	configs, err := e.db.ListDelegatedConfigs(ctx, homeID)
	if err != nil {
		return sum, fmt.Errorf("failed to list delegated configs: %w", err)
	}
	for _, cfg := range configs {
		res, err := e.actOnDevice(ctx, hs, cfg, trigger)
		if err != nil {
			return sum, err
		}
		sum.add(res)
	}
	legacy := len(configs) == 0
	if legacy {
		rs, err := e.runLegacyRules(ctx, hs)
		sum.merge(rs)
		if err != nil {
			return sum, err
		}
	}

	if sum.Succeeded > 0 {
		if err := e.db.SetRulesTriggered(ctx, homeID, true, hs.now); err != nil {
			return sum, fmt.Errorf("failed to mark rules triggered: %w", err)
		}
		e.sendNotification(ctx, notify.Activated(hs.home, trigger, cur.Penalty, sum.Succeeded, hs.now))
	}
	if legacy {
		sum.Message = fmt.Sprintf("executed %d legacy rule actions (penalty=%.3f)", sum.Succeeded, cur.Penalty)
	} else {
		sum.Message = fmt.Sprintf("executed %d actions (strategy=%s, penalty=%.3f)", sum.Succeeded, hs.home.Strategy, cur.Penalty)
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"autopilot acted",
		slog.String("trigger", trigger),
		slog.Float64("penalty", cur.Penalty),
		slog.Int("succeeded", sum.Succeeded),
		slog.Int("failed", sum.Failed),
		slog.Int("skipped", sum.Skipped),
		slog.Bool("legacyRules", legacy),
	)
	return sum, nil
}

// actOnDevice applies the eligibility rules and user-override detection to a
// single device before executing its preferred action.
func (e *Engine) actOnDevice(ctx context.Context, hs homeState, cfg types.DeviceAutopilotConfig, trigger string) (ActionResult, error) {
	ctx = log.WithAttrs(ctx, slog.String("applianceID", cfg.ApplianceID))
	res := ActionResult{HomeID: hs.home.ID, ApplianceID: cfg.ApplianceID}

	d := e.controller.Decide(ctx, cfg, hs.current().Penalty, hs.now)
	if !d.Act {
		res.Skipped = true
		res.Reason = string(d.Reason)
		return res, nil
	}

	last, err := e.db.GetLatestActionLog(ctx, hs.home.ID, cfg.ApplianceID)
	if err != nil {
		return res, fmt.Errorf("failed to get latest action: %w", err)
	}
	if controller.IsUserOverride(last, hs.now) {
		until := controller.OverrideUntil(hs.timeline, e.Threshold(), hs.now)
		if err := e.db.SetOverride(ctx, hs.home.ID, cfg.ApplianceID, until); err != nil {
			return res, fmt.Errorf("failed to set override: %w", err)
		}
		log.Ctx(ctx).InfoContext(ctx, "user override detected", slog.Any("until", until))
		res.Skipped = true
		res.Reason = "userOverride"
		return res, nil
	}

	return e.execute(ctx, hs.now, command{
		homeID:      hs.home.ID,
		applianceID: cfg.ApplianceID,
		action:      cfg.PreferredAction,
		class:       types.TriggerClassStrategy,
		trigger:     trigger,
		logTrigger:  "autopilot_" + trigger,
		actor:       types.ActorAutopilot,
	})
}

// OnThresholdCrossedLow restores every strategy snapshot of the home, then
// clears overrides that are indefinite or have lapsed and resets the legacy
// rule flags.
func (e *Engine) OnThresholdCrossedLow(ctx context.Context, homeID string) (Summary, error) {
	ctx = log.WithHome(ctx, homeID)
	hs, err := e.loadHome(ctx, homeID)
	if err != nil {
		return Summary{}, err
	}
	sum, err := e.restore(ctx, hs.home, hs.now, restorePass{
		filter:  types.SnapshotFilter{Exclude: types.TriggerClassGridEvent},
		actor:   types.ActorAutopilot,
		trigger: "autopilot_restore",
	})
	sum.Penalty = hs.current().Penalty
	if err != nil {
		return sum, err
	}

	cleared, err := e.db.ClearOverrides(ctx, homeID, hs.now)
	if err != nil {
		return sum, fmt.Errorf("failed to clear overrides: %w", err)
	}
	if err := e.db.SetRulesTriggered(ctx, homeID, false, hs.now); err != nil {
		return sum, fmt.Errorf("failed to reset rules: %w", err)
	}

	if sum.Succeeded > 0 {
		e.sendNotification(ctx, notify.Restored(hs.home, sum.Succeeded, hs.now))
	}
	if len(sum.Actions) == 0 {
		sum.Message = "no state to restore"
	} else {
		sum.Message = fmt.Sprintf("restored %d appliances", sum.Succeeded)
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"autopilot restored",
		slog.Int("succeeded", sum.Succeeded),
		slog.Int("failed", sum.Failed),
		slog.Int("overridesCleared", cleared),
	)
	return sum, nil
}

func triggerFor(cur penalty.Entry) string {
	if cur.SlotType == types.SlotTypePeak {
		return types.TriggerPeakTariff
	}
	return types.TriggerPenaltyThreshold
}

// Tick compares the home's current penalty with the state recorded at the
// previous tick and fires the matching transition. Once the new state is
// recorded the user is told about tariff slot and carbon window changes since
// the previous tick. The first tick for a home only records the state.
func (e *Engine) Tick(ctx context.Context, homeID string) (Summary, error) {
	hs, err := e.loadHome(log.WithHome(ctx, homeID), homeID)
	if err != nil {
		return Summary{}, err
	}
	cur := hs.current()
	above := cur.Penalty > e.Threshold()

	var sum Summary
	switch prev := hs.home.PenaltyAbove; {
	case prev == nil:
		sum.Message = "recorded initial penalty state"
	case !*prev && above:
		sum, err = e.OnThresholdCrossedHigh(ctx, homeID, triggerFor(cur))
	case *prev && !above:
		sum, err = e.OnThresholdCrossedLow(ctx, homeID)
	default:
		sum.Message = "no transition"
	}
	sum.Penalty = cur.Penalty
	if err != nil {
		// leave the recorded state alone so the next tick retries
		return sum, err
	}

	if err := e.db.UpdatePenaltyState(ctx, homeID, above, hs.now); err != nil {
		return sum, fmt.Errorf("failed to update penalty state: %w", err)
	}
	if last := hs.home.PenaltyCheckedAt; last != nil {
		e.notifyTransitions(log.WithHome(ctx, homeID), hs, *last)
	}
	return sum, nil
}

// TickAll ticks every home with the autopilot enabled. A failing home does
// not stop the others; all errors are joined.
func (e *Engine) TickAll(ctx context.Context) (Summary, error) {
	homes, err := e.db.ListHomes(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list homes: %w", err)
	}

	var (
		mu   sync.Mutex
		sum  Summary
		errs []error
	)
	var ticked int
	var g errgroup.Group
	g.SetLimit(maxParallel)
	for _, h := range homes {
		if !h.AutopilotEnabled {
			continue
		}
		ticked++
		g.Go(func() error {
			s, err := e.Tick(ctx, h.ID)
			mu.Lock()
			defer mu.Unlock()
			sum.merge(s)
			if err != nil {
				errs = append(errs, fmt.Errorf("home %s: %w", h.ID, err))
			}
			return nil
		})
	}
	g.Wait()

	sum.Message = fmt.Sprintf("ticked %d homes", ticked)
	return sum, errors.Join(errs...)
}

// RecordUserAction logs an action a person took on an appliance. Commands
// from the app are sent to the device; physical and manual actions already
// happened, so only the stored state is updated. Turning on a device the
// autopilot is holding off marks it overridden right away.
func (e *Engine) RecordUserAction(ctx context.Context, homeID, applianceID string, actor types.Actor, action types.ActionName) (types.ActionLog, error) {
	ctx = log.WithAttrs(log.WithHome(ctx, homeID), slog.String("applianceID", applianceID))
	if !actor.Human() {
		return types.ActionLog{}, fmt.Errorf("%w: actor %q", ErrInvalidAction, actor)
	}
	if action != types.ActionTurnOn && action != types.ActionTurnOff {
		return types.ActionLog{}, fmt.Errorf("%w: action %q", ErrInvalidAction, action)
	}

	hs, err := e.loadHome(ctx, homeID)
	if err != nil {
		return types.ActionLog{}, err
	}
	a, err := e.db.GetAppliance(ctx, homeID, applianceID)
	if err != nil {
		return types.ActionLog{}, fmt.Errorf("failed to get appliance: %w", err)
	}

	entry := types.ActionLog{
		HomeID:      homeID,
		ApplianceID: applianceID,
		Actor:       actor,
		Action:      action,
		Trigger:     "user_" + string(actor),
		Result:      types.ActionResultSuccess,
		Timestamp:   hs.now,
	}

	if actor == types.ActorUser {
		var r device.Result
		if action == types.ActionTurnOn {
			r, err = e.call(ctx, a, func(ctx context.Context, c device.Controller) (device.Result, error) { return c.TurnOn(ctx, a) })
		} else {
			r, err = e.call(ctx, a, func(ctx context.Context, c device.Controller) (device.Result, error) { return c.TurnOff(ctx, a) })
		}
		entry.Latency = r.Elapsed
		if err != nil {
			entry.Result = types.ActionResultFailed
			entry.Error = err.Error()
		}
	} else {
		status := types.ApplianceStatusOff
		if action == types.ActionTurnOn {
			status = types.ApplianceStatusOn
		}
		if err := e.db.UpdateApplianceState(ctx, homeID, applianceID, status, a.EcoModeEnabled, hs.now); err != nil {
			return types.ActionLog{}, fmt.Errorf("failed to update appliance state: %w", err)
		}
	}

	if err := e.db.AppendActionLog(ctx, entry); err != nil {
		return entry, fmt.Errorf("failed to append action log: %w", err)
	}
	if entry.Result != types.ActionResultSuccess || action != types.ActionTurnOn {
		return entry, nil
	}

	live, err := e.db.ListUnrestoredSnapshots(ctx, homeID, types.SnapshotFilter{})
	if err != nil {
		return entry, fmt.Errorf("failed to list snapshots: %w", err)
	}
	for _, s := range live {
		if s.ApplianceID != applianceID {
			continue
		}
		until := controller.OverrideUntil(hs.timeline, e.Threshold(), hs.now)
		if err := e.db.SetOverride(ctx, homeID, applianceID, until); err != nil {
			return entry, fmt.Errorf("failed to set override: %w", err)
		}
		log.Ctx(ctx).InfoContext(ctx, "user turned on an automated device, override set", slog.Any("until", until))
		break
	}
	return entry, nil
}
