// Package notify delivers autopilot notifications to users. Delivery is best
// effort: callers log failures and never retry.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/raterudder/autopilot/pkg/log"
	"github.com/raterudder/autopilot/pkg/types"
)

// Kind classifies a notification.
type Kind string

const (
	KindActivated      Kind = "autopilot_activated"
	KindRestored       Kind = "autopilot_restored"
	KindGridProtection Kind = "grid_protection"
	KindGridRestored   Kind = "grid_restored"
	KindPeakStarted    Kind = "peak_started"
	KindPeakEnded      Kind = "peak_ended"
	KindCleanEnergy    Kind = "clean_energy"
	KindHighCarbon     Kind = "high_carbon_warning"
)

// Event is a single user-facing notification.
type Event struct {
	Kind      Kind           `json:"kind"`
	HomeID    string         `json:"homeID"`
	UserID    string         `json:"userID,omitempty"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Trigger   string         `json:"trigger,omitempty"`
	Strategy  types.Strategy `json:"strategy,omitempty"`
	Penalty   float64        `json:"penalty"`
	Rate      float64        `json:"rate,omitempty"`
	GCO2      float64        `json:"gCO2,omitempty"`
	Count     int            `json:"count"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notifier sends notifications.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

var strategyLabels = map[types.Strategy]string{
	types.StrategyBalanced:   "Balanced",
	types.StrategyMaxSavings: "Max Savings",
	types.StrategyEcoMode:    "Eco Mode",
}

var triggerLabels = map[string]string{
	types.TriggerPeakTariff:       "Peak tariff detected",
	types.TriggerHighCarbon:       "High carbon intensity",
	types.TriggerPenaltyThreshold: "High penalty score",
	types.TriggerGridEvent:        "Grid stress event",
}

func label(m map[string]string, k string) string {
	if v, ok := m[k]; ok {
		return v
	}
	return k
}

// Activated builds the notification sent after the autopilot acted on count
// appliances.
func Activated(home types.Home, trigger string, pen float64, count int, at time.Time) Event {
	sl, ok := strategyLabels[home.Strategy]
	if !ok {
		sl = string(home.Strategy)
	}
	return Event{
		Kind:      KindActivated,
		HomeID:    home.ID,
		UserID:    home.UserID,
		Title:     fmt.Sprintf("Autopilot: %s Mode Active", sl),
		Message:   fmt.Sprintf("%s, managed %d appliance(s).", label(triggerLabels, trigger), count),
		Trigger:   trigger,
		Strategy:  home.Strategy,
		Penalty:   pen,
		Count:     count,
		Timestamp: at,
	}
}

// Restored builds the notification sent after appliances were restored.
func Restored(home types.Home, count int, at time.Time) Event {
	return Event{
		Kind:      KindRestored,
		HomeID:    home.ID,
		UserID:    home.UserID,
		Title:     "Autopilot: Conditions Improved, Restored",
		Message:   fmt.Sprintf("Restored %d appliance(s) to normal operation.", count),
		Strategy:  home.Strategy,
		Count:     count,
		Timestamp: at,
	}
}

// GridProtection builds the notification sent after appliances were switched
// off for a grid event.
func GridProtection(home types.Home, event types.GridEvent, count int, at time.Time) Event {
	msg := fmt.Sprintf("Switched off %d appliance(s) during a %s grid event.", count, event.Severity)
	if event.Message != "" {
		msg += " " + event.Message
	}
	return Event{
		Kind:      KindGridProtection,
		HomeID:    home.ID,
		UserID:    home.UserID,
		Title:     "Grid Protection Activated",
		Message:   msg,
		Trigger:   types.TriggerGridEvent,
		Count:     count,
		Timestamp: at,
	}
}

// GridRestored builds the notification sent after a grid event cleared.
func GridRestored(home types.Home, count int, at time.Time) Event {
	return Event{
		Kind:      KindGridRestored,
		HomeID:    home.ID,
		UserID:    home.UserID,
		Title:     "Grid Event Cleared",
		Message:   fmt.Sprintf("Restored %d appliance(s) after the grid event.", count),
		Trigger:   types.TriggerGridEvent,
		Count:     count,
		Timestamp: at,
	}
}

// PeakStarted builds the notification sent when the home enters a peak
// tariff slot.
func PeakStarted(home types.Home, rate float64, at time.Time) Event {
	return Event{
		Kind:      KindPeakStarted,
		HomeID:    home.ID,
		UserID:    home.UserID,
		Title:     "Peak Tariff Started",
		Message:   fmt.Sprintf("Electricity now costs ₹%.2f/kWh. Consider switching off heavy appliances.", rate),
		Trigger:   types.TriggerPeakTariff,
		Rate:      rate,
		Timestamp: at,
	}
}

// PeakEnded builds the notification sent when a peak tariff slot is over.
func PeakEnded(home types.Home, rate float64, slot types.SlotType, at time.Time) Event {
	return Event{
		Kind:      KindPeakEnded,
		HomeID:    home.ID,
		UserID:    home.UserID,
		Title:     "Peak Tariff Ended",
		Message:   fmt.Sprintf("Rate dropped to ₹%.2f/kWh (%s). Heavy appliances are fine to run again.", rate, slot),
		Rate:      rate,
		Timestamp: at,
	}
}

func applianceList(names []string) string {
	if len(names) == 0 {
		return "your heavy appliances"
	}
	return strings.Join(names, ", ")
}

// CleanEnergy builds the notification sent when the grid becomes cleaner than
// its daily average. names are idle heavy appliances worth starting now.
func CleanEnergy(home types.Home, rate, gco2 float64, offPeak bool, names []string, at time.Time) Event {
	e := Event{
		Kind:      KindCleanEnergy,
		HomeID:    home.ID,
		UserID:    home.UserID,
		Rate:      rate,
		GCO2:      gco2,
		Count:     len(names),
		Timestamp: at,
	}
	if offPeak {
		e.Title = "Best Time to Run Appliances"
		e.Message = fmt.Sprintf("Off-peak rate of ₹%.2f/kWh and a clean grid at %.0f gCO2/kWh. Good time for %s.", rate, gco2, applianceList(names))
	} else {
		e.Title = "Clean Energy Window"
		e.Message = fmt.Sprintf("Grid carbon is down to %.0f gCO2/kWh. Good time for %s.", gco2, applianceList(names))
	}
	return e
}

// HighCarbon builds the notification sent when the grid turns dirtier than
// its daily average while names are running.
func HighCarbon(home types.Home, gco2 float64, names []string, at time.Time) Event {
	return Event{
		Kind:      KindHighCarbon,
		HomeID:    home.ID,
		UserID:    home.UserID,
		Title:     "High Carbon Intensity",
		Message:   fmt.Sprintf("Grid carbon is up to %.0f gCO2/kWh. Consider pausing %s.", gco2, applianceList(names)),
		Trigger:   types.TriggerHighCarbon,
		GCO2:      gco2,
		Count:     len(names),
		Timestamp: at,
	}
}

// Log writes notifications to the context logger.
type Log struct{}

func (Log) Notify(ctx context.Context, e Event) error {
	log.Ctx(ctx).InfoContext(
		ctx,
		"notification",
		slog.String("kind", string(e.Kind)),
		slog.String("homeID", e.HomeID),
		slog.String("title", e.Title),
		slog.String("message", e.Message),
	)
	return nil
}

// Multi fans a notification out to every sink. All sinks are attempted and
// their errors joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes the sinks that hold connections.
func (m Multi) Close() error {
	var errs []error
	for _, n := range m {
		if c, ok := n.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// Send delivers e within timeout and logs any failure instead of returning
// it.
func Send(ctx context.Context, n Notifier, e Event, timeout time.Duration) {
	if n == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := n.Notify(ctx, e); err != nil {
		log.Ctx(ctx).WarnContext(
			ctx,
			"failed to send notification",
			slog.String("kind", string(e.Kind)),
			slog.String("homeID", e.HomeID),
			slog.Any("error", err),
		)
	}
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
