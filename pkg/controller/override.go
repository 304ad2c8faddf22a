package controller

import (
	"time"

	"github.com/raterudder/autopilot/pkg/penalty"
	"github.com/raterudder/autopilot/pkg/types"
)

// OverrideWindow is how recent a human turn-on must be to count as an
// override of automated control.
const OverrideWindow = 5 * time.Minute

// IsUserOverride returns true if the last logged action on a device is a
// person turning it on within OverrideWindow of now.
func IsUserOverride(last *types.ActionLog, now time.Time) bool {
	if last == nil {
		return false
	}
	if last.Action != types.ActionTurnOn || !last.Actor.Human() {
		return false
	}
	return now.Sub(last.Timestamp) <= OverrideWindow
}

// OverrideUntil returns the start of the next hour after now whose penalty is
// under threshold. It returns nil if the rest of the day stays high, in which
// case the override lasts until it is explicitly cleared.
func OverrideUntil(timeline []penalty.Entry, threshold float64, now time.Time) *time.Time {
	offset, ok := penalty.NextHourBelow(timeline, now.Hour(), threshold)
	if !ok {
		return nil
	}
	hourStart := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	until := hourStart.Add(time.Duration(offset) * time.Hour)
	return &until
}
