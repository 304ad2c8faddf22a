package penalty

import (
	"sort"

	"github.com/raterudder/autopilot/pkg/types"
)

// Label buckets a penalty for display.
type Label string

const (
	LabelExcellent Label = "Excellent"
	LabelGood      Label = "Good"
	LabelFair      Label = "Fair"
	LabelHigh      Label = "High"
	LabelCritical  Label = "Critical"
)

// LabelFor returns the label for a penalty value.
func LabelFor(p float64) Label {
	switch {
	case p < 0.3:
		return LabelExcellent
	case p < 0.5:
		return LabelGood
	case p < Threshold:
		return LabelFair
	case p < 0.8:
		return LabelHigh
	default:
		return LabelCritical
	}
}

// Entry is one hour of a penalty timeline.
type Entry struct {
	Hour     int            `json:"hour"`
	Penalty  float64        `json:"penalty"`
	Rate     float64        `json:"rate"`
	GCO2     float64        `json:"gCO2"`
	SlotType types.SlotType `json:"slotType"`
	Label    Label          `json:"label"`
}

// Timeline scores all 24 hours of the day. Hours with no matching slot get a
// zero rate and the normal slot type.
func Timeline(slots []types.TariffSlot, profile []types.CarbonPoint, strategy types.Strategy) []Entry {
	m := newModel(slots, profile, strategy)
	entries := make([]Entry, 24)
	for h := range entries {
		e := Entry{
			Hour:     h,
			Penalty:  m.penalty(h),
			GCO2:     m.carbon[h],
			SlotType: types.SlotTypeNormal,
		}
		if slot, ok := SlotForHour(h, slots); ok {
			e.Rate = slot.Rate
			e.SlotType = slot.SlotType
		}
		e.Label = LabelFor(e.Penalty)
		entries[h] = e
	}
	return entries
}

// Window is a contiguous run of hours, possibly wrapping midnight.
type Window struct {
	StartHour     int     `json:"startHour"`
	EndHour       int     `json:"endHour"`
	DurationHours int     `json:"durationHours"`
	AvgPenalty    float64 `json:"avgPenalty"`
	AvgRate       float64 `json:"avgRate"`
	AvgGCO2       float64 `json:"avgGCO2"`
}

// FindOptimalWindow returns the window of durationHours with the lowest mean
// penalty. Ties go to the earliest start hour. A duration under one hour is
// treated as one hour and a duration of a day or more covers the whole day
// starting at midnight.
func FindOptimalWindow(timeline []Entry, durationHours int) Window {
	n := len(timeline)
	if n == 0 {
		return Window{}
	}
	if durationHours < 1 {
		durationHours = 1
	}
	if durationHours >= n {
		w := average(timeline, 0, n)
		w.DurationHours = durationHours
		return w
	}

	best := Window{}
	for start := 0; start < n; start++ {
		w := average(timeline, start, durationHours)
		if start == 0 || w.AvgPenalty < best.AvgPenalty {
			best = w
		}
	}
	return best
}

func average(timeline []Entry, start, d int) Window {
	n := len(timeline)
	var p, r, c float64
	for i := 0; i < d; i++ {
		e := timeline[(start+i)%n]
		p += e.Penalty
		r += e.Rate
		c += e.GCO2
	}
	fd := float64(d)
	return Window{
		StartHour:     start,
		EndHour:       (start + d) % n,
		DurationHours: d,
		AvgPenalty:    p / fd,
		AvgRate:       r / fd,
		AvgGCO2:       c / fd,
	}
}

// NextHourBelow returns how many hours after fromHour the first hour with a
// penalty under threshold occurs, searching at most one day ahead. It returns
// false if no such hour exists.
func NextHourBelow(timeline []Entry, fromHour int, threshold float64) (int, bool) {
	n := len(timeline)
	for offset := 1; offset <= n; offset++ {
		if timeline[(fromHour+offset)%n].Penalty < threshold {
			return offset, true
		}
	}
	return 0, false
}

// DailyAverageCarbon returns the mean of the profile after missing hours are
// filled with the regional fallback.
func DailyAverageCarbon(profile []types.CarbonPoint) float64 {
	c := NormalizeProfile(profile)
	var sum float64
	for _, v := range c {
		sum += v
	}
	return sum / float64(len(c))
}

// IsCleanWindow returns true if hour is cleaner than the daily average.
func IsCleanWindow(hour int, profile []types.CarbonPoint) bool {
	c := NormalizeProfile(profile)
	return c[wrapHour(hour)] < DailyAverageCarbon(profile)
}

// CleanestHours returns the n hours with the lowest carbon intensity,
// cleanest first.
func CleanestHours(profile []types.CarbonPoint, n int) []types.CarbonPoint {
	c := NormalizeProfile(profile)
	points := make([]types.CarbonPoint, len(c))
	for h, v := range c {
		points[h] = types.CarbonPoint{Hour: h, GCO2PerKWh: v}
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].GCO2PerKWh < points[j].GCO2PerKWh
	})
	if n < 0 {
		n = 0
	}
	if n > len(points) {
		n = len(points)
	}
	return points[:n]
}
