/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/incidentworks/vigil/internal/models"
)

// Interval is a half-open [Start, End) span in the plan's local zone.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Duration returns the interval length.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// DayIntervals expands the plan's weekly windows for one local calendar day.
// It returns the merged on-hours intervals (overnight windows may extend
// past the day boundary) and the complementary off-hours intervals clamped
// to [dayStart, nextDayStart). A day with no matching windows is entirely
// off-hours.
func DayIntervals(day time.Time, windows []models.DailyWindow) (on, off []Interval) {
	loc := day.Location()
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	nextDayStart := time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc)

	raw := make([]Interval, 0, len(windows))
	for _, w := range windows {
		if w.Weekday != dayStart.Weekday() {
			continue
		}
		sh, sm, err := parseClock(w.Start)
		if err != nil {
			continue
		}
		eh, em, err := parseClock(w.End)
		if err != nil {
			continue
		}
		start := time.Date(day.Year(), day.Month(), day.Day(), sh, sm, 0, 0, loc)
		end := time.Date(day.Year(), day.Month(), day.Day(), eh, em, 0, 0, loc)
		if !end.After(start) {
			// Wall-clock end at or before start spans into the next day.
			end = time.Date(day.Year(), day.Month(), day.Day()+1, eh, em, 0, 0, loc)
		}
		raw = append(raw, Interval{Start: start, End: end})
	}

	on = mergeIntervals(raw)

	// Off-hours is the complement of on-hours clamped to the day boundary.
	cursor := dayStart
	for _, iv := range on {
		s, e := iv.Start, iv.End
		if s.Before(dayStart) {
			s = dayStart
		}
		if e.After(nextDayStart) {
			e = nextDayStart
		}
		if !e.After(s) {
			continue
		}
		if s.After(cursor) {
			off = append(off, Interval{Start: cursor, End: s})
		}
		if e.After(cursor) {
			cursor = e
		}
	}
	if cursor.Before(nextDayStart) {
		off = append(off, Interval{Start: cursor, End: nextDayStart})
	}
	return on, off
}

// mergeIntervals sorts by start and coalesces overlapping or touching spans.
func mergeIntervals(ivs []Interval) []Interval {
	if len(ivs) == 0 {
		return nil
	}
	sorted := make([]Interval, len(ivs))
	copy(sorted, ivs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

func parseClock(value string) (hour, minute int, err error) {
	parsed, err := time.Parse(models.ClockFormat, value)
	if err != nil {
		return 0, 0, fmt.Errorf("parse clock %q: %w", value, err)
	}
	return parsed.Hour(), parsed.Minute(), nil
}
