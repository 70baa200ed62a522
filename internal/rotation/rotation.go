/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package rotation maps a calendar date onto the team members responsible
// for it. Resolution is a pure function of its inputs so past and future
// dates resolve identically regardless of when the computation runs.
package rotation

import (
	"time"

	"github.com/incidentworks/vigil/internal/models"
)

// Resolve returns the ordered member IDs responsible on localDate.
//
// WholeTeam mode returns every enabled member; paging the whole roster is
// the caller's concern. RollingIndividual picks a single member by anchor
// arithmetic: index = (anchorIndex + floor(daysSinceAnchor/interval)) mod n,
// normalized into [0, n) for dates before the anchor. A team with no
// enabled members yields an empty list.
func Resolve(team models.Team, defaults models.RotationDefaults, localDate time.Time) []string {
	members := team.EnabledMembers()
	if len(members) == 0 {
		return nil
	}

	mode := defaults.Mode
	if team.Mode != "" {
		mode = team.Mode
	}
	if mode == models.RotationWholeTeam {
		ids := make([]string, len(members))
		for i, m := range members {
			ids[i] = m.UserID
		}
		return ids
	}

	intervalDays := effectiveInterval(team, defaults)

	anchor := localDate
	if defaults.AnchorDate != "" {
		if parsed, err := time.Parse(models.DateFormat, defaults.AnchorDate); err == nil {
			anchor = parsed
		}
	}
	anchorIndex := defaults.AnchorIndex
	if anchorIndex < 0 {
		anchorIndex = 0
	}

	delta := floorDiv(daysBetween(anchor, localDate), intervalDays)
	index := mod(anchorIndex+delta, len(members))
	return []string{members[index].UserID}
}

func effectiveInterval(team models.Team, defaults models.RotationDefaults) int {
	if team.IntervalDays > 0 {
		return team.IntervalDays
	}
	if defaults.IntervalDays > 0 {
		return defaults.IntervalDays
	}
	cadence := defaults.Cadence
	if team.Cadence != "" {
		cadence = team.Cadence
	}
	if cadence == models.CadenceWeekly {
		return 7
	}
	return 1
}

// daysBetween counts whole calendar days from a to b, ignoring any time
// component on either value.
func daysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bd.Sub(ad) / (24 * time.Hour))
}

// floorDiv rounds toward negative infinity so dates before the anchor walk
// the rotation backwards instead of truncating toward zero.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
