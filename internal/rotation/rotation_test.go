/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rotation

import (
	"reflect"
	"testing"
	"time"

	"github.com/incidentworks/vigil/internal/models"
)

func rosterTeam(ids ...string) models.Team {
	members := make([]models.TeamMember, len(ids))
	for i, id := range ids {
		members[i] = models.TeamMember{UserID: id, Enabled: true, Order: i}
	}
	return models.Team{ID: "team-1", Name: "Primary", Enabled: true, Members: members}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResolveWholeTeamReturnsAllEnabled(t *testing.T) {
	team := rosterTeam("a", "b", "c")
	team.Members[1].Enabled = false

	defaults := models.RotationDefaults{Mode: models.RotationWholeTeam}
	got := Resolve(team, defaults, date(2026, 3, 2))
	want := []string{"a", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Resolve = %v, want %v", got, want)
	}
}

func TestResolveDailyCadenceAdvancesEveryDay(t *testing.T) {
	team := rosterTeam("a", "b", "c")
	defaults := models.RotationDefaults{
		Mode:       models.RotationRollingIndividual,
		Cadence:    models.CadenceDaily,
		AnchorDate: "2026-03-02",
	}

	wants := []string{"a", "b", "c", "a"}
	for i, want := range wants {
		got := Resolve(team, defaults, date(2026, 3, 2+i))
		if len(got) != 1 || got[0] != want {
			t.Fatalf("day %d: Resolve = %v, want [%s]", i, got, want)
		}
	}
}

func TestResolveWeeklyCadenceHoldsWithinWeek(t *testing.T) {
	team := rosterTeam("a", "b", "c")
	defaults := models.RotationDefaults{
		Mode:       models.RotationRollingIndividual,
		Cadence:    models.CadenceWeekly,
		AnchorDate: "2026-03-02",
	}

	// Three days into the week the same member still holds the pager.
	if got := Resolve(team, defaults, date(2026, 3, 5)); got[0] != "a" {
		t.Fatalf("mid-week Resolve = %v, want [a]", got)
	}
	// One full week later the rotation advances by exactly one position.
	if got := Resolve(team, defaults, date(2026, 3, 9)); got[0] != "b" {
		t.Fatalf("next-week Resolve = %v, want [b]", got)
	}
}

func TestResolveDailyVersusWeeklyThreeDaysLater(t *testing.T) {
	team := rosterTeam("a", "b", "c")
	day := date(2026, 3, 5)

	daily := models.RotationDefaults{
		Mode:       models.RotationRollingIndividual,
		Cadence:    models.CadenceDaily,
		AnchorDate: "2026-03-02",
	}
	if got := Resolve(team, daily, day); got[0] != "a" {
		// 3 days later, daily cadence: 3 mod 3 wraps back to index 0.
		t.Fatalf("daily Resolve = %v, want [a]", got)
	}

	weekly := models.RotationDefaults{
		Mode:       models.RotationRollingIndividual,
		Cadence:    models.CadenceWeekly,
		AnchorDate: "2026-03-02",
	}
	if got := Resolve(team, weekly, day); got[0] != "a" {
		t.Fatalf("weekly Resolve = %v, want [a]", got)
	}

	// Use a 4-member roster so daily and weekly disagree 3 days out.
	team4 := rosterTeam("a", "b", "c", "d")
	if got := Resolve(team4, daily, day); got[0] != "d" {
		t.Fatalf("daily 4-member Resolve = %v, want [d]", got)
	}
	if got := Resolve(team4, weekly, day); got[0] != "a" {
		t.Fatalf("weekly 4-member Resolve = %v, want [a]", got)
	}
}

func TestResolveDateBeforeAnchorWalksBackwards(t *testing.T) {
	team := rosterTeam("a", "b", "c")
	defaults := models.RotationDefaults{
		Mode:       models.RotationRollingIndividual,
		Cadence:    models.CadenceDaily,
		AnchorDate: "2026-03-02",
	}

	// One day before the anchor: index (0 - 1) mod 3 = 2.
	if got := Resolve(team, defaults, date(2026, 3, 1)); got[0] != "c" {
		t.Fatalf("Resolve = %v, want [c]", got)
	}
	if got := Resolve(team, defaults, date(2026, 2, 28)); got[0] != "b" {
		t.Fatalf("Resolve = %v, want [b]", got)
	}
}

func TestResolveTeamIntervalOverride(t *testing.T) {
	team := rosterTeam("a", "b")
	team.IntervalDays = 3
	defaults := models.RotationDefaults{
		Mode:       models.RotationRollingIndividual,
		Cadence:    models.CadenceDaily,
		AnchorDate: "2026-03-02",
	}

	if got := Resolve(team, defaults, date(2026, 3, 4)); got[0] != "a" {
		t.Fatalf("day 2 Resolve = %v, want [a]", got)
	}
	if got := Resolve(team, defaults, date(2026, 3, 5)); got[0] != "b" {
		t.Fatalf("day 3 Resolve = %v, want [b]", got)
	}
}

func TestResolveAnchorIndexOffsetsRotation(t *testing.T) {
	team := rosterTeam("a", "b", "c")
	defaults := models.RotationDefaults{
		Mode:        models.RotationRollingIndividual,
		Cadence:     models.CadenceDaily,
		AnchorDate:  "2026-03-02",
		AnchorIndex: 2,
	}
	if got := Resolve(team, defaults, date(2026, 3, 2)); got[0] != "c" {
		t.Fatalf("Resolve = %v, want [c]", got)
	}
	// Negative anchor index clamps to zero rather than wrapping.
	defaults.AnchorIndex = -5
	if got := Resolve(team, defaults, date(2026, 3, 2)); got[0] != "a" {
		t.Fatalf("Resolve = %v, want [a]", got)
	}
}

func TestResolveMissingAnchorDefaultsToEvaluatedDate(t *testing.T) {
	team := rosterTeam("a", "b", "c")
	defaults := models.RotationDefaults{
		Mode:    models.RotationRollingIndividual,
		Cadence: models.CadenceDaily,
	}
	// With no anchor the delta is always zero, so any date resolves to the
	// anchor index member.
	for _, d := range []time.Time{date(2026, 3, 2), date(2026, 7, 19), date(2025, 1, 1)} {
		if got := Resolve(team, defaults, d); got[0] != "a" {
			t.Fatalf("Resolve(%v) = %v, want [a]", d, got)
		}
	}
}

func TestResolveEmptyRosterYieldsEmptyList(t *testing.T) {
	team := rosterTeam("a", "b")
	for i := range team.Members {
		team.Members[i].Enabled = false
	}
	defaults := models.RotationDefaults{Mode: models.RotationRollingIndividual, Cadence: models.CadenceDaily}
	if got := Resolve(team, defaults, date(2026, 3, 2)); len(got) != 0 {
		t.Fatalf("Resolve = %v, want empty", got)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	team := rosterTeam("b", "a", "c")
	// Same order value forces the user-id tie break.
	for i := range team.Members {
		team.Members[i].Order = 0
	}
	defaults := models.RotationDefaults{
		Mode:       models.RotationRollingIndividual,
		Cadence:    models.CadenceWeekly,
		AnchorDate: "2026-01-05",
	}
	day := date(2026, 3, 11)
	first := Resolve(team, defaults, day)
	for i := 0; i < 10; i++ {
		if got := Resolve(team, defaults, day); !reflect.DeepEqual(got, first) {
			t.Fatalf("Resolve not deterministic: %v then %v", first, got)
		}
	}
	if first[0] != "a" {
		t.Fatalf("tie-broken roster head = %v, want a", first)
	}
}
