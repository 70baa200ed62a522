/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package schedule turns a declarative on-call plan plus a customer binding
// into a concrete, ordered timeline of schedule slices. Generation is a
// pure computation over its inputs; it performs no I/O and reads no clocks.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/incidentworks/vigil/internal/models"
	"github.com/incidentworks/vigil/internal/rotation"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidRange rejects generation requests where from >= to.
	ErrInvalidRange = errors.New("schedule: from must be before to")
	// ErrTeamNotFound signals a bound team missing from the request.
	ErrTeamNotFound = errors.New("schedule: bound team not found")
)

// sliceNamespace seeds deterministic slice IDs so regenerating or extending
// the same (customer, role, start) always lands on the same row.
var sliceNamespace = uuid.MustParse("7a7f5a52-9347-4f6e-9a3c-1d2e86a4e2b1")

// SliceID derives the stable identifier for a slice.
func SliceID(customerID string, role models.Role, startUTC time.Time) string {
	key := customerID + "|" + string(role) + "|" + startUTC.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(sliceNamespace, []byte(key)).String()
}

// GenerateRequest carries everything a generation run needs. Teams must
// contain the three bound teams; override teams are optional and unknown
// override references degrade to the bound default.
type GenerateRequest struct {
	Plan        models.Plan
	Binding     models.CustomerBinding
	Teams       map[string]models.Team
	From        time.Time
	To          time.Time
	GeneratedAt time.Time
}

// Generator expands plans into schedule slices.
type Generator struct {
	logger zerolog.Logger
}

// NewGenerator constructs a generator.
func NewGenerator(logger zerolog.Logger) *Generator {
	return &Generator{logger: logger.With().Str("component", "generator").Logger()}
}

// Generate walks every local calendar day touched by [From, To), applies
// override and holiday precedence, resolves rotation per role, converts the
// resulting local intervals to UTC, clips them to the window, and returns
// the slices sorted by (start, role).
//
// DST transitions are absorbed by the local-to-UTC conversion: a window
// spanning spring-forward yields a shorter UTC interval and one spanning
// fall-back a longer one. The per-date loop honors ctx between iterations.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) ([]models.ScheduleSlice, error) {
	if !req.From.Before(req.To) {
		return nil, ErrInvalidRange
	}
	for _, role := range []models.Role{models.RoleOnHours, models.RoleOffHours, models.RoleBackup} {
		id := req.Binding.BoundTeamID(role)
		if _, ok := req.Teams[id]; !ok {
			return nil, fmt.Errorf("%w: role %s team %q", ErrTeamNotFound, role, id)
		}
	}

	loc, err := time.LoadLocation(req.Plan.Timezone)
	if err != nil {
		g.logger.Warn().Err(err).
			Str("plan_id", req.Plan.ID).
			Str("timezone", req.Plan.Timezone).
			Msg("unresolvable plan timezone, falling back to UTC")
		loc = time.UTC
	}

	fromLocal := req.From.In(loc)
	toLocal := req.To.In(loc)

	var slices []models.ScheduleSlice
	for d := 0; ; d++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		day := time.Date(fromLocal.Year(), fromLocal.Month(), fromLocal.Day()+d, 0, 0, 0, 0, loc)
		if day.Year() > toLocal.Year() ||
			(day.Year() == toLocal.Year() && day.YearDay() > toLocal.YearDay()) {
			break
		}

		slices = append(slices, g.generateDay(req, loc, day)...)
	}

	sort.Slice(slices, func(i, j int) bool {
		if !slices[i].StartsAt.Equal(slices[j].StartsAt) {
			return slices[i].StartsAt.Before(slices[j].StartsAt)
		}
		return slices[i].Role < slices[j].Role
	})
	return slices, nil
}

func (g *Generator) generateDay(req GenerateRequest, loc *time.Location, day time.Time) []models.ScheduleSlice {
	date := day.Format(models.DateFormat)

	// Customer-level overrides beat plan-level overrides for the same date.
	override, hasOverride := req.Binding.OverrideFor(date)
	if !hasOverride {
		override, hasOverride = req.Plan.OverrideFor(date)
	}

	// Holiday and skip suppress every role, Backup included.
	if req.Plan.IsHoliday(date) || (hasOverride && override.Skip) {
		return nil
	}

	backupTeam := g.teamForRole(req, override, hasOverride, models.RoleBackup)
	backupMembers := rotation.Resolve(backupTeam, req.Plan.Rotation, day)

	on, off := DayIntervals(day, req.Plan.Windows)

	var out []models.ScheduleSlice
	emit := func(role models.Role, ivs []Interval) {
		team := g.teamForRole(req, override, hasOverride, role)
		members := rotation.Resolve(team, req.Plan.Rotation, day)
		teamID := team.ID
		if len(members) == 0 {
			// An empty roster falls back to the backup team so a slice only
			// ever lacks members when both rosters are empty.
			members = backupMembers
			teamID = backupTeam.ID
		}
		for _, iv := range ivs {
			if slice, ok := g.buildSlice(req, role, teamID, members, iv); ok {
				out = append(out, slice)
			}
		}
	}
	emit(models.RoleOnHours, on)
	emit(models.RoleOffHours, off)

	// Backup covers the whole local day regardless of the on/off windows.
	nextDay := time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc)
	if slice, ok := g.buildSlice(req, models.RoleBackup, backupTeam.ID, backupMembers, Interval{Start: day, End: nextDay}); ok {
		out = append(out, slice)
	}
	return out
}

// teamForRole resolves the effective team: the override's replacement when
// it names a known team, otherwise the binding's configured team. Unknown
// override references are logged and degrade rather than failing the run.
func (g *Generator) teamForRole(req GenerateRequest, override models.PlanOverride, hasOverride bool, role models.Role) models.Team {
	boundID := req.Binding.BoundTeamID(role)
	if hasOverride {
		if id := override.TeamID(role); id != "" {
			if team, ok := req.Teams[id]; ok {
				return team
			}
			g.logger.Warn().
				Str("customer_id", req.Binding.CustomerID).
				Str("date", override.Date).
				Str("role", string(role)).
				Str("team_id", id).
				Msg("override references unknown team, using bound default")
		}
	}
	return req.Teams[boundID]
}

func (g *Generator) buildSlice(req GenerateRequest, role models.Role, teamID string, members []string, iv Interval) (models.ScheduleSlice, bool) {
	start := iv.Start.UTC()
	end := iv.End.UTC()
	if start.Before(req.From) {
		start = req.From
	}
	if end.After(req.To) {
		end = req.To
	}
	if !end.After(start) {
		return models.ScheduleSlice{}, false
	}
	return models.ScheduleSlice{
		ID:          SliceID(req.Binding.CustomerID, role, start),
		CustomerID:  req.Binding.CustomerID,
		PlanID:      req.Plan.ID,
		PlanVersion: req.Plan.Version,
		Role:        role,
		TeamID:      teamID,
		MemberIDs:   members,
		StartsAt:    start,
		EndsAt:      end,
		GeneratedAt: req.GeneratedAt,
	}, true
}
