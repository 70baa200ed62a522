/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package coverage orchestrates schedule materialization and answers
// "who is on call" queries. Generation itself is pure; this layer owns the
// sequential I/O around it: read plan/team/binding, delete future slices,
// bulk-upsert fresh ones.
package coverage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/incidentworks/vigil/internal/cache"
	"github.com/incidentworks/vigil/internal/events"
	"github.com/incidentworks/vigil/internal/models"
	"github.com/incidentworks/vigil/internal/schedule"
	"github.com/incidentworks/vigil/internal/store"
	"github.com/incidentworks/vigil/internal/telemetry"
)

// Default lazy-generation horizon used when a schedule query finds nothing
// materialized yet.
const (
	DefaultHorizonBack    = 7 * 24 * time.Hour
	DefaultHorizonForward = 90 * 24 * time.Hour
)

// Coverage is the answer to "who is responsible at time T".
type Coverage struct {
	CustomerID  string                `json:"customer_id"`
	At          time.Time             `json:"at"`
	HasCoverage bool                  `json:"has_coverage"`
	Primary     *models.ScheduleSlice `json:"primary,omitempty"`
	Backup      *models.ScheduleSlice `json:"backup,omitempty"`
}

// Schedule is a queried window of materialized slices plus the coverage at
// query time and the plan's display time zone.
type Schedule struct {
	CustomerID string                 `json:"customer_id"`
	Timezone   string                 `json:"timezone"`
	From       time.Time              `json:"from"`
	To         time.Time              `json:"to"`
	Slices     []models.ScheduleSlice `json:"slices"`
	Current    Coverage               `json:"current"`
}

// Service coordinates generation runs and coverage queries.
type Service struct {
	store     *store.Store
	generator *schedule.Generator
	cache     *cache.Cache
	bus       *events.Bus
	logger    zerolog.Logger
	lookahead time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs the coverage service. lookahead bounds how far Regenerate
// materializes ahead of its cutoff.
func New(st *store.Store, generator *schedule.Generator, lookahead time.Duration, logger zerolog.Logger) *Service {
	if lookahead <= 0 {
		lookahead = DefaultHorizonForward
	}
	return &Service{
		store:     st,
		generator: generator,
		logger:    logger.With().Str("component", "coverage").Logger(),
		lookahead: lookahead,
		locks:     make(map[string]*sync.Mutex),
	}
}

// SetCache sets the cache instance for coverage lookups.
func (s *Service) SetCache(c *cache.Cache) {
	s.cache = c
}

// SetBus sets the event bus for publishing schedule-change events.
func (s *Service) SetBus(b *events.Bus) {
	s.bus = b
}

// customerLock serializes generation runs per customer. Concurrent runs for
// the same customer race on the delete-then-write sequence; runs for
// different customers proceed in parallel.
func (s *Service) customerLock(customerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[customerID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[customerID] = lock
	}
	return lock
}

// Regenerate replaces the customer's future timeline. Written slices are
// immutable, so the cut happens at the first slice boundary at or after
// fromUTC: everything starting there is deleted, then [cut, fromUTC+lookahead)
// is generated and written. Delete-then-write means a crash mid-run leaves
// a detectable gap, never overlapping coverage.
func (s *Service) Regenerate(ctx context.Context, customerID string, fromUTC time.Time) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "coverage", "Regenerate")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"customer_id": customerID})

	lock := s.customerLock(customerID)
	lock.Lock()
	defer lock.Unlock()

	started := time.Now()
	telemetry.GenerationRunsTotal.WithLabelValues(customerID, "regenerate").Inc()

	fromUTC = fromUTC.UTC()
	toUTC := fromUTC.Add(s.lookahead)

	cut, err := s.generationStart(ctx, customerID, fromUTC)
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.GenerationErrorsTotal.WithLabelValues(customerID, "align").Inc()
		return 0, err
	}

	var slices []models.ScheduleSlice
	if cut.Before(toUTC) {
		slices, err = s.generateWindow(ctx, customerID, cut, toUTC)
		if err != nil {
			telemetry.RecordError(span, err)
			telemetry.GenerationErrorsTotal.WithLabelValues(customerID, "generate").Inc()
			return 0, err
		}
	}

	if err := s.store.DeleteFutureSlices(ctx, customerID, cut); err != nil {
		telemetry.RecordError(span, err)
		telemetry.GenerationErrorsTotal.WithLabelValues(customerID, "delete").Inc()
		return 0, err
	}
	if err := s.store.UpsertSlices(ctx, slices); err != nil {
		// Future slices are already gone: the customer now has a coverage
		// gap until an operator re-runs. Surface loudly.
		s.logger.Error().Err(err).Str("customer_id", customerID).
			Msg("slice write failed after delete, future coverage missing until regeneration is re-run")
		telemetry.RecordError(span, err)
		telemetry.GenerationErrorsTotal.WithLabelValues(customerID, "write").Inc()
		return 0, err
	}

	s.recordSlices(customerID, slices)
	telemetry.GenerationDuration.WithLabelValues(customerID).Observe(time.Since(started).Seconds())

	s.invalidate(ctx, customerID)
	s.publish(events.EventScheduleRegenerated, customerID, cut, toUTC, len(slices))

	s.logger.Info().
		Str("customer_id", customerID).
		Time("from", cut).
		Int("slices", len(slices)).
		Msg("schedule regenerated")
	return len(slices), nil
}

// generationStart pushes a window start past any slice straddling fromUTC.
// Generating mid-slice would emit a clipped twin whose start (and therefore
// ID) differs from the original's, and the two would cover the same instants.
// Advancing the cut can expose another straddling slice, so iterate until
// the cut lands on a boundary no stored slice crosses.
func (s *Service) generationStart(ctx context.Context, customerID string, fromUTC time.Time) (time.Time, error) {
	cut := fromUTC
	for {
		overhang, err := s.store.LatestOverhangEnd(ctx, customerID, cut)
		if err != nil {
			return time.Time{}, err
		}
		if !overhang.After(cut) {
			return cut, nil
		}
		cut = overhang
	}
}

// Extend materializes [fromUTC, toUTC) without deleting anything. Slice IDs
// are deterministic on (customer, role, start), so re-extending an
// overlapping window overwrites matching rows instead of duplicating them;
// a window opening mid-slice starts generating at that slice's end.
func (s *Service) Extend(ctx context.Context, customerID string, fromUTC, toUTC time.Time) (int, error) {
	fromUTC, toUTC = fromUTC.UTC(), toUTC.UTC()
	if !fromUTC.Before(toUTC) {
		return 0, schedule.ErrInvalidRange
	}

	ctx, span := telemetry.StartSpan(ctx, "coverage", "Extend")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"customer_id": customerID})

	lock := s.customerLock(customerID)
	lock.Lock()
	defer lock.Unlock()

	started := time.Now()
	telemetry.GenerationRunsTotal.WithLabelValues(customerID, "extend").Inc()

	cut, err := s.generationStart(ctx, customerID, fromUTC)
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.GenerationErrorsTotal.WithLabelValues(customerID, "align").Inc()
		return 0, err
	}

	var slices []models.ScheduleSlice
	if cut.Before(toUTC) {
		slices, err = s.generateWindow(ctx, customerID, cut, toUTC)
		if err != nil {
			telemetry.RecordError(span, err)
			telemetry.GenerationErrorsTotal.WithLabelValues(customerID, "generate").Inc()
			return 0, err
		}
	}
	if err := s.store.UpsertSlices(ctx, slices); err != nil {
		telemetry.RecordError(span, err)
		telemetry.GenerationErrorsTotal.WithLabelValues(customerID, "write").Inc()
		return 0, err
	}

	s.recordSlices(customerID, slices)
	telemetry.GenerationDuration.WithLabelValues(customerID).Observe(time.Since(started).Seconds())

	s.invalidate(ctx, customerID)
	s.publish(events.EventScheduleExtended, customerID, fromUTC, toUTC, len(slices))
	return len(slices), nil
}

// generateWindow loads the customer's plan, binding, and teams, clamps the
// window to the binding's effectivity, and runs the pure generator.
func (s *Service) generateWindow(ctx context.Context, customerID string, fromUTC, toUTC time.Time) ([]models.ScheduleSlice, error) {
	binding, err := s.getBinding(ctx, customerID)
	if err != nil {
		return nil, err
	}
	plan, err := s.store.GetPlan(ctx, binding.PlanID)
	if err != nil {
		return nil, err
	}

	teams := make(map[string]models.Team)
	for _, id := range teamIDsFor(plan, binding) {
		if _, ok := teams[id]; ok {
			continue
		}
		team, err := s.store.GetTeam(ctx, id)
		if err != nil {
			if binding.BoundTeamID(models.RoleOnHours) == id ||
				binding.BoundTeamID(models.RoleOffHours) == id ||
				binding.BoundTeamID(models.RoleBackup) == id {
				// A bound team must exist; override teams may not.
				return nil, err
			}
			s.logger.Warn().Str("team_id", id).Str("customer_id", customerID).
				Msg("override team missing, generator will use bound default")
			continue
		}
		teams[id] = team
	}

	fromUTC, toUTC = clampToEffectivity(binding, plan, fromUTC, toUTC)
	if !fromUTC.Before(toUTC) {
		return nil, nil
	}

	return s.generator.Generate(ctx, schedule.GenerateRequest{
		Plan:        plan,
		Binding:     binding,
		Teams:       teams,
		From:        fromUTC,
		To:          toUTC,
		GeneratedAt: time.Now().UTC(),
	})
}

// GetCurrentCoverage answers "who is on call at nowUTC". Absence of a
// primary or backup slice is a valid answer, not an error; HasCoverage is
// false only when both are missing.
func (s *Service) GetCurrentCoverage(ctx context.Context, customerID string, nowUTC time.Time) (Coverage, error) {
	nowUTC = nowUTC.UTC()

	if s.cache != nil {
		if cached, ok := s.cache.GetCoverage(ctx, customerID); ok && cacheAnswers(cached, nowUTC) {
			return Coverage{
				CustomerID:  customerID,
				At:          nowUTC,
				HasCoverage: cached.HasCoverage,
				Primary:     cached.Primary,
				Backup:      cached.Backup,
			}, nil
		}
	}

	slices, err := s.store.ListSlices(ctx, customerID, nowUTC.Add(-time.Hour), nowUTC.Add(time.Hour), 0)
	if err != nil {
		telemetry.CoverageQueriesTotal.WithLabelValues("error").Inc()
		return Coverage{}, err
	}

	cov := Coverage{CustomerID: customerID, At: nowUTC}
	for i := range slices {
		slice := slices[i]
		if !slice.Contains(nowUTC) {
			continue
		}
		switch slice.Role {
		case models.RoleOnHours:
			cov.Primary = &slice
		case models.RoleOffHours:
			// On-hours wins when both match the instant.
			if cov.Primary == nil || cov.Primary.Role != models.RoleOnHours {
				cov.Primary = &slice
			}
		case models.RoleBackup:
			cov.Backup = &slice
		}
	}
	cov.HasCoverage = cov.Primary != nil || cov.Backup != nil

	if cov.HasCoverage {
		telemetry.CoverageQueriesTotal.WithLabelValues("hit").Inc()
	} else {
		telemetry.CoverageQueriesTotal.WithLabelValues("gap").Inc()
	}

	if s.cache != nil {
		_ = s.cache.SetCoverage(ctx, cache.CachedCoverage{
			CustomerID:  customerID,
			HasCoverage: cov.HasCoverage,
			Primary:     cov.Primary,
			Backup:      cov.Backup,
			CachedAt:    nowUTC,
		})
	}
	return cov, nil
}

// GetSchedule reads the materialized window. When nothing exists yet it
// lazily materializes a default horizon instead of failing, then re-reads.
func (s *Service) GetSchedule(ctx context.Context, customerID string, fromUTC, toUTC time.Time, limit int) (Schedule, error) {
	if !fromUTC.Before(toUTC) {
		return Schedule{}, schedule.ErrInvalidRange
	}

	slices, err := s.store.ListSlices(ctx, customerID, fromUTC, toUTC, limit)
	if err != nil {
		return Schedule{}, err
	}
	if len(slices) == 0 {
		now := time.Now().UTC()
		if _, err := s.Extend(ctx, customerID, now.Add(-DefaultHorizonBack), now.Add(DefaultHorizonForward)); err != nil {
			return Schedule{}, err
		}
		if slices, err = s.store.ListSlices(ctx, customerID, fromUTC, toUTC, limit); err != nil {
			return Schedule{}, err
		}
	}

	binding, err := s.getBinding(ctx, customerID)
	if err != nil {
		return Schedule{}, err
	}
	plan, err := s.store.GetPlan(ctx, binding.PlanID)
	if err != nil {
		return Schedule{}, err
	}

	current, err := s.GetCurrentCoverage(ctx, customerID, time.Now().UTC())
	if err != nil {
		return Schedule{}, err
	}

	return Schedule{
		CustomerID: customerID,
		Timezone:   plan.Timezone,
		From:       fromUTC,
		To:         toUTC,
		Slices:     slices,
		Current:    current,
	}, nil
}

func (s *Service) getBinding(ctx context.Context, customerID string) (models.CustomerBinding, error) {
	if s.cache != nil {
		if cached, ok := s.cache.GetBinding(ctx, customerID); ok {
			return *cached, nil
		}
	}
	binding, err := s.store.GetBinding(ctx, customerID)
	if err != nil {
		return models.CustomerBinding{}, err
	}
	if s.cache != nil {
		_ = s.cache.SetBinding(ctx, binding)
	}
	return binding, nil
}

func (s *Service) invalidate(ctx context.Context, customerID string) {
	if s.cache != nil {
		s.cache.InvalidateCustomer(ctx, customerID)
	}
}

func (s *Service) publish(eventType events.EventType, customerID string, from, to time.Time, count int) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventType, events.Payload{
		"customer_id": customerID,
		"from":        from.UTC(),
		"to":          to.UTC(),
		"slices":      count,
	})
}

func (s *Service) recordSlices(customerID string, slices []models.ScheduleSlice) {
	for _, slice := range slices {
		telemetry.SlicesGeneratedTotal.WithLabelValues(customerID, string(slice.Role)).Inc()
	}
}

// teamIDsFor collects the bound teams plus every team referenced by a plan
// or customer override.
func teamIDsFor(plan models.Plan, binding models.CustomerBinding) []string {
	ids := []string{
		binding.OnHoursTeamID,
		binding.OffHoursTeamID,
		binding.BackupTeamID,
	}
	for _, o := range append(append([]models.PlanOverride(nil), plan.Overrides...), binding.Overrides...) {
		for _, role := range []models.Role{models.RoleOnHours, models.RoleOffHours, models.RoleBackup} {
			if id := o.TeamID(role); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// clampToEffectivity narrows the generation window to the binding's
// effective dates, interpreted as whole days in the plan's zone.
func clampToEffectivity(binding models.CustomerBinding, plan models.Plan, fromUTC, toUTC time.Time) (time.Time, time.Time) {
	loc, err := time.LoadLocation(plan.Timezone)
	if err != nil {
		loc = time.UTC
	}
	if binding.EffectiveFrom != "" {
		if d, err := time.ParseInLocation(models.DateFormat, binding.EffectiveFrom, loc); err == nil {
			if d.UTC().After(fromUTC) {
				fromUTC = d.UTC()
			}
		}
	}
	if binding.EffectiveThrough != "" {
		if d, err := time.ParseInLocation(models.DateFormat, binding.EffectiveThrough, loc); err == nil {
			end := d.AddDate(0, 0, 1).UTC() // through-date is inclusive
			if end.Before(toUTC) {
				toUTC = end
			}
		}
	}
	return fromUTC, toUTC
}

// cacheAnswers reports whether a cached entry answers the queried instant.
// Only a cached slice that actually contains t vouches for it; an entry with
// no slices is the answer for the instant it was computed at, not for t, so
// gaps always fall through to the store.
func cacheAnswers(cached *cache.CachedCoverage, t time.Time) bool {
	answered := false
	for _, slice := range []*models.ScheduleSlice{cached.Primary, cached.Backup} {
		if slice == nil {
			continue
		}
		if !slice.Contains(t) {
			return false
		}
		answered = true
	}
	return answered
}
