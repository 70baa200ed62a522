/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler keeps every customer's materialized schedule topped up.
// A background loop walks the bindings, extends each timeline to the
// configured lookahead, and prunes slices past the retention horizon.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/incidentworks/vigil/internal/coverage"
	"github.com/incidentworks/vigil/internal/store"
	"github.com/incidentworks/vigil/internal/telemetry"
)

// Service is the background horizon maintainer.
type Service struct {
	store     *store.Store
	coverage  *coverage.Service
	logger    zerolog.Logger
	interval  time.Duration
	lookahead time.Duration
	retention time.Duration

	mu        sync.Mutex
	lastPrune time.Time
}

// New constructs the maintainer. interval is the tick period, lookahead how
// far ahead timelines are kept materialized, retention how much history
// survives pruning.
func New(st *store.Store, cov *coverage.Service, interval, lookahead, retention time.Duration, logger zerolog.Logger) *Service {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if lookahead <= 0 {
		lookahead = 30 * 24 * time.Hour
	}
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &Service{
		store:     st,
		coverage:  cov,
		logger:    logger.With().Str("component", "horizon").Logger(),
		interval:  interval,
		lookahead: lookahead,
		retention: retention,
	}
}

// Run executes the maintenance loop until the context is cancelled. One tick
// runs immediately so fresh deployments have coverage before the first
// interval elapses.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", s.interval).
		Dur("lookahead", s.lookahead).
		Msg("horizon maintenance loop started")

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("horizon maintenance loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	telemetry.HorizonTicksTotal.Inc()

	bindings, err := s.store.ListBindings(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("horizon tick failed to load bindings")
		telemetry.HorizonErrorsTotal.WithLabelValues("", "load_bindings").Inc()
		return
	}

	for _, binding := range bindings {
		if err := s.maintainCustomer(ctx, binding.CustomerID); err != nil {
			s.logger.Warn().Err(err).Str("customer_id", binding.CustomerID).
				Msg("horizon maintenance failed for customer")
			telemetry.HorizonErrorsTotal.WithLabelValues(binding.CustomerID, "extend").Inc()
		}
	}

	s.maybePruneHistory(ctx)
}

// maintainCustomer extends one customer's timeline up to now+lookahead.
// Customers already materialized far enough are left alone.
func (s *Service) maintainCustomer(ctx context.Context, customerID string) error {
	ctx, span := telemetry.StartSpan(ctx, "scheduler", "maintainCustomer")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"customer_id": customerID})

	now := time.Now().UTC()
	target := now.Add(s.lookahead)

	latest, err := s.store.LatestSliceEnd(ctx, customerID)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	if !latest.Before(target) {
		return nil
	}

	from := latest
	if from.IsZero() {
		from = now
	}

	count, err := s.coverage.Extend(ctx, customerID, from, target)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	s.logger.Info().
		Str("customer_id", customerID).
		Time("from", from).
		Time("to", target).
		Int("slices", count).
		Msg("extended schedule horizon")
	return nil
}

// maybePruneHistory deletes slices that ended before the retention cutoff.
// Runs at most once per hour to avoid unnecessary DB churn.
func (s *Service) maybePruneHistory(ctx context.Context) {
	s.mu.Lock()
	if time.Since(s.lastPrune) < time.Hour {
		s.mu.Unlock()
		return
	}
	s.lastPrune = time.Now()
	s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-s.retention)
	deleted, err := s.store.DeleteSlicesEndingBefore(ctx, cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to prune historical slices")
		telemetry.HorizonErrorsTotal.WithLabelValues("", "prune").Inc()
		return
	}
	if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Msg("pruned historical slices")
	}
}
