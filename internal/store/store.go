/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store is the persistence boundary for plans, teams, bindings, and
// generated schedule slices. Repository errors are surfaced as typed
// sentinels; retry and backoff belong to the caller.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/incidentworks/vigil/internal/models"
)

var (
	ErrPlanNotFound    = errors.New("store: plan not found")
	ErrTeamNotFound    = errors.New("store: team not found")
	ErrBindingNotFound = errors.New("store: binding not found")
)

// Store wraps the gorm handle with the read/write contracts the coverage
// engine needs.
type Store struct {
	db *gorm.DB
}

// New constructs a store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetPlan loads one plan by id.
func (s *Store) GetPlan(ctx context.Context, id string) (models.Plan, error) {
	var plan models.Plan
	err := s.db.WithContext(ctx).First(&plan, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Plan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	return plan, err
}

// GetTeam loads one team by id.
func (s *Store) GetTeam(ctx context.Context, id string) (models.Team, error) {
	var team models.Team
	err := s.db.WithContext(ctx).First(&team, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Team{}, fmt.Errorf("%w: %s", ErrTeamNotFound, id)
	}
	return team, err
}

// GetBinding loads the binding for a customer.
func (s *Store) GetBinding(ctx context.Context, customerID string) (models.CustomerBinding, error) {
	var binding models.CustomerBinding
	err := s.db.WithContext(ctx).First(&binding, "customer_id = ?", customerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.CustomerBinding{}, fmt.Errorf("%w: customer %s", ErrBindingNotFound, customerID)
	}
	return binding, err
}

// ListBindings returns every customer binding, ordered for stable iteration.
func (s *Store) ListBindings(ctx context.Context) ([]models.CustomerBinding, error) {
	var bindings []models.CustomerBinding
	err := s.db.WithContext(ctx).Order("customer_id ASC").Find(&bindings).Error
	return bindings, err
}

// SavePlan upserts a plan definition.
func (s *Store) SavePlan(ctx context.Context, plan models.Plan) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&plan).Error
}

// SaveTeam upserts a team definition.
func (s *Store) SaveTeam(ctx context.Context, team models.Team) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&team).Error
}

// SaveBinding upserts a customer binding.
func (s *Store) SaveBinding(ctx context.Context, binding models.CustomerBinding) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&binding).Error
}

// ListPlans returns all plans ordered by name.
func (s *Store) ListPlans(ctx context.Context) ([]models.Plan, error) {
	var plans []models.Plan
	err := s.db.WithContext(ctx).Order("name ASC").Find(&plans).Error
	return plans, err
}

// ListTeams returns all teams ordered by name.
func (s *Store) ListTeams(ctx context.Context) ([]models.Team, error) {
	var teams []models.Team
	err := s.db.WithContext(ctx).Order("name ASC").Find(&teams).Error
	return teams, err
}

// UpsertSlices writes generated slices. Slice IDs are deterministic on
// (customer, role, start), so re-running generation over an overlapping
// window overwrites rows instead of duplicating them.
func (s *Store) UpsertSlices(ctx context.Context, slices []models.ScheduleSlice) error {
	if len(slices) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(&slices, 200).Error
}

// DeleteFutureSlices removes every slice for the customer starting at or
// after cutoff. Regeneration calls this before writing so a crash mid-run
// leaves a detectable gap rather than overlapping coverage.
func (s *Store) DeleteFutureSlices(ctx context.Context, customerID string, cutoff time.Time) error {
	return s.db.WithContext(ctx).
		Where("customer_id = ? AND starts_at >= ?", customerID, cutoff).
		Delete(&models.ScheduleSlice{}).Error
}

// DeleteSlicesEndingBefore prunes historical slices for retention.
func (s *Store) DeleteSlicesEndingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("ends_at < ?", cutoff).
		Delete(&models.ScheduleSlice{})
	return result.RowsAffected, result.Error
}

// ListSlices returns the customer's slices intersecting [from, to), ordered
// by start time. A limit of 0 means unbounded.
func (s *Store) ListSlices(ctx context.Context, customerID string, from, to time.Time, limit int) ([]models.ScheduleSlice, error) {
	q := s.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Where("starts_at < ? AND ends_at > ?", to, from).
		Order("starts_at ASC, role ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var slices []models.ScheduleSlice
	err := q.Find(&slices).Error
	return slices, err
}

// LatestOverhangEnd reports the furthest end among the customer's slices
// starting before cutoff, or zero time when none exist. Generation runs
// start no earlier than this point so a slice straddling the cutoff never
// gains a clipped twin covering the same instants.
func (s *Store) LatestOverhangEnd(ctx context.Context, customerID string, cutoff time.Time) (time.Time, error) {
	var slice models.ScheduleSlice
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND starts_at < ?", customerID, cutoff).
		Order("ends_at DESC").
		First(&slice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return slice.EndsAt, nil
}

// LatestSliceEnd reports the end of the customer's furthest materialized
// slice, or zero time when nothing has been generated yet.
func (s *Store) LatestSliceEnd(ctx context.Context, customerID string) (time.Time, error) {
	var slice models.ScheduleSlice
	err := s.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("ends_at DESC").
		First(&slice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return slice.EndsAt, nil
}
