/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/incidentworks/vigil/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Plan{}, &models.Team{}, &models.CustomerBinding{}, &models.ScheduleSlice{},
	); err != nil {
		t.Fatalf("migrate schema: %v", err)
	}
	return New(db)
}

func slice(id, customerID string, role models.Role, start, end time.Time) models.ScheduleSlice {
	return models.ScheduleSlice{
		ID:         id,
		CustomerID: customerID,
		Role:       role,
		TeamID:     "team-1",
		MemberIDs:  []string{"u1"},
		StartsAt:   start,
		EndsAt:     end,
	}
}

func TestGetPlanNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetPlan(context.Background(), "missing"); !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("err = %v, want ErrPlanNotFound", err)
	}
	if _, err := s.GetTeam(context.Background(), "missing"); !errors.Is(err, ErrTeamNotFound) {
		t.Fatalf("err = %v, want ErrTeamNotFound", err)
	}
	if _, err := s.GetBinding(context.Background(), "missing"); !errors.Is(err, ErrBindingNotFound) {
		t.Fatalf("err = %v, want ErrBindingNotFound", err)
	}
}

func TestUpsertSlicesOverwritesSameID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	end := start.Add(8 * time.Hour)

	first := slice("slice-1", "cust-1", models.RoleOnHours, start, end)
	if err := s.UpsertSlices(ctx, []models.ScheduleSlice{first}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	second := first
	second.MemberIDs = []string{"u2"}
	if err := s.UpsertSlices(ctx, []models.ScheduleSlice{second}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	got, err := s.ListSlices(ctx, "cust-1", start.Add(-time.Hour), end.Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("list len = %d, want 1 (overwrite, not duplicate)", len(got))
	}
	if got[0].MemberIDs[0] != "u2" {
		t.Fatalf("member = %s, want u2", got[0].MemberIDs[0])
	}
}

func TestDeleteFutureSlicesHonorsCutoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	past := slice("past", "cust-1", models.RoleBackup, base.Add(-24*time.Hour), base)
	atCutoff := slice("at", "cust-1", models.RoleBackup, base, base.Add(24*time.Hour))
	future := slice("future", "cust-1", models.RoleBackup, base.Add(24*time.Hour), base.Add(48*time.Hour))
	other := slice("other", "cust-2", models.RoleBackup, base.Add(24*time.Hour), base.Add(48*time.Hour))
	if err := s.UpsertSlices(ctx, []models.ScheduleSlice{past, atCutoff, future, other}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := s.DeleteFutureSlices(ctx, "cust-1", base); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := s.ListSlices(ctx, "cust-1", base.Add(-48*time.Hour), base.Add(96*time.Hour), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "past" {
		t.Fatalf("remaining = %v, want only past slice", got)
	}

	// Other customers are untouched.
	otherGot, err := s.ListSlices(ctx, "cust-2", base.Add(-48*time.Hour), base.Add(96*time.Hour), 0)
	if err != nil {
		t.Fatalf("list other: %v", err)
	}
	if len(otherGot) != 1 {
		t.Fatalf("other customer slices = %d, want 1", len(otherGot))
	}
}

func TestListSlicesOrderingAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	var all []models.ScheduleSlice
	for i := 4; i >= 0; i-- {
		start := base.Add(time.Duration(i) * 24 * time.Hour)
		all = append(all, slice(start.Format(time.RFC3339), "cust-1", models.RoleBackup, start, start.Add(24*time.Hour)))
	}
	if err := s.UpsertSlices(ctx, all); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.ListSlices(ctx, "cust-1", base, base.Add(10*24*time.Hour), 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("list len = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].StartsAt.Before(got[i-1].StartsAt) {
			t.Fatalf("list not ordered by starts_at")
		}
	}
}

func TestListSlicesIntersectsHalfOpenWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	covering := slice("covering", "cust-1", models.RoleBackup, base, base.Add(24*time.Hour))
	if err := s.UpsertSlices(ctx, []models.ScheduleSlice{covering}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// A query window inside the slice still finds it.
	got, err := s.ListSlices(ctx, "cust-1", base.Add(6*time.Hour), base.Add(7*time.Hour), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("list len = %d, want 1", len(got))
	}

	// A window starting exactly at the slice end misses it.
	got, err = s.ListSlices(ctx, "cust-1", base.Add(24*time.Hour), base.Add(25*time.Hour), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("list len = %d, want 0", len(got))
	}
}

func TestLatestSliceEnd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	end, err := s.LatestSliceEnd(ctx, "cust-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !end.IsZero() {
		t.Fatalf("latest on empty store = %v, want zero", end)
	}

	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if err := s.UpsertSlices(ctx, []models.ScheduleSlice{
		slice("a", "cust-1", models.RoleBackup, base, base.Add(24*time.Hour)),
		slice("b", "cust-1", models.RoleBackup, base.Add(24*time.Hour), base.Add(48*time.Hour)),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	end, err = s.LatestSliceEnd(ctx, "cust-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !end.Equal(base.Add(48 * time.Hour)) {
		t.Fatalf("latest = %v, want %v", end, base.Add(48*time.Hour))
	}
}

func TestLatestOverhangEnd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	end, err := s.LatestOverhangEnd(ctx, "cust-1", base)
	if err != nil {
		t.Fatalf("overhang: %v", err)
	}
	if !end.IsZero() {
		t.Fatalf("overhang on empty store = %v, want zero", end)
	}

	if err := s.UpsertSlices(ctx, []models.ScheduleSlice{
		slice("on", "cust-1", models.RoleOnHours, base.Add(14*time.Hour), base.Add(22*time.Hour)),
		slice("backup", "cust-1", models.RoleBackup, base.Add(5*time.Hour), base.Add(29*time.Hour)),
		slice("later", "cust-1", models.RoleOnHours, base.Add(38*time.Hour), base.Add(46*time.Hour)),
		slice("other", "cust-2", models.RoleBackup, base, base.Add(72*time.Hour)),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// 18:00 falls inside both day-one slices; only slices starting before
	// the cutoff count, and only for this customer.
	end, err = s.LatestOverhangEnd(ctx, "cust-1", base.Add(18*time.Hour))
	if err != nil {
		t.Fatalf("overhang: %v", err)
	}
	if !end.Equal(base.Add(29 * time.Hour)) {
		t.Fatalf("overhang = %v, want %v", end, base.Add(29*time.Hour))
	}

	// A cutoff before everything has no overhang.
	end, err = s.LatestOverhangEnd(ctx, "cust-1", base)
	if err != nil {
		t.Fatalf("overhang: %v", err)
	}
	if !end.IsZero() {
		t.Fatalf("overhang before first slice = %v, want zero", end)
	}
}
