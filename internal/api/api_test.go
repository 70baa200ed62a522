/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/incidentworks/vigil/internal/auth"
	"github.com/incidentworks/vigil/internal/coverage"
	"github.com/incidentworks/vigil/internal/models"
	"github.com/incidentworks/vigil/internal/schedule"
	"github.com/incidentworks/vigil/internal/store"
)

var testSecret = []byte("test-secret")

type testEnv struct {
	router *chi.Mux
	store  *store.Store
	cov    *coverage.Service
	admin  string
	viewer string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Plan{}, &models.Team{}, &models.CustomerBinding{}, &models.ScheduleSlice{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	st := store.New(db)
	cov := coverage.New(st, schedule.NewGenerator(zerolog.Nop()), 14*24*time.Hour, zerolog.Nop())

	api := New(st, cov, testSecret, zerolog.Nop())
	router := chi.NewRouter()
	api.Routes(router)

	admin, err := auth.Issue(testSecret, auth.Claims{UserID: "admin", Roles: []string{RoleAdmin}}, time.Hour)
	if err != nil {
		t.Fatalf("issue admin token: %v", err)
	}
	viewer, err := auth.Issue(testSecret, auth.Claims{UserID: "viewer", Roles: []string{"viewer"}}, time.Hour)
	if err != nil {
		t.Fatalf("issue viewer token: %v", err)
	}

	return &testEnv{router: router, store: st, cov: cov, admin: admin, viewer: viewer}
}

func (env *testEnv) request(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

func (env *testEnv) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	plan := models.Plan{
		ID:       "plan-1",
		Name:     "business-hours",
		Timezone: "America/New_York",
		Windows: []models.DailyWindow{
			{Weekday: time.Monday, Start: "09:00", End: "17:00"},
		},
		Rotation: models.RotationDefaults{
			Mode:       models.RotationRollingIndividual,
			Cadence:    models.CadenceDaily,
			AnchorDate: "2026-03-02",
		},
		Version: "v1",
	}
	team := models.Team{ID: "team-1", Name: "ops", Enabled: true, Members: []models.TeamMember{
		{UserID: "alice", Enabled: true},
	}}
	binding := models.CustomerBinding{
		ID:             "binding-1",
		CustomerID:     "acme",
		PlanID:         "plan-1",
		OnHoursTeamID:  "team-1",
		OffHoursTeamID: "team-1",
		BackupTeamID:   "team-1",
	}

	if err := env.store.SavePlan(ctx, plan); err != nil {
		t.Fatalf("save plan: %v", err)
	}
	if err := env.store.SaveTeam(ctx, team); err != nil {
		t.Fatalf("save team: %v", err)
	}
	if err := env.store.SaveBinding(ctx, binding); err != nil {
		t.Fatalf("save binding: %v", err)
	}
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)

	rr := env.request(t, http.MethodGet, "/api/v1/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestCoverageRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	rr := env.request(t, http.MethodGet, "/api/v1/customers/acme/coverage/now", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCoverageNow(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	if _, err := env.cov.Extend(context.Background(),
		"acme",
		time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
	); err != nil {
		t.Fatalf("Extend: %v", err)
	}

	rr := env.request(t, http.MethodGet,
		"/api/v1/customers/acme/coverage/now?at=2026-03-02T15:00:00Z", env.viewer, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var cov coverage.Coverage
	if err := json.Unmarshal(rr.Body.Bytes(), &cov); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !cov.HasCoverage {
		t.Fatal("expected coverage during business hours")
	}
	if cov.Primary == nil || cov.Primary.Role != models.RoleOnHours {
		t.Fatalf("primary = %+v, want on-hours", cov.Primary)
	}
}

func TestCoverageNowUnknownCustomer(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	rr := env.request(t, http.MethodGet, "/api/v1/customers/nobody/coverage/now", env.viewer, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestRegenerateRequiresAdminRole(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	rr := env.request(t, http.MethodPost,
		"/api/v1/customers/acme/schedule/regenerate", env.viewer, `{}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d", rr.Code)
	}

	rr = env.request(t, http.MethodPost,
		"/api/v1/customers/acme/schedule/regenerate", env.admin,
		`{"from":"2026-03-02T00:00:00Z"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d body=%s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Slices int `json:"slices"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Slices == 0 {
		t.Fatal("regeneration reported zero slices")
	}
}

func TestExtendRejectsMissingWindow(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	rr := env.request(t, http.MethodPost,
		"/api/v1/customers/acme/schedule/extend", env.admin,
		`{"from":"2026-03-02T00:00:00Z"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing to, got %d", rr.Code)
	}
}

func TestScheduleWindow(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	rr := env.request(t, http.MethodGet,
		"/api/v1/customers/acme/schedule?from=2026-03-02T00:00:00Z&to=2026-03-03T00:00:00Z", env.viewer, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var sched coverage.Schedule
	if err := json.Unmarshal(rr.Body.Bytes(), &sched); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sched.Timezone != "America/New_York" {
		t.Fatalf("timezone = %q", sched.Timezone)
	}
	if len(sched.Slices) == 0 {
		t.Fatal("expected lazily materialized slices")
	}
}

func TestScheduleWindowInvalidRange(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	rr := env.request(t, http.MethodGet,
		"/api/v1/customers/acme/schedule?from=2026-03-03T00:00:00Z&to=2026-03-02T00:00:00Z", env.viewer, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestPlanSaveValidation(t *testing.T) {
	env := newTestEnv(t)

	rr := env.request(t, http.MethodPost, "/api/v1/plans/", env.admin,
		`{"name":"p","timezone":"Mars/Olympus"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad timezone, got %d", rr.Code)
	}

	rr = env.request(t, http.MethodPost, "/api/v1/plans/", env.admin,
		`{"name":"p","timezone":"UTC","windows":[{"weekday":1,"start":"09:00","end":"17:00"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var plan models.Plan
	if err := json.Unmarshal(rr.Body.Bytes(), &plan); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if plan.ID == "" {
		t.Fatal("expected generated plan ID")
	}
}

func TestHolidayImport(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	body := "holidays:\n  - date: 2026-12-25\n    name: Christmas Day\n  - date: 2026-01-01\n    name: New Year's Day\n"
	rr := env.request(t, http.MethodPost, "/api/v1/plans/plan-1/holidays/import", env.admin, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Added    int      `json:"added"`
		Holidays []string `json:"holidays"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Added != 2 {
		t.Fatalf("added = %d, want 2", resp.Added)
	}

	// Re-importing the same calendar adds nothing.
	rr = env.request(t, http.MethodPost, "/api/v1/plans/plan-1/holidays/import", env.admin, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Added != 0 {
		t.Fatalf("re-import added = %d, want 0", resp.Added)
	}
}

func TestHolidayImportRejectsBadDate(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	body := "holidays:\n  - date: christmas\n"
	rr := env.request(t, http.MethodPost, "/api/v1/plans/plan-1/holidays/import", env.admin, body)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestBindingSaveRejectsUnknownTeam(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	rr := env.request(t, http.MethodPost, "/api/v1/bindings/", env.admin,
		`{"customer_id":"globex","plan_id":"plan-1","on_hours_team_id":"team-1","off_hours_team_id":"team-1","backup_team_id":"ghost-team"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestBindingSaveAndGet(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	rr := env.request(t, http.MethodPost, "/api/v1/bindings/", env.admin,
		`{"customer_id":"globex","plan_id":"plan-1","on_hours_team_id":"team-1","off_hours_team_id":"team-1","backup_team_id":"team-1","effective_from":"2026-01-01"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = env.request(t, http.MethodGet, "/api/v1/bindings/globex", env.viewer, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var binding models.CustomerBinding
	if err := json.Unmarshal(rr.Body.Bytes(), &binding); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if binding.PlanID != "plan-1" || binding.EffectiveFrom != "2026-01-01" {
		t.Fatalf("unexpected binding: %+v", binding)
	}
}
