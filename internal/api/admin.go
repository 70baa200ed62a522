/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/incidentworks/vigil/internal/events"
	"github.com/incidentworks/vigil/internal/models"
	"github.com/incidentworks/vigil/internal/store"
)

func (a *API) handlePlansList(w http.ResponseWriter, r *http.Request) {
	plans, err := a.store.ListPlans(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed")
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

func (a *API) handlePlanGet(w http.ResponseWriter, r *http.Request) {
	plan, err := a.store.GetPlan(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		if errors.Is(err, store.ErrPlanNotFound) {
			writeError(w, http.StatusNotFound, "plan_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get_failed")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (a *API) handlePlanSave(w http.ResponseWriter, r *http.Request) {
	var plan models.Plan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if code := validatePlan(&plan); code != "" {
		writeError(w, http.StatusUnprocessableEntity, code)
		return
	}
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	// Every save gets a fresh version so slices record which revision
	// produced them.
	plan.Version = uuid.NewString()

	if err := a.store.SavePlan(r.Context(), plan); err != nil {
		writeError(w, http.StatusInternalServerError, "save_failed")
		return
	}

	a.publish(events.EventPlanUpdated, events.Payload{"plan_id": plan.ID, "version": plan.Version})
	writeJSON(w, http.StatusOK, plan)
}

func validatePlan(plan *models.Plan) string {
	if plan.Name == "" {
		return "missing_name"
	}
	if plan.Timezone == "" {
		return "missing_timezone"
	}
	if _, err := time.LoadLocation(plan.Timezone); err != nil {
		return "invalid_timezone"
	}
	for _, window := range plan.Windows {
		if _, err := time.Parse(models.ClockFormat, window.Start); err != nil {
			return "invalid_window_start"
		}
		if _, err := time.Parse(models.ClockFormat, window.End); err != nil {
			return "invalid_window_end"
		}
	}
	switch plan.Rotation.Mode {
	case models.RotationRollingIndividual, models.RotationWholeTeam, "":
	default:
		return "invalid_rotation_mode"
	}
	switch plan.Rotation.Cadence {
	case models.CadenceDaily, models.CadenceWeekly, "":
	default:
		return "invalid_rotation_cadence"
	}
	if plan.Rotation.AnchorDate != "" {
		if _, err := time.Parse(models.DateFormat, plan.Rotation.AnchorDate); err != nil {
			return "invalid_anchor_date"
		}
	}
	for _, h := range plan.Holidays {
		if _, err := time.Parse(models.DateFormat, h); err != nil {
			return "invalid_holiday_date"
		}
	}
	for _, o := range plan.Overrides {
		if _, err := time.Parse(models.DateFormat, o.Date); err != nil {
			return "invalid_override_date"
		}
	}
	return ""
}

// holidayImport is the YAML document accepted by the holiday importer:
//
//	holidays:
//	  - date: 2026-12-25
//	    name: Christmas Day
type holidayImport struct {
	Holidays []struct {
		Date string `yaml:"date"`
		Name string `yaml:"name"`
	} `yaml:"holidays"`
}

// handleHolidayImport merges a YAML holiday calendar into the plan's
// holiday list. Dates already present are kept; nothing is removed.
func (a *API) handleHolidayImport(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")

	plan, err := a.store.GetPlan(r.Context(), planID)
	if err != nil {
		if errors.Is(err, store.ErrPlanNotFound) {
			writeError(w, http.StatusNotFound, "plan_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get_failed")
		return
	}

	var doc holidayImport
	if err := yaml.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_yaml")
		return
	}
	if len(doc.Holidays) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "no_holidays")
		return
	}

	seen := make(map[string]struct{}, len(plan.Holidays))
	for _, h := range plan.Holidays {
		seen[h] = struct{}{}
	}

	added := 0
	for _, h := range doc.Holidays {
		if _, err := time.Parse(models.DateFormat, h.Date); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid_holiday_date")
			return
		}
		if _, ok := seen[h.Date]; ok {
			continue
		}
		seen[h.Date] = struct{}{}
		plan.Holidays = append(plan.Holidays, h.Date)
		added++
	}
	sort.Strings(plan.Holidays)
	plan.Version = uuid.NewString()

	if err := a.store.SavePlan(r.Context(), plan); err != nil {
		writeError(w, http.StatusInternalServerError, "save_failed")
		return
	}

	a.publish(events.EventPlanUpdated, events.Payload{"plan_id": plan.ID, "holidays_added": added})
	a.logger.Info().Str("plan_id", plan.ID).Int("added", added).Msg("imported holiday calendar")

	writeJSON(w, http.StatusOK, map[string]any{
		"plan_id":  plan.ID,
		"added":    added,
		"holidays": plan.Holidays,
	})
}

func (a *API) handleTeamsList(w http.ResponseWriter, r *http.Request) {
	teams, err := a.store.ListTeams(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed")
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

func (a *API) handleTeamGet(w http.ResponseWriter, r *http.Request) {
	team, err := a.store.GetTeam(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		if errors.Is(err, store.ErrTeamNotFound) {
			writeError(w, http.StatusNotFound, "team_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get_failed")
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (a *API) handleTeamSave(w http.ResponseWriter, r *http.Request) {
	var team models.Team
	if err := json.NewDecoder(r.Body).Decode(&team); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if team.Name == "" {
		writeError(w, http.StatusUnprocessableEntity, "missing_name")
		return
	}
	if team.ID == "" {
		team.ID = uuid.NewString()
	}

	if err := a.store.SaveTeam(r.Context(), team); err != nil {
		writeError(w, http.StatusInternalServerError, "save_failed")
		return
	}

	a.publish(events.EventTeamUpdated, events.Payload{"team_id": team.ID})
	writeJSON(w, http.StatusOK, team)
}

func (a *API) handleBindingsList(w http.ResponseWriter, r *http.Request) {
	bindings, err := a.store.ListBindings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed")
		return
	}
	writeJSON(w, http.StatusOK, bindings)
}

func (a *API) handleBindingGet(w http.ResponseWriter, r *http.Request) {
	binding, err := a.store.GetBinding(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		if errors.Is(err, store.ErrBindingNotFound) {
			writeError(w, http.StatusNotFound, "binding_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get_failed")
		return
	}
	writeJSON(w, http.StatusOK, binding)
}

func (a *API) handleBindingSave(w http.ResponseWriter, r *http.Request) {
	var binding models.CustomerBinding
	if err := json.NewDecoder(r.Body).Decode(&binding); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if code := a.validateBinding(r, &binding); code != "" {
		writeError(w, http.StatusUnprocessableEntity, code)
		return
	}
	if binding.ID == "" {
		binding.ID = uuid.NewString()
	}

	if err := a.store.SaveBinding(r.Context(), binding); err != nil {
		writeError(w, http.StatusInternalServerError, "save_failed")
		return
	}

	// Cached coverage is stale the moment the binding changes.
	if a.cache != nil {
		a.cache.InvalidateCustomer(r.Context(), binding.CustomerID)
	}
	a.publish(events.EventBindingUpdated, events.Payload{
		"customer_id": binding.CustomerID,
		"plan_id":     binding.PlanID,
	})
	writeJSON(w, http.StatusOK, binding)
}

func (a *API) validateBinding(r *http.Request, binding *models.CustomerBinding) string {
	if binding.CustomerID == "" {
		return "missing_customer_id"
	}
	if binding.PlanID == "" {
		return "missing_plan_id"
	}
	if binding.OnHoursTeamID == "" || binding.OffHoursTeamID == "" || binding.BackupTeamID == "" {
		return "missing_team_binding"
	}
	if _, err := a.store.GetPlan(r.Context(), binding.PlanID); err != nil {
		return "unknown_plan"
	}
	for _, role := range []models.Role{models.RoleOnHours, models.RoleOffHours, models.RoleBackup} {
		if _, err := a.store.GetTeam(r.Context(), binding.BoundTeamID(role)); err != nil {
			return "unknown_team"
		}
	}
	if binding.EffectiveFrom != "" {
		if _, err := time.Parse(models.DateFormat, binding.EffectiveFrom); err != nil {
			return "invalid_effective_from"
		}
	}
	if binding.EffectiveThrough != "" {
		if _, err := time.Parse(models.DateFormat, binding.EffectiveThrough); err != nil {
			return "invalid_effective_through"
		}
	}
	return ""
}
