/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/incidentworks/vigil/internal/schedule"
	"github.com/incidentworks/vigil/internal/store"
)

// handleCoverageNow answers "who is on call right now" for a customer. An
// optional at parameter (RFC 3339) queries a different instant.
func (a *API) handleCoverageNow(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")

	at, ok := parseTimeParam(r, "at", time.Now().UTC())
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_at")
		return
	}

	cov, err := a.coverage.GetCurrentCoverage(r.Context(), customerID, at)
	if err != nil {
		if errors.Is(err, store.ErrBindingNotFound) {
			writeError(w, http.StatusNotFound, "customer_not_found")
			return
		}
		a.logger.Error().Err(err).Str("customer_id", customerID).Msg("coverage query failed")
		writeError(w, http.StatusInternalServerError, "coverage_query_failed")
		return
	}

	writeJSON(w, http.StatusOK, cov)
}

// handleScheduleGet returns the materialized window for a customer. Defaults
// to [now-24h, now+7d) when from/to are absent.
func (a *API) handleScheduleGet(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")
	now := time.Now().UTC()

	from, ok := parseTimeParam(r, "from", now.Add(-24*time.Hour))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_from")
		return
	}
	to, ok := parseTimeParam(r, "to", now.Add(7*24*time.Hour))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_to")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = parsed
	}

	sched, err := a.coverage.GetSchedule(r.Context(), customerID, from, to, limit)
	if err != nil {
		switch {
		case errors.Is(err, schedule.ErrInvalidRange):
			writeError(w, http.StatusBadRequest, "invalid_range")
		case errors.Is(err, store.ErrBindingNotFound):
			writeError(w, http.StatusNotFound, "customer_not_found")
		case errors.Is(err, store.ErrPlanNotFound), errors.Is(err, store.ErrTeamNotFound):
			writeError(w, http.StatusConflict, "binding_misconfigured")
		default:
			a.logger.Error().Err(err).Str("customer_id", customerID).Msg("schedule query failed")
			writeError(w, http.StatusInternalServerError, "schedule_query_failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, sched)
}

type regenerateRequest struct {
	From time.Time `json:"from"`
}

// handleScheduleRegenerate rebuilds the customer's future timeline starting
// at from (defaults to now).
func (a *API) handleScheduleRegenerate(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")

	var req regenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if req.From.IsZero() {
		req.From = time.Now().UTC()
	}

	count, err := a.coverage.Regenerate(r.Context(), customerID, req.From)
	if err != nil {
		a.writeGenerationError(w, customerID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"customer_id": customerID,
		"from":        req.From.UTC(),
		"slices":      count,
	})
}

type extendRequest struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// handleScheduleExtend materializes an explicit window without touching
// slices outside it.
func (a *API) handleScheduleExtend(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")

	var req extendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if req.From.IsZero() || req.To.IsZero() {
		writeError(w, http.StatusBadRequest, "missing_window")
		return
	}

	count, err := a.coverage.Extend(r.Context(), customerID, req.From, req.To)
	if err != nil {
		a.writeGenerationError(w, customerID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"customer_id": customerID,
		"from":        req.From.UTC(),
		"to":          req.To.UTC(),
		"slices":      count,
	})
}

func (a *API) writeGenerationError(w http.ResponseWriter, customerID string, err error) {
	switch {
	case errors.Is(err, schedule.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid_range")
	case errors.Is(err, store.ErrBindingNotFound):
		writeError(w, http.StatusNotFound, "customer_not_found")
	case errors.Is(err, store.ErrPlanNotFound), errors.Is(err, store.ErrTeamNotFound):
		writeError(w, http.StatusConflict, "binding_misconfigured")
	default:
		a.logger.Error().Err(err).Str("customer_id", customerID).Msg("generation failed")
		writeError(w, http.StatusInternalServerError, "generation_failed")
	}
}
