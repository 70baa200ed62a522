/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the HTTP surface: coverage queries, schedule windows,
// generation triggers, and admin CRUD for plans, teams, and bindings.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/incidentworks/vigil/internal/auth"
	"github.com/incidentworks/vigil/internal/cache"
	"github.com/incidentworks/vigil/internal/coverage"
	"github.com/incidentworks/vigil/internal/events"
	"github.com/incidentworks/vigil/internal/store"
)

// RoleAdmin is required for mutating plans, teams, bindings, and schedules.
const RoleAdmin = "admin"

// API exposes HTTP handlers.
type API struct {
	store     *store.Store
	coverage  *coverage.Service
	cache     *cache.Cache
	bus       *events.Bus
	jwtSecret []byte
	logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(st *store.Store, cov *coverage.Service, jwtSecret []byte, logger zerolog.Logger) *API {
	return &API{
		store:     st,
		coverage:  cov,
		jwtSecret: jwtSecret,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// SetCache sets the cache used for invalidation after admin edits.
func (a *API) SetCache(c *cache.Cache) {
	a.cache = c
}

// SetBus sets the event bus for publishing configuration-change events.
func (a *API) SetBus(b *events.Bus) {
	a.bus = b
}

// Routes mounts all API routes on the router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))

			pr.Route("/customers/{customerID}", func(r chi.Router) {
				r.Get("/coverage/now", a.handleCoverageNow)
				r.Get("/schedule", a.handleScheduleGet)

				r.Group(func(ar chi.Router) {
					ar.Use(auth.RequireRole(RoleAdmin))
					ar.Post("/schedule/regenerate", a.handleScheduleRegenerate)
					ar.Post("/schedule/extend", a.handleScheduleExtend)
				})
			})

			pr.Route("/plans", func(r chi.Router) {
				r.Get("/", a.handlePlansList)
				r.Get("/{planID}", a.handlePlanGet)

				r.Group(func(ar chi.Router) {
					ar.Use(auth.RequireRole(RoleAdmin))
					ar.Post("/", a.handlePlanSave)
					ar.Post("/{planID}/holidays/import", a.handleHolidayImport)
				})
			})

			pr.Route("/teams", func(r chi.Router) {
				r.Get("/", a.handleTeamsList)
				r.Get("/{teamID}", a.handleTeamGet)

				r.Group(func(ar chi.Router) {
					ar.Use(auth.RequireRole(RoleAdmin))
					ar.Post("/", a.handleTeamSave)
				})
			})

			pr.Route("/bindings", func(r chi.Router) {
				r.Get("/", a.handleBindingsList)
				r.Get("/{customerID}", a.handleBindingGet)

				r.Group(func(ar chi.Router) {
					ar.Use(auth.RequireRole(RoleAdmin))
					ar.Post("/", a.handleBindingSave)
				})
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) publish(eventType events.EventType, payload events.Payload) {
	if a.bus != nil {
		a.bus.Publish(eventType, payload)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// parseTimeParam reads an RFC 3339 query parameter, returning def when
// absent. The second return is false when the value is present but invalid.
func parseTimeParam(r *http.Request, name string, def time.Time) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return parsed.UTC(), true
}
