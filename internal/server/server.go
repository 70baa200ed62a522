/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires configuration, storage, generation, and HTTP routing
// into one process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/incidentworks/vigil/internal/api"
	"github.com/incidentworks/vigil/internal/cache"
	"github.com/incidentworks/vigil/internal/config"
	"github.com/incidentworks/vigil/internal/coverage"
	"github.com/incidentworks/vigil/internal/db"
	"github.com/incidentworks/vigil/internal/eventbus"
	"github.com/incidentworks/vigil/internal/events"
	"github.com/incidentworks/vigil/internal/leadership"
	"github.com/incidentworks/vigil/internal/schedule"
	"github.com/incidentworks/vigil/internal/scheduler"
	"github.com/incidentworks/vigil/internal/store"
	"github.com/incidentworks/vigil/internal/telemetry"
	"github.com/incidentworks/vigil/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db              *gorm.DB
	cache           *cache.Cache
	store           *store.Store
	coverage        *coverage.Service
	maintainer      *scheduler.Service
	leaderAwareLoop *scheduler.LeaderAwareService
	api             *api.API
	bus             *events.Bus
	natsBridge      *eventbus.Bridge

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("vigil-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	// Prometheus scrapes a separate listener so metrics never ride the
	// public API address.
	if cfg.MetricsBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 15 * time.Second,
		}
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		entityCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		} else {
			s.cache = entityCache
			s.DeferClose(func() error { return s.cache.Close() })
		}
	}

	s.store = store.New(database)
	generator := schedule.NewGenerator(s.logger)
	s.coverage = coverage.New(s.store, generator, s.cfg.HorizonLookahead, s.logger)
	s.coverage.SetBus(s.bus)
	if s.cache != nil {
		s.coverage.SetCache(s.cache)
	}

	s.maintainer = scheduler.New(s.store, s.coverage,
		s.cfg.HorizonInterval, s.cfg.HorizonLookahead, s.cfg.HorizonRetention, s.logger)

	// Leader election keeps horizon maintenance on exactly one replica.
	if s.cfg.LeaderElectionEnabled {
		electionConfig := leadership.ElectionConfig{
			RedisAddr:     s.cfg.RedisAddr,
			RedisPassword: s.cfg.RedisPassword,
			RedisDB:       s.cfg.RedisDB,
			InstanceID:    s.cfg.InstanceID,
		}

		election, err := leadership.NewElection(electionConfig, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}

		s.leaderAwareLoop = scheduler.NewLeaderAware(s.maintainer, election, s.logger)
		s.DeferClose(func() error { return s.leaderAwareLoop.Stop() })

		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", electionConfig.InstanceID).
			Msg("leader election enabled for horizon maintenance")
	}

	if s.cfg.NATSURL != "" {
		bridge, err := eventbus.NewBridge(s.cfg.NATSURL, s.bus, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("NATS bridge unavailable, events stay in-process")
		} else {
			s.natsBridge = bridge
			s.DeferClose(func() error { return s.natsBridge.Close() })
			for _, eventType := range []events.EventType{
				events.EventScheduleRegenerated,
				events.EventScheduleExtended,
				events.EventPlanUpdated,
				events.EventTeamUpdated,
				events.EventBindingUpdated,
				events.EventCoverageGap,
			} {
				bridge.Forward(eventType)
			}
		}
	}

	s.api = api.New(s.store, s.coverage, []byte(s.cfg.JWTSigningKey), s.logger)
	s.api.SetBus(s.bus)
	if s.cache != nil {
		s.api.SetCache(s.cache)
	}

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Horizon maintenance (leader-aware if configured, otherwise direct).
	if s.leaderAwareLoop != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.leaderAwareLoop.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("leader-aware horizon loop exited")
			}
		}()
	} else {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.maintainer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("horizon loop exited")
			}
		}()
	}

	if s.metricsServer != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.logger.Info().Str("addr", s.metricsServer.Addr).Msg("metrics server listening")
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Msg("metrics server error")
			}
		}()

		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.metricsServer.Shutdown(shutdownCtx)
		}()
	}

	// Database connection pool metrics.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runChangeListener(ctx)
	}()
}

// runChangeListener reacts to configuration changes on the bus: cached
// coverage is dropped and the affected customers' future timelines are
// rebuilt so the next query reflects the new configuration.
func (s *Server) runChangeListener(ctx context.Context) {
	planUpdated := s.bus.Subscribe(events.EventPlanUpdated)
	bindingUpdated := s.bus.Subscribe(events.EventBindingUpdated)
	regenerated := s.bus.Subscribe(events.EventScheduleRegenerated)

	defer func() {
		s.bus.Unsubscribe(events.EventPlanUpdated, planUpdated)
		s.bus.Unsubscribe(events.EventBindingUpdated, bindingUpdated)
		s.bus.Unsubscribe(events.EventScheduleRegenerated, regenerated)
	}()

	s.logger.Info().Msg("change listener started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("change listener stopped")
			return

		case payload := <-planUpdated:
			if planID, ok := payload["plan_id"].(string); ok {
				s.regeneratePlanCustomers(ctx, planID)
			}

		case payload := <-bindingUpdated:
			if customerID, ok := payload["customer_id"].(string); ok {
				s.invalidateCustomer(ctx, customerID)
				if _, err := s.coverage.Regenerate(ctx, customerID, time.Now().UTC()); err != nil {
					s.logger.Error().Err(err).Str("customer_id", customerID).Msg("regeneration after binding change failed")
				}
			}

		case payload := <-regenerated:
			if customerID, ok := payload["customer_id"].(string); ok {
				s.invalidateCustomer(ctx, customerID)
			}
		}
	}
}

// regeneratePlanCustomers rebuilds every customer bound to the plan.
func (s *Server) regeneratePlanCustomers(ctx context.Context, planID string) {
	bindings, err := s.store.ListBindings(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("plan_id", planID).Msg("listing bindings after plan change failed")
		return
	}
	for _, binding := range bindings {
		if binding.PlanID != planID {
			continue
		}
		s.invalidateCustomer(ctx, binding.CustomerID)
		if _, err := s.coverage.Regenerate(ctx, binding.CustomerID, time.Now().UTC()); err != nil {
			s.logger.Error().Err(err).
				Str("customer_id", binding.CustomerID).
				Str("plan_id", planID).
				Msg("regeneration after plan change failed")
		}
	}
}

func (s *Server) invalidateCustomer(ctx context.Context, customerID string) {
	if s.cache != nil {
		s.cache.InvalidateCustomer(ctx, customerID)
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := `{"status":"ok","version":"` + version.Version + `"`
		if s.leaderAwareLoop != nil {
			if s.leaderAwareLoop.IsLeader() {
				response += `,"leader":true`
			} else {
				response += `,"leader":false`
			}
		}
		response += `}`
		_, _ = w.Write([]byte(response))
	})

	s.api.Routes(s.router)
}
