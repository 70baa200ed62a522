/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/incidentworks/vigil/internal/coverage"
	"github.com/incidentworks/vigil/internal/db"
	"github.com/incidentworks/vigil/internal/models"
	"github.com/incidentworks/vigil/internal/schedule"
	"github.com/incidentworks/vigil/internal/store"
)

// Regenerate flags
var (
	regenerateCustomerID string
	regenerateFrom       string
	regenerateAll        bool
)

var regenerateCmd = &cobra.Command{
	Use:   "regenerate",
	Short: "Rebuild a customer's future coverage timeline",
	Long: `Deletes a customer's coverage slices from a point in time forward and
rebuilds them from the current plan, team, and binding configuration.

Use this after changing a plan or roster when a running server is not
available to pick the change up, or to repair a timeline by hand.

Examples:
  vigil regenerate --customer acme
  vigil regenerate --customer acme --from 2026-09-01T00:00:00Z
  vigil regenerate --all`,
	RunE: runRegenerate,
}

func init() {
	rootCmd.AddCommand(regenerateCmd)

	regenerateCmd.Flags().StringVar(&regenerateCustomerID, "customer", "", "Customer ID to regenerate")
	regenerateCmd.Flags().StringVar(&regenerateFrom, "from", "", "Regenerate from this instant (RFC 3339, default: now)")
	regenerateCmd.Flags().BoolVar(&regenerateAll, "all", false, "Regenerate every bound customer")
}

func runRegenerate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	if regenerateCustomerID == "" && !regenerateAll {
		return fmt.Errorf("either --customer or --all is required")
	}
	if regenerateCustomerID != "" && regenerateAll {
		return fmt.Errorf("--customer and --all are mutually exclusive")
	}

	from := time.Now().UTC()
	if regenerateFrom != "" {
		parsed, err := time.Parse(time.RFC3339, regenerateFrom)
		if err != nil {
			return fmt.Errorf("parse --from: %w", err)
		}
		from = parsed.UTC()
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { _ = db.Close(database) }()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	st := store.New(database)
	generator := schedule.NewGenerator(logger)
	cov := coverage.New(st, generator, cfg.HorizonLookahead, logger)

	ctx := context.Background()

	var bindings []models.CustomerBinding
	if regenerateAll {
		bindings, err = st.ListBindings(ctx)
		if err != nil {
			return fmt.Errorf("list bindings: %w", err)
		}
	} else {
		binding, err := st.GetBinding(ctx, regenerateCustomerID)
		if err != nil {
			return fmt.Errorf("load binding for %s: %w", regenerateCustomerID, err)
		}
		bindings = []models.CustomerBinding{binding}
	}

	failures := 0
	for _, binding := range bindings {
		count, err := cov.Regenerate(ctx, binding.CustomerID, from)
		if err != nil {
			logger.Error().Err(err).Str("customer_id", binding.CustomerID).Msg("regeneration failed")
			failures++
			continue
		}
		logger.Info().
			Str("customer_id", binding.CustomerID).
			Time("from", from).
			Int("slices", count).
			Msg("timeline regenerated")
	}

	if failures > 0 {
		return fmt.Errorf("regeneration failed for %d of %d customers", failures, len(bindings))
	}
	return nil
}
