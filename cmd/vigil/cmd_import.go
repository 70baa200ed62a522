/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/incidentworks/vigil/internal/db"
	"github.com/incidentworks/vigil/internal/models"
	"github.com/incidentworks/vigil/internal/store"
)

// Holiday import flags
var (
	importHolidaysPlanID string
	importHolidaysFile   string
	importHolidaysDryRun bool
)

var importHolidaysCmd = &cobra.Command{
	Use:   "import-holidays",
	Short: "Merge a YAML holiday calendar into a plan",
	Long: `Reads a YAML holiday calendar and merges its dates into a plan's holiday
list. Dates already present are kept; nothing is removed.

The document format:

  holidays:
    - date: 2026-12-25
      name: Christmas Day

Examples:
  vigil import-holidays --plan <uuid> --file us-holidays-2026.yaml
  vigil import-holidays --plan <uuid> --file us-holidays-2026.yaml --dry-run`,
	RunE: runImportHolidays,
}

func init() {
	rootCmd.AddCommand(importHolidaysCmd)

	importHolidaysCmd.Flags().StringVar(&importHolidaysPlanID, "plan", "", "Plan ID to import into (required)")
	importHolidaysCmd.Flags().StringVar(&importHolidaysFile, "file", "", "Path to YAML holiday calendar (required)")
	importHolidaysCmd.Flags().BoolVar(&importHolidaysDryRun, "dry-run", false, "Parse and report without saving")
	_ = importHolidaysCmd.MarkFlagRequired("plan")
	_ = importHolidaysCmd.MarkFlagRequired("file")
}

type holidayCalendar struct {
	Holidays []struct {
		Date string `yaml:"date"`
		Name string `yaml:"name"`
	} `yaml:"holidays"`
}

func runImportHolidays(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	f, err := os.Open(importHolidaysFile)
	if err != nil {
		return fmt.Errorf("open calendar: %w", err)
	}
	defer f.Close()

	var calendar holidayCalendar
	if err := yaml.NewDecoder(f).Decode(&calendar); err != nil {
		return fmt.Errorf("parse calendar: %w", err)
	}
	if len(calendar.Holidays) == 0 {
		return fmt.Errorf("calendar contains no holidays")
	}
	for _, h := range calendar.Holidays {
		if _, err := time.Parse(models.DateFormat, h.Date); err != nil {
			return fmt.Errorf("invalid holiday date %q: %w", h.Date, err)
		}
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { _ = db.Close(database) }()

	st := store.New(database)
	ctx := context.Background()

	plan, err := st.GetPlan(ctx, importHolidaysPlanID)
	if err != nil {
		return fmt.Errorf("load plan %s: %w", importHolidaysPlanID, err)
	}

	seen := make(map[string]struct{}, len(plan.Holidays))
	for _, h := range plan.Holidays {
		seen[h] = struct{}{}
	}

	added := 0
	for _, h := range calendar.Holidays {
		if _, ok := seen[h.Date]; ok {
			continue
		}
		seen[h.Date] = struct{}{}
		plan.Holidays = append(plan.Holidays, h.Date)
		added++
	}
	sort.Strings(plan.Holidays)

	if importHolidaysDryRun {
		logger.Info().
			Str("plan_id", plan.ID).
			Int("would_add", added).
			Int("total", len(plan.Holidays)).
			Msg("dry run, nothing saved")
		return nil
	}

	plan.Version = uuid.NewString()
	if err := st.SavePlan(ctx, plan); err != nil {
		return fmt.Errorf("save plan: %w", err)
	}

	logger.Info().
		Str("plan_id", plan.ID).
		Int("added", added).
		Int("total", len(plan.Holidays)).
		Msg("holiday calendar imported")
	return nil
}
