/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/incidentworks/vigil/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Plan{},
		&models.Team{},
		&models.CustomerBinding{},
		&models.ScheduleSlice{},
	); err != nil {
		return err
	}

	return applyPostgresSliceOverlapGuard(database)
}

// applyPostgresSliceOverlapGuard installs a trigger rejecting slices that
// overlap an existing slice for the same customer and role. Generation
// should never produce overlaps; the trigger catches bugs before they
// become double-paged rotations.
func applyPostgresSliceOverlapGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE OR REPLACE FUNCTION prevent_slice_overlap()
RETURNS trigger
LANGUAGE plpgsql
AS $$
BEGIN
  IF NEW.ends_at <= NEW.starts_at THEN
    RAISE EXCEPTION 'schedule slice end must be after start'
      USING ERRCODE = '23514';
  END IF;

  IF EXISTS (
    SELECT 1
    FROM schedule_slices ss
    WHERE ss.customer_id = NEW.customer_id
      AND ss.role = NEW.role
      AND ss.id <> NEW.id
      AND tstzrange(ss.starts_at, ss.ends_at, '[)') && tstzrange(NEW.starts_at, NEW.ends_at, '[)')
  ) THEN
    RAISE EXCEPTION 'overlapping coverage is not allowed for customer % role %', NEW.customer_id, NEW.role
      USING ERRCODE = '23514';
  END IF;

  RETURN NEW;
END;
$$;

DROP TRIGGER IF EXISTS trg_prevent_slice_overlap ON schedule_slices;

CREATE TRIGGER trg_prevent_slice_overlap
BEFORE INSERT OR UPDATE OF customer_id, role, starts_at, ends_at
ON schedule_slices
FOR EACH ROW
EXECUTE FUNCTION prevent_slice_overlap();
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres slice overlap guard: %w", err)
	}

	return nil
}
