/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"time"

	"gorm.io/gorm"

	"github.com/incidentworks/vigil/internal/telemetry"
)

const _startTime = "gorm:start_time"

// RegisterCallbacks registers telemetry callbacks for GORM operations.
func RegisterCallbacks(db *gorm.DB) error {
	// gorm's callback processor type is unexported, so hold the
	// Before/After chain results behind a Register-only interface.
	type registrar interface {
		Register(name string, fn func(*gorm.DB)) error
	}
	hooks := []struct {
		before    registrar
		after     registrar
		operation string
	}{
		{db.Callback().Query().Before("gorm:query"), db.Callback().Query().After("gorm:query"), "query"},
		{db.Callback().Create().Before("gorm:create"), db.Callback().Create().After("gorm:create"), "create"},
		{db.Callback().Update().Before("gorm:update"), db.Callback().Update().After("gorm:update"), "update"},
		{db.Callback().Delete().Before("gorm:delete"), db.Callback().Delete().After("gorm:delete"), "delete"},
	}

	for _, hook := range hooks {
		if err := hook.before.
			Register("telemetry:before_"+hook.operation, beforeCallback); err != nil {
			return err
		}
		if err := hook.after.
			Register("telemetry:after_"+hook.operation, afterCallback(hook.operation)); err != nil {
			return err
		}
	}
	return nil
}

func beforeCallback(db *gorm.DB) {
	db.InstanceSet(_startTime, time.Now())
}

func afterCallback(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		startTimeValue, exists := db.InstanceGet(_startTime)
		if !exists {
			return
		}
		startTime, ok := startTimeValue.(time.Time)
		if !ok {
			return
		}

		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		telemetry.DatabaseQueryDuration.WithLabelValues(operation, tableName).
			Observe(time.Since(startTime).Seconds())

		if db.Error != nil && db.Error != gorm.ErrRecordNotFound {
			telemetry.DatabaseErrorsTotal.WithLabelValues(operation, "query_error").Inc()
		}
	}
}

// UpdateConnectionMetrics refreshes connection pool gauges. Call
// periodically, e.g. every 30 seconds.
func UpdateConnectionMetrics(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	telemetry.DatabaseConnectionsActive.Set(float64(sqlDB.Stats().OpenConnections))
}
