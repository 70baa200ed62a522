/*
Copyright (C) 2026 Incident Works

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"sort"
	"time"
)

// Role identifies which responsibility a schedule slice covers.
type Role string

const (
	RoleOnHours  Role = "on_hours"
	RoleOffHours Role = "off_hours"
	RoleBackup   Role = "backup"
)

// RotationMode controls how responsibility is assigned within a team.
type RotationMode string

const (
	RotationRollingIndividual RotationMode = "rolling_individual"
	RotationWholeTeam         RotationMode = "whole_team"
)

// RotationCadence controls how often a rolling rotation advances.
type RotationCadence string

const (
	CadenceDaily  RotationCadence = "daily"
	CadenceWeekly RotationCadence = "weekly"
)

// DateFormat is the wire format for calendar dates (plan-local, no time component).
const DateFormat = "2006-01-02"

// ClockFormat is the wire format for wall-clock times of day.
const ClockFormat = "15:04"

// DailyWindow is one weekly recurring on-hours window. Start and End are
// wall-clock HH:MM in the plan's time zone; End <= Start means the window
// runs into the next calendar day.
type DailyWindow struct {
	Weekday time.Weekday `json:"weekday"`
	Start   string       `json:"start"`
	End     string       `json:"end"`
}

// RotationDefaults is the plan-level rotation rule. Teams may override
// mode, cadence, and interval individually.
type RotationDefaults struct {
	Mode         RotationMode    `json:"mode"`
	Cadence      RotationCadence `json:"cadence"`
	IntervalDays int             `json:"interval_days,omitempty"`
	AnchorDate   string          `json:"anchor_date,omitempty"`
	AnchorIndex  int             `json:"anchor_index"`
}

// EscalationPolicy is persisted with the plan and consumed by the alert
// escalation collaborator. The coverage engine never interprets it.
type EscalationPolicy struct {
	AckTimeoutSeconds int `json:"ack_timeout_seconds"`
	MaxRetries        int `json:"max_retries"`
	RetryDelaySeconds int `json:"retry_delay_seconds"`
}

// PlanOverride adjusts coverage for a single calendar date. Team fields
// replace the bound team for that role when set. Skip suppresses all
// coverage for the date.
type PlanOverride struct {
	Date           string `json:"date"`
	OnHoursTeamID  string `json:"on_hours_team_id,omitempty"`
	OffHoursTeamID string `json:"off_hours_team_id,omitempty"`
	BackupTeamID   string `json:"backup_team_id,omitempty"`
	Skip           bool   `json:"skip,omitempty"`
}

// TeamID returns the replacement team for the given role, or "" when the
// override does not touch that role.
func (o PlanOverride) TeamID(role Role) string {
	switch role {
	case RoleOnHours:
		return o.OnHoursTeamID
	case RoleOffHours:
		return o.OffHoursTeamID
	case RoleBackup:
		return o.BackupTeamID
	}
	return ""
}

// Plan is a reusable declarative on-call configuration, independent of any
// customer. Plans are versioned; generated slices record the version that
// produced them and are never renumbered retroactively.
type Plan struct {
	ID              string           `gorm:"type:uuid;primaryKey" json:"id"`
	Name            string           `gorm:"uniqueIndex" json:"name"`
	Timezone        string           `gorm:"type:varchar(64)" json:"timezone"`
	Windows         []DailyWindow    `gorm:"type:jsonb;serializer:json" json:"windows"`
	IncludeWeekends bool             `json:"include_weekends"`
	Holidays        []string         `gorm:"type:jsonb;serializer:json" json:"holidays,omitempty"`
	Rotation        RotationDefaults `gorm:"type:jsonb;serializer:json" json:"rotation"`
	Escalation      EscalationPolicy `gorm:"type:jsonb;serializer:json" json:"escalation"`
	Overrides       []PlanOverride   `gorm:"type:jsonb;serializer:json" json:"overrides,omitempty"`
	Version         string           `gorm:"type:varchar(32)" json:"version"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// IsHoliday reports whether date (a DateFormat string in the plan's zone)
// appears in the plan's holiday list.
func (p Plan) IsHoliday(date string) bool {
	for _, h := range p.Holidays {
		if h == date {
			return true
		}
	}
	return false
}

// OverrideFor returns the last plan-level override matching date.
func (p Plan) OverrideFor(date string) (PlanOverride, bool) {
	return lastOverrideFor(p.Overrides, date)
}

// TeamMember is one roster entry. Disabled members never participate in
// rotation selection.
type TeamMember struct {
	UserID  string `json:"user_id"`
	Enabled bool   `json:"enabled"`
	Order   int    `json:"order"`
}

// Team is an on-call roster plus optional per-team rotation overrides.
// Zero-valued rotation fields inherit the plan defaults.
type Team struct {
	ID           string          `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string          `gorm:"uniqueIndex" json:"name"`
	Enabled      bool            `json:"enabled"`
	Mode         RotationMode    `gorm:"type:varchar(32)" json:"mode,omitempty"`
	Cadence      RotationCadence `gorm:"type:varchar(16)" json:"cadence,omitempty"`
	IntervalDays int             `json:"interval_days,omitempty"`
	Members      []TeamMember    `gorm:"type:jsonb;serializer:json" json:"members"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// EnabledMembers returns the enabled roster ordered by (order, user id) so
// rotation index math is deterministic regardless of storage order.
func (t Team) EnabledMembers() []TeamMember {
	out := make([]TeamMember, 0, len(t.Members))
	for _, m := range t.Members {
		if m.Enabled {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// CustomerBinding attaches one customer to a plan and names the team
// filling each role. Customer-level overrides beat plan-level overrides
// for the same date.
type CustomerBinding struct {
	ID               string         `gorm:"type:uuid;primaryKey" json:"id"`
	CustomerID       string         `gorm:"uniqueIndex" json:"customer_id"`
	PlanID           string         `gorm:"type:uuid;index" json:"plan_id"`
	OnHoursTeamID    string         `gorm:"type:uuid" json:"on_hours_team_id"`
	OffHoursTeamID   string         `gorm:"type:uuid" json:"off_hours_team_id"`
	BackupTeamID     string         `gorm:"type:uuid" json:"backup_team_id"`
	EffectiveFrom    string         `gorm:"type:varchar(10)" json:"effective_from"`
	EffectiveThrough string         `gorm:"type:varchar(10)" json:"effective_through,omitempty"`
	Overrides        []PlanOverride `gorm:"type:jsonb;serializer:json" json:"overrides,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// BoundTeamID returns the team configured for role.
func (b CustomerBinding) BoundTeamID(role Role) string {
	switch role {
	case RoleOnHours:
		return b.OnHoursTeamID
	case RoleOffHours:
		return b.OffHoursTeamID
	case RoleBackup:
		return b.BackupTeamID
	}
	return ""
}

// OverrideFor returns the last customer-level override matching date.
func (b CustomerBinding) OverrideFor(date string) (PlanOverride, bool) {
	return lastOverrideFor(b.Overrides, date)
}

func lastOverrideFor(overrides []PlanOverride, date string) (PlanOverride, bool) {
	for i := len(overrides) - 1; i >= 0; i-- {
		if overrides[i].Date == date {
			return overrides[i], true
		}
	}
	return PlanOverride{}, false
}

// ScheduleSlice is one materialized interval of responsibility. StartsAt
// and EndsAt are UTC and form a half-open interval [StartsAt, EndsAt).
// Slices are immutable once written; regeneration replaces future slices
// wholesale rather than editing them.
type ScheduleSlice struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	CustomerID  string    `gorm:"index:idx_slices_customer_start" json:"customer_id"`
	PlanID      string    `gorm:"type:uuid" json:"plan_id"`
	PlanVersion string    `gorm:"type:varchar(32)" json:"plan_version"`
	Role        Role      `gorm:"type:varchar(16);index" json:"role"`
	TeamID      string    `gorm:"type:uuid" json:"team_id"`
	MemberIDs   []string  `gorm:"type:jsonb;serializer:json" json:"member_ids"`
	StartsAt    time.Time `gorm:"index:idx_slices_customer_start" json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	GeneratedAt time.Time `json:"generated_at"`
}

// TableName returns the table name for GORM.
func (ScheduleSlice) TableName() string {
	return "schedule_slices"
}

// Contains reports whether t falls inside the slice's half-open interval.
func (s ScheduleSlice) Contains(t time.Time) bool {
	return !t.Before(s.StartsAt) && t.Before(s.EndsAt)
}
