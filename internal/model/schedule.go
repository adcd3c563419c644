package model

import (
	"fmt"
	"time"
)

// Schedule statuses are assigned server-side; the client only reads them.
const (
	ScheduleActive  = "active"
	SchedulePaused  = "paused"
	ScheduleExpired = "expired"
)

// Days in weekly-schedule order. The wire format keys the weekly map by
// these lowercase names.
var Days = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// DaySchedule is one day's entry in a weekly schedule.
type DaySchedule struct {
	Enabled bool   `json:"enabled"`
	Time    string `json:"time"` // HH:MM, 24-hour UTC
}

// WeeklySchedule maps day name to its schedule.
type WeeklySchedule map[string]DaySchedule

// Validate rejects weekly patterns with no enabled day or malformed times.
// Validation happens client-side before submission; the server would accept
// an all-disabled pattern and simply never fire.
func (w WeeklySchedule) Validate() error {
	enabled := 0
	for day, ds := range w {
		if !ds.Enabled {
			continue
		}
		enabled++
		if _, err := time.Parse("15:04", ds.Time); err != nil {
			return fmt.Errorf("invalid time %q for %s: expected HH:MM", ds.Time, day)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one day must be enabled")
	}
	return nil
}

// EnabledDays returns the enabled day names in weekly order.
func (w WeeklySchedule) EnabledDays() []string {
	var days []string
	for _, day := range Days {
		if ds, ok := w[day]; ok && ds.Enabled {
			days = append(days, day)
		}
	}
	return days
}

// Schedule is a recurring capability execution. The server's copy is
// authoritative; every mutation re-fetches or trusts the returned object.
type Schedule struct {
	ScheduleID     string            `json:"scheduleId"`
	CapabilityName string            `json:"capabilityName"`
	TargetKey      string            `json:"targetKey"`
	Status         string            `json:"status"`
	WeeklySchedule WeeklySchedule    `json:"weeklySchedule"`
	StartDate      string            `json:"startDate,omitempty"`
	EndDate        string            `json:"endDate,omitempty"`
	Config         map[string]string `json:"config,omitempty"`
	ClientID       string            `json:"clientId,omitempty"`
	NextExecution  string            `json:"nextExecution,omitempty"`
	LastExecution  string            `json:"lastExecution,omitempty"`
}

// Capability is a remotely executable task with a declared target type.
type Capability struct {
	Name          string                `json:"name"`
	Description   string                `json:"description,omitempty"`
	Target        string                `json:"target,omitempty"` // "asset" or "addomain"
	Version       string                `json:"version,omitempty"`
	LargeArtifact bool                  `json:"largeArtifact,omitempty"`
	Parameters    []CapabilityParameter `json:"parameters,omitempty"`
}

// CapabilityParameter is one configurable parameter of a capability.
type CapabilityParameter struct {
	Name    string `json:"name"`
	Default string `json:"default,omitempty"`
}

// NeedsCredentials reports whether the capability declares any of the
// parameters that are normally satisfied by an attached credential.
func (c *Capability) NeedsCredentials() bool {
	for _, p := range c.Parameters {
		switch p.Name {
		case "Username", "Password", "Domain":
			return true
		}
	}
	return false
}

// Credential is a stored credential reference. Values are never readable by
// the client; only the key (and the UUID inside it) is used.
type Credential struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Category string `json:"category,omitempty"`
	Username string `json:"username,omitempty"`
}

// Job is a queued capability execution.
type Job struct {
	Key          string   `json:"key"`
	Status       string   `json:"status"`
	Capabilities []string `json:"capabilities,omitempty"`
	Created      string   `json:"created,omitempty"`
}

// Asset is the subset of asset fields the console needs.
type Asset struct {
	Key    string `json:"key"`
	DNS    string `json:"dns"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
	Type   string `json:"type,omitempty"`
}
