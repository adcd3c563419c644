package api

import (
	"context"
	"fmt"
	"regexp"

	"chariot/internal/model"
)

// scheduleIDPattern is the UUID-ish grammar of schedule identifiers.
// Validated before the ID is spliced into a URL path.
var scheduleIDPattern = regexp.MustCompile(`^[a-fA-F0-9-]+$`)

func validScheduleID(id string) error {
	if id == "" || !scheduleIDPattern.MatchString(id) {
		return fmt.Errorf("invalid schedule id %q", id)
	}
	return nil
}

// ScheduleRequest is the create/update payload for a capability schedule.
type ScheduleRequest struct {
	CapabilityName string               `json:"capabilityName,omitempty"`
	TargetKey      string               `json:"targetKey,omitempty"`
	WeeklySchedule model.WeeklySchedule `json:"weeklySchedule,omitempty"`
	StartDate      string               `json:"startDate,omitempty"`
	EndDate        string               `json:"endDate,omitempty"`
	Config         map[string]string    `json:"config,omitempty"`
	ClientID       string               `json:"clientId,omitempty"`
}

// ListSchedules lists all capability schedules for the current account.
func (c *Client) ListSchedules(ctx context.Context, pages int) ([]model.Schedule, string, error) {
	hits, offset, err := c.SearchByKeyPrefix(ctx, "#capability_schedule#", pages)
	if err != nil {
		return nil, "", err
	}
	var schedules []model.Schedule
	if err := convert(hits, &schedules); err != nil {
		return nil, "", fmt.Errorf("failed to decode schedules: %w", err)
	}
	return schedules, offset, nil
}

// GetSchedule fetches one schedule by ID, nil when not found.
func (c *Client) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	if err := validScheduleID(id); err != nil {
		return nil, err
	}
	hit, err := c.SearchByExactKey(ctx, "#capability_schedule#"+id)
	if err != nil || hit == nil {
		return nil, err
	}
	var schedules []model.Schedule
	if err := convert([]any{hit}, &schedules); err != nil || len(schedules) == 0 {
		return nil, err
	}
	return &schedules[0], nil
}

// CreateSchedule registers a new recurring execution. The weekly pattern is
// validated client-side; the server accepts but never fires an all-disabled
// pattern.
func (c *Client) CreateSchedule(ctx context.Context, req ScheduleRequest) (*model.Schedule, error) {
	if err := req.WeeklySchedule.Validate(); err != nil {
		return nil, err
	}
	var schedule model.Schedule
	if err := c.Post(ctx, "/capability/schedule", req, &schedule); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// UpdateSchedule mutates the weekly pattern, date range, or config of an
// existing schedule.
func (c *Client) UpdateSchedule(ctx context.Context, id string, req ScheduleRequest) (*model.Schedule, error) {
	if err := validScheduleID(id); err != nil {
		return nil, err
	}
	if req.WeeklySchedule != nil {
		if err := req.WeeklySchedule.Validate(); err != nil {
			return nil, err
		}
	}
	var schedule model.Schedule
	if err := c.Put(ctx, "/capability/schedule/"+id, req, &schedule); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// DeleteSchedule removes a schedule permanently.
func (c *Client) DeleteSchedule(ctx context.Context, id string) error {
	if err := validScheduleID(id); err != nil {
		return err
	}
	return c.Delete(ctx, "/capability/schedule/"+id, map[string]any{})
}

// PauseSchedule transitions an active schedule to paused.
func (c *Client) PauseSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	if err := validScheduleID(id); err != nil {
		return nil, err
	}
	var schedule model.Schedule
	if err := c.Patch(ctx, "/capability/schedule/"+id+"/pause", &schedule); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// ResumeSchedule transitions a paused schedule back to active; the server
// recomputes the next execution time.
func (c *Client) ResumeSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	if err := validScheduleID(id); err != nil {
		return nil, err
	}
	var schedule model.Schedule
	if err := c.Patch(ctx, "/capability/schedule/"+id+"/resume", &schedule); err != nil {
		return nil, err
	}
	return &schedule, nil
}
