package aegis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"chariot/internal/api"
	"chariot/internal/model"
)

const scheduleCacheTTL = 30 * time.Second

// ScheduleAPI is the slice of the platform client the scheduler needs.
type ScheduleAPI interface {
	ListSchedules(ctx context.Context, pages int) ([]model.Schedule, string, error)
	CreateSchedule(ctx context.Context, req api.ScheduleRequest) (*model.Schedule, error)
	UpdateSchedule(ctx context.Context, id string, req api.ScheduleRequest) (*model.Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error
	PauseSchedule(ctx context.Context, id string) (*model.Schedule, error)
	ResumeSchedule(ctx context.Context, id string) (*model.Schedule, error)
}

// Scheduler manages capability schedules for agents, with a short-lived
// list cache so console tab completion and repeated listings do not hammer
// the backend. Mutating calls invalidate the cache.
type Scheduler struct {
	api ScheduleAPI

	mu        sync.Mutex
	cached    []model.Schedule
	valid     bool
	fetchedAt time.Time

	// TTL and now are swappable for tests.
	TTL time.Duration
	now func() time.Time
}

func NewScheduler(client ScheduleAPI) *Scheduler {
	return &Scheduler{
		api: client,
		TTL: scheduleCacheTTL,
		now: time.Now,
	}
}

// List returns all schedules, served from cache when fresh. force bypasses
// the cache.
func (s *Scheduler) List(ctx context.Context, force bool) ([]model.Schedule, error) {
	s.mu.Lock()
	if !force && s.valid && s.now().Sub(s.fetchedAt) < s.TTL {
		cached := s.cached
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	schedules, _, err := s.api.ListSchedules(ctx, api.AllPages)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cached = schedules
	s.valid = true
	s.fetchedAt = s.now()
	s.mu.Unlock()
	return schedules, nil
}

// Invalidate drops the cached listing.
func (s *Scheduler) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.valid = false
	s.mu.Unlock()
}

// ForAgent filters schedules down to those pinned to an agent's client ID.
func (s *Scheduler) ForAgent(ctx context.Context, clientID string) ([]model.Schedule, error) {
	all, err := s.List(ctx, false)
	if err != nil {
		return nil, err
	}
	var out []model.Schedule
	for _, sched := range all {
		if sched.ClientID == clientID {
			out = append(out, sched)
		}
	}
	return out, nil
}

// FindByIDPrefix resolves a possibly shortened schedule ID against the
// cached listing. Exactly one match is required; ambiguity is an error so a
// truncated ID can never silently act on the wrong schedule.
func (s *Scheduler) FindByIDPrefix(ctx context.Context, prefix string) (*model.Schedule, error) {
	all, err := s.List(ctx, false)
	if err != nil {
		return nil, err
	}

	var matches []model.Schedule
	for _, sched := range all {
		if strings.HasPrefix(sched.ScheduleID, prefix) {
			matches = append(matches, sched)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no schedule matches %s", prefix)
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("%s matches %d schedules, use a longer prefix", prefix, len(matches))
	}
}

// Create queues a new weekly schedule for a capability against an agent.
// Target resolution and config conventions follow the one-shot job path.
func (s *Scheduler) Create(ctx context.Context, orch *Orchestrator, capability *model.Capability, agent *model.Agent, domain string, weekly model.WeeklySchedule, startDate, endDate string, extra map[string]string) (*model.Schedule, error) {
	if err := weekly.Validate(); err != nil {
		return nil, err
	}

	targetKey, err := orch.ResolveTargetKey(ctx, capability, agent, domain)
	if err != nil {
		return nil, err
	}
	jobReq, err := orch.BuildJobRequest(capability, targetKey, agent, "", extra)
	if err != nil {
		return nil, err
	}

	created, err := s.api.CreateSchedule(ctx, api.ScheduleRequest{
		CapabilityName: capability.Name,
		TargetKey:      targetKey,
		WeeklySchedule: weekly,
		StartDate:      startDate,
		EndDate:        endDate,
		Config:         jobReq.Config,
		ClientID:       agent.ClientID,
	})
	if err != nil {
		return nil, err
	}
	s.Invalidate()
	return created, nil
}

// UpdateWeekly replaces a schedule's weekly pattern.
func (s *Scheduler) UpdateWeekly(ctx context.Context, id string, weekly model.WeeklySchedule) (*model.Schedule, error) {
	if err := weekly.Validate(); err != nil {
		return nil, err
	}
	updated, err := s.api.UpdateSchedule(ctx, id, api.ScheduleRequest{WeeklySchedule: weekly})
	if err != nil {
		return nil, err
	}
	s.Invalidate()
	return updated, nil
}

// Delete removes a schedule.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	if err := s.api.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

// Pause suspends a schedule without losing its weekly pattern.
func (s *Scheduler) Pause(ctx context.Context, id string) (*model.Schedule, error) {
	sched, err := s.api.PauseSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Invalidate()
	return sched, nil
}

// Resume reactivates a paused schedule.
func (s *Scheduler) Resume(ctx context.Context, id string) (*model.Schedule, error) {
	sched, err := s.api.ResumeSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Invalidate()
	return sched, nil
}
