package aegis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chariot/internal/api"
	"chariot/internal/model"
)

type fakeScheduleAPI struct {
	schedules []model.Schedule
	listCalls int
	created   []api.ScheduleRequest
	updated   map[string]api.ScheduleRequest
	deleted   []string
	paused    []string
	resumed   []string
}

func (f *fakeScheduleAPI) ListSchedules(ctx context.Context, pages int) ([]model.Schedule, string, error) {
	f.listCalls++
	return f.schedules, "", nil
}

func (f *fakeScheduleAPI) CreateSchedule(ctx context.Context, req api.ScheduleRequest) (*model.Schedule, error) {
	f.created = append(f.created, req)
	return &model.Schedule{ScheduleID: "11111111-aaaa", CapabilityName: req.CapabilityName}, nil
}

func (f *fakeScheduleAPI) UpdateSchedule(ctx context.Context, id string, req api.ScheduleRequest) (*model.Schedule, error) {
	if f.updated == nil {
		f.updated = map[string]api.ScheduleRequest{}
	}
	f.updated[id] = req
	return &model.Schedule{ScheduleID: id}, nil
}

func (f *fakeScheduleAPI) DeleteSchedule(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeScheduleAPI) PauseSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	f.paused = append(f.paused, id)
	return &model.Schedule{ScheduleID: id, Status: model.SchedulePaused}, nil
}

func (f *fakeScheduleAPI) ResumeSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	f.resumed = append(f.resumed, id)
	return &model.Schedule{ScheduleID: id, Status: model.ScheduleActive}, nil
}

func mondayAt(hhmm string) model.WeeklySchedule {
	return model.WeeklySchedule{"monday": {Enabled: true, Time: hhmm}}
}

func TestSchedulerCachesWithinTTL(t *testing.T) {
	fake := &fakeScheduleAPI{}
	s := NewScheduler(fake)

	clock := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return clock }

	_, err := s.List(context.Background(), false)
	require.NoError(t, err)
	_, err = s.List(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.listCalls)

	clock = clock.Add(31 * time.Second)
	_, err = s.List(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.listCalls)
}

func TestSchedulerForceAndInvalidate(t *testing.T) {
	fake := &fakeScheduleAPI{}
	s := NewScheduler(fake)

	_, err := s.List(context.Background(), false)
	require.NoError(t, err)
	_, err = s.List(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.listCalls)

	s.Invalidate()
	_, err = s.List(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 3, fake.listCalls)
}

func TestSchedulerMutationsInvalidateCache(t *testing.T) {
	fake := &fakeScheduleAPI{}
	s := NewScheduler(fake)

	_, err := s.List(context.Background(), false)
	require.NoError(t, err)

	_, err = s.Pause(context.Background(), "11111111-aaaa")
	require.NoError(t, err)

	_, err = s.List(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.listCalls, "pause must drop the cache")
}

func TestSchedulerForAgent(t *testing.T) {
	fake := &fakeScheduleAPI{schedules: []model.Schedule{
		{ScheduleID: "a", ClientID: "c-alpha"},
		{ScheduleID: "b", ClientID: "c-bravo"},
		{ScheduleID: "c", ClientID: "c-alpha"},
	}}
	s := NewScheduler(fake)

	mine, err := s.ForAgent(context.Background(), "c-alpha")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "a", mine[0].ScheduleID)
	assert.Equal(t, "c", mine[1].ScheduleID)
}

func TestSchedulerFindByIDPrefix(t *testing.T) {
	fake := &fakeScheduleAPI{schedules: []model.Schedule{
		{ScheduleID: "11111111-aaaa"},
		{ScheduleID: "11119999-bbbb"},
		{ScheduleID: "22222222-cccc"},
	}}
	s := NewScheduler(fake)

	found, err := s.FindByIDPrefix(context.Background(), "2222")
	require.NoError(t, err)
	assert.Equal(t, "22222222-cccc", found.ScheduleID)

	_, err = s.FindByIDPrefix(context.Background(), "1111")
	assert.Error(t, err, "ambiguous prefix")

	_, err = s.FindByIDPrefix(context.Background(), "ffff")
	assert.Error(t, err, "no match")
}

func TestSchedulerCreateValidatesWeekly(t *testing.T) {
	fake := &fakeScheduleAPI{}
	s := NewScheduler(fake)
	orch := NewOrchestrator(&fakeJobAPI{})
	capability := &model.Capability{Name: "collect", Target: "asset"}

	empty := model.WeeklySchedule{"monday": {Enabled: false, Time: "09:00"}}
	_, err := s.Create(context.Background(), orch, capability, testAgent(), "", empty, "", "", nil)
	require.Error(t, err)
	assert.Empty(t, fake.created, "invalid pattern never reaches the backend")
}

func TestSchedulerCreateCarriesJobConfig(t *testing.T) {
	fake := &fakeScheduleAPI{}
	s := NewScheduler(fake)
	orch := NewOrchestrator(&fakeJobAPI{})
	capability := &model.Capability{Name: "collect", Target: "asset"}

	created, err := s.Create(context.Background(), orch, capability, testAgent(), "",
		mondayAt("09:30"), "2026-09-01", "", map[string]string{"Timeout": "60"})
	require.NoError(t, err)
	assert.Equal(t, "11111111-aaaa", created.ScheduleID)

	require.Len(t, fake.created, 1)
	req := fake.created[0]
	assert.Equal(t, "collect", req.CapabilityName)
	assert.Equal(t, "#asset#alpha#alpha", req.TargetKey)
	assert.Equal(t, "c-alpha", req.ClientID)
	assert.Equal(t, "2026-09-01", req.StartDate)
	assert.Equal(t, "true", req.Config["aegis"])
	assert.Equal(t, "c-alpha", req.Config["client_id"])
	assert.Equal(t, "60", req.Config["Timeout"])
}

func TestSchedulerUpdateWeeklyValidates(t *testing.T) {
	fake := &fakeScheduleAPI{}
	s := NewScheduler(fake)

	_, err := s.UpdateWeekly(context.Background(), "11111111-aaaa",
		model.WeeklySchedule{"monday": {Enabled: true, Time: "nope"}})
	require.Error(t, err)
	assert.Empty(t, fake.updated)

	_, err = s.UpdateWeekly(context.Background(), "11111111-aaaa", mondayAt("08:00"))
	require.NoError(t, err)
	assert.Contains(t, fake.updated, "11111111-aaaa")
}

func TestSchedulerDeletePauseResume(t *testing.T) {
	fake := &fakeScheduleAPI{}
	s := NewScheduler(fake)

	require.NoError(t, s.Delete(context.Background(), "x"))
	assert.Equal(t, []string{"x"}, fake.deleted)

	paused, err := s.Pause(context.Background(), "y")
	require.NoError(t, err)
	assert.Equal(t, model.SchedulePaused, paused.Status)

	resumed, err := s.Resume(context.Background(), "y")
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleActive, resumed.Status)
}
