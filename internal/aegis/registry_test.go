package aegis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chariot/internal/model"
)

type fakeLister struct {
	agents []model.Agent
	err    error
	calls  int
}

func (f *fakeLister) ListAegisAgents(ctx context.Context) ([]model.Agent, error) {
	f.calls++
	return f.agents, f.err
}

func agentNamed(clientID, hostname string) model.Agent {
	return model.Agent{ClientID: clientID, Hostname: hostname}
}

func TestRegistryServesFromCacheWithinTTL(t *testing.T) {
	lister := &fakeLister{agents: []model.Agent{agentNamed("c-1", "alpha")}}
	r := NewRegistry(lister)

	clock := time.Unix(1_700_000_000, 0)
	r.now = func() time.Time { return clock }

	_, err := r.List(context.Background(), false)
	require.NoError(t, err)
	_, err = r.List(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, lister.calls)

	clock = clock.Add(61 * time.Second)
	_, err = r.List(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls)
}

func TestRegistryForceBypassesCache(t *testing.T) {
	lister := &fakeLister{}
	r := NewRegistry(lister)

	_, err := r.List(context.Background(), false)
	require.NoError(t, err)
	_, err = r.List(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls)
}

func TestRegistryInvalidate(t *testing.T) {
	lister := &fakeLister{agents: []model.Agent{agentNamed("c-1", "alpha")}}
	r := NewRegistry(lister)

	_, err := r.List(context.Background(), false)
	require.NoError(t, err)
	r.Invalidate()
	_, err = r.List(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls)
}

func TestResolveNumericIndexesDisplayed(t *testing.T) {
	displayed := []model.Agent{
		agentNamed("c-a", "alpha"),
		agentNamed("c-b", "bravo"),
	}

	got := Resolve("2", displayed, displayed)
	require.NotNil(t, got)
	assert.Equal(t, "bravo", got.Hostname)

	assert.Nil(t, Resolve("0", displayed, displayed))
	assert.Nil(t, Resolve("3", displayed, displayed))
	assert.Nil(t, Resolve("99", displayed, displayed))
}

func TestResolveNameSearchesAllAgents(t *testing.T) {
	displayed := []model.Agent{agentNamed("c-a", "alpha")}
	all := []model.Agent{
		agentNamed("c-a", "alpha"),
		agentNamed("c-b", "bravo"), // not displayed, still selectable by name
	}

	got := Resolve("BRAVO", displayed, all)
	require.NotNil(t, got)
	assert.Equal(t, "c-b", got.ClientID)

	got = Resolve("C-B", displayed, all)
	require.NotNil(t, got)
	assert.Equal(t, "bravo", got.Hostname)
}

func TestResolveClientIDWinsOverHostname(t *testing.T) {
	all := []model.Agent{
		agentNamed("shared", "other"),
		agentNamed("c-x", "shared"),
	}
	got := Resolve("shared", nil, all)
	require.NotNil(t, got)
	assert.Equal(t, "other", got.Hostname)
}

func TestResolveNoMatch(t *testing.T) {
	all := []model.Agent{agentNamed("c-a", "alpha")}
	assert.Nil(t, Resolve("charlie", nil, all))
	assert.Nil(t, Resolve("", nil, all))
}

func TestSortForDisplayRanksTunnelOnlineOffline(t *testing.T) {
	now := time.Now()
	online := func(hostname string, ago time.Duration, tunneled bool) model.Agent {
		a := model.Agent{Hostname: hostname, LastSeenAt: now.Add(-ago).Unix()}
		if tunneled {
			a.HealthCheck = &model.HealthCheck{
				CloudflaredStatus: &model.CloudflaredStatus{Hostname: hostname + ".tunnel"},
			}
		}
		return a
	}

	agents := []model.Agent{
		online("offline-old", 48*time.Hour, false),
		online("plain-recent", 5*time.Second, false),
		online("offline-new", 2*time.Hour, false),
		online("tunneled", 10*time.Second, true),
		online("plain-older", 30*time.Second, false),
	}
	SortForDisplay(agents)

	var names []string
	for _, a := range agents {
		names = append(names, a.Hostname)
	}
	assert.Equal(t, []string{
		"tunneled", "plain-recent", "plain-older", "offline-new", "offline-old",
	}, names)
}

func TestFilterOnline(t *testing.T) {
	now := time.Now()
	agents := []model.Agent{
		{Hostname: "fresh", LastSeenAt: now.Add(-10 * time.Second).Unix()},
		{Hostname: "stale", LastSeenAt: now.Add(-10 * time.Minute).Unix()},
	}

	online := FilterOnline(agents)
	require.Len(t, online, 1)
	assert.Equal(t, "fresh", online[0].Hostname)
}
