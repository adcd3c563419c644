// Package aegis drives fleets of remote Aegis agents: listing and selecting
// agents, launching SSH sessions and file copies over their tunnels, running
// capability jobs and schedules against them, and keeping background SOCKS
// proxies alive.
package aegis

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"chariot/internal/model"
)

// agentCacheTTL is how long a fetched agent list stays fresh. Listing is
// cheap but happens on nearly every console keystroke, so the registry
// absorbs the repeats.
const agentCacheTTL = 60 * time.Second

// Lister fetches the agent fleet from the backend.
type Lister interface {
	ListAegisAgents(ctx context.Context) ([]model.Agent, error)
}

// Registry is a volatile in-process view of the agent fleet. Nothing is
// persisted; every expiry refetches from the server.
type Registry struct {
	lister Lister

	mu        sync.Mutex
	agents    []model.Agent
	valid     bool
	fetchedAt time.Time

	// TTL is the cache lifetime; zero means agentCacheTTL.
	TTL time.Duration

	now func() time.Time
}

// NewRegistry builds a registry over the given fetcher.
func NewRegistry(lister Lister) *Registry {
	return &Registry{lister: lister, TTL: agentCacheTTL, now: time.Now}
}

// List returns the agent fleet, serving from cache within the TTL unless
// force is set.
func (r *Registry) List(ctx context.Context, force bool) ([]model.Agent, error) {
	r.mu.Lock()
	ttl := r.TTL
	if ttl == 0 {
		ttl = agentCacheTTL
	}
	if !force && r.valid && r.now().Sub(r.fetchedAt) < ttl {
		cached := r.agents
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	agents, err := r.lister.ListAegisAgents(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.agents = agents
	r.valid = true
	r.fetchedAt = r.now()
	r.mu.Unlock()
	return agents, nil
}

// Invalidate drops the cached list so the next List refetches.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.agents = nil
	r.valid = false
	r.mu.Unlock()
}

// Resolve maps a user-supplied identifier to an agent. A purely numeric
// identifier is a 1-based index into displayed (the visible, possibly
// filtered subset); anything else matches client_id then hostname
// case-insensitively against all agents, so a hidden offline agent is still
// selectable by exact name. Returns nil when nothing matches; callers keep
// their current selection.
func Resolve(identifier string, displayed, all []model.Agent) *model.Agent {
	if identifier == "" {
		return nil
	}

	if n, err := strconv.Atoi(identifier); err == nil {
		if n >= 1 && n <= len(displayed) {
			return &displayed[n-1]
		}
		return nil
	}

	for i := range all {
		if strings.EqualFold(all[i].ClientID, identifier) {
			return &all[i]
		}
	}
	for i := range all {
		if strings.EqualFold(all[i].Hostname, identifier) {
			return &all[i]
		}
	}
	return nil
}

// displayRank orders agents for listing: online with a tunnel first, then
// online, then offline.
func displayRank(a *model.Agent, now time.Time) int {
	switch {
	case a.IsOnlineAt(now) && a.HasTunnel():
		return 0
	case a.IsOnlineAt(now):
		return 1
	default:
		return 2
	}
}

// SortForDisplay orders agents for the console listing: tunneled first,
// then online, then offline, each group most recently seen first. The order
// is recomputed on every load, never persisted.
func SortForDisplay(agents []model.Agent) {
	now := time.Now()
	sort.SliceStable(agents, func(i, j int) bool {
		ri, rj := displayRank(&agents[i], now), displayRank(&agents[j], now)
		if ri != rj {
			return ri < rj
		}
		return agents[i].LastSeen().After(agents[j].LastSeen())
	})
}

// FilterOnline returns the agents currently online (including tunneled).
func FilterOnline(agents []model.Agent) []model.Agent {
	now := time.Now()
	var online []model.Agent
	for _, a := range agents {
		if a.IsOnlineAt(now) {
			online = append(online, a)
		}
	}
	return online
}
