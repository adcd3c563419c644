package console

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"

	"chariot/internal/aegis"
	"chariot/internal/model"
)

type lsState int

const (
	lsPending lsState = iota
	lsReady
	lsFailed
)

const remoteListTimeout = 15 * time.Second

type lsEntry struct {
	state   lsState
	entries []string
}

// remoteListCache caches remote directory listings used by path lookups.
// Lookups never block on the network: a miss starts a background fetch and
// reports pending, a later lookup serves the cached result. State is
// explicit so callers can tell "still loading" from "nothing there".
type remoteListCache struct {
	mu     sync.Mutex
	byPath map[string]*lsEntry
	logger *log.Logger
}

func newRemoteListCache(logger *log.Logger) *remoteListCache {
	return &remoteListCache{
		byPath: make(map[string]*lsEntry),
		logger: logger,
	}
}

// reset drops everything. Called when the selected agent or SSH identity
// changes, since cached paths belong to the old session.
func (rc *remoteListCache) reset() {
	rc.mu.Lock()
	rc.byPath = make(map[string]*lsEntry)
	rc.mu.Unlock()
}

// lookup returns the cached listing for path on the agent, kicking off a
// background fetch when there is none. A failed entry is cleared so the
// next lookup retries.
func (rc *remoteListCache) lookup(agent *model.Agent, user, key, path string) ([]string, lsState) {
	cacheKey := agent.ClientID + "\x00" + path

	rc.mu.Lock()
	if entry, ok := rc.byPath[cacheKey]; ok {
		if entry.state == lsFailed {
			delete(rc.byPath, cacheKey)
		}
		state, entries := entry.state, entry.entries
		rc.mu.Unlock()
		return entries, state
	}
	rc.byPath[cacheKey] = &lsEntry{state: lsPending}
	rc.mu.Unlock()

	go rc.fetch(cacheKey, agent, user, key, path)
	return nil, lsPending
}

func (rc *remoteListCache) fetch(cacheKey string, agent *model.Agent, user, key, path string) {
	entries, err := listRemoteDir(agent, user, key, path)

	rc.mu.Lock()
	entry := rc.byPath[cacheKey]
	if entry == nil {
		// reset raced the fetch, drop the result
		rc.mu.Unlock()
		return
	}
	if err != nil {
		entry.state = lsFailed
		rc.mu.Unlock()
		rc.logger.Printf("[Console] Remote listing of %s failed: %v", path, err)
		return
	}
	entry.state = lsReady
	entry.entries = entries
	rc.mu.Unlock()
}

// listRemoteDir runs ls on the agent over its tunnel and returns the
// entries, directories suffixed with '/'.
func listRemoteDir(agent *model.Agent, user, key, path string) ([]string, error) {
	opts := &aegis.SSHOptions{Key: key, Passthrough: []string{"-o", "BatchMode=yes"}}
	argv, err := aegis.BuildSSHCommand(agent, user, opts)
	if err != nil {
		return nil, err
	}
	argv = append(argv, fmt.Sprintf("ls -1ap -- %q", path))

	ctx, cancel := context.WithTimeout(context.Background(), remoteListTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).Output()
	if err != nil {
		return nil, err
	}

	var entries []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "./" || line == "../" {
			continue
		}
		entries = append(entries, line)
	}
	return entries, nil
}
