package console

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"chariot/internal/api"
	"chariot/internal/keychain"
	"chariot/internal/logging"
	"chariot/internal/model"
)

func TestSplitCommandLine(t *testing.T) {
	tokens, err := splitCommandLine(`cp "/tmp/my file.txt" :/tmp/dest`)
	require.NoError(t, err)
	assert.Equal(t, []string{"cp", "/tmp/my file.txt", ":/tmp/dest"}, tokens)

	tokens, err = splitCommandLine(`run adenum -d 'corp local'`)
	require.NoError(t, err)
	assert.Equal(t, []string{"run", "adenum", "-d", "corp local"}, tokens)

	tokens, err = splitCommandLine("   list   -o  ")
	require.NoError(t, err)
	assert.Equal(t, []string{"list", "-o"}, tokens)

	_, err = splitCommandLine(`ssh "unterminated`)
	assert.Error(t, err)
}

func TestSplitCommandLineEmptyQuotes(t *testing.T) {
	tokens, err := splitCommandLine(`run cap Flag=""`)
	require.NoError(t, err)
	assert.Equal(t, []string{"run", "cap", "Flag="}, tokens)
}

func TestParseRunArgs(t *testing.T) {
	domain, cred, extra, err := parseRunArgs([]string{
		"-d", "corp.local",
		"-c", "#credential#ad#password#uuid-1",
		"Timeout=30",
	})
	require.NoError(t, err)
	assert.Equal(t, "corp.local", domain)
	assert.Equal(t, "#credential#ad#password#uuid-1", cred)
	assert.Equal(t, map[string]string{"Timeout": "30"}, extra)
}

func TestParseRunArgsErrors(t *testing.T) {
	_, _, _, err := parseRunArgs([]string{"-d"})
	assert.Error(t, err, "dangling -d")

	_, _, _, err = parseRunArgs([]string{"loose-arg"})
	assert.Error(t, err, "non k=v positional")
}

func TestParseWeekly(t *testing.T) {
	w, err := parseWeekly("mon,wed,fri", "09:30")
	require.NoError(t, err)
	assert.Equal(t, []string{"monday", "wednesday", "friday"}, w.EnabledDays())
	assert.Equal(t, "09:30", w["monday"].Time)
	assert.False(t, w["tuesday"].Enabled)
}

func TestParseWeeklyAliases(t *testing.T) {
	w, err := parseWeekly("daily", "01:00")
	require.NoError(t, err)
	assert.Len(t, w.EnabledDays(), 7)

	w, err = parseWeekly("weekdays", "01:00")
	require.NoError(t, err)
	assert.Equal(t, []string{"monday", "tuesday", "wednesday", "thursday", "friday"}, w.EnabledDays())
}

func TestParseWeeklyRejectsBadInput(t *testing.T) {
	_, err := parseWeekly("funday", "09:00")
	assert.Error(t, err)

	_, err = parseWeekly("monday", "25:61")
	assert.Error(t, err)
}

func TestAgentStatus(t *testing.T) {
	now := time.Now()

	offline := &model.Agent{LastSeenAt: now.Add(-time.Hour).Unix()}
	assert.Equal(t, "offline", agentStatus(offline))

	online := &model.Agent{LastSeenAt: now.Unix()}
	assert.Equal(t, "online", agentStatus(online))

	tunneled := &model.Agent{
		LastSeenAt: now.Unix(),
		HealthCheck: &model.HealthCheck{
			CloudflaredStatus: &model.CloudflaredStatus{Hostname: "t.example.com"},
		},
	}
	assert.Equal(t, "tunnel", agentStatus(tunneled))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "11111111", shortID("11111111-aaaa-bbbb"))
	assert.Equal(t, "short", shortID("short"))
}

func TestRemoteListCachePendingThenFailed(t *testing.T) {
	rc := newRemoteListCache(log.New(io.Discard, "", 0))

	// agent without a tunnel makes the background fetch fail fast,
	// without touching the network
	agent := &model.Agent{ClientID: "c-1", Hostname: "alpha"}

	_, state := rc.lookup(agent, "root", "", "/tmp")
	assert.Equal(t, lsPending, state)

	require.Eventually(t, func() bool {
		rc.mu.Lock()
		defer rc.mu.Unlock()
		entry := rc.byPath["c-1\x00/tmp"]
		return entry != nil && entry.state == lsFailed
	}, 2*time.Second, 10*time.Millisecond)

	// a failed entry is cleared on the next lookup so it can retry
	_, state = rc.lookup(agent, "root", "", "/tmp")
	assert.Equal(t, lsFailed, state)
	_, state = rc.lookup(agent, "root", "", "/tmp")
	assert.Equal(t, lsPending, state)
}

func TestRemoteListCacheReset(t *testing.T) {
	rc := newRemoteListCache(log.New(io.Discard, "", 0))
	rc.byPath["k"] = &lsEntry{state: lsReady, entries: []string{"a"}}

	rc.reset()
	assert.Empty(t, rc.byPath)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConsole(t *testing.T, in io.Reader, out io.Writer) *Console {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	t.Cleanup(srv.Close)

	kc := &keychain.Keychain{
		Name: "test",
		Profile: keychain.Profile{
			API:          srv.URL,
			Username:     "tester@example.com",
			APIKeyID:     "id",
			APIKeySecret: "secret",
		},
	}
	logger, err := logging.New(logging.Config{LogDir: t.TempDir()})
	require.NoError(t, err)

	return New(api.NewClient(kc, false), logger, Options{Input: in, Output: out})
}

func TestInterruptAtPromptKeepsSessionAlive(t *testing.T) {
	pr, pw := io.Pipe()
	out := &syncBuffer{}
	c := testConsole(t, pr, out)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "aegis> ")
	}, 5*time.Second, 10*time.Millisecond, "console should reach its prompt")

	// a SIGINT while the loop waits at the prompt must redraw the prompt,
	// not terminate the process
	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGINT))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "^C")
	}, 5*time.Second, 10*time.Millisecond, "interrupt should redraw the prompt")

	_, err := io.WriteString(pw, "exit\n")
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("console did not exit")
	}
}
