package aegis

import (
	"io"
	"log"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnectDelaySchedule(t *testing.T) {
	limit := 60 * time.Second
	assert.Equal(t, 2*time.Second, ReconnectDelay(1, limit))
	assert.Equal(t, 4*time.Second, ReconnectDelay(2, limit))
	assert.Equal(t, 8*time.Second, ReconnectDelay(3, limit))
	assert.Equal(t, 16*time.Second, ReconnectDelay(4, limit))
	assert.Equal(t, 32*time.Second, ReconnectDelay(5, limit))
	assert.Equal(t, 60*time.Second, ReconnectDelay(6, limit))
	assert.Equal(t, 60*time.Second, ReconnectDelay(20, limit))
}

func TestReconnectDelayRespectsConfiguredCap(t *testing.T) {
	assert.Equal(t, 5*time.Second, ReconnectDelay(4, 5*time.Second))
	assert.Equal(t, 2*time.Second, ReconnectDelay(0, 60*time.Second))
}

func testProxyManager() *ProxyManager {
	m := NewProxyManager(log.New(io.Discard, "", 0))
	m.StartGrace = 10 * time.Millisecond
	// long-running stand-in for the ssh subprocess
	m.execCommand = func(name string, args ...string) *exec.Cmd {
		return exec.Command("sleep", "300")
	}
	return m
}

func TestProxyStartRejectsInvalidInput(t *testing.T) {
	m := testProxyManager()
	defer m.StopAll()

	_, err := m.Start(nil, 1080, "root", "", nil)
	assert.Error(t, err, "nil agent")

	agent := tunneledAgent("alpha", "alpha.tunnel.example.com")
	_, err = m.Start(agent, 0, "root", "", nil)
	assert.Error(t, err, "port out of range")
	_, err = m.Start(agent, 70000, "root", "", nil)
	assert.Error(t, err, "port out of range")
}

func TestProxyStartOnePerPort(t *testing.T) {
	m := testProxyManager()
	defer m.StopAll()

	agent := tunneledAgent("alpha", "alpha.tunnel.example.com")
	first, err := m.Start(agent, 1080, "root", "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1080, first.Port)
	assert.Equal(t, ProxyRunning, first.Status)

	other := tunneledAgent("bravo", "bravo.tunnel.example.com")
	existing, err := m.Start(other, 1080, "root", "", nil)
	require.Error(t, err)
	// the error reports the proxy already holding the port
	assert.Equal(t, "alpha", existing.Hostname)

	require.Len(t, m.List(), 1)
}

func TestProxyStopRemovesEntry(t *testing.T) {
	m := testProxyManager()

	agent := tunneledAgent("alpha", "alpha.tunnel.example.com")
	_, err := m.Start(agent, 1081, "root", "", nil)
	require.NoError(t, err)

	require.NoError(t, m.Stop(1081))
	assert.Empty(t, m.List())

	assert.Error(t, m.Stop(1081), "stopping twice fails")
	assert.Error(t, m.Stop(9999), "unknown port fails")
}

func TestProxyStopAll(t *testing.T) {
	m := testProxyManager()

	agent := tunneledAgent("alpha", "alpha.tunnel.example.com")
	_, err := m.Start(agent, 1082, "root", "", nil)
	require.NoError(t, err)
	_, err = m.Start(agent, 1083, "root", "", nil)
	require.NoError(t, err)
	require.Len(t, m.List(), 2)

	m.StopAll()
	assert.Empty(t, m.List())
}

func TestProxyStartRejectsDeadOnArrival(t *testing.T) {
	m := testProxyManager()
	// subprocess exits before the startup grace window ends
	m.execCommand = func(name string, args ...string) *exec.Cmd {
		return exec.Command("true")
	}
	defer m.StopAll()

	agent := tunneledAgent("alpha", "alpha.tunnel.example.com")
	_, err := m.Start(agent, 1084, "root", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited during startup")
	assert.Empty(t, m.List(), "failed starts are never registered")
}

func TestProxyMonitorGivesUpAfterBudget(t *testing.T) {
	m := testProxyManager()
	m.PollInterval = 5 * time.Millisecond
	m.BackoffCap = time.Millisecond
	m.MaxReconnects = 2
	// the first launch lives long enough to register, every relaunch dies
	// inside the grace window so the backoff counter never resets
	var launches atomic.Int32
	m.execCommand = func(name string, args ...string) *exec.Cmd {
		if launches.Add(1) == 1 {
			return exec.Command("sleep", "0.1")
		}
		return exec.Command("true")
	}
	defer m.StopAll()

	agent := tunneledAgent("alpha", "alpha.tunnel.example.com")
	_, err := m.Start(agent, 1085, "root", "", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		proxies := m.List()
		return len(proxies) == 1 && proxies[0].Status == ProxyDead
	}, 5*time.Second, 10*time.Millisecond, "proxy should be marked dead")

	// dead entries stay listed until explicitly stopped
	require.Len(t, m.List(), 1)
	require.NoError(t, m.Stop(1085))
	assert.Empty(t, m.List())
}

func TestProxyRelaunchFailureIsTerminal(t *testing.T) {
	m := testProxyManager()
	m.PollInterval = 5 * time.Millisecond
	m.BackoffCap = time.Millisecond
	m.MaxReconnects = 5
	// the relaunch cannot even spawn, which ends the monitor immediately
	// instead of burning the rest of the reconnect budget
	missing := filepath.Join(t.TempDir(), "missing-ssh")
	var launches atomic.Int32
	m.execCommand = func(name string, args ...string) *exec.Cmd {
		if launches.Add(1) == 1 {
			return exec.Command("sleep", "0.1")
		}
		return exec.Command(missing)
	}
	defer m.StopAll()

	agent := tunneledAgent("alpha", "alpha.tunnel.example.com")
	_, err := m.Start(agent, 1086, "root", "", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		proxies := m.List()
		return len(proxies) == 1 && proxies[0].Status == ProxyDead
	}, 5*time.Second, 10*time.Millisecond, "proxy should be marked dead")
	assert.EqualValues(t, 2, launches.Load(), "no retries after a failed relaunch")
}
