package aegis

import (
	"fmt"
	"log"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"chariot/internal/model"
)

const (
	proxyPollInterval = 2 * time.Second
	proxyBackoffCap   = 60 * time.Second
	proxyMaxReconnect = 5
	proxyKillGrace    = 3 * time.Second
	proxyStartGrace   = 500 * time.Millisecond
)

// ProxyStatus is the lifecycle state of a managed SOCKS proxy.
type ProxyStatus string

const (
	ProxyRunning      ProxyStatus = "running"
	ProxyReconnecting ProxyStatus = "reconnecting"
	ProxyDead         ProxyStatus = "dead"
	ProxyStopped      ProxyStatus = "stopped"
)

// ProxyInfo is a snapshot of one managed proxy.
type ProxyInfo struct {
	Port       int
	AgentID    string
	Hostname   string
	User       string
	PID        int
	StartedAt  time.Time
	Reconnects int
	Status     ProxyStatus
}

type proxyEntry struct {
	mu      sync.Mutex
	info    ProxyInfo
	sshArgs []string
	cmd     *exec.Cmd
	exited  chan struct{}
	stop    chan struct{}
}

// ProxyManager keeps SOCKS proxies over agent tunnels alive in the
// background. Each proxy is an ssh -D subprocess in its own process group,
// watched by a monitor goroutine that relaunches it with exponential
// backoff when it dies. One proxy per local port; an entry that exhausted
// its reconnect budget stays listed as dead until explicitly stopped.
type ProxyManager struct {
	mu      sync.Mutex
	proxies map[int]*proxyEntry

	PollInterval  time.Duration
	BackoffCap    time.Duration
	MaxReconnects int
	StartGrace    time.Duration

	logger *log.Logger

	// execCommand is swappable for tests.
	execCommand func(name string, args ...string) *exec.Cmd
}

func NewProxyManager(logger *log.Logger) *ProxyManager {
	return &ProxyManager{
		proxies:       make(map[int]*proxyEntry),
		PollInterval:  proxyPollInterval,
		BackoffCap:    proxyBackoffCap,
		MaxReconnects: proxyMaxReconnect,
		StartGrace:    proxyStartGrace,
		logger:        logger,
		execCommand:   exec.Command,
	}
}

// ReconnectDelay returns the backoff before reconnect attempt n (1-based):
// 2s, 4s, 8s, doubling up to limit.
func ReconnectDelay(attempt int, limit time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := 2 * time.Second
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	if delay > limit {
		return limit
	}
	return delay
}

// Start launches a background SOCKS proxy on the local port over the
// agent's tunnel. Fails when the port already has a proxy, live or dead,
// or when the ssh subprocess exits during the startup grace window; a
// failed start is never registered.
func (m *ProxyManager) Start(agent *model.Agent, port int, user, keyPath string, extraArgs []string) (ProxyInfo, error) {
	if err := ValidateAgentForSSH(agent); err != nil {
		return ProxyInfo{}, err
	}
	if port < 1 || port > 65535 {
		return ProxyInfo{}, fmt.Errorf("invalid proxy port %d", port)
	}

	m.mu.Lock()
	if existing, ok := m.proxies[port]; ok {
		m.mu.Unlock()
		existing.mu.Lock()
		info := existing.info
		existing.mu.Unlock()
		return info, fmt.Errorf("port %d already has a proxy for %s (%s)", port, info.Hostname, info.Status)
	}

	args := []string{"-D", fmt.Sprintf("%d", port), "-N"}
	args = append(args, tunnelSSHOptions()...)
	if keyPath != "" {
		args = append(args, "-i", keyPath)
	}
	args = append(args, extraArgs...)
	args = append(args, fmt.Sprintf("%s@%s", user, agent.PublicHostname()))

	entry := &proxyEntry{
		info: ProxyInfo{
			Port:      port,
			AgentID:   agent.ClientID,
			Hostname:  agent.Hostname,
			User:      user,
			StartedAt: time.Now(),
			Status:    ProxyRunning,
		},
		sshArgs: args,
		stop:    make(chan struct{}),
	}
	// Reserve the port before launching so a concurrent Start on the same
	// port fails the duplicate check above.
	m.proxies[port] = entry
	m.mu.Unlock()

	if err := m.launch(entry); err != nil {
		m.remove(port)
		return ProxyInfo{}, fmt.Errorf("starting proxy on port %d: %w", port, err)
	}
	if !m.survivesStartup(entry) {
		m.remove(port)
		return ProxyInfo{}, fmt.Errorf("proxy on port %d exited during startup", port)
	}

	go m.monitor(entry)

	entry.mu.Lock()
	info := entry.info
	entry.mu.Unlock()
	m.logger.Printf("[ProxyManager] Started SOCKS proxy on port %d for %s (pid %d)", port, agent.Hostname, info.PID)
	return info, nil
}

// launch starts the ssh subprocess detached in its own process group so a
// later signal reaches ssh and any children it spawned. Caller holds no
// entry lock.
func (m *ProxyManager) launch(e *proxyEntry) error {
	cmd := m.execCommand("ssh", e.sshArgs...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return err
	}

	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()

	e.mu.Lock()
	e.cmd = cmd
	e.exited = exited
	e.info.PID = cmd.Process.Pid
	e.mu.Unlock()
	return nil
}

// survivesStartup reports whether the freshly launched subprocess is still
// alive after the startup grace window.
func (m *ProxyManager) survivesStartup(e *proxyEntry) bool {
	e.mu.Lock()
	exited := e.exited
	e.mu.Unlock()

	select {
	case <-exited:
		return false
	case <-time.After(m.StartGrace):
		return true
	}
}

func (m *ProxyManager) remove(port int) {
	m.mu.Lock()
	delete(m.proxies, port)
	m.mu.Unlock()
}

// monitor polls the subprocess and relaunches it when it dies. The backoff
// counter resets as soon as a relaunched process survives the startup grace
// window, so a link that recovers gets the full budget again; a relaunch
// that cannot even spawn is terminal.
func (m *ProxyManager) monitor(e *proxyEntry) {
	attempts := 0
	ticker := time.NewTicker(m.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		exited := e.exited
		e.mu.Unlock()
		select {
		case <-exited:
		default:
			e.mu.Lock()
			e.info.Status = ProxyRunning
			e.mu.Unlock()
			continue
		}

		if attempts >= m.MaxReconnects {
			e.mu.Lock()
			e.info.Status = ProxyDead
			port := e.info.Port
			e.mu.Unlock()
			m.logger.Printf("[ProxyManager] Proxy on port %d gave up after %d reconnect attempts", port, m.MaxReconnects)
			return
		}
		attempts++

		e.mu.Lock()
		e.info.Status = ProxyReconnecting
		e.info.Reconnects++
		port := e.info.Port
		e.mu.Unlock()

		delay := ReconnectDelay(attempts, m.BackoffCap)
		m.logger.Printf("[ProxyManager] Proxy on port %d died, reconnecting in %s (attempt %d/%d)", port, delay, attempts, m.MaxReconnects)
		select {
		case <-e.stop:
			return
		case <-time.After(delay):
		}

		if err := m.launch(e); err != nil {
			m.logger.Printf("[ProxyManager] Relaunch on port %d failed: %v", port, err)
			e.mu.Lock()
			e.info.Status = ProxyDead
			e.mu.Unlock()
			return
		}
		if m.survivesStartup(e) {
			attempts = 0
			e.mu.Lock()
			e.info.Status = ProxyRunning
			e.mu.Unlock()
		}
	}
}

// List snapshots all managed proxies, including dead ones.
func (m *ProxyManager) List() []ProxyInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ProxyInfo, 0, len(m.proxies))
	for _, e := range m.proxies {
		e.mu.Lock()
		out = append(out, e.info)
		e.mu.Unlock()
	}
	return out
}

// Stop terminates the proxy on the port and removes its entry.
func (m *ProxyManager) Stop(port int) error {
	m.mu.Lock()
	entry, ok := m.proxies[port]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("no proxy on port %d", port)
	}
	delete(m.proxies, port)
	m.mu.Unlock()

	m.terminate(entry)
	m.logger.Printf("[ProxyManager] Stopped proxy on port %d", port)
	return nil
}

// StopAll terminates every managed proxy.
func (m *ProxyManager) StopAll() {
	m.mu.Lock()
	entries := make([]*proxyEntry, 0, len(m.proxies))
	for port, e := range m.proxies {
		entries = append(entries, e)
		delete(m.proxies, port)
	}
	m.mu.Unlock()

	for _, e := range entries {
		m.terminate(e)
	}
}

// terminate signals the proxy's process group with SIGTERM, then SIGKILL
// after a grace period if it lingers.
func (m *ProxyManager) terminate(e *proxyEntry) {
	close(e.stop)

	e.mu.Lock()
	cmd := e.cmd
	exited := e.exited
	e.info.Status = ProxyStopped
	e.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	select {
	case <-exited:
		return
	default:
	}

	pgid := cmd.Process.Pid
	unix.Kill(-pgid, unix.SIGTERM)
	select {
	case <-exited:
	case <-time.After(proxyKillGrace):
		unix.Kill(-pgid, unix.SIGKILL)
	}
}
