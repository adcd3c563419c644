package model

import "time"

// onlineWindow is how recently an agent must have checked in to count as
// online.
const onlineWindow = 60 * time.Second

// NetworkInterface is one interface reported by an Aegis agent.
type NetworkInterface struct {
	Name        string   `json:"name"`
	IPAddresses []string `json:"ip_addresses"`
}

// CloudflaredStatus describes the agent's Cloudflare tunnel, when one is
// configured.
type CloudflaredStatus struct {
	Hostname        string `json:"hostname,omitempty"`
	TunnelName      string `json:"tunnel_name,omitempty"`
	AuthorizedUsers string `json:"authorized_users,omitempty"`
}

// HealthCheck carries the agent's self-reported health data.
type HealthCheck struct {
	CloudflaredStatus *CloudflaredStatus `json:"cloudflared_status,omitempty"`
}

// Agent is an Aegis agent as returned by GET /aegis/agent.
type Agent struct {
	Key               string             `json:"key,omitempty"`
	ClientID          string             `json:"client_id"`
	Hostname          string             `json:"hostname"`
	FQDN              string             `json:"fqdn"`
	OS                string             `json:"os"`
	OSVersion         string             `json:"os_version"`
	Architecture      string             `json:"architecture"`
	LastSeenAt        int64              `json:"last_seen_at"`
	NetworkInterfaces []NetworkInterface `json:"network_interfaces"`
	HealthCheck       *HealthCheck       `json:"health_check,omitempty"`
}

// HasTunnel reports whether the agent exposes a public tunnel hostname.
func (a *Agent) HasTunnel() bool {
	return a.HealthCheck != nil &&
		a.HealthCheck.CloudflaredStatus != nil &&
		a.HealthCheck.CloudflaredStatus.Hostname != ""
}

// PublicHostname returns the tunnel hostname, or "" when no tunnel is up.
func (a *Agent) PublicHostname() string {
	if !a.HasTunnel() {
		return ""
	}
	return a.HealthCheck.CloudflaredStatus.Hostname
}

// LastSeen converts last_seen_at to a time.Time. Older agents report epoch
// seconds, newer ones epoch microseconds; the magnitude disambiguates.
func (a *Agent) LastSeen() time.Time {
	if a.LastSeenAt <= 0 {
		return time.Time{}
	}
	if a.LastSeenAt > 1_000_000_000_000 {
		return time.UnixMicro(a.LastSeenAt)
	}
	return time.Unix(a.LastSeenAt, 0)
}

// IsOnline reports whether the agent checked in within the last 60 seconds.
func (a *Agent) IsOnline() bool {
	return a.IsOnlineAt(time.Now())
}

// IsOnlineAt is IsOnline against an explicit clock.
func (a *Agent) IsOnlineAt(now time.Time) bool {
	seen := a.LastSeen()
	if seen.IsZero() {
		return false
	}
	return now.Sub(seen) < onlineWindow
}

// IPAddresses flattens the agent's interfaces into a single list, skipping
// the loopback interface and empty entries.
func (a *Agent) IPAddresses() []string {
	var ips []string
	for _, iface := range a.NetworkInterfaces {
		if iface.Name == "lo" {
			continue
		}
		for _, ip := range iface.IPAddresses {
			if ip != "" {
				ips = append(ips, ip)
			}
		}
	}
	return ips
}
