package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"chariot/internal/aegis"
	"chariot/internal/model"
)

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
}

// refreshAgents pulls the agent list (honoring the registry cache unless
// force) and rebuilds the numbered display ordering.
func (c *Console) refreshAgents(ctx context.Context, force bool) ([]model.Agent, error) {
	agents, err := c.registry.List(ctx, force)
	if err != nil {
		return nil, err
	}
	sorted := make([]model.Agent, len(agents))
	copy(sorted, agents)
	aegis.SortForDisplay(sorted)
	c.displayed = sorted
	return sorted, nil
}

func agentStatus(a *model.Agent) string {
	switch {
	case a.HasTunnel():
		return "tunnel"
	case a.IsOnline():
		return "online"
	default:
		return "offline"
	}
}

func formatLastSeen(a *model.Agent) string {
	seen := a.LastSeen()
	if seen.IsZero() {
		return "never"
	}
	d := time.Since(seen)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return seen.Format("2006-01-02 15:04")
	}
}

func (c *Console) cmdList(ctx context.Context, args []string) error {
	onlineOnly := false
	for _, a := range args {
		if a == "-o" || a == "--online" {
			onlineOnly = true
		}
	}

	agents, err := c.refreshAgents(ctx, false)
	if err != nil {
		return err
	}
	if onlineOnly {
		agents = aegis.FilterOnline(agents)
		c.displayed = agents
	}
	if len(agents) == 0 {
		fmt.Fprintln(c.out, "No agents found.")
		return nil
	}

	tw := newTable(c.out)
	fmt.Fprintln(tw, "#\tHOSTNAME\tOS\tIP\tSTATUS\tLAST SEEN\tCLIENT ID")
	for i := range agents {
		a := &agents[i]
		ip := "-"
		if ips := a.IPAddresses(); len(ips) > 0 {
			ip = ips[0]
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1, a.Hostname, a.OS, ip, agentStatus(a), formatLastSeen(a), a.ClientID)
	}
	return tw.Flush()
}

func (c *Console) cmdUse(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: use <number|client-id|hostname>")
	}

	all, err := c.registry.List(ctx, false)
	if err != nil {
		return err
	}
	agent := aegis.Resolve(args[0], c.displayed, all)
	if agent == nil {
		return fmt.Errorf("no agent matches %q", args[0])
	}
	c.selected = agent
	c.remoteLS.reset()

	fmt.Fprintf(c.out, "Selected %s (%s)\n", agent.Hostname, agent.ClientID)
	if !agent.HasTunnel() {
		fmt.Fprintln(c.out, "Note: agent has no active tunnel, ssh and cp are unavailable.")
	}
	return nil
}

func (c *Console) cmdInfo(ctx context.Context, args []string) error {
	agent, err := c.requireAgent()
	if err != nil {
		return err
	}

	tw := newTable(c.out)
	fmt.Fprintf(tw, "Hostname\t%s\n", agent.Hostname)
	if agent.FQDN != "" {
		fmt.Fprintf(tw, "FQDN\t%s\n", agent.FQDN)
	}
	fmt.Fprintf(tw, "Client ID\t%s\n", agent.ClientID)
	fmt.Fprintf(tw, "OS\t%s %s (%s)\n", agent.OS, agent.OSVersion, agent.Architecture)
	fmt.Fprintf(tw, "Status\t%s\n", agentStatus(agent))
	fmt.Fprintf(tw, "Last seen\t%s\n", formatLastSeen(agent))
	if ips := agent.IPAddresses(); len(ips) > 0 {
		fmt.Fprintf(tw, "IP addresses\t%s\n", strings.Join(ips, ", "))
	}
	if agent.HasTunnel() {
		fmt.Fprintf(tw, "Tunnel\t%s\n", agent.PublicHostname())
		if users := agent.HealthCheck.CloudflaredStatus.AuthorizedUsers; users != "" {
			fmt.Fprintf(tw, "Authorized users\t%s\n", users)
		}
	}
	return tw.Flush()
}

func (c *Console) cmdReload(ctx context.Context, args []string) error {
	c.registry.Invalidate()
	c.sched.Invalidate()
	c.remoteLS.reset()

	agents, err := c.refreshAgents(ctx, true)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Reloaded, %d agents.\n", len(agents))

	if c.selected != nil {
		if fresh := aegis.Resolve(c.selected.ClientID, nil, agents); fresh != nil {
			c.selected = fresh
		} else {
			fmt.Fprintf(c.out, "Previously selected agent %s is gone, deselecting.\n", c.selected.Hostname)
			c.selected = nil
		}
	}
	return nil
}
