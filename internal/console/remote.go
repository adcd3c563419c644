package console

import (
	"context"
	"fmt"
	"strconv"

	"chariot/internal/aegis"
)

func (c *Console) cmdSSH(ctx context.Context, args []string) error {
	agent, err := c.requireAgent()
	if err != nil {
		return err
	}

	user, rest := aegis.NormalizeTUIArgs(args)
	if user == "" {
		user = c.sshUser
	}
	opts := aegis.ParseSSHArgs(c.out, rest)
	if opts == nil {
		return nil
	}
	if opts.Key == "" && c.sshKey != "" {
		opts.Key = c.sshKey
	}

	argv, err := aegis.BuildSSHCommand(agent, user, opts)
	if err != nil {
		return err
	}
	return c.runner.Run(ctx, argv, c.record, agent.Hostname)
}

func (c *Console) cmdCopy(ctx context.Context, args []string) error {
	agent, err := c.requireAgent()
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: cp <src>... <dst>  (prefix the remote path with ':')")
	}

	opts := &aegis.SSHOptions{User: c.sshUser, Key: c.sshKey}
	argv, err := aegis.BuildCopyCommand(agent, c.sshUser, opts, args[:len(args)-1], args[len(args)-1])
	if err != nil {
		return err
	}
	return c.runner.Run(ctx, argv, false, "")
}

func (c *Console) cmdRemoteLS(ctx context.Context, args []string) error {
	agent, err := c.requireAgent()
	if err != nil {
		return err
	}
	path := "."
	if len(args) > 0 {
		path = args[0]
	}

	entries, state := c.remoteLS.lookup(agent, c.sshUser, c.sshKey, path)
	switch state {
	case lsPending:
		fmt.Fprintln(c.out, "Listing in progress, try again shortly.")
	case lsFailed:
		fmt.Fprintln(c.out, "Listing failed, 'rls' again to retry.")
	default:
		for _, e := range entries {
			fmt.Fprintln(c.out, e)
		}
	}
	return nil
}

func (c *Console) cmdProxy(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "list" {
		return c.listProxies()
	}

	switch args[0] {
	case "start":
		agent, err := c.requireAgent()
		if err != nil {
			return err
		}
		if len(args) != 2 {
			return fmt.Errorf("usage: proxy start <port>")
		}
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid port %q", args[1])
		}
		info, err := c.proxies.Start(agent, port, c.sshUser, c.sshKey, nil)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "SOCKS proxy on 127.0.0.1:%d via %s (pid %d)\n", info.Port, info.Hostname, info.PID)
		return nil

	case "stop":
		if len(args) != 2 {
			return fmt.Errorf("usage: proxy stop <port>")
		}
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid port %q", args[1])
		}
		return c.proxies.Stop(port)

	case "stopall":
		c.proxies.StopAll()
		fmt.Fprintln(c.out, "All proxies stopped.")
		return nil

	default:
		return fmt.Errorf("usage: proxy [start <port>|stop <port>|stopall|list]")
	}
}

func (c *Console) listProxies() error {
	proxies := c.proxies.List()
	if len(proxies) == 0 {
		fmt.Fprintln(c.out, "No proxies running.")
		return nil
	}
	tw := newTable(c.out)
	fmt.Fprintln(tw, "PORT\tAGENT\tUSER\tPID\tSTATUS\tRECONNECTS\tSTARTED")
	for _, p := range proxies {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%d\t%s\n",
			p.Port, p.Hostname, p.User, p.PID, p.Status, p.Reconnects,
			p.StartedAt.Format("15:04:05"))
	}
	return tw.Flush()
}

func (c *Console) cmdUser(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(c.out, "SSH user: %s\n", c.sshUser)
		return nil
	}
	c.sshUser = args[0]
	c.remoteLS.reset()
	fmt.Fprintf(c.out, "SSH user set to %s\n", c.sshUser)
	return nil
}

func (c *Console) cmdKey(ctx context.Context, args []string) error {
	if len(args) == 0 {
		if c.sshKey == "" {
			fmt.Fprintln(c.out, "No identity file set.")
		} else {
			fmt.Fprintf(c.out, "Identity file: %s\n", c.sshKey)
		}
		return nil
	}
	if err := aegis.ValidateIdentityFile(args[0]); err != nil {
		return err
	}
	c.sshKey = args[0]
	fmt.Fprintf(c.out, "Identity file set to %s\n", c.sshKey)
	return nil
}

func (c *Console) cmdRecord(ctx context.Context, args []string) error {
	if len(args) == 0 {
		state := "off"
		if c.record {
			state = "on"
		}
		fmt.Fprintf(c.out, "Recording is %s\n", state)
		return nil
	}
	switch args[0] {
	case "on":
		c.record = true
		fmt.Fprintln(c.out, "Recording enabled for new SSH sessions.")
	case "off":
		c.record = false
		fmt.Fprintln(c.out, "Recording disabled.")
	default:
		return fmt.Errorf("usage: record [on|off]")
	}
	return nil
}
