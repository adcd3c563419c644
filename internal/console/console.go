// Package console implements the interactive Aegis console: an agent
// selector plus commands for SSH sessions, file copies, background SOCKS
// proxies, capability jobs and schedules.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync/atomic"

	"chariot/internal/aegis"
	"chariot/internal/api"
	"chariot/internal/logging"
	"chariot/internal/model"
)

var errExit = errors.New("exit")

// Console is one interactive session. Command handlers report failures as
// errors; the loop prints them and keeps going, so no command can take the
// console down.
type Console struct {
	client   *api.Client
	registry *aegis.Registry
	orch     *aegis.Orchestrator
	sched    *aegis.Scheduler
	proxies  *aegis.ProxyManager
	runner   *aegis.SessionRunner
	log      *logging.Logger

	in  *bufio.Scanner
	out io.Writer

	selected  *model.Agent
	displayed []model.Agent
	sshUser   string
	sshKey    string
	record    bool

	remoteLS *remoteListCache

	commands []command
}

// Options configures a console session.
type Options struct {
	Input     io.Reader
	Output    io.Writer
	SSHUser   string
	RecordDir string
}

func New(client *api.Client, logger *logging.Logger, opts Options) *Console {
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.SSHUser == "" {
		opts.SSHUser = aegis.DefaultSSHUser
	}

	var recorder *aegis.Recorder
	if opts.RecordDir != "" {
		recorder = aegis.NewRecorder(opts.RecordDir, logger.Std())
	}

	c := &Console{
		client:   client,
		registry: aegis.NewRegistry(client),
		orch:     aegis.NewOrchestrator(client),
		sched:    aegis.NewScheduler(client),
		proxies:  aegis.NewProxyManager(logger.Std()),
		runner:   aegis.NewSessionRunner(logger.Std(), recorder),
		log:      logger,
		in:       bufio.NewScanner(opts.Input),
		out:      opts.Output,
		sshUser:  opts.SSHUser,
		remoteLS: newRemoteListCache(logger.Std()),
	}
	c.commands = c.buildCommands()
	return c
}

// command is one console verb. The registry is static; there is no runtime
// plugin loading.
type command struct {
	name    string
	aliases []string
	usage   string
	summary string
	run     func(ctx context.Context, args []string) error
}

func (c *Console) buildCommands() []command {
	return []command{
		{"help", []string{"?"}, "help", "Show available commands", c.cmdHelp},
		{"list", []string{"ls"}, "list [-o]", "List agents, -o for online only", c.cmdList},
		{"use", []string{"set", "select"}, "use <number|client-id|hostname>", "Select an agent", c.cmdUse},
		{"info", nil, "info", "Show details for the selected agent", c.cmdInfo},
		{"reload", []string{"refresh"}, "reload", "Force-refresh agents and schedules", c.cmdReload},
		{"ssh", nil, "ssh [options]", "Open an SSH session to the selected agent", c.cmdSSH},
		{"cp", nil, "cp <src>... <dst>", "Copy files, prefix the remote path with ':'", c.cmdCopy},
		{"rls", nil, "rls <path>", "List a remote directory on the selected agent", c.cmdRemoteLS},
		{"proxy", nil, "proxy [start <port>|stop <port>|stopall]", "Manage background SOCKS proxies", c.cmdProxy},
		{"user", nil, "user [name]", "Show or set the SSH user for this session", c.cmdUser},
		{"key", nil, "key [path]", "Show or set the SSH identity file", c.cmdKey},
		{"record", nil, "record [on|off]", "Toggle session recording", c.cmdRecord},
		{"capabilities", []string{"caps"}, "capabilities", "List capabilities runnable on the selected agent", c.cmdCapabilities},
		{"run", nil, "run <capability> [-d domain] [-c credential] [k=v ...]", "Queue a capability job on the selected agent", c.cmdRun},
		{"jobs", nil, "jobs", "List recent jobs", c.cmdJobs},
		{"creds", []string{"credentials"}, "creds", "List stored credentials", c.cmdCreds},
		{"schedule", []string{"schedules"}, "schedule [list|view|add|update|pause|resume|delete]", "Manage capability schedules", c.cmdSchedule},
		{"exit", []string{"quit"}, "exit", "Leave the console", func(context.Context, []string) error { return errExit }},
	}
}

func (c *Console) lookup(name string) *command {
	for i := range c.commands {
		cmd := &c.commands[i]
		if cmd.name == name {
			return cmd
		}
		for _, alias := range cmd.aliases {
			if alias == name {
				return cmd
			}
		}
	}
	return nil
}

func (c *Console) prompt() string {
	if c.selected != nil {
		return fmt.Sprintf("aegis [%s]> ", c.selected.Hostname)
	}
	return "aegis> "
}

// Run drives the read-dispatch loop until exit or EOF. An interrupt during
// a command cancels that command's context; at the prompt it redraws the
// prompt. The loop itself survives either way.
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, "Aegis console. Type 'help' for commands, 'exit' to leave.")

	// Own SIGINT for the whole session. Without a handler registered the
	// runtime's default disposition would kill the process while the loop
	// blocks on input; during a command the per-command context below turns
	// the same signal into a cancellation instead.
	var inCommand atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		for range sigCh {
			if !inCommand.Load() {
				fmt.Fprintf(c.out, "^C\n%s", c.prompt())
			}
		}
	}()
	defer func() {
		signal.Stop(sigCh)
		close(sigCh)
	}()

	if _, err := c.refreshAgents(ctx, false); err != nil {
		fmt.Fprintf(c.out, "Warning: could not list agents: %v\n", err)
	}

	for {
		fmt.Fprint(c.out, c.prompt())
		if !c.in.Scan() {
			break
		}
		line := strings.TrimSpace(c.in.Text())
		if line == "" {
			continue
		}

		tokens, err := splitCommandLine(line)
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			continue
		}
		cmd := c.lookup(tokens[0])
		if cmd == nil {
			fmt.Fprintf(c.out, "Unknown command %q. Type 'help' for commands.\n", tokens[0])
			continue
		}

		cmdCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		inCommand.Store(true)
		err = cmd.run(cmdCtx, tokens[1:])
		inCommand.Store(false)
		stop()

		if errors.Is(err, errExit) {
			break
		}
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(c.out, "^C")
			continue
		}
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			c.log.Error("console: %s: %v", cmd.name, err)
		}
	}

	c.proxies.StopAll()
	return c.in.Err()
}

func (c *Console) cmdHelp(ctx context.Context, args []string) error {
	names := make([]string, 0, len(c.commands))
	byName := make(map[string]*command, len(c.commands))
	for i := range c.commands {
		names = append(names, c.commands[i].name)
		byName[c.commands[i].name] = &c.commands[i]
	}
	sort.Strings(names)

	tw := newTable(c.out)
	fmt.Fprintln(tw, "COMMAND\tUSAGE\tDESCRIPTION")
	for _, name := range names {
		cmd := byName[name]
		label := cmd.name
		if len(cmd.aliases) > 0 {
			label += " (" + strings.Join(cmd.aliases, ", ") + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", label, cmd.usage, cmd.summary)
	}
	return tw.Flush()
}

// requireAgent fails commands that need a selection before one was made.
func (c *Console) requireAgent() (*model.Agent, error) {
	if c.selected == nil {
		return nil, errors.New("no agent selected, use 'list' then 'use <number>'")
	}
	return c.selected, nil
}

// splitCommandLine tokenizes a console line with single and double quote
// support.
func splitCommandLine(line string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inToken := false
	var quote byte

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			} else {
				cur.WriteByte(ch)
			}
		case ch == '\'' || ch == '"':
			quote = ch
			inToken = true
		case ch == ' ' || ch == '\t':
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteByte(ch)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}
