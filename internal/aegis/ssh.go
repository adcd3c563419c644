package aegis

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"

	"chariot/internal/model"
)

// DefaultSSHUser is used when neither the console session nor the command
// line supplies one.
const DefaultSSHUser = "root"

// tunnelSSHOptions are the ssh -o options applied to every connection over
// an agent tunnel. accept-new pins the tunnel host key on first contact
// without the interactive prompt, which would deadlock a detached proxy.
func tunnelSSHOptions() []string {
	return []string{
		"-o", "ConnectTimeout=10",
		"-o", "ServerAliveInterval=30",
		"-o", "ExitOnForwardFailure=yes",
		"-o", "StrictHostKeyChecking=accept-new",
	}
}

// BuildSSHCommand assembles the argv for an interactive session to an
// agent over its tunnel. opts may be nil.
func BuildSSHCommand(agent *model.Agent, user string, opts *SSHOptions) ([]string, error) {
	if err := ValidateAgentForSSH(agent); err != nil {
		return nil, err
	}
	if user == "" {
		user = DefaultSSHUser
	}
	if opts != nil && opts.User != "" {
		user = opts.User
	}

	argv := []string{"ssh"}
	argv = append(argv, tunnelSSHOptions()...)
	if opts != nil {
		for _, spec := range opts.LocalForwards {
			argv = append(argv, "-L", spec)
		}
		for _, spec := range opts.RemoteForwards {
			argv = append(argv, "-R", spec)
		}
		if opts.DynamicForward != "" {
			argv = append(argv, "-D", opts.DynamicForward)
		}
		if opts.Key != "" {
			if err := ValidateIdentityFile(opts.Key); err != nil {
				return nil, err
			}
			argv = append(argv, "-i", opts.Key)
		}
		argv = append(argv, opts.Passthrough...)
	}
	argv = append(argv, fmt.Sprintf("%s@%s", user, agent.PublicHostname()))
	return argv, nil
}

// BuildCopyCommand assembles the scp argv for copying files to or from an
// agent. Source and destination tokens with a leading ':' refer to the
// remote side and are rewritten to user@tunnel-host form.
func BuildCopyCommand(agent *model.Agent, user string, opts *SSHOptions, sources []string, dest string) ([]string, error) {
	if err := ValidateAgentForSSH(agent); err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no source files given")
	}
	if user == "" {
		user = DefaultSSHUser
	}
	if opts != nil && opts.User != "" {
		user = opts.User
	}
	remote := fmt.Sprintf("%s@%s", user, agent.PublicHostname())

	rewrite := func(token string) string {
		if strings.HasPrefix(token, ":") {
			return remote + token
		}
		return token
	}

	argv := []string{"scp", "-r"}
	argv = append(argv, tunnelSSHOptions()...)
	if opts != nil && opts.Key != "" {
		if err := ValidateIdentityFile(opts.Key); err != nil {
			return nil, err
		}
		argv = append(argv, "-i", opts.Key)
	}

	remoteEnd := strings.HasPrefix(dest, ":")
	for _, src := range sources {
		if strings.HasPrefix(src, ":") == remoteEnd {
			return nil, fmt.Errorf("copy needs exactly one remote end, prefix the remote path with ':'")
		}
		argv = append(argv, rewrite(src))
	}
	argv = append(argv, rewrite(dest))
	return argv, nil
}

// SessionRunner executes interactive subprocesses with the console's
// terminal attached, optionally recording the session.
type SessionRunner struct {
	logger   *log.Logger
	recorder *Recorder
}

func NewSessionRunner(logger *log.Logger, recorder *Recorder) *SessionRunner {
	return &SessionRunner{logger: logger, recorder: recorder}
}

// Run executes argv with stdin, stdout and stderr wired to the terminal.
// With record set and a recorder configured, the session runs under a pty
// and its output is captured to an asciinema cast file.
func (r *SessionRunner) Run(ctx context.Context, argv []string, record bool, castName string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty command")
	}
	r.logger.Printf("[Session] Running: %s", strings.Join(argv, " "))

	if record && r.recorder != nil {
		path, err := r.recorder.Record(ctx, argv, castName)
		if path != "" {
			r.logger.Printf("[Session] Recording saved to %s", path)
		}
		return err
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
