package aegis

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"

	"chariot/internal/model"
)

// SSHOptions is the parsed form of an SSH-style argument list.
type SSHOptions struct {
	LocalForwards  []string
	RemoteForwards []string
	DynamicForward string
	Key            string
	User           string
	// Passthrough collects unrecognized flags (and their greedily consumed
	// arguments) verbatim for the ssh command line.
	Passthrough []string
}

// HasOptions reports whether any recognized option was provided, ignoring
// passthrough flags.
func (o *SSHOptions) HasOptions() bool {
	return len(o.LocalForwards) > 0 || len(o.RemoteForwards) > 0 ||
		o.DynamicForward != "" || o.Key != "" || o.User != ""
}

// ParseSSHArgs parses a flat token list of SSH connection options, accepting
// both this tool's long flags and native ssh short flags. Parse errors are
// reported to out and yield a nil result; there are no partial results.
//
// Unknown '-'-prefixed tokens pass through verbatim. If the next token does
// not itself start with '-', it is greedily consumed as that flag's
// argument. The heuristic misfires for no-argument flags followed by a
// positional token; replicated as-is from the original interface.
//
// Positional arguments are not supported and fail the parse.
func ParseSSHArgs(out io.Writer, args []string) *SSHOptions {
	options := &SSHOptions{}

	i := 0
	for i < len(args) {
		arg := args[i]
		switch arg {
		case "-L", "-l", "--local-forward":
			if i+1 >= len(args) {
				fmt.Fprintln(out, "Error: -L requires a port forwarding specification")
				fmt.Fprintln(out, "Example: ssh -L 8080:localhost:80")
				return nil
			}
			options.LocalForwards = append(options.LocalForwards, args[i+1])
			i += 2

		case "-R", "-r", "--remote-forward":
			if i+1 >= len(args) {
				fmt.Fprintln(out, "Error: -R requires a port forwarding specification")
				fmt.Fprintln(out, "Example: ssh -R 9090:localhost:3000")
				return nil
			}
			options.RemoteForwards = append(options.RemoteForwards, args[i+1])
			i += 2

		case "-D", "-d", "--dynamic-forward":
			if i+1 >= len(args) {
				fmt.Fprintln(out, "Error: -D requires a port number")
				fmt.Fprintln(out, "Example: ssh -D 1080")
				return nil
			}
			port, err := strconv.Atoi(args[i+1])
			if err != nil || port < 1 || port > 65535 {
				fmt.Fprintf(out, "Error: Invalid port number %q\n", args[i+1])
				fmt.Fprintln(out, "Port must be a number between 1 and 65535")
				return nil
			}
			options.DynamicForward = strconv.Itoa(port)
			i += 2

		case "-i", "-I", "--key":
			if i+1 >= len(args) {
				fmt.Fprintln(out, "Error: -i requires a key file path")
				fmt.Fprintln(out, "Example: ssh -i ~/.ssh/my_key")
				return nil
			}
			options.Key = args[i+1]
			i += 2

		case "-u", "-U", "--user":
			if i+1 >= len(args) {
				fmt.Fprintln(out, "Error: -u requires a username")
				fmt.Fprintln(out, "Example: ssh -u root")
				return nil
			}
			options.User = args[i+1]
			i += 2

		default:
			if strings.HasPrefix(arg, "-") {
				options.Passthrough = append(options.Passthrough, arg)
				if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
					options.Passthrough = append(options.Passthrough, args[i+1])
					i += 2
				} else {
					i++
				}
				continue
			}
			fmt.Fprintf(out, "Error: Unexpected argument %q\n", arg)
			return nil
		}
	}

	return options
}

// NormalizeTUIArgs extracts a user override (-u NAME, --user NAME,
// --user=NAME, -uNAME) from a console command line and returns the
// remaining tokens. When an override is present, any native "-l <name>"
// pair is stripped so the console's repeatable local-forward alias cannot
// be reinterpreted by ssh as a login name. Callers must apply this rule
// before ParseSSHArgs or ssh flag semantics silently invert.
func NormalizeTUIArgs(args []string) (user string, options []string) {
	i := 0
	for i < len(args) {
		a := args[i]
		switch {
		case a == "-u" || a == "--user":
			if i+1 < len(args) {
				user = args[i+1]
				i += 2
				continue
			}
		case strings.HasPrefix(a, "--user="):
			user = strings.TrimPrefix(a, "--user=")
			i++
			continue
		case strings.HasPrefix(a, "-u") && a != "-u":
			user = a[2:]
			i++
			continue
		}
		options = append(options, a)
		i++
	}

	if user == "" {
		return user, options
	}

	filtered := options[:0:0]
	skip := false
	for j, tok := range options {
		if skip {
			skip = false
			continue
		}
		if tok == "-l" && j+1 < len(options) {
			skip = true
			continue
		}
		filtered = append(filtered, tok)
	}
	return user, filtered
}

// ValidateAgentForSSH checks that an agent is reachable for SSH: present,
// identified, and exposing a public tunnel hostname.
func ValidateAgentForSSH(agent *model.Agent) error {
	if agent == nil {
		return errors.New("no agent specified")
	}
	if agent.ClientID == "" {
		return errors.New("agent missing client_id")
	}
	hostname := agent.Hostname
	if hostname == "" {
		hostname = "Unknown"
	}
	if !agent.HasTunnel() {
		return fmt.Errorf("SSH not available for %s - no active tunnel", hostname)
	}
	if agent.PublicHostname() == "" {
		return fmt.Errorf("no public hostname found in tunnel configuration for %s", hostname)
	}
	return nil
}

// ValidateIdentityFile parses a user-supplied private key so a bad -i path
// fails with a useful message before any subprocess launch.
// Passphrase-protected keys are fine; ssh prompts for those itself.
func ValidateIdentityFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read identity file: %w", err)
	}
	if _, err := ssh.ParsePrivateKey(data); err != nil {
		var passErr *ssh.PassphraseMissingError
		if errors.As(err, &passErr) {
			return nil
		}
		return fmt.Errorf("%s is not a valid private key: %w", path, err)
	}
	return nil
}
