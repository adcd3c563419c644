// cmd/chariot/main.go
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"chariot/internal/api"
	"chariot/internal/console"
	"chariot/internal/keychain"
	"chariot/internal/logging"
)

// RunContext carries the per-invocation settings every subcommand needs.
// There are no package-level globals for these.
type RunContext struct {
	Debug   bool
	Profile string

	Client *api.Client
	Logger *logging.Logger
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: chariot [flags] <command> [args]

Commands:
  configure             Set up a keychain profile interactively
  search <term>         Search entities by key prefix or field:value
  get <key>             Fetch a single entity by exact key
  list <kind>           List assets, credentials, agents, jobs, schedules or capabilities
  add job               Queue a capability job against a target key
  schedule <op> <id>    Manage capability schedules (list, pause, resume, delete)
  download <name>       Download a file from the platform
  upload <path>         Upload a file to the platform
  aegis                 Launch the interactive Aegis console

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	var (
		profile = flag.String("profile", keychain.DefaultProfile, "Keychain profile to use")
		debug   = flag.Bool("debug", false, "Log API traffic and internals to stderr")
	)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	logger, err := logging.New(logging.Config{Name: "chariot", Debug: *debug})
	if err != nil {
		fmt.Fprintf(os.Stderr, "chariot: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	rc := &RunContext{Debug: *debug, Profile: *profile, Logger: logger}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd, rest := args[0], args[1:]

	// configure runs before any client exists
	if cmd == "configure" {
		if err := runConfigure(rc); err != nil {
			fail(err)
		}
		return
	}

	kc, err := keychain.Load(keychain.DefaultPath(), rc.Profile)
	if err != nil {
		fail(err)
	}
	rc.Client = api.NewClient(kc, rc.Debug)

	switch cmd {
	case "search":
		err = runSearch(ctx, rc, rest)
	case "get":
		err = runGet(ctx, rc, rest)
	case "list":
		err = runList(ctx, rc, rest)
	case "add":
		err = runAdd(ctx, rc, rest)
	case "schedule":
		err = runSchedule(ctx, rc, rest)
	case "download":
		err = runDownload(ctx, rc, rest)
	case "upload":
		err = runUpload(ctx, rc, rest)
	case "aegis":
		// the console installs its own interrupt handling so Ctrl-C
		// cancels the current command, not the whole session
		stop()
		err = runAegis(context.Background(), rc)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "chariot: %v\n", err)
	os.Exit(1)
}

func runConfigure(rc *RunContext) error {
	in := bufio.NewReader(os.Stdin)
	prompt := func(label, current string) (string, error) {
		if current != "" {
			fmt.Printf("%s [%s]: ", label, current)
		} else {
			fmt.Printf("%s: ", label)
		}
		line, err := in.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return current, nil
		}
		return line, nil
	}

	existing := keychain.Profile{API: keychain.DefaultAPI}
	if kc, err := keychain.Load(keychain.DefaultPath(), rc.Profile); err == nil {
		existing = kc.Profile
	}

	var err error
	if existing.API, err = prompt("API URL", existing.API); err != nil {
		return err
	}
	if existing.Username, err = prompt("Username (email)", existing.Username); err != nil {
		return err
	}
	if existing.APIKeyID, err = prompt("API key ID", existing.APIKeyID); err != nil {
		return err
	}
	if existing.APIKeySecret, err = prompt("API key secret", existing.APIKeySecret); err != nil {
		return err
	}
	if existing.Account, err = prompt("Assumed account (blank for none)", existing.Account); err != nil {
		return err
	}

	if err := keychain.Save(keychain.DefaultPath(), rc.Profile, existing); err != nil {
		return err
	}
	fmt.Printf("Profile %q saved to %s\n", rc.Profile, keychain.DefaultPath())
	return nil
}

func runSearch(ctx context.Context, rc *RunContext, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	kind := fs.String("kind", "", "Entity kind to filter on")
	exact := fs.Bool("exact", false, "Exact key match instead of prefix")
	global := fs.Bool("global", false, "Search the global dataset")
	desc := fs.Bool("desc", false, "Descending order")
	pages := fs.Int("pages", 1, "Number of result pages to fetch")
	offset := fs.String("offset", "", "Resume from a previous offset")
	asJSON := fs.Bool("json", false, "Print raw JSON")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: search [flags] <term>")
	}

	hits, nextOffset, err := rc.Client.SearchByTerm(ctx, fs.Arg(0), api.SearchOptions{
		Kind:       *kind,
		Exact:      *exact,
		Global:     *global,
		Descending: *desc,
		Pages:      *pages,
		Offset:     *offset,
	})
	if err != nil {
		return err
	}

	if *asJSON {
		return printJSON(map[string]any{"hits": hits, "offset": nextOffset})
	}
	for _, hit := range hits {
		if m, ok := hit.(map[string]any); ok {
			if key, ok := m["key"].(string); ok {
				fmt.Println(key)
				continue
			}
		}
		fmt.Println(hit)
	}
	if nextOffset != "" {
		fmt.Fprintf(os.Stderr, "More results available, resume with -offset '%s'\n", nextOffset)
	}
	return nil
}

func runGet(ctx context.Context, rc *RunContext, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: get <key>")
	}
	entity, err := rc.Client.SearchByExactKey(ctx, args[0])
	if err != nil {
		return err
	}
	if entity == nil {
		return fmt.Errorf("no entity with key %s", args[0])
	}
	return printJSON(entity)
}

func runList(ctx context.Context, rc *RunContext, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: list <assets|credentials|agents|jobs|schedules|capabilities>")
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	switch args[0] {
	case "assets":
		assets, _, err := rc.Client.ListAssets(ctx, "", 1)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "KEY\tDNS\tNAME\tSTATUS")
		for _, a := range assets {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Key, a.DNS, a.Name, a.Status)
		}

	case "credentials":
		creds, err := rc.Client.ListCredentials(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "KEY\tNAME\tTYPE\tUSERNAME")
		for _, c := range creds {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Key, c.Name, c.Type, c.Username)
		}

	case "agents":
		agents, err := rc.Client.ListAegisAgents(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "CLIENT ID\tHOSTNAME\tOS\tONLINE")
		for i := range agents {
			a := &agents[i]
			fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", a.ClientID, a.Hostname, a.OS, a.IsOnline())
		}

	case "jobs":
		jobs, _, err := rc.Client.ListJobs(ctx, "", 1)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "KEY\tSTATUS\tCREATED")
		for _, j := range jobs {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", j.Key, j.Status, j.Created)
		}

	case "schedules":
		schedules, _, err := rc.Client.ListSchedules(ctx, api.AllPages)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "ID\tCAPABILITY\tTARGET\tSTATUS")
		for _, s := range schedules {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ScheduleID, s.CapabilityName, s.TargetKey, s.Status)
		}

	case "capabilities":
		caps, err := rc.Client.ListCapabilities(ctx, "", "")
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "NAME\tTARGET\tDESCRIPTION")
		for _, c := range caps {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, c.Target, c.Description)
		}

	default:
		return fmt.Errorf("unknown kind %q", args[0])
	}
	return tw.Flush()
}

func runAdd(ctx context.Context, rc *RunContext, args []string) error {
	if len(args) < 1 || args[0] != "job" {
		return fmt.Errorf("usage: add job -key <target-key> -capability <name> [-config k=v]...")
	}

	fs := flag.NewFlagSet("add job", flag.ExitOnError)
	key := fs.String("key", "", "Target entity key")
	capability := fs.String("capability", "", "Capability to run")
	var configs multiFlag
	fs.Var(&configs, "config", "Job config entry k=v, repeatable")
	fs.Parse(args[1:])

	if *key == "" || *capability == "" {
		return fmt.Errorf("add job requires -key and -capability")
	}

	config := map[string]string{}
	for _, kv := range configs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("bad -config entry %q, expected k=v", kv)
		}
		config[k] = v
	}

	job, err := rc.Client.AddJob(ctx, api.JobRequest{
		Key:          *key,
		Capabilities: []string{*capability},
		Config:       config,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Queued job %s\n", job.Key)
	return nil
}

func runSchedule(ctx context.Context, rc *RunContext, args []string) error {
	if len(args) == 0 || args[0] == "list" {
		return runList(ctx, rc, []string{"schedules"})
	}
	if len(args) != 2 {
		return fmt.Errorf("usage: schedule <pause|resume|delete|view> <id>")
	}

	id := args[1]
	switch args[0] {
	case "pause":
		s, err := rc.Client.PauseSchedule(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("Schedule %s is now %s\n", s.ScheduleID, s.Status)
	case "resume":
		s, err := rc.Client.ResumeSchedule(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("Schedule %s is now %s\n", s.ScheduleID, s.Status)
	case "delete":
		if err := rc.Client.DeleteSchedule(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Schedule %s deleted\n", id)
	case "view":
		s, err := rc.Client.GetSchedule(ctx, id)
		if err != nil {
			return err
		}
		if s == nil {
			return fmt.Errorf("no schedule %s", id)
		}
		return printJSON(s)
	default:
		return fmt.Errorf("unknown schedule operation %q", args[0])
	}
	return nil
}

func runDownload(ctx context.Context, rc *RunContext, args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	dir := fs.String("dir", ".", "Directory to write the file into")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: download [-dir path] <name>")
	}

	path, err := rc.Client.DownloadTo(ctx, fs.Arg(0), *dir)
	if err != nil {
		return err
	}
	fmt.Printf("Saved %s\n", path)
	return nil
}

func runUpload(ctx context.Context, rc *RunContext, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	name := fs.String("name", "", "Remote name (default: local basename)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: upload [-name remote] <path>")
	}

	local := fs.Arg(0)
	remote := *name
	if remote == "" {
		remote = filepath.Base(local)
	}
	if err := rc.Client.Upload(ctx, local, remote); err != nil {
		return err
	}
	fmt.Printf("Uploaded %s as %s\n", local, remote)
	return nil
}

func runAegis(ctx context.Context, rc *RunContext) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	c := console.New(rc.Client, rc.Logger, console.Options{
		RecordDir: filepath.Join(home, ".chariot", "recordings"),
	})
	return c.Run(ctx)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// multiFlag collects repeated flag values.
type multiFlag []string

func (m *multiFlag) String() string     { return strings.Join(*m, ",") }
func (m *multiFlag) Set(s string) error { *m = append(*m, s); return nil }
