package console

import (
	"context"
	"fmt"
	"strings"

	"chariot/internal/model"
)

func (c *Console) cmdCapabilities(ctx context.Context, args []string) error {
	agent, err := c.requireAgent()
	if err != nil {
		return err
	}

	caps, err := c.client.ListCapabilities(ctx, "aegis", strings.ToLower(agent.OS))
	if err != nil {
		return err
	}
	if len(caps) == 0 {
		fmt.Fprintln(c.out, "No capabilities available for this agent.")
		return nil
	}

	tw := newTable(c.out)
	fmt.Fprintln(tw, "NAME\tTARGET\tCREDS\tDESCRIPTION")
	for _, capability := range caps {
		creds := ""
		if capability.NeedsCredentials() {
			creds = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", capability.Name, capability.Target, creds, capability.Description)
	}
	return tw.Flush()
}

// parseRunArgs splits "run" style arguments into the domain, credential key
// and k=v config overrides.
func parseRunArgs(args []string) (domain, credential string, extra map[string]string, err error) {
	extra = map[string]string{}
	i := 0
	for i < len(args) {
		switch args[i] {
		case "-d", "--domain":
			if i+1 >= len(args) {
				return "", "", nil, fmt.Errorf("-d requires a domain")
			}
			domain = args[i+1]
			i += 2
		case "-c", "--credential":
			if i+1 >= len(args) {
				return "", "", nil, fmt.Errorf("-c requires a credential key")
			}
			credential = args[i+1]
			i += 2
		default:
			k, v, ok := strings.Cut(args[i], "=")
			if !ok {
				return "", "", nil, fmt.Errorf("unexpected argument %q, expected k=v", args[i])
			}
			extra[k] = v
			i++
		}
	}
	return domain, credential, extra, nil
}

func (c *Console) cmdRun(ctx context.Context, args []string) error {
	agent, err := c.requireAgent()
	if err != nil {
		return err
	}
	if len(args) < 1 {
		return fmt.Errorf("usage: run <capability> [-d domain] [-c credential] [k=v ...]")
	}

	domain, credential, extra, err := parseRunArgs(args[1:])
	if err != nil {
		return err
	}

	job, err := c.orch.RunJob(ctx, args[0], agent, domain, credential, extra)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Queued %s on %s (%s)\n", args[0], agent.Hostname, job.Key)
	return nil
}

func (c *Console) cmdJobs(ctx context.Context, args []string) error {
	prefix := ""
	if c.selected != nil {
		prefix = c.selected.Hostname
	}

	jobs, _, err := c.client.ListJobs(ctx, prefix, 1)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(c.out, "No jobs found.")
		return nil
	}

	tw := newTable(c.out)
	fmt.Fprintln(tw, "KEY\tSTATUS\tCAPABILITIES\tCREATED")
	for _, job := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			job.Key, job.Status, strings.Join(job.Capabilities, ","), job.Created)
	}
	return tw.Flush()
}

func (c *Console) cmdCreds(ctx context.Context, args []string) error {
	creds, err := c.client.ListCredentials(ctx)
	if err != nil {
		return err
	}
	if len(creds) == 0 {
		fmt.Fprintln(c.out, "No credentials stored.")
		return nil
	}

	tw := newTable(c.out)
	fmt.Fprintln(tw, "KEY\tNAME\tTYPE\tUSERNAME")
	for _, cred := range creds {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", cred.Key, cred.Name, cred.Type, cred.Username)
	}
	return tw.Flush()
}

func (c *Console) cmdSchedule(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "list" {
		return c.listSchedules(ctx)
	}

	switch args[0] {
	case "add":
		return c.addSchedule(ctx, args[1:])

	case "view":
		if len(args) != 2 {
			return fmt.Errorf("usage: schedule view <id>")
		}
		sched, err := c.sched.FindByIDPrefix(ctx, args[1])
		if err != nil {
			return err
		}
		return c.viewSchedule(sched)

	case "update", "edit":
		if len(args) != 4 {
			return fmt.Errorf("usage: schedule %s <id> <days> <HH:MM>", args[0])
		}
		sched, err := c.sched.FindByIDPrefix(ctx, args[1])
		if err != nil {
			return err
		}
		weekly, err := parseWeekly(args[2], args[3])
		if err != nil {
			return err
		}
		updated, err := c.sched.UpdateWeekly(ctx, sched.ScheduleID, weekly)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Updated schedule %s\n", updated.ScheduleID)
		return nil

	case "pause", "resume", "delete":
		if len(args) != 2 {
			return fmt.Errorf("usage: schedule %s <id>", args[0])
		}
		sched, err := c.sched.FindByIDPrefix(ctx, args[1])
		if err != nil {
			return err
		}
		switch args[0] {
		case "pause":
			_, err = c.sched.Pause(ctx, sched.ScheduleID)
		case "resume":
			_, err = c.sched.Resume(ctx, sched.ScheduleID)
		case "delete":
			err = c.sched.Delete(ctx, sched.ScheduleID)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Schedule %s %sd\n", sched.ScheduleID, args[0])
		return nil

	default:
		return fmt.Errorf("usage: schedule [list|view|add|update|pause|resume|delete]")
	}
}

func (c *Console) viewSchedule(s *model.Schedule) error {
	tw := newTable(c.out)
	fmt.Fprintf(tw, "ID:\t%s\n", s.ScheduleID)
	fmt.Fprintf(tw, "Capability:\t%s\n", s.CapabilityName)
	fmt.Fprintf(tw, "Target:\t%s\n", s.TargetKey)
	fmt.Fprintf(tw, "Agent:\t%s\n", s.ClientID)
	fmt.Fprintf(tw, "Status:\t%s\n", s.Status)
	fmt.Fprintf(tw, "Days:\t%s\n", strings.Join(s.WeeklySchedule.EnabledDays(), ","))
	fmt.Fprintf(tw, "Next run:\t%s\n", s.NextExecution)
	return tw.Flush()
}

func (c *Console) listSchedules(ctx context.Context) error {
	var (
		schedules []model.Schedule
		err       error
	)
	if c.selected != nil {
		schedules, err = c.sched.ForAgent(ctx, c.selected.ClientID)
	} else {
		schedules, err = c.sched.List(ctx, false)
	}
	if err != nil {
		return err
	}
	if len(schedules) == 0 {
		fmt.Fprintln(c.out, "No schedules.")
		return nil
	}

	tw := newTable(c.out)
	fmt.Fprintln(tw, "ID\tCAPABILITY\tTARGET\tSTATUS\tDAYS\tNEXT RUN")
	for _, s := range schedules {
		days := strings.Join(s.WeeklySchedule.EnabledDays(), ",")
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(s.ScheduleID), s.CapabilityName, s.TargetKey, s.Status, days, s.NextExecution)
	}
	return tw.Flush()
}

func (c *Console) addSchedule(ctx context.Context, args []string) error {
	agent, err := c.requireAgent()
	if err != nil {
		return err
	}
	if len(args) < 3 {
		return fmt.Errorf("usage: schedule add <capability> <days> <HH:MM> [-d domain] [k=v ...]")
	}

	weekly, err := parseWeekly(args[1], args[2])
	if err != nil {
		return err
	}
	domain, _, extra, err := parseRunArgs(args[3:])
	if err != nil {
		return err
	}

	capability, err := c.client.GetCapability(ctx, args[0])
	if err != nil {
		return err
	}
	if capability == nil {
		return fmt.Errorf("unknown capability %s", args[0])
	}

	created, err := c.sched.Create(ctx, c.orch, capability, agent, domain, weekly, "", "", extra)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Created schedule %s for %s on %s\n",
		created.ScheduleID, capability.Name, agent.Hostname)
	return nil
}

var dayAliases = map[string]string{
	"mon": "monday", "tue": "tuesday", "wed": "wednesday", "thu": "thursday",
	"fri": "friday", "sat": "saturday", "sun": "sunday",
}

// parseWeekly turns "mon,wed,fri" (or "daily"/"weekdays") and an HH:MM
// into a weekly pattern. Times are UTC.
func parseWeekly(daysArg, timeArg string) (model.WeeklySchedule, error) {
	var names []string
	switch strings.ToLower(daysArg) {
	case "daily":
		names = model.Days
	case "weekdays":
		names = model.Days[:5]
	default:
		for _, raw := range strings.Split(daysArg, ",") {
			name := strings.ToLower(strings.TrimSpace(raw))
			if full, ok := dayAliases[name]; ok {
				name = full
			}
			names = append(names, name)
		}
	}

	weekly := model.WeeklySchedule{}
	for _, day := range model.Days {
		weekly[day] = model.DaySchedule{Enabled: false, Time: timeArg}
	}
	for _, name := range names {
		if _, ok := weekly[name]; !ok {
			return nil, fmt.Errorf("unknown day %q", name)
		}
		weekly[name] = model.DaySchedule{Enabled: true, Time: timeArg}
	}
	if err := weekly.Validate(); err != nil {
		return nil, err
	}
	return weekly, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
