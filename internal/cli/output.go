package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/osa911/stackctl/internal/service"
	"github.com/osa911/stackctl/internal/traefik"
)

var (
	bold   = color.New(color.Bold).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

func stateColor(state, health string) string {
	text := state
	if health != "" {
		text += " (" + health + ")"
	}
	switch {
	case state == "running" && (health == "" || health == "healthy"):
		return green(text)
	case state == "running" && health == "starting":
		return yellow(text)
	case state == "not created":
		return faint(text)
	default:
		return red(text)
	}
}

// FormatAge renders a duration the way status output shows backup ages.
func FormatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// PrintStatus renders a status report.
func PrintStatus(w io.Writer, report *service.StatusReport, warnDays int) {
	now := report.GeneratedAt
	for _, st := range report.Stacks {
		title := st.Stack
		if st.Proxy {
			title += " (proxy)"
		}
		fmt.Fprintf(w, "\n%s  %s\n", bold("▶ "+title), faint(st.Dir))
		if st.Error != "" {
			fmt.Fprintf(w, "  %s %s\n", red("error:"), st.Error)
		}

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  SERVICE\tSTATE\tPORTS")
		for _, row := range st.Services {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", row.Service, stateColor(row.State, row.Health), row.Ports)
		}
		tw.Flush()

		for _, u := range st.URLs {
			fmt.Fprintf(w, "  🌐 %s\n", u)
		}
		if st.LatestBackup != nil {
			age := now.Sub(st.LatestBackup.CreatedAt)
			line := fmt.Sprintf("%s (%s)", st.LatestBackup.Name, FormatAge(age))
			if age > 48*time.Hour {
				line = yellow(line)
			}
			fmt.Fprintf(w, "  💾 latest backup: %s\n", line)
		}
		for _, n := range st.Networks {
			mark := green("present")
			if !n.Exists {
				mark = red("missing")
			}
			fmt.Fprintf(w, "  🔗 network %s: %s\n", n.Name, mark)
		}
	}

	if t := report.Traefik; t != nil {
		fmt.Fprintf(w, "\n%s  %s\n", bold("▶ Traefik API"), faint(t.URL))
		switch {
		case t.Error != "":
			fmt.Fprintf(w, "  %s %s\n", yellow("unreachable:"), t.Error)
		case t.Overview != nil:
			o := t.Overview.HTTP
			fmt.Fprintf(w, "  version %s, providers %s\n", t.Version, strings.Join(t.Overview.Providers, ", "))
			fmt.Fprintf(w, "  routers %s, services %s, middlewares %s\n", counts(o.Routers), counts(o.Services), counts(o.Middlewares))
		}
	}

	if len(report.Certificates) > 0 {
		fmt.Fprintf(w, "\n%s\n", bold("▶ Certificates"))
		PrintCertificates(w, report.Certificates, now, warnDays)
	}
}

func counts(c traefik.Counts) string {
	s := fmt.Sprintf("%d", c.Total)
	if c.Errors > 0 {
		s += " " + red(fmt.Sprintf("(%d errors)", c.Errors))
	} else if c.Warnings > 0 {
		s += " " + yellow(fmt.Sprintf("(%d warnings)", c.Warnings))
	}
	return s
}

// PrintCertificates renders certificates with their remaining validity.
func PrintCertificates(w io.Writer, certs []traefik.Certificate, now time.Time, warnDays int) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  DOMAIN\tRESOLVER\tEXPIRES\tDAYS LEFT")
	for _, c := range certs {
		days := c.DaysLeft(now)
		left := green(fmt.Sprintf("%d", days))
		switch {
		case days < 0:
			left = red("expired")
		case days < warnDays:
			left = yellow(fmt.Sprintf("%d", days))
		}
		domain := c.Main
		if len(c.SANs) > 0 {
			domain += " +" + fmt.Sprint(len(c.SANs))
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", domain, c.Resolver, c.NotAfter.Format("2006-01-02"), left)
	}
	tw.Flush()
}

// PrintHealth renders a health report.
func PrintHealth(w io.Writer, report *service.HealthReport) {
	fmt.Fprintf(w, "\n%s\n", bold("▶ "+report.Stack))
	for _, c := range report.Checks {
		var mark string
		switch c.Status {
		case service.StatusOK:
			mark = green("✔")
		case service.StatusSkipped:
			mark = faint("-")
		case service.StatusWarning:
			mark = yellow("!")
		default:
			mark = red("✘")
		}
		target := ""
		if c.Target != "" {
			target = " " + faint(c.Target)
		}
		fmt.Fprintf(w, "  %s %-10s%s  %s\n", mark, c.Name, target, c.Message)
	}

	summary := green("healthy")
	switch report.Status {
	case service.StatusWarning:
		summary = yellow("healthy with warnings")
	case service.StatusCritical:
		summary = red("unhealthy")
	}
	fmt.Fprintf(w, "  %s\n", summary)
}

// PrintBackups renders a backup listing.
func PrintBackups(w io.Writer, files []service.BackupFile, now time.Time) {
	if len(files) == 0 {
		fmt.Fprintln(w, "No backups found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tCREATED\tOFFSITE")
	for _, f := range files {
		offsite := ""
		if f.Manifest != nil && f.Manifest.RemoteKey != "" {
			offsite = "yes"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", f.Name, f.Size, FormatAge(now.Sub(f.CreatedAt)), offsite)
	}
	tw.Flush()
}
