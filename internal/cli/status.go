package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/thruflo/clave/internal/cycle"
	"github.com/thruflo/clave/internal/remote"
	"github.com/thruflo/clave/internal/tui"
)

// statusLimit caps the session list.
const statusLimit = 10

var statusCmd = &cobra.Command{
	Use:   "status [session]",
	Short: "Show sessions and the latest reading",
	Long: `Shows the latest sensor reading and the most recent sessions.

With a session id, shows detailed information for that session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	base, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(base, cfg, false)
	if err != nil {
		return err
	}
	defer closeLog()

	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		return listSessions(ctx, out, client, time.Now())
	}
	return showSession(ctx, out, client, args[0], time.Now())
}

// statusSource is what the status command reads.
type statusSource interface {
	remote.ReadingSource
	remote.SessionSource
	remote.ProgramCatalog
}

func listSessions(ctx context.Context, out io.Writer, src statusSource, now time.Time) error {
	printReading(ctx, out, src)

	sessions, err := src.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartTime.After(sessions[j].StartTime)
	})
	if len(sessions) > statusLimit {
		sessions = sessions[:statusLimit]
	}

	// Calculate column widths
	idWidth := len("ID")
	statusWidth := len("STATUS")
	programWidth := len("PROGRAM")
	for _, s := range sessions {
		idWidth = max(idWidth, len(s.ID))
		statusWidth = max(statusWidth, len(s.Status))
		programWidth = max(programWidth, len(programName(s)))
	}

	fmt.Fprintf(out, "%-*s  %-*s  %-*s  %s\n", idWidth, "ID", statusWidth, "STATUS", programWidth, "PROGRAM", "STARTED")
	fmt.Fprintf(out, "%s  %s  %s  %s\n", strings.Repeat("-", idWidth), strings.Repeat("-", statusWidth), strings.Repeat("-", programWidth), "-------")
	for _, s := range sessions {
		fmt.Fprintf(out, "%-*s  %-*s  %-*s  %s\n", idWidth, s.ID, statusWidth, s.Status, programWidth, programName(s), formatTime(s.StartTime))
	}

	if active, ok := remote.ActiveSession(sessions); ok {
		fmt.Fprintf(out, "\nActive: session %s, %s elapsed.\n", active.ID, formatDuration(now.Sub(active.StartTime)))
	}
	return nil
}

func showSession(ctx context.Context, out io.Writer, src statusSource, id string, now time.Time) error {
	s, err := src.ByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	program := sessionProgram(ctx, src, s)

	fmt.Fprintln(out, "Session Details")
	fmt.Fprintln(out, "===============")
	fmt.Fprintln(out)

	printField(out, "ID", s.ID)
	printField(out, "Status", string(s.Status))
	printField(out, "Program", programName(s))
	printField(out, "Started", formatTime(s.StartTime))
	end := now
	if s.EndTime != nil {
		printField(out, "Ended", formatTime(*s.EndTime))
		end = *s.EndTime
	}
	printField(out, "Elapsed", formatDuration(end.Sub(s.StartTime)))
	if s.ManualTarget > 0 {
		printField(out, "Target", fmt.Sprintf("%g psi", s.ManualTarget))
	}

	if len(program.Steps) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Steps")
		fmt.Fprintln(out, "-----")
		for i, step := range program.Steps {
			fmt.Fprintf(out, "  %2d. %-10s %-8s %s\n", i+1, step.PSIRange, step.Action, tui.FormatMinutes(step.DurationMinutes))
		}
		printField(out, "Total", tui.FormatMinutes(program.TotalMinutes()))
	}

	if s.Status.IsActive() {
		fmt.Fprintln(out)
		printReading(ctx, out, src)
	}
	return nil
}

func printReading(ctx context.Context, out io.Writer, src remote.ReadingSource) {
	r, err := src.Latest(ctx)
	switch {
	case errors.Is(err, remote.ErrNoReading):
		fmt.Fprintln(out, "No reading yet.")
	case err != nil:
		fmt.Fprintf(out, "Reading unavailable: %v\n", err)
	default:
		fmt.Fprintf(out, "Latest reading: %.1f psi, %.1f °C at %s\n", r.Pressure, r.Temperature, formatTime(r.Timestamp))
	}
	fmt.Fprintln(out)
}

func programName(s cycle.Session) string {
	if s.ProgramName != "" {
		return s.ProgramName
	}
	if s.ProgramRef != "" {
		return s.ProgramRef
	}
	return "-"
}

func printField(out io.Writer, label, value string) {
	fmt.Fprintf(out, "  %-10s %s\n", label+":", value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)

	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
