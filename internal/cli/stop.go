package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thruflo/clave/internal/cycle"
	"github.com/thruflo/clave/internal/monitor"
)

var controlSession string

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running session",
	Long: `Stop a running or paused session on the autoclave.

The session's remote status is checked first: a session that already
completed is reported as completed and is not stopped.

Example:
  clave stop
  clave stop --session 42`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the active session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, "pause", (*monitor.Controller).Pause)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, "resume", (*monitor.Controller).Resume)
	},
}

func init() {
	for _, c := range []*cobra.Command{stopCmd, pauseCmd, resumeCmd} {
		c.Flags().StringVar(&controlSession, "session", "", "session id (default: the active session)")
		rootCmd.AddCommand(c)
	}
}

func runStop(cmd *cobra.Command, args []string) error {
	return runControl(cmd, "stop", (*monitor.Controller).Stop)
}

// runControl attaches to the session, runs one operator command and
// reports the resulting status.
func runControl(cmd *cobra.Command, action string, op func(*monitor.Controller, context.Context) error) error {
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

	sessionID, err := cmd.Flags().GetString("session")
	if err != nil {
		return err
	}

	s, err := withController(ctx, cfg, client, sessionID, func(ctrl *monitor.Controller) error {
		return op(ctrl, ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to %s session: %w", action, err)
	}

	out := cmd.OutOrStdout()
	switch {
	case action == "stop" && s.Status == cycle.StatusCompleted:
		fmt.Fprintf(out, "Session %s had already completed.\n", s.ID)
	default:
		fmt.Fprintf(out, "Session %s is %s.\n", s.ID, s.Status)
	}
	return nil
}
