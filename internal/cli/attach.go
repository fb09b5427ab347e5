package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/thruflo/clave/internal/monitor"
	"github.com/thruflo/clave/internal/tui"
)

var (
	attachSession string
	attachNoTUI   bool
	attachServe   bool
	attachPort    int
)

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Monitor a session that is already running",
	Long: `Attach to a running or paused session and show the dashboard.

Without --session the most recent active session is used. Progress is
estimated from the session's start time and the chart is seeded from the
readings recorded so far.

Example:
  clave attach
  clave attach --session 42 --serve`,
	Args: cobra.NoArgs,
	RunE: runAttach,
}

func init() {
	attachCmd.Flags().StringVar(&attachSession, "session", "", "session id (default: the active session)")
	attachCmd.Flags().BoolVar(&attachNoTUI, "no-tui", false, "print line-by-line progress instead of the dashboard")
	attachCmd.Flags().BoolVar(&attachServe, "serve", false, "start the watch server for remote access")
	attachCmd.Flags().IntVar(&attachPort, "port", 0, "watch server port (default from config)")
	rootCmd.AddCommand(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	base, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if attachPort != 0 {
		cfg.Server.Port = attachPort
	}
	if attachServe {
		if err := ensureServerPassword(base, cfg, cmd.ErrOrStderr()); err != nil {
			return err
		}
	}

	dashboard := !attachNoTUI && isTerminal(os.Stdin) && isTerminal(os.Stdout)
	closeLog, err := setupLogging(base, cfg, dashboard)
	if err != nil {
		return err
	}
	defer closeLog()

	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	s, err := resolveSession(ctx, client, attachSession)
	if err != nil {
		return err
	}
	program := sessionProgram(ctx, client, s)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Attaching to session %s (%s)...\n", s.ID, s.Status)

	_, err = runSession(ctx, sessionRun{
		base:   base,
		cfg:    cfg,
		client: client,
		begin: func(ctx context.Context, ctrl *monitor.Controller) error {
			if err := ctrl.Attach(ctx, s, program); err != nil {
				return fmt.Errorf("failed to attach: %w", err)
			}
			return nil
		},
		serve:     attachServe,
		dashboard: dashboard,
		in:        cmd.InOrStdin(),
		out:       out,
		notifier:  tui.NewNotifier(io.Discard),
	})
	return err
}
