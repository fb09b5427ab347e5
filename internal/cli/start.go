package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/thruflo/clave/internal/auth"
	"github.com/thruflo/clave/internal/config"
	"github.com/thruflo/clave/internal/cycle"
	"github.com/thruflo/clave/internal/monitor"
	"github.com/thruflo/clave/internal/remote"
	"github.com/thruflo/clave/internal/tui"
)

var (
	startProgram  string
	startTarget   float64
	startDuration float64
	startNoTUI    bool
	startServe    bool
	startPort     int
	startMock     bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new process session",
	Long: `Starts a session on the autoclave and monitors it until it finishes.

Run a stored program with --program (id, number such as P03, name, or a
path to a YAML program file), or a manual session with --target and
--duration.

The dashboard shows the current step, readings and a chart. Press p to
pause or resume, s to stop, q to detach. Detaching leaves the session
running; use 'clave attach' to monitor it again.

Remote Access:
  Use --serve to start the watch server alongside the dashboard so the
  session can be followed from another device with a browser or
  'clave watch'. On first use you'll be prompted to set a password.

Example:
  clave start --program P03
  clave start --program programs/wrapped.yaml --serve
  clave start --target 15 --duration 30 --no-tui
  clave start --program P01 --mock`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVarP(&startProgram, "program", "p", "", "program id, number, name or YAML file")
	startCmd.Flags().Float64Var(&startTarget, "target", 0, "manual session target pressure (psi)")
	startCmd.Flags().Float64Var(&startDuration, "duration", 0, "manual session duration (minutes)")
	startCmd.Flags().BoolVar(&startNoTUI, "no-tui", false, "print line-by-line progress instead of the dashboard")
	startCmd.Flags().BoolVar(&startServe, "serve", false, "start the watch server for remote access")
	startCmd.Flags().IntVar(&startPort, "port", 0, "watch server port (default from config)")
	startCmd.Flags().BoolVar(&startMock, "mock", false, "run against a simulated autoclave")

	startCmd.MarkFlagsMutuallyExclusive("program", "target")
	startCmd.MarkFlagsMutuallyExclusive("program", "duration")
	startCmd.MarkFlagsRequiredTogether("target", "duration")

	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	base, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if startPort != 0 {
		cfg.Server.Port = startPort
	}
	if startServe {
		if err := ensureServerPassword(base, cfg, cmd.ErrOrStderr()); err != nil {
			return err
		}
	}

	dashboard := !startNoTUI && isTerminal(os.Stdin) && isTerminal(os.Stdout)
	closeLog, err := setupLogging(base, cfg, dashboard)
	if err != nil {
		return err
	}
	defer closeLog()

	client, err := startClient(cfg, startMock)
	if err != nil {
		return err
	}

	startCfg, err := buildStartConfig(ctx, client, startProgram, startTarget, startDuration)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	program := startCfg.Resolved()
	fmt.Fprintf(out, "Starting session...\n")
	fmt.Fprintf(out, "  Program: %s\n", program.Label())
	fmt.Fprintf(out, "  Steps: %d (%s)\n", len(program.Steps), tui.FormatMinutes(program.TotalMinutes()))

	_, err = runSession(ctx, sessionRun{
		base:   base,
		cfg:    cfg,
		client: client,
		begin: func(ctx context.Context, ctrl *monitor.Controller) error {
			s, err := ctrl.Start(ctx, startCfg)
			if err != nil {
				return fmt.Errorf("failed to start session: %w", err)
			}
			fmt.Fprintf(out, "  Session: %s\n", s.ID)
			return nil
		},
		serve:     startServe,
		dashboard: dashboard,
		in:        cmd.InOrStdin(),
		out:       out,
		notifier:  tui.NewNotifier(io.Discard),
	})
	return err
}

func startClient(cfg *config.Config, mock bool) (remote.Client, error) {
	if mock {
		return remote.NewSimulator(samplePrograms()), nil
	}
	return newClient(cfg)
}

// buildStartConfig turns the start flags into a StartConfig.
func buildStartConfig(ctx context.Context, catalog remote.ProgramCatalog, programRef string, target, duration float64) (cycle.StartConfig, error) {
	switch {
	case programRef != "" && (target != 0 || duration != 0):
		return cycle.StartConfig{}, errors.New("--program cannot be combined with --target or --duration")
	case programRef != "":
		p, err := resolveProgram(ctx, catalog, programRef)
		if err != nil {
			return cycle.StartConfig{}, err
		}
		return cycle.StartConfig{Program: &p}, nil
	case target != 0 || duration != 0:
		return cycle.StartConfig{Manual: &cycle.ManualConfig{TargetPressure: target, DurationMinutes: duration}}, nil
	default:
		return cycle.StartConfig{}, errors.New("either --program or --target and --duration is required")
	}
}

// prompter reads passwords. Tests replace it.
var prompter = auth.NewPrompter()

// ensureServerPassword prompts for a watch server password when none is
// configured and a terminal is available, and saves its hash. Without a
// terminal the server runs unauthenticated on loopback only.
func ensureServerPassword(base string, cfg *config.Config, out io.Writer) error {
	if cfg.Server.PasswordHash != "" {
		return nil
	}
	if !isTerminal(os.Stdin) {
		fmt.Fprintln(out, "Warning: no watch server password configured; serving on loopback only. Run 'clave passwd' to set one.")
		return nil
	}
	return setServerPassword(base, cfg, out)
}

func setServerPassword(base string, cfg *config.Config, out io.Writer) error {
	password, err := prompter.PromptAndConfirm()
	if err != nil {
		return fmt.Errorf("password setup failed: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	cfg.Server.PasswordHash = hash

	// Save from a fresh load so flag overrides are not persisted.
	saved, err := config.LoadConfig(base)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	saved.Server.PasswordHash = hash
	if err := config.SaveConfig(base, saved); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Fprintln(out, "Password saved to config.")
	return nil
}
