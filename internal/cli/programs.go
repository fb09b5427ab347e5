package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thruflo/clave/internal/remote"
	"github.com/thruflo/clave/internal/tui"
)

var programsVerbose bool

var programsCmd = &cobra.Command{
	Use:   "programs",
	Short: "List the stored programs",
	Long: `Lists the programs stored on the control service. Any of the
listed ids, numbers or names can be passed to 'clave start --program'.`,
	Args: cobra.NoArgs,
	RunE: runPrograms,
}

func init() {
	programsCmd.Flags().BoolVarP(&programsVerbose, "verbose", "v", false, "show each program's steps")
	rootCmd.AddCommand(programsCmd)
}

func runPrograms(cmd *cobra.Command, args []string) error {
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
	return listPrograms(commandContext(cmd), cmd.OutOrStdout(), client, programsVerbose)
}

func listPrograms(ctx context.Context, out io.Writer, catalog remote.ProgramCatalog, verbose bool) error {
	programs, err := catalog.Programs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list programs: %w", err)
	}
	if len(programs) == 0 {
		fmt.Fprintln(out, "No programs found.")
		return nil
	}

	nameWidth := len("PROGRAM")
	for _, p := range programs {
		nameWidth = max(nameWidth, len(p.Label()))
	}

	fmt.Fprintf(out, "%-*s  %5s  %s\n", nameWidth, "PROGRAM", "STEPS", "DURATION")
	fmt.Fprintf(out, "%s  %s  %s\n", strings.Repeat("-", nameWidth), "-----", "--------")
	for _, p := range programs {
		fmt.Fprintf(out, "%-*s  %5d  %s\n", nameWidth, p.Label(), len(p.Steps), tui.FormatMinutes(p.TotalMinutes()))
		if !verbose {
			continue
		}
		if p.Description != "" {
			fmt.Fprintf(out, "    %s\n", p.Description)
		}
		for i, s := range p.Steps {
			fmt.Fprintf(out, "    %2d. %-10s %-8s %s\n", i+1, s.PSIRange, s.Action, tui.FormatMinutes(s.DurationMinutes))
		}
	}
	return nil
}
