package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/thruflo/clave/internal/logging"
	"github.com/thruflo/clave/internal/monitor"
	"github.com/thruflo/clave/internal/stream"
	"github.com/thruflo/clave/internal/tui"
)

// EnvWatchPassword supplies the watch server password non-interactively.
const EnvWatchPassword = "CLAVE_WATCH_PASSWORD"

var (
	watchPassword string
	watchNoTUI    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <url>",
	Short: "Follow a session served by another clave",
	Long: `Connects to a watch server started with 'clave start --serve' and shows
the same dashboard, including pause, resume and stop.

The password is read from --password, then $CLAVE_WATCH_PASSWORD, then
prompted for.

Example:
  clave watch http://workshop-pc:8375`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchPassword, "password", "", "watch server password")
	watchCmd.Flags().BoolVar(&watchNoTUI, "no-tui", false, "print line-by-line progress instead of the dashboard")
	rootCmd.AddCommand(watchCmd)
}

// watchBackend sends dashboard commands to the watch server.
type watchBackend struct {
	client *stream.StreamClient
}

var _ tui.Backend = watchBackend{}

func (b watchBackend) Pause(ctx context.Context) error {
	_, err := b.client.Control(ctx, "pause")
	return err
}

func (b watchBackend) Resume(ctx context.Context) error {
	_, err := b.client.Control(ctx, "resume")
	return err
}

func (b watchBackend) Stop(ctx context.Context) error {
	_, err := b.client.Control(ctx, "stop")
	return err
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	base, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dashboard := !watchNoTUI && isTerminal(os.Stdin) && isTerminal(os.Stdout)
	closeLog, err := setupLogging(base, cfg, dashboard)
	if err != nil {
		return err
	}
	defer closeLog()

	client := stream.NewStreamClient(args[0], stream.WithReconnectInterval(2*time.Second))
	snapshot, err := connectWatch(ctx, client, watchPassword)
	if err != nil {
		return err
	}

	result, err := followWatch(ctx, client, snapshot, dashboard, cmd.InOrStdin(), cmd.OutOrStdout(), cfg.Monitor.ChartCapacity)
	if err != nil {
		return err
	}
	if result == tui.ResultDetached {
		fmt.Fprintln(cmd.OutOrStdout(), "\nStopped watching. The session keeps running.")
	}
	return nil
}

// connectWatch fetches the server state, logging in first if the server
// asks for it.
func connectWatch(ctx context.Context, client *stream.StreamClient, password string) (monitor.Snapshot, error) {
	snapshot, err := client.GetState(ctx)
	if errors.Is(err, stream.ErrUnauthorized) {
		if password == "" {
			password = os.Getenv(EnvWatchPassword)
		}
		if password == "" {
			if password, err = prompter.Prompt("Watch server password: "); err != nil {
				return monitor.Snapshot{}, err
			}
		}
		if err := client.Authenticate(ctx, password); err != nil {
			return monitor.Snapshot{}, fmt.Errorf("login failed: %w", err)
		}
		snapshot, err = client.GetState(ctx)
	}
	if err != nil {
		return monitor.Snapshot{}, fmt.Errorf("failed to connect to %s: %w", client.BaseURL(), err)
	}
	return *snapshot, nil
}

// followWatch shows the remote session. The chart is rebuilt by replaying
// the server's event log from the start, so the snapshot's points are
// dropped.
func followWatch(ctx context.Context, client *stream.StreamClient, snapshot monitor.Snapshot, dashboard bool, in io.Reader, out io.Writer, capacity int) (tui.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	snapshot.Points = nil
	events, errs := client.Subscribe(ctx, 1)
	go func() {
		for err := range errs {
			logging.Warn("watch stream failed", "url", client.BaseURL(), "error", err)
		}
	}()

	if dashboard {
		return tui.Run(ctx, watchBackend{client: client}, snapshot, 0, events, in, out, tui.Options{
			Title:    client.BaseURL(),
			Capacity: capacity,
		})
	}

	printer := tui.NewLinePrinter(out, snapshot, 0)
	printer.Header()
	return printer.Follow(ctx, events), nil
}
