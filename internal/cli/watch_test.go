package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/clave/internal/auth"
	"github.com/thruflo/clave/internal/cycle"
	"github.com/thruflo/clave/internal/logging"
	"github.com/thruflo/clave/internal/monitor"
	"github.com/thruflo/clave/internal/remote"
	"github.com/thruflo/clave/internal/server"
	"github.com/thruflo/clave/internal/stream"
	"github.com/thruflo/clave/internal/testutil"
	"github.com/thruflo/clave/internal/tui"
)

// serveSession runs a session behind a watch server.
func serveSession(t *testing.T, password string) (*httptest.Server, *monitor.Controller, *remote.MockClient) {
	t.Helper()

	mock := remote.NewMockClient()
	pub := stream.NewPublisher(logging.Discard())
	t.Cleanup(pub.Close)

	ctrl, err := monitor.New(monitor.SourcesFrom(mock), monitor.Options{
		Monitor:  testutil.IdleMonitor(),
		Logger:   logging.Discard(),
		Observer: pub,
	})
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)

	_, err = ctrl.Start(context.Background(), cycle.StartConfig{
		Manual: &cycle.ManualConfig{TargetPressure: 12, DurationMinutes: 20},
	})
	require.NoError(t, err)

	var hash string
	if password != "" {
		hash, err = auth.HashPassword(password)
		require.NoError(t, err)
	}
	srv, err := server.NewServer(&server.Config{
		Host:         "127.0.0.1",
		PasswordHash: hash,
		Assets:       fstest.MapFS{"index.html": {Data: []byte("clave")}},
		Logger:       logging.Discard(),
	}, ctrl, pub)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, ctrl, mock
}

func TestConnectWatchLogsIn(t *testing.T) {
	ts, _, _ := serveSession(t, "watch-pass")
	ctx := context.Background()

	_, err := connectWatch(ctx, stream.NewStreamClient(ts.URL), "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login failed")

	client := stream.NewStreamClient(ts.URL)
	snap, err := connectWatch(ctx, client, "watch-pass")
	require.NoError(t, err)
	assert.Equal(t, cycle.StatusRunning, snap.Status)
	assert.Equal(t, cycle.ManualProgramName, snap.Program.Name)
}

func TestConnectWatchPromptsForPassword(t *testing.T) {
	setupProject(t)
	prompter = fixedPrompter("watch-pass")
	t.Setenv(EnvWatchPassword, "")

	ts, _, _ := serveSession(t, "watch-pass")
	_, err := connectWatch(context.Background(), stream.NewStreamClient(ts.URL), "")
	require.NoError(t, err)
}

func TestFollowWatchUntilStopped(t *testing.T) {
	ts, ctrl, mock := serveSession(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := stream.NewStreamClient(ts.URL, stream.WithReconnectInterval(10*time.Millisecond))
	snap, err := connectWatch(ctx, client, "")
	require.NoError(t, err)

	type followResult struct {
		res tui.Result
		err error
	}
	var out bytes.Buffer
	done := make(chan followResult, 1)
	go func() {
		res, err := followWatch(ctx, client, snap, false, nil, &out, 60)
		done <- followResult{res, err}
	}()

	// Stop through the server, as the dashboard's s key would.
	require.Eventually(t, func() bool {
		return watchBackend{client: client}.Stop(ctx) == nil
	}, 5*time.Second, 20*time.Millisecond)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, tui.ResultFinished, r.res)
	case <-ctx.Done():
		t.Fatal("watch did not finish")
	}

	assert.Equal(t, cycle.StatusStopped, ctrl.Status())
	assert.Equal(t, []string{"1"}, mock.StopCalls())
	assert.Contains(t, out.String(), "Session stopped.")
}
