//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thruflo/clave/internal/auth"
	"github.com/thruflo/clave/internal/config"
	"github.com/thruflo/clave/internal/logging"
	"github.com/thruflo/clave/internal/monitor"
	"github.com/thruflo/clave/internal/remote"
	"github.com/thruflo/clave/internal/server"
	"github.com/thruflo/clave/internal/stream"
	"github.com/thruflo/clave/internal/testutil"
)

// clock is a manually advanced time source shared by the simulator and
// the controller.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Now()}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// harness wires a simulated autoclave to a controller, a publisher and a
// watch server, the way 'clave start --mock --serve' does.
type harness struct {
	sim   *remote.MockClient
	clock *clock
	pub   *stream.Publisher
	ctrl  *monitor.Controller
	srv   *server.Server
	url   string
}

type harnessOptions struct {
	password string
	monitor  config.Monitor
	// listen starts the server on a loopback port. Otherwise only the
	// controller and publisher are built.
	listen bool
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	if opts.monitor == (config.Monitor{}) {
		opts.monitor = testutil.FastMonitor()
	}

	h := &harness{clock: newClock()}
	h.sim = remote.NewSimulator(testutil.SamplePrograms())
	h.sim.SetClock(h.clock.Now)

	h.pub = stream.NewPublisher(logging.Discard())
	t.Cleanup(h.pub.Close)

	ctrl, err := monitor.New(monitor.SourcesFrom(h.sim), monitor.Options{
		Monitor:  opts.monitor,
		Logger:   logging.Discard(),
		Observer: h.pub,
		Now:      h.clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)
	h.ctrl = ctrl

	var hash string
	if opts.password != "" {
		hash, err = auth.HashPassword(opts.password)
		require.NoError(t, err)
	}
	h.srv, err = server.NewServer(&server.Config{
		Host:         "127.0.0.1",
		Port:         0,
		PasswordHash: hash,
		Assets:       fstest.MapFS{"index.html": {Data: []byte("<html>clave</html>")}},
		Logger:       logging.Discard(),
	}, h.ctrl, h.pub)
	require.NoError(t, err)

	if opts.listen {
		h.listen(t)
	}
	return h
}

func (h *harness) listen(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.srv.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Logf("watch server: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Log("watch server did not shut down")
		}
	})

	require.Eventually(t, func() bool {
		return h.srv.ListenAddr() != ""
	}, 2*time.Second, 5*time.Millisecond, "watch server did not start")
	h.url = "http://" + h.srv.ListenAddr()
}
