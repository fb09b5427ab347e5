// Standalone watch server over a simulated session, for working on the web
// dashboard.
// Run with: go run ./cmd/demo-server [password] [program]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/thruflo/clave/internal/auth"
	"github.com/thruflo/clave/internal/config"
	"github.com/thruflo/clave/internal/cycle"
	"github.com/thruflo/clave/internal/logging"
	"github.com/thruflo/clave/internal/monitor"
	"github.com/thruflo/clave/internal/remote"
	"github.com/thruflo/clave/internal/server"
	"github.com/thruflo/clave/internal/stream"
	"github.com/thruflo/clave/web"
)

func main() {
	password := "test123"
	if len(os.Args) > 1 {
		password = os.Args[1]
	}
	program := cycle.Program{
		Name: "Demo",
		Steps: []cycle.Step{
			{PSIRange: "0-15", DurationMinutes: 2, Action: cycle.ActionRaise},
			{PSIRange: "15", DurationMinutes: 3, Action: cycle.ActionSteady},
		},
	}
	if len(os.Args) > 2 {
		program.Name = os.Args[2]
	}

	logging.SetLevel(logging.LevelInfo)

	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash password: %v\n", err)
		os.Exit(1)
	}

	// Check if web/dist exists on disk
	if stat, err := os.Stat("./web/dist"); err != nil || !stat.IsDir() {
		fmt.Fprintln(os.Stderr, "Warning: ./web/dist not found, using embedded assets.")
	} else {
		fmt.Println("Using live assets from ./web/dist")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	publisher := stream.NewPublisher(nil)
	defer publisher.Close()

	ctrl, err := monitor.New(monitor.SourcesFrom(remote.NewSimulator(nil)), monitor.Options{Observer: publisher})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create controller: %v\n", err)
		os.Exit(1)
	}
	defer ctrl.Close()

	if _, err := ctrl.Start(ctx, cycle.StartConfig{Program: &program}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start session: %v\n", err)
		os.Exit(1)
	}

	srv, err := server.NewServer(&server.Config{
		Host:         "0.0.0.0",
		Port:         config.DefaultServerPort,
		PasswordHash: hash,
		Assets:       web.GetAssets("./web/dist"),
	}, ctrl, publisher)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		os.Exit(1)
	}

	go srv.Start(ctx)

	fmt.Printf("Server running on http://localhost:%d\n", config.DefaultServerPort)
	fmt.Printf("Password: %s\n", password)
	fmt.Println("\nTest with:")
	fmt.Printf("  curl -X POST http://localhost:%d/auth -d 'password=%s'\n", config.DefaultServerPort, password)

	select {
	case <-ctx.Done():
		fmt.Println("\nShutting down...")
	case <-ctrl.Done():
		fmt.Println("Session finished; press Ctrl+C to exit.")
		<-ctx.Done()
	}
	srv.Stop()
}
