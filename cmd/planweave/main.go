// Package main is the entry point for the planweave CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/planweave/planweave/internal/orchestrator"
)

// Build-time variables (set via ldflags).
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// Exit codes. Cancellation follows the shell convention of 128+SIGINT.
const (
	exitOK         = 0
	exitValidation = 1
	exitLLM        = 2
	exitSubprocess = 3
	exitCancelled  = 130
)

func main() {
	_ = godotenv.Load()

	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("planweave"),
		kong.Description("Plan-tracked agent orchestration with a prefix-cache-friendly prompt."),
		kong.UsageOnError(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitValidation)
	}
	kctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitValidation)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitValidation)
	}

	shutdownTelemetry, err := setupTelemetry(ctx, app.cfg.Telemetry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitValidation)
	}
	defer shutdownTelemetry(context.Background())

	if err := kctx.Run(app); err != nil {
		shutdownTelemetry(context.Background())
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(ctx, err))
	}
}

// exitCode classifies a run failure. A cancelled context wins over the
// wrapped cause so Ctrl-C always reports 130.
func exitCode(ctx context.Context, err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrCancelled) || ctx.Err() != nil:
		return exitCancelled
	case errors.Is(err, orchestrator.ErrLLM):
		return exitLLM
	case errors.Is(err, orchestrator.ErrSubprocess):
		return exitSubprocess
	}
	return exitValidation
}

// Run prints version information.
func (c *VersionCmd) Run(app *App) error {
	fmt.Printf("planweave version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}
