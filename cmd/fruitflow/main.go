// Package main provides the fruitflow CLI application
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fruitflow/fruitflow/internal/app/bootstrap"
	"github.com/fruitflow/fruitflow/internal/config"
	"github.com/fruitflow/fruitflow/internal/infrastructure/logging"
	"github.com/fruitflow/fruitflow/internal/poem"
)

// Version information set during build
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// CLI defines the command-line interface.
type CLI struct {
	Kickoff KickoffCmd `cmd:"" default:"withargs" help:"Run the poem flow once (default)."`
	Resume  ResumeCmd  `cmd:"" help:"Continue a stored run from its newest snapshot."`
	Plot    PlotCmd    `cmd:"" help:"Print the poem flow as Graphviz DOT."`
	Runs    RunsCmd    `cmd:"" help:"Inspect stored run snapshots."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	LogLevel string `name:"log-level" help:"Log level (debug, info, warn, error); overrides LOG_LEVEL."`
	Store    string `help:"Snapshot store (memory, sqlite, postgres, redis); overrides FRUITFLOW_STORE."`
	StoreDSN string `name:"store-dsn" help:"Snapshot store DSN; overrides FRUITFLOW_STORE_DSN."`
}

// env carries what commands need from outside the flag set.
type env struct {
	ctx       context.Context
	stdout    io.Writer
	generator poem.Generator // nil uses the configured crew
	registry  *prometheus.Registry
}

// open loads configuration, applies flag overrides and wires the app.
func (e *env) open(cli *CLI) (*bootstrap.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.Store != "" {
		cfg.Store.Driver = cli.Store
	}
	if cli.StoreDSN != "" {
		cfg.Store.DSN = cli.StoreDSN
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return bootstrap.New(e.ctx, cfg, logger, bootstrap.Options{Registry: e.registry})
}

func (e *env) close(app *bootstrap.App) {
	if err := app.Close(); err != nil {
		app.Logger.Warn("failed to close snapshot store", zap.Error(err))
	}
	_ = app.Logger.Sync()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, e *env) error {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("fruitflow"),
		kong.Description("Generate two poems, classify the first and save both."),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	e.ctx = ctx
	e.stdout = stdout
	return kctx.Run(&cli, e)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, &env{}); err != nil {
		fmt.Fprintf(os.Stderr, "fruitflow: %v\n", err)
		stop()
		os.Exit(1)
	}
}
