// Package main runs the fruitflow HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fruitflow/fruitflow/internal/app/bootstrap"
	"github.com/fruitflow/fruitflow/internal/config"
	"github.com/fruitflow/fruitflow/internal/infrastructure/logging"
	"github.com/fruitflow/fruitflow/internal/poem"
)

func main() {
	if err := serve(); err != nil {
		fmt.Fprintf(os.Stderr, "fruitflow-server: %v\n", err)
		os.Exit(1)
	}
}

func serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("failed to close snapshot store", zap.Error(err))
		}
	}()

	s, err := newServer(ctx, app, nil)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting fruitflow server", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newServer builds the poem flow and registers it so it is listed before
// the first run. A nil gen uses the configured crew.
func newServer(ctx context.Context, app *bootstrap.App, gen poem.Generator) (*server, error) {
	flow, err := app.PoemFlow(gen)
	if err != nil {
		return nil, err
	}
	if err := app.Runtime.SaveGraph(ctx, flow.Graph()); err != nil {
		return nil, err
	}
	return &server{app: app, flow: flow, logger: app.Logger.With(zap.String("component", "http"))}, nil
}
