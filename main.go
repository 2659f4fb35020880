package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chatd/config"
	"chatd/db"
	"chatd/eventlog"
	"chatd/events"
	"chatd/notify"
	"chatd/server"
	"chatd/state"

	"github.com/mama165/sdk-go/logs"
	"golang.org/x/sync/errgroup"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatd terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	cfg, err := config.Load()
	if err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	creds, err := config.LoadConfig(cfg.CredentialsFile)
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(cfg.LogLevel)

	database, err := db.New(creds.URL)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()
	logger.Info("Database ready", "url", creds.URL)

	st := state.New()
	out := events.NewOutbound(cfg.EventQueueSize, cfg.EventTimeout)
	st.Subscribe(notify.New(logger, st, out))
	history := eventlog.New(logger, out, cfg.EventHistory)

	srv := server.New(logger, database, st, out, &server.ServerConfig{
		Addr:             cfg.Addr(),
		MaxConnections:   cfg.MaxConnections,
		IdleTimeout:      cfg.IdleTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		StopTimeout:      cfg.ShutdownTimeout,
		StrictBodyLength: cfg.StrictBodyLength,
	})
	if err := srv.Start(); err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", cfg.Addr(), err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, shutdown := context.WithCancel(ctx)
	defer shutdown()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return history.Run(gctx) })
	g.Go(func() error {
		ctl := &control{log: logger, srv: srv, history: history, shutdown: shutdown}
		return ctl.serve(gctx, cfg.ControlSocket)
	})

	<-gctx.Done()
	logger.Info("Shutting down gracefully...", "timeout", cfg.ShutdownTimeout)
	drained := srv.GracefulStop(cfg.ShutdownTimeout)
	shutdown()

	if err := g.Wait(); err != nil {
		return exitRuntime, err
	}
	if !drained {
		srv.Stop()
	}
	logger.Info("Program stopped cleanly", "drained", drained, "dropped_events", out.Dropped())
	return exitOK, nil
}
