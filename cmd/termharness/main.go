package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/user/termharness/internal/api"
	"github.com/user/termharness/internal/config"
	"github.com/user/termharness/internal/db"
	"github.com/user/termharness/internal/hub"
	"github.com/user/termharness/internal/pty"
	"github.com/user/termharness/internal/resource"
	"github.com/user/termharness/internal/server"
	"github.com/user/termharness/internal/session"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "termharness: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(os.Stderr, cfg)
	slog.SetDefault(logger)

	if cfg.PrintToken {
		fmt.Println(cfg.Token)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("termharness stopped", "error", err)
		os.Exit(1)
	}
}

// newLogger picks the text handler on a terminal and JSON otherwise,
// unless the configuration names a format.
func newLogger(w *os.File, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
			handler = slog.NewTextHandler(w, opts)
		} else {
			handler = slog.NewJSONHandler(w, opts)
		}
	}
	return slog.New(handler)
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	limits, err := cfg.ResourceLimits()
	if err != nil {
		return err
	}
	trackerOpts := []resource.TrackerOption{resource.WithLogger(logger.With("component", "resource"))}
	if cfg.Limits.CompareAndSwap {
		trackerOpts = append(trackerOpts, resource.WithCompareAndSwap())
	}
	tracker := resource.NewTracker(limits, trackerOpts...)

	backend, err := pty.NewBackend()
	if err != nil {
		return fmt.Errorf("no terminal backend: %w", err)
	}

	h := hub.New(cfg.Token, nil)
	go h.Run(ctx)

	manager, err := session.NewManager(session.ManagerConfig{
		Backend:      backend,
		Tracker:      tracker,
		Runs:         database.Runs(),
		Events:       h,
		Logger:       logger.With("component", "session"),
		DefaultSize:  pty.Size{Cols: cfg.Terminal.Cols, Rows: cfg.Terminal.Rows},
		CaptureBytes: cfg.Terminal.CaptureBytes,
		PollInterval: cfg.Terminal.PollInterval.Std(),
	})
	if err != nil {
		return err
	}
	h.SetOnInput(manager.HandleInput)

	sampler := session.NewSampler(session.SamplerConfig{
		Tracker:   tracker,
		Manager:   manager,
		Store:     database.Usage(),
		Publisher: h,
		Logger:    logger.With("component", "usage"),
		Interval:  cfg.Usage.SampleInterval.Std(),
		Keep:      cfg.Usage.Keep,
	})
	go sampler.Run(ctx)

	logger.Info("resource limits",
		"trace", humanize.IBytes(limits.MaxTraceBytes),
		"screen", humanize.IBytes(limits.MaxScreenBytes),
		"output", humanize.IBytes(limits.MaxOutputBufferBytes),
		"processes", limits.MaxConcurrentProcesses,
		"compare_and_swap", cfg.Limits.CompareAndSwap,
		"backend", backend.Name(),
	)
	printBanner(os.Stdout, cfg)

	srv := server.New(cfg, h, api.NewRouter(manager, database, cfg.Token), logger)
	serveErr := srv.Start(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := manager.Close(closeCtx); err != nil {
		logger.Warn("session shutdown incomplete", "error", err)
	}
	logger.Info("final usage", "usage", tracker.CurrentUsage().String())

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}

func printBanner(w io.Writer, cfg *config.Config) {
	host := cfg.Listen
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	fmt.Fprintf(w, "\ntermharness running at http://%s:%d/api/sessions (token in %s)\n\n", host, cfg.Port, cfg.ConfigPath)
}
