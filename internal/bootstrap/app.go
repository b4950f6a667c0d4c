// Package bootstrap loads configuration and runs long-lived components
// until a termination signal
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"kimchi_arb/internal/core"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// App holds the configuration, the logger and the shutdown hooks
type App struct {
	Cfg    *Config
	Logger core.ILogger

	closers []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// NewApp loads the configuration and initializes the logger
func NewApp(configPath string, dryRun bool) (*App, error) {
	cfg, err := LoadConfig(configPath, dryRun)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return &App{Cfg: cfg, Logger: logger}, nil
}

// Runner is a component that runs until its context is cancelled
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// OnShutdown registers a hook. Hooks run in reverse order after every runner
// has returned, bounded by system.shutdown_grace.
func (a *App) OnShutdown(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Run starts the runners and blocks until SIGINT/SIGTERM or the first
// runner error
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx, runners...)
}

// RunContext is Run with a caller-supplied context
func (a *App) RunContext(ctx context.Context, runners ...Runner) error {
	g, gctx := errgroup.WithContext(ctx)

	a.Logger.Info("Starting application", "runners", len(runners), "dry_run", a.Cfg.App.DryRun)
	for _, r := range runners {
		g.Go(func() error {
			return r.Run(gctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		a.Logger.Error("Application stopped with error", "error", err)
	}

	a.shutdown()
	if err == nil {
		a.Logger.Info("Application shut down gracefully")
	}
	return err
}

func (a *App) shutdown() {
	grace := a.Cfg.System.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.Logger.Warn("Shutdown hook failed", "hook", c.name, "error", err)
		}
	}
}
