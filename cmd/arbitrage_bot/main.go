package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"kimchi_arb/internal/alert"
	"kimchi_arb/internal/bootstrap"
	"kimchi_arb/internal/core"
	"kimchi_arb/internal/engine/arbengine"
	"kimchi_arb/internal/exchange"
	"kimchi_arb/internal/infrastructure/health"
	"kimchi_arb/internal/infrastructure/metrics"
	"kimchi_arb/internal/risk"
	"kimchi_arb/internal/storage"
	"kimchi_arb/pkg/telemetry"

	"github.com/joho/godotenv"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to the credentials env file")
	dryRun := flag.Bool("dry-run", false, "Acknowledge orders without sending them to venues")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("arbitrage_bot version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// credentials come from the environment; the file is optional
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	app, err := bootstrap.NewApp(*configPath, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}

	if err := run(app); err != nil {
		app.Logger.Error("arbitrage_bot exited with error", "error", err)
		os.Exit(1)
	}
}

func run(app *bootstrap.App) error {
	cfg, logger := app.Cfg, app.Logger
	logger.Info("Starting arbitrage_bot",
		"version", version,
		"dry_run", cfg.App.DryRun,
		"venues", cfg.VenueNames())

	tel, err := telemetry.SetupWithOptions(telemetry.Options{
		ServiceName:    cfg.App.Name,
		ServiceVersion: version,
		StdoutTrace:    cfg.Telemetry.StdoutTrace,
		StdoutLogs:     cfg.Telemetry.StdoutLogs,
	})
	if err != nil {
		logger.Warn("Telemetry disabled", "error", err)
	} else {
		app.OnShutdown("telemetry", tel.Shutdown)
	}

	notifier := newNotifier(cfg, logger)
	app.OnShutdown("alerts", func(ctx context.Context) error {
		if !notifier.Wait(cfg.Alert.Timeout) {
			return errors.New("alerts still in flight")
		}
		return nil
	})

	breaker := risk.NewExchangeBreaker(cfg.Risk.BreakerThreshold, cfg.Risk.BreakerCooldown, notifier, logger)
	raw, err := exchange.NewRegistry().BuildVenues(cfg, logger)
	if err != nil {
		return err
	}
	venues := exchange.WrapVenues(raw, cfg, breaker, logger)

	store, journal, err := openStorage(app)
	if err != nil {
		return err
	}

	eng, err := arbengine.New(cfg, arbengine.Dependencies{
		Venues:   venues,
		Breaker:  breaker,
		Store:    store,
		Journal:  journal,
		Notifier: notifier,
	}, logger)
	if err != nil {
		return err
	}
	app.OnShutdown("engine", func(ctx context.Context) error {
		eng.Close()
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := eng.Load(ctx); err != nil {
		return err
	}

	hm := health.NewHealthManager(logger)
	eng.RegisterHealth(hm)

	runners := []bootstrap.Runner{
		bootstrap.RunnerFunc(eng.Run),
	}
	if cfg.Telemetry.EnableMetrics {
		srv := metrics.NewServer(cfg.Telemetry.MetricsPort, hm, func() interface{} { return eng.Status() }, logger)
		runners = append(runners, bootstrap.RunnerFunc(func(ctx context.Context) error {
			srv.Start()
			<-ctx.Done()
			stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			return srv.Stop(stopCtx)
		}))
	}

	mode := "live"
	if cfg.App.DryRun {
		mode = "dry run"
	}
	notifier.Notify(context.Background(), fmt.Sprintf("%s %s started (%s)", cfg.App.Name, version, mode))
	return app.Run(runners...)
}

func newNotifier(cfg *bootstrap.Config, logger core.ILogger) *alert.AlertManager {
	am := alert.NewAlertManager(logger)
	if cfg.Alert.Timeout > 0 {
		am.SetSendTimeout(cfg.Alert.Timeout)
	}
	if token := cfg.Alert.TelegramToken.Reveal(); token != "" && cfg.Alert.TelegramChatID != "" {
		am.AddChannel(alert.NewTelegramChannel(token, cfg.Alert.TelegramChatID))
	}
	if hook := cfg.Alert.SlackWebhook.Reveal(); hook != "" {
		am.AddChannel(alert.NewSlackChannel(hook))
	}
	return am
}

// openStorage uses sqlite and the WAL journal when paths are configured,
// memory otherwise
func openStorage(app *bootstrap.App) (core.IStateStore, core.ITradeJournal, error) {
	cfg, logger := app.Cfg, app.Logger

	var store core.IStateStore = storage.NewMemoryStore()
	if path := cfg.Storage.SQLitePath; path != "" {
		s, err := storage.NewSQLiteStore(path)
		if err != nil {
			return nil, nil, err
		}
		app.OnShutdown("sqlite", func(ctx context.Context) error { return s.Close() })
		store = s
	} else {
		logger.Warn("No sqlite_path configured, risk state will not survive a restart")
	}

	var journal core.ITradeJournal = storage.NewMemoryJournal()
	if dir := cfg.Storage.JournalDir; dir != "" {
		j, err := storage.NewJournal(dir)
		if err != nil {
			return nil, nil, err
		}
		app.OnShutdown("journal", func(ctx context.Context) error { return j.Close() })
		journal = j
	}
	return store, journal, nil
}
