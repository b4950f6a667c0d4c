package bootstrap

import (
	"fmt"
	"kimchi_arb/internal/config"
	"os"
	"path/filepath"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig loads and validates the file, then runs the pre-flight checks.
// dryRun forces dry-run mode on top of the file setting.
func LoadConfig(path string, dryRun bool) (*Config, error) {
	cfg, err := config.LoadConfigWith(path, func(c *config.Config) {
		if dryRun {
			c.App.DryRun = true
		}
	})
	if err != nil {
		return nil, err
	}

	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}
	return cfg, nil
}

// checkPreFlight performs checks beyond schema validation and prepares
// storage directories
func checkPreFlight(cfg *Config) error {
	if cfg.Spread.Enabled {
		if _, ok := cfg.Venues[cfg.Spread.FX.Venue]; !ok {
			return fmt.Errorf("spread.fx.venue %q is not configured", cfg.Spread.FX.Venue)
		}
	}

	for _, p := range []string{filepath.Dir(cfg.Storage.SQLitePath), cfg.Storage.JournalDir} {
		if p == "" || p == "." {
			continue
		}
		if err := os.MkdirAll(p, 0o750); err != nil {
			return fmt.Errorf("storage path %s: %w", p, err)
		}
	}
	return nil
}
