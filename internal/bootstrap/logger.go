package bootstrap

import (
	"kimchi_arb/internal/core"
	"kimchi_arb/pkg/logging"
)

// InitLogger builds the zap logger from the system section and installs it
// as the global logger
func InitLogger(cfg *Config) (core.ILogger, error) {
	zl, err := logging.NewZapLoggerWithOptions(logging.Options{
		Level:  cfg.System.LogLevel,
		Format: cfg.System.LogFormat,
	})
	if err != nil {
		return nil, err
	}
	logger := zl.WithField("app", cfg.App.Name)
	logging.SetGlobalLogger(logger)
	return logger, nil
}
