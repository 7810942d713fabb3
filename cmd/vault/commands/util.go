package commands

import (
	"fmt"

	"github.com/datashield/vault/internal/logger"
	"github.com/datashield/vault/pkg/config"
)

// InitLogger initializes the structured logger from configuration.
// The --log-level flag, when set, overrides the configured level.
func InitLogger(cfg *config.Config) error {
	loggerCfg := cfg.Logging.LoggerConfig()
	if logLevel != "" {
		loggerCfg.Level = logLevel
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
