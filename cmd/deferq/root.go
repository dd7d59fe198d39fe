package main

import (
	"errors"
	"fmt"

	"github.com/aatumaykin/deferq/internal/config"
	"github.com/aatumaykin/deferq/internal/logger"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "deferq",
	Short: "deferq - deferred work queues",
	Long: `deferq runs named workqueues whose worker threads execute deferred
work items, with flush and cancel semantics, cron jobs that queue work on
them and a stress scenario that checks the flush guarantees.`,
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (.toml, .yaml or .yml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Load environment variables from this file if it exists")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stressCmd)
}

// loadConfig reads path, or the built-in defaults when path is empty, applies
// flag overrides and validates the result.
func loadConfig(path string) (*config.Config, error) {
	if err := config.LoadEnvOptional(envFile); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed:\n%w", errors.Join(errs...))
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(cfg.Logging.Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetDefault(log)
	return log, nil
}
