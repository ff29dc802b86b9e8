package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/cli"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/config"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/logging"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/metrics"
)

func main() {
	// Optional .env for local overrides; absence is not an error.
	_ = godotenv.Load()

	configDir := os.Getenv("HEDGER_CONFIG_DIR")
	cfg, err := config.Load(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logging.DefaultLogConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Console = cfg.Logging.Console
	logCfg.File = cfg.Logging.File
	logCfg.MaxSize = cfg.Logging.MaxSize
	logCfg.MaxBackups = cfg.Logging.MaxBackups
	logCfg.MaxAge = cfg.Logging.MaxAge
	logger := logging.NewLoggerWithConfig(logCfg)

	if cfg.Metrics.Enabled {
		server := metrics.Serve(cfg.Metrics.Addr)
		defer server.Close()
		logger.Info().Str("addr", cfg.Metrics.Addr).Msg("Metrics endpoint listening")
	}

	rootCmd := cli.NewRootCmd(cfg, logger)
	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
