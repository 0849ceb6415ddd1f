// Package main provides the battle server binary: the HTTP and websocket
// listener plus its database maintenance commands.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/observability"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "battleserver",
	Short: "Real-time creature battle server",
	Long:  `battleserver hosts two-player creature battles over websockets and serves the battle HTTP API.`,
	PersistentPreRun: func(*cobra.Command, []string) {
		// a missing .env is normal outside development
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Printf("reading .env: %v", err)
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/dev.yaml", "path to configuration file")
	rootCmd.AddCommand(serveCmd, migrateCmd, importTypesCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the root logger.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("initializing logger: %w", err)
	}
	return cfg, logger, nil
}
