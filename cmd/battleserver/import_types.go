package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/content"
	"github.com/cory-johannsen/arena/internal/storage/postgres"
)

var typeChartPath string

var importTypesCmd = &cobra.Command{
	Use:   "import-types",
	Short: "Replace the type effectiveness table from a YAML file",
	RunE:  runImportTypes,
}

func init() {
	importTypesCmd.Flags().StringVar(&typeChartPath, "file", "content/type_chart.yaml", "path to the type chart YAML file")
}

func runImportTypes(cmd *cobra.Command, _ []string) error {
	start := time.Now()
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	entries, err := content.LoadTypeChart(typeChartPath)
	if err != nil {
		return err
	}

	pool, err := postgres.NewPool(cmd.Context(), cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	n, err := postgres.NewTypeChartRepository(pool.DB()).Replace(cmd.Context(), entries)
	if err != nil {
		return err
	}
	logger.Info("type chart imported",
		zap.String("file", typeChartPath),
		zap.Int64("rows", n),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
