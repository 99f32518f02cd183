// Package cli implements the modelpilot command tree.
package cli

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/modelpilot/modelpilot/internal/config"
	"github.com/modelpilot/modelpilot/pkg/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "modelpilot",
	Short: "Advisory-assisted AutoML pipeline",
	Long: `modelpilot trains, evaluates and registers binary classifiers through a
staged pipeline: data analysis, feature engineering, model selection,
hyperparameter search, evaluation and registry deployment. An advisory
language-model service enriches each stage when available; every stage has a
deterministic fallback so runs complete without it.`,
	SilenceUsage: true,
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(func() {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Printf("warning: .env not loaded: %v", err)
		}
	})
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to YAML config file")
}

// setup loads configuration and creates the process logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	zl := logger.New(logger.Options{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	return cfg, zl, nil
}
