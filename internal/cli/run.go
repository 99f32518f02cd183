package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/modelpilot/modelpilot/internal/dataset"
	"github.com/modelpilot/modelpilot/internal/pipeline"
)

var (
	runDataPath  string
	runTarget    string
	runModelName string
	runOutPath   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline on a CSV dataset",
	Long: `Loads a CSV dataset and runs all six pipeline stages. On success the
trained model is registered and considered for lifecycle promotion; the run
summary is printed as JSON.`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runDataPath, "data", "", "path to the training CSV (required)")
	runCmd.Flags().StringVar(&runTarget, "target", "", "target column name (required)")
	runCmd.Flags().StringVar(&runModelName, "model-name", "modelpilot", "registry name for the trained model")
	runCmd.Flags().StringVar(&runOutPath, "out", "", "write the full outcome JSON to this file")
	runCmd.MarkFlagRequired("data")
	runCmd.MarkFlagRequired("target")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, zl, err := setup()
	if err != nil {
		return err
	}
	defer zl.Sync()

	ds, err := dataset.LoadCSV(runDataPath)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	zl.Info("dataset loaded",
		zap.String("path", runDataPath),
		zap.Int("rows", ds.Rows()),
		zap.Int("columns", ds.Schema().Len()))

	a, err := buildApp(cfg, zl, runModelName)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outcome, runErr := a.orchestrator.Run(ctx, ds, runTarget)

	if runOutPath != "" {
		if err := writeOutcome(runOutPath, outcome); err != nil {
			zl.Warn("failed to write outcome file", zap.Error(err))
		}
	}
	printSummary(outcome)

	if runErr != nil {
		return runErr
	}
	zl.Info("advisory spend",
		zap.String("total_cost_usd", a.advisor.TotalCost().String()),
		zap.Int64("calls", a.advisor.Calls()))
	return nil
}

func writeOutcome(path string, outcome *pipeline.Outcome) error {
	data, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func printSummary(outcome *pipeline.Outcome) {
	fmt.Printf("run %s: %s\n", outcome.RunID, outcome.Run.Status)
	for _, s := range outcome.Run.Stages {
		marker := ""
		if s.FallbackUsed {
			marker = " (fallback)"
		}
		fmt.Printf("  %-22s %s%s\n", s.Stage, s.Duration.Round(time.Millisecond), marker)
	}
	if outcome.Tuning != nil {
		fmt.Printf("best model: %s (cv score %.4f)\n", outcome.Tuning.BestFamily, outcome.Tuning.BestScore)
	}
	if outcome.Report != nil {
		m := outcome.Report.Metrics
		fmt.Printf("holdout: auc %.4f precision %.4f recall %.4f f1 %.4f\n",
			m.ROCAUC, m.Precision, m.Recall, m.F1)
	}
	if outcome.VersionID != "" {
		fmt.Printf("registered version %s, promotion decision: %s\n", outcome.VersionID, outcome.Decision)
	}
	if outcome.Run.Error != "" {
		fmt.Printf("error: %s\n", outcome.Run.Error)
	}
}
