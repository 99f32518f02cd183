package cli

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/modelpilot/modelpilot/internal/advisory"
	"github.com/modelpilot/modelpilot/internal/analyzer"
	"github.com/modelpilot/modelpilot/internal/config"
	"github.com/modelpilot/modelpilot/internal/evaluator"
	"github.com/modelpilot/modelpilot/internal/features"
	"github.com/modelpilot/modelpilot/internal/pipeline"
	"github.com/modelpilot/modelpilot/internal/registry"
	"github.com/modelpilot/modelpilot/internal/search"
	"github.com/modelpilot/modelpilot/internal/selector"
)

// app bundles the wired subsystems behind the CLI commands.
type app struct {
	cfg          *config.Config
	logger       *zap.Logger
	advisor      *advisory.ResilientClient
	cacheStore   advisory.Store
	registry     *registry.GormRegistry
	orchestrator *pipeline.Orchestrator
}

// buildApp assembles the full pipeline from configuration. The advisory cache
// is redis when an address is configured and in-process memory otherwise.
func buildApp(cfg *config.Config, logger *zap.Logger, modelName string) (*app, error) {
	var inner advisory.Client
	if cfg.Advisory.Endpoint != "" {
		inner = advisory.NewHTTPClient(cfg.Advisory.Endpoint, cfg.Advisory.APIKey, cfg.Advisory.CallTimeout, logger)
	} else {
		logger.Warn("no advisory endpoint configured, all stages will use deterministic fallbacks")
		inner = advisory.DisabledClient{}
	}

	var store advisory.Store
	if cfg.Advisory.RedisAddr != "" {
		store = advisory.NewRedisStore(redis.NewClient(&redis.Options{Addr: cfg.Advisory.RedisAddr}))
	} else {
		store = advisory.NewMemoryStore(cfg.Advisory.CacheTTL)
	}

	opts, err := advisoryOptions(cfg.Advisory)
	if err != nil {
		return nil, err
	}
	advisor := advisory.NewResilientClient(inner, store, opts, logger)

	reg, err := registry.Open(cfg.Registry.Dialect, cfg.Registry.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	gate := registry.NewGate(reg, registry.Thresholds{
		ProductionAUC:       cfg.Promotion.ProductionAUC,
		ProductionPrecision: cfg.Promotion.ProductionPrecision,
		StagingAUC:          cfg.Promotion.StagingAUC,
		StagingPrecision:    cfg.Promotion.StagingPrecision,
	}, logger)

	evalCfg, err := evaluatorConfig(cfg.Evaluator)
	if err != nil {
		return nil, err
	}

	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Advisor: advisor,
		Analyzer: analyzer.New(advisor, analyzer.Config{
			HighCardinalityRatio: cfg.Analyzer.HighCardinalityRatio,
			ImbalanceShare:       cfg.Analyzer.ImbalanceShare,
		}, logger),
		Engineer: features.New(advisor, featuresConfig(cfg.Features), logger),
		Selector: selector.New(advisor, selector.Config{
			LargeDatasetRows: cfg.Selector.LargeDatasetRows,
		}, logger),
		Search: search.New(search.Config{
			TrialBudget:          cfg.Search.TrialBudget,
			WallClockBudget:      cfg.Search.WallClockBudget,
			CVFolds:              cfg.Search.CVFolds,
			Parallelism:          cfg.Search.Parallelism,
			StartupTrials:        cfg.Search.StartupTrials,
			ConvergenceWindow:    cfg.Search.ConvergenceWindow,
			ConvergenceThreshold: cfg.Search.ConvergenceThreshold,
			Seed:                 cfg.Search.Seed,
		}, logger),
		Evaluator: evaluator.New(advisor, evalCfg, logger),
		Registry:  reg,
		Gate:      gate,
		Logger:    logger,
	}, pipeline.Options{
		ModelName:       modelName,
		HoldoutFraction: cfg.Evaluator.HoldoutFraction,
		Seed:            cfg.Search.Seed,
	}, logger)

	return &app{
		cfg:          cfg,
		logger:       logger,
		advisor:      advisor,
		cacheStore:   store,
		registry:     reg,
		orchestrator: orch,
	}, nil
}

func (a *app) close() {
	if err := a.advisor.Close(); err != nil {
		a.logger.Warn("advisory client close failed", zap.Error(err))
	}
	if err := a.cacheStore.Close(); err != nil {
		a.logger.Warn("cache store close failed", zap.Error(err))
	}
}

func advisoryOptions(c config.AdvisoryConfig) (advisory.Options, error) {
	opts := advisory.DefaultOptions()
	opts.ModelID = c.ModelID
	opts.Temperature = c.Temperature
	opts.MaxTokens = c.MaxTokens
	opts.PromptTokenBudget = c.PromptTokenBudget
	opts.CallTimeout = c.CallTimeout
	opts.CacheTTL = c.CacheTTL
	opts.MaxRetries = c.MaxRetries
	opts.RetryBaseDelay = c.RetryBaseDelay
	opts.RetryMaxDelay = c.RetryMaxDelay

	var err error
	if opts.PromptPricePer1K, err = decimal.NewFromString(c.PromptPricePer1K); err != nil {
		return opts, fmt.Errorf("advisory.prompt_price_per_1k: %w", err)
	}
	if opts.CompletionPricePer1K, err = decimal.NewFromString(c.CompletionPricePer1K); err != nil {
		return opts, fmt.Errorf("advisory.completion_price_per_1k: %w", err)
	}
	return opts, nil
}

func featuresConfig(c config.FeaturesConfig) features.Config {
	pairs := make([]features.RatioPair, len(c.RatioPairs))
	for i, p := range c.RatioPairs {
		pairs[i] = features.RatioPair{Numerator: p.Numerator, Denominator: p.Denominator}
	}
	return features.Config{
		RatioPairs:           pairs,
		BinColumns:           c.BinColumns,
		BinCount:             c.BinCount,
		OneHotMaxCardinality: c.OneHotMaxCardinality,
		SkewThreshold:        c.SkewThreshold,
	}
}

func evaluatorConfig(c config.EvaluatorConfig) (evaluator.Config, error) {
	out := evaluator.DefaultConfig()
	out.TopKPercent = c.TopKPercent
	out.TargetPrecision = c.TargetPrecision

	var err error
	if out.FalsePositiveCost, err = decimal.NewFromString(c.FalsePositiveCost); err != nil {
		return out, fmt.Errorf("evaluator.false_positive_cost: %w", err)
	}
	if out.FalseNegativeCost, err = decimal.NewFromString(c.FalseNegativeCost); err != nil {
		return out, fmt.Errorf("evaluator.false_negative_cost: %w", err)
	}
	return out, nil
}
