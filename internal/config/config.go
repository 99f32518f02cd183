// Package config loads and validates modelpilot configuration from YAML files
// and MODELPILOT_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the root configuration for a modelpilot process.
type Config struct {
	LogLevel    string          `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogEncoding string          `mapstructure:"log_encoding" validate:"oneof=json console"`
	Advisory    AdvisoryConfig  `mapstructure:"advisory" validate:"required"`
	Analyzer    AnalyzerConfig  `mapstructure:"analyzer" validate:"required"`
	Features    FeaturesConfig  `mapstructure:"features"`
	Selector    SelectorConfig  `mapstructure:"selector" validate:"required"`
	Search      SearchConfig    `mapstructure:"search" validate:"required"`
	Evaluator   EvaluatorConfig `mapstructure:"evaluator" validate:"required"`
	Promotion   PromotionConfig `mapstructure:"promotion" validate:"required"`
	Registry    RegistryConfig  `mapstructure:"registry"`
}

// AdvisoryConfig controls the advisory client and its resilience layer.
type AdvisoryConfig struct {
	// Endpoint is the advisory completion URL. Empty disables the service and
	// every stage runs on its deterministic fallback.
	Endpoint          string        `mapstructure:"endpoint"`
	APIKey            string        `mapstructure:"api_key"`
	ModelID           string        `mapstructure:"model_id" validate:"required"`
	Temperature       float64       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens         int           `mapstructure:"max_tokens" validate:"gt=0"`
	PromptTokenBudget int           `mapstructure:"prompt_token_budget" validate:"gt=0"`
	CallTimeout       time.Duration `mapstructure:"call_timeout" validate:"gt=0"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl" validate:"gt=0"`
	RedisAddr         string        `mapstructure:"redis_addr"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay" validate:"gt=0"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay" validate:"gt=0"`
	// Prices are per 1,000 estimated tokens, in USD.
	PromptPricePer1K     string `mapstructure:"prompt_price_per_1k"`
	CompletionPricePer1K string `mapstructure:"completion_price_per_1k"`
}

// AnalyzerConfig holds the deterministic fallback thresholds for data analysis.
type AnalyzerConfig struct {
	// HighCardinalityRatio flags categorical columns whose unique-value count
	// exceeds this share of the row count.
	HighCardinalityRatio float64 `mapstructure:"high_cardinality_ratio" validate:"gt=0,lte=1"`
	// ImbalanceShare flags the target as imbalanced when the minority class
	// share falls below it.
	ImbalanceShare float64 `mapstructure:"imbalance_share" validate:"gt=0,lt=1"`
}

// FeaturesConfig declares domain knowledge used by the deterministic
// feature-engineering fallback.
type FeaturesConfig struct {
	// RatioPairs lists numerator/denominator column pairs worth deriving.
	RatioPairs []RatioPair `mapstructure:"ratio_pairs"`
	// BinColumns lists continuous columns that get a binned companion.
	BinColumns []string `mapstructure:"bin_columns"`
	BinCount   int      `mapstructure:"bin_count" validate:"gte=2"`
	// OneHotMaxCardinality switches encoding from one-hot to ordinal above it.
	OneHotMaxCardinality int `mapstructure:"one_hot_max_cardinality" validate:"gt=0"`
	// SkewThreshold marks a positive numeric column as right-skewed.
	SkewThreshold float64 `mapstructure:"skew_threshold" validate:"gt=0"`
}

// RatioPair names a numerator/denominator column pair.
type RatioPair struct {
	Numerator   string `mapstructure:"numerator"`
	Denominator string `mapstructure:"denominator"`
}

// SelectorConfig holds model-selection thresholds.
type SelectorConfig struct {
	LargeDatasetRows int `mapstructure:"large_dataset_rows" validate:"gt=0"`
}

// SearchConfig bounds the hyperparameter search.
type SearchConfig struct {
	TrialBudget          int           `mapstructure:"trial_budget" validate:"gt=0"`
	WallClockBudget      time.Duration `mapstructure:"wall_clock_budget" validate:"gt=0"`
	CVFolds              int           `mapstructure:"cv_folds" validate:"gte=2"`
	Parallelism          int           `mapstructure:"parallelism" validate:"gte=1"`
	StartupTrials        int           `mapstructure:"startup_trials" validate:"gte=1"`
	ConvergenceWindow    int           `mapstructure:"convergence_window" validate:"gte=2"`
	ConvergenceThreshold float64       `mapstructure:"convergence_threshold" validate:"gt=0"`
	Seed                 int64         `mapstructure:"seed"`
}

// EvaluatorConfig holds business-impact and threshold-free metric settings.
type EvaluatorConfig struct {
	FalsePositiveCost string  `mapstructure:"false_positive_cost"`
	FalseNegativeCost string  `mapstructure:"false_negative_cost"`
	TopKPercent       float64 `mapstructure:"top_k_percent" validate:"gt=0,lte=100"`
	TargetPrecision   float64 `mapstructure:"target_precision" validate:"gt=0,lte=1"`
	HoldoutFraction   float64 `mapstructure:"holdout_fraction" validate:"gt=0,lt=1"`
}

// PromotionConfig holds the lifecycle promotion thresholds. The shipped
// defaults mirror long-standing deployment policy but remain tunable per
// installation.
type PromotionConfig struct {
	ProductionAUC       float64 `mapstructure:"production_auc" validate:"gt=0,lte=1"`
	ProductionPrecision float64 `mapstructure:"production_precision" validate:"gt=0,lte=1"`
	StagingAUC          float64 `mapstructure:"staging_auc" validate:"gt=0,lte=1"`
	StagingPrecision    float64 `mapstructure:"staging_precision" validate:"gt=0,lte=1"`
}

// RegistryConfig selects the model-registry backend.
type RegistryConfig struct {
	// Dialect is "sqlite" or "postgres".
	Dialect string `mapstructure:"dialect" validate:"omitempty,oneof=sqlite postgres"`
	DSN     string `mapstructure:"dsn"`
}

// Load reads configuration from the given path (optional) plus environment
// variables, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MODELPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %q: %w", path, err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration without touching files or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults are statically known; unmarshal cannot fail here.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_encoding", "json")

	v.SetDefault("advisory.model_id", "advisor-large")
	v.SetDefault("advisory.temperature", 0.2)
	v.SetDefault("advisory.max_tokens", 2048)
	v.SetDefault("advisory.prompt_token_budget", 6000)
	v.SetDefault("advisory.call_timeout", 60*time.Second)
	v.SetDefault("advisory.cache_ttl", time.Hour)
	v.SetDefault("advisory.max_retries", 3)
	v.SetDefault("advisory.retry_base_delay", 500*time.Millisecond)
	v.SetDefault("advisory.retry_max_delay", 10*time.Second)
	v.SetDefault("advisory.prompt_price_per_1k", "0.003")
	v.SetDefault("advisory.completion_price_per_1k", "0.015")

	v.SetDefault("analyzer.high_cardinality_ratio", 0.8)
	v.SetDefault("analyzer.imbalance_share", 0.10)

	v.SetDefault("features.bin_count", 5)
	v.SetDefault("features.one_hot_max_cardinality", 10)
	v.SetDefault("features.skew_threshold", 1.0)

	v.SetDefault("selector.large_dataset_rows", 100000)

	v.SetDefault("search.trial_budget", 50)
	v.SetDefault("search.wall_clock_budget", 10*time.Minute)
	v.SetDefault("search.cv_folds", 5)
	v.SetDefault("search.parallelism", 4)
	v.SetDefault("search.startup_trials", 10)
	v.SetDefault("search.convergence_window", 20)
	v.SetDefault("search.convergence_threshold", 0.005)
	v.SetDefault("search.seed", 42)

	v.SetDefault("evaluator.false_positive_cost", "10")
	v.SetDefault("evaluator.false_negative_cost", "100")
	v.SetDefault("evaluator.top_k_percent", 10)
	v.SetDefault("evaluator.target_precision", 0.9)
	v.SetDefault("evaluator.holdout_fraction", 0.2)

	v.SetDefault("promotion.production_auc", 0.85)
	v.SetDefault("promotion.production_precision", 0.80)
	v.SetDefault("promotion.staging_auc", 0.75)
	v.SetDefault("promotion.staging_precision", 0.70)

	v.SetDefault("registry.dialect", "sqlite")
	v.SetDefault("registry.dsn", "file:modelpilot.db")
}
