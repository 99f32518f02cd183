// Package search runs budgeted, sampler-guided hyperparameter search with
// cross-validated trial scoring.
package search

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/modelpilot/modelpilot/internal/model"
	"github.com/modelpilot/modelpilot/pkg/metrics"
)

// Config bounds one search session.
type Config struct {
	TrialBudget     int
	WallClockBudget time.Duration
	CVFolds         int
	Parallelism     int
	StartupTrials   int
	// ConvergenceWindow compares the mean score of the most recent N trials
	// against the first N.
	ConvergenceWindow    int
	ConvergenceThreshold float64
	Seed                 int64
}

// DefaultConfig mirrors the shipped search defaults.
func DefaultConfig() Config {
	return Config{
		TrialBudget:          50,
		WallClockBudget:      10 * time.Minute,
		CVFolds:              5,
		Parallelism:          4,
		StartupTrials:        10,
		ConvergenceWindow:    20,
		ConvergenceThreshold: 0.005,
		Seed:                 42,
	}
}

// Trial is one completed hyperparameter sample. Trials live in an append-only
// history; Index is the append position.
type Trial struct {
	Index    int           `json:"index"`
	Params   model.Params  `json:"params"`
	Score    float64       `json:"score"`
	Err      string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of one search session for a model family.
type Result struct {
	Family      model.Family  `json:"family"`
	BestParams  model.Params  `json:"best_params"`
	BestScore   float64       `json:"best_score"`
	BestTrial   int           `json:"best_trial"`
	Trials      []Trial       `json:"trials"`
	Converged   bool          `json:"converged"`
	Improvement float64       `json:"improvement"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Engine runs hyperparameter search sessions.
type Engine struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a search engine.
func New(cfg Config, logger *zap.Logger) *Engine {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.TrialBudget < 1 {
		cfg.TrialBudget = 1
	}
	return &Engine{cfg: cfg, logger: logger.Named("search")}
}

type trialOutcome struct {
	params   model.Params
	score    float64
	errMsg   string
	duration time.Duration
}

// Optimize searches the family's parameter space over features/labels. Trials
// run concurrently up to the configured parallelism; the engine goroutine is
// the single writer of the trial history, appending each completed trial
// atomically before dispatching the next, which keeps convergence analysis
// deterministic in replay. Cancellation lets in-flight trials finish but
// launches nothing new; a context already cancelled at entry starts no trials.
func (e *Engine) Optimize(ctx context.Context, family model.Family, features [][]float64, labels []float64) (*Result, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("search: empty training set")
	}
	space := family.ParamSpace()
	if len(space) == 0 {
		return nil, fmt.Errorf("search: family %s has no parameter space", family)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	deadline := start.Add(e.cfg.WallClockBudget)
	folds := stratifiedFolds(labels, e.cfg.CVFolds, e.cfg.Seed)
	smp := newSampler(space, e.cfg.Seed, e.cfg.StartupTrials)

	results := make(chan trialOutcome)
	history := make([]Trial, 0, e.cfg.TrialBudget)
	launched, inFlight := 0, 0

	launch := func(params model.Params) {
		launched++
		inFlight++
		go func() {
			results <- e.runTrial(family, params, features, labels, folds)
		}()
	}

	initial := e.cfg.Parallelism
	if initial > e.cfg.TrialBudget {
		initial = e.cfg.TrialBudget
	}
	for i := 0; i < initial; i++ {
		launch(smp.Sample(history))
	}

	for inFlight > 0 {
		out := <-results
		inFlight--

		trial := Trial{
			Index:    len(history),
			Params:   out.params,
			Score:    out.score,
			Err:      out.errMsg,
			Duration: out.duration,
		}
		history = append(history, trial)
		metrics.SearchTrials.WithLabelValues(family.String()).Inc()
		if trial.Err != "" {
			e.logger.Warn("trial failed",
				zap.String("family", family.String()),
				zap.Int("trial", trial.Index),
				zap.String("error", trial.Err))
		}

		if ctx.Err() == nil && launched < e.cfg.TrialBudget && time.Now().Before(deadline) {
			launch(smp.Sample(history))
		}
	}

	result := &Result{
		Family:  family,
		Trials:  history,
		Elapsed: time.Since(start),
	}
	result.BestTrial = -1
	for _, t := range history {
		if t.Err != "" {
			continue
		}
		if result.BestTrial < 0 || t.Score > result.BestScore {
			result.BestScore = t.Score
			result.BestTrial = t.Index
			result.BestParams = t.Params
		}
	}
	if result.BestTrial < 0 {
		return result, fmt.Errorf("search: all %d trials failed for %s", len(history), family)
	}

	result.Converged, result.Improvement = e.convergence(history)

	e.logger.Info("search session finished",
		zap.String("family", family.String()),
		zap.Int("trials", len(history)),
		zap.Float64("best_score", result.BestScore),
		zap.Int("best_trial", result.BestTrial),
		zap.Bool("converged", result.Converged),
		zap.Duration("elapsed", result.Elapsed))

	return result, nil
}

// runTrial scores one configuration, converting panics and fit errors into a
// zero-score trial record so a bad configuration never aborts the session.
func (e *Engine) runTrial(family model.Family, params model.Params, features [][]float64, labels []float64, folds [][]int) (out trialOutcome) {
	start := time.Now()
	out.params = params
	defer func() {
		out.duration = time.Since(start)
		if r := recover(); r != nil {
			out.score = 0
			out.errMsg = fmt.Sprintf("trial panic: %v\n%s", r, debug.Stack())
		}
	}()

	score, err := crossValidate(family, params, features, labels, folds, e.cfg.Seed)
	if err != nil {
		out.score = 0
		out.errMsg = err.Error()
		return out
	}
	out.score = score
	return out
}

// convergence compares the mean of the most recent window against the first
// window of trials.
func (e *Engine) convergence(history []Trial) (bool, float64) {
	w := e.cfg.ConvergenceWindow
	if w < 2 || len(history) < 2*w {
		return false, 0
	}
	first := meanScore(history[:w])
	recent := meanScore(history[len(history)-w:])
	improvement := recent - first
	return improvement < e.cfg.ConvergenceThreshold, improvement
}

func meanScore(trials []Trial) float64 {
	if len(trials) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range trials {
		sum += t.Score
	}
	return sum / float64(len(trials))
}
