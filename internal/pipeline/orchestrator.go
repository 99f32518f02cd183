package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/modelpilot/modelpilot/internal/analyzer"
	"github.com/modelpilot/modelpilot/internal/dataset"
	"github.com/modelpilot/modelpilot/internal/evaluator"
	"github.com/modelpilot/modelpilot/internal/features"
	"github.com/modelpilot/modelpilot/internal/model"
	"github.com/modelpilot/modelpilot/internal/registry"
	"github.com/modelpilot/modelpilot/internal/search"
	"github.com/modelpilot/modelpilot/internal/selector"
	"github.com/modelpilot/modelpilot/pkg/metrics"
)

// StageError marks a run as failed at a specific stage. Partial results from
// earlier stages stay attached to the run.
type StageError struct {
	RunID string
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("run %s failed at %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Advisor supplies run-level narrative for the stages that have no dedicated
// advisory seam of their own.
type Advisor interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// TuningOutput aggregates the per-family search sessions and the winning
// configuration.
type TuningOutput struct {
	Sessions     []*search.Result `json:"sessions"`
	BestFamily   model.Family     `json:"best_family"`
	BestParams   model.Params     `json:"best_params"`
	BestScore    float64          `json:"best_score"`
	Commentary   string           `json:"commentary,omitempty"`
	FallbackUsed bool             `json:"fallback_used"`
}

// Outcome carries everything a completed (or partially completed) run
// produced. On registration failure the trained model and report are still
// populated so the caller can retry deployment separately.
type Outcome struct {
	RunID     string                `json:"run_id"`
	Analysis  *analyzer.Analysis    `json:"analysis,omitempty"`
	Features  *features.Suggestions `json:"features,omitempty"`
	Selection *selector.Selection   `json:"selection,omitempty"`
	Tuning    *TuningOutput         `json:"tuning,omitempty"`
	Report    *evaluator.Report     `json:"report,omitempty"`
	Model     model.Classifier      `json:"-"`
	VersionID string                `json:"version_id,omitempty"`
	Decision  registry.Decision     `json:"decision,omitempty"`
	Run       RunView               `json:"run"`
}

// Deps wires the stage implementations into the orchestrator.
type Deps struct {
	// Advisor narrates the tuning and deployment stages; nil means those
	// stages always use their deterministic fallback text.
	Advisor   Advisor
	Analyzer  *analyzer.Analyzer
	Engineer  *features.Engineer
	Selector  *selector.Selector
	Search    *search.Engine
	Evaluator *evaluator.Evaluator
	Registry  registry.Registry
	Gate      *registry.Gate
	Store     *RunStore
	Logger    *zap.Logger
}

// Options tunes run-level behavior.
type Options struct {
	// ModelName is the registry name versions are registered under.
	ModelName string
	// HoldoutFraction is the share of rows reserved for final evaluation.
	HoldoutFraction float64
	Seed            int64
}

// DefaultOptions mirrors the shipped pipeline defaults.
func DefaultOptions() Options {
	return Options{ModelName: "modelpilot", HoldoutFraction: 0.2, Seed: 42}
}

// Orchestrator sequences the six pipeline stages as a forward-only state
// machine. Each stage's failure is terminal; cancellation is honored at stage
// boundaries so a finished stage is never rolled back.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
}

// NewOrchestrator creates an orchestrator. Deps.Store may be nil, in which
// case a private store is created.
func NewOrchestrator(deps Deps, opts Options, logger *zap.Logger) *Orchestrator {
	if deps.Store == nil {
		deps.Store = NewRunStore()
	}
	if opts.HoldoutFraction <= 0 || opts.HoldoutFraction >= 1 {
		opts.HoldoutFraction = 0.2
	}
	if opts.ModelName == "" {
		opts.ModelName = "modelpilot"
	}
	return &Orchestrator{deps: deps, opts: opts, logger: logger.Named("pipeline")}
}

// Store exposes the run store for status queries.
func (o *Orchestrator) Store() *RunStore { return o.deps.Store }

// Run executes the full pipeline on ds. It always returns an Outcome; on
// failure the outcome carries whatever the completed stages produced and the
// run view records the failed state.
func (o *Orchestrator) Run(ctx context.Context, ds *dataset.Dataset, target string) (*Outcome, error) {
	run := newRun(target)
	o.deps.Store.put(run)
	outcome := &Outcome{RunID: run.ID()}

	o.logger.Info("pipeline run started",
		zap.String("run_id", run.ID()),
		zap.String("target", target),
		zap.Int("rows", ds.Rows()))

	err := o.execute(ctx, run, ds, target, outcome)
	if err != nil {
		run.finish(StateFailed, err.Error())
		metrics.PipelineRuns.WithLabelValues("failed").Inc()
		o.logger.Error("pipeline run failed",
			zap.String("run_id", run.ID()),
			zap.Error(err))
	} else {
		run.finish(StateCompleted, "")
		metrics.PipelineRuns.WithLabelValues("completed").Inc()
		o.logger.Info("pipeline run completed",
			zap.String("run_id", run.ID()),
			zap.String("version_id", outcome.VersionID),
			zap.String("decision", string(outcome.Decision)))
	}

	outcome.Run = run.Snapshot()
	return outcome, err
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, ds *dataset.Dataset, target string, outcome *Outcome) error {
	// Stage 1: data analysis.
	err := o.execStage(ctx, run, StateAnalyzingData, func(ctx context.Context) (interface{}, bool, error) {
		analysis, err := o.deps.Analyzer.Analyze(ctx, ds, target)
		if err != nil {
			return nil, false, err
		}
		outcome.Analysis = analysis
		return analysis, analysis.FallbackUsed, nil
	})
	if err != nil {
		return err
	}

	// Stage 2: feature engineering.
	var engineered *dataset.Dataset
	err = o.execStage(ctx, run, StateEngineeringFeatures, func(ctx context.Context) (interface{}, bool, error) {
		sugg, err := o.deps.Engineer.Suggest(ctx, ds, target, outcome.Analysis)
		if err != nil {
			return nil, false, err
		}
		engineered, err = o.deps.Engineer.Apply(ds, sugg)
		if err != nil {
			return nil, false, err
		}
		outcome.Features = sugg
		return sugg, sugg.FallbackUsed, nil
	})
	if err != nil {
		return err
	}

	// Stage 3: model selection.
	err = o.execStage(ctx, run, StateSelectingModels, func(ctx context.Context) (interface{}, bool, error) {
		sel, err := o.deps.Selector.Select(ctx, engineered, target, outcome.Analysis, outcome.Features)
		if err != nil {
			return nil, false, err
		}
		outcome.Selection = sel
		return sel, sel.FallbackUsed, nil
	})
	if err != nil {
		return err
	}

	labels, err := engineered.TargetVector(target)
	if err != nil {
		return &StageError{RunID: run.ID(), Stage: StateTuningHyperparameters, Err: err}
	}
	featureRows, featureNames := engineered.FeatureMatrix(target)
	trainIdx, holdIdx := splitHoldout(labels, o.opts.HoldoutFraction, o.opts.Seed)
	trainX, trainY := rowsAt(featureRows, trainIdx), valuesAt(labels, trainIdx)
	holdX, holdY := rowsAt(featureRows, holdIdx), valuesAt(labels, holdIdx)

	// Stage 4: hyperparameter search across candidate families.
	err = o.execStage(ctx, run, StateTuningHyperparameters, func(ctx context.Context) (interface{}, bool, error) {
		tuning, err := o.tune(ctx, outcome.Selection, trainX, trainY)
		if err != nil {
			return nil, false, err
		}
		tuning.Commentary, tuning.FallbackUsed = o.narrate(ctx, tuningPrompt(tuning), tuningFallback(tuning))
		outcome.Tuning = tuning
		return tuning, tuning.FallbackUsed, nil
	})
	if err != nil {
		return err
	}

	// Stage 5: evaluation on the holdout split.
	err = o.execStage(ctx, run, StateEvaluating, func(ctx context.Context) (interface{}, bool, error) {
		clf, err := model.New(outcome.Tuning.BestFamily, outcome.Tuning.BestParams, o.opts.Seed)
		if err != nil {
			return nil, false, err
		}
		if err := clf.Fit(trainX, trainY); err != nil {
			return nil, false, err
		}
		report, err := o.deps.Evaluator.Evaluate(ctx, clf, holdX, holdY)
		if err != nil {
			return nil, false, err
		}
		outcome.Model = clf
		outcome.Report = report
		return report, report.FallbackUsed, nil
	})
	if err != nil {
		return err
	}

	// Stage 6: registration and lifecycle promotion.
	return o.execStage(ctx, run, StateDeploying, func(ctx context.Context) (interface{}, bool, error) {
		versionID, decision, err := o.deploy(ctx, run, ds, target, featureNames, outcome)
		if err != nil {
			return nil, false, err
		}
		outcome.VersionID = versionID
		outcome.Decision = decision
		notes, fallback := o.narrate(ctx,
			deployPrompt(outcome, versionID, decision),
			deployFallback(outcome, versionID, decision))
		return map[string]string{
			"version_id": versionID,
			"decision":   string(decision),
			"notes":      notes,
		}, fallback, nil
	})
}

// execStage runs one stage with boundary cancellation, panic containment,
// timing and run bookkeeping.
func (o *Orchestrator) execStage(ctx context.Context, run *Run, stage State, fn func(context.Context) (interface{}, bool, error)) error {
	if err := ctx.Err(); err != nil {
		return &StageError{RunID: run.ID(), Stage: stage, Err: err}
	}
	run.setState(stage)
	o.logger.Info("stage started", zap.String("run_id", run.ID()), zap.String("stage", string(stage)))

	start := time.Now()
	out, fallback, err := o.safeStage(ctx, fn)
	elapsed := time.Since(start)
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())

	if err != nil {
		return &StageError{RunID: run.ID(), Stage: stage, Err: err}
	}
	run.addStage(StageResult{
		Stage:        stage,
		Output:       out,
		FallbackUsed: fallback,
		Duration:     elapsed,
		CompletedAt:  time.Now(),
	})
	o.logger.Info("stage completed",
		zap.String("run_id", run.ID()),
		zap.String("stage", string(stage)),
		zap.Duration("duration", elapsed),
		zap.Bool("fallback_used", fallback))
	return nil
}

func (o *Orchestrator) safeStage(ctx context.Context, fn func(context.Context) (interface{}, bool, error)) (out interface{}, fallback bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panic: %v", r)
		}
	}()
	return fn(ctx)
}

// narrate asks the advisor for stage commentary, falling back to the supplied
// deterministic text when the service is unreachable or unconfigured. The
// second return reports whether the fallback was used.
func (o *Orchestrator) narrate(ctx context.Context, prompt, fallback string) (string, bool) {
	if o.deps.Advisor == nil {
		return fallback, true
	}
	text, err := o.deps.Advisor.Ask(ctx, prompt)
	if err != nil {
		o.logger.Warn("advisory narrative unavailable, using deterministic fallback", zap.Error(err))
		return fallback, true
	}
	if text = strings.TrimSpace(text); text == "" {
		return fallback, true
	}
	return text, false
}

func tuningPrompt(tuning *TuningOutput) string {
	var sb strings.Builder
	sb.WriteString("Summarize this hyperparameter search outcome in one short paragraph for a model card.\n\n")
	for _, s := range tuning.Sessions {
		fmt.Fprintf(&sb, "- %s: best cross-validated score %.4f over %d trials (converged: %v)\n",
			s.Family, s.BestScore, len(s.Trials), s.Converged)
	}
	fmt.Fprintf(&sb, "\nWinner: %s with score %.4f\n", tuning.BestFamily, tuning.BestScore)
	return sb.String()
}

func tuningFallback(tuning *TuningOutput) string {
	return fmt.Sprintf("Searched %d candidate families; %s won with cross-validated score %.4f.",
		len(tuning.Sessions), tuning.BestFamily, tuning.BestScore)
}

func deployPrompt(outcome *Outcome, versionID string, decision registry.Decision) string {
	m := outcome.Report.Metrics
	var sb strings.Builder
	sb.WriteString("Write one short deployment note explaining this promotion decision to a stakeholder.\n\n")
	fmt.Fprintf(&sb, "Version: %s\nDecision: %s\nHoldout ROC AUC: %.4f\nHoldout precision: %.4f\n",
		versionID, decision, m.ROCAUC, m.Precision)
	return sb.String()
}

func deployFallback(outcome *Outcome, versionID string, decision registry.Decision) string {
	m := outcome.Report.Metrics
	return fmt.Sprintf("Registered version %s; gate decision %s on holdout ROC AUC %.4f and precision %.4f.",
		versionID, decision, m.ROCAUC, m.Precision)
}

// tune searches every candidate family and picks the best configuration.
// Ties break toward the earlier family in priority order.
func (o *Orchestrator) tune(ctx context.Context, sel *selector.Selection, trainX [][]float64, trainY []float64) (*TuningOutput, error) {
	order := sel.PriorityOrder
	if len(order) == 0 {
		order = sel.RecommendedModels
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("no candidate model families")
	}

	tuning := &TuningOutput{BestScore: -1}
	for _, family := range order {
		// Cancellation between families stops the search without starting a
		// new session; the session that observed it already drained.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := o.deps.Search.Optimize(ctx, family, trainX, trainY)
		if err != nil {
			return nil, fmt.Errorf("family %s: %w", family, err)
		}
		tuning.Sessions = append(tuning.Sessions, result)
		if result.BestScore > tuning.BestScore {
			tuning.BestScore = result.BestScore
			tuning.BestParams = result.BestParams
			tuning.BestFamily = family
		}
	}
	return tuning, nil
}

func (o *Orchestrator) deploy(ctx context.Context, run *Run, ds *dataset.Dataset, target string, featureNames []string, outcome *Outcome) (string, registry.Decision, error) {
	m := outcome.Report.Metrics
	metricValues := map[string]float64{
		"roc_auc":       m.ROCAUC,
		"pr_auc":        m.PRAUC,
		"accuracy":      m.Accuracy,
		"precision":     m.Precision,
		"recall":        m.Recall,
		"f1":            m.F1,
		"cv_best_score": outcome.Tuning.BestScore,
	}

	card := &registry.Card{
		ModelName:  o.opts.ModelName,
		Family:     outcome.Tuning.BestFamily.String(),
		RunID:      run.ID(),
		TrainedAt:  time.Now().UTC(),
		TargetName: target,
		Features:   featureNames,
		Params:     outcome.Tuning.BestParams,
		Metrics:    metricValues,
		DataSummary: registry.DataSummary{
			Rows:          ds.Rows(),
			Columns:       ds.Schema().Len(),
			PositiveShare: outcome.Analysis.Target.PositiveShare,
		},
		Narrative:   outcome.Report.Narrative.ExecutiveSummary,
		Limitations: cardLimitations(outcome),
	}

	versionID, err := o.deps.Registry.Register(ctx, registry.Metadata{
		Name:     o.opts.ModelName,
		RunID:    run.ID(),
		Family:   outcome.Tuning.BestFamily.String(),
		Params:   outcome.Tuning.BestParams,
		Metrics:  metricValues,
		Features: featureNames,
		Card:     card,
	})
	if err != nil {
		return "", "", err
	}

	decision, err := o.deps.Gate.Promote(ctx, versionID, registry.GateMetrics{
		ROCAUC:    m.ROCAUC,
		Precision: m.Precision,
	})
	if err != nil {
		return versionID, decision, err
	}
	return versionID, decision, nil
}

func cardLimitations(outcome *Outcome) []string {
	var out []string
	if outcome.Analysis.Target.Imbalanced {
		out = append(out, "trained on an imbalanced target; monitor minority-class recall in production")
	}
	if outcome.Report.FallbackUsed || outcome.Analysis.FallbackUsed {
		out = append(out, "advisory service was unavailable for part of this run; narrative sections are template-generated")
	}
	if len(out) == 0 {
		out = append(out, "binary classification only; retrain before applying to shifted data distributions")
	}
	return out
}

// splitHoldout reserves fraction of the rows for holdout evaluation,
// stratified by class so both splits keep the original class balance.
func splitHoldout(labels []float64, fraction float64, seed int64) (train, holdout []int) {
	var pos, neg []int
	for i, y := range labels {
		if y >= 0.5 {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(pos), func(i, j int) { pos[i], pos[j] = pos[j], pos[i] })
	rng.Shuffle(len(neg), func(i, j int) { neg[i], neg[j] = neg[j], neg[i] })

	split := func(idx []int) (tr, ho []int) {
		n := int(float64(len(idx)) * fraction)
		if n == 0 && len(idx) > 1 {
			n = 1
		}
		return idx[n:], idx[:n]
	}
	posTr, posHo := split(pos)
	negTr, negHo := split(neg)

	train = append(append([]int{}, posTr...), negTr...)
	holdout = append(append([]int{}, posHo...), negHo...)
	sort.Ints(train)
	sort.Ints(holdout)
	return train, holdout
}

func rowsAt(rows [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = rows[j]
	}
	return out
}

func valuesAt(values []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = values[j]
	}
	return out
}
