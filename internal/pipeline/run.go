package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the orchestrator state machine position. Transitions are strictly
// forward; Failed is reachable from any non-terminal state.
type State string

const (
	StateNotStarted            State = "NotStarted"
	StateAnalyzingData         State = "AnalyzingData"
	StateEngineeringFeatures   State = "EngineeringFeatures"
	StateSelectingModels       State = "SelectingModels"
	StateTuningHyperparameters State = "TuningHyperparameters"
	StateEvaluating            State = "Evaluating"
	StateDeploying             State = "Deploying"
	StateCompleted             State = "Completed"
	StateFailed                State = "Failed"
)

// stageOrder is the fixed execution order of the six stages.
var stageOrder = []State{
	StateAnalyzingData,
	StateEngineeringFeatures,
	StateSelectingModels,
	StateTuningHyperparameters,
	StateEvaluating,
	StateDeploying,
}

// TotalStages is the stage count reported by status queries.
var TotalStages = len(stageOrder)

// StageResult is the recorded outcome of one completed stage.
type StageResult struct {
	Stage        State         `json:"stage"`
	Output       interface{}   `json:"output,omitempty"`
	FallbackUsed bool          `json:"fallback_used"`
	Duration     time.Duration `json:"duration"`
	CompletedAt  time.Time     `json:"completed_at"`
}

// Run is one pipeline execution. It is mutated only by the orchestrator while
// running and becomes immutable once terminal; reads go through Snapshot.
type Run struct {
	mu        sync.RWMutex
	id        string
	target    string
	startedAt time.Time
	endedAt   time.Time
	state     State
	stages    []StageResult
	errMsg    string
}

// RunView is an immutable snapshot of a run.
type RunView struct {
	ID           string        `json:"id"`
	TargetColumn string        `json:"target_column"`
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      time.Time     `json:"ended_at,omitempty"`
	State        State         `json:"state"`
	Status       string        `json:"status"`
	Duration     time.Duration `json:"duration"`
	Stages       []StageResult `json:"stages"`
	Error        string        `json:"error,omitempty"`
}

// StatusInfo is the lightweight polling view of a run.
type StatusInfo struct {
	RunID           string        `json:"run_id"`
	CurrentStage    State         `json:"current_stage"`
	Elapsed         time.Duration `json:"elapsed"`
	CompletedStages int           `json:"completed_stage_count"`
	TotalStages     int           `json:"total_stage_count"`
}

func newRun(target string) *Run {
	return &Run{
		id:        uuid.NewString(),
		target:    target,
		startedAt: time.Now(),
		state:     StateNotStarted,
	}
}

// ID returns the run identifier.
func (r *Run) ID() string {
	return r.id
}

// State returns the current state machine position.
func (r *Run) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// StageResult returns the recorded result for a stage, if present.
func (r *Run) StageResult(stage State) (StageResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.stages {
		if s.Stage == stage {
			return s, true
		}
	}
	return StageResult{}, false
}

// Snapshot returns an immutable view of the run.
func (r *Run) Snapshot() RunView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := "Running"
	switch r.state {
	case StateCompleted:
		status = "Completed"
	case StateFailed:
		status = "Failed"
	}

	ended := r.endedAt
	duration := time.Since(r.startedAt)
	if !ended.IsZero() {
		duration = ended.Sub(r.startedAt)
	}

	return RunView{
		ID:           r.id,
		TargetColumn: r.target,
		StartedAt:    r.startedAt,
		EndedAt:      ended,
		State:        r.state,
		Status:       status,
		Duration:     duration,
		Stages:       append([]StageResult(nil), r.stages...),
		Error:        r.errMsg,
	}
}

// status returns the polling view.
func (r *Run) status() StatusInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	elapsed := time.Since(r.startedAt)
	if !r.endedAt.IsZero() {
		elapsed = r.endedAt.Sub(r.startedAt)
	}
	return StatusInfo{
		RunID:           r.id,
		CurrentStage:    r.state,
		Elapsed:         elapsed,
		CompletedStages: len(r.stages),
		TotalStages:     TotalStages,
	}
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Run) addStage(result StageResult) {
	r.mu.Lock()
	r.stages = append(r.stages, result)
	r.mu.Unlock()
}

func (r *Run) finish(state State, errMsg string) {
	r.mu.Lock()
	r.state = state
	r.errMsg = errMsg
	r.endedAt = time.Now()
	r.mu.Unlock()
}

// RunStore tracks runs for status queries. It is safe for concurrent use.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewRunStore creates an empty run store.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*Run)}
}

func (s *RunStore) put(r *Run) {
	s.mu.Lock()
	s.runs[r.id] = r
	s.mu.Unlock()
}

// Get returns a run by id.
func (s *RunStore) Get(runID string) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	return r, ok
}

// Status returns the polling view of a run.
func (s *RunStore) Status(runID string) (StatusInfo, bool) {
	r, ok := s.Get(runID)
	if !ok {
		return StatusInfo{}, false
	}
	return r.status(), true
}
