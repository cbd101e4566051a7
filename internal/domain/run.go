package domain

import (
	"slices"
	"time"
)

// PhaseCost holds per-phase cost buckets. Actual is what the agent reported,
// Estimated is derived from token counts when no cost was reported, and
// Effective is the budget-enforcement basis combining both.
type PhaseCost struct {
	ActualUSD    float64 `json:"actual_usd"`
	EstimatedUSD float64 `json:"estimated_usd"`
	EffectiveUSD float64 `json:"effective_usd"`
}

// Run is the durable record of one pipeline execution. It is loaded at start
// and persisted after every phase, task, and stage transition so a crash
// loses at most one unit of work.
type Run struct {
	ID            string    `json:"id"`
	Idea          string    `json:"idea"`
	Engine        Engine    `json:"engine"`
	Status        RunStatus `json:"status"`
	WorkspacePath string    `json:"workspace_path,omitempty"`
	RepositoryURL string    `json:"repository_url,omitempty"`

	CompletedPhases []string `json:"completed_phases"`
	CurrentPhase    string   `json:"current_phase"`

	ActualCostUSD    float64               `json:"actual_cost_usd"`
	EstimatedCostUSD float64               `json:"estimated_cost_usd"`
	EffectiveCostUSD float64               `json:"effective_cost_usd"`
	TokensInput      int                   `json:"tokens_input"`
	TokensOutput     int                   `json:"tokens_output"`
	PhaseCosts       map[string]*PhaseCost `json:"phase_costs"`

	// Implementation-phase checkpoints
	LastCompletedTask  int `json:"last_completed_task"` // count of committed tasks; next task index to run
	DecompositionCount int `json:"decomposition_count"`
	DynamicTaskCount   int `json:"dynamic_task_count"`

	// Verification-phase sub-checkpoints
	CompletedStages []string `json:"completed_stages"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRun creates a fresh run record for the given idea
func NewRun(id, idea string, engine Engine) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:         id,
		Idea:       idea,
		Engine:     engine,
		Status:     RunActive,
		PhaseCosts: make(map[string]*PhaseCost),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// PhaseComplete reports whether the given phase has already finished
func (r *Run) PhaseComplete(phaseID string) bool {
	return slices.Contains(r.CompletedPhases, phaseID)
}

// MarkPhaseComplete appends the phase to the completed list exactly once
func (r *Run) MarkPhaseComplete(phaseID string) {
	if !r.PhaseComplete(phaseID) {
		r.CompletedPhases = append(r.CompletedPhases, phaseID)
	}
	r.UpdatedAt = time.Now().UTC()
}

// StageComplete reports whether a verification stage has passed
func (r *Run) StageComplete(stageID string) bool {
	return slices.Contains(r.CompletedStages, stageID)
}

// MarkStageComplete records a passed verification stage exactly once
func (r *Run) MarkStageComplete(stageID string) {
	if !r.StageComplete(stageID) {
		r.CompletedStages = append(r.CompletedStages, stageID)
	}
	r.UpdatedAt = time.Now().UTC()
}

// PhaseCost returns the cost bucket for a phase, creating it if needed
func (r *Run) PhaseCostFor(phaseID string) *PhaseCost {
	if r.PhaseCosts == nil {
		r.PhaseCosts = make(map[string]*PhaseCost)
	}
	pc, ok := r.PhaseCosts[phaseID]
	if !ok {
		pc = &PhaseCost{}
		r.PhaseCosts[phaseID] = pc
	}
	return pc
}
