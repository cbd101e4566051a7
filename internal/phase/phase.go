package phase

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jamesjlundin/appforge/internal/domain"
)

// Definition is a static, hand-authored pipeline phase. The prerequisite
// graph is acyclic by construction: a phase only ever names earlier phases.
type Definition struct {
	ID             string
	Name           string
	NeedsWorkspace bool
	Artifact       string // expected artifact filename, empty when the phase produces none
	Requires       []string
}

// Phase identifiers in declaration order
const (
	PhaseSpec      = "spec"
	PhaseDesign    = "design"
	PhaseBootstrap = "bootstrap"
	PhasePlan      = "plan"
	PhaseImplement = "implement"
	PhaseVerify    = "verify"
	PhaseReview    = "review"
	PhaseShip      = "ship"
)

// definitions is the fixed, ordered phase list. This is not a user-defined
// DAG; order here is execution order.
var definitions = []Definition{
	{ID: PhaseSpec, Name: "Specification", Artifact: "SPEC.md"},
	{ID: PhaseDesign, Name: "Architecture", Artifact: "DESIGN.md", Requires: []string{PhaseSpec}},
	{ID: PhaseBootstrap, Name: "Repository bootstrap", Requires: []string{PhaseSpec, PhaseDesign}},
	{ID: PhasePlan, Name: "Task planning", NeedsWorkspace: true, Artifact: "PLAN.md", Requires: []string{PhaseDesign, PhaseBootstrap}},
	{ID: PhaseImplement, Name: "Implementation", NeedsWorkspace: true, Requires: []string{PhasePlan}},
	{ID: PhaseVerify, Name: "Verification", NeedsWorkspace: true, Requires: []string{PhaseImplement}},
	{ID: PhaseReview, Name: "Code review", NeedsWorkspace: true, Artifact: "REVIEW.md", Requires: []string{PhaseVerify}},
	{ID: PhaseShip, Name: "Ship readiness", NeedsWorkspace: true, Artifact: "SHIP_REPORT.md", Requires: []string{PhaseReview}},
}

// approvalGated is the fixed subset of phases that require human approval in
// interactive mode before they may run.
var approvalGated = map[string]bool{
	PhaseBootstrap: true,
	PhaseImplement: true,
}

// Definitions returns the ordered phase list
func Definitions() []Definition {
	return definitions
}

// Lookup returns the definition for a phase identifier
func Lookup(id string) (Definition, bool) {
	for _, d := range definitions {
		if d.ID == id {
			return d, true
		}
	}
	return Definition{}, false
}

// RequiresApproval reports whether interactive mode gates this phase
func RequiresApproval(id string) bool {
	return approvalGated[id]
}

// PrerequisiteError reports every prerequisite phase missing from the run's
// completed set.
type PrerequisiteError struct {
	Phase   string
	Missing []string
}

func (e *PrerequisiteError) Error() string {
	return fmt.Sprintf("phase %s: missing prerequisite phases: %s", e.Phase, strings.Join(e.Missing, ", "))
}

// SelectNext walks the phase list in declared order and returns the first
// phase not yet completed. When override is non-empty that phase is selected
// instead, but it must still pass prerequisite validation at dispatch time.
// The second return is false when every phase is complete.
func SelectNext(run *domain.Run, override string) (Definition, bool, error) {
	if override != "" {
		def, ok := Lookup(override)
		if !ok {
			return Definition{}, false, fmt.Errorf("unknown phase %q", override)
		}
		return def, true, nil
	}
	for _, def := range definitions {
		if !run.PhaseComplete(def.ID) {
			return def, true, nil
		}
	}
	return Definition{}, false, nil
}

// ValidatePrerequisites fails with a PrerequisiteError naming every missing
// phase when the run's completed set does not cover def.Requires.
func ValidatePrerequisites(run *domain.Run, def Definition) error {
	var missing []string
	for _, req := range def.Requires {
		if !run.PhaseComplete(req) {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &PrerequisiteError{Phase: def.ID, Missing: missing}
	}
	if def.NeedsWorkspace && run.WorkspacePath == "" {
		return &domain.ConsistencyError{
			Op:     "phase " + def.ID,
			Detail: "phase requires a workspace but the run has none (bootstrap did not record one)",
		}
	}
	return nil
}
