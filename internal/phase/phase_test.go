package phase

import (
	"errors"
	"testing"

	"github.com/jamesjlundin/appforge/internal/domain"
)

func TestDefinitions_OrderConsistentWithPrerequisites(t *testing.T) {
	seen := map[string]bool{}
	for _, def := range Definitions() {
		for _, req := range def.Requires {
			if !seen[req] {
				t.Errorf("phase %s requires %s which is declared later (or not at all)", def.ID, req)
			}
		}
		seen[def.ID] = true
	}
}

func TestSelectNext_WalksInOrder(t *testing.T) {
	run := domain.NewRun("r1", "an idea", domain.EngineClaudeCode)

	def, ok, err := SelectNext(run, "")
	if err != nil || !ok {
		t.Fatalf("SelectNext() = %v, %v", ok, err)
	}
	if def.ID != PhaseSpec {
		t.Errorf("first phase = %s, want %s", def.ID, PhaseSpec)
	}

	run.MarkPhaseComplete(PhaseSpec)
	run.MarkPhaseComplete(PhaseDesign)
	def, ok, _ = SelectNext(run, "")
	if !ok || def.ID != PhaseBootstrap {
		t.Errorf("next phase = %s, want %s", def.ID, PhaseBootstrap)
	}
}

func TestSelectNext_AllComplete(t *testing.T) {
	run := domain.NewRun("r1", "idea", domain.EngineClaudeCode)
	for _, def := range Definitions() {
		run.MarkPhaseComplete(def.ID)
	}
	_, ok, err := SelectNext(run, "")
	if err != nil {
		t.Fatalf("SelectNext() error = %v", err)
	}
	if ok {
		t.Error("SelectNext() returned a phase for a fully completed run")
	}
}

func TestSelectNext_Override(t *testing.T) {
	run := domain.NewRun("r1", "idea", domain.EngineClaudeCode)
	def, ok, err := SelectNext(run, PhaseVerify)
	if err != nil || !ok {
		t.Fatalf("SelectNext(override) = %v, %v", ok, err)
	}
	if def.ID != PhaseVerify {
		t.Errorf("override phase = %s, want %s", def.ID, PhaseVerify)
	}

	if _, _, err := SelectNext(run, "no-such-phase"); err == nil {
		t.Error("SelectNext() accepted an unknown override phase")
	}
}

func TestValidatePrerequisites_NamesAllMissing(t *testing.T) {
	run := domain.NewRun("r1", "idea", domain.EngineClaudeCode)
	def, _ := Lookup(PhasePlan) // requires design + bootstrap

	err := ValidatePrerequisites(run, def)
	var prereqErr *PrerequisiteError
	if !errors.As(err, &prereqErr) {
		t.Fatalf("error = %v, want PrerequisiteError", err)
	}
	if len(prereqErr.Missing) != 2 {
		t.Errorf("missing = %v, want [bootstrap design]", prereqErr.Missing)
	}
}

func TestValidatePrerequisites_WorkspaceRequired(t *testing.T) {
	run := domain.NewRun("r1", "idea", domain.EngineClaudeCode)
	run.MarkPhaseComplete(PhaseSpec)
	run.MarkPhaseComplete(PhaseDesign)
	run.MarkPhaseComplete(PhaseBootstrap)

	def, _ := Lookup(PhasePlan)
	err := ValidatePrerequisites(run, def)
	var consErr *domain.ConsistencyError
	if !errors.As(err, &consErr) {
		t.Fatalf("error = %v, want ConsistencyError for missing workspace", err)
	}

	run.WorkspacePath = t.TempDir()
	if err := ValidatePrerequisites(run, def); err != nil {
		t.Errorf("ValidatePrerequisites() with workspace = %v, want nil", err)
	}
}

func TestRequiresApproval(t *testing.T) {
	if !RequiresApproval(PhaseBootstrap) || !RequiresApproval(PhaseImplement) {
		t.Error("bootstrap and implement should be approval-gated")
	}
	if RequiresApproval(PhaseSpec) {
		t.Error("spec should not be approval-gated")
	}
}
