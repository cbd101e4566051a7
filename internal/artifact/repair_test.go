package artifact

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/jamesjlundin/appforge/internal/domain"
)

// scriptedAgent replays canned outputs and records the prompts it saw
type scriptedAgent struct {
	outputs []string
	prompts []string
}

func (a *scriptedAgent) invoke(_ context.Context, prompt, _ string) (*domain.AgentResult, error) {
	a.prompts = append(a.prompts, prompt)
	if len(a.outputs) == 0 {
		return &domain.AgentResult{Output: ""}, nil
	}
	out := a.outputs[0]
	a.outputs = a.outputs[1:]
	return &domain.AgentResult{Output: out}, nil
}

func TestEnsure_ValidArtifactPassesThrough(t *testing.T) {
	agent := &scriptedAgent{}
	r := NewRepairer(agent.invoke, slog.Default())

	content := validSpec()
	got, err := r.Ensure(context.Background(), "spec", content)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if got != content {
		t.Error("valid content must come back untouched")
	}
	if len(agent.prompts) != 0 {
		t.Errorf("no agent calls expected, got %d", len(agent.prompts))
	}
}

func TestEnsure_RewriteFixesArtifact(t *testing.T) {
	agent := &scriptedAgent{outputs: []string{validSpec()}}
	r := NewRepairer(agent.invoke, slog.Default())

	broken := "Sure! Here's a tiny spec.\n\nno structure\n"
	got, err := r.Ensure(context.Background(), "spec", broken)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if got != validSpec() {
		t.Error("repaired content should be the rewrite output")
	}
	if len(agent.prompts) != 1 {
		t.Fatalf("agent calls = %d, want 1", len(agent.prompts))
	}
	if !strings.Contains(agent.prompts[0], "meta-commentary") {
		t.Errorf("rewrite prompt should name the warnings: %q", agent.prompts[0])
	}
}

func TestEnsure_BackfillAppendsBeforeEnvelope(t *testing.T) {
	missingSection := strings.Replace(validSpec(), "## Non-Goals", "## Other Things", 1)
	backfill := "## Non-Goals\n\n- No mobile app in this iteration of the product roadmap.\n"

	// both rewrites return the same still-broken document, then backfill
	// supplies the missing section
	agent := &scriptedAgent{outputs: []string{missingSection, missingSection, backfill}}
	r := NewRepairer(agent.invoke, slog.Default())

	got, err := r.Ensure(context.Background(), "spec", missingSection)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(agent.prompts) != 3 {
		t.Fatalf("agent calls = %d, want 2 rewrites + 1 backfill", len(agent.prompts))
	}
	if !strings.Contains(agent.prompts[2], "Non-Goals") {
		t.Errorf("backfill prompt should name the missing section")
	}
	envIdx := strings.Index(got, EnvelopeFor("spec"))
	secIdx := strings.Index(got, "## Non-Goals")
	if secIdx < 0 || envIdx < secIdx {
		t.Error("backfilled section must land before the envelope marker")
	}
}

func TestEnsure_ExhaustedBudgetNamesWarnings(t *testing.T) {
	broken := "Sure! tiny.\n"
	agent := &scriptedAgent{outputs: []string{broken, broken, broken, broken}}
	r := NewRepairer(agent.invoke, slog.Default())

	_, err := r.Ensure(context.Background(), "spec", broken)
	var invalid *InvalidArtifactError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidArtifactError", err)
	}
	if len(invalid.Warnings) == 0 {
		t.Error("error must name the unresolved warnings")
	}
	for _, w := range invalid.Warnings {
		if !actionable[w.Code] {
			t.Errorf("cosmetic warning %s leaked into the fatal error", w.Code)
		}
	}
}

func TestEnsure_AgentErrorPropagates(t *testing.T) {
	r := NewRepairer(func(context.Context, string, string) (*domain.AgentResult, error) {
		return nil, errors.New("agent down")
	}, slog.Default())

	_, err := r.Ensure(context.Background(), "spec", "Sure! tiny.\n")
	if err == nil || !strings.Contains(err.Error(), "agent down") {
		t.Errorf("err = %v, want agent error", err)
	}
}
