package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPhase_RendersEmbeddedTemplate(t *testing.T) {
	l := NewLoader()
	out, err := l.Phase("spec", map[string]string{
		"Idea":     "a recipe box app",
		"Envelope": "<!-- marker -->",
	})
	if err != nil {
		t.Fatalf("Phase: %v", err)
	}
	if !strings.Contains(out, "a recipe box app") {
		t.Error("idea not substituted into the prompt")
	}
	if !strings.Contains(out, "<!-- marker -->") {
		t.Error("envelope not substituted into the prompt")
	}
}

func TestPhase_OverrideWins(t *testing.T) {
	dir := t.TempDir()
	phaseDir := filepath.Join(dir, "phases")
	if err := os.MkdirAll(phaseDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(phaseDir, "spec.md"), []byte("custom: {{.Idea}}"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(dir)
	out, err := l.Phase("spec", map[string]string{"Idea": "x"})
	if err != nil {
		t.Fatalf("Phase: %v", err)
	}
	if out != "custom: x" {
		t.Errorf("out = %q, want the override template", out)
	}
}

func TestPhase_UnknownPhase(t *testing.T) {
	l := NewLoader()
	if _, err := l.Phase("no-such-phase", nil); err == nil {
		t.Error("want error for unknown phase template")
	}
}

func TestPhase_AllPipelineTemplatesPresent(t *testing.T) {
	l := NewLoader()
	for _, id := range []string{"spec", "design", "plan", "review", "ship"} {
		if _, err := l.Phase(id, map[string]string{}); err != nil {
			t.Errorf("phase %s template: %v", id, err)
		}
	}
}
