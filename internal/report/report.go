// Package report writes the per-task and per-stage audit reports for a run.
// Reports are plain markdown files under the run's data directory; they
// exist so an operator can reconstruct what happened without replaying logs.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jamesjlundin/appforge/internal/domain"
	"github.com/jamesjlundin/appforge/internal/verify"
)

// Writer writes reports under dataDir/runs/<runID>/reports/
type Writer struct {
	dataDir string
}

func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

func (w *Writer) reportDir(runID string) (string, error) {
	dir := filepath.Join(w.dataDir, "runs", runID, "reports")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report dir: %w", err)
	}
	return dir, nil
}

// TaskReport records one task's outcome: what ran, what it cost, what the
// commit looked like.
func (w *Writer) TaskReport(runID string, task *domain.Task, result *domain.AgentResult, diffSummary string, committed bool) error {
	dir, err := w.reportDir(runID)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Task %s: %s\n\n", task.ID, task.Title)
	fmt.Fprintf(&b, "- Completed: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Provenance: %s\n", task.Provenance)
	if task.DependsOn != "" {
		fmt.Fprintf(&b, "- Depends on: %s\n", task.DependsOn)
	}
	fmt.Fprintf(&b, "- Committed: %t\n", committed)
	if result != nil {
		fmt.Fprintf(&b, "- Cost: $%.4f actual, %d in / %d out tokens, %d turns\n",
			result.CostUSD, result.TokensInput, result.TokensOutput, result.NumTurns)
	}
	if diffSummary != "" {
		fmt.Fprintf(&b, "\n## Changes\n\n```\n%s\n```\n", strings.TrimSpace(diffSummary))
	}
	if result != nil && result.Output != "" {
		fmt.Fprintf(&b, "\n## Agent output\n\n%s\n", result.Output)
	}

	name := fmt.Sprintf("task-%s.md", sanitize(task.ID))
	return os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0o644)
}

// StageReport records one verification stage's outcome and repair history
func (w *Writer) StageReport(runID, stageID string, attempts []verify.AttemptRecord, passed bool) error {
	dir, err := w.reportDir(runID)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Verification stage %s\n\n", stageID)
	fmt.Fprintf(&b, "- Completed: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Passed: %t\n", passed)
	fmt.Fprintf(&b, "- Repair attempts: %d\n", len(attempts))

	for _, a := range attempts {
		fmt.Fprintf(&b, "\n## Attempt %d", a.Number)
		if a.Blocked {
			b.WriteString(" (blocked, rolled back)")
		}
		b.WriteString("\n\n")
		writeSignatures(&b, "Remaining failures", a.Failures)
		writeSignatures(&b, "Resolved", a.Resolved)
		writeSignatures(&b, "Newly introduced", a.NewBroken)
	}

	name := fmt.Sprintf("stage-%s.md", sanitize(stageID))
	return os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0o644)
}

func writeSignatures(b *strings.Builder, label string, sigs []domain.FailureSignature) {
	if len(sigs) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", label)
	for _, sig := range sigs {
		fmt.Fprintf(b, "- %s: %s\n", sig.File, sig.Title)
	}
	b.WriteString("\n")
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
