package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jamesjlundin/appforge/internal/domain"
)

// Repair call bounds. Rewrites regenerate the whole document; backfills
// append only the still-missing sections without touching existing content.
const (
	maxRewriteAttempts  = 2
	maxBackfillAttempts = 2
)

// AgentFunc issues one repair invocation
type AgentFunc func(ctx context.Context, prompt, purpose string) (*domain.AgentResult, error)

// InvalidArtifactError means repair and backfill were exhausted and the
// artifact still fails validation. Every unresolved warning is named.
type InvalidArtifactError struct {
	PhaseID  string
	Warnings []Warning
}

func (e *InvalidArtifactError) Error() string {
	parts := make([]string, 0, len(e.Warnings))
	for _, w := range e.Warnings {
		parts = append(parts, w.String())
	}
	return fmt.Sprintf("phase %s artifact invalid after repair: %s",
		e.PhaseID, strings.Join(parts, "; "))
}

// Repairer drives the validate/rewrite/backfill loop for one artifact
type Repairer struct {
	agent  AgentFunc
	logger *slog.Logger
}

func NewRepairer(agent AgentFunc, logger *slog.Logger) *Repairer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repairer{agent: agent, logger: logger}
}

// Ensure validates content and, when actionable warnings remain, runs the
// bounded repair loop: full rewrites first, then section backfills. Returns
// the final (possibly repaired) content, or InvalidArtifactError when the
// budget is exhausted with actionable warnings still present.
func (r *Repairer) Ensure(ctx context.Context, phaseID, content string) (string, error) {
	warnings := Validate(phaseID, content)
	if !ShouldRepair(warnings) {
		r.logCosmetic(phaseID, warnings)
		return content, nil
	}

	for attempt := 1; attempt <= maxRewriteAttempts; attempt++ {
		r.logger.Warn("artifact failed validation, requesting rewrite",
			"phase", phaseID, "attempt", attempt, "warnings", len(warnings))
		res, err := r.agent(ctx, rewritePrompt(phaseID, content, warnings),
			fmt.Sprintf("%s artifact rewrite %d", phaseID, attempt))
		if err != nil {
			return "", err
		}
		content = res.Output
		warnings = Validate(phaseID, content)
		if !ShouldRepair(warnings) {
			r.logCosmetic(phaseID, warnings)
			return content, nil
		}
	}

	for attempt := 1; attempt <= maxBackfillAttempts; attempt++ {
		missing := MissingSections(phaseID, content)
		if len(missing) == 0 {
			break
		}
		r.logger.Warn("rewrites exhausted, backfilling sections",
			"phase", phaseID, "attempt", attempt, "missing", missing)
		res, err := r.agent(ctx, backfillPrompt(phaseID, missing),
			fmt.Sprintf("%s artifact backfill %d", phaseID, attempt))
		if err != nil {
			return "", err
		}
		content = appendSections(content, res.Output, phaseID)
		warnings = Validate(phaseID, content)
		if !ShouldRepair(warnings) {
			r.logCosmetic(phaseID, warnings)
			return content, nil
		}
	}

	return "", &InvalidArtifactError{PhaseID: phaseID, Warnings: actionableOnly(warnings)}
}

func (r *Repairer) logCosmetic(phaseID string, warnings []Warning) {
	for _, w := range warnings {
		r.logger.Debug("cosmetic artifact warning", "phase", phaseID, "warning", w.String())
	}
}

func actionableOnly(warnings []Warning) []Warning {
	var out []Warning
	for _, w := range warnings {
		if actionable[w.Code] {
			out = append(out, w)
		}
	}
	return out
}

// appendSections splices backfilled sections in before the envelope marker
// so the envelope stays terminal.
func appendSections(content, addition, phaseID string) string {
	addition = strings.TrimSpace(addition)
	envelope := EnvelopeFor(phaseID)
	if idx := strings.LastIndex(content, envelope); idx >= 0 {
		return content[:idx] + addition + "\n\n" + content[idx:]
	}
	return strings.TrimRight(content, "\n") + "\n\n" + addition + "\n\n" + envelope + "\n"
}

func rewritePrompt(phaseID, content string, warnings []Warning) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The %s document you produced fails its structural checks:\n", phaseID)
	for _, w := range warnings {
		if actionable[w.Code] {
			fmt.Fprintf(&b, "- %s\n", w.String())
		}
	}
	b.WriteString("\nRewrite the document in full, fixing every issue above. Keep all correct content.\n")
	fmt.Fprintf(&b, "End the document with this exact line:\n%s\n", EnvelopeFor(phaseID))
	b.WriteString("\nPrevious version:\n\n")
	b.WriteString(content)
	return b.String()
}

func backfillPrompt(phaseID string, missing []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The %s document is missing these sections:\n", phaseID)
	for _, name := range missing {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	b.WriteString("\nWrite ONLY the missing sections, each starting with a markdown heading matching the name above. Do not repeat existing sections or add commentary.\n")
	return b.String()
}
