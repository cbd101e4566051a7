package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jamesjlundin/appforge/internal/artifact"
	"github.com/jamesjlundin/appforge/internal/domain"
	"github.com/jamesjlundin/appforge/internal/phase"
)

// maxGateAttempts bounds the code-remediation loop behind a failing review
// or ship verdict.
const maxGateAttempts = 3

// GateFailedError means a quality gate's verdict stayed failing after the
// remediation budget was spent
type GateFailedError struct {
	PhaseID  string
	Attempts int
	Reason   string
}

func (e *GateFailedError) Error() string {
	return fmt.Sprintf("%s gate failed after %d remediation attempts: %s", e.PhaseID, e.Attempts, e.Reason)
}

// runReviewGate produces REVIEW.md and enforces its verdict. A failing
// verdict triggers code remediation against the live workspace, not a
// document rewrite: the agent edits the repository, verification guards
// against regressions, and the review is re-issued from scratch.
func (p *Pipeline) runReviewGate(ctx context.Context, run *domain.Run, opts Options) error {
	def, _ := phase.Lookup(phase.PhaseReview)
	return p.runGate(ctx, run, def, artifact.ReviewVerdictLabel, opts, nil)
}

// runShipGate produces SHIP_REPORT.md. Acceptance is stricter than review:
// besides its own verdict, the committed review verdict must still pass and
// a full fresh verification run must be green.
func (p *Pipeline) runShipGate(ctx context.Context, run *domain.Run, opts Options) error {
	def, _ := phase.Lookup(phase.PhaseShip)
	return p.runGate(ctx, run, def, artifact.ShipVerdictLabel, opts, p.shipAcceptance)
}

// acceptanceCheck runs after a passing verdict; returning an error keeps the
// gate failing and feeds the reason into the next remediation attempt.
type acceptanceCheck func(ctx context.Context, run *domain.Run) error

func (p *Pipeline) runGate(ctx context.Context, run *domain.Run, def phase.Definition, label string, opts Options, accept acceptanceCheck) error {
	reason, err := p.issueAndJudge(ctx, run, def, label, opts, accept)
	if err != nil {
		return err
	}
	if reason == "" {
		return nil
	}

	for attempt := 1; attempt <= maxGateAttempts; attempt++ {
		p.logger.Info("gate remediation starting", "run", run.ID,
			"phase", def.ID, "attempt", attempt, "reason", reason)
		blocked, err := p.remediate(ctx, run, def.ID, reason, attempt, opts)
		if err != nil {
			return err
		}
		if blocked {
			// The attempt was rolled back; try again from the same anchor.
			continue
		}
		reason, err = p.issueAndJudge(ctx, run, def, label, opts, accept)
		if err != nil {
			return err
		}
		if reason == "" {
			return nil
		}
	}
	return &GateFailedError{PhaseID: def.ID, Attempts: maxGateAttempts, Reason: reason}
}

// issueAndJudge produces the gate's artifact and evaluates its verdict.
// An empty reason means the gate passed.
func (p *Pipeline) issueAndJudge(ctx context.Context, run *domain.Run, def phase.Definition, label string, opts Options, accept acceptanceCheck) (string, error) {
	if err := p.runArtifactPhase(ctx, run, def, opts); err != nil {
		return "", err
	}
	content, err := os.ReadFile(filepath.Join(run.WorkspacePath, def.Artifact))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", def.Artifact, err)
	}
	pass, err := artifact.ParseVerdict(string(content), label)
	if err != nil {
		var verr *artifact.VerdictError
		if errors.As(err, &verr) {
			// An unparseable verdict fails the gate rather than the run;
			// remediation re-issues the document.
			return verr.Error(), nil
		}
		return "", err
	}
	if !pass {
		return p.verdictReason(string(content), label), nil
	}
	if accept != nil {
		if err := accept(ctx, run); err != nil {
			return err.Error(), nil
		}
	}
	return "", nil
}

// shipAcceptance re-checks the review verdict and re-runs the full
// verification plan before the ship report is accepted
func (p *Pipeline) shipAcceptance(ctx context.Context, run *domain.Run) error {
	review, err := os.ReadFile(filepath.Join(run.WorkspacePath, "REVIEW.md"))
	if err != nil {
		return fmt.Errorf("reading REVIEW.md: %w", err)
	}
	pass, err := artifact.ParseVerdict(string(review), artifact.ReviewVerdictLabel)
	if err != nil || !pass {
		return fmt.Errorf("review verdict no longer passing")
	}
	for _, stage := range p.verificationStages() {
		stageCtx, cancel := context.WithTimeout(ctx, stage.Timeout)
		result, err := p.runner.Run(stageCtx, run.WorkspacePath, stage.Suite)
		cancel()
		if err != nil {
			return fmt.Errorf("running %s checks: %w", stage.ID, err)
		}
		if !result.Passed {
			names := make([]string, 0, len(result.FailedChecks()))
			for _, c := range result.FailedChecks() {
				names = append(names, c.Name)
			}
			return fmt.Errorf("%s verification failing: %s", stage.ID, strings.Join(names, ", "))
		}
	}
	return nil
}

// remediate lets the agent edit the workspace to address the gate's reason.
// If the edits break verification, the attempt is rolled back to the
// pre-attempt commit and reported blocked.
func (p *Pipeline) remediate(ctx context.Context, run *domain.Run, phaseID, reason string, attempt int, opts Options) (blocked bool, err error) {
	if _, err := p.git.Commit(ctx, run.WorkspacePath, fmt.Sprintf("%s: checkpoint before remediation attempt %d", phaseID, attempt)); err != nil {
		return false, err
	}
	preRev, err := p.git.HeadRevision(ctx, run.WorkspacePath)
	if err != nil {
		return false, err
	}

	prompt := fmt.Sprintf(`The repository in the current directory failed its %s quality gate.

Reason:
%s

Fix the underlying problems in the code. Make the smallest changes that
address the findings. Do not edit %s or other report documents; they will be
regenerated.`, phaseID, reason, strings.ToUpper(phaseID))

	if _, err := p.repairAgent(run, phaseID, opts)(ctx, prompt, fmt.Sprintf("%s remediation %d", phaseID, attempt)); err != nil {
		return false, err
	}

	for _, stage := range p.verificationStages() {
		stageCtx, cancel := context.WithTimeout(ctx, stage.Timeout)
		result, runErr := p.runner.Run(stageCtx, run.WorkspacePath, stage.Suite)
		cancel()
		if runErr != nil {
			return false, runErr
		}
		if !result.Passed {
			p.logger.Warn("remediation regressed verification, rolling back",
				"run", run.ID, "phase", phaseID, "attempt", attempt, "stage", stage.ID)
			if resetErr := p.git.ResetHard(ctx, run.WorkspacePath, preRev); resetErr != nil {
				return false, resetErr
			}
			return true, nil
		}
	}

	if _, err := p.git.Commit(ctx, run.WorkspacePath, fmt.Sprintf("%s: remediation attempt %d", phaseID, attempt)); err != nil {
		return false, err
	}
	return false, nil
}

// verdictReason extracts the verdict line's free-text remainder for the
// remediation prompt, falling back to the whole findings document when the
// line carries no reason.
func (p *Pipeline) verdictReason(content, label string) string {
	lower := strings.ToLower(label)
	for _, line := range strings.Split(content, "\n") {
		if strings.Contains(strings.ToLower(line), lower) {
			if _, after, ok := strings.Cut(line, ":"); ok && strings.TrimSpace(after) != "" {
				return strings.TrimSpace(after)
			}
		}
	}
	if len(content) > 4000 {
		content = content[:4000]
	}
	return content
}
