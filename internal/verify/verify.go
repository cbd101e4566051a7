// Package verify runs the staged verification and repair loop against the
// generated workspace: execute a stage's checks, and on failure drive
// bounded agent repair attempts with failure-delta feedback, an adaptive
// attempt ceiling, and commit-level rollback when a repair regresses the
// baseline.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jamesjlundin/appforge/internal/domain"
	"github.com/jamesjlundin/appforge/internal/gitops"
	"github.com/jamesjlundin/appforge/internal/testrunner"
)

// Repair attempt budget. The ceiling starts at the default and is extended
// by one each time the budget runs out while the distinct-failure count is
// still strictly decreasing, a convergence heuristic, never past the hard
// ceiling. Equal counts do not extend.
const (
	defaultRepairAttempts = 3
	hardRepairCeiling     = 5
)

// AgentFunc issues one repair invocation. The pipeline wires this with
// budget enforcement, retry, and cost recording.
type AgentFunc func(ctx context.Context, prompt, purpose string) (*domain.AgentResult, error)

// RunSaver persists the run record after every stage transition
type RunSaver interface {
	SaveRun(run *domain.Run) error
}

// Reporter receives a human-readable record of each stage outcome
type Reporter interface {
	StageReport(runID, stageID string, attempts []AttemptRecord, passed bool) error
}

// AttemptRecord describes one repair attempt for reporting
type AttemptRecord struct {
	Number    int
	Failures  []domain.FailureSignature
	Resolved  []domain.FailureSignature
	NewBroken []domain.FailureSignature
	Blocked   bool
}

// StageFailedError means a stage could not be repaired within its attempt
// budget, or a repair regressed the baseline and remediation was stopped.
type StageFailedError struct {
	StageID  string
	Attempts int
	Blocked  bool
	Failures []domain.FailureSignature
}

func (e *StageFailedError) Error() string {
	if e.Blocked {
		return fmt.Sprintf("verification stage %s: repair attempt %d regressed the baseline and was rolled back",
			e.StageID, e.Attempts)
	}
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Key())
	}
	return fmt.Sprintf("verification stage %s failed after %d repair attempts: %s",
		e.StageID, e.Attempts, strings.Join(names, "; "))
}

// Engine drives the verification stages for one run
type Engine struct {
	runner   testrunner.Runner
	git      gitops.Client
	agent    AgentFunc
	saver    RunSaver
	reporter Reporter
	logger   *slog.Logger
}

func NewEngine(runner testrunner.Runner, git gitops.Client, agent AgentFunc, saver RunSaver, reporter Reporter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{runner: runner, git: git, agent: agent, saver: saver, reporter: reporter, logger: logger}
}

// Run executes the stages in order. Stages already recorded as complete are
// skipped; each newly passing stage is checkpointed into the run before the
// next stage starts, so a crash resumes at the first unfinished stage.
func (e *Engine) Run(ctx context.Context, run *domain.Run, stages []domain.VerificationStage) error {
	for _, stage := range stages {
		if run.StageComplete(stage.ID) {
			e.logger.Info("verification stage already complete, skipping",
				"run", run.ID, "stage", stage.ID)
			continue
		}
		if err := e.runStage(ctx, run, stage); err != nil {
			return err
		}
		run.MarkStageComplete(stage.ID)
		if err := e.saver.SaveRun(run); err != nil {
			return fmt.Errorf("checkpointing stage %s: %w", stage.ID, err)
		}
	}
	return nil
}

func (e *Engine) runStage(ctx context.Context, run *domain.Run, stage domain.VerificationStage) error {
	result, err := e.runChecks(ctx, run.WorkspacePath, stage)
	if err != nil {
		return err
	}
	if result.Passed {
		e.logger.Info("verification stage passed", "run", run.ID, "stage", stage.ID)
		e.report(run.ID, stage.ID, nil, true)
		return nil
	}

	baseline := ParseFailures(result)
	e.logger.Warn("verification stage failed, starting repair",
		"run", run.ID, "stage", stage.ID, "failures", len(baseline))

	var attempts []AttemptRecord
	current := baseline
	prevCount := len(baseline)
	ceiling := defaultRepairAttempts

	for attempt := 1; attempt <= ceiling; attempt++ {
		// anchor a rollback point covering any uncommitted work
		if _, err := e.git.Commit(ctx, run.WorkspacePath,
			fmt.Sprintf("checkpoint before %s repair attempt %d", stage.ID, attempt)); err != nil {
			return fmt.Errorf("anchoring repair attempt %d: %w", attempt, err)
		}
		preRev, err := e.git.HeadRevision(ctx, run.WorkspacePath)
		if err != nil {
			return fmt.Errorf("reading rollback revision: %w", err)
		}

		prompt := repairPrompt(stage, current, attempts)
		if _, err := e.agent(ctx, prompt, fmt.Sprintf("repair %s attempt %d", stage.ID, attempt)); err != nil {
			return fmt.Errorf("repair attempt %d for stage %s: %w", attempt, stage.ID, err)
		}

		result, err = e.runChecks(ctx, run.WorkspacePath, stage)
		if err != nil {
			return err
		}
		after := ParseFailures(result)
		resolved, introduced := Delta(current, after)

		if ContainsNew(baseline, after) {
			// the repair broke something that worked before any remediation
			if err := e.git.ResetHard(ctx, run.WorkspacePath, preRev); err != nil {
				return fmt.Errorf("rolling back blocked repair attempt %d: %w", attempt, err)
			}
			attempts = append(attempts, AttemptRecord{
				Number: attempt, Failures: after, Resolved: resolved,
				NewBroken: introduced, Blocked: true,
			})
			e.logger.Error("repair attempt regressed the baseline, rolled back",
				"run", run.ID, "stage", stage.ID, "attempt", attempt,
				"new_failures", len(introduced), "rolled_back_to", preRev)
			e.report(run.ID, stage.ID, attempts, false)
			return &StageFailedError{StageID: stage.ID, Attempts: attempt, Blocked: true, Failures: after}
		}

		attempts = append(attempts, AttemptRecord{
			Number: attempt, Failures: after, Resolved: resolved, NewBroken: introduced,
		})

		if result.Passed {
			if _, err := e.git.Commit(ctx, run.WorkspacePath,
				fmt.Sprintf("repair %s: stage passing after attempt %d", stage.ID, attempt)); err != nil {
				return fmt.Errorf("committing successful repair: %w", err)
			}
			e.logger.Info("verification stage repaired",
				"run", run.ID, "stage", stage.ID, "attempts", attempt)
			e.report(run.ID, stage.ID, attempts, true)
			return nil
		}

		// keep partial progress committed so the next attempt's rollback
		// point includes it
		if _, err := e.git.Commit(ctx, run.WorkspacePath,
			fmt.Sprintf("repair %s: partial progress after attempt %d", stage.ID, attempt)); err != nil {
			return fmt.Errorf("committing partial repair: %w", err)
		}

		count := len(after)
		if attempt == ceiling && count < prevCount && ceiling < hardRepairCeiling {
			ceiling++
			e.logger.Info("failure count decreasing, extending repair budget",
				"run", run.ID, "stage", stage.ID,
				"failures", count, "previous", prevCount, "new_cap", ceiling)
		}
		prevCount = count
		current = after
	}

	e.report(run.ID, stage.ID, attempts, false)
	return &StageFailedError{StageID: stage.ID, Attempts: ceiling, Failures: current}
}

func (e *Engine) runChecks(ctx context.Context, workspace string, stage domain.VerificationStage) (*domain.WorkspaceTestResult, error) {
	checkCtx := ctx
	if stage.Timeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, stage.Timeout)
		defer cancel()
	}
	result, err := e.runner.Run(checkCtx, workspace, stage.Suite)
	if err != nil {
		return nil, fmt.Errorf("running %s checks: %w", stage.ID, err)
	}
	return result, nil
}

func (e *Engine) report(runID, stageID string, attempts []AttemptRecord, passed bool) {
	if e.reporter == nil {
		return
	}
	if err := e.reporter.StageReport(runID, stageID, attempts, passed); err != nil {
		e.logger.Warn("writing stage report failed", "stage", stageID, "error", err)
	}
}

// repairPrompt builds the instruction for one repair attempt, feeding the
// failure delta from the previous attempt back to the agent.
func repairPrompt(stage domain.VerificationStage, failures []domain.FailureSignature, history []AttemptRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The %s verification stage is failing. Fix the following failures without breaking passing tests.\n\n", stage.Name)
	b.WriteString("Current failures:\n")
	for _, f := range failures {
		fmt.Fprintf(&b, "- %s: %s\n", f.File, f.Title)
	}
	if len(history) > 0 {
		last := history[len(history)-1]
		if len(last.Resolved) > 0 {
			b.WriteString("\nResolved by the previous attempt (do not touch these areas again):\n")
			for _, f := range last.Resolved {
				fmt.Fprintf(&b, "- %s: %s\n", f.File, f.Title)
			}
		}
		if len(last.NewBroken) > 0 {
			b.WriteString("\nIntroduced by the previous attempt (your fix caused these):\n")
			for _, f := range last.NewBroken {
				fmt.Fprintf(&b, "- %s: %s\n", f.File, f.Title)
			}
		}
	}
	b.WriteString("\nRun the failing checks yourself before finishing and make sure they pass.\n")
	return b.String()
}
