// Package pipeline is the run engine: it walks the fixed phase list,
// enforces prerequisites and approval gates, dispatches each phase to its
// execution path, and persists the run after every unit of work.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jamesjlundin/appforge/internal/agent"
	"github.com/jamesjlundin/appforge/internal/bootstrap"
	"github.com/jamesjlundin/appforge/internal/budget"
	"github.com/jamesjlundin/appforge/internal/config"
	"github.com/jamesjlundin/appforge/internal/domain"
	"github.com/jamesjlundin/appforge/internal/gitops"
	"github.com/jamesjlundin/appforge/internal/notify"
	"github.com/jamesjlundin/appforge/internal/phase"
	"github.com/jamesjlundin/appforge/internal/prompts"
	"github.com/jamesjlundin/appforge/internal/report"
	"github.com/jamesjlundin/appforge/internal/statestore"
	"github.com/jamesjlundin/appforge/internal/testrunner"
)

// ErrDryRun is returned when a dry run reaches the point where the agent
// would be invoked. The run's state up to that point is persisted.
var ErrDryRun = errors.New("dry run: stopping before agent invocation")

// ErrPaused is returned when an interactive approval gate declines a phase.
// The run is persisted as paused and can be resumed later.
var ErrPaused = errors.New("run paused at approval gate")

// Store is the persistence surface the pipeline needs
type Store interface {
	SaveRun(run *domain.Run) error
	GetRun(id string) (*domain.Run, error)
	ReplaceQueue(runID string, tasks []*domain.Task) error
	LoadQueue(runID string) ([]*domain.Task, error)
	RecordInvocation(rec *statestore.InvocationRecord) error
}

// Invoker runs one agent invocation
type Invoker interface {
	Invoke(ctx context.Context, prompt string, opts agent.Options) (*domain.AgentResult, error)
}

// Approver answers an interactive approval gate. Returning false pauses the
// run rather than failing it.
type Approver func(phaseID, description string) (bool, error)

// Options control one pipeline execution
type Options struct {
	Interactive   bool
	DryRun        bool
	ForceReadOnly bool // downgrade every invocation to read-only
	PhaseOverride string
	BudgetUSD     float64 // zero falls back to the configured limit
	Approve       Approver
}

// Pipeline wires the run engine's collaborators together
type Pipeline struct {
	cfg       *config.Config
	store     Store
	invoker   Invoker
	git       gitops.Client
	tracker   *budget.Tracker
	runner    testrunner.Runner
	boot      bootstrap.Bootstrapper
	prompts   *prompts.Loader
	reports   *report.Writer
	notifier  notify.Notifier
	logger    *slog.Logger
	budgetUSD float64
}

func New(cfg *config.Config, store Store, invoker Invoker, git gitops.Client, runner testrunner.Runner, boot bootstrap.Bootstrapper, notifier notify.Notifier, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	rates := budget.Rates{
		InputUSDPerMTok:  cfg.Budget.InputUSDPerMTok,
		OutputUSDPerMTok: cfg.Budget.OutputUSDPerMTok,
	}
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		invoker:   invoker,
		git:       git,
		tracker:   budget.NewTracker(rates, logger),
		runner:    runner,
		boot:      boot,
		prompts:   prompts.DefaultLoader(""),
		reports:   report.NewWriter(cfg.General.DataDir),
		notifier:  notifier,
		logger:    logger,
		budgetUSD: cfg.Budget.LimitUSD,
	}
}

// Start creates and executes a new run for the idea
func (p *Pipeline) Start(ctx context.Context, idea string, opts Options) (*domain.Run, error) {
	run := domain.NewRun(uuid.NewString(), idea, domain.Engine(p.cfg.Agent.Engine))
	if err := p.store.SaveRun(run); err != nil {
		return nil, fmt.Errorf("persisting new run: %w", err)
	}
	p.logger.Info("run created", "run", run.ID, "engine", run.Engine, "idea", idea)
	return run, p.Execute(ctx, run, opts)
}

// Resume loads a persisted run and continues it
func (p *Pipeline) Resume(ctx context.Context, runID string, opts Options) (*domain.Run, error) {
	run, err := p.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Status == domain.RunCompleted {
		return run, fmt.Errorf("run %s is already complete", runID)
	}
	run.Status = domain.RunActive
	p.logger.Info("run resumed", "run", run.ID,
		"completed_phases", run.CompletedPhases, "current_phase", run.CurrentPhase)
	return run, p.Execute(ctx, run, opts)
}

// Execute drives the phase loop until the run completes, pauses, or fails.
// Consistency and permanent errors persist the run's state before
// propagating so the operator can resume after fixing the cause.
func (p *Pipeline) Execute(ctx context.Context, run *domain.Run, opts Options) error {
	if opts.BudgetUSD > 0 {
		p.budgetUSD = opts.BudgetUSD
	}
	override := opts.PhaseOverride

	for {
		def, ok, err := phase.SelectNext(run, override)
		if err != nil {
			return err
		}
		override = "" // an override applies to the first selection only
		if !ok {
			return p.complete(run)
		}

		if err := phase.ValidatePrerequisites(run, def); err != nil {
			return p.fail(run, def.ID, err)
		}

		if opts.Interactive && phase.RequiresApproval(def.ID) {
			approved, err := p.askApproval(opts.Approve, run, def)
			if err != nil {
				return p.fail(run, def.ID, err)
			}
			if !approved {
				return p.pause(run, def.ID)
			}
		}

		run.CurrentPhase = def.ID
		if err := p.store.SaveRun(run); err != nil {
			return err
		}
		p.logger.Info("phase starting", "run", run.ID, "phase", def.ID)

		if err := p.runPhase(ctx, run, def, opts); err != nil {
			if errors.Is(err, ErrDryRun) {
				p.logger.Info("dry run stopped", "run", run.ID, "phase", def.ID)
				return p.store.SaveRun(run)
			}
			return p.fail(run, def.ID, err)
		}

		run.MarkPhaseComplete(def.ID)
		if err := p.store.SaveRun(run); err != nil {
			return err
		}
		p.logger.Info("phase complete", "run", run.ID, "phase", def.ID,
			"effective_cost_usd", run.EffectiveCostUSD)
	}
}

func (p *Pipeline) runPhase(ctx context.Context, run *domain.Run, def phase.Definition, opts Options) error {
	switch def.ID {
	case phase.PhaseBootstrap:
		return p.runBootstrap(ctx, run, opts)
	case phase.PhaseImplement:
		return p.runImplement(ctx, run, opts)
	case phase.PhaseVerify:
		return p.runVerify(ctx, run, opts)
	case phase.PhaseReview:
		return p.runReviewGate(ctx, run, opts)
	case phase.PhaseShip:
		return p.runShipGate(ctx, run, opts)
	default:
		return p.runArtifactPhase(ctx, run, def, opts)
	}
}

func (p *Pipeline) complete(run *domain.Run) error {
	run.Status = domain.RunCompleted
	if err := p.store.SaveRun(run); err != nil {
		return err
	}
	p.logger.Info("run complete", "run", run.ID,
		"repo", run.RepositoryURL, "effective_cost_usd", run.EffectiveCostUSD)
	p.notify(notify.Notification{
		Event:   notify.EventRunCompleted,
		Title:   "appforge run complete",
		Message: run.Idea,
		RunID:   run.ID,
		RepoURL: run.RepositoryURL,
	})
	return nil
}

func (p *Pipeline) pause(run *domain.Run, phaseID string) error {
	run.Status = domain.RunPaused
	run.CurrentPhase = phaseID
	if err := p.store.SaveRun(run); err != nil {
		return err
	}
	p.logger.Info("run paused before phase", "run", run.ID, "phase", phaseID)
	p.notify(notify.Notification{
		Event:   notify.EventRunPaused,
		Title:   "appforge run paused",
		Message: fmt.Sprintf("approval declined before phase %s; resume with: appforge resume %s", phaseID, run.ID),
		RunID:   run.ID,
		Phase:   phaseID,
	})
	return ErrPaused
}

// fail persists the run as failed and wraps the error with phase context
func (p *Pipeline) fail(run *domain.Run, phaseID string, cause error) error {
	run.Status = domain.RunFailed
	run.CurrentPhase = phaseID
	if saveErr := p.store.SaveRun(run); saveErr != nil {
		p.logger.Error("persisting failed run state", "run", run.ID, "error", saveErr)
	}
	p.notify(notify.Notification{
		Event:   notify.EventRunFailed,
		Title:   "appforge run failed",
		Message: cause.Error(),
		RunID:   run.ID,
		Phase:   phaseID,
	})
	return fmt.Errorf("phase %s: %w", phaseID, cause)
}

func (p *Pipeline) askApproval(approve Approver, run *domain.Run, def phase.Definition) (bool, error) {
	if approve == nil {
		return false, fmt.Errorf("interactive mode requires an approver")
	}
	desc := fmt.Sprintf("run %s: phase %q (%s)", run.ID, def.ID, def.Name)
	if def.ID == phase.PhaseBootstrap {
		desc += " will create a remote repository"
	}
	return approve(def.ID, desc)
}

func (p *Pipeline) notify(n notify.Notification) {
	if err := p.notifier.Send(n); err != nil {
		p.logger.Warn("notification delivery failed", "error", err)
	}
}

// invokeAgent is the single choke point for agent calls: budget is checked
// before every call, never after; the result is folded into the run's cost
// buckets and the invocation ledger, and the run is persisted.
func (p *Pipeline) invokeAgent(ctx context.Context, run *domain.Run, phaseID, purpose, prompt string, aopts agent.Options, opts Options) (*domain.AgentResult, error) {
	if err := p.tracker.CheckBudget(run, p.budgetUSD); err != nil {
		return nil, err
	}
	if opts.ForceReadOnly {
		aopts.Permission = domain.PermissionReadOnly
	}
	if opts.DryRun {
		p.logger.Info("dry run: assembled prompt",
			"run", run.ID, "phase", phaseID, "purpose", purpose, "prompt_bytes", len(prompt))
		return nil, ErrDryRun
	}

	started := time.Now().UTC()
	res, err := agent.InvokeWithRetry(ctx, p.logger, func(ctx context.Context) (*domain.AgentResult, error) {
		return p.invoker.Invoke(ctx, prompt, aopts)
	})
	if err != nil {
		return nil, err
	}

	p.tracker.Record(run, phaseID, res)
	if err := p.store.SaveRun(run); err != nil {
		return nil, fmt.Errorf("persisting run after invocation: %w", err)
	}
	finished := time.Now().UTC()
	if err := p.store.RecordInvocation(&statestore.InvocationRecord{
		ID:             uuid.NewString(),
		RunID:          run.ID,
		Phase:          phaseID,
		Purpose:        purpose,
		CostUSD:        res.CostUSD,
		TokensInput:    res.TokensInput,
		TokensOutput:   res.TokensOutput,
		NumTurns:       res.NumTurns,
		StopReason:     string(res.StopReason),
		DecoderVariant: res.DecoderVariant,
		OutputSource:   res.OutputSource,
		StartedAt:      started,
		FinishedAt:     &finished,
	}); err != nil {
		p.logger.Warn("recording invocation failed", "run", run.ID, "error", err)
	}
	return res, nil
}

// runDir is the run's directory under the data dir, holding pre-workspace
// artifacts, reports, and logs.
func (p *Pipeline) runDir(run *domain.Run) (string, error) {
	dir := filepath.Join(p.cfg.General.DataDir, "runs", run.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	return dir, nil
}

func (p *Pipeline) runBootstrap(ctx context.Context, run *domain.Run, opts Options) error {
	if opts.DryRun {
		return ErrDryRun
	}
	repoName := bootstrap.RepoName(run.Idea, run.ID)
	res, err := p.boot.Bootstrap(ctx, run.ID, repoName)
	if err != nil {
		return err
	}
	run.WorkspacePath = res.WorkspacePath
	run.RepositoryURL = res.RepositoryURL
	return p.store.SaveRun(run)
}
