package pipeline

import (
	"context"

	"github.com/jamesjlundin/appforge/internal/agent"
	"github.com/jamesjlundin/appforge/internal/domain"
	"github.com/jamesjlundin/appforge/internal/phase"
	"github.com/jamesjlundin/appforge/internal/verify"
)

// verificationStages returns the staged check plan: integration first, then
// end to end. Completed stages recorded on the run are skipped on resume.
func (p *Pipeline) verificationStages() []domain.VerificationStage {
	return []domain.VerificationStage{
		{ID: "integration", Suite: "integration", Timeout: p.cfg.Verification.IntegrationTimeout()},
		{ID: "e2e", Suite: "e2e", Timeout: p.cfg.Verification.E2ETimeout()},
	}
}

func (p *Pipeline) runVerify(ctx context.Context, run *domain.Run, opts Options) error {
	engine := verify.NewEngine(p.runner, p.git, p.repairAgent(run, phase.PhaseVerify, opts), p.store, p.reports, p.logger)
	return engine.Run(ctx, run, p.verificationStages())
}

// repairAgent binds a code-editing agent closure to the run's workspace,
// budget, and invocation ledger for the repair loops.
func (p *Pipeline) repairAgent(run *domain.Run, phaseID string, opts Options) verify.AgentFunc {
	return func(ctx context.Context, prompt, purpose string) (*domain.AgentResult, error) {
		return p.invokeAgent(ctx, run, phaseID, purpose, prompt, agent.Options{
			WorkDir:         run.WorkspacePath,
			Permission:      domain.PermissionReadWrite,
			Timeout:         p.cfg.Agent.InvokeTimeout(),
			EnableWebSearch: p.cfg.Agent.EnableWeb,
			Purpose:         purpose,
		}, opts)
	}
}
