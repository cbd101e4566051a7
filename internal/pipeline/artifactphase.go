package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jamesjlundin/appforge/internal/agent"
	"github.com/jamesjlundin/appforge/internal/artifact"
	"github.com/jamesjlundin/appforge/internal/domain"
	"github.com/jamesjlundin/appforge/internal/phase"
	"github.com/jamesjlundin/appforge/internal/queue"
)

// promptData carries everything a phase prompt template may reference
type promptData struct {
	Idea     string
	Spec     string
	Design   string
	Envelope string
	Task     *domain.Task
}

// runArtifactPhase is the generic document-producing path used by the spec,
// design, and plan phases: render the prompt, invoke the agent, put the
// output through structural repair, and land the artifact on disk.
func (p *Pipeline) runArtifactPhase(ctx context.Context, run *domain.Run, def phase.Definition, opts Options) error {
	dir, err := p.runDir(run)
	if err != nil {
		return err
	}

	data := promptData{Idea: run.Idea, Envelope: artifact.EnvelopeFor(def.ID)}
	switch def.ID {
	case phase.PhaseDesign:
		spec, err := os.ReadFile(filepath.Join(dir, "SPEC.md"))
		if err != nil {
			return fmt.Errorf("reading specification artifact: %w", err)
		}
		data.Spec = string(spec)
	case phase.PhasePlan:
		design, err := os.ReadFile(filepath.Join(dir, "DESIGN.md"))
		if err != nil {
			return fmt.Errorf("reading design artifact: %w", err)
		}
		data.Design = string(design)
	}

	prompt, err := p.prompts.Phase(def.ID, data)
	if err != nil {
		return err
	}

	workDir := dir
	if def.NeedsWorkspace {
		workDir = run.WorkspacePath
		if err := p.seedWorkspaceArtifacts(ctx, run, dir); err != nil {
			return err
		}
	}

	res, err := p.invokeAgent(ctx, run, def.ID, "produce "+def.Artifact, prompt, agent.Options{
		WorkDir:         workDir,
		Permission:      domain.PermissionReadOnly,
		Timeout:         p.cfg.Agent.InvokeTimeout(),
		EnableWebSearch: p.cfg.Agent.EnableWeb,
		Purpose:         def.ID,
	}, opts)
	if err != nil {
		return err
	}

	content, err := p.ensureArtifact(ctx, run, def.ID, res.Output, opts)
	if err != nil {
		return err
	}

	target := filepath.Join(workDir, def.Artifact)
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", def.Artifact, err)
	}

	if def.NeedsWorkspace {
		if _, err := p.git.Commit(ctx, run.WorkspacePath, fmt.Sprintf("%s: add %s", def.ID, def.Artifact)); err != nil {
			return err
		}
	}

	if def.ID == phase.PhasePlan {
		return p.buildQueue(run, content)
	}
	return nil
}

// seedWorkspaceArtifacts copies the pre-workspace artifacts into the cloned
// repository so later phases and the agent can read them in place.
func (p *Pipeline) seedWorkspaceArtifacts(ctx context.Context, run *domain.Run, dir string) error {
	copied := false
	for _, name := range []string{"SPEC.md", "DESIGN.md"} {
		dst := filepath.Join(run.WorkspacePath, name)
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return fmt.Errorf("seeding %s into workspace: %w", name, err)
		}
		copied = true
	}
	if copied {
		if _, err := p.git.Commit(ctx, run.WorkspacePath, "docs: add specification and design"); err != nil {
			return err
		}
	}
	return nil
}

// ensureArtifact runs structural validation and repair with an agent closure
// bound to the run's budget and invocation ledger
func (p *Pipeline) ensureArtifact(ctx context.Context, run *domain.Run, phaseID, content string, opts Options) (string, error) {
	repairer := artifact.NewRepairer(func(ctx context.Context, prompt, purpose string) (*domain.AgentResult, error) {
		return p.invokeAgent(ctx, run, phaseID, purpose, prompt, agent.Options{
			Permission: domain.PermissionReadOnly,
			Timeout:    p.cfg.Agent.InvokeTimeout(),
			Purpose:    purpose,
		}, opts)
	}, p.logger)
	return repairer.Ensure(ctx, phaseID, content)
}

// buildQueue parses the plan into the task queue and records how many tasks
// the size heuristics split
func (p *Pipeline) buildQueue(run *domain.Run, planText string) error {
	mgr := queue.NewManager(run.ID, p.store, p.logger)
	decomposed, err := mgr.BuildFromPlan(planText)
	if err != nil {
		return err
	}
	run.DecompositionCount = decomposed
	p.logger.Info("task queue built", "run", run.ID,
		"tasks", mgr.Len(), "decomposed", decomposed)
	return p.store.SaveRun(run)
}
