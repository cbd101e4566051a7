package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jamesjlundin/appforge/internal/agent"
	"github.com/jamesjlundin/appforge/internal/domain"
	"github.com/jamesjlundin/appforge/internal/phase"
	"github.com/jamesjlundin/appforge/internal/queue"
)

// runImplement drains the task queue. Every committed task advances the
// resume index and persists the run, so a crash mid-phase loses at most the
// task in flight.
func (p *Pipeline) runImplement(ctx context.Context, run *domain.Run, opts Options) error {
	mgr := queue.NewManager(run.ID, p.store, p.logger)
	if err := mgr.Load(run.LastCompletedTask); err != nil {
		return err
	}
	if mgr.Len() == 0 {
		if err := p.rebuildQueueFromPlan(run, mgr); err != nil {
			return err
		}
	}

	for run.LastCompletedTask < mgr.Len() {
		task := mgr.Tasks()[run.LastCompletedTask]
		if err := p.runTask(ctx, run, mgr, task, opts); err != nil {
			return err
		}
		run.LastCompletedTask++
		if err := p.store.SaveRun(run); err != nil {
			return err
		}
	}
	p.logger.Info("task queue drained", "run", run.ID,
		"tasks", mgr.Len(), "dynamic", run.DynamicTaskCount)
	return nil
}

// rebuildQueueFromPlan recovers a missing queue from the committed PLAN.md.
// It happens when the plan phase completed but the process died before the
// first task, or when the queue rows were lost.
func (p *Pipeline) rebuildQueueFromPlan(run *domain.Run, mgr *queue.Manager) error {
	planPath := filepath.Join(run.WorkspacePath, "PLAN.md")
	plan, err := os.ReadFile(planPath)
	if err != nil {
		return &domain.ConsistencyError{
			Op:     "implement",
			Detail: fmt.Sprintf("task queue empty and %s unreadable: %v", planPath, err),
		}
	}
	decomposed, err := mgr.BuildFromPlan(string(plan))
	if err != nil {
		return err
	}
	run.DecompositionCount = decomposed
	return nil
}

func (p *Pipeline) runTask(ctx context.Context, run *domain.Run, mgr *queue.Manager, task *domain.Task, opts Options) error {
	dirty, err := p.git.HasUncommittedChanges(ctx, run.WorkspacePath)
	if err != nil {
		return err
	}
	if dirty {
		return &domain.ConsistencyError{
			Op:     "implement",
			Detail: fmt.Sprintf("workspace has uncommitted changes before task %s", task.ID),
		}
	}

	prompt, err := p.prompts.Phase("task", promptData{Task: task})
	if err != nil {
		return err
	}

	p.logger.Info("task starting", "run", run.ID, "task", task.ID,
		"title", task.Title, "provenance", task.Provenance)
	res, err := p.invokeAgent(ctx, run, phase.PhaseImplement, "task "+task.ID, prompt, agent.Options{
		WorkDir:         run.WorkspacePath,
		Permission:      domain.PermissionReadWrite,
		Timeout:         p.cfg.Agent.InvokeTimeout(),
		EnableWebSearch: p.cfg.Agent.EnableWeb,
		Purpose:         "task " + task.ID,
	}, opts)
	if err != nil {
		return err
	}

	changed, err := p.git.HasUncommittedChanges(ctx, run.WorkspacePath)
	if err != nil {
		return err
	}
	if !changed {
		// A task that edits nothing means the agent misunderstood the
		// instructions or the plan is stale. Committing nothing and moving
		// on would silently drop the task, so stop the run instead.
		return &domain.NoChangesError{TaskID: task.ID}
	}

	diff, err := p.git.DiffSummary(ctx, run.WorkspacePath)
	if err != nil {
		return err
	}
	committed, err := p.git.Commit(ctx, run.WorkspacePath, fmt.Sprintf("%s: %s", task.ID, task.Title))
	if err != nil {
		return err
	}

	if err := p.reports.TaskReport(run.ID, task, res, diff, committed); err != nil {
		p.logger.Warn("task report failed", "run", run.ID, "task", task.ID, "error", err)
	}

	followUps := queue.ParseFollowUps(res.Output)
	if len(followUps) > 0 {
		inserted, err := mgr.InsertDynamicFollowUps(task.ID, followUps)
		if err != nil {
			return err
		}
		run.DynamicTaskCount += inserted
		p.logger.Info("follow-up tasks inserted", "run", run.ID,
			"trigger", task.ID, "count", inserted)
	}
	return nil
}
